package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/enterprise/withdraw-review/internal/models"
)

var ErrDecisionNotFound = errors.New("decision not found")

// DecisionRepository owns the append-only risk_withdraw_decision audit table.
// There is no uniqueness constraint on (user_code, txn_id, decision_source):
// overlapping worker runs can insert duplicate AI rows, and readers resolve
// by latest decision_timestamp.
type DecisionRepository struct {
	db *Database
}

// NewDecisionRepository creates a new decision repository
func NewDecisionRepository(db *Database) *DecisionRepository {
	return &DecisionRepository{db: db}
}

// Insert appends one decision record.
func (r *DecisionRepository) Insert(ctx context.Context, record *models.DecisionRecord) error {
	query := `
		INSERT INTO rt.risk_withdraw_decision (
			user_code, txn_id, decision, primary_threat, confidence, narrative,
			features_snapshot, decision_source, llm_reasoning, processing_time_ms,
			decision_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	if record.DecisionTimestamp.IsZero() {
		record.DecisionTimestamp = time.Now().UTC()
	}

	snapshotBytes, _ := record.FeaturesSnapshot.Value()

	_, err := r.db.Pool.Exec(ctx, query,
		record.UserCode,
		record.TxnID,
		record.Decision,
		record.PrimaryThreat,
		record.Confidence,
		record.Narrative,
		snapshotBytes,
		record.DecisionSource,
		record.LLMReasoning,
		record.ProcessingTimeMs,
		record.DecisionTimestamp,
	)

	return err
}

// PendingHoldReviews returns (user_code, txn_id) pairs that have a
// RULE_ENGINE_RULES HOLD decision but no AI_AGENT_REVIEW decision yet,
// earliest HOLD first, capped at limit. The NOT EXISTS filter is the only
// double-processing guard; it is deliberately not transactionally isolated
// against concurrent workers.
func (r *DecisionRepository) PendingHoldReviews(ctx context.Context, limit int) ([]models.PendingCase, error) {
	query := `
		SELECT sub.user_code, sub.txn_id
		FROM (
			SELECT
				d.user_code,
				d.txn_id,
				MIN(d.decision_timestamp) AS first_decision_ts
			FROM rt.risk_withdraw_decision d
			WHERE d.decision_source = 'RULE_ENGINE_RULES'
			  AND d.decision = 'HOLD'
			  AND NOT EXISTS (
				SELECT 1
				FROM rt.risk_withdraw_decision a
				WHERE a.user_code = d.user_code
				  AND a.txn_id = d.txn_id
				  AND a.decision_source = 'AI_AGENT_REVIEW'
			  )
			GROUP BY d.user_code, d.txn_id
		) sub
		ORDER BY sub.first_decision_ts ASC
		LIMIT $1
	`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []models.PendingCase
	for rows.Next() {
		var pc models.PendingCase
		if err := rows.Scan(&pc.UserCode, &pc.TxnID); err != nil {
			return nil, err
		}
		pending = append(pending, pc)
	}

	return pending, rows.Err()
}

// Phase1Narrative returns the narrative of the most recent Phase-1 HOLD row
// for the pair, so the AI still receives rule framing when re-evaluation
// fires no rule.
func (r *DecisionRepository) Phase1Narrative(ctx context.Context, userCode, txnID string) (string, error) {
	query := `
		SELECT narrative
		FROM rt.risk_withdraw_decision
		WHERE user_code = $1 AND txn_id = $2
		  AND decision_source = 'RULE_ENGINE_RULES'
		  AND decision = 'HOLD'
		ORDER BY decision_timestamp DESC
		LIMIT 1
	`

	var narrative string
	err := r.db.Pool.QueryRow(ctx, query, userCode, txnID).Scan(&narrative)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrDecisionNotFound
		}
		return "", err
	}

	return narrative, nil
}

// LatestDecision returns the most recent decision row for the pair,
// regardless of source. Latest-wins is the documented duplicate resolution.
func (r *DecisionRepository) LatestDecision(ctx context.Context, userCode, txnID string) (*models.DecisionRecord, error) {
	query := `
		SELECT user_code, txn_id, decision, primary_threat, confidence, narrative,
			   features_snapshot, decision_source, llm_reasoning, processing_time_ms,
			   decision_timestamp
		FROM rt.risk_withdraw_decision
		WHERE user_code = $1 AND txn_id = $2
		ORDER BY decision_timestamp DESC
		LIMIT 1
	`

	record := &models.DecisionRecord{}
	var snapshotBytes []byte

	err := r.db.Pool.QueryRow(ctx, query, userCode, txnID).Scan(
		&record.UserCode,
		&record.TxnID,
		&record.Decision,
		&record.PrimaryThreat,
		&record.Confidence,
		&record.Narrative,
		&snapshotBytes,
		&record.DecisionSource,
		&record.LLMReasoning,
		&record.ProcessingTimeMs,
		&record.DecisionTimestamp,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDecisionNotFound
		}
		return nil, err
	}

	_ = record.FeaturesSnapshot.Scan(snapshotBytes)
	return record, nil
}

// BehaviorContext aggregates the user's 30-day decision history for the AI
// case payload.
func (r *DecisionRepository) BehaviorContext(ctx context.Context, userCode string) (*models.BehaviorContext, error) {
	query := `
		SELECT
			COUNT(*) AS recent_decisions,
			COUNT(CASE WHEN decision = 'HOLD' THEN 1 END) AS recent_holds,
			COUNT(CASE WHEN decision = 'REJECT' THEN 1 END) AS recent_rejects,
			COALESCE(MAX(decision) FILTER (
				WHERE decision_timestamp = (
					SELECT MAX(decision_timestamp)
					FROM rt.risk_withdraw_decision
					WHERE user_code = $1
				)
			), '') AS last_decision
		FROM rt.risk_withdraw_decision
		WHERE user_code = $1
		  AND decision_timestamp >= NOW() - INTERVAL '30 days'
	`

	bc := &models.BehaviorContext{}
	err := r.db.Pool.QueryRow(ctx, query, userCode).Scan(
		&bc.RecentDecisions30d,
		&bc.RecentHolds30d,
		&bc.RecentRejects30d,
		&bc.LastDecision,
	)
	if err != nil {
		return nil, err
	}

	return bc, nil
}
