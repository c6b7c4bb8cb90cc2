// Package analytics aggregates the decision log for operator reporting.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enterprise/withdraw-review/internal/models"
	"github.com/enterprise/withdraw-review/internal/queue"
	"github.com/enterprise/withdraw-review/internal/repositories"
)

// DecisionSummary is the aggregate view of one day of decision activity.
type DecisionSummary struct {
	Date            string           `json:"date"`
	TotalDecisions  int64            `json:"total_decisions"`
	ByDecision      map[string]int64 `json:"by_decision"`
	BySource        map[string]int64 `json:"by_source"`
	ByThreat        map[string]int64 `json:"by_threat"`
	AIOverridePass  int64            `json:"ai_override_pass"`
	AIConfirmedHold int64            `json:"ai_confirmed_hold"`
	AIEscalated     int64            `json:"ai_escalated_reject"`
	AvgProcessingMs float64          `json:"avg_processing_ms"`
}

// AnalyticsService provides reporting over the decision log
type AnalyticsService struct {
	db          *repositories.Database
	cacheClient *queue.CacheClient
}

// NewAnalyticsService creates a new analytics service. cacheClient may be nil.
func NewAnalyticsService(db *repositories.Database, cacheClient *queue.CacheClient) *AnalyticsService {
	return &AnalyticsService{
		db:          db,
		cacheClient: cacheClient,
	}
}

// GetDecisionSummary returns the decision summary for a specific date.
func (s *AnalyticsService) GetDecisionSummary(ctx context.Context, date time.Time) (*DecisionSummary, error) {
	cacheKey := fmt.Sprintf("decision_summary:%s", date.Format("2006-01-02"))
	var cached DecisionSummary
	if s.cacheClient != nil {
		if err := s.cacheClient.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	summary := &DecisionSummary{
		Date:       date.Format("2006-01-02"),
		ByDecision: make(map[string]int64),
		BySource:   make(map[string]int64),
		ByThreat:   make(map[string]int64),
	}

	query := `
		SELECT decision, decision_source, primary_threat,
			   COUNT(*), COALESCE(AVG(processing_time_ms), 0)
		FROM rt.risk_withdraw_decision
		WHERE decision_timestamp >= $1 AND decision_timestamp < $2
		GROUP BY decision, decision_source, primary_threat
	`

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := s.db.Pool.Query(ctx, query, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to query decision summary: %w", err)
	}
	defer rows.Close()

	var totalProcessing float64
	var groups int64
	for rows.Next() {
		var decision, source, threat string
		var count int64
		var avgMs float64
		if err := rows.Scan(&decision, &source, &threat, &count, &avgMs); err != nil {
			return nil, err
		}

		summary.TotalDecisions += count
		summary.ByDecision[decision] += count
		summary.BySource[source] += count
		summary.ByThreat[threat] += count
		totalProcessing += avgMs * float64(count)
		groups += count

		if source == models.SourceAIReview {
			switch decision {
			case models.DecisionPass:
				summary.AIOverridePass += count
			case models.DecisionHold:
				summary.AIConfirmedHold += count
			case models.DecisionReject:
				summary.AIEscalated += count
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if groups > 0 {
		summary.AvgProcessingMs = totalProcessing / float64(groups)
	}

	if s.cacheClient != nil {
		// Historical days are immutable; today keeps changing.
		cacheDuration := 5 * time.Minute
		if time.Since(dayStart) > 24*time.Hour {
			cacheDuration = 1 * time.Hour
		}
		if err := s.cacheClient.Set(ctx, cacheKey, summary, cacheDuration); err != nil {
			log.Warn().Err(err).Msg("Failed to cache decision summary")
		}
	}

	return summary, nil
}

// TopTriggeredRule is one row of the rule-frequency report.
type TopTriggeredRule struct {
	RuleNarrative string `json:"rule_narrative"`
	HoldCount     int64  `json:"hold_count"`
}

// GetTopHoldNarratives returns the most frequent Phase-1 HOLD narratives
// over the trailing window. Narratives embed the rule id, so this is the
// per-rule HOLD frequency report.
func (s *AnalyticsService) GetTopHoldNarratives(ctx context.Context, days, limit int) ([]TopTriggeredRule, error) {
	query := `
		SELECT narrative, COUNT(*) AS hold_count
		FROM rt.risk_withdraw_decision
		WHERE decision_source = $1
		  AND decision = $2
		  AND decision_timestamp >= $3
		GROUP BY narrative
		ORDER BY hold_count DESC
		LIMIT $4
	`

	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := s.db.Pool.Query(ctx, query, models.SourceRuleEngine, models.DecisionHold, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top hold narratives: %w", err)
	}
	defer rows.Close()

	var top []TopTriggeredRule
	for rows.Next() {
		var row TopTriggeredRule
		if err := rows.Scan(&row.RuleNarrative, &row.HoldCount); err != nil {
			return nil, err
		}
		top = append(top, row)
	}

	return top, rows.Err()
}

// AIReviewBacklog is the current depth of the Phase-2 queue.
type AIReviewBacklog struct {
	PendingCount int64      `json:"pending_count"`
	OldestHold   *time.Time `json:"oldest_hold,omitempty"`
}

// GetAIReviewBacklog reports how many HOLD cases still await AI review and
// the age of the oldest one.
func (s *AnalyticsService) GetAIReviewBacklog(ctx context.Context) (*AIReviewBacklog, error) {
	query := `
		SELECT COUNT(*), MIN(first_decision_ts)
		FROM (
			SELECT d.user_code, d.txn_id, MIN(d.decision_timestamp) AS first_decision_ts
			FROM rt.risk_withdraw_decision d
			WHERE d.decision_source = $1
			  AND d.decision = $2
			  AND NOT EXISTS (
				SELECT 1
				FROM rt.risk_withdraw_decision a
				WHERE a.user_code = d.user_code
				  AND a.txn_id = d.txn_id
				  AND a.decision_source = $3
			  )
			GROUP BY d.user_code, d.txn_id
		) sub
	`

	backlog := &AIReviewBacklog{}
	err := s.db.Pool.QueryRow(ctx, query,
		models.SourceRuleEngine, models.DecisionHold, models.SourceAIReview,
	).Scan(&backlog.PendingCount, &backlog.OldestHold)
	if err != nil {
		return nil, fmt.Errorf("failed to query AI review backlog: %w", err)
	}

	return backlog, nil
}
