// Package review drives Phase-2 of the withdrawal decision pipeline: it
// selects rule-engine HOLD cases that lack an AI review, re-evaluates each
// one, and appends the final decision to the audit log.
package review

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enterprise/withdraw-review/internal/models"
)

// DecisionWriter appends decision records.
type DecisionWriter interface {
	Insert(ctx context.Context, record *models.DecisionRecord) error
}

// DecisionCache is an optional latest-decision cache. Consumers resolving a
// (user_code, txn_id) pair read the cache before falling back to the
// latest-wins query.
type DecisionCache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// Outcome is what gets logged for one transaction, whichever stage decided.
type Outcome struct {
	Decision      string
	PrimaryThreat string
	RiskScore     int
	Confidence    *float64 // nil means derive from RiskScore
	Narrative     string
	LLMReasoning  string
}

// OutcomeFromAI flattens an AIDecision into a loggable outcome. The chain of
// thought is joined into one readable paragraph for the audit text column;
// when absent, the narrative doubles as the reasoning trail.
func OutcomeFromAI(decision models.AIDecision) Outcome {
	confidence := decision.Confidence
	reasoning := strings.Join(decision.ChainOfThought, "\n")
	if reasoning == "" {
		reasoning = decision.Narrative
	}
	return Outcome{
		Decision:      decision.FinalDecision,
		PrimaryThreat: decision.PrimaryThreat,
		RiskScore:     decision.RiskScore,
		Confidence:    &confidence,
		Narrative:     decision.Narrative,
		LLMReasoning:  reasoning,
	}
}

// Logger appends immutable, source-tagged decision records. The record is
// both the audit trail and the "already reviewed" marker that the pending
// query excludes on.
type Logger struct {
	store DecisionWriter
	cache DecisionCache // optional
}

// NewLogger creates a decision logger. cache may be nil.
func NewLogger(store DecisionWriter, cache DecisionCache) *Logger {
	return &Logger{store: store, cache: cache}
}

// Log writes one decision record. A write failure is logged and swallowed:
// losing an audit row must not block the batch, and the case will be picked
// up again on the next cycle.
func (l *Logger) Log(ctx context.Context, userCode, txnID string, outcome Outcome, features models.FeatureSet, source string, processingMs int64) {
	record := &models.DecisionRecord{
		UserCode:          userCode,
		TxnID:             txnID,
		Decision:          defaultString(outcome.Decision, models.DecisionHold),
		PrimaryThreat:     defaultString(outcome.PrimaryThreat, models.ThreatUnknown),
		Confidence:        deriveConfidence(outcome),
		Narrative:         outcome.Narrative,
		FeaturesSnapshot:  features.Snapshot(),
		DecisionSource:    source,
		LLMReasoning:      outcome.LLMReasoning,
		ProcessingTimeMs:  &processingMs,
		DecisionTimestamp: time.Now().UTC(),
	}

	if err := l.store.Insert(ctx, record); err != nil {
		log.Error().
			Err(err).
			Str("user_code", userCode).
			Str("txn_id", txnID).
			Str("source", source).
			Msg("Failed to log decision")
		return
	}

	log.Info().
		Str("user_code", userCode).
		Str("txn_id", txnID).
		Str("source", source).
		Str("decision", record.Decision).
		Msg("Decision logged")

	if l.cache != nil && source == models.SourceAIReview {
		key := "decision:" + userCode + ":" + txnID
		if err := l.cache.Set(ctx, key, record, 24*time.Hour); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to cache decision")
		}
	}
}

// deriveConfidence implements the logging confidence contract: an explicit
// confidence wins; otherwise derive risk_score/100 for a real score; a
// negative sentinel score means no score was computed, which must not read
// as "confident zero risk", so confidence defaults to 1.0 there.
func deriveConfidence(outcome Outcome) float64 {
	if outcome.Confidence != nil {
		return *outcome.Confidence
	}
	if outcome.RiskScore >= 0 {
		return float64(outcome.RiskScore) / 100.0
	}
	return 1.0
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
