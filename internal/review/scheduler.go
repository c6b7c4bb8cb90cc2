package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/withdraw-review/configs"
	"github.com/enterprise/withdraw-review/internal/enrich"
	"github.com/enterprise/withdraw-review/internal/models"
	"github.com/enterprise/withdraw-review/internal/notify"
	"github.com/enterprise/withdraw-review/internal/repositories"
	"github.com/enterprise/withdraw-review/internal/rules"
)

// FeatureStore reads the precomputed feature row for a transaction.
type FeatureStore interface {
	GetRiskFeatures(ctx context.Context, userCode, txnID string) (models.FeatureSet, error)
}

// PendingStore selects unresolved HOLD cases and their Phase-1 context.
type PendingStore interface {
	PendingHoldReviews(ctx context.Context, limit int) ([]models.PendingCase, error)
	Phase1Narrative(ctx context.Context, userCode, txnID string) (string, error)
	BehaviorContext(ctx context.Context, userCode string) (*models.BehaviorContext, error)
}

// RuleSource serves the current compiled rule set.
type RuleSource interface {
	Rules(ctx context.Context) []rules.CompiledRule
}

// Enricher waits for asynchronous enrichment to resolve.
type Enricher interface {
	Refresh(ctx context.Context, features models.FeatureSet) models.FeatureSet
}

// Escalator re-evaluates one HOLD case with the reasoning model.
type Escalator interface {
	Escalate(ctx context.Context, features models.FeatureSet, ruleCtx models.RuleContext, behavior *models.BehaviorContext) models.AIDecision
}

// RunLocker is an optional best-effort guard against overlapping batch
// invocations. Overlap is tolerated either way; the lock only damps it.
type RunLocker interface {
	AcquireLock(ctx context.Context, name string, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name string, owner string) error
}

const runLockKey = "withdraw-review:ai-worker:run"

// BatchResult summarizes one scheduler invocation.
type BatchResult struct {
	RunID     uuid.UUID
	Selected  int
	Processed int
	Skipped   int
	Failed    int
}

// Summary returns the human-readable batch outcome.
func (r BatchResult) Summary() string {
	return fmt.Sprintf("AI worker processed %d of %d pending transactions (%d skipped, %d failed).",
		r.Processed, r.Selected, r.Skipped, r.Failed)
}

// Scheduler drives unresolved HOLD cases through enrichment, rule re-check,
// AI escalation, and decision logging. Transactions are processed strictly
// sequentially within one invocation; any failure is isolated to its
// transaction and the batch keeps moving.
type Scheduler struct {
	features  FeatureStore
	pending   PendingStore
	ruleCache RuleSource
	enricher  Enricher
	escalator Escalator
	logger    *Logger
	notifier  notify.Notifier
	locker    RunLocker // optional
	cfg       configs.WorkerConfig

	// sleep is swappable in tests.
	sleep func(time.Duration)
}

// NewScheduler wires the escalation pipeline. locker may be nil.
func NewScheduler(
	features FeatureStore,
	pending PendingStore,
	ruleCache RuleSource,
	enricher Enricher,
	escalator Escalator,
	logger *Logger,
	notifier notify.Notifier,
	locker RunLocker,
	cfg configs.WorkerConfig,
) *Scheduler {
	if notifier == nil {
		notifier = notify.NewNoopNotifier()
	}
	return &Scheduler{
		features:  features,
		pending:   pending,
		ruleCache: ruleCache,
		enricher:  enricher,
		escalator: escalator,
		logger:    logger,
		notifier:  notifier,
		locker:    locker,
		cfg:       cfg,
		sleep:     time.Sleep,
	}
}

// RunBatch performs one scheduler invocation: select pending HOLD cases and
// drive each through the pipeline. It never returns an error; the result
// carries the counts and the caller reports the summary string.
func (s *Scheduler) RunBatch(ctx context.Context) BatchResult {
	result := BatchResult{RunID: uuid.New()}
	runLog := log.With().Str("run_id", result.RunID.String()).Logger()

	if s.locker != nil {
		acquired, err := s.locker.AcquireLock(ctx, runLockKey, result.RunID.String(), s.cfg.RunInterval)
		if err != nil {
			runLog.Warn().Err(err).Msg("Run lock unavailable, proceeding without it")
		} else if !acquired {
			runLog.Info().Msg("Another worker holds the run lock, skipping this invocation")
			return result
		} else {
			defer func() {
				if err := s.locker.ReleaseLock(ctx, runLockKey, result.RunID.String()); err != nil {
					runLog.Warn().Err(err).Msg("Failed to release run lock")
				}
			}()
		}
	}

	pending, err := s.pending.PendingHoldReviews(ctx, s.cfg.BatchSize)
	if err != nil {
		// A failed selection means this run does nothing; the next timer
		// tick retries.
		runLog.Error().Err(err).Msg("Failed to fetch pending HOLD transactions")
		return result
	}

	result.Selected = len(pending)
	runLog.Info().Int("pending", result.Selected).Msg("Batch started")

	for _, pc := range pending {
		processed, err := s.processOne(ctx, pc)
		switch {
		case err != nil:
			result.Failed++
			runLog.Error().
				Err(err).
				Str("user_code", pc.UserCode).
				Str("txn_id", pc.TxnID).
				Msg("Transaction failed, continuing batch")
		case processed:
			result.Processed++
		default:
			result.Skipped++
		}
	}

	runLog.Info().
		Int("processed", result.Processed).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("Batch finished")

	return result
}

// processOne runs one transaction through the pipeline. The boolean is true
// when a decision was produced and logged; false with a nil error is an
// expected skip (features not yet computed). A panic anywhere inside is
// converted to an error so one poisoned case cannot take the batch down.
func (s *Scheduler) processOne(ctx context.Context, pc models.PendingCase) (processed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			processed = false
			err = fmt.Errorf("panic processing transaction: %v", r)
		}
	}()

	log.Info().Str("user_code", pc.UserCode).Str("txn_id", pc.TxnID).Msg("Processing transaction")

	features, ok := s.fetchFeatures(ctx, pc)
	if !ok {
		// Expected race with the feature computation job; next cycle retries.
		log.Warn().Str("user_code", pc.UserCode).Str("txn_id", pc.TxnID).
			Msg("Risk features not available, skipping")
		return false, nil
	}

	// The snapshot must identify the case even if the feature row lacks keys.
	features["user_code"] = pc.UserCode
	features["txn_id"] = pc.TxnID

	features = s.enricher.Refresh(ctx, features)
	features = enrich.PatchWithdrawalRatio(features)

	ruleCtx := rules.Evaluate(features, s.ruleCache.Rules(ctx))
	if !ruleCtx.Triggered {
		ruleCtx = s.phase1Context(ctx, pc)
	}

	behavior := s.behaviorContext(ctx, pc.UserCode)

	started := time.Now()
	decision := s.escalator.Escalate(ctx, features, ruleCtx, behavior)
	elapsedMs := time.Since(started).Milliseconds()

	s.logger.Log(ctx, pc.UserCode, pc.TxnID, OutcomeFromAI(decision), features, models.SourceAIReview, elapsedMs)

	event := &models.DecisionEvent{
		UserCode:         pc.UserCode,
		TxnID:            pc.TxnID,
		Decision:         decision.FinalDecision,
		PrimaryThreat:    decision.PrimaryThreat,
		RiskScore:        decision.RiskScore,
		Narrative:        decision.Narrative,
		Source:           models.SourceAIReview,
		ProcessingTimeMs: elapsedMs,
		Timestamp:        time.Now().UTC(),
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		log.Warn().Err(err).Str("txn_id", pc.TxnID).Msg("Decision notification failed")
	}

	log.Info().
		Str("user_code", pc.UserCode).
		Str("txn_id", pc.TxnID).
		Str("decision", decision.FinalDecision).
		Int64("processing_time_ms", elapsedMs).
		Msg("Finished transaction")

	return true, nil
}

// fetchFeatures waits briefly for the feature computation job: a HOLD row
// can land before its feature row is visible.
func (s *Scheduler) fetchFeatures(ctx context.Context, pc models.PendingCase) (models.FeatureSet, bool) {
	attempts := s.cfg.FeatureMaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		features, err := s.features.GetRiskFeatures(ctx, pc.UserCode, pc.TxnID)
		if err == nil {
			if attempt > 0 {
				log.Debug().Str("txn_id", pc.TxnID).Int("attempt", attempt+1).
					Msg("Risk features found after retry")
			}
			return features, true
		}
		if !errors.Is(err, repositories.ErrFeaturesNotFound) {
			log.Warn().Err(err).Str("txn_id", pc.TxnID).Msg("Error fetching risk features")
		}
		if attempt < attempts-1 {
			s.sleep(s.cfg.FeatureRetryDelay)
		}
	}

	return nil, false
}

// phase1Context rebuilds rule framing when re-evaluation fires no rule: the
// stored Phase-1 HOLD narrative if one exists, else a bare HOLD context.
func (s *Scheduler) phase1Context(ctx context.Context, pc models.PendingCase) models.RuleContext {
	narrative, err := s.pending.Phase1Narrative(ctx, pc.UserCode, pc.TxnID)
	if err != nil {
		if !errors.Is(err, repositories.ErrDecisionNotFound) {
			log.Warn().Err(err).Str("txn_id", pc.TxnID).Msg("Phase-1 narrative lookup failed")
		}
		return models.HoldContext("")
	}
	return models.HoldContext(narrative)
}

// behaviorContext is optional enrichment for the AI payload; failure just
// means the model sees no behavior history.
func (s *Scheduler) behaviorContext(ctx context.Context, userCode string) *models.BehaviorContext {
	behavior, err := s.pending.BehaviorContext(ctx, userCode)
	if err != nil {
		log.Debug().Err(err).Str("user_code", userCode).Msg("Behavior context unavailable")
		return nil
	}
	return behavior
}
