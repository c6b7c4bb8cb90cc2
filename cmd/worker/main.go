package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/withdraw-review/configs"
	"github.com/enterprise/withdraw-review/internal/ai"
	"github.com/enterprise/withdraw-review/internal/enrich"
	"github.com/enterprise/withdraw-review/internal/notify"
	"github.com/enterprise/withdraw-review/internal/queue"
	"github.com/enterprise/withdraw-review/internal/repositories"
	"github.com/enterprise/withdraw-review/internal/review"
	"github.com/enterprise/withdraw-review/internal/rules"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg := configs.Load()

	// Setup logging
	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Int("batch_size", cfg.Worker.BatchSize).
		Dur("run_interval", cfg.Worker.RunInterval).
		Msg("Starting Withdrawal Review AI Worker")

	// Initialize database
	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Redis is optional; without it the worker runs unlocked and uncached.
	var cacheClient *queue.CacheClient
	if cfg.Redis.Enabled {
		cacheClient, err = queue.NewCacheClient(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer cacheClient.Close()
	} else {
		log.Info().Msg("Redis disabled, running without cache and run lock")
	}

	// Kafka is optional; without it decision events are suppressed.
	var notifier notify.Notifier = notify.NewNoopNotifier()
	if cfg.Kafka.Enabled {
		kafkaNotifier, err := notify.NewKafkaNotifier(cfg.Kafka)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Kafka")
		}
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
	}

	// Initialize repositories
	featureRepo := repositories.NewFeatureRepository(db)
	ruleRepo := repositories.NewRuleRepository(db)
	decisionRepo := repositories.NewDecisionRepository(db)

	// Assemble the pipeline
	ruleCache := rules.NewCache(ruleRepo, cfg.Worker.RuleCacheTTL)
	poller := enrich.NewPoller(featureRepo, cfg.Worker.EnrichMaxAttempts, cfg.Worker.EnrichPollDelay)
	aiClient := ai.NewClient(cfg.AI)

	var decisionCache review.DecisionCache
	var locker review.RunLocker
	if cacheClient != nil {
		decisionCache = cacheClient
		locker = cacheClient
	}

	decisionLogger := review.NewLogger(decisionRepo, decisionCache)
	scheduler := review.NewScheduler(
		featureRepo,
		decisionRepo,
		ruleCache,
		poller,
		aiClient,
		decisionLogger,
		notifier,
		locker,
		cfg.Worker,
	)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	runLoop(ctx, scheduler, cfg.Worker.RunInterval)

	log.Info().Msg("Worker shutdown complete")
}

// runLoop executes one batch immediately, then one per tick until the
// context is cancelled. A running batch finishes its current transaction
// before shutdown takes effect.
func runLoop(ctx context.Context, scheduler *review.Scheduler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result := scheduler.RunBatch(ctx)
		log.Info().Str("run_id", result.RunID.String()).Msg(result.Summary())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
