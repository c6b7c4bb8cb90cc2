// Decision event monitor: consumes the decision topic the AI worker
// publishes to and maintains live operational metrics. It never writes
// decisions; the decision log in Postgres stays the source of truth.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/withdraw-review/configs"
	"github.com/enterprise/withdraw-review/internal/models"
	"github.com/enterprise/withdraw-review/internal/queue"
)

const metricsSnapshotKey = "withdraw-review:decision-metrics"

// DecisionMetrics tracks live counters over the consumed decision stream.
type DecisionMetrics struct {
	mu                sync.RWMutex
	DecisionCounts    map[string]int64
	ThreatCounts      map[string]int64
	AIFailures        int64
	TotalProcessingMs int64
	EventCount        int64
	LastEventTime     time.Time
	EventsPerSecond   float64
	windowStart       time.Time
	windowCount       int64
}

func NewDecisionMetrics() *DecisionMetrics {
	return &DecisionMetrics{
		DecisionCounts: make(map[string]int64),
		ThreatCounts:   make(map[string]int64),
		windowStart:    time.Now(),
	}
}

func (m *DecisionMetrics) RecordEvent(event *models.DecisionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastEventTime = time.Now()
	m.EventCount++
	m.windowCount++

	elapsed := time.Since(m.windowStart).Seconds()
	if elapsed > 0 {
		m.EventsPerSecond = float64(m.windowCount) / elapsed
	}
	if elapsed > 60 {
		m.windowStart = time.Now()
		m.windowCount = 0
	}

	m.DecisionCounts[event.Decision]++
	m.ThreatCounts[event.PrimaryThreat]++
	m.TotalProcessingMs += event.ProcessingTimeMs

	if event.PrimaryThreat == models.ThreatAINetErr || event.PrimaryThreat == models.ThreatAIErr {
		m.AIFailures++
	}
}

func (m *DecisionMetrics) GetSnapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var avgProcessingMs int64
	if m.EventCount > 0 {
		avgProcessingMs = m.TotalProcessingMs / m.EventCount
	}

	return map[string]interface{}{
		"event_count":       m.EventCount,
		"decision_counts":   m.DecisionCounts,
		"threat_counts":     m.ThreatCounts,
		"ai_failures":       m.AIFailures,
		"avg_processing_ms": avgProcessingMs,
		"events_per_second": m.EventsPerSecond,
		"last_event_time":   m.LastEventTime,
	}
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENVIRONMENT") == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Info().Msg("Starting Withdrawal Review Decision Monitor")

	cfg := configs.Load()
	if !cfg.Kafka.Enabled {
		log.Fatal().Msg("KAFKA_ENABLED must be true for the decision monitor")
	}
	brokers := strings.Split(cfg.Kafka.Brokers, ",")

	groupID := os.Getenv("KAFKA_GROUP_ID")
	if groupID == "" {
		groupID = "decision-monitor"
	}

	// Redis is optional; the snapshot is then log-only.
	var cacheClient *queue.CacheClient
	if cfg.Redis.Enabled {
		var err error
		cacheClient, err = queue.NewCacheClient(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer cacheClient.Close()
	}

	metrics := NewDecisionMetrics()

	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V3_0_0_0

	// Kafka may still be coming up when the monitor starts.
	var consumerGroup sarama.ConsumerGroup
	var err error
	for i := 0; i < 30; i++ {
		consumerGroup, err = sarama.NewConsumerGroup(brokers, groupID, config)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer group after retries")
	}
	defer consumerGroup.Close()

	handler := &DecisionMonitorHandler{
		metrics:     metrics,
		cacheClient: cacheClient,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received, stopping decision monitor...")
		cancel()
	}()

	go handler.startMetricsReporter(ctx)

	log.Info().
		Strs("brokers", brokers).
		Str("topic", cfg.Kafka.Topic).
		Str("group_id", groupID).
		Msg("Decision monitor started")

	for {
		if err := consumerGroup.Consume(ctx, []string{cfg.Kafka.Topic}, handler); err != nil {
			log.Error().Err(err).Msg("Error from consumer")
		}

		if ctx.Err() != nil {
			log.Info().Msg("Context cancelled, shutting down decision monitor")
			return
		}
	}
}

// DecisionMonitorHandler consumes decision events and updates the metrics.
type DecisionMonitorHandler struct {
	metrics     *DecisionMetrics
	cacheClient *queue.CacheClient
}

func (h *DecisionMonitorHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Decision monitor session started")
	return nil
}

func (h *DecisionMonitorHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Decision monitor session ended")
	return nil
}

func (h *DecisionMonitorHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			h.processMessage(message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *DecisionMonitorHandler) processMessage(message *sarama.ConsumerMessage) {
	var event models.DecisionEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		log.Error().Err(err).Msg("Failed to parse decision event")
		return
	}

	h.metrics.RecordEvent(&event)

	logEvent := log.Info()
	if event.Decision == models.DecisionReject {
		// Rejects are the events an operator wants surfaced immediately.
		logEvent = log.Warn()
	}
	logEvent.
		Str("user_code", event.UserCode).
		Str("txn_id", event.TxnID).
		Str("decision", event.Decision).
		Str("primary_threat", event.PrimaryThreat).
		Int("risk_score", event.RiskScore).
		Int64("processing_time_ms", event.ProcessingTimeMs).
		Msg("Decision event")
}

// startMetricsReporter logs the live snapshot every 30 seconds and, when
// Redis is available, publishes it for dashboards.
func (h *DecisionMonitorHandler) startMetricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := h.metrics.GetSnapshot()
			log.Info().Interface("metrics", snapshot).Msg("Decision stream metrics")

			if h.cacheClient != nil {
				if err := h.cacheClient.Set(ctx, metricsSnapshotKey, snapshot, 5*time.Minute); err != nil {
					log.Warn().Err(err).Msg("Failed to publish metrics snapshot")
				}
			}
		}
	}
}
