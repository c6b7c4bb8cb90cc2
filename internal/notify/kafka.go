package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/withdraw-review/configs"
	"github.com/enterprise/withdraw-review/internal/models"
)

// KafkaNotifier publishes decision events to a Kafka topic so downstream
// consumers (alerting, analytics, data warehouse sync) can react without
// polling the decision table.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaNotifier creates a Kafka-backed notifier.
func NewKafkaNotifier(cfg configs.KafkaConfig) (*KafkaNotifier, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Version = sarama.V3_0_0_0

	producer, err := sarama.NewSyncProducer(strings.Split(cfg.Brokers, ","), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	log.Info().Str("topic", cfg.Topic).Msg("Kafka decision notifier initialized")

	return &KafkaNotifier{
		producer: producer,
		topic:    cfg.Topic,
	}, nil
}

// Notify publishes one decision event, keyed by user_code so a user's
// decisions stay ordered within a partition.
func (k *KafkaNotifier) Notify(_ context.Context, event *models.DecisionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal decision event: %w", err)
	}

	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(event.UserCode),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("failed to publish decision event: %w", err)
	}

	log.Debug().
		Str("user_code", event.UserCode).
		Str("txn_id", event.TxnID).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("Decision event published")

	return nil
}

// Close closes the underlying producer.
func (k *KafkaNotifier) Close() error {
	return k.producer.Close()
}
