// Package notify is the outbound alert channel for final decisions. The AI
// worker itself never pages anyone; the interface exists so the Phase-1
// rule-decision service and downstream consumers can share the contract.
package notify

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/enterprise/withdraw-review/internal/models"
)

// Notifier publishes a final decision event.
type Notifier interface {
	Notify(ctx context.Context, event *models.DecisionEvent) error
}

// NoopNotifier is the default for the AI worker: decisions are logged, not
// alerted. Alerting belongs to the Phase-1 rule-decision service.
type NoopNotifier struct{}

// NewNoopNotifier creates a no-op notifier
func NewNoopNotifier() *NoopNotifier {
	return &NoopNotifier{}
}

// Notify logs the suppressed event and does nothing else.
func (n *NoopNotifier) Notify(_ context.Context, event *models.DecisionEvent) error {
	log.Debug().
		Str("user_code", event.UserCode).
		Str("txn_id", event.TxnID).
		Str("decision", event.Decision).
		Msg("Notification suppressed (no-op notifier)")
	return nil
}
