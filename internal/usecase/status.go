package usecase

import (
	"context"
	"log/slog"

	"github.com/trebuchet-org/txm/internal/domain"
	"github.com/trebuchet-org/txm/internal/domain/models"
)

// StatusNotifier applies status transitions and announces them on the bus
type StatusNotifier struct {
	bus     *EventBus
	metrics Metrics
	log     *slog.Logger
}

// NewStatusNotifier creates a notifier publishing on bus
func NewStatusNotifier(bus *EventBus, metrics Metrics, log *slog.Logger) *StatusNotifier {
	return &StatusNotifier{bus: bus, metrics: metrics, log: log}
}

// change moves tx to status. It reports false when the transition was a no-op,
// including any attempt to leave a terminal status.
func (n *StatusNotifier) change(ctx context.Context, tx *models.Transaction, status models.TransactionStatus) bool {
	from := tx.Status()
	changed, err := tx.ChangeStatus(status)
	if err != nil {
		n.log.Warn("status callback failed", "intent_id", tx.IntentID, "status", status, "error", err)
	}
	if !changed {
		return false
	}
	n.publish(ctx, tx, from, status)
	return true
}

// announce publishes a transition that was already applied, running the
// callbacks of the new status
func (n *StatusNotifier) announce(ctx context.Context, tx *models.Transaction, from models.TransactionStatus) {
	if err := tx.AnnounceStatus(); err != nil {
		n.log.Warn("status callback failed", "intent_id", tx.IntentID, "status", tx.Status(), "error", err)
	}
	n.publish(ctx, tx, from, tx.Status())
}

func (n *StatusNotifier) publish(ctx context.Context, tx *models.Transaction, from, to models.TransactionStatus) {
	n.log.Debug("transaction status changed", "intent_id", tx.IntentID, "from", from, "to", to)
	n.metrics.IncStatusChange(to)
	if to.IsTerminal() {
		n.metrics.ObserveAttemptsUntilFinalization(len(tx.Attempts()))
	}
	n.bus.Publish(ctx, domain.TransactionStatusChangedEvent{Transaction: tx, From: from, To: to})
}
