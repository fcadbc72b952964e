package status

import (
	"context"
	"log/slog"

	"wa-blast/internal/metrics"
	"wa-blast/internal/repo"
	"wa-blast/internal/wa"
)

// Tracker applies delivery receipts to logged messages.
type Tracker struct {
	store   repo.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewTracker builds a Tracker.
func NewTracker(store repo.Store, m *metrics.Metrics, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:   store,
		metrics: m,
		logger:  logger.With("component", "status"),
	}
}

// OnAck maps a receipt to a message status and writes it by protocol id.
// Receipts for untracked messages are ignored.
func (t *Tracker) OnAck(ctx context.Context, sessionID string, ack wa.Ack) {
	if ack.MessageID == "" {
		return
	}

	st := StatusForAck(ack.Kind)
	rows, err := t.store.UpdateStatusByProtocolID(ctx, ack.MessageID, st)
	if err != nil {
		t.logger.Warn("ack update failed",
			"session_id", sessionID, "protocol_message_id", ack.MessageID, "error", err)
		t.metrics.Errors.WithLabelValues("status").Inc()
		return
	}
	if rows == 0 {
		t.logger.Debug("ack for untracked message",
			"session_id", sessionID, "protocol_message_id", ack.MessageID)
		return
	}

	t.metrics.AckUpdates.WithLabelValues(string(st)).Inc()
}

// StatusForAck maps receipt kinds onto the message status lifecycle.
func StatusForAck(kind wa.AckKind) repo.MessageStatus {
	switch kind {
	case wa.AckDelivered:
		return repo.MessageDelivered
	case wa.AckRead:
		return repo.MessageRead
	case wa.AckServer:
		return repo.MessageSent
	default:
		return repo.MessagePending
	}
}
