// Package notify delivers transfer lifecycle notifications through the
// background job queue.
package notify

import (
	"context"
	"log/slog"

	"github.com/doorscomputers/stockflow/internal/transfer"
	"github.com/doorscomputers/stockflow/jobs"
)

// QueueNotifier enqueues one task per event. Enqueue failures are logged
// and dropped; notification delivery never blocks or fails a transition.
type QueueNotifier struct {
	client *jobs.Client
	logger *slog.Logger
}

// NewQueueNotifier constructs a QueueNotifier.
func NewQueueNotifier(client *jobs.Client, logger *slog.Logger) *QueueNotifier {
	return &QueueNotifier{client: client, logger: logger}
}

// TransferRejected notifies the creator their transfer bounced back to draft.
func (n *QueueNotifier) TransferRejected(ctx context.Context, evt transfer.RejectedEvent) {
	n.enqueue(ctx, jobs.TransferNotifyPayload{
		Event:       "rejected",
		TransferID:  evt.TransferID,
		TransferNo:  evt.TransferNo,
		BusinessID:  evt.BusinessID,
		RecipientID: evt.CreatedBy,
		Reason:      evt.Reason,
	})
}

// TransferCompleted notifies the creator the stock landed. The completing
// actor already knows; the origin side is the one waiting on the outcome.
func (n *QueueNotifier) TransferCompleted(ctx context.Context, evt transfer.CompletedEvent) {
	n.enqueue(ctx, jobs.TransferNotifyPayload{
		Event:         "completed",
		TransferID:    evt.TransferID,
		TransferNo:    evt.TransferNo,
		BusinessID:    evt.BusinessID,
		RecipientID:   evt.CreatedBy,
		Discrepancies: evt.Discrepancies,
	})
}

func (n *QueueNotifier) enqueue(ctx context.Context, payload jobs.TransferNotifyPayload) {
	if n == nil || n.client == nil {
		return
	}
	if _, err := n.client.EnqueueTransferNotify(ctx, payload); err != nil {
		n.logger.Warn("notification enqueue failed",
			slog.String("event", payload.Event),
			slog.Int64("transfer_id", payload.TransferID),
			slog.Any("error", err),
		)
	}
}
