package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeTransferNotify delivers transfer lifecycle notifications.
	TaskTypeTransferNotify = "transfer:notify"
	// TaskTypeLedgerReconcile runs a ledger reconciliation pass.
	TaskTypeLedgerReconcile = "ledger:reconcile"
	// TaskTypeIdempotencyCleanup prunes stale idempotency keys.
	TaskTypeIdempotencyCleanup = "idempotency:cleanup"
)

// TransferNotifyPayload describes one transfer lifecycle notification.
type TransferNotifyPayload struct {
	Event         string `json:"event"`
	TransferID    int64  `json:"transfer_id"`
	TransferNo    string `json:"transfer_no"`
	BusinessID    int64  `json:"business_id"`
	RecipientID   int64  `json:"recipient_id"`
	Reason        string `json:"reason,omitempty"`
	Discrepancies int    `json:"discrepancies,omitempty"`
}

// NewTransferNotifyTask constructs an Asynq task.
func NewTransferNotifyTask(payload TransferNotifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeTransferNotify, data), nil
}

// HandleTransferNotifyTask processes TaskTypeTransferNotify tasks.
func HandleTransferNotifyTask(ctx context.Context, t *asynq.Task) error {
	var payload TransferNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Placeholder delivery channel until SMTP/webhook integration lands.
	fmt.Printf("[jobs] notify user %d: transfer %s %s\n", payload.RecipientID, payload.TransferNo, payload.Event)
	return nil
}

// LedgerReconcilePayload configures a reconciliation run.
type LedgerReconcilePayload struct {
	Fix bool `json:"fix"`
}

// NewLedgerReconcileTask constructs an Asynq task.
func NewLedgerReconcileTask(payload LedgerReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeLedgerReconcile, data), nil
}

// NewIdempotencyCleanupTask constructs an Asynq task with no payload.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskTypeIdempotencyCleanup, nil)
}
