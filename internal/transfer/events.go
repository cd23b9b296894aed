package transfer

import (
	"context"
	"time"
)

// RejectedEvent notifies the creator that their transfer went back to draft.
type RejectedEvent struct {
	TransferID int64
	TransferNo string
	BusinessID int64
	CreatedBy  int64
	CheckedBy  int64
	Reason     string
	RejectedAt time.Time
}

// CompletedEvent notifies the origin side that stock landed at the
// destination, including any lines received short or over.
type CompletedEvent struct {
	TransferID    int64
	TransferNo    string
	BusinessID    int64
	ToLocationID  int64
	CreatedBy     int64
	CompletedBy   int64
	Discrepancies int
	CompletedAt   time.Time
}

// Notifier receives transfer lifecycle events. Delivery is best effort:
// implementations must not block the calling transition, and errors are
// logged rather than returned to the actor.
type Notifier interface {
	TransferRejected(ctx context.Context, evt RejectedEvent)
	TransferCompleted(ctx context.Context, evt CompletedEvent)
}
