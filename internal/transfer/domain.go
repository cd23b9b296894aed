package transfer

import (
	"math"
	"time"
)

// Status represents the lifecycle of a stock transfer.
type Status string

const (
	StatusDraft        Status = "draft"         // being assembled, editable
	StatusPendingCheck Status = "pending_check" // awaiting a checker
	StatusChecked      Status = "checked"       // approved, ready to send
	StatusInTransit    Status = "in_transit"    // source stock deducted
	StatusArrived      Status = "arrived"       // received at destination
	StatusVerifying    Status = "verifying"     // items being counted
	StatusVerified     Status = "verified"      // every item verified
	StatusCompleted    Status = "completed"     // destination stock added
	StatusCancelled    Status = "cancelled"     // abandoned before transit
)

// IsValid checks if the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusPendingCheck, StatusChecked, StatusInTransit,
		StatusArrived, StatusVerifying, StatusVerified, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// PreTransit reports whether the transfer has not yet touched the ledger.
// Cancellation is only legal in this window; afterwards reversal means a
// compensating ledger entry, never deletion.
func (s Status) PreTransit() bool {
	switch s {
	case StatusDraft, StatusPendingCheck, StatusChecked:
		return true
	default:
		return false
	}
}

// Transition enumerates the legal edges of the transfer state machine.
type Transition string

const (
	TransitionSubmit            Transition = "submit-for-check"
	TransitionCheckApprove      Transition = "check-approve"
	TransitionCheckReject       Transition = "check-reject"
	TransitionSend              Transition = "send"
	TransitionArrive            Transition = "mark-arrived"
	TransitionStartVerification Transition = "start-verification"
	TransitionVerifyItem        Transition = "verify-item"
	TransitionUnverifyItem      Transition = "unverify-item"
	TransitionComplete          Transition = "complete"
	TransitionCancel            Transition = "cancel"
)

// Transfer is the aggregate root: header, control-point identities and
// ledger flags. StockDeducted flips only after the send transition's ledger
// writes committed, StockAdded only after complete's.
type Transfer struct {
	ID             int64      `json:"id"`
	BusinessID     int64      `json:"business_id"`
	TransferNo     string     `json:"transfer_no"`
	FromLocationID int64      `json:"from_location_id"`
	ToLocationID   int64      `json:"to_location_id"`
	Status         Status     `json:"status"`
	CreatedBy      int64      `json:"created_by"`
	CheckedBy      *int64     `json:"checked_by,omitempty"`
	SentBy         *int64     `json:"sent_by,omitempty"`
	ArrivedBy      *int64     `json:"arrived_by,omitempty"`
	VerifiedBy     *int64     `json:"verified_by,omitempty"`
	CompletedBy    *int64     `json:"completed_by,omitempty"`
	StockDeducted  bool       `json:"stock_deducted"`
	StockAdded     bool       `json:"stock_added"`
	RejectReason   *string    `json:"reject_reason,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Items          []Item     `json:"items,omitempty"`
}

// Item is one product variation line on a transfer. ReceivedQty is only
// meaningful while Verified is true; editing it requires unverifying first.
type Item struct {
	ID             int64    `json:"id"`
	TransferID     int64    `json:"transfer_id"`
	ProductID      int64    `json:"product_id"`
	VariationID    int64    `json:"variation_id"`
	Quantity       float64  `json:"quantity"`
	ReceivedQty    *float64 `json:"received_quantity,omitempty"`
	Verified       bool     `json:"verified"`
	HasDiscrepancy bool     `json:"has_discrepancy"`
}

// EffectiveQty is the quantity credited at the destination: the verified
// received count, falling back to the requested quantity.
func (i Item) EffectiveQty() float64 {
	if i.ReceivedQty != nil {
		return *i.ReceivedQty
	}
	return i.Quantity
}

// AllItemsVerified reports whether every line has been verified.
func (t *Transfer) AllItemsVerified() bool {
	if len(t.Items) == 0 {
		return false
	}
	for _, item := range t.Items {
		if !item.Verified {
			return false
		}
	}
	return true
}

// Item finds a line by ID.
func (t *Transfer) Item(id int64) *Item {
	for idx := range t.Items {
		if t.Items[idx].ID == id {
			return &t.Items[idx]
		}
	}
	return nil
}

const qtyEpsilon = 1e-4

func qtyEqual(a, b float64) bool {
	return math.Abs(a-b) < qtyEpsilon
}

// ============================================================================
// REQUEST DTOs
// ============================================================================

// CreateRequest creates a draft transfer with its lines.
type CreateRequest struct {
	FromLocationID int64               `json:"from_location_id" validate:"required,gt=0"`
	ToLocationID   int64               `json:"to_location_id" validate:"required,gt=0,nefield=FromLocationID"`
	Notes          *string             `json:"notes,omitempty" validate:"omitempty,max=1000"`
	Items          []CreateItemRequest `json:"items" validate:"required,min=1,dive"`
}

// CreateItemRequest is one requested line.
type CreateItemRequest struct {
	ProductID   int64   `json:"product_id" validate:"required,gt=0"`
	VariationID int64   `json:"variation_id" validate:"required,gt=0"`
	Quantity    float64 `json:"quantity" validate:"required,gt=0"`
}

// RejectRequest carries the mandatory rejection reason.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required,min=5,max=500"`
}

// VerifyItemRequest records the counted quantity for a line. A nil quantity
// means the line arrived as requested.
type VerifyItemRequest struct {
	ReceivedQuantity *float64 `json:"received_quantity,omitempty" validate:"omitempty,gte=0"`
}

// CancelRequest carries the cancellation reason.
type CancelRequest struct {
	Reason string `json:"reason" validate:"required,min=5,max=500"`
}

// ListRequest filters the transfer listing.
type ListRequest struct {
	Status         *Status `json:"status,omitempty"`
	FromLocationID *int64  `json:"from_location_id,omitempty"`
	ToLocationID   *int64  `json:"to_location_id,omitempty"`
	Page           int     `json:"page" validate:"gte=0"`
	PerPage        int     `json:"per_page" validate:"gte=0,lte=200"`
}
