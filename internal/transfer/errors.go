package transfer

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrTransferNotFound = errors.New("transfer not found")
	ErrItemNotFound     = errors.New("transfer item not found")
	ErrSameLocation     = errors.New("source and destination locations must differ")
	ErrNoItems          = errors.New("transfer requires at least one item")
	ErrLocationAccess   = errors.New("actor has no access to this location")
	ErrItemNotVerified  = errors.New("item is not verified")
)

// InvalidTransitionError reports a transition attempted from the wrong status.
type InvalidTransitionError struct {
	From       Status
	Transition Transition
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s a transfer in status %s", e.Transition, e.From)
}

// AlreadyProcessedError reports a transition against a terminal transfer.
// Retried complete or cancel requests land here instead of failing hard.
type AlreadyProcessedError struct {
	Status     Status
	Transition Transition
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("transfer already %s, %s has no effect", e.Status, e.Transition)
}

// SeparationOfDutiesError reports an actor trying to occupy a control point
// the policy forbids them from holding.
type SeparationOfDutiesError struct {
	Actor    int64
	Conflict string
}

func (e *SeparationOfDutiesError) Error() string {
	return fmt.Sprintf("separation of duties: %s (actor %d)", e.Conflict, e.Actor)
}

// InsufficientStockError reports a send blocked by source stock levels.
type InsufficientStockError struct {
	ItemID      int64
	ProductID   int64
	VariationID int64
	Requested   float64
	Available   float64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variation %d: requested %.2f, available %.2f",
		e.VariationID, e.Requested, e.Available)
}

// LedgerWriteError wraps a failed ledger append during send or complete.
// The surrounding transaction rolls back, so the transfer status is intact.
type LedgerWriteError struct {
	Op  string
	Err error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("ledger write failed during %s: %v", e.Op, e.Err)
}

func (e *LedgerWriteError) Unwrap() error { return e.Err }
