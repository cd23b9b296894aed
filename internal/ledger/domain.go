package ledger

import (
	"errors"
	"fmt"
	"time"
)

// EntryType enumerates inventory-affecting movements recorded in the ledger.
type EntryType string

const (
	// EntryOpening seeds the initial balance for a stock cell.
	EntryOpening EntryType = "opening"
	// EntryPurchase records goods received from a supplier.
	EntryPurchase EntryType = "purchase"
	// EntryTransferIn credits the destination of a stock transfer.
	EntryTransferIn EntryType = "transfer_in"
	// EntryTransferOut debits the source of a stock transfer.
	EntryTransferOut EntryType = "transfer_out"
	// EntrySale debits stock sold at the counter.
	EntrySale EntryType = "sale"
	// EntrySaleVoid reverses a voided sale.
	EntrySaleVoid EntryType = "sale_void"
	// EntryCustomerReturn credits goods returned by a customer.
	EntryCustomerReturn EntryType = "customer_return"
	// EntrySupplierReturn debits goods sent back to a supplier.
	EntrySupplierReturn EntryType = "supplier_return"
	// EntryAdjustment records a manual count adjustment.
	EntryAdjustment EntryType = "adjustment"
	// EntryCorrection is appended by reconciliation to heal ledger drift.
	EntryCorrection EntryType = "correction"
)

// IsValid reports whether the entry type is known.
func (t EntryType) IsValid() bool {
	switch t {
	case EntryOpening, EntryPurchase, EntryTransferIn, EntryTransferOut,
		EntrySale, EntrySaleVoid, EntryCustomerReturn, EntrySupplierReturn,
		EntryAdjustment, EntryCorrection:
		return true
	default:
		return false
	}
}

// Entry is one immutable ledger record. Entries are never updated or
// deleted; corrections are new entries.
type Entry struct {
	ID           int64
	VariationID  int64
	LocationID   int64
	Type         EntryType
	QtyDelta     float64
	RefType      string
	RefID        int64
	BalanceAfter float64
	ActorID      int64
	OccurredAt   time.Time
}

// Projection is the materialized per-(variation, location) balance. It must
// equal the running sum of QtyDelta for the pair; the reconciler verifies
// and restores that.
type Projection struct {
	VariationID  int64
	LocationID   int64
	QtyAvailable float64
	SellingPrice float64
	UpdatedAt    time.Time
}

// Pair identifies one stock cell.
type Pair struct {
	VariationID int64
	LocationID  int64
}

// AppendInput describes a requested ledger append.
type AppendInput struct {
	VariationID int64
	LocationID  int64
	Type        EntryType
	QtyDelta    float64
	RefType     string
	RefID       int64
	ActorID     int64
}

// HistoryFilter narrows ledger history queries.
type HistoryFilter struct {
	VariationID int64
	LocationID  int64
	From        time.Time
	To          time.Time
	Limit       int
}

// Drift describes a pair whose projection disagrees with the ledger sum.
type Drift struct {
	VariationID int64
	LocationID  int64
	Projected   float64
	Expected    float64
}

// Delta is the signed amount the ledger is missing relative to the
// projection.
func (d Drift) Delta() float64 {
	return d.Projected - d.Expected
}

// ErrProjectionNotFound indicates a missing projection row.
var ErrProjectionNotFound = errors.New("ledger: stock projection not found")

// ErrInvalidDelta indicates a zero quantity delta.
var ErrInvalidDelta = errors.New("ledger: quantity delta must be non zero")

// ErrInvalidEntryType indicates an unknown entry type.
var ErrInvalidEntryType = errors.New("ledger: invalid entry type")

// NegativeStockError is returned when an append would drive a projection
// below zero.
type NegativeStockError struct {
	VariationID int64
	LocationID  int64
	Requested   float64
	Available   float64
}

func (e *NegativeStockError) Error() string {
	return fmt.Sprintf("ledger: insufficient stock for variation %d at location %d: requested %.2f, available %.2f",
		e.VariationID, e.LocationID, e.Requested, e.Available)
}
