package ledger

import (
	"context"
	"errors"
	"math"
	"time"
)

// RepositoryPort abstracts repository usage for the store and reconciler.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProjection(ctx context.Context, variationID, locationID int64) (Projection, error)
	History(ctx context.Context, filter HistoryFilter) ([]Entry, error)
	ListDrifts(ctx context.Context) ([]Drift, error)
	CountActivePairs(ctx context.Context) (int, error)
}

// Store is the sole write path into the stock ledger. All projection
// mutation goes through Append; nothing else in the codebase writes
// stock_projections.
type Store struct {
	repo     RepositoryPort
	allowNeg bool
}

// StoreConfig groups optional settings.
type StoreConfig struct {
	AllowNegativeStock bool
}

// NewStore builds Store.
func NewStore(repo RepositoryPort, cfg StoreConfig) *Store {
	return &Store{repo: repo, allowNeg: cfg.AllowNegativeStock}
}

// Append records one movement in its own transaction.
func (s *Store) Append(ctx context.Context, input AppendInput) (Entry, error) {
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.AppendTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// AppendTx records one movement on a caller-supplied transaction. The
// projection row is locked for the read-modify-write, so concurrent appends
// to the same (variation, location) pair serialize and BalanceAfter stays
// correct.
func (s *Store) AppendTx(ctx context.Context, tx TxRepository, input AppendInput) (Entry, error) {
	if input.VariationID == 0 || input.LocationID == 0 {
		return Entry{}, errors.New("ledger: variation and location required")
	}
	if !input.Type.IsValid() {
		return Entry{}, ErrInvalidEntryType
	}
	if math.Abs(input.QtyDelta) < 1e-9 {
		return Entry{}, ErrInvalidDelta
	}

	proj, err := tx.GetProjectionForUpdate(ctx, input.VariationID, input.LocationID)
	if err != nil && !errors.Is(err, ErrProjectionNotFound) {
		return Entry{}, err
	}
	// Lazily created on first stock event for the pair.
	if errors.Is(err, ErrProjectionNotFound) {
		proj = Projection{VariationID: input.VariationID, LocationID: input.LocationID}
	}

	newQty := proj.QtyAvailable + input.QtyDelta
	if math.Abs(newQty) < 1e-4 {
		newQty = 0
	}
	if !s.allowNeg && newQty < -1e-4 {
		return Entry{}, &NegativeStockError{
			VariationID: input.VariationID,
			LocationID:  input.LocationID,
			Requested:   -input.QtyDelta,
			Available:   proj.QtyAvailable,
		}
	}

	entry := Entry{
		VariationID:  input.VariationID,
		LocationID:   input.LocationID,
		Type:         input.Type,
		QtyDelta:     input.QtyDelta,
		RefType:      input.RefType,
		RefID:        input.RefID,
		BalanceAfter: newQty,
		ActorID:      input.ActorID,
		OccurredAt:   time.Now().UTC(),
	}
	id, err := tx.InsertEntry(ctx, entry)
	if err != nil {
		return Entry{}, err
	}
	entry.ID = id

	proj.QtyAvailable = newQty
	if err := tx.UpsertProjection(ctx, proj); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// CheckAvailabilityTx verifies the pair can absorb a debit of qty without
// going negative. The projection row stays locked until the caller's
// transaction ends, so the answer holds through commit.
func (s *Store) CheckAvailabilityTx(ctx context.Context, tx TxRepository, variationID, locationID int64, qty float64) error {
	if s.allowNeg {
		return nil
	}
	proj, err := tx.GetProjectionForUpdate(ctx, variationID, locationID)
	if err != nil && !errors.Is(err, ErrProjectionNotFound) {
		return err
	}
	if proj.QtyAvailable-qty < -1e-4 {
		return &NegativeStockError{
			VariationID: variationID,
			LocationID:  locationID,
			Requested:   qty,
			Available:   proj.QtyAvailable,
		}
	}
	return nil
}

// Projection returns the live balance for a pair. A missing row reads as a
// zero balance.
func (s *Store) Projection(ctx context.Context, variationID, locationID int64) (Projection, error) {
	proj, err := s.repo.GetProjection(ctx, variationID, locationID)
	if err != nil {
		if errors.Is(err, ErrProjectionNotFound) {
			return Projection{VariationID: variationID, LocationID: locationID}, nil
		}
		return Projection{}, err
	}
	return proj, nil
}

// History lists ledger entries for display.
func (s *Store) History(ctx context.Context, filter HistoryFilter) ([]Entry, error) {
	if filter.VariationID == 0 || filter.LocationID == 0 {
		return nil, errors.New("ledger: variation and location required")
	}
	return s.repo.History(ctx, filter)
}
