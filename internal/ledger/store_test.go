package ledger

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/doorscomputers/stockflow/testing"
)

// memRepo implements RepositoryPort and TxRepository in memory for store
// and reconciler tests.
type memRepo struct {
	mu          sync.Mutex
	nextID      int64
	entries     []Entry
	projections map[Pair]Projection
}

func newMemRepo() *memRepo {
	return &memRepo{nextID: 1, projections: make(map[Pair]Projection)}
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memRepo) GetProjection(ctx context.Context, variationID, locationID int64) (Projection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projections[Pair{VariationID: variationID, LocationID: locationID}]
	if !ok {
		return Projection{}, ErrProjectionNotFound
	}
	return p, nil
}

func (m *memRepo) GetProjectionForUpdate(ctx context.Context, variationID, locationID int64) (Projection, error) {
	return m.GetProjection(ctx, variationID, locationID)
}

func (m *memRepo) InsertEntry(ctx context.Context, e Entry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.nextID
	m.nextID++
	m.entries = append(m.entries, e)
	return e.ID, nil
}

func (m *memRepo) UpsertProjection(ctx context.Context, p Projection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projections[Pair{VariationID: p.VariationID, LocationID: p.LocationID}] = p
	return nil
}

func (m *memRepo) SumDeltas(ctx context.Context, variationID, locationID int64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	for _, e := range m.entries {
		if e.VariationID == variationID && e.LocationID == locationID {
			sum += e.QtyDelta
		}
	}
	return sum, nil
}

func (m *memRepo) History(ctx context.Context, filter HistoryFilter) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.VariationID == filter.VariationID && e.LocationID == filter.LocationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memRepo) ListDrifts(ctx context.Context) ([]Drift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sums := make(map[Pair]float64)
	for _, e := range m.entries {
		sums[Pair{VariationID: e.VariationID, LocationID: e.LocationID}] += e.QtyDelta
	}
	seen := make(map[Pair]bool)
	var drifts []Drift
	for pair, p := range m.projections {
		seen[pair] = true
		if math.Abs(p.QtyAvailable-sums[pair]) > 1e-4 {
			drifts = append(drifts, Drift{
				VariationID: pair.VariationID,
				LocationID:  pair.LocationID,
				Projected:   p.QtyAvailable,
				Expected:    sums[pair],
			})
		}
	}
	for pair, sum := range sums {
		if !seen[pair] && math.Abs(sum) > 1e-4 {
			drifts = append(drifts, Drift{VariationID: pair.VariationID, LocationID: pair.LocationID, Expected: sum})
		}
	}
	return drifts, nil
}

func (m *memRepo) CountActivePairs(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pairs := make(map[Pair]bool)
	for _, e := range m.entries {
		pairs[Pair{VariationID: e.VariationID, LocationID: e.LocationID}] = true
	}
	return len(pairs), nil
}

// ============================================================================
// STORE TESTS
// ============================================================================

func TestAppendCreatesProjectionLazily(t *testing.T) {
	repo := newMemRepo()
	store := NewStore(repo, StoreConfig{})

	entry, err := store.Append(context.Background(), AppendInput{
		VariationID: 1, LocationID: 2, Type: EntryOpening, QtyDelta: 25, RefType: "opening", ActorID: 9,
	})
	require.NoError(t, err)
	assert.InDelta(t, 25, entry.BalanceAfter, 1e-9)

	proj, err := store.Projection(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.InDelta(t, 25, proj.QtyAvailable, 1e-9)
}

func TestAppendMaintainsRunningBalance(t *testing.T) {
	repo := newMemRepo()
	store := NewStore(repo, StoreConfig{})
	ctx := context.Background()

	deltas := []struct {
		typ   EntryType
		delta float64
		want  float64
	}{
		{EntryOpening, 10, 10},
		{EntryPurchase, 5, 15},
		{EntrySale, -3, 12},
		{EntryTransferOut, -12, 0},
	}
	for _, d := range deltas {
		entry, err := store.Append(ctx, AppendInput{VariationID: 1, LocationID: 2, Type: d.typ, QtyDelta: d.delta})
		require.NoError(t, err)
		assert.InDelta(t, d.want, entry.BalanceAfter, 1e-9, "after %s", d.typ)
	}
}

func TestAppendRejectsNegativeStock(t *testing.T) {
	repo := newMemRepo()
	store := NewStore(repo, StoreConfig{})
	ctx := context.Background()

	_, err := store.Append(ctx, AppendInput{VariationID: 1, LocationID: 2, Type: EntryOpening, QtyDelta: 5})
	require.NoError(t, err)

	_, err = store.Append(ctx, AppendInput{VariationID: 1, LocationID: 2, Type: EntrySale, QtyDelta: -8})
	var neg *NegativeStockError
	require.ErrorAs(t, err, &neg)
	assert.InDelta(t, 8, neg.Requested, 1e-9)
	assert.InDelta(t, 5, neg.Available, 1e-9)

	// Nothing was written.
	proj, err := store.Projection(ctx, 1, 2)
	require.NoError(t, err)
	assert.InDelta(t, 5, proj.QtyAvailable, 1e-9)
	assert.Len(t, repo.entries, 1)
}

func TestCheckAvailability(t *testing.T) {
	repo := newMemRepo()
	store := NewStore(repo, StoreConfig{})
	ctx := context.Background()

	_, err := store.Append(ctx, AppendInput{VariationID: 1, LocationID: 2, Type: EntryOpening, QtyDelta: 5})
	require.NoError(t, err)

	require.NoError(t, store.CheckAvailabilityTx(ctx, repo, 1, 2, 5))

	err = store.CheckAvailabilityTx(ctx, repo, 1, 2, 6)
	var neg *NegativeStockError
	require.ErrorAs(t, err, &neg)
	assert.InDelta(t, 6, neg.Requested, 1e-9)
	assert.InDelta(t, 5, neg.Available, 1e-9)

	// A pair with no projection reads as zero stock.
	err = store.CheckAvailabilityTx(ctx, repo, 9, 9, 1)
	require.ErrorAs(t, err, &neg)
	assert.InDelta(t, 0, neg.Available, 1e-9)

	relaxed := NewStore(repo, StoreConfig{AllowNegativeStock: true})
	require.NoError(t, relaxed.CheckAvailabilityTx(ctx, repo, 1, 2, 100))
}

func TestAppendAllowNegativeStock(t *testing.T) {
	repo := newMemRepo()
	store := NewStore(repo, StoreConfig{AllowNegativeStock: true})

	entry, err := store.Append(context.Background(), AppendInput{VariationID: 1, LocationID: 2, Type: EntrySale, QtyDelta: -4})
	require.NoError(t, err)
	assert.InDelta(t, -4, entry.BalanceAfter, 1e-9)
}

func TestAppendValidatesInput(t *testing.T) {
	store := NewStore(newMemRepo(), StoreConfig{})
	ctx := context.Background()

	_, err := store.Append(ctx, AppendInput{VariationID: 1, LocationID: 2, Type: "bogus", QtyDelta: 1})
	require.ErrorIs(t, err, ErrInvalidEntryType)

	_, err = store.Append(ctx, AppendInput{VariationID: 1, LocationID: 2, Type: EntrySale, QtyDelta: 0})
	require.ErrorIs(t, err, ErrInvalidDelta)

	_, err = store.Append(ctx, AppendInput{Type: EntrySale, QtyDelta: 1})
	require.Error(t, err)
}

func TestAppendSnapsTinyResidualToZero(t *testing.T) {
	repo := newMemRepo()
	store := NewStore(repo, StoreConfig{})
	ctx := context.Background()

	_, err := store.Append(ctx, AppendInput{VariationID: 1, LocationID: 2, Type: EntryOpening, QtyDelta: 0.3})
	require.NoError(t, err)
	entry, err := store.Append(ctx, AppendInput{VariationID: 1, LocationID: 2, Type: EntrySale, QtyDelta: -0.1})
	require.NoError(t, err)
	entry, err = store.Append(ctx, AppendInput{VariationID: 1, LocationID: 2, Type: EntrySale, QtyDelta: -entry.BalanceAfter})
	require.NoError(t, err)
	assert.Zero(t, entry.BalanceAfter)
}

func TestProjectionMissingReadsAsZero(t *testing.T) {
	store := NewStore(newMemRepo(), StoreConfig{})

	proj, err := store.Projection(context.Background(), 7, 8)
	require.NoError(t, err)
	assert.Zero(t, proj.QtyAvailable)
	assert.Equal(t, int64(7), proj.VariationID)
}
