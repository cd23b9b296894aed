package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileCleanLedgerReportsNothing(t *testing.T) {
	repo := newMemRepo()
	store := NewStore(repo, StoreConfig{})
	ctx := context.Background()

	_, err := store.Append(ctx, AppendInput{VariationID: 1, LocationID: 2, Type: EntryOpening, QtyDelta: 10})
	require.NoError(t, err)

	rec := NewReconciler(repo, nil, 0)
	report, err := rec.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.PairsScanned)
	assert.Empty(t, report.Drifts)
	assert.Zero(t, report.Corrected)
}

func TestReconcileDiagnosticDetectsDriftWithoutFixing(t *testing.T) {
	repo := newMemRepo()
	store := NewStore(repo, StoreConfig{})
	ctx := context.Background()

	_, err := store.Append(ctx, AppendInput{VariationID: 1, LocationID: 2, Type: EntryOpening, QtyDelta: 10})
	require.NoError(t, err)

	// Simulate a write that bypassed the store: the projection moved but no
	// ledger entry was recorded.
	proj := repo.projections[Pair{VariationID: 1, LocationID: 2}]
	proj.QtyAvailable = 7
	repo.projections[Pair{VariationID: 1, LocationID: 2}] = proj

	rec := NewReconciler(repo, nil, 0)
	report, err := rec.Run(ctx, false)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	assert.InDelta(t, 7, report.Drifts[0].Projected, 1e-9)
	assert.InDelta(t, 10, report.Drifts[0].Expected, 1e-9)
	assert.InDelta(t, -3, report.Drifts[0].Delta(), 1e-9)

	// Diagnostic mode wrote nothing.
	assert.Zero(t, report.Corrected)
	assert.Len(t, repo.entries, 1)
}

func TestReconcileAutoFixAppendsCorrection(t *testing.T) {
	repo := newMemRepo()
	store := NewStore(repo, StoreConfig{})
	ctx := context.Background()

	_, err := store.Append(ctx, AppendInput{VariationID: 1, LocationID: 2, Type: EntryOpening, QtyDelta: 10})
	require.NoError(t, err)

	proj := repo.projections[Pair{VariationID: 1, LocationID: 2}]
	proj.QtyAvailable = 7
	repo.projections[Pair{VariationID: 1, LocationID: 2}] = proj

	rec := NewReconciler(repo, nil, 0)
	report, err := rec.Run(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Corrected)

	// The correction reconstructs the missing movement.
	require.Len(t, repo.entries, 2)
	correction := repo.entries[1]
	assert.Equal(t, EntryCorrection, correction.Type)
	assert.InDelta(t, -3, correction.QtyDelta, 1e-9)
	assert.InDelta(t, 7, correction.BalanceAfter, 1e-9)
	assert.Equal(t, "reconciliation", correction.RefType)

	// The projection keeps the observed balance.
	got, err := store.Projection(ctx, 1, 2)
	require.NoError(t, err)
	assert.InDelta(t, 7, got.QtyAvailable, 1e-9)
}

func TestReconcileReachesFixedPoint(t *testing.T) {
	repo := newMemRepo()
	store := NewStore(repo, StoreConfig{})
	ctx := context.Background()

	_, err := store.Append(ctx, AppendInput{VariationID: 1, LocationID: 2, Type: EntryOpening, QtyDelta: 10})
	require.NoError(t, err)
	_, err = store.Append(ctx, AppendInput{VariationID: 3, LocationID: 2, Type: EntryOpening, QtyDelta: 4})
	require.NoError(t, err)

	// Drift both pairs.
	for _, pair := range []Pair{{VariationID: 1, LocationID: 2}, {VariationID: 3, LocationID: 2}} {
		p := repo.projections[pair]
		p.QtyAvailable += 2.5
		repo.projections[pair] = p
	}

	rec := NewReconciler(repo, nil, 2)
	first, err := rec.Run(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Corrected)

	second, err := rec.Run(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, second.Drifts)
	assert.Zero(t, second.Corrected)
}

func TestReconcileFixesPairWithEntriesButNoProjection(t *testing.T) {
	repo := newMemRepo()
	ctx := context.Background()

	// Entries exist but the projection row is gone.
	_, err := repo.InsertEntry(ctx, Entry{VariationID: 5, LocationID: 6, Type: EntryOpening, QtyDelta: 9, BalanceAfter: 9})
	require.NoError(t, err)

	rec := NewReconciler(repo, nil, 0)
	report, err := rec.Run(ctx, true)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, 1, report.Corrected)

	// The missing projection reads as zero, so the correction zeroes the
	// ledger sum.
	sum, err := repo.SumDeltas(ctx, 5, 6)
	require.NoError(t, err)
	assert.InDelta(t, 0, sum, 1e-9)
}
