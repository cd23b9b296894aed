package ledger

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Reconciler detects and heals drift between the ledger and the stock
// projections. The ledger projection invariant only breaks when something
// bypasses the Store's append path (manual DB edits, historical imports);
// the reconciler reconstructs the missing movement as a correction entry so
// the ledger once again explains the projected balance.
type Reconciler struct {
	repo   RepositoryPort
	logger *slog.Logger
	limit  int
	clock  func() time.Time
}

// Report summarises one reconciliation run.
type Report struct {
	PairsScanned int
	Drifts       []Drift
	Corrected    int
	StartedAt    time.Time
	Duration     time.Duration
}

// NewReconciler constructs a Reconciler. limit bounds how many pair fixes
// run concurrently.
func NewReconciler(repo RepositoryPort, logger *slog.Logger, limit int) *Reconciler {
	if limit <= 0 {
		limit = 4
	}
	return &Reconciler{
		repo:   repo,
		logger: logger,
		limit:  limit,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// Run scans every pair with ledger activity. In diagnostic mode (fix=false)
// it only reports drifts; in auto-fix mode it appends a correction entry per
// drifted pair and rewrites the projection timestamp. A run over a clean
// ledger corrects nothing, so two consecutive runs with no traffic in
// between reach a fixed point.
func (r *Reconciler) Run(ctx context.Context, fix bool) (Report, error) {
	if r == nil {
		return Report{}, errors.New("ledger: reconciler not configured")
	}
	start := r.clock()
	report := Report{StartedAt: start}

	pairs, err := r.repo.CountActivePairs(ctx)
	if err != nil {
		return report, err
	}
	report.PairsScanned = pairs

	drifts, err := r.repo.ListDrifts(ctx)
	if err != nil {
		return report, err
	}
	report.Drifts = drifts

	logger := r.log()
	for _, d := range drifts {
		logger.Warn("stock projection drift",
			slog.Int64("variation_id", d.VariationID),
			slog.Int64("location_id", d.LocationID),
			slog.Float64("projected", d.Projected),
			slog.Float64("expected", d.Expected),
			slog.Float64("delta", d.Delta()),
		)
	}

	if fix && len(drifts) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.limit)
		var mu sync.Mutex
		for _, drift := range drifts {
			drift := drift
			g.Go(func() error {
				healed, err := r.fixPair(gctx, drift)
				if err != nil {
					return err
				}
				if healed {
					mu.Lock()
					report.Corrected++
					mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			report.Duration = r.clock().Sub(start)
			return report, err
		}
	}

	report.Duration = r.clock().Sub(start)
	logger.Info("reconciliation finished",
		slog.Int("pairs", report.PairsScanned),
		slog.Int("drifts", len(report.Drifts)),
		slog.Int("corrected", report.Corrected),
		slog.Bool("fix", fix),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

// fixPair heals one stock cell inside its own row-locked transaction. The
// drift is re-measured under the lock; in-flight transfers may have healed
// or changed it since detection.
func (r *Reconciler) fixPair(ctx context.Context, d Drift) (bool, error) {
	healed := false
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		proj, err := tx.GetProjectionForUpdate(ctx, d.VariationID, d.LocationID)
		if err != nil && !errors.Is(err, ErrProjectionNotFound) {
			return err
		}
		if errors.Is(err, ErrProjectionNotFound) {
			proj = Projection{VariationID: d.VariationID, LocationID: d.LocationID}
		}
		sum, err := tx.SumDeltas(ctx, d.VariationID, d.LocationID)
		if err != nil {
			return err
		}
		delta := proj.QtyAvailable - sum
		if math.Abs(delta) < 1e-4 {
			return nil
		}
		// The projection reflects what the business observed; the ledger is
		// missing the movement that got it there. Record that movement.
		entry := Entry{
			VariationID:  d.VariationID,
			LocationID:   d.LocationID,
			Type:         EntryCorrection,
			QtyDelta:     delta,
			RefType:      "reconciliation",
			BalanceAfter: proj.QtyAvailable,
			OccurredAt:   r.clock(),
		}
		if _, err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		if err := tx.UpsertProjection(ctx, proj); err != nil {
			return err
		}
		healed = true
		return nil
	})
	return healed, err
}

func (r *Reconciler) log() *slog.Logger {
	if r.logger != nil {
		return r.logger.With(slog.String("component", "ledger.reconciler"))
	}
	return slog.Default().With(slog.String("component", "ledger.reconciler"))
}
