package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/doorscomputers/stockflow/internal/jobs"
	"github.com/doorscomputers/stockflow/internal/ledger"
	"github.com/doorscomputers/stockflow/internal/shared"
)

// reconcileLockTTL bounds how long a crashed run can block the next one.
const reconcileLockTTL = 10 * time.Minute

// NewLedgerReconcileHandler builds the handler for scheduled and on-demand
// reconciliation runs. A redis lock keeps concurrent workers from running
// the scan twice; a held lock skips the run rather than queueing behind it.
func NewLedgerReconcileHandler(rec *ledger.Reconciler, rdb *redis.Client, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload LedgerReconcilePayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}

		lock := shared.NewRedisLock(rdb, shared.ReconcileLockKey(), reconcileLockTTL)
		acquired, err := lock.TryAcquire(ctx)
		if err != nil {
			return err
		}
		if !acquired {
			logger.Info("reconciliation already running, skipping", slog.Bool("fix", payload.Fix))
			return nil
		}
		defer func() {
			if err := lock.Release(ctx); err != nil {
				logger.Warn("reconcile lock release failed", slog.Any("error", err))
			}
		}()

		tracker := metrics.Track("ledger_reconcile")
		report, err := rec.Run(ctx, payload.Fix)
		if err != nil {
			return tracker.End(err)
		}
		metrics.AddDrifts(len(report.Drifts))
		logger.Info("reconciliation job finished",
			slog.Int("pairs", report.PairsScanned),
			slog.Int("drifts", len(report.Drifts)),
			slog.Int("corrected", report.Corrected),
			slog.Bool("fix", payload.Fix),
		)
		return tracker.End(nil)
	}
}

// NewIdempotencyCleanupHandler prunes idempotency keys older than the
// retention window. Old keys only guard replays of long-dead requests.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, retention time.Duration, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("idempotency_cleanup")
		err := store.Cleanup(ctx, retention)
		if err != nil {
			logger.Warn("idempotency cleanup failed", slog.Any("error", err))
		}
		return tracker.End(err)
	}
}
