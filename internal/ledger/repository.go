package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doorscomputers/stockflow/internal/platform/db"
)

// Repository persists ledger entries and projections in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the store and the
// reconciler. Other modules obtain one via NewTx to join their own
// transaction, so ledger writes and their own status flips commit together.
type TxRepository interface {
	GetProjectionForUpdate(ctx context.Context, variationID, locationID int64) (Projection, error)
	InsertEntry(ctx context.Context, e Entry) (int64, error)
	UpsertProjection(ctx context.Context, p Projection) error
	SumDeltas(ctx context.Context, variationID, locationID int64) (float64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// NewTx wraps an open pgx transaction with ledger operations.
func NewTx(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTx(tx))
	})
}

// GetProjection reads a projection without locking it.
func (r *Repository) GetProjection(ctx context.Context, variationID, locationID int64) (Projection, error) {
	if r == nil {
		return Projection{}, errors.New("ledger repository not initialised")
	}
	var p Projection
	err := r.pool.QueryRow(ctx, `SELECT variation_id, location_id, qty_available, selling_price, updated_at
FROM stock_projections WHERE variation_id=$1 AND location_id=$2`, variationID, locationID).
		Scan(&p.VariationID, &p.LocationID, &p.QtyAvailable, &p.SellingPrice, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Projection{VariationID: variationID, LocationID: locationID}, ErrProjectionNotFound
		}
		return Projection{}, err
	}
	return p, nil
}

// History lists ledger entries for a pair, oldest first.
func (r *Repository) History(ctx context.Context, filter HistoryFilter) ([]Entry, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, variation_id, location_id, entry_type, qty_delta, ref_type, ref_id, balance_after, actor_id, occurred_at
FROM stock_ledger
WHERE variation_id=$1 AND location_id=$2 AND occurred_at BETWEEN COALESCE($3, '-infinity') AND COALESCE($4, 'infinity')
ORDER BY occurred_at ASC, id ASC
LIMIT $5`, filter.VariationID, filter.LocationID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var typ string
		if err := rows.Scan(&e.ID, &e.VariationID, &e.LocationID, &typ, &e.QtyDelta, &e.RefType, &e.RefID, &e.BalanceAfter, &e.ActorID, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Type = EntryType(typ)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ListDrifts finds pairs whose projection disagrees with the ledger sum.
// Pairs with ledger activity but no projection row count as projected zero.
func (r *Repository) ListDrifts(ctx context.Context) ([]Drift, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT e.variation_id, e.location_id,
       COALESCE(p.qty_available, 0)::double precision AS projected,
       SUM(e.qty_delta)::double precision AS expected
FROM stock_ledger e
LEFT JOIN stock_projections p ON p.variation_id = e.variation_id AND p.location_id = e.location_id
GROUP BY e.variation_id, e.location_id, p.qty_available
HAVING ABS(COALESCE(p.qty_available, 0) - SUM(e.qty_delta)) > 0.0001
ORDER BY e.variation_id, e.location_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var drifts []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.VariationID, &d.LocationID, &d.Projected, &d.Expected); err != nil {
			return nil, err
		}
		drifts = append(drifts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return drifts, nil
}

// CountActivePairs counts pairs with any ledger activity.
func (r *Repository) CountActivePairs(ctx context.Context) (int, error) {
	if r == nil {
		return 0, errors.New("ledger repository not initialised")
	}
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM (SELECT DISTINCT variation_id, location_id FROM stock_ledger) pairs`).Scan(&count)
	return count, err
}

func (r *txRepository) GetProjectionForUpdate(ctx context.Context, variationID, locationID int64) (Projection, error) {
	var p Projection
	err := r.tx.QueryRow(ctx, `SELECT variation_id, location_id, qty_available, selling_price, updated_at
FROM stock_projections WHERE variation_id=$1 AND location_id=$2 FOR UPDATE`, variationID, locationID).
		Scan(&p.VariationID, &p.LocationID, &p.QtyAvailable, &p.SellingPrice, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Projection{VariationID: variationID, LocationID: locationID}, ErrProjectionNotFound
		}
		return Projection{}, err
	}
	return p, nil
}

func (r *txRepository) InsertEntry(ctx context.Context, e Entry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_ledger (variation_id, location_id, entry_type, qty_delta, ref_type, ref_id, balance_after, actor_id, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		e.VariationID, e.LocationID, string(e.Type), e.QtyDelta, e.RefType, nullInt(e.RefID), e.BalanceAfter, nullInt(e.ActorID), e.OccurredAt).Scan(&id)
	return id, err
}

func (r *txRepository) UpsertProjection(ctx context.Context, p Projection) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_projections (variation_id, location_id, qty_available, selling_price, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (variation_id, location_id) DO UPDATE SET qty_available=EXCLUDED.qty_available, selling_price=EXCLUDED.selling_price, updated_at=NOW()`,
		p.VariationID, p.LocationID, p.QtyAvailable, p.SellingPrice)
	return err
}

func (r *txRepository) SumDeltas(ctx context.Context, variationID, locationID int64) (float64, error) {
	var sum float64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(qty_delta), 0)::double precision FROM stock_ledger WHERE variation_id=$1 AND location_id=$2`,
		variationID, locationID).Scan(&sum)
	return sum, err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
