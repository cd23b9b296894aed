package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doorscomputers/stockflow/internal/ledger"
	"github.com/doorscomputers/stockflow/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for stock transfers.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. Ledger gives access to the
// stock ledger inside the same transaction, so a status flip and its ledger
// entries commit or roll back together.
type TxRepository interface {
	GetForUpdate(ctx context.Context, businessID, id int64) (*Transfer, error)
	Insert(ctx context.Context, t Transfer) (int64, error)
	InsertItems(ctx context.Context, transferID int64, items []Item) error
	UpdateHeader(ctx context.Context, id int64, updates map[string]interface{}) error
	UpdateItem(ctx context.Context, itemID int64, updates map[string]interface{}) error
	Ledger() ledger.TxRepository
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const transferColumns = `id, business_id, transfer_no, from_location_id, to_location_id,
       status, created_by, checked_by, sent_by, arrived_by, verified_by, completed_by,
       stock_deducted, stock_added, reject_reason, notes, created_at, updated_at`

func scanTransfer(row pgx.Row) (*Transfer, error) {
	var t Transfer
	err := row.Scan(
		&t.ID, &t.BusinessID, &t.TransferNo, &t.FromLocationID, &t.ToLocationID,
		&t.Status, &t.CreatedBy, &t.CheckedBy, &t.SentBy, &t.ArrivedBy,
		&t.VerifiedBy, &t.CompletedBy, &t.StockDeducted, &t.StockAdded,
		&t.RejectReason, &t.Notes, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ============================================================================
// POOL-BACKED READS
// ============================================================================

// Get retrieves a transfer with its items, scoped to the business.
func (r *Repository) Get(ctx context.Context, businessID, id int64) (*Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM stock_transfers WHERE business_id = $1 AND id = $2`
	t, err := scanTransfer(r.pool.QueryRow(ctx, query, businessID, id))
	if err != nil {
		return nil, err
	}
	items, err := r.getItems(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Items = items
	return t, nil
}

func (r *Repository) getItems(ctx context.Context, transferID int64) ([]Item, error) {
	query := `
		SELECT id, transfer_id, product_id, variation_id, quantity,
		       received_quantity, verified, has_discrepancy
		FROM stock_transfer_items
		WHERE transfer_id = $1
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(
			&it.ID, &it.TransferID, &it.ProductID, &it.VariationID, &it.Quantity,
			&it.ReceivedQty, &it.Verified, &it.HasDiscrepancy,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// List returns a filtered, paginated page of transfers plus the total count.
func (r *Repository) List(ctx context.Context, businessID int64, req ListRequest, limit, offset int) ([]Transfer, int, error) {
	conditions := []string{"business_id = $1"}
	args := []interface{}{businessID}
	idx := 2

	if req.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", idx))
		args = append(args, *req.Status)
		idx++
	}
	if req.FromLocationID != nil {
		conditions = append(conditions, fmt.Sprintf("from_location_id = $%d", idx))
		args = append(args, *req.FromLocationID)
		idx++
	}
	if req.ToLocationID != nil {
		conditions = append(conditions, fmt.Sprintf("to_location_id = $%d", idx))
		args = append(args, *req.ToLocationID)
		idx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM stock_transfers WHERE ` + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM stock_transfers WHERE %s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		transferColumns, where, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var transfers []Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, 0, err
		}
		transfers = append(transfers, *t)
	}
	return transfers, total, rows.Err()
}

// NextTransferNumber allocates the next sequential document number for the
// business, formatted TRF-YYYYMMDD-NNNN.
func (r *Repository) NextTransferNumber(ctx context.Context, businessID int64, day time.Time) (string, error) {
	prefix := fmt.Sprintf("TRF-%s-", day.Format("20060102"))
	query := `
		SELECT COALESCE(MAX(CAST(SUBSTRING(transfer_no FROM $2) AS INTEGER)), 0)
		FROM stock_transfers
		WHERE business_id = $1 AND transfer_no LIKE $3
	`
	var last int
	err := r.pool.QueryRow(ctx, query, businessID, len(prefix)+1, prefix+"%").Scan(&last)
	if err != nil {
		return "", fmt.Errorf("next transfer number: %w", err)
	}
	return fmt.Sprintf("%s%04d", prefix, last+1), nil
}

// ============================================================================
// TRANSACTIONAL OPERATIONS
// ============================================================================

// GetForUpdate loads a transfer and its items with a row lock on the header.
// Concurrent transitions against the same transfer serialize here.
func (r *txRepo) GetForUpdate(ctx context.Context, businessID, id int64) (*Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM stock_transfers WHERE business_id = $1 AND id = $2 FOR UPDATE`
	t, err := scanTransfer(r.tx.QueryRow(ctx, query, businessID, id))
	if err != nil {
		return nil, err
	}

	rows, err := r.tx.Query(ctx, `
		SELECT id, transfer_id, product_id, variation_id, quantity,
		       received_quantity, verified, has_discrepancy
		FROM stock_transfer_items
		WHERE transfer_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		if err := rows.Scan(
			&it.ID, &it.TransferID, &it.ProductID, &it.VariationID, &it.Quantity,
			&it.ReceivedQty, &it.Verified, &it.HasDiscrepancy,
		); err != nil {
			return nil, err
		}
		t.Items = append(t.Items, it)
	}
	return t, rows.Err()
}

// Insert creates the transfer header.
func (r *txRepo) Insert(ctx context.Context, t Transfer) (int64, error) {
	query := `
		INSERT INTO stock_transfers (
			business_id, transfer_no, from_location_id, to_location_id,
			status, created_by, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id
	`
	var id int64
	err := r.tx.QueryRow(ctx, query,
		t.BusinessID, t.TransferNo, t.FromLocationID, t.ToLocationID,
		t.Status, t.CreatedBy, t.Notes,
	).Scan(&id)
	return id, err
}

// InsertItems creates the line rows for a transfer.
func (r *txRepo) InsertItems(ctx context.Context, transferID int64, items []Item) error {
	query := `
		INSERT INTO stock_transfer_items (transfer_id, product_id, variation_id, quantity)
		VALUES ($1, $2, $3, $4)
	`
	for _, it := range items {
		if _, err := r.tx.Exec(ctx, query, transferID, it.ProductID, it.VariationID, it.Quantity); err != nil {
			return fmt.Errorf("insert item variation %d: %w", it.VariationID, err)
		}
	}
	return nil
}

// UpdateHeader applies a partial update to the transfer header.
func (r *txRepo) UpdateHeader(ctx context.Context, id int64, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	set := make([]string, 0, len(updates)+1)
	args := make([]interface{}, 0, len(updates)+1)
	idx := 1
	for col, val := range updates {
		set = append(set, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}
	set = append(set, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE stock_transfers SET %s WHERE id = $%d", strings.Join(set, ", "), idx)
	tag, err := r.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransferNotFound
	}
	return nil
}

// UpdateItem applies a partial update to one transfer line.
func (r *txRepo) UpdateItem(ctx context.Context, itemID int64, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	set := make([]string, 0, len(updates))
	args := make([]interface{}, 0, len(updates)+1)
	idx := 1
	for col, val := range updates {
		set = append(set, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}
	args = append(args, itemID)

	query := fmt.Sprintf("UPDATE stock_transfer_items SET %s WHERE id = $%d", strings.Join(set, ", "), idx)
	tag, err := r.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Ledger exposes the stock ledger bound to this transaction.
func (r *txRepo) Ledger() ledger.TxRepository {
	return ledger.NewTx(r.tx)
}
