package repos

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"retrocart/internal/domain"
)

type InventoryRepo struct{ q sqlx.ExtContext }

func NewInventoryRepo(db *sqlx.DB) *InventoryRepo { return &InventoryRepo{q: db} }

func (r *InventoryRepo) With(tx *sqlx.Tx) *InventoryRepo { return &InventoryRepo{q: tx} }

// InventoryRow is used by the admin inventory listing.
type InventoryRow struct {
	domain.StockRecord
	Title string `db:"title" json:"title"`
}

const stockCols = `i.product_id, i.stock_qty, i.reserved_qty, (i.stock_qty - i.reserved_qty) AS available_qty`

func (r *InventoryRepo) ListAll(ctx context.Context) ([]InventoryRow, error) {
	rows := []InventoryRow{}
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT `+stockCols+`, p.title
		FROM inventory i
		JOIN products p ON p.id = i.product_id
		ORDER BY p.title
	`)
	return rows, err
}

func (r *InventoryRepo) Get(ctx context.Context, productID string) (domain.StockRecord, error) {
	var s domain.StockRecord
	err := sqlx.GetContext(ctx, r.q, &s, `SELECT `+stockCols+` FROM inventory i WHERE i.product_id = ?`, productID)
	return s, notFound(err)
}

// Batch returns records for the ids that exist; missing ids are simply absent.
func (r *InventoryRepo) Batch(ctx context.Context, ids []string) ([]domain.StockRecord, error) {
	out := []domain.StockRecord{}
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT `+stockCols+` FROM inventory i WHERE i.product_id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	err = sqlx.SelectContext(ctx, r.q, &out, r.q.Rebind(query), args...)
	return out, err
}

// Reserve holds qty units if enough are available.
func (r *InventoryRepo) Reserve(ctx context.Context, productID string, qty int) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE inventory
		SET reserved_qty = reserved_qty + ?, updated_at = ?
		WHERE product_id = ? AND stock_qty - reserved_qty >= ?
	`, qty, ts(time.Now()), productID, qty)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("insufficient stock for %s: %w", productID, ErrConflict)
	}
	return nil
}

// Release drops a reservation without touching stock.
func (r *InventoryRepo) Release(ctx context.Context, productID string, qty int) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE inventory
		SET reserved_qty = MAX(reserved_qty - ?, 0), updated_at = ?
		WHERE product_id = ?
	`, qty, ts(time.Now()), productID)
	return err
}

// Commit converts a reservation into a sale.
func (r *InventoryRepo) Commit(ctx context.Context, productID string, qty int) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE inventory
		SET stock_qty = MAX(stock_qty - ?, 0), reserved_qty = MAX(reserved_qty - ?, 0), updated_at = ?
		WHERE product_id = ?
	`, qty, qty, ts(time.Now()), productID)
	return err
}

// SetStock sets the on-hand count, creating the row if needed.
func (r *InventoryRepo) SetStock(ctx context.Context, productID string, qty int) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO inventory(product_id, stock_qty, reserved_qty, updated_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(product_id) DO UPDATE SET stock_qty = excluded.stock_qty, updated_at = excluded.updated_at
	`, productID, qty, ts(time.Now()))
	return err
}
