package repos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"retrocart/internal/domain"
)

type PaymentRepo struct{ q sqlx.ExtContext }

func NewPaymentRepo(db *sqlx.DB) *PaymentRepo { return &PaymentRepo{q: db} }

func (r *PaymentRepo) With(tx *sqlx.Tx) *PaymentRepo { return &PaymentRepo{q: tx} }

type paymentRow struct {
	ID             string          `db:"id"`
	OrderID        string          `db:"order_id"`
	Status         string          `db:"status"`
	Gateway        string          `db:"gateway"`
	TransactionRef string          `db:"transaction_ref"`
	IdempotencyKey string          `db:"idempotency_key"`
	CheckoutURL    string          `db:"checkout_url"`
	Amount         decimal.Decimal `db:"amount"`
	CreatedAt      string          `db:"created_at"`
	UpdatedAt      string          `db:"updated_at"`
}

const paymentCols = `id, order_id, status, gateway, transaction_ref, idempotency_key, checkout_url, amount, created_at, updated_at`

func (row paymentRow) payment() domain.Payment {
	return domain.Payment{
		ID:             row.ID,
		OrderID:        row.OrderID,
		Status:         domain.PaymentStatus(row.Status),
		Gateway:        row.Gateway,
		TransactionRef: row.TransactionRef,
		IdempotencyKey: row.IdempotencyKey,
		CheckoutURL:    row.CheckoutURL,
		Amount:         row.Amount,
		CreatedAt:      parseTS(row.CreatedAt),
		UpdatedAt:      parseTS(row.UpdatedAt),
	}
}

// Insert stores a new payment attempt. A duplicate idempotency key yields ErrConflict.
func (r *PaymentRepo) Insert(ctx context.Context, p domain.Payment) error {
	var dup int
	if err := sqlx.GetContext(ctx, r.q, &dup, `SELECT COUNT(*) FROM payments WHERE idempotency_key = ?`, p.IdempotencyKey); err != nil {
		return err
	}
	if dup > 0 {
		return ErrConflict
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO payments(`+paymentCols+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.OrderID, string(p.Status), p.Gateway, p.TransactionRef, p.IdempotencyKey,
		p.CheckoutURL, p.Amount.String(), ts(p.CreatedAt), ts(p.UpdatedAt))
	return err
}

func (r *PaymentRepo) Get(ctx context.Context, id string) (domain.Payment, error) {
	var row paymentRow
	if err := sqlx.GetContext(ctx, r.q, &row, `SELECT `+paymentCols+` FROM payments WHERE id = ?`, id); err != nil {
		return domain.Payment{}, notFound(err)
	}
	return row.payment(), nil
}

func (r *PaymentRepo) ByIdempotencyKey(ctx context.Context, key string) (domain.Payment, error) {
	var row paymentRow
	if err := sqlx.GetContext(ctx, r.q, &row, `SELECT `+paymentCols+` FROM payments WHERE idempotency_key = ?`, key); err != nil {
		return domain.Payment{}, notFound(err)
	}
	return row.payment(), nil
}

// ListByOrder returns every attempt for an order, oldest first.
func (r *PaymentRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	var rows []paymentRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT `+paymentCols+` FROM payments WHERE order_id = ? ORDER BY created_at, id
	`, orderID); err != nil {
		return nil, err
	}
	out := make([]domain.Payment, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.payment())
	}
	return out, nil
}

// UpdateStatus applies a compare-and-set transition; ErrConflict when the row
// has already left from.
func (r *PaymentRepo) UpdateStatus(ctx context.Context, id string, from, to domain.PaymentStatus) error {
	res, err := r.q.ExecContext(ctx, `UPDATE payments SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), ts(time.Now()), id, string(from))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}
