package repos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"retrocart/internal/domain"
)

type CartRepo struct{ q sqlx.ExtContext }

func NewCartRepo(db *sqlx.DB) *CartRepo { return &CartRepo{q: db} }

func (r *CartRepo) With(tx *sqlx.Tx) *CartRepo { return &CartRepo{q: tx} }

type cartItemRow struct {
	ItemKey     string          `db:"item_key"`
	ProductID   string          `db:"product_id"`
	Title       string          `db:"title"`
	OptionsJSON string          `db:"options_json"`
	Qty         int             `db:"qty"`
	PriceAtAdd  decimal.Decimal `db:"price_at_add"`
}

func (row cartItemRow) line() domain.CartLine {
	opts := map[string]string{}
	_ = json.Unmarshal([]byte(row.OptionsJSON), &opts)
	return domain.CartLine{
		ItemKey:         row.ItemKey,
		ProductID:       row.ProductID,
		Title:           row.Title,
		SelectedOptions: opts,
		Quantity:        row.Qty,
		PriceAtAdd:      row.PriceAtAdd,
	}
}

// EnsureCart returns the cart id of a session, creating the cart on first use.
func (r *CartRepo) EnsureCart(ctx context.Context, sessionID string) (string, error) {
	var cartID string
	if err := sqlx.GetContext(ctx, r.q, &cartID, `SELECT id FROM carts WHERE session_id = ?`, sessionID); err == nil {
		return cartID, nil
	}
	_, err := r.q.ExecContext(ctx, `INSERT INTO carts(id,session_id,updated_at) VALUES(?,?,?) ON CONFLICT(session_id) DO NOTHING`,
		sessionID, sessionID, ts(time.Now()))
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

// Lines returns cart lines in insertion order.
func (r *CartRepo) Lines(ctx context.Context, cartID string) ([]domain.CartLine, error) {
	rows := []cartItemRow{}
	if err := sqlx.SelectContext(ctx, r.q, &rows, `
	  SELECT ci.item_key, ci.product_id, p.title, ci.options_json, ci.qty, ci.price_at_add
	  FROM cart_items ci JOIN products p ON p.id = ci.product_id
	  WHERE ci.cart_id = ?
	  ORDER BY ci.created_at, ci.item_key
	`, cartID); err != nil {
		return nil, err
	}
	out := make([]domain.CartLine, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.line())
	}
	return out, nil
}

// AddItem inserts a line or increases the quantity of an existing one.
func (r *CartRepo) AddItem(ctx context.Context, cartID string, line domain.CartLine) error {
	opts, _ := json.Marshal(line.SelectedOptions)
	now := ts(time.Now())
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO cart_items(cart_id,item_key,product_id,options_json,qty,price_at_add,created_at,updated_at)
		VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT(cart_id,item_key) DO UPDATE
		SET qty = cart_items.qty + excluded.qty, updated_at = excluded.updated_at
	`, cartID, line.ItemKey, line.ProductID, string(opts), line.Quantity, line.PriceAtAdd.String(), now, now)
	return err
}

// SetQuantity overwrites the quantity of one line.
func (r *CartRepo) SetQuantity(ctx context.Context, cartID, itemKey string, qty int) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE cart_items SET qty = ?, updated_at = ?
		WHERE cart_id = ? AND item_key = ?
	`, qty, ts(time.Now()), cartID, itemKey)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveItem deletes exactly one line.
func (r *CartRepo) RemoveItem(ctx context.Context, cartID, itemKey string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = ? AND item_key = ?`, cartID, itemKey)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *CartRepo) Clear(ctx context.Context, cartID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = ?`, cartID)
	return err
}
