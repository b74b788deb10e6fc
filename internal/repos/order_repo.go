package repos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"retrocart/internal/domain"
)

type OrderRepo struct{ q sqlx.ExtContext }

func NewOrderRepo(db *sqlx.DB) *OrderRepo { return &OrderRepo{q: db} }

func (r *OrderRepo) With(tx *sqlx.Tx) *OrderRepo { return &OrderRepo{q: tx} }

type orderRow struct {
	ID               string          `db:"id"`
	SessionID        string          `db:"session_id"`
	UserID           string          `db:"user_id"`
	GuestName        string          `db:"guest_name"`
	GuestEmail       string          `db:"guest_email"`
	ShipName         string          `db:"ship_name"`
	ShipLine1        string          `db:"ship_line1"`
	ShipCity         string          `db:"ship_city"`
	ShipPostal       string          `db:"ship_postal"`
	ShipCountry      string          `db:"ship_country"`
	Total            decimal.Decimal `db:"total"`
	Status           string          `db:"status"`
	PaymentStatus    string          `db:"payment_status"`
	CurrentPaymentID string          `db:"current_payment_id"`
	ReservationHeld  bool            `db:"reservation_held"`
	TrackingRef      string          `db:"tracking_ref"`
	CreatedAt        string          `db:"created_at"`
	UpdatedAt        string          `db:"updated_at"`
}

const orderCols = `id, COALESCE(session_id,'') AS session_id, COALESCE(user_id,'') AS user_id,
	guest_name, guest_email, ship_name, ship_line1, ship_city, ship_postal, ship_country,
	total, status, payment_status, COALESCE(current_payment_id,'') AS current_payment_id,
	reservation_held, tracking_ref, created_at, updated_at`

func (row orderRow) order() domain.Order {
	return domain.Order{
		ID:            row.ID,
		Status:        domain.OrderStatus(row.Status),
		PaymentStatus: domain.PaymentState(row.PaymentStatus),
		Items:         []domain.OrderItem{},
		TotalAmount:   row.Total,
		Shipping: domain.ShippingInfo{
			Name: row.ShipName, Line1: row.ShipLine1, City: row.ShipCity,
			PostalCode: row.ShipPostal, Country: row.ShipCountry,
		},
		UserID:      row.UserID,
		GuestName:   row.GuestName,
		GuestEmail:  row.GuestEmail,
		SessionID:   row.SessionID,
		TrackingRef: row.TrackingRef,
		CreatedAt:   parseTS(row.CreatedAt),
		UpdatedAt:   parseTS(row.UpdatedAt),
	}
}

type orderItemRow struct {
	ItemKey      string          `db:"item_key"`
	ProductID    string          `db:"product_id"`
	Title        string          `db:"title"`
	OptionsJSON  string          `db:"options_json"`
	Qty          int             `db:"qty"`
	PriceAtOrder decimal.Decimal `db:"price_at_order"`
}

// OrderMeta carries the bookkeeping columns that are not part of the public order.
type OrderMeta struct {
	CurrentPaymentID string
	ReservationHeld  bool
}

// Create inserts the order header and its frozen item snapshot.
func (r *OrderRepo) Create(ctx context.Context, o domain.Order) error {
	now := ts(o.CreatedAt)
	var userID any
	if o.UserID != "" {
		userID = o.UserID
	}
	if _, err := r.q.ExecContext(ctx, `
	  INSERT INTO orders
	    (id, session_id, user_id, guest_name, guest_email, ship_name, ship_line1, ship_city, ship_postal, ship_country,
	     total, status, payment_status, reservation_held, created_at, updated_at)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`, o.ID, o.SessionID, userID, o.GuestName, o.GuestEmail,
		o.Shipping.Name, o.Shipping.Line1, o.Shipping.City, o.Shipping.PostalCode, o.Shipping.Country,
		o.TotalAmount.String(), string(o.Status), string(o.PaymentStatus), now, now); err != nil {
		return err
	}
	for _, it := range o.Items {
		opts, _ := json.Marshal(it.SelectedOptions)
		if _, err := r.q.ExecContext(ctx, `
		  INSERT INTO order_items(order_id, item_key, product_id, title, options_json, qty, price_at_order)
		  VALUES(?, ?, ?, ?, ?, ?, ?)
		`, o.ID, it.ItemKey, it.ProductID, it.Title, string(opts), it.Quantity, it.PriceAtOrder.String()); err != nil {
			return err
		}
	}
	return nil
}

// Get loads an order with its items and current payment.
func (r *OrderRepo) Get(ctx context.Context, id string) (domain.Order, OrderMeta, error) {
	var row orderRow
	if err := sqlx.GetContext(ctx, r.q, &row, `SELECT `+orderCols+` FROM orders WHERE id = ?`, id); err != nil {
		return domain.Order{}, OrderMeta{}, notFound(err)
	}
	o := row.order()
	meta := OrderMeta{CurrentPaymentID: row.CurrentPaymentID, ReservationHeld: row.ReservationHeld}

	var items []orderItemRow
	if err := sqlx.SelectContext(ctx, r.q, &items, `
		SELECT item_key, product_id, title, options_json, qty, price_at_order
		FROM order_items WHERE order_id = ?
		ORDER BY item_key
	`, id); err != nil {
		return domain.Order{}, OrderMeta{}, err
	}
	for _, it := range items {
		opts := map[string]string{}
		_ = json.Unmarshal([]byte(it.OptionsJSON), &opts)
		o.Items = append(o.Items, domain.OrderItem{
			ItemKey:         it.ItemKey,
			ProductID:       it.ProductID,
			Title:           it.Title,
			SelectedOptions: opts,
			Quantity:        it.Qty,
			PriceAtOrder:    it.PriceAtOrder,
			Subtotal:        it.PriceAtOrder.Mul(decimal.NewFromInt(int64(it.Qty))),
		})
	}

	if meta.CurrentPaymentID != "" {
		p, err := (&PaymentRepo{q: r.q}).Get(ctx, meta.CurrentPaymentID)
		if err != nil {
			return domain.Order{}, OrderMeta{}, err
		}
		o.CurrentPayment = &p
	}
	return o, meta, nil
}

func (r *OrderRepo) list(ctx context.Context, where string, args ...any) ([]domain.Order, error) {
	var rows []orderRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, `SELECT `+orderCols+` FROM orders `+where, args...); err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.order())
	}
	return out, nil
}

func (r *OrderRepo) ListLatest(ctx context.Context, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, `ORDER BY created_at DESC LIMIT ?`, limit)
}

func (r *OrderRepo) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return r.list(ctx, `WHERE user_id = ? ORDER BY created_at DESC`, userID)
}

// ListBySession returns orders tied to a session (guest or pre-login orders).
func (r *OrderRepo) ListBySession(ctx context.Context, sessionID string) ([]domain.Order, error) {
	return r.list(ctx, `WHERE session_id = ? ORDER BY created_at DESC`, sessionID)
}

// UpdateStatus moves an order from one status to another; ErrConflict if it
// was no longer in from.
func (r *OrderRepo) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus) error {
	res, err := r.q.ExecContext(ctx, `UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), ts(time.Now()), id, string(from))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (r *OrderRepo) SetTrackingRef(ctx context.Context, id, ref string) error {
	_, err := r.q.ExecContext(ctx, `UPDATE orders SET tracking_ref = ? WHERE id = ?`, ref, id)
	return err
}

// SetCurrentPayment points the order at its newest payment attempt.
func (r *OrderRepo) SetCurrentPayment(ctx context.Context, id, paymentID string) error {
	_, err := r.q.ExecContext(ctx, `UPDATE orders SET current_payment_id = ?, updated_at = ? WHERE id = ?`,
		paymentID, ts(time.Now()), id)
	return err
}

func (r *OrderRepo) SetPaymentState(ctx context.Context, id string, st domain.PaymentState) error {
	_, err := r.q.ExecContext(ctx, `UPDATE orders SET payment_status = ?, updated_at = ? WHERE id = ?`,
		string(st), ts(time.Now()), id)
	return err
}

// ClearReservation marks the order's stock hold as settled (committed or released).
func (r *OrderRepo) ClearReservation(ctx context.Context, id string) (bool, error) {
	res, err := r.q.ExecContext(ctx, `UPDATE orders SET reservation_held = 0 WHERE id = ? AND reservation_held = 1`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *OrderRepo) AppendHistory(ctx context.Context, id string, from, to domain.OrderStatus, actor string) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO order_status_history(order_id, from_status, to_status, actor, at)
		VALUES(?, ?, ?, ?, ?)
	`, id, string(from), string(to), actor, ts(time.Now()))
	return err
}

type HistoryEntry struct {
	From  string `db:"from_status" json:"from"`
	To    string `db:"to_status" json:"to"`
	Actor string `db:"actor" json:"actor"`
	At    string `db:"at" json:"at"`
}

func (r *OrderRepo) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	out := []HistoryEntry{}
	err := sqlx.SelectContext(ctx, r.q, &out, `
		SELECT from_status, to_status, actor, at FROM order_status_history
		WHERE order_id = ? ORDER BY id
	`, id)
	return out, err
}
