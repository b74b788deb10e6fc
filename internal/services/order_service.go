package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"retrocart/internal/domain"
	"retrocart/internal/events"
	applog "retrocart/internal/log"
	"retrocart/internal/metrics"
	"retrocart/internal/repos"
	"retrocart/internal/validate"
)

type OrderService struct {
	DB      *sqlx.DB
	Carts   *repos.CartRepo
	Prods   *repos.ProductRepo
	Inv     *repos.InventoryRepo
	Orders  *repos.OrderRepo
	Auth    *AuthService
	Events  events.Publisher
	Metrics *metrics.Metrics
}

func NewOrderService(db *sqlx.DB, auth *AuthService, pub events.Publisher, m *metrics.Metrics) *OrderService {
	return &OrderService{
		DB:      db,
		Carts:   repos.NewCartRepo(db),
		Prods:   repos.NewProductRepo(db),
		Inv:     repos.NewInventoryRepo(db),
		Orders:  repos.NewOrderRepo(db),
		Auth:    auth,
		Events:  pub,
		Metrics: m,
	}
}

// PlaceForUser turns the session cart into an order owned by the signed-in user.
func (s *OrderService) PlaceForUser(ctx context.Context, p Principal, ship domain.ShippingInfo) (domain.Order, error) {
	if p.User == nil {
		return domain.Order{}, ErrUnauthorized
	}
	return s.place(ctx, p, domain.GuestInfo{}, ship)
}

// PlaceForGuest turns the session cart into an order identified by guest contact details.
func (s *OrderService) PlaceForGuest(ctx context.Context, p Principal, guest domain.GuestInfo, ship domain.ShippingInfo) (domain.Order, error) {
	if fields, err := validate.Struct(guest); err != nil {
		return domain.Order{}, validationError(fmt.Sprintf("guest details are incomplete: %v", fields))
	}
	return s.place(ctx, Principal{SessionID: p.SessionID}, guest, ship)
}

func (s *OrderService) place(ctx context.Context, p Principal, guest domain.GuestInfo, ship domain.ShippingInfo) (domain.Order, error) {
	if fields, err := validate.Struct(ship); err != nil {
		return domain.Order{}, validationError(fmt.Sprintf("shipping details are incomplete: %v", fields))
	}
	now := time.Now().UTC()
	o := domain.Order{
		ID:            "ord_" + uuid.NewString(),
		Status:        domain.StatusPending,
		PaymentStatus: domain.OrderUnpaid,
		Shipping:      ship,
		UserID:        p.UserID(),
		GuestName:     guest.Name,
		GuestEmail:    guest.Email,
		SessionID:     p.SessionID,
		TotalAmount:   decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	var cartTotal decimal.Decimal

	err := repos.Tx(ctx, s.DB, func(tx *sqlx.Tx) error {
		carts := s.Carts.With(tx)
		cartID, err := carts.EnsureCart(ctx, p.SessionID)
		if err != nil {
			return err
		}
		lines, err := carts.Lines(ctx, cartID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}
		cartTotal = domain.NewCart(lines).TotalAmount

		prods := s.Prods.With(tx)
		for _, l := range lines {
			prod, err := prods.Get(ctx, l.ProductID)
			if errors.Is(err, repos.ErrNotFound) {
				return validationError(fmt.Sprintf("%s is no longer available", l.Title))
			} else if err != nil {
				return err
			}
			item := domain.OrderItem{
				ItemKey:         l.ItemKey,
				ProductID:       l.ProductID,
				Title:           prod.Title,
				SelectedOptions: l.SelectedOptions,
				Quantity:        l.Quantity,
				PriceAtOrder:    prod.Price,
				Subtotal:        prod.Price.Mul(decimal.NewFromInt(int64(l.Quantity))),
			}
			o.Items = append(o.Items, item)
			o.TotalAmount = o.TotalAmount.Add(item.Subtotal)
		}

		inv := s.Inv.With(tx)
		ids, qty := aggregate(o.Items)
		for _, id := range ids {
			if err := inv.Reserve(ctx, id, qty[id]); err != nil {
				if !errors.Is(err, repos.ErrConflict) {
					return err
				}
				rec, _ := inv.Get(ctx, id)
				if s.Metrics != nil {
					s.Metrics.InsufficientStock.Inc()
				}
				return insufficientStock(id, rec.AvailableQuantity)
			}
		}
		if err := s.Orders.With(tx).Create(ctx, o); err != nil {
			return err
		}
		return carts.Clear(ctx, cartID)
	})
	if err != nil {
		return domain.Order{}, err
	}

	if !cartTotal.Equal(o.TotalAmount) {
		applog.L().Info("order.price_changed",
			zap.String("order_id", o.ID),
			zap.String("cart_total", cartTotal.String()),
			zap.String("order_total", o.TotalAmount.String()))
	}
	if s.Metrics != nil {
		s.Metrics.OrdersPlaced.Inc()
	}
	s.Events.Publish(ctx, events.Event{
		Type: events.OrderPlaced, OrderID: o.ID, At: now,
		Data: map[string]any{"total": o.TotalAmount.String(), "guest": o.Guest()},
	})

	placed, _, err := s.Orders.Get(ctx, o.ID)
	return placed, err
}

// Get returns an order to its owner (same session or same user) or to an
// operator. Everyone else gets NOT_FOUND.
func (s *OrderService) Get(ctx context.Context, p Principal, id string) (domain.Order, error) {
	o, _, err := s.Orders.Get(ctx, id)
	if errors.Is(err, repos.ErrNotFound) {
		return domain.Order{}, notFound("order")
	} else if err != nil {
		return domain.Order{}, err
	}
	if owns(p, o) {
		return o, nil
	}
	caps, err := s.Auth.Capabilities(ctx, p)
	if err != nil {
		return domain.Order{}, err
	}
	if !caps.Any() {
		return domain.Order{}, notFound("order")
	}
	return o, nil
}

func owns(p Principal, o domain.Order) bool {
	if p.SessionID != "" && p.SessionID == o.SessionID {
		return true
	}
	return p.UserID() != "" && p.UserID() == o.UserID
}

// ListMine lists the principal's orders, falling back to orders placed by the
// session before sign-in.
func (s *OrderService) ListMine(ctx context.Context, p Principal) ([]domain.Order, error) {
	if p.User != nil {
		orders, err := s.Orders.ListByUser(ctx, p.User.ID)
		if err != nil || len(orders) > 0 {
			return orders, err
		}
	}
	return s.Orders.ListBySession(ctx, p.SessionID)
}

// ListLatest is the operator view of recent orders.
func (s *OrderService) ListLatest(ctx context.Context, p Principal, limit int) ([]domain.Order, error) {
	caps, err := s.Auth.Capabilities(ctx, p)
	if err != nil {
		return nil, err
	}
	if !caps.Any() {
		return nil, ErrForbidden
	}
	return s.Orders.ListLatest(ctx, limit)
}

func (s *OrderService) History(ctx context.Context, p Principal, id string) ([]repos.HistoryEntry, error) {
	if _, err := s.Get(ctx, p, id); err != nil {
		return nil, err
	}
	return s.Orders.History(ctx, id)
}

// aggregate sums item quantities per product, ids sorted so reservations
// always touch rows in the same order.
func aggregate(items []domain.OrderItem) ([]string, map[string]int) {
	qty := map[string]int{}
	for _, it := range items {
		qty[it.ProductID] += it.Quantity
	}
	ids := make([]string, 0, len(qty))
	for id := range qty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, qty
}
