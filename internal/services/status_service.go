package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"retrocart/internal/domain"
	"retrocart/internal/events"
	applog "retrocart/internal/log"
	"retrocart/internal/metrics"
	"retrocart/internal/repos"
)

// StatusService moves orders through their lifecycle on behalf of operators.
// Every call re-derives the caller's capabilities from stored roles.
type StatusService struct {
	DB       *sqlx.DB
	Orders   *repos.OrderRepo
	Payments *repos.PaymentRepo
	Inv      *repos.InventoryRepo
	Auth     *AuthService
	Events   events.Publisher
	Metrics  *metrics.Metrics
}

func NewStatusService(db *sqlx.DB, auth *AuthService, pub events.Publisher, m *metrics.Metrics) *StatusService {
	return &StatusService{
		DB:       db,
		Orders:   repos.NewOrderRepo(db),
		Payments: repos.NewPaymentRepo(db),
		Inv:      repos.NewInventoryRepo(db),
		Auth:     auth,
		Events:   pub,
		Metrics:  m,
	}
}

// OrderActions is the operator's menu for one order.
type OrderActions struct {
	OrderID      string              `json:"orderId"`
	Status       domain.OrderStatus  `json:"status"`
	Capabilities domain.Capabilities `json:"capabilities"`
	domain.Actions
}

func (s *StatusService) operatorCaps(ctx context.Context, p Principal) (domain.Capabilities, error) {
	if p.User == nil {
		return domain.Capabilities{}, ErrUnauthorized
	}
	caps, err := s.Auth.Capabilities(ctx, p)
	if err != nil {
		return domain.Capabilities{}, err
	}
	if !caps.Any() {
		return domain.Capabilities{}, ErrForbidden
	}
	return caps, nil
}

func (s *StatusService) Actions(ctx context.Context, p Principal, orderID string) (OrderActions, error) {
	caps, err := s.operatorCaps(ctx, p)
	if err != nil {
		return OrderActions{}, err
	}
	o, _, err := s.Orders.Get(ctx, orderID)
	if errors.Is(err, repos.ErrNotFound) {
		return OrderActions{}, notFound("order")
	} else if err != nil {
		return OrderActions{}, err
	}
	return OrderActions{
		OrderID:      o.ID,
		Status:       o.Status,
		Capabilities: caps,
		Actions:      domain.ActionsFor(o.Status, caps),
	}, nil
}

// Transition is the generic "set status" action. Shipping and delivery have
// their own actions and are refused here.
func (s *StatusService) Transition(ctx context.Context, p Principal, orderID, to string) (domain.Order, error) {
	target, ok := domain.ParseOrderStatus(strings.ToUpper(strings.TrimSpace(to)))
	if !ok {
		return domain.Order{}, validationError(fmt.Sprintf("unknown status %q", to))
	}
	if domain.DedicatedTarget(target) {
		return domain.Order{}, newError(http.StatusUnprocessableEntity, CodeUseDedicatedAction,
			"use the fulfill or deliver action for "+string(target))
	}
	return s.apply(ctx, p, orderID, target, "")
}

// Fulfill ships a PROCESSING order, recording the carrier tracking reference.
func (s *StatusService) Fulfill(ctx context.Context, p Principal, orderID, trackingRef string) (domain.Order, error) {
	trackingRef = strings.TrimSpace(trackingRef)
	if len(trackingRef) > 64 {
		return domain.Order{}, validationError("tracking reference is too long")
	}
	return s.apply(ctx, p, orderID, domain.StatusShipped, trackingRef)
}

// Deliver marks a SHIPPED order delivered.
func (s *StatusService) Deliver(ctx context.Context, p Principal, orderID string) (domain.Order, error) {
	return s.apply(ctx, p, orderID, domain.StatusDelivered, "")
}

func (s *StatusService) apply(ctx context.Context, p Principal, orderID string, to domain.OrderStatus, trackingRef string) (domain.Order, error) {
	caps, err := s.operatorCaps(ctx, p)
	if err != nil {
		return domain.Order{}, err
	}

	var from domain.OrderStatus
	err = repos.Tx(ctx, s.DB, func(tx *sqlx.Tx) error {
		orders := s.Orders.With(tx)
		o, _, err := orders.Get(ctx, orderID)
		if errors.Is(err, repos.ErrNotFound) {
			return notFound("order")
		} else if err != nil {
			return err
		}
		from = o.Status
		if !domain.CanTransition(from, to) {
			return newError(http.StatusConflict, CodeInvalidTransition,
				fmt.Sprintf("cannot move an order from %s to %s", from, to))
		}
		if !domain.Permitted(to, caps) {
			return newError(http.StatusForbidden, CodeForbidden,
				fmt.Sprintf("you are not allowed to move orders to %s", to))
		}
		if err := orders.UpdateStatus(ctx, o.ID, from, to); err != nil {
			if errors.Is(err, repos.ErrConflict) {
				return newError(http.StatusConflict, CodeInvalidTransition, "the order changed, reload and try again")
			}
			return err
		}
		if err := orders.AppendHistory(ctx, o.ID, from, to, p.Actor()); err != nil {
			return err
		}
		switch to {
		case domain.StatusShipped:
			if trackingRef != "" {
				return orders.SetTrackingRef(ctx, o.ID, trackingRef)
			}
		case domain.StatusCancelled:
			return s.releaseStock(ctx, tx, o)
		case domain.StatusRefunded:
			return s.refund(ctx, tx, o)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	if s.Metrics != nil {
		s.Metrics.StatusTransitions.WithLabelValues(string(from), string(to)).Inc()
	}
	s.Events.Publish(ctx, events.Event{
		Type: events.OrderStatusChanged, OrderID: orderID, At: time.Now().UTC(),
		Data: map[string]any{"from": string(from), "to": string(to), "actor": p.Actor()},
	})
	applog.L().Info("order.status.changed",
		zap.String("order_id", orderID), zap.String("from", string(from)),
		zap.String("to", string(to)), zap.String("actor", p.Actor()))

	o, _, err := s.Orders.Get(ctx, orderID)
	return o, err
}

// releaseStock gives back the units an unpaid order was holding.
func (s *StatusService) releaseStock(ctx context.Context, tx *sqlx.Tx, o domain.Order) error {
	held, err := s.Orders.With(tx).ClearReservation(ctx, o.ID)
	if err != nil || !held {
		return err
	}
	inv := s.Inv.With(tx)
	ids, qty := aggregate(o.Items)
	for _, id := range ids {
		if err := inv.Release(ctx, id, qty[id]); err != nil {
			return err
		}
	}
	return nil
}

// refund marks the successful payment refunded. Unpaid orders just close.
func (s *StatusService) refund(ctx context.Context, tx *sqlx.Tx, o domain.Order) error {
	cur := o.CurrentPayment
	if cur == nil || cur.Status != domain.PaymentSuccess {
		return nil
	}
	if err := s.Payments.With(tx).UpdateStatus(ctx, cur.ID, domain.PaymentSuccess, domain.PaymentRefunded); err != nil {
		return err
	}
	return s.Orders.With(tx).SetPaymentState(ctx, o.ID, domain.OrderRefunded)
}
