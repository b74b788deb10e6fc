package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"retrocart/internal/domain"
	"retrocart/internal/events"
	"retrocart/internal/gateway"
	"retrocart/internal/idempotency"
	applog "retrocart/internal/log"
	"retrocart/internal/metrics"
	"retrocart/internal/repos"
	"retrocart/internal/validate"
)

type PaymentService struct {
	DB            *sqlx.DB
	Orders        *repos.OrderRepo
	Payments      *repos.PaymentRepo
	Inv           *repos.InventoryRepo
	Access        *OrderService
	Gateway       gateway.Gateway
	Locker        idempotency.Locker
	Events        events.Publisher
	Metrics       *metrics.Metrics
	PublicBaseURL string

	verifyGroup singleflight.Group
	tracer      trace.Tracer
}

func NewPaymentService(db *sqlx.DB, access *OrderService, gw gateway.Gateway, locker idempotency.Locker,
	pub events.Publisher, m *metrics.Metrics, publicBaseURL string) *PaymentService {
	return &PaymentService{
		DB:            db,
		Orders:        repos.NewOrderRepo(db),
		Payments:      repos.NewPaymentRepo(db),
		Inv:           repos.NewInventoryRepo(db),
		Access:        access,
		Gateway:       gw,
		Locker:        locker,
		Events:        pub,
		Metrics:       m,
		PublicBaseURL: publicBaseURL,
		tracer:        otel.Tracer("retrocart/payments"),
	}
}

// InitiateResult is what the shopper needs to leave for the hosted checkout.
type InitiateResult struct {
	PaymentID   string `json:"paymentId"`
	CheckoutURL string `json:"checkoutUrl"`
	Replayed    bool   `json:"replayed"`
}

// VerifyResult carries the payment together with the order it settled, so
// callers never show a fresh payment next to a stale order.
type VerifyResult struct {
	Payment domain.Payment `json:"payment"`
	Order   domain.Order   `json:"order"`
}

// Initiate opens a checkout session for an order. Repeating the call with the
// same idempotency key returns the first session without contacting the
// gateway again.
func (s *PaymentService) Initiate(ctx context.Context, p Principal, orderID, key, callbackURL string) (res InitiateResult, err error) {
	ctx, span := s.tracer.Start(ctx, "payment.initiate", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("idempotency.key", key),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "initiate failed")
			s.count("error")
		}
		span.End()
	}()

	if !validate.IdempotencyKey(key) {
		return InitiateResult{}, validationError("invalid idempotency key")
	}
	if _, ok := validate.CallbackURL(callbackURL, s.PublicBaseURL); !ok {
		return InitiateResult{}, validationError("callback URL must be an absolute URL on this site")
	}
	order, err := s.Access.Get(ctx, p, orderID)
	if err != nil {
		return InitiateResult{}, err
	}

	if res, ok, err := s.replay(ctx, orderID, key); ok || err != nil {
		return res, err
	}

	release, err := s.Locker.Acquire(ctx, key)
	if errors.Is(err, idempotency.ErrBusy) {
		return InitiateResult{}, newError(http.StatusConflict, CodeIdempotencyConflict, "this payment request is already being processed")
	} else if err != nil {
		return InitiateResult{}, err
	}
	defer release()

	// another request may have finished between the first lookup and the lock
	if res, ok, err := s.replay(ctx, orderID, key); ok || err != nil {
		return res, err
	}

	if order.PaymentStatus != domain.OrderUnpaid {
		return InitiateResult{}, newError(http.StatusConflict, CodeOrderAlreadyPaid, "this order is already paid")
	}
	if order.Status != domain.StatusPending {
		return InitiateResult{}, newError(http.StatusConflict, CodeOrderNotPayable, "this order can no longer be paid")
	}

	if cur := order.CurrentPayment; cur != nil && cur.Status == domain.PaymentPending {
		vr, err := s.verify(ctx, cur.ID)
		if err != nil {
			return InitiateResult{}, err
		}
		switch vr.Payment.Status {
		case domain.PaymentSuccess:
			return InitiateResult{}, newError(http.StatusConflict, CodeOrderAlreadyPaid, "this order is already paid")
		case domain.PaymentPending:
			// the earlier checkout is still open; send the shopper back to it
			s.count("resumed")
			span.SetAttributes(attribute.String("payment.id", cur.ID))
			return InitiateResult{PaymentID: cur.ID, CheckoutURL: cur.CheckoutURL, Replayed: true}, nil
		}
	}

	start := time.Now()
	sess, err := s.Gateway.CreateCheckout(ctx, gateway.CheckoutRequest{
		OrderID:        order.ID,
		Amount:         order.TotalAmount,
		IdempotencyKey: key,
		CallbackURL:    callbackURL,
	})
	s.observe("create_checkout", start)
	if err != nil {
		applog.L().Warn("payment.initiate.gateway.fail", zap.String("order_id", orderID), zap.Error(err))
		return InitiateResult{}, gatewayUnavailable(err)
	}

	now := time.Now().UTC()
	pay := domain.Payment{
		ID:             "pay_" + uuid.NewString(),
		OrderID:        order.ID,
		Status:         domain.PaymentPending,
		Gateway:        s.Gateway.Name(),
		TransactionRef: sess.Ref,
		IdempotencyKey: key,
		CheckoutURL:    sess.CheckoutURL,
		Amount:         order.TotalAmount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = repos.Tx(ctx, s.DB, func(tx *sqlx.Tx) error {
		if err := s.Payments.With(tx).Insert(ctx, pay); err != nil {
			return err
		}
		return s.Orders.With(tx).SetCurrentPayment(ctx, order.ID, pay.ID)
	})
	if errors.Is(err, repos.ErrConflict) {
		res, _, err := s.replay(ctx, orderID, key)
		return res, err
	} else if err != nil {
		return InitiateResult{}, err
	}

	s.count("created")
	span.SetAttributes(attribute.String("payment.id", pay.ID))
	applog.L().Info("payment.initiated", zap.String("order_id", order.ID), zap.String("payment_id", pay.ID))
	return InitiateResult{PaymentID: pay.ID, CheckoutURL: pay.CheckoutURL}, nil
}

// replay looks up a payment already created with key.
func (s *PaymentService) replay(ctx context.Context, orderID, key string) (InitiateResult, bool, error) {
	prev, err := s.Payments.ByIdempotencyKey(ctx, key)
	if errors.Is(err, repos.ErrNotFound) {
		return InitiateResult{}, false, nil
	} else if err != nil {
		return InitiateResult{}, false, err
	}
	if prev.OrderID != orderID {
		return InitiateResult{}, false, newError(http.StatusConflict, CodeIdempotencyConflict, "this idempotency key was used for another order")
	}
	s.count("replayed")
	return InitiateResult{PaymentID: prev.ID, CheckoutURL: prev.CheckoutURL, Replayed: true}, true, nil
}

// Verify asks the gateway about a pending payment and applies the answer.
// Terminal payments are returned as stored. Concurrent calls for the same
// payment share one gateway round-trip.
func (s *PaymentService) Verify(ctx context.Context, p Principal, paymentID string) (VerifyResult, error) {
	pay, err := s.Payments.Get(ctx, paymentID)
	if errors.Is(err, repos.ErrNotFound) {
		return VerifyResult{}, notFound("payment")
	} else if err != nil {
		return VerifyResult{}, err
	}
	if _, err := s.Access.Get(ctx, p, pay.OrderID); err != nil {
		return VerifyResult{}, notFound("payment")
	}
	return s.verify(ctx, paymentID)
}

// verifyTimeout bounds one shared gateway poll.
const verifyTimeout = 15 * time.Second

// verify runs the shared poll detached from any single caller, so one
// cancelled request does not fail the others waiting on it.
func (s *PaymentService) verify(ctx context.Context, paymentID string) (VerifyResult, error) {
	ch := s.verifyGroup.DoChan(paymentID, func() (any, error) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), verifyTimeout)
		defer cancel()
		return s.poll(pctx, paymentID)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return VerifyResult{}, r.Err
		}
		return r.Val.(VerifyResult), nil
	case <-ctx.Done():
		return VerifyResult{}, ctx.Err()
	}
}

func (s *PaymentService) poll(ctx context.Context, paymentID string) (res VerifyResult, err error) {
	ctx, span := s.tracer.Start(ctx, "payment.verify", trace.WithAttributes(attribute.String("payment.id", paymentID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "verify failed")
		}
		span.End()
	}()

	pay, err := s.Payments.Get(ctx, paymentID)
	if err != nil {
		return VerifyResult{}, err
	}
	if pay.Status.Terminal() {
		return s.result(ctx, pay)
	}

	start := time.Now()
	st, err := s.Gateway.Status(ctx, pay.TransactionRef)
	s.observe("status", start)
	if err != nil {
		applog.L().Warn("payment.verify.gateway.fail", zap.String("payment_id", paymentID), zap.Error(err))
		return VerifyResult{}, gatewayUnavailable(err)
	}
	span.SetAttributes(attribute.String("payment.status", string(st)))
	if st == domain.PaymentPending || !domain.CanTransitionPayment(domain.PaymentPending, st) {
		return s.result(ctx, pay)
	}

	applied := false
	err = repos.Tx(ctx, s.DB, func(tx *sqlx.Tx) error {
		err := s.Payments.With(tx).UpdateStatus(ctx, pay.ID, domain.PaymentPending, st)
		if errors.Is(err, repos.ErrConflict) {
			return nil
		} else if err != nil {
			return err
		}
		applied = true
		if st == domain.PaymentSuccess {
			return s.settleOrder(ctx, tx, pay)
		}
		return nil
	})
	if err != nil {
		return VerifyResult{}, err
	}

	if applied {
		if s.Metrics != nil {
			s.Metrics.PaymentOutcomes.WithLabelValues(string(st)).Inc()
		}
		typ := events.PaymentFailed
		if st == domain.PaymentSuccess {
			typ = events.PaymentSucceeded
		}
		s.Events.Publish(ctx, events.Event{
			Type: typ, OrderID: pay.OrderID, At: time.Now().UTC(),
			Data: map[string]any{"paymentId": pay.ID, "status": string(st)},
		})
		applog.L().Info("payment.verified", zap.String("payment_id", pay.ID), zap.String("status", string(st)))
	}

	pay, err = s.Payments.Get(ctx, paymentID)
	if err != nil {
		return VerifyResult{}, err
	}
	return s.result(ctx, pay)
}

// settleOrder marks the order paid, confirms it if still pending and turns
// its stock reservation into a sale.
func (s *PaymentService) settleOrder(ctx context.Context, tx *sqlx.Tx, pay domain.Payment) error {
	orders := s.Orders.With(tx)
	o, _, err := orders.Get(ctx, pay.OrderID)
	if err != nil {
		return err
	}
	if err := orders.SetPaymentState(ctx, o.ID, domain.OrderPaid); err != nil {
		return err
	}
	if o.Status == domain.StatusPending {
		if err := orders.UpdateStatus(ctx, o.ID, domain.StatusPending, domain.StatusConfirmed); err != nil {
			return err
		}
		if err := orders.AppendHistory(ctx, o.ID, domain.StatusPending, domain.StatusConfirmed, "payment:"+pay.ID); err != nil {
			return err
		}
		if s.Metrics != nil {
			s.Metrics.StatusTransitions.WithLabelValues(string(domain.StatusPending), string(domain.StatusConfirmed)).Inc()
		}
	}
	held, err := orders.ClearReservation(ctx, o.ID)
	if err != nil || !held {
		return err
	}
	inv := s.Inv.With(tx)
	ids, qty := aggregate(o.Items)
	for _, id := range ids {
		if err := inv.Commit(ctx, id, qty[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *PaymentService) result(ctx context.Context, pay domain.Payment) (VerifyResult, error) {
	o, _, err := s.Orders.Get(ctx, pay.OrderID)
	if err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{Payment: pay, Order: o}, nil
}

// List returns every attempt for an order, oldest first.
func (s *PaymentService) List(ctx context.Context, p Principal, orderID string) ([]domain.Payment, error) {
	if _, err := s.Access.Get(ctx, p, orderID); err != nil {
		return nil, err
	}
	return s.Payments.ListByOrder(ctx, orderID)
}

func (s *PaymentService) count(result string) {
	if s.Metrics != nil {
		s.Metrics.PaymentsInitiated.WithLabelValues(result).Inc()
	}
}

func (s *PaymentService) observe(op string, start time.Time) {
	if s.Metrics != nil {
		s.Metrics.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
