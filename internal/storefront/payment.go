package storefront

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"retrocart/internal/domain"
	applog "retrocart/internal/log"
)

// Action is the payment button the order page should show.
type Action string

const (
	ActionNone         Action = ""
	ActionPayNow       Action = "PAY_NOW"
	ActionRetryPayment Action = "RETRY_PAYMENT"
	ActionCheckStatus  Action = "CHECK_STATUS"
)

// NextAction derives the payment action from the order and its current payment.
func NextAction(o domain.Order) Action {
	if o.ID == "" || o.Status != domain.StatusPending || o.PaymentStatus != domain.OrderUnpaid {
		return ActionNone
	}
	cur := o.CurrentPayment
	switch {
	case cur == nil:
		return ActionPayNow
	case cur.Status == domain.PaymentPending:
		return ActionCheckStatus
	case cur.Status == domain.PaymentFailed, cur.Status == domain.PaymentCancelled:
		return ActionRetryPayment
	default:
		return ActionNone
	}
}

// PaymentState is what the order page renders.
type PaymentState struct {
	Order   domain.Order
	Payment *domain.Payment
	Next    Action
}

func stateOf(o domain.Order) PaymentState {
	return PaymentState{Order: o, Payment: o.CurrentPayment, Next: NextAction(o)}
}

// Coordinator drives initiate, the gateway redirect and verify for orders.
type Coordinator struct {
	API     API
	Notices *Notices
	// CallbackBase is the public origin the gateway returns to.
	CallbackBase string
	// Guest selects the guest initiate endpoint.
	Guest bool
	// NewKey mints idempotency keys; uuid by default.
	NewKey func() string

	group singleflight.Group

	mu       sync.Mutex
	attempt  map[string]string // order id -> key of the attempt being opened
	verified map[string]bool   // payment ids already auto-verified
	known    map[string]domain.Order
}

func NewCoordinator(api API, notices *Notices, callbackBase string, guest bool) *Coordinator {
	if notices == nil {
		notices = NewNotices(0)
	}
	return &Coordinator{
		API:          api,
		Notices:      notices,
		CallbackBase: strings.TrimRight(callbackBase, "/"),
		Guest:        guest,
		NewKey:       func() string { return "pay-" + uuid.NewString() },
		attempt:      map[string]string{},
		verified:     map[string]bool{},
		known:        map[string]domain.Order{},
	}
}

// CallbackURL is where the gateway sends the shopper back for orderID.
func (c *Coordinator) CallbackURL(orderID string) string {
	return c.CallbackBase + "/orders/" + url.PathEscape(orderID)
}

// Known returns the last known-good order, if any was seen.
func (c *Coordinator) Known(orderID string) (domain.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.known[orderID]
	return o, ok
}

func (c *Coordinator) remember(o domain.Order) {
	if o.ID == "" {
		return
	}
	c.mu.Lock()
	c.known[o.ID] = o
	c.mu.Unlock()
}

// Initiate opens a checkout for the order's current attempt. Repeated calls
// for the same attempt reuse its key, so the gateway charges once.
func (c *Coordinator) Initiate(ctx context.Context, orderID string) (Checkout, error) {
	c.mu.Lock()
	key, ok := c.attempt[orderID]
	if !ok {
		key = c.NewKey()
		c.attempt[orderID] = key
	}
	c.mu.Unlock()

	co, err := c.API.InitiatePayment(ctx, InitiateRequest{
		OrderID:        orderID,
		IdempotencyKey: key,
		CallbackURL:    c.CallbackURL(orderID),
	}, c.Guest)
	if err != nil {
		c.Notices.Raise(ScopeOrder, orderID, UserMessage(err), false)
		applog.L().Warn("storefront.payment.initiate.fail", zap.String("order_id", orderID), zap.Error(err))
		return Checkout{}, err
	}
	return co, nil
}

// PayNow initiates payment for an order that has no attempt yet, e.g. after
// initiation failed right after placement.
func (c *Coordinator) PayNow(ctx context.Context, orderID string) (Checkout, error) {
	o, err := c.refresh(ctx, orderID)
	if err != nil {
		return Checkout{}, err
	}
	if NextAction(o) != ActionPayNow {
		return Checkout{}, ErrNothingToPay
	}
	return c.Initiate(ctx, orderID)
}

// Retry opens a fresh attempt with a new key after a failed or cancelled one.
// The old attempt stays as it is on the server.
func (c *Coordinator) Retry(ctx context.Context, orderID string) (Checkout, error) {
	o, err := c.refresh(ctx, orderID)
	if err != nil {
		return Checkout{}, err
	}
	if NextAction(o) != ActionRetryPayment {
		return Checkout{}, ErrNothingToPay
	}
	c.mu.Lock()
	delete(c.attempt, orderID)
	c.mu.Unlock()
	return c.Initiate(ctx, orderID)
}

// OnReturn handles the gateway redirect. The order id comes from the callback
// path; the verify marker or a status parameter asks for verification. Either
// way the order is loaded and a pending payment gets its one automatic verify.
func (c *Coordinator) OnReturn(ctx context.Context, callbackURL string) (PaymentState, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return PaymentState{}, &ValidationError{Field: "callbackUrl", Message: "That return link is not valid."}
	}
	orderID := u.Query().Get("orderId")
	if orderID == "" {
		orderID, _ = url.PathUnescape(path.Base(u.Path))
	}
	if orderID == "" || orderID == "." || orderID == "/" {
		return PaymentState{}, &ValidationError{Field: "callbackUrl", Message: "That return link is not valid."}
	}
	q := u.Query()
	if q.Get("verify") != "true" && q.Get("status") == "" {
		applog.L().Info("storefront.payment.return.unmarked", zap.String("order_id", orderID))
	}
	return c.OnLoad(ctx, orderID)
}

// OnLoad loads the order page. A pending current payment is verified once
// automatically; later loads leave it to CheckStatus.
func (c *Coordinator) OnLoad(ctx context.Context, orderID string) (PaymentState, error) {
	o, err := c.refresh(ctx, orderID)
	if err != nil {
		return PaymentState{}, err
	}
	cur := o.CurrentPayment
	if cur == nil || cur.Status.Terminal() {
		return stateOf(o), nil
	}

	c.mu.Lock()
	already := c.verified[cur.ID]
	c.verified[cur.ID] = true
	c.mu.Unlock()
	if already {
		return stateOf(o), nil
	}
	return c.CheckStatus(ctx, cur.ID)
}

// verifyTimeout bounds one shared verify request.
const verifyTimeout = 15 * time.Second

// CheckStatus verifies a payment. Concurrent calls for one payment share a
// single request that outlives any one caller's cancellation. On failure the
// last known-good state is returned with a VerificationError.
func (c *Coordinator) CheckStatus(ctx context.Context, paymentID string) (PaymentState, error) {
	ch := c.group.DoChan(paymentID, func() (any, error) {
		vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), verifyTimeout)
		defer cancel()
		return c.API.VerifyPayment(vctx, paymentID)
	})
	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		return c.lastKnownFor(paymentID), ctx.Err()
	}
	if r.Err != nil {
		verr := &VerificationError{PaymentID: paymentID, Err: r.Err}
		last := c.lastKnownFor(paymentID)
		c.Notices.Raise(ScopeOrder, last.Order.ID, UserMessage(verr), false)
		applog.L().Warn("storefront.payment.verify.fail", zap.String("payment_id", paymentID), zap.Error(r.Err))
		return last, verr
	}
	res := r.Val.(Verification)
	o := res.Order
	if o.ID == "" {
		// older servers answer with the payment alone
		var err error
		if o, err = c.refresh(ctx, res.Payment.OrderID); err != nil {
			return PaymentState{Payment: &res.Payment}, err
		}
	}
	if o.CurrentPayment == nil || o.CurrentPayment.ID == res.Payment.ID {
		p := res.Payment
		o.CurrentPayment = &p
	}
	c.remember(o)
	if res.Payment.Status == domain.PaymentFailed || res.Payment.Status == domain.PaymentCancelled {
		c.mu.Lock()
		delete(c.attempt, o.ID)
		c.mu.Unlock()
	}
	st := stateOf(o)
	st.Payment = &res.Payment
	return st, nil
}

func (c *Coordinator) lastKnownFor(paymentID string) PaymentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.known {
		if o.CurrentPayment != nil && o.CurrentPayment.ID == paymentID {
			return stateOf(o)
		}
	}
	return PaymentState{}
}

func (c *Coordinator) refresh(ctx context.Context, orderID string) (domain.Order, error) {
	o, err := c.API.Order(ctx, orderID)
	if err != nil {
		c.Notices.Raise(ScopeOrder, orderID, UserMessage(err), false)
		if known, ok := c.Known(orderID); ok && !errors.Is(err, context.Canceled) {
			return known, err
		}
		return domain.Order{}, err
	}
	c.remember(o)
	return o, nil
}
