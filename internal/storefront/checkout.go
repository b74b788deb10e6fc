package storefront

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"retrocart/internal/domain"
	applog "retrocart/internal/log"
	"retrocart/internal/validate"
)

// Placement is the outcome of the checkout button. OrderID is set as soon as
// the order exists, even if opening the payment failed afterwards.
type Placement struct {
	OrderID  string
	Order    domain.Order
	Checkout Checkout
	Next     Action
}

// Orchestrator turns the cart into an order and hands it straight to payment.
type Orchestrator struct {
	API      API
	Cart     *Synchronizer
	Payments *Coordinator
	Notices  *Notices
}

func NewOrchestrator(api API, cart *Synchronizer, payments *Coordinator, notices *Notices) *Orchestrator {
	if notices == nil {
		notices = NewNotices(0)
	}
	return &Orchestrator{API: api, Cart: cart, Payments: payments, Notices: notices}
}

// PlaceOrder validates locally, places the order and opens its payment. A
// nil guest places the order for the signed-in user. Local validation and
// the empty-cart guard run before any call.
func (o *Orchestrator) PlaceOrder(ctx context.Context, ship domain.ShippingInfo, guest *domain.GuestInfo) (Placement, error) {
	if guest != nil {
		if err := checkGuest(*guest); err != nil {
			o.Notices.Raise(ScopeCheckout, "", err.Message, true)
			return Placement{}, err
		}
	}
	if fields, err := validate.Struct(ship); err != nil {
		verr := &ValidationError{Field: firstField(fields), Message: "Please complete your shipping details."}
		o.Notices.Raise(ScopeCheckout, "", verr.Message, true)
		return Placement{}, verr
	}
	if o.Cart.Cart().ItemCount == 0 {
		return Placement{}, ErrEmptyCart
	}

	var (
		order domain.Order
		err   error
	)
	if guest != nil {
		order, err = o.API.PlaceGuestOrder(ctx, *guest, ship)
	} else {
		order, err = o.API.PlaceOrder(ctx, ship)
	}
	if err != nil {
		o.Notices.Raise(ScopeCheckout, "", UserMessage(err), true)
		return Placement{}, err
	}
	o.Cart.reset()
	o.Payments.remember(order)
	applog.L().Info("storefront.order.placed", zap.String("order_id", order.ID), zap.String("total", order.TotalAmount.String()))

	p := Placement{OrderID: order.ID, Order: order}
	co, err := o.Payments.Initiate(ctx, order.ID)
	if err != nil {
		// the order stays; the shopper pays from the order page
		p.Next = ActionPayNow
		return p, err
	}
	p.Checkout = co
	return p, nil
}

func checkGuest(g domain.GuestInfo) *ValidationError {
	if strings.TrimSpace(g.Name) == "" {
		return &ValidationError{Field: "guestName", Message: "Please enter your name."}
	}
	if strings.TrimSpace(g.Email) == "" {
		return &ValidationError{Field: "guestEmail", Message: "Please enter your email address."}
	}
	if fields, err := validate.Struct(g); err != nil {
		return &ValidationError{Field: firstField(fields), Message: "Please check your contact details."}
	}
	return nil
}

func firstField(fields map[string]string) string {
	best := ""
	for f := range fields {
		if best == "" || f < best {
			best = f
		}
	}
	return best
}
