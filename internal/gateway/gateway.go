// Package gateway talks to the external payment provider. The provider hosts
// the checkout page; we only create sessions and poll their status.
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"retrocart/internal/domain"
)

// ErrUnavailable wraps every transport or provider-side failure.
var ErrUnavailable = errors.New("gateway: unavailable")

// ErrUnknownSession is returned by Status for a reference the provider never issued.
var ErrUnknownSession = errors.New("gateway: unknown session")

type CheckoutRequest struct {
	OrderID        string
	Amount         decimal.Decimal
	IdempotencyKey string
	CallbackURL    string
}

type Session struct {
	Ref         string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
}

type Gateway interface {
	Name() string
	// CreateCheckout must return the same session when called again with the
	// same idempotency key.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Session, error)
	Status(ctx context.Context, ref string) (domain.PaymentStatus, error)
}

// ParseStatus maps provider wording onto payment statuses.
func ParseStatus(s string) (domain.PaymentStatus, bool) {
	switch s {
	case "pending", "PENDING", "open":
		return domain.PaymentPending, true
	case "succeeded", "success", "SUCCESS", "paid":
		return domain.PaymentSuccess, true
	case "failed", "FAILED", "declined":
		return domain.PaymentFailed, true
	case "cancelled", "canceled", "CANCELLED", "expired":
		return domain.PaymentCancelled, true
	case "refunded", "REFUNDED":
		return domain.PaymentRefunded, true
	}
	return "", false
}
