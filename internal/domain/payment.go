package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSuccess   PaymentStatus = "SUCCESS"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// Terminal reports whether verify may no longer change the status.
func (s PaymentStatus) Terminal() bool { return s != PaymentPending }

var paymentNext = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentSuccess, PaymentFailed, PaymentCancelled},
	PaymentSuccess: {PaymentRefunded},
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, n := range paymentNext[from] {
		if n == to {
			return true
		}
	}
	return false
}

// Payment is one attempt. Attempts are append-only: a retry is a new row.
type Payment struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"orderId"`
	Status         PaymentStatus   `json:"status"`
	Gateway        string          `json:"gateway"`
	TransactionRef string          `json:"transactionRef"`
	IdempotencyKey string          `json:"idempotencyKey"`
	CheckoutURL    string          `json:"checkoutUrl"`
	Amount         decimal.Decimal `json:"amount"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}
