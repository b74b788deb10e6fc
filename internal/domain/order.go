package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidTransition = errors.New("order: invalid status transition")

type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusConfirmed  OrderStatus = "CONFIRMED"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusShipped    OrderStatus = "SHIPPED"
	StatusDelivered  OrderStatus = "DELIVERED"
	StatusCancelled  OrderStatus = "CANCELLED"
	StatusRefunded   OrderStatus = "REFUNDED"
)

// AllOrderStatuses lists every state in lifecycle order.
var AllOrderStatuses = []OrderStatus{
	StatusPending, StatusConfirmed, StatusProcessing, StatusShipped,
	StatusDelivered, StatusCancelled, StatusRefunded,
}

// validNext is the adjacency table; order inside each slice is presentation order.
var validNext = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  {},
	StatusCancelled:  {StatusRefunded},
	StatusRefunded:   {},
}

func ParseOrderStatus(s string) (OrderStatus, bool) {
	st := OrderStatus(s)
	_, ok := validNext[st]
	return st, ok
}

func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusRefunded
}

// CanTransition reports adjacency legality only.
func CanTransition(from, to OrderStatus) bool {
	for _, n := range validNext[from] {
		if n == to {
			return true
		}
	}
	return false
}

// Permitted reports whether caps allow moving an order into to.
func Permitted(to OrderStatus, caps Capabilities) bool {
	switch to {
	case StatusCancelled:
		return caps.CanCancelOrders
	case StatusRefunded:
		return caps.CanProcessRefunds
	case StatusProcessing, StatusShipped, StatusDelivered:
		return caps.CanFulfillOrders
	case StatusConfirmed:
		return caps.CanManageOrders
	default:
		return false
	}
}

// Allowed is the conjunction the server re-checks on every request.
func Allowed(from, to OrderStatus, caps Capabilities) bool {
	return CanTransition(from, to) && Permitted(to, caps)
}

// Offered lists next states that are both adjacency-legal and capability-permitted.
func Offered(from OrderStatus, caps Capabilities) []OrderStatus {
	var out []OrderStatus
	for _, n := range validNext[from] {
		if Permitted(n, caps) {
			out = append(out, n)
		}
	}
	return out
}

// Actions is what an operator sees for one order. SHIPPED and DELIVERED are
// only reachable through the dedicated Fulfill and Deliver actions, so they
// never appear in Transitions.
type Actions struct {
	Transitions []OrderStatus `json:"transitions"`
	Fulfill     bool          `json:"fulfill"`
	Deliver     bool          `json:"deliver"`
}

func ActionsFor(from OrderStatus, caps Capabilities) Actions {
	a := Actions{Transitions: []OrderStatus{}}
	for _, n := range Offered(from, caps) {
		switch n {
		case StatusShipped:
			a.Fulfill = true
		case StatusDelivered:
			a.Deliver = true
		default:
			a.Transitions = append(a.Transitions, n)
		}
	}
	return a
}

// DedicatedTarget reports whether to may only be reached via Fulfill/Deliver.
func DedicatedTarget(to OrderStatus) bool {
	return to == StatusShipped || to == StatusDelivered
}

type PaymentState string

const (
	OrderUnpaid   PaymentState = "UNPAID"
	OrderPaid     PaymentState = "PAID"
	OrderRefunded PaymentState = "REFUNDED"
)

type ShippingInfo struct {
	Name       string `json:"name" validate:"required,max=80"`
	Line1      string `json:"line1" validate:"required,max=120"`
	City       string `json:"city" validate:"required,max=60"`
	PostalCode string `json:"postalCode" validate:"required,max=12"`
	Country    string `json:"country" validate:"required,len=2"`
}

type GuestInfo struct {
	Name  string `json:"guestName" validate:"required,max=80"`
	Email string `json:"guestEmail" validate:"required,email,max=120"`
}

type OrderItem struct {
	ItemKey         string            `json:"itemKey"`
	ProductID       string            `json:"productId"`
	Title           string            `json:"title"`
	SelectedOptions map[string]string `json:"selectedOptions"`
	Quantity        int               `json:"quantity"`
	PriceAtOrder    decimal.Decimal   `json:"priceAtOrder"`
	Subtotal        decimal.Decimal   `json:"subtotal"`
}

type Order struct {
	ID             string          `json:"id"`
	Status         OrderStatus     `json:"status"`
	PaymentStatus  PaymentState    `json:"paymentStatus"`
	Items          []OrderItem     `json:"items"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	Shipping       ShippingInfo    `json:"shipping"`
	UserID         string          `json:"userId,omitempty"`
	GuestName      string          `json:"guestName,omitempty"`
	GuestEmail     string          `json:"guestEmail,omitempty"`
	SessionID      string          `json:"-"`
	TrackingRef    string          `json:"trackingRef,omitempty"`
	CurrentPayment *Payment        `json:"currentPayment"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Guest reports whether the order was placed without an account.
func (o Order) Guest() bool { return o.UserID == "" }
