package storefront

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"retrocart/internal/domain"
)

var errNetwork = errors.New("connection reset")

// fakeAPI is an in-memory server. gate, when set, holds StockBatch,
// UpdateItem and VerifyPayment until it is closed; entered is signalled on arrival.
type fakeAPI struct {
	mu    sync.Mutex
	calls map[string]int

	cart     domain.Cart
	stock    map[string]domain.StockRecord
	stockErr error

	orders   map[string]domain.Order
	payments map[string]domain.Payment
	keys     map[string]string
	lastKey  string

	placeErr     error
	initiateErr  error
	updateErr    error
	verifyErr    error
	verifyStatus domain.PaymentStatus

	gate    chan struct{}
	entered chan string
	nextID  int
}

func newFake(lines ...domain.CartLine) *fakeAPI {
	return &fakeAPI{
		calls:    map[string]int{},
		cart:     domain.NewCart(lines),
		stock:    map[string]domain.StockRecord{},
		orders:   map[string]domain.Order{},
		payments: map[string]domain.Payment{},
		keys:     map[string]string{},
	}
}

func line(productID string, opts map[string]string, qty int) domain.CartLine {
	return domain.CartLine{
		ItemKey:         domain.ItemKey(productID, opts),
		ProductID:       productID,
		Title:           productID,
		SelectedOptions: opts,
		Quantity:        qty,
		PriceAtAdd:      decimal.NewFromInt(10),
	}
}

func (f *fakeAPI) setStock(productID string, available int) {
	f.mu.Lock()
	f.stock[productID] = domain.StockRecord{ProductID: productID, StockQuantity: available, AvailableQuantity: available}
	f.mu.Unlock()
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeAPI) hit(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeAPI) wait(name string) {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if gate == nil {
		return
	}
	if entered != nil {
		entered <- name
	}
	<-gate
}

func (f *fakeAPI) Cart(ctx context.Context) (domain.Cart, error) {
	f.hit("cart")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cart, nil
}

func (f *fakeAPI) AddItem(ctx context.Context, productID string, qty int, options map[string]string) (domain.Cart, error) {
	f.hit("add")
	f.mu.Lock()
	defer f.mu.Unlock()
	key := domain.ItemKey(productID, options)
	lines := f.cart.Items
	for i := range lines {
		if lines[i].ItemKey == key {
			lines[i].Quantity += qty
			f.cart = domain.NewCart(lines)
			return f.cart, nil
		}
	}
	f.cart = domain.NewCart(append(lines, line(productID, options, qty)))
	return f.cart, nil
}

func (f *fakeAPI) UpdateItem(ctx context.Context, productID string, qty int, itemKey string, options map[string]string) (domain.Cart, error) {
	f.hit("update")
	f.wait("update")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return domain.Cart{}, f.updateErr
	}
	lines := append([]domain.CartLine(nil), f.cart.Items...)
	for i := range lines {
		if lines[i].ItemKey == itemKey {
			lines[i].Quantity = qty
		}
	}
	f.cart = domain.NewCart(lines)
	return f.cart, nil
}

func (f *fakeAPI) RemoveItem(ctx context.Context, productID, itemKey string) (domain.Cart, error) {
	f.hit("remove")
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []domain.CartLine
	for _, l := range f.cart.Items {
		if l.ItemKey != itemKey {
			kept = append(kept, l)
		}
	}
	f.cart = domain.NewCart(kept)
	return f.cart, nil
}

func (f *fakeAPI) Stock(ctx context.Context, productID string) (domain.StockRecord, error) {
	f.hit("stock")
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.stock[productID]
	if !ok {
		return domain.StockRecord{}, &ApiError{HTTPStatus: 404, Code: "NOT_FOUND"}
	}
	return rec, nil
}

func (f *fakeAPI) StockBatch(ctx context.Context, ids []string) (map[string]domain.StockRecord, error) {
	f.hit("batch")
	f.wait("batch")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stockErr != nil {
		return nil, f.stockErr
	}
	if len(ids) > 100 {
		return nil, &ApiError{HTTPStatus: 400, Code: "VALIDATION_FAILED"}
	}
	out := map[string]domain.StockRecord{}
	for _, id := range ids {
		if rec, ok := f.stock[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

func (f *fakeAPI) place(guest domain.GuestInfo) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return domain.Order{}, f.placeErr
	}
	if f.cart.ItemCount == 0 {
		return domain.Order{}, &ApiError{HTTPStatus: 400, Code: "EMPTY_CART"}
	}
	f.nextID++
	o := domain.Order{
		ID:            fmt.Sprintf("ord_%d", f.nextID),
		Status:        domain.StatusPending,
		PaymentStatus: domain.OrderUnpaid,
		TotalAmount:   f.cart.TotalAmount,
		GuestName:     guest.Name,
		GuestEmail:    guest.Email,
	}
	f.orders[o.ID] = o
	f.cart = domain.NewCart(nil)
	return o, nil
}

func (f *fakeAPI) PlaceOrder(ctx context.Context, ship domain.ShippingInfo) (domain.Order, error) {
	f.hit("place")
	return f.place(domain.GuestInfo{})
}

func (f *fakeAPI) PlaceGuestOrder(ctx context.Context, guest domain.GuestInfo, ship domain.ShippingInfo) (domain.Order, error) {
	f.hit("place_guest")
	return f.place(guest)
}

func (f *fakeAPI) Order(ctx context.Context, id string) (domain.Order, error) {
	f.hit("order")
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return domain.Order{}, &ApiError{HTTPStatus: 404, Code: "NOT_FOUND"}
	}
	return o, nil
}

func (f *fakeAPI) Payments(ctx context.Context, orderID string) ([]domain.Payment, error) {
	f.hit("payments")
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Payment
	for _, p := range f.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeAPI) InitiatePayment(ctx context.Context, req InitiateRequest, guest bool) (Checkout, error) {
	f.hit("initiate")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastKey = req.IdempotencyKey
	if f.initiateErr != nil {
		return Checkout{}, f.initiateErr
	}
	if id, ok := f.keys[req.IdempotencyKey]; ok {
		p := f.payments[id]
		return Checkout{PaymentID: p.ID, CheckoutURL: p.CheckoutURL, Replayed: true}, nil
	}
	f.nextID++
	p := domain.Payment{
		ID:             fmt.Sprintf("pay_%d", f.nextID),
		OrderID:        req.OrderID,
		Status:         domain.PaymentPending,
		IdempotencyKey: req.IdempotencyKey,
		CheckoutURL:    fmt.Sprintf("https://gateway.test/checkout/%d", f.nextID),
	}
	f.payments[p.ID] = p
	f.keys[req.IdempotencyKey] = p.ID
	o := f.orders[req.OrderID]
	o.CurrentPayment = &p
	f.orders[o.ID] = o
	return Checkout{PaymentID: p.ID, CheckoutURL: p.CheckoutURL}, nil
}

func (f *fakeAPI) VerifyPayment(ctx context.Context, paymentID string) (Verification, error) {
	f.hit("verify")
	f.wait("verify")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyErr != nil {
		return Verification{}, f.verifyErr
	}
	p, ok := f.payments[paymentID]
	if !ok {
		return Verification{}, &ApiError{HTTPStatus: 404, Code: "NOT_FOUND"}
	}
	if p.Status == domain.PaymentPending && f.verifyStatus != "" {
		p.Status = f.verifyStatus
		f.payments[p.ID] = p
	}
	o := f.orders[p.OrderID]
	if p.Status == domain.PaymentSuccess {
		o.Status = domain.StatusConfirmed
		o.PaymentStatus = domain.OrderPaid
	}
	if o.CurrentPayment != nil && o.CurrentPayment.ID == p.ID {
		o.CurrentPayment = &p
	}
	f.orders[o.ID] = o
	return Verification{Payment: p, Order: o}, nil
}

func (f *fakeAPI) OrderActions(ctx context.Context, orderID string) (OrderActions, error) {
	f.hit("actions")
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[orderID]
	return OrderActions{OrderID: o.ID, Status: o.Status}, nil
}

func (f *fakeAPI) move(orderID string, to domain.OrderStatus) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, &ApiError{HTTPStatus: 404, Code: "NOT_FOUND"}
	}
	o.Status = to
	f.orders[orderID] = o
	return o, nil
}

func (f *fakeAPI) SetStatus(ctx context.Context, orderID string, to domain.OrderStatus) (domain.Order, error) {
	f.hit("set_status")
	return f.move(orderID, to)
}

func (f *fakeAPI) Fulfill(ctx context.Context, orderID, trackingRef string) (domain.Order, error) {
	f.hit("fulfill")
	o, err := f.move(orderID, domain.StatusShipped)
	if err == nil {
		f.mu.Lock()
		o.TrackingRef = trackingRef
		f.orders[orderID] = o
		f.mu.Unlock()
	}
	return o, err
}

func (f *fakeAPI) Deliver(ctx context.Context, orderID string) (domain.Order, error) {
	f.hit("deliver")
	return f.move(orderID, domain.StatusDelivered)
}

// hold makes gated calls block until the returned release runs.
func (f *fakeAPI) hold() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.entered = make(chan string, 8)
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (f *fakeAPI) arrived(t *testing.T) string {
	t.Helper()
	select {
	case name := <-f.entered:
		return name
	case <-time.After(2 * time.Second):
		t.Fatal("no call reached the server")
		return ""
	}
}

// settle sets the status the gateway reports on the next verify.
func (f *fakeAPI) settle(st domain.PaymentStatus) {
	f.mu.Lock()
	f.verifyStatus = st
	f.mu.Unlock()
}
