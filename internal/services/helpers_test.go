package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"retrocart/internal/domain"
	"retrocart/internal/events"
	"retrocart/internal/gateway"
	"retrocart/internal/idempotency"
	"retrocart/internal/metrics"
	"retrocart/internal/repos"
	"retrocart/internal/services"
)

const baseURL = "http://shop.test"

type env struct {
	db       *sqlx.DB
	auth     *services.AuthService
	inv      *services.InventoryService
	cart     *services.CartService
	orders   *services.OrderService
	payments *services.PaymentService
	status   *services.StatusService
	sandbox  *gateway.Sandbox
	events   *events.Recorder
	metrics  *metrics.Metrics
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := repos.OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	e := &env{
		db:      db,
		auth:    &services.AuthService{Users: repos.NewUserRepo(db)},
		sandbox: gateway.NewSandbox(baseURL),
		events:  &events.Recorder{},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	e.inv = services.NewInventoryService(repos.NewInventoryRepo(db), repos.NewProductRepo(db))
	e.cart = services.NewCartService(db, e.metrics)
	e.orders = services.NewOrderService(db, e.auth, e.events, e.metrics)
	e.payments = services.NewPaymentService(db, e.orders, e.sandbox, idempotency.NewMemoryLocker(), e.events, e.metrics, baseURL)
	e.status = services.NewStatusService(db, e.auth, e.events, e.metrics)
	return e
}

func guest(sid string) services.Principal { return services.Principal{SessionID: sid} }

func (e *env) user(t *testing.T, id string) services.Principal {
	t.Helper()
	u, err := repos.NewUserRepo(e.db).ByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return services.Principal{SessionID: "sess-" + id, User: u}
}

var ship = domain.ShippingInfo{Name: "Tess Tester", Line1: "1 Main St", City: "College Park", PostalCode: "20742", Country: "US"}

// placeGuestOrder adds qty of productID to sid's cart and checks out as a guest.
func (e *env) placeGuestOrder(t *testing.T, sid, productID string, qty int) domain.Order {
	t.Helper()
	ctx := context.Background()
	if _, err := e.cart.Add(ctx, sid, productID, qty, nil); err != nil {
		t.Fatal(err)
	}
	o, err := e.orders.PlaceForGuest(ctx, guest(sid), domain.GuestInfo{Name: "Gus", Email: "gus@example.com"}, ship)
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func (e *env) stock(t *testing.T, productID string) domain.StockRecord {
	t.Helper()
	rec, err := e.inv.Get(context.Background(), productID)
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func callback(orderID string) string { return baseURL + "/orders/" + orderID + "?verify=true" }

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	var se *services.Error
	if !errors.As(err, &se) {
		t.Fatalf("want %s, got %v", code, err)
	}
	if se.Code != code {
		t.Fatalf("want %s, got %s (%s)", code, se.Code, se.Message)
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
