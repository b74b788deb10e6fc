package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"retrocart/internal/config"
	"retrocart/internal/gateway"
	"retrocart/internal/http/handlers"
	applog "retrocart/internal/log"
	"retrocart/internal/repos"
)

const baseURL = "http://shop.test"

type harness struct {
	app     *fiber.App
	db      *sqlx.DB
	deps    *handlers.Deps
	sandbox *gateway.Sandbox
	logs    *observer.ObservedLogs
}

// newHarness builds the full app over an in-memory database with generous
// limits unless opts says otherwise. Logs are captured for assertions.
func newHarness(t *testing.T, opts handlers.Options) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	applog.SetLogger(zap.New(core))
	t.Cleanup(func() { applog.SetLogger(nil) })

	db, err := repos.OpenDB(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	sb := gateway.NewSandbox(baseURL)
	if opts.Gateway == nil {
		opts.Gateway = sb
	}
	if opts.GlobalLimit == 0 {
		opts.GlobalLimit = 1000
	}
	if opts.LoginLimit == 0 {
		opts.LoginLimit = 100
	}
	if opts.InventoryLimit == 0 {
		opts.InventoryLimit = 1000
	}
	deps := handlers.NewDeps(db, config.Config{PublicBaseURL: baseURL}, opts)
	return &harness{
		app:     handlers.NewApp(deps, nil),
		db:      db,
		deps:    deps,
		sandbox: sb,
		logs:    logs,
	}
}

type envelope struct {
	Status    bool            `json:"status"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorCode"`
}

func (e envelope) decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(e.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", string(e.Data), err)
	}
}

// client keeps its own sid cookie like a browser tab would.
type client struct {
	h   *harness
	sid string
}

func (h *harness) client() *client { return &client{h: h} }

func (c *client) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.sid != "" {
		req.AddCookie(&http.Cookie{Name: "sid", Value: c.sid})
	}
	resp, err := c.h.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	for _, ck := range resp.Cookies() {
		if ck.Name == "sid" {
			c.sid = ck.Value
		}
	}
	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &env)
	}
	return resp.StatusCode, env
}

func (c *client) login(t *testing.T, email string) {
	t.Helper()
	st, env := c.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": email, "password": "Passw0rd!"})
	if st != http.StatusOK {
		t.Fatalf("login %s: %d %s", email, st, env.Message)
	}
}

func (c *client) addToCart(t *testing.T, productID string, qty int) {
	t.Helper()
	st, env := c.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{"productId": productID, "quantity": qty})
	if st != http.StatusOK {
		t.Fatalf("add %s: %d %s", productID, st, env.Message)
	}
}

var shipping = map[string]string{
	"name": "Tess Tester", "line1": "1 Main St", "city": "College Park", "postalCode": "20742", "country": "US",
}

type orderView struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	TotalAmount   string `json:"totalAmount"`
	TrackingRef   string `json:"trackingRef"`
	Items         []struct {
		ProductID    string `json:"productId"`
		Quantity     int    `json:"quantity"`
		PriceAtOrder string `json:"priceAtOrder"`
	} `json:"items"`
}

func (c *client) placeGuest(t *testing.T) orderView {
	t.Helper()
	st, env := c.do(t, http.MethodPost, "/api/v1/orders/guest", map[string]any{
		"guestName": "Gus", "guestEmail": "gus@example.com", "shipping": shipping,
	})
	if st != http.StatusCreated {
		t.Fatalf("place guest: %d %s", st, env.Message)
	}
	var o orderView
	env.decode(t, &o)
	return o
}

// logged returns the entries whose message equals action.
func (h *harness) logged(action string) []observer.LoggedEntry {
	return h.logs.FilterMessage(action).All()
}

func fieldsOf(e observer.LoggedEntry) map[string]any {
	m := e.ContextMap()
	f, _ := m["fields"].(map[string]any)
	return f
}
