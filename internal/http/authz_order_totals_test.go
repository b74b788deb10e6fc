package handlers_test

import (
	"net/http"
	"testing"

	"retrocart/internal/http/handlers"
)

// The order total comes from catalog prices, never from what the cart row claims.
func TestOrderTotalsRecomputed(t *testing.T) {
	h := newHarness(t, handlers.Options{})
	c := h.as(t, "u-alice")
	c.addToCart(t, "gbc-001", 2)
	if _, err := h.db.Exec(`UPDATE cart_items SET price_at_add = '1.00'`); err != nil {
		t.Fatal(err)
	}

	st, env := c.do(t, http.MethodPost, "/api/v1/orders", map[string]any{
		"shipping":    shipping,
		"totalAmount": "0.01",
	})
	if st != http.StatusCreated {
		t.Fatalf("place: %d %s", st, env.Message)
	}
	var o orderView
	env.decode(t, &o)
	if o.TotalAmount != "259.98" {
		t.Fatalf("order total not recomputed; got %s", o.TotalAmount)
	}
	if o.Items[0].PriceAtOrder != "129.99" {
		t.Fatalf("line price %s", o.Items[0].PriceAtOrder)
	}
}

func TestOrderAccessIsScopedToOwner(t *testing.T) {
	h := newHarness(t, handlers.Options{})
	owner := h.client()
	owner.addToCart(t, "snes-001", 1)
	o := owner.placeGuest(t)
	path := "/api/v1/orders/" + o.ID

	if st, _ := owner.do(t, http.MethodGet, path, nil); st != http.StatusOK {
		t.Fatalf("owner view: %d", st)
	}

	stranger := h.client()
	st, env := stranger.do(t, http.MethodGet, path, nil)
	if st != http.StatusNotFound || env.ErrorCode != "NOT_FOUND" {
		t.Fatalf("stranger view: %d %s", st, env.ErrorCode)
	}
	if st, _ := stranger.do(t, http.MethodGet, path+"/payments", nil); st != http.StatusNotFound {
		t.Fatalf("stranger payments: %d", st)
	}
	st, _ = stranger.do(t, http.MethodPost, "/api/v1/payments/guest/initiate", map[string]string{
		"orderId": o.ID, "idempotencyKey": "stranger-key-0001", "callbackUrl": baseURL + "/orders/" + o.ID,
	})
	if st != http.StatusNotFound {
		t.Fatalf("stranger initiate: %d", st)
	}

	if st, _ := h.as(t, "u-bob").do(t, http.MethodGet, path, nil); st != http.StatusNotFound {
		t.Fatalf("other user view: %d", st)
	}
	if st, _ := h.as(t, "u-sam").do(t, http.MethodGet, path, nil); st != http.StatusOK {
		t.Fatalf("operator view: %d", st)
	}
}

func TestSignedInCheckoutRequiresLogin(t *testing.T) {
	h := newHarness(t, handlers.Options{})
	c := h.client()
	c.addToCart(t, "gbc-001", 1)
	st, env := c.do(t, http.MethodPost, "/api/v1/orders", map[string]any{"shipping": shipping})
	if st != http.StatusUnauthorized || env.ErrorCode != "UNAUTHORIZED" {
		t.Fatalf("anonymous place: %d %s", st, env.ErrorCode)
	}
	st, _ = c.do(t, http.MethodPost, "/api/v1/payments/initiate", map[string]string{"orderId": "ord_x"})
	if st != http.StatusUnauthorized {
		t.Fatalf("anonymous initiate: %d", st)
	}
}
