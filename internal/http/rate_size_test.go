package handlers_test

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"retrocart/internal/http/handlers"
)

func TestRateLimits(t *testing.T) {
	h := newHarness(t, handlers.Options{InventoryLimit: 3})
	c := h.client()

	for i := 0; i < 4; i++ {
		st, env := c.do(t, http.MethodGet, "/api/v1/availability?productId=gbc-001", nil)
		if i < 3 && st == http.StatusTooManyRequests {
			t.Fatalf("hit rate limit too early at %d", i)
		}
		if i == 3 && st != http.StatusTooManyRequests {
			t.Fatalf("expected 429 after limit, got %d", st)
		}
		if i == 3 && env.Status {
			t.Fatal("429 reported status=true")
		}
	}
	if len(h.logged("rate.inventory.hit")) != 1 {
		t.Fatal("limit hit not logged")
	}
	// single-product reads are not part of the batch budget
	if st, _ := c.do(t, http.MethodGet, "/api/v1/inventory/gbc-001", nil); st != http.StatusOK {
		t.Fatalf("single read limited: %d", st)
	}
}

func TestGlobalLimitSparesHealthz(t *testing.T) {
	h := newHarness(t, handlers.Options{GlobalLimit: 2})
	c := h.client()
	for i := 0; i < 2; i++ {
		if st, _ := c.do(t, http.MethodGet, "/api/v1/cart", nil); st != http.StatusOK {
			t.Fatalf("request %d: %d", i, st)
		}
	}
	if st, _ := c.do(t, http.MethodGet, "/api/v1/cart", nil); st != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", st)
	}
	if st, _ := c.do(t, http.MethodGet, "/healthz", nil); st != http.StatusOK {
		t.Fatalf("healthz limited: %d", st)
	}
}

func TestBodySizeLimit(t *testing.T) {
	h := newHarness(t, handlers.Options{})

	oversize := bytes.Repeat([]byte("A"), (1<<20)+10)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", bytes.NewReader(oversize))
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.app.Test(req, -1)
	// fasthttp may refuse the body before a response exists
	if err != nil {
		if strings.Contains(err.Error(), "body size exceeds") || strings.Contains(err.Error(), "too large") {
			return
		}
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 413 for oversize, got %d body=%s", resp.StatusCode, string(body))
	}
}
