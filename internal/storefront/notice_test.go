package storefront

import (
	"testing"
	"time"
)

func TestNoticesExpire(t *testing.T) {
	now := time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC)
	n := NewNotices(5 * time.Second)
	n.SetClock(func() time.Time { return now })

	n.Raise(ScopeCart, "k1", "transient", false)
	block := n.Raise(ScopeCheckout, "", "sticky", true)
	if len(n.Active()) != 2 {
		t.Fatalf("active = %+v", n.Active())
	}

	now = now.Add(6 * time.Second)
	active := n.Active()
	if len(active) != 1 || active[0].Message != "sticky" {
		t.Fatalf("after ttl = %+v", active)
	}

	n.Dismiss(block)
	if len(n.Active()) != 0 {
		t.Fatal("dismissed notice still active")
	}
}

func TestNoticesReplaceAndFilter(t *testing.T) {
	n := NewNotices(0)
	n.Raise(ScopeCart, "k1", "first", false)
	n.Raise(ScopeCart, "k1", "second", false)
	n.Raise(ScopeCart, "k2", "other line", false)
	n.Raise(ScopeOrder, "o1", "order", false)

	cart := n.Active(ScopeCart)
	if len(cart) != 2 {
		t.Fatalf("cart notices = %+v", cart)
	}
	for _, c := range cart {
		if c.Message == "first" {
			t.Fatal("replaced notice still active")
		}
	}

	n.Clear(ScopeCart)
	if len(n.Active(ScopeCart)) != 0 || len(n.Active(ScopeOrder)) != 1 {
		t.Fatalf("after clear = %+v", n.Active())
	}
}
