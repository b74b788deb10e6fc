package storefront

import (
	"context"
	"errors"
	"testing"
	"time"

	"retrocart/internal/domain"
)

func TestClamp(t *testing.T) {
	cases := []struct {
		name                      string
		current, delta, available int
		known                     bool
		want                      int
	}{
		{"step up", 1, 1, 5, true, 2},
		{"capped at available", 5, 1, 5, true, 5},
		{"big jump capped", 1, 10, 3, true, 3},
		{"floor is one", 1, -1, 5, true, 1},
		{"above stock pulled down", 8, 0, 3, true, 3},
		{"out of stock keeps one", 2, 1, 0, true, 1},
		{"oversold keeps one", 1, 5, -2, true, 1},
		{"oversold large line", 4, 0, -3, true, 1},
		{"unknown stock uses fallback", 998, 5, 0, false, UnresolvedMax},
		{"unknown ignores available", 2, 3, -2, false, 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Clamp(tc.current, tc.delta, tc.available, tc.known); got != tc.want {
				t.Fatalf("Clamp(%d, %d, %d, %v) = %d, want %d", tc.current, tc.delta, tc.available, tc.known, got, tc.want)
			}
		})
	}
}

func loaded(t *testing.T, f *fakeAPI) (*Synchronizer, *Notices) {
	t.Helper()
	notices := NewNotices(0)
	s := NewSynchronizer(f, notices, &View{})
	done, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	<-done
	return s, notices
}

func TestVariantLinesShareOneStockPool(t *testing.T) {
	red := line("tee-001", map[string]string{"color": "red"}, 6)
	blue := line("tee-001", map[string]string{"color": "blue"}, 6)
	f := newFake(red, blue)
	f.setStock("tee-001", 10)
	s, _ := loaded(t, f)

	if w := s.Warnings(); len(w) != 0 {
		t.Fatalf("each line alone fits, want no warnings, got %+v", w)
	}
	sf := s.Shortfalls()
	if len(sf) != 1 {
		t.Fatalf("want one shortfall, got %+v", sf)
	}
	if sf[0].ProductID != "tee-001" || sf[0].Requested != 12 || sf[0].Available != 10 || len(sf[0].ItemKeys) != 2 {
		t.Fatalf("shortfall = %+v", sf[0])
	}
}

func TestWarnings(t *testing.T) {
	f := newFake(
		line("gone", nil, 1),
		line("few", nil, 4),
		line("low", nil, 1),
		line("plenty", nil, 2),
		line("unknown", nil, 50),
	)
	f.setStock("gone", 0)
	f.setStock("few", 2)
	f.setStock("low", 3)
	f.setStock("plenty", 40)
	s, _ := loaded(t, f)

	got := map[string]WarningKind{}
	for _, w := range s.Warnings() {
		got[w.ProductID] = w.Kind
	}
	want := map[string]WarningKind{"gone": WarnOutOfStock, "few": WarnExceeds, "low": WarnLowStock}
	if len(got) != len(want) {
		t.Fatalf("warnings = %v, want %v", got, want)
	}
	for id, k := range want {
		if got[id] != k {
			t.Errorf("%s = %s, want %s", id, got[id], k)
		}
	}
}

func TestStepRespectsClamp(t *testing.T) {
	l := line("radio-001", nil, 2)
	f := newFake(l, line("solo", nil, 1))
	f.setStock("radio-001", 2)
	f.setStock("solo", 4)
	s, _ := loaded(t, f)
	ctx := context.Background()

	if s.CanIncrement(l) {
		t.Fatal("increment offered at available stock")
	}
	if err := s.Step(ctx, l.ItemKey, 1); err != nil {
		t.Fatalf("step: %v", err)
	}
	solo, _ := s.Cart().Line(domain.ItemKey("solo", nil))
	if err := s.Step(ctx, solo.ItemKey, -1); err != nil {
		t.Fatalf("step down: %v", err)
	}
	if s.CanDecrement(solo) {
		t.Fatal("decrement offered at quantity 1")
	}
	if n := f.count("update"); n != 0 {
		t.Fatalf("clamped steps made %d update calls", n)
	}

	if err := s.Step(ctx, l.ItemKey, -1); err != nil {
		t.Fatalf("step down: %v", err)
	}
	if got, _ := s.Cart().Line(l.ItemKey); got.Quantity != 1 {
		t.Fatalf("quantity = %d, want 1", got.Quantity)
	}
}

func TestStepWithOversoldStockHoldsAtOne(t *testing.T) {
	l := line("radio-001", nil, 1)
	f := newFake(l)
	f.stock["radio-001"] = domain.StockRecord{ProductID: "radio-001", StockQuantity: 2, ReservedQuantity: 4, AvailableQuantity: -2}
	s, _ := loaded(t, f)

	if !s.Availability("radio-001").Known {
		t.Fatal("oversold stock should still be known")
	}
	if s.CanIncrement(l) {
		t.Fatal("increment offered with negative availability")
	}
	if err := s.Step(context.Background(), l.ItemKey, 5); err != nil {
		t.Fatalf("step: %v", err)
	}
	if n := f.count("update"); n != 0 {
		t.Fatalf("made %d update calls", n)
	}
	if got, _ := s.Cart().Line(l.ItemKey); got.Quantity != 1 {
		t.Fatalf("quantity = %d, want 1", got.Quantity)
	}
}

func TestStepWithUnknownStockUsesFallback(t *testing.T) {
	l := line("gbc-001", nil, 3)
	f := newFake(l)
	f.stockErr = errNetwork
	s, _ := loaded(t, f)

	if !s.CanIncrement(l) {
		t.Fatal("unknown stock should still allow increments")
	}
	if err := s.Step(context.Background(), l.ItemKey, 1); err != nil {
		t.Fatalf("step: %v", err)
	}
	if got, _ := s.Cart().Line(l.ItemKey); got.Quantity != 4 {
		t.Fatalf("quantity = %d, want 4", got.Quantity)
	}
}

func TestConcurrentUpdatesSameLineRejected(t *testing.T) {
	a := line("gbc-001", nil, 1)
	b := line("snes-001", nil, 1)
	f := newFake(a, b)
	s, _ := loaded(t, f)
	ctx := context.Background()

	release := f.hold()
	defer release()
	first := make(chan error, 1)
	go func() { first <- s.UpdateQuantity(ctx, a.ProductID, 2, a.ItemKey, nil) }()
	f.arrived(t)

	if err := s.UpdateQuantity(ctx, a.ProductID, 3, a.ItemKey, nil); !errors.Is(err, ErrLinePending) {
		t.Fatalf("second update of same line: %v, want ErrLinePending", err)
	}
	if !s.Pending(a) || s.CanIncrement(a) {
		t.Fatal("line should be pending with its controls disabled")
	}

	other := make(chan error, 1)
	go func() { other <- s.UpdateQuantity(ctx, b.ProductID, 5, b.ItemKey, nil) }()
	f.arrived(t)

	release()
	if err := <-first; err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := <-other; err != nil {
		t.Fatalf("other line: %v", err)
	}
	if n := f.count("update"); n != 2 {
		t.Fatalf("update calls = %d, want 2", n)
	}
	if s.Pending(a) {
		t.Fatal("lock not released")
	}
	// the two replies may land in either order; reload the server copy
	done, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	<-done
	if got, _ := s.Cart().Line(a.ItemKey); got.Quantity != 2 {
		t.Fatalf("a quantity = %d, want 2", got.Quantity)
	}
	if got, _ := s.Cart().Line(b.ItemKey); got.Quantity != 5 {
		t.Fatalf("b quantity = %d, want 5", got.Quantity)
	}
}

func TestFailedUpdateKeepsLastGoodCart(t *testing.T) {
	l := line("gbc-001", nil, 2)
	f := newFake(l)
	s, notices := loaded(t, f)
	f.updateErr = &ApiError{HTTPStatus: 409, Code: "INSUFFICIENT_STOCK", Message: "not enough stock"}

	err := s.UpdateQuantity(context.Background(), l.ProductID, 9, l.ItemKey, nil)
	if !IsCode(err, "INSUFFICIENT_STOCK") {
		t.Fatalf("err = %v", err)
	}
	if got, _ := s.Cart().Line(l.ItemKey); got.Quantity != 2 {
		t.Fatalf("quantity = %d, want unchanged 2", got.Quantity)
	}
	active := notices.Active(ScopeCart)
	if len(active) != 1 || active[0].Key != l.ItemKey || active[0].Message != UserMessage(err) {
		t.Fatalf("notices = %+v", active)
	}
	if s.Pending(l) {
		t.Fatal("lock not released after failure")
	}
}

func TestRemoveWaitsForInFlightUpdate(t *testing.T) {
	l := line("gbc-001", nil, 1)
	f := newFake(l)
	s, _ := loaded(t, f)
	ctx := context.Background()

	release := f.hold()
	defer release()
	updated := make(chan error, 1)
	go func() { updated <- s.UpdateQuantity(ctx, l.ProductID, 2, l.ItemKey, nil) }()
	f.arrived(t)

	removed := make(chan error, 1)
	go func() { removed <- s.RemoveItem(ctx, l.ProductID, l.ItemKey) }()
	select {
	case err := <-removed:
		t.Fatalf("remove ran during update: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	release()
	if err := <-updated; err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := <-removed; err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := s.Cart().Line(l.ItemKey); ok {
		t.Fatal("line still in cart")
	}
}

func TestAddRequiresOptionsBeforeCalling(t *testing.T) {
	f := newFake()
	notices := NewNotices(0)
	s := NewSynchronizer(f, notices, nil)

	err := s.Add(context.Background(), "tee-001", 1, nil, "color")
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "color" {
		t.Fatalf("err = %v", err)
	}
	if f.total() != 0 {
		t.Fatalf("made %d calls", f.total())
	}
	if len(notices.Active(ScopeItem)) != 1 {
		t.Fatal("want an item notice")
	}

	if err := s.Add(context.Background(), "tee-001", 2, map[string]string{"color": "red"}, "color"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if c := s.Cart(); c.ItemCount != 2 || len(c.Items) != 1 {
		t.Fatalf("cart = %+v", c)
	}
}

func TestStaleStockDiscardedAfterTeardown(t *testing.T) {
	l := line("gbc-001", nil, 1)
	f := newFake(l)
	f.setStock("gbc-001", 8)
	view := &View{}
	s := NewSynchronizer(f, nil, view)

	release := f.hold()
	done, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	f.arrived(t)
	s.Teardown()
	release()
	<-done

	if s.Availability("gbc-001").Known {
		t.Fatal("stock from a torn-down view was applied")
	}
	if view.Live(0) {
		t.Fatal("teardown did not advance the view generation")
	}

	<-s.RefreshStock(context.Background())
	if a := s.Availability("gbc-001"); !a.Known || a.Record.AvailableQuantity != 8 {
		t.Fatalf("fresh refresh = %+v", a)
	}
}
