package storefront

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"retrocart/internal/domain"
	applog "retrocart/internal/log"
)

// Clamp applies delta to current and bounds the result to [1, available].
// When known is false the ceiling is UnresolvedMax. A known available of
// zero or less leaves the floor of 1 in charge.
func Clamp(current, delta, available int, known bool) int {
	ceiling := UnresolvedMax
	if known {
		ceiling = max(available, 0)
	}
	next := current + delta
	if next > ceiling {
		next = ceiling
	}
	if next < 1 {
		next = 1
	}
	return next
}

type WarningKind string

const (
	WarnOutOfStock WarningKind = "OUT_OF_STOCK"
	WarnExceeds    WarningKind = "EXCEEDS_AVAILABLE"
	WarnLowStock   WarningKind = "LOW_STOCK"
)

// LineWarning flags one line against its product's stock record. Variant
// lines of one product are each compared to the same record.
type LineWarning struct {
	ItemKey   string
	ProductID string
	Kind      WarningKind
	Available int
}

// Shortfall reports a product whose lines together ask for more than is available.
type Shortfall struct {
	ProductID string
	Requested int
	Available int
	ItemKeys  []string
}

// Synchronizer mirrors the server cart. Every mutation round-trips before the
// local copy changes; a failed call leaves the last good copy in place.
type Synchronizer struct {
	api      API
	resolver *Resolver
	notices  *Notices
	view     *View
	locks    *lineLocks

	mu    sync.Mutex
	cart  domain.Cart
	stock map[string]Availability
}

func NewSynchronizer(api API, notices *Notices, view *View) *Synchronizer {
	if notices == nil {
		notices = NewNotices(0)
	}
	if view == nil {
		view = &View{}
	}
	return &Synchronizer{
		api:      api,
		resolver: &Resolver{API: api},
		notices:  notices,
		view:     view,
		locks:    newLineLocks(),
		stock:    map[string]Availability{},
	}
}

// Load fetches the cart and starts stock resolution in the background. The
// returned channel closes once stock has been applied or discarded.
func (s *Synchronizer) Load(ctx context.Context) (<-chan struct{}, error) {
	gen := s.view.Generation()
	cart, err := s.api.Cart(ctx)
	if err != nil {
		s.notices.Raise(ScopeCart, "", UserMessage(err), false)
		done := make(chan struct{})
		close(done)
		return done, err
	}
	s.mu.Lock()
	if !s.view.Live(gen) {
		s.mu.Unlock()
		done := make(chan struct{})
		close(done)
		return done, nil
	}
	s.cart = cart
	s.mu.Unlock()
	return s.RefreshStock(ctx), nil
}

// Teardown ends the current view. It holds the state lock so no result
// already past its liveness check can land afterwards.
func (s *Synchronizer) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Teardown()
}

// RefreshStock resolves availability for the products in the cart without
// blocking the caller.
func (s *Synchronizer) RefreshStock(ctx context.Context) <-chan struct{} {
	gen := s.view.Generation()
	ids := s.Cart().ProductIDs()
	done := make(chan struct{})
	go func() {
		defer close(done)
		resolved := s.resolver.Resolve(ctx, ids)
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.view.Live(gen) {
			applog.L().Debug("storefront.stock.stale", zap.Uint64("generation", gen))
			return
		}
		for id, a := range resolved {
			s.stock[id] = a
		}
	}()
	return done
}

// Cart returns a copy of the last known-good cart.
func (s *Synchronizer) Cart() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cart
	c.Items = append([]domain.CartLine(nil), s.cart.Items...)
	return c
}

func (s *Synchronizer) Availability(productID string) Availability {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.stock[productID]; ok {
		return a
	}
	return unknown(productID)
}

func (s *Synchronizer) CanIncrement(line domain.CartLine) bool {
	return !s.Pending(line) && line.Quantity < s.Availability(line.ProductID).Max()
}

func (s *Synchronizer) CanDecrement(line domain.CartLine) bool {
	return !s.Pending(line) && line.Quantity > 1
}

// Pending reports whether a mutation of line is in flight.
func (s *Synchronizer) Pending(line domain.CartLine) bool {
	return s.locks.Pending(lockKey(line.ProductID, line.ItemKey))
}

func lockKey(productID, itemKey string) string {
	if itemKey != "" {
		return itemKey
	}
	return productID
}

// Add puts a product into the cart. Every name in required must have a
// selection in options; that is checked before any call.
func (s *Synchronizer) Add(ctx context.Context, productID string, qty int, options map[string]string, required ...string) error {
	for _, name := range required {
		if options[name] == "" {
			err := &ValidationError{Field: name, Message: fmt.Sprintf("Please choose a %s.", name)}
			s.notices.Raise(ScopeItem, productID, err.Message, false)
			return err
		}
	}
	if qty < 1 {
		qty = 1
	}
	key := domain.ItemKey(productID, options)
	release, ok := s.locks.TryAcquire(key)
	if !ok {
		return ErrLinePending
	}
	defer release()

	cart, err := s.api.AddItem(ctx, productID, qty, options)
	if err != nil {
		s.notices.Raise(ScopeItem, productID, UserMessage(err), false)
		return err
	}
	s.apply(cart)
	return nil
}

// Step moves a line by delta within its clamp. No call is made when the
// clamp leaves the quantity unchanged.
func (s *Synchronizer) Step(ctx context.Context, itemKey string, delta int) error {
	line, ok := s.Cart().Line(itemKey)
	if !ok {
		return &ValidationError{Field: "itemKey", Message: "That item is no longer in your cart."}
	}
	avail := s.Availability(line.ProductID)
	next := Clamp(line.Quantity, delta, avail.Record.AvailableQuantity, avail.Known)
	if next == line.Quantity {
		return nil
	}
	return s.UpdateQuantity(ctx, line.ProductID, next, line.ItemKey, line.SelectedOptions)
}

// UpdateQuantity sets a line's quantity. A second update of the same line
// while one is in flight fails with ErrLinePending.
func (s *Synchronizer) UpdateQuantity(ctx context.Context, productID string, qty int, itemKey string, options map[string]string) error {
	if qty < 1 {
		return &ValidationError{Field: "quantity", Message: "Quantity must be at least 1."}
	}
	release, ok := s.locks.TryAcquire(lockKey(productID, itemKey))
	if !ok {
		return ErrLinePending
	}
	defer release()

	cart, err := s.api.UpdateItem(ctx, productID, qty, itemKey, options)
	if err != nil {
		s.notices.Raise(ScopeCart, itemKey, UserMessage(err), false)
		applog.L().Info("storefront.cart.update.fail", zap.String("item", itemKey), zap.Error(err))
		return err
	}
	s.apply(cart)
	return nil
}

// RemoveItem drops a line. It waits behind an in-flight update of the same
// line rather than racing it.
func (s *Synchronizer) RemoveItem(ctx context.Context, productID, itemKey string) error {
	release, err := s.locks.Acquire(ctx, lockKey(productID, itemKey))
	if err != nil {
		return err
	}
	defer release()

	cart, err := s.api.RemoveItem(ctx, productID, itemKey)
	if err != nil {
		s.notices.Raise(ScopeCart, itemKey, UserMessage(err), false)
		return err
	}
	s.apply(cart)
	return nil
}

func (s *Synchronizer) apply(cart domain.Cart) {
	s.mu.Lock()
	s.cart = cart
	s.mu.Unlock()
}

// reset empties the local cart after the server cleared it on checkout.
func (s *Synchronizer) reset() {
	s.apply(domain.NewCart(nil))
}

// Warnings compares each line to its product's shared record on its own.
// It does not catch variant lines that only exceed stock together; see Shortfalls.
func (s *Synchronizer) Warnings() []LineWarning {
	var out []LineWarning
	for _, l := range s.Cart().Items {
		a := s.Availability(l.ProductID)
		if !a.Known {
			continue
		}
		avail := a.Record.AvailableQuantity
		switch {
		case avail <= 0:
			out = append(out, LineWarning{ItemKey: l.ItemKey, ProductID: l.ProductID, Kind: WarnOutOfStock, Available: avail})
		case l.Quantity > avail:
			out = append(out, LineWarning{ItemKey: l.ItemKey, ProductID: l.ProductID, Kind: WarnExceeds, Available: avail})
		case a.Band == domain.BandLowStock:
			out = append(out, LineWarning{ItemKey: l.ItemKey, ProductID: l.ProductID, Kind: WarnLowStock, Available: avail})
		}
	}
	return out
}

// Shortfalls sums variant lines per product and reports products whose
// total exceeds the shared available quantity. Checkout reserves the same
// total, so these carts will be refused with INSUFFICIENT_STOCK.
func (s *Synchronizer) Shortfalls() []Shortfall {
	byProduct := map[string]*Shortfall{}
	for _, l := range s.Cart().Items {
		sf, ok := byProduct[l.ProductID]
		if !ok {
			sf = &Shortfall{ProductID: l.ProductID}
			byProduct[l.ProductID] = sf
		}
		sf.Requested += l.Quantity
		sf.ItemKeys = append(sf.ItemKeys, l.ItemKey)
	}
	var out []Shortfall
	for id, sf := range byProduct {
		a := s.Availability(id)
		if !a.Known || sf.Requested <= a.Record.AvailableQuantity {
			continue
		}
		sf.Available = a.Record.AvailableQuantity
		out = append(out, *sf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
