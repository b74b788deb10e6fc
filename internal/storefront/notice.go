package storefront

import (
	"sync"
	"time"
)

type Scope string

const (
	ScopeItem     Scope = "item"
	ScopeCart     Scope = "cart"
	ScopeOrder    Scope = "order"
	ScopeCheckout Scope = "checkout"
)

// DefaultNoticeTTL is how long a non-blocking notice stays visible.
const DefaultNoticeTTL = 5 * time.Second

type Notice struct {
	ID       int
	Scope    Scope
	Key      string // item key or order id the notice belongs to, if any
	Message  string
	Blocking bool
	At       time.Time
}

// Notices collects user-visible error messages. Non-blocking notices expire
// after the TTL; blocking ones stay until dismissed.
type Notices struct {
	mu    sync.Mutex
	items []Notice
	next  int
	ttl   time.Duration
	now   func() time.Time
}

func NewNotices(ttl time.Duration) *Notices {
	if ttl <= 0 {
		ttl = DefaultNoticeTTL
	}
	return &Notices{ttl: ttl, now: time.Now}
}

// SetClock replaces the time source; tests use it to expire notices.
func (n *Notices) SetClock(now func() time.Time) {
	n.mu.Lock()
	n.now = now
	n.mu.Unlock()
}

// Raise records a notice and returns its id. A notice with the same scope
// and key replaces the previous one.
func (n *Notices) Raise(scope Scope, key, msg string, blocking bool) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	kept := n.items[:0]
	for _, it := range n.items {
		if it.Scope != scope || it.Key != key {
			kept = append(kept, it)
		}
	}
	n.items = append(kept, Notice{ID: n.next, Scope: scope, Key: key, Message: msg, Blocking: blocking, At: n.now()})
	return n.next
}

func (n *Notices) Dismiss(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, it := range n.items {
		if it.ID == id {
			n.items = append(n.items[:i], n.items[i+1:]...)
			return
		}
	}
}

// Clear drops every notice of a scope, e.g. after the cart reloads cleanly.
func (n *Notices) Clear(scope Scope) {
	n.mu.Lock()
	defer n.mu.Unlock()
	kept := n.items[:0]
	for _, it := range n.items {
		if it.Scope != scope {
			kept = append(kept, it)
		}
	}
	n.items = kept
}

// Active returns live notices, oldest first. Pass no scopes for all of them.
func (n *Notices) Active(scopes ...Scope) []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	kept := n.items[:0]
	for _, it := range n.items {
		if it.Blocking || now.Sub(it.At) < n.ttl {
			kept = append(kept, it)
		}
	}
	n.items = kept

	var out []Notice
	for _, it := range n.items {
		if len(scopes) == 0 || hasScope(scopes, it.Scope) {
			out = append(out, it)
		}
	}
	return out
}

func hasScope(scopes []Scope, s Scope) bool {
	for _, x := range scopes {
		if x == s {
			return true
		}
	}
	return false
}
