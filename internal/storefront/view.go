package storefront

import "sync/atomic"

// View is the cancellation token of one screen. Work started under a
// generation may only apply its result while that generation is current.
type View struct {
	gen atomic.Uint64
}

func (v *View) Generation() uint64 { return v.gen.Load() }

func (v *View) Live(gen uint64) bool { return v.gen.Load() == gen }

// Teardown invalidates every continuation started so far.
func (v *View) Teardown() { v.gen.Add(1) }
