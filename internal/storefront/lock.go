package storefront

import (
	"context"
	"sync"
)

// lineLocks gives each cart line a single writer. Different lines never
// wait on each other.
type lineLocks struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newLineLocks() *lineLocks {
	return &lineLocks{held: map[string]chan struct{}{}}
}

// TryAcquire takes the line or reports false if it is busy.
func (l *lineLocks) TryAcquire(key string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false
	}
	return l.take(key), true
}

// Acquire waits for the line to be free.
func (l *lineLocks) Acquire(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		ch, busy := l.held[key]
		if !busy {
			release := l.take(key)
			l.mu.Unlock()
			return release, nil
		}
		l.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *lineLocks) Pending(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.held[key]
	return busy
}

// take must be called with l.mu held.
func (l *lineLocks) take(key string) func() {
	ch := make(chan struct{})
	l.held[key] = ch
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
			close(ch)
		})
	}
}
