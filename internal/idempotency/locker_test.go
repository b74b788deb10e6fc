package idempotency

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryLocker(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "key-aaaaaaaa")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Acquire(ctx, "key-aaaaaaaa"); !errors.Is(err, ErrBusy) {
		t.Fatalf("want ErrBusy, got %v", err)
	}
	// other keys are independent
	r2, err := l.Acquire(ctx, "key-bbbbbbbb")
	if err != nil {
		t.Fatal(err)
	}
	r2()

	release()
	release() // second release is a no-op
	r3, err := l.Acquire(ctx, "key-aaaaaaaa")
	if err != nil {
		t.Fatalf("released key should be free: %v", err)
	}
	r3()
}

func TestMemoryLocker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemoryLocker().Acquire(ctx, "key-aaaaaaaa"); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
