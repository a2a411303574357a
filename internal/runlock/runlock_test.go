package runlock

import (
	"context"
	"errors"
	"testing"
)

func TestLocal_TryLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	ok, err := l.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("first lock ok=%v err=%v", ok, err)
	}
	ok, err = l.TryLock(ctx)
	if err != nil || ok {
		t.Fatalf("second lock must fail, ok=%v err=%v", ok, err)
	}
	if err := l.Unlock(ctx); err != nil {
		t.Fatalf("unlock err=%v", err)
	}
	if err := l.Unlock(ctx); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld, got %v", err)
	}
	if ok, _ := l.TryLock(ctx); !ok {
		t.Fatalf("lock must be free after unlock")
	}
}

func TestLocal_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if ok, err := NewLocal().TryLock(ctx); ok || err == nil {
		t.Fatalf("cancelled context must not lock")
	}
}
