package lease

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryLockerSingleFlight(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()
	key := Key("job-1", "scene_image", 2)

	first, err := l.Acquire(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	if _, err := l.Acquire(ctx, key, time.Minute); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}
	if _, err := l.Acquire(ctx, Key("job-1", "scene_image", 3), time.Minute); err != nil {
		t.Fatalf("other scene should not conflict: %v", err)
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if _, err := l.Acquire(ctx, key, time.Minute); err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
}

func TestMemoryLockerExpiry(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	now = now.Add(2 * time.Second)
	fresh, err := l.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("expired lease should be reclaimable: %v", err)
	}
	// The stale holder must not release the new holder's lease.
	_ = stale.Release(ctx)
	if _, err := l.Acquire(ctx, "k", time.Second); !errors.Is(err, ErrHeld) {
		t.Fatalf("stale release dropped fresh lease: %v", err)
	}
	_ = fresh.Release(ctx)
}

func TestKeyFormat(t *testing.T) {
	if got := Key("j", "cover", 0); got != "storybook:lease:j:cover:0" {
		t.Fatalf("Key = %q", got)
	}
}

func TestAcquireWaitBlocksUntilRelease(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()
	first, _ := l.Acquire(ctx, "k", time.Minute)

	done := make(chan error, 1)
	go func() {
		second, err := AcquireWait(ctx, l, "k", time.Minute, 5*time.Millisecond)
		if err == nil {
			_ = second.Release(ctx)
		}
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	_ = first.Release(ctx)
	if err := <-done; err != nil {
		t.Fatalf("AcquireWait error: %v", err)
	}

	held, _ := l.Acquire(ctx, "k", time.Minute)
	defer held.Release(ctx)
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := AcquireWait(short, l, "k", time.Minute, 5*time.Millisecond); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld after timeout, got %v", err)
	}
}
