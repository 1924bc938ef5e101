package ratelimit

import (
	"testing"
	"time"
)

// fakeClock lets tests advance time deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(window time.Duration, max int) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := New(window, max)
	l.now = clock.now
	return l, clock
}

func TestCheckAdmitsUpToMax(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(time.Minute, 3)

	for i := 0; i < 3; i++ {
		res := l.Check("10.0.0.1")
		if !res.Allowed {
			t.Fatalf("request %d: expected allowed", i+1)
		}
		if want := 3 - (i + 1); res.Remaining != want {
			t.Fatalf("request %d: remaining want %d got %d", i+1, want, res.Remaining)
		}
	}

	res := l.Check("10.0.0.1")
	if res.Allowed {
		t.Fatal("request 4: expected rejection")
	}
	if res.ResetIn <= 0 {
		t.Fatalf("rejection: ResetIn must be positive, got %d", res.ResetIn)
	}
}

func TestWindowSlides(t *testing.T) {
	t.Parallel()
	l, clock := newTestLimiter(10*time.Second, 2)

	l.Check("key")
	l.Check("key")
	if l.Check("key").Allowed {
		t.Fatal("expected rejection inside window")
	}

	clock.advance(11 * time.Second)
	if !l.Check("key").Allowed {
		t.Fatal("expected admission after window elapsed")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(time.Minute, 1)

	if !l.Check("a").Allowed {
		t.Fatal("first key: expected allowed")
	}
	if l.Check("a").Allowed {
		t.Fatal("first key: expected rejection")
	}
	if !l.Check("b").Allowed {
		t.Fatal("second key must not share the first key's window")
	}
}

func TestCleanupDropsIdleKeys(t *testing.T) {
	t.Parallel()
	l, clock := newTestLimiter(time.Second, 5)

	l.Check("idle")
	l.Check("fresh")
	clock.advance(2 * time.Second)
	l.Check("fresh")

	l.Cleanup()
	if got := l.Len(); got != 1 {
		t.Fatalf("after cleanup: want 1 tracked key, got %d", got)
	}
}
