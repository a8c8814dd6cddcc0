package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(rate float64, burst int) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := New(rate, burst)
	l.now = clock.Now
	return l, clock
}

func TestAllow_Unlimited(t *testing.T) {
	var nilLimiter *Limiter
	for _, l := range []*Limiter{nilLimiter, New(0, 0)} {
		for i := 0; i < 100; i++ {
			if !l.Allow("ep-1") {
				t.Fatal("unlimited limiter should always allow")
			}
		}
	}
}

func TestAllow_Burst(t *testing.T) {
	l, _ := newTestLimiter(1, 2)

	if !l.Allow("ep") || !l.Allow("ep") {
		t.Fatal("first two calls should be allowed (bucket starts full)")
	}
	if l.Allow("ep") {
		t.Fatal("third call should be denied")
	}
	if !l.Allow("other") {
		t.Fatal("keys should not share buckets")
	}
}

func TestAllow_DefaultBurst(t *testing.T) {
	l, _ := newTestLimiter(2.5, 0)
	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow("ep") {
			allowed++
		}
	}
	if allowed != 3 {
		t.Fatalf("allowed = %d, want 3 (ceil of rate)", allowed)
	}
}

func TestAllow_Refills(t *testing.T) {
	l, clock := newTestLimiter(10, 10)

	for i := 0; i < 10; i++ {
		l.Allow("ep")
	}
	if l.Allow("ep") {
		t.Fatal("should be denied after exhausting bucket")
	}

	clock.Advance(100 * time.Millisecond)
	if !l.Allow("ep") {
		t.Fatal("should be allowed after one token refills")
	}
	if l.Allow("ep") {
		t.Fatal("only one token should have refilled")
	}

	clock.Advance(time.Hour)
	allowed := 0
	for i := 0; i < 20; i++ {
		if l.Allow("ep") {
			allowed++
		}
	}
	if allowed != 10 {
		t.Fatalf("allowed = %d after long idle, want burst of 10", allowed)
	}
}

func TestWait_Immediate(t *testing.T) {
	l, _ := newTestLimiter(1, 1)
	if err := l.Wait(t.Context(), "ep"); err != nil {
		t.Fatalf("Wait with a full bucket: %v", err)
	}
}

func TestWait_ContextCanceledReturnsToken(t *testing.T) {
	l, clock := newTestLimiter(1, 1)
	l.Allow("ep")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := l.Wait(ctx, "ep"); err == nil {
		t.Fatal("Wait should fail on a canceled context")
	}

	// The canceled reservation must not push the next token further out.
	clock.Advance(time.Second)
	if !l.Allow("ep") {
		t.Fatal("token should be available one interval after the canceled wait")
	}
}

func TestWait_Blocks(t *testing.T) {
	l := New(20, 1) // one token every 50ms
	l.Allow("ep")

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := l.Wait(ctx, "ep"); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("Wait returned after %s, expected it to block", elapsed)
	}
}

func TestForget(t *testing.T) {
	l, _ := newTestLimiter(1, 1)

	l.Allow("ep")
	if l.Allow("ep") {
		t.Fatal("should be denied")
	}

	l.Forget("ep")
	if !l.Allow("ep") {
		t.Fatal("should be allowed after Forget")
	}
}

func TestConcurrentAccess(t *testing.T) {
	l, _ := newTestLimiter(100, 100)

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Allow("ep")
		}()
	}
	wg.Wait()
	close(allowed)

	n := 0
	for v := range allowed {
		if v {
			n++
		}
	}
	if n != 100 {
		t.Fatalf("allowed = %d, want exactly 100 with a frozen clock", n)
	}
}
