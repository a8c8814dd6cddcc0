// Package ratelimit throttles outbound delivery attempts per endpoint so one
// tenant's burst cannot swamp a slow receiver.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Limiter is a token bucket per key. Every key starts with a full bucket.
// A nil Limiter, or one with a non-positive rate, admits everything.
type Limiter struct {
	mu      sync.Mutex
	rate    float64 // tokens per second
	burst   float64
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// New creates a limiter admitting rate attempts per second per key with
// bursts of up to burst. A burst below 1 defaults to ceil(rate).
func New(rate float64, burst int) *Limiter {
	b := float64(burst)
	if b < 1 {
		b = math.Max(1, math.Ceil(rate))
	}
	return &Limiter{
		rate:    rate,
		burst:   b,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Enabled reports whether the limiter throttles at all.
func (l *Limiter) Enabled() bool {
	return l != nil && l.rate > 0
}

// Allow takes a token for key if one is available.
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refill(key)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Wait blocks until key may proceed or ctx is done. A canceled wait returns
// its reserved token.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if !l.Enabled() {
		return nil
	}

	d := l.reserve(key)
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		l.unreserve(key)
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Forget drops the state kept for key.
func (l *Limiter) Forget(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// reserve takes a token, letting the bucket go negative, and returns how
// long the caller must wait for it.
func (l *Limiter) reserve(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refill(key)
	b.tokens--
	if b.tokens >= 0 {
		return 0
	}
	return time.Duration(-b.tokens / l.rate * float64(time.Second))
}

func (l *Limiter) unreserve(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[key]; ok {
		b.tokens = math.Min(l.burst, b.tokens+1)
	}
}

// refill must be called with mu held.
func (l *Limiter) refill(key string) *bucket {
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, last: now}
		l.buckets[key] = b
		return b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = math.Min(l.burst, b.tokens+elapsed*l.rate)
		b.last = now
	}
	return b
}
