// Package ratelimit throttles submissions with in-memory token buckets. The
// API applies it per client address and per paying agent.
package ratelimit

import (
	"sync"
	"time"
)

// bucket tracks the token state for a single key.
type bucket struct {
	tokens     float64
	lastRefill time.Time
	lastUsed   time.Time
	rate       int
}

// Decision is the outcome of a Take call plus the quota state after it.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter implements a token-bucket rate limiter keyed by arbitrary string
// identifiers (e.g. payer ID, client address).
type Limiter struct {
	mu          sync.Mutex
	buckets     map[string]*bucket
	defaultRate int
	window      time.Duration
	now         func() time.Time // injectable clock for testing
}

// New creates a Limiter that allows defaultRate requests per window. A
// non-positive defaultRate disables limiting for keys without a custom rate.
func New(defaultRate int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		buckets:     make(map[string]*bucket),
		defaultRate: defaultRate,
		window:      window,
		now:         time.Now,
	}
}

// effectiveRate returns customRate if positive, otherwise the default rate.
func (l *Limiter) effectiveRate(customRate int) int {
	if customRate > 0 {
		return customRate
	}
	return l.defaultRate
}

// getBucket returns the bucket for key, creating one if it doesn't exist.
// Must be called with l.mu held.
func (l *Limiter) getBucket(key string, rate int) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			tokens:     float64(rate),
			lastRefill: l.now(),
			rate:       rate,
		}
		l.buckets[key] = b
	}
	b.rate = rate
	b.lastUsed = l.now()
	return b
}

// refill adds tokens to the bucket based on elapsed time since the last refill.
// Must be called with l.mu held.
func (l *Limiter) refill(b *bucket) {
	now := l.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	refillRate := float64(b.rate) / l.window.Seconds()
	b.tokens += elapsed * refillRate
	if b.tokens > float64(b.rate) {
		b.tokens = float64(b.rate)
	}
	b.lastRefill = now
}

// Take consumes one token for key if available and reports the resulting
// quota in the same critical section.
func (l *Limiter) Take(key string, customRate int) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	rate := l.effectiveRate(customRate)
	if rate <= 0 {
		return Decision{Allowed: true}
	}
	b := l.getBucket(key, rate)
	l.refill(b)

	d := Decision{Limit: rate}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
	}
	d.Remaining, d.ResetAt = l.quotaLocked(b)
	return d
}

// Allow reports whether a request identified by key is permitted, consuming
// one token when it is.
func (l *Limiter) Allow(key string, customRate int) bool {
	return l.Take(key, customRate).Allowed
}

// Status returns the current rate-limit state for key without consuming a
// token. resetAt is the time at which the bucket will be fully replenished.
func (l *Limiter) Status(key string, customRate int) (limit int, remaining int, resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rate := l.effectiveRate(customRate)
	if rate <= 0 {
		return 0, 0, l.now()
	}
	b := l.getBucket(key, rate)
	l.refill(b)

	remaining, resetAt = l.quotaLocked(b)
	return rate, remaining, resetAt
}

// Must be called with l.mu held.
func (l *Limiter) quotaLocked(b *bucket) (int, time.Time) {
	remaining := int(b.tokens)
	if remaining < 0 {
		remaining = 0
	}

	deficit := float64(b.rate) - b.tokens
	if deficit <= 0 {
		return remaining, l.now()
	}
	refillRate := float64(b.rate) / l.window.Seconds()
	return remaining, l.now().Add(time.Duration(deficit/refillRate*1e9) * time.Nanosecond)
}

// Prune drops buckets unused for longer than idle and returns how many were
// removed. A dropped bucket is indistinguishable from a full one.
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	n := 0
	for key, b := range l.buckets {
		if b.lastUsed.Before(cutoff) {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
