package policy

import (
	"sync"
	"time"
)

// bucket is one token bucket's live state.
type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// TokenBucketLimiter implements RateLimiter with one bucket per
// (actor, action-type) key, protected by a single mutex and refilled
// lazily on read. Buckets are created on first use from a per-action-type
// shape supplied by shapeFor.
type TokenBucketLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	shapeFor func(key string) RateLimitRule
}

// NewTokenBucketLimiter builds a limiter that looks up each new key's
// bucket shape via shapeFor, called once per key on first use.
func NewTokenBucketLimiter(shapeFor func(key string) RateLimitRule) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		buckets:  make(map[string]*bucket),
		shapeFor: shapeFor,
	}
}

// Take withdraws one token for key, refilling lazily based on elapsed time
// since the bucket was last touched. It returns false (throttled) when the
// bucket has no tokens left.
func (l *TokenBucketLimiter) Take(key string, now time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		shape := l.shapeFor(key)
		if shape.Capacity <= 0 {
			shape = RateLimitRule{Capacity: 60, RefillPerSecond: 1}
		}
		b = &bucket{tokens: shape.Capacity, capacity: shape.Capacity, refillRate: shape.RefillPerSecond, lastRefill: now}
		l.buckets[key] = b
	} else {
		elapsed := now.Sub(b.lastRefill).Seconds()
		if elapsed > 0 {
			b.tokens = min(b.capacity, b.tokens+elapsed*b.refillRate)
			b.lastRefill = now
		}
	}

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}
