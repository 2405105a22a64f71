package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastUpdate time.Time
}

// MemoryLimiter keeps buckets in process memory. Suitable for a single
// instance or for tests; multi-instance deployments use RedisLimiter so all
// instances share one balance per key.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, p Policy) (Result, error) {
	if p.zero() {
		return Result{Allowed: true, Limit: math.MaxInt32, Remaining: math.MaxInt32}, nil
	}
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: p.Capacity, lastUpdate: now}
		l.buckets[key] = b
	}
	l.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(p.Capacity, b.tokens+elapsed*p.RefillRate)
		b.lastUpdate = now
	}
	// Both branches persist the refreshed balance so later callers do not
	// re-credit the same elapsed time.
	if b.tokens >= 1 {
		b.tokens--
		return result(p, true, b.tokens), nil
	}
	return result(p, false, b.tokens), nil
}

// Sweep drops buckets idle longer than ttl. Callers run it periodically.
func (l *MemoryLimiter) Sweep(ttl time.Duration) {
	cutoff := l.now().Add(-ttl)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		b.mu.Lock()
		stale := b.lastUpdate.Before(cutoff)
		b.mu.Unlock()
		if stale {
			delete(l.buckets, key)
		}
	}
}

var _ Limiter = (*MemoryLimiter)(nil)
