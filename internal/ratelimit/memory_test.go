package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBurstThenDeny(t *testing.T) {
	l := NewMemoryLimiter()
	base := time.Now()
	l.now = func() time.Time { return base }
	p := Policy{Capacity: 5, RefillRate: 1}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := l.Allow(ctx, "u1:read", p)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i+1)
		assert.Equal(t, 5, res.Limit)
		assert.Equal(t, 4-i, res.Remaining)
	}

	res, err := l.Allow(ctx, "u1:read", p)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Greater(t, res.ResetAfter, time.Duration(0))
	assert.LessOrEqual(t, res.ResetAfter, time.Second)
}

func TestRefillRestoresOneTokenAfterInterval(t *testing.T) {
	l := NewMemoryLimiter()
	base := time.Now()
	now := base
	l.now = func() time.Time { return now }
	p := Policy{Capacity: 3, RefillRate: 2} // one token every 500ms
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "k", p)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := l.Allow(ctx, "k", p)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// After 1/R seconds exactly one more request goes through.
	now = base.Add(500 * time.Millisecond)
	res, err = l.Allow(ctx, "k", p)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Allow(ctx, "k", p)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestDenyPersistsRefreshedState(t *testing.T) {
	l := NewMemoryLimiter()
	base := time.Now()
	now := base
	l.now = func() time.Time { return now }
	p := Policy{Capacity: 2, RefillRate: 1}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := l.Allow(ctx, "k", p)
		require.NoError(t, err)
	}

	// A deny halfway to the next token must advance last_update without
	// consuming anything, so the later check sees exactly one full token.
	now = base.Add(500 * time.Millisecond)
	res, err := l.Allow(ctx, "k", p)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	now = base.Add(time.Second)
	res, err = l.Allow(ctx, "k", p)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Allow(ctx, "k", p)
	require.NoError(t, err)
	assert.False(t, res.Allowed, "elapsed time credited twice")
}

func TestConcurrentRequestsNeverOverspend(t *testing.T) {
	l := NewMemoryLimiter()
	base := time.Now()
	l.now = func() time.Time { return base }
	const capacity = 50
	p := Policy{Capacity: capacity, RefillRate: 0.001}
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 2*capacity; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Allow(ctx, "hot", p)
			if err != nil {
				t.Error(err)
				return
			}
			if res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(capacity), allowed.Load())
}

func TestKeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter()
	p := Policy{Capacity: 1, RefillRate: 0.001}
	ctx := context.Background()

	res, err := l.Allow(ctx, Key("alice", ClassWrite), p)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Allow(ctx, Key("alice", ClassWrite), p)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// Same identity, different class.
	res, err = l.Allow(ctx, Key("alice", ClassRead), p)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	// Same class, different identity.
	res, err = l.Allow(ctx, Key("bob", ClassWrite), p)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestViewerReadAllows100PerMinute(t *testing.T) {
	l := NewMemoryLimiter()
	base := time.Now()
	l.now = func() time.Time { return base }
	policies := DefaultPolicySet()
	p := policies.Resolve("viewer", ClassRead)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		res, err := l.Allow(ctx, "viewer-1:read", p)
		require.NoError(t, err)
		require.True(t, res.Allowed, "request %d", i+1)
	}
	res, err := l.Allow(ctx, "viewer-1:read", p)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 100, res.Limit)
	assert.Equal(t, 0, res.Remaining)
}

func TestSweepDropsIdleBuckets(t *testing.T) {
	l := NewMemoryLimiter()
	base := time.Now()
	now := base
	l.now = func() time.Time { return now }
	p := Policy{Capacity: 10, RefillRate: 1}
	ctx := context.Background()

	_, err := l.Allow(ctx, "stale", p)
	require.NoError(t, err)

	now = base.Add(2 * time.Minute)
	_, err = l.Allow(ctx, "fresh", p)
	require.NoError(t, err)

	l.Sweep(time.Minute)

	l.mu.Lock()
	_, staleKept := l.buckets["stale"]
	_, freshKept := l.buckets["fresh"]
	l.mu.Unlock()
	assert.False(t, staleKept)
	assert.True(t, freshKept)
}

func TestResolveFallsBack(t *testing.T) {
	s := DefaultPolicySet()

	exact := s.Resolve("viewer", ClassRead)
	assert.Equal(t, PerMinute(100), exact)

	// viewer has no train entry, so the role default applies.
	roleDefault := s.Resolve("viewer", ClassTrain)
	assert.Equal(t, PerMinute(30), roleDefault)

	unknown := s.Resolve("ghost", ClassRead)
	assert.Equal(t, PerMinute(30), unknown)
}
