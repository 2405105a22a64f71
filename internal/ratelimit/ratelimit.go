// Package ratelimit implements a token-bucket limiter keyed by caller
// identity and endpoint class. Refill is lazy: a bucket's balance is
// recomputed from its last-update timestamp on every check, so the state is
// self-contained and shareable across instances through Redis.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Class groups endpoints with similar cost. Stricter classes refill slower.
type Class string

const (
	ClassRead  Class = "read"
	ClassWrite Class = "write"
	ClassBulk  Class = "bulk"
	ClassTrain Class = "train"
	ClassAuth  Class = "auth"
)

// Policy is a bucket shape: capacity tokens, refilled at RefillRate per
// second. A zero policy means unlimited.
type Policy struct {
	Capacity   float64
	RefillRate float64
}

func (p Policy) zero() bool { return p.Capacity <= 0 || p.RefillRate <= 0 }

// PerMinute builds a policy that admits burst requests immediately and
// sustains n requests per minute.
func PerMinute(n int) Policy {
	return Policy{Capacity: float64(n), RefillRate: float64(n) / 60}
}

// Result reports the outcome of one bucket check. Remaining is rounded down
// so a client never sees more allowance than it has. ResetAfter is the
// estimated wait until at least one token is available; zero when allowed.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration
}

// Limiter is the atomic check-and-decrement primitive. Implementations must
// guarantee that two concurrent calls for the same key never both consume
// the last token.
type Limiter interface {
	Allow(ctx context.Context, key string, p Policy) (Result, error)
}

// PolicySet resolves (role, class) to a policy: exact entry first, then the
// role's default, then the global default.
type PolicySet struct {
	exact        map[string]map[Class]Policy
	roleDefaults map[string]Policy
	fallback     Policy
}

// DefaultPolicySet mirrors the production limits: reads are generous,
// writes tighter, bulk and training tighter still, and the auth class caps
// credential guessing regardless of role.
func DefaultPolicySet() *PolicySet {
	return &PolicySet{
		exact: map[string]map[Class]Policy{
			"admin": {
				ClassRead:  PerMinute(600),
				ClassWrite: PerMinute(300),
				ClassBulk:  PerMinute(30),
				ClassTrain: PerMinute(10),
			},
			"analyst": {
				ClassRead:  PerMinute(300),
				ClassWrite: PerMinute(120),
				ClassBulk:  PerMinute(12),
				ClassTrain: PerMinute(6),
			},
			"viewer": {
				ClassRead:  PerMinute(100),
				ClassWrite: PerMinute(20),
				ClassBulk:  PerMinute(4),
			},
		},
		roleDefaults: map[string]Policy{
			"admin":   PerMinute(120),
			"analyst": PerMinute(60),
			"viewer":  PerMinute(30),
		},
		fallback: PerMinute(30),
	}
}

// Resolve never returns a zero policy: an unknown role still gets the
// global fallback.
func (s *PolicySet) Resolve(role string, class Class) Policy {
	if byClass, ok := s.exact[role]; ok {
		if p, ok := byClass[class]; ok {
			return p
		}
	}
	if p, ok := s.roleDefaults[role]; ok {
		return p
	}
	return s.fallback
}

// Set overrides the policy for one (role, class) pair.
func (s *PolicySet) Set(role string, class Class, p Policy) {
	if s.exact == nil {
		s.exact = map[string]map[Class]Policy{}
	}
	if s.exact[role] == nil {
		s.exact[role] = map[Class]Policy{}
	}
	s.exact[role][class] = p
}

// Key builds the bucket key for one caller and endpoint class.
func Key(identity string, class Class) string {
	return fmt.Sprintf("%s:%s", identity, class)
}

// result derives the caller-visible outcome from a bucket balance after the
// refill-and-maybe-consume step ran.
func result(p Policy, allowed bool, tokens float64) Result {
	r := Result{
		Allowed:   allowed,
		Limit:     int(p.Capacity),
		Remaining: int(math.Floor(tokens)),
	}
	if r.Remaining < 0 {
		r.Remaining = 0
	}
	if !allowed && tokens < 1 {
		r.ResetAfter = time.Duration((1 - tokens) / p.RefillRate * float64(time.Second))
	}
	return r
}
