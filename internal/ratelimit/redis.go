package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// allowScript performs refill, check and decrement in one atomic step on
// the Redis side, so concurrent requests against the same key serialize on
// the server and never double-spend the last token. The balance is returned
// as a string to keep the fractional part across the integer-only reply
// protocol.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call("HMGET", key, "tokens", "last_update")
local tokens = tonumber(data[1])
local last_update = tonumber(data[2])
if tokens == nil then
    tokens = capacity
    last_update = now
end

local elapsed = now - last_update
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_update", now)
redis.call("EXPIRE", key, ttl)
return {allowed, tostring(tokens)}
`)

// RedisLimiter shares bucket state across instances.
type RedisLimiter struct {
	rdb redis.Cmdable
	now func() time.Time
}

func NewRedisLimiter(rdb redis.Cmdable) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, p Policy) (Result, error) {
	if p.zero() {
		return Result{Allowed: true, Limit: math.MaxInt32, Remaining: math.MaxInt32}, nil
	}
	now := float64(l.now().UnixNano()) / 1e9
	// Key lives slightly past the time a bucket needs to refill fully, so
	// idle buckets expire on their own.
	ttl := int64(p.Capacity/p.RefillRate) + 60

	vals, err := allowScript.Run(ctx, l.rdb,
		[]string{redisKeyPrefix + key},
		p.RefillRate, p.Capacity, now, ttl,
	).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: redis eval: %w", err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("ratelimit: unexpected reply length %d", len(vals))
	}
	allowed, ok := vals[0].(int64)
	if !ok {
		return Result{}, fmt.Errorf("ratelimit: unexpected allowed type %T", vals[0])
	}
	raw, ok := vals[1].(string)
	if !ok {
		return Result{}, fmt.Errorf("ratelimit: unexpected balance type %T", vals[1])
	}
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: parse balance: %w", err)
	}
	return result(p, allowed == 1, tokens), nil
}

var _ Limiter = (*RedisLimiter)(nil)
