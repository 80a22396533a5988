// Package ratelimit throttles callers with a token bucket kept in Redis, so
// every API replica draws from the same budget.
package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "reconciler:rl:"

// Decision is the bucket's answer to one request.
type Decision struct {
	Allowed   bool
	Remaining float64
	// RetryAfter is how long until one token is available; zero when allowed.
	RetryAfter time.Duration
}

// TokenBucket is a distributed token bucket limiter.
type TokenBucket struct {
	client   redis.Scripter
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenBucket constructs a bucket holding up to capacity tokens and
// regaining refillPerSecond of them each second. Idle buckets expire after
// the time a full refill takes.
func NewTokenBucket(client redis.Scripter, capacity int, refillPerSecond float64) *TokenBucket {
	ttl := time.Duration(float64(capacity)/refillPerSecond*float64(time.Second)) + time.Second
	return &TokenBucket{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Allow takes one token from the bucket named key if one is available.
func (b *TokenBucket) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := bucketScript.Run(ctx, b.client, []string{keyPrefix + key},
		b.capacity, b.refill, b.now().UnixMilli(), b.ttl.Milliseconds()).Slice()
	if err != nil {
		return Decision{}, errors.Wrapf(err, "take token for %s", key)
	}
	if len(res) < 2 {
		return Decision{}, errors.Newf("take token for %s: unexpected script reply %v", key, res)
	}
	allowed, _ := res[0].(int64)
	// Redis truncates Lua numbers to integers, so tokens come back in thousandths.
	milli, _ := res[1].(int64)

	d := Decision{Allowed: allowed == 1, Remaining: float64(milli) / 1000}
	if !d.Allowed {
		missing := 1 - d.Remaining
		d.RetryAfter = time.Duration(math.Ceil(missing / b.refill * float64(time.Second)))
	}
	return d, nil
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, math.floor(tokens * 1000)}
`)
