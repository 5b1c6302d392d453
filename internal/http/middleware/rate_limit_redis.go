package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript prunes, counts and conditionally records in one round trip.
// Scores are unix milliseconds. Returns {allowed, count, oldest_score}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = ARGV[1]
local cutoff = ARGV[2]
local window = ARGV[3]
local limit = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', cutoff)
local count = tonumber(redis.call('ZCARD', key))
local allowed = 0
if count < limit then
	redis.call('ZADD', key, now, member)
	count = count + 1
	allowed = 1
end
if count > 0 then
	redis.call('PEXPIRE', key, window)
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = tonumber(now)
if oldest[2] then
	oldestScore = tonumber(oldest[2])
end
return {allowed, count, oldestScore}
`)

// RedisLimiter shares sliding-window counters across instances through sorted sets.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisLimiter) WithClock(now func() time.Time) *RedisLimiter {
	if now != nil {
		l.now = now
	}
	return l
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := l.now()
	nowMs := now.UnixMilli()
	windowMs := policy.Window.Milliseconds()

	vals, err := slidingWindowScript.Run(ctx, l.client,
		[]string{l.prefix + ":" + key},
		nowMs, nowMs-windowMs, windowMs, policy.Limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis sliding window: %w", err)
	}
	if len(vals) != 3 {
		return Decision{}, fmt.Errorf("redis sliding window: unexpected reply length %d", len(vals))
	}

	allowed := vals[0] == 1
	count := int(vals[1])
	resetAt := time.UnixMilli(vals[2]).Add(policy.Window)
	d := Decision{
		Allowed:   allowed,
		Count:     count,
		Remaining: max(policy.Limit-count, 0),
		ResetAt:   resetAt,
	}
	if !allowed {
		d.RetryAfter = policy.Window
		d.Reason = "window"
	}
	return d, nil
}
