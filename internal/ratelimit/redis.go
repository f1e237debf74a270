package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// slidingWindowScript trims entries older than the window, then either records
// the attempt or reports the oldest surviving timestamp. Scores are unix ms.
var slidingWindowScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local current = redis.call('ZCARD', key)

if current < max then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, window)
  return {1, max - current - 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = now
if #oldest > 0 then
  oldestScore = tonumber(oldest[2])
end
return {0, 0, oldestScore}
`)

type scriptRunner interface {
	RunScript(ctx context.Context, script *goredis.Script, keys []string, args ...any) (any, error)
	RateLimitKey(parts ...string) string
}

// RedisGate shares one sliding window per key across every API replica.
type RedisGate struct {
	redis scriptRunner
	now   func() time.Time
}

func NewRedisGate(client scriptRunner) *RedisGate {
	return &RedisGate{redis: client, now: time.Now}
}

func (g *RedisGate) Allow(ctx context.Context, key string, max int, window time.Duration) (Decision, error) {
	if max <= 0 {
		return Decision{Allowed: false, RetryAfter: window}, nil
	}
	now := g.now()
	res, err := g.redis.RunScript(ctx, slidingWindowScript,
		[]string{g.redis.RateLimitKey("sliding", key)},
		now.UnixMilli(), window.Milliseconds(), max, uuid.NewString(),
	)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}

	vals, ok := res.([]any)
	if !ok || len(vals) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit reply %T", res)
	}
	allowed, err1 := toInt64(vals[0])
	remaining, err2 := toInt64(vals[1])
	oldestMS, err3 := toInt64(vals[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return Decision{}, fmt.Errorf("unexpected rate limit reply %v", vals)
	}

	if allowed == 1 {
		return Decision{Allowed: true, Remaining: int(remaining)}, nil
	}
	return Decision{
		Allowed:    false,
		RetryAfter: retryAfter(time.UnixMilli(oldestMS), now, window),
	}, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
