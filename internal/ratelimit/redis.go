package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript performs the whole check atomically server-side:
// trim expired entries, count what remains, and either deny (returning the
// oldest score for retry_after calculation) or record the new request.
// KEYS[1] = sorted-set key; ARGV[1] = now (unix seconds, float);
// ARGV[2] = window seconds; ARGV[3] = max; ARGV[4] = member (unique per
// request, to avoid collisions when two requests land in the same second).
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)

local count = redis.call("ZCARD", key)
if count >= max then
  local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
  local oldestScore = now
  if #oldest > 0 then
    oldestScore = tonumber(oldest[2])
  end
  return {0, 0, oldestScore}
end

redis.call("ZADD", key, now, member)
redis.call("EXPIRE", key, window + 60)
local remaining = max - count - 1
return {1, remaining, 0}
`)

// RedisLimiter is the distributed sliding-window backend, keyed
// "ratelimit:{principal}" per spec §6's persisted-state layout.
type RedisLimiter struct {
	client *redis.Client
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

func (l *RedisLimiter) Check(ctx context.Context, principal string, max int, window time.Duration) (Result, error) {
	key := "ratelimit:" + principal
	now := time.Now()
	member := fmt.Sprintf("%d-%d", now.UnixNano(), now.Nanosecond())

	res, err := slidingWindowScript.Run(ctx, l.client, []string{key},
		float64(now.Unix()), window.Seconds(), max, member).Result()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: check %s: %w", principal, err)
	}

	vals, ok := res.([]any)
	if !ok || len(vals) != 3 {
		return Result{}, fmt.Errorf("ratelimit: unexpected script result for %s", principal)
	}

	allowed := toInt64(vals[0]) == 1
	remaining := int(toInt64(vals[1]))
	if allowed {
		return Result{Allowed: true, Remaining: remaining}, nil
	}

	oldestScore := toFloat64(vals[2])
	retryAfter := int(oldestScore+window.Seconds()-float64(now.Unix())) + 1
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Result{Allowed: false, Remaining: 0, RetryAfterSeconds: retryAfter}, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	case string:
		var f float64
		_, _ = fmt.Sscanf(n, "%f", &f)
		return f
	default:
		return 0
	}
}
