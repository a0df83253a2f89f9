package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach-engine/internal/config"
)

// RateLimiter enforces per-provider request budgets using a Redis Lua
// script. The check and the increment happen in one script call, so
// concurrent workers cannot overshoot the way GET -> check -> INCR would.
type RateLimiter struct {
	redis   *redis.Client
	budgets map[string]config.RateLimit

	limitScript *redis.Script
}

// Lua script for atomic budget check. Only increments when the request
// still fits the window.
const limitLuaScript = `
local key = KEYS[1]
local increment = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = tonumber(redis.call("GET", key) or "0")

if current + increment > limit then
    return {0, current}  -- denied
end

local newVal = redis.call("INCRBY", key, increment)
if newVal == increment then
    redis.call("EXPIRE", key, ttl)
end

return {1, newVal}  -- allowed
`

// NewRateLimiter creates a limiter with the given per-provider budgets.
func NewRateLimiter(redisClient *redis.Client, budgets []config.RateLimit) *RateLimiter {
	m := make(map[string]config.RateLimit, len(budgets))
	for _, b := range budgets {
		m[b.Provider] = b
	}
	return &RateLimiter{
		redis:       redisClient,
		budgets:     m,
		limitScript: redis.NewScript(limitLuaScript),
	}
}

// NewRateLimiterFromURL connects to Redis and creates a limiter.
func NewRateLimiterFromURL(redisURL string, budgets []config.RateLimit) (*RateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRateLimiter(client, budgets), nil
}

// CheckAndIncrement atomically consumes one request from the provider's
// budget. When denied it returns how long to wait for the next window.
func (r *RateLimiter) CheckAndIncrement(ctx context.Context, provider string) (allowed bool, waitTime time.Duration, err error) {
	budget, ok := r.budgets[provider]
	if !ok {
		return false, 0, fmt.Errorf("unknown provider: %s", provider)
	}

	window := int64(budget.WindowSeconds)
	if window <= 0 {
		window = 1
	}
	now := time.Now()
	bucket := now.Unix() / window
	key := fmt.Sprintf("ratelimit:%s:%d:%d", provider, window, bucket)

	result, err := r.limitScript.Run(ctx, r.redis,
		[]string{key},
		1,
		budget.Requests,
		window*2, // TTL covers the window plus clock skew
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}

	if result[0].(int64) == 1 {
		return true, 0, nil
	}

	// wait until the current bucket rolls over
	nextBucket := time.Unix((bucket+1)*window, 0)
	waitTime = nextBucket.Sub(now)
	if waitTime <= 0 {
		waitTime = time.Second
	}
	return false, waitTime, nil
}

// Acquire blocks until the provider's budget admits one request or the
// context ends.
func (r *RateLimiter) Acquire(ctx context.Context, provider string) error {
	for {
		allowed, wait, err := r.CheckAndIncrement(ctx, provider)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// CurrentUsage returns the live counter and limit for a provider.
func (r *RateLimiter) CurrentUsage(ctx context.Context, provider string) (map[string]int64, error) {
	budget, ok := r.budgets[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}

	window := int64(budget.WindowSeconds)
	if window <= 0 {
		window = 1
	}
	key := fmt.Sprintf("ratelimit:%s:%d:%d", provider, window, time.Now().Unix()/window)

	current, err := r.redis.Get(ctx, key).Int64()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	return map[string]int64{
		"current": current,
		"limit":   int64(budget.Requests),
	}, nil
}

// Close closes the Redis connection.
func (r *RateLimiter) Close() error {
	return r.redis.Close()
}
