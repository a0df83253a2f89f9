package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach-engine/internal/config"
)

func newTestLimiter(t *testing.T, budgets []config.RateLimit) *RateLimiter {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRateLimiter(client, budgets)
}

func TestRateLimiterBurstDenied(t *testing.T) {
	limiter := newTestLimiter(t, []config.RateLimit{
		{Provider: "outreach", Requests: 3, WindowSeconds: 60},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := limiter.CheckAndIncrement(ctx, "outreach")
		if err != nil {
			t.Fatalf("check %d error: %v", i, err)
		}
		if !allowed {
			t.Fatalf("request %d should be within budget", i)
		}
	}

	allowed, wait, err := limiter.CheckAndIncrement(ctx, "outreach")
	if err != nil {
		t.Fatalf("check error: %v", err)
	}
	if allowed {
		t.Error("4th request should be denied")
	}
	if wait <= 0 {
		t.Errorf("denied request should carry a positive wait, got %s", wait)
	}
}

func TestRateLimiterIndependentBudgets(t *testing.T) {
	limiter := newTestLimiter(t, []config.RateLimit{
		{Provider: "outreach", Requests: 1, WindowSeconds: 60},
		{Provider: "analysis", Requests: 5, WindowSeconds: 60},
	})
	ctx := context.Background()

	if allowed, _, _ := limiter.CheckAndIncrement(ctx, "outreach"); !allowed {
		t.Fatal("first outreach request should pass")
	}
	if allowed, _, _ := limiter.CheckAndIncrement(ctx, "outreach"); allowed {
		t.Error("outreach budget should be exhausted")
	}
	// the analysis budget is untouched
	if allowed, _, _ := limiter.CheckAndIncrement(ctx, "analysis"); !allowed {
		t.Error("analysis budget should be independent")
	}
}

func TestRateLimiterUnknownProvider(t *testing.T) {
	limiter := newTestLimiter(t, nil)

	if _, _, err := limiter.CheckAndIncrement(context.Background(), "mystery"); err == nil {
		t.Error("unknown provider should error")
	}
	if err := limiter.Acquire(context.Background(), "mystery"); err == nil {
		t.Error("unknown provider should error")
	}
}

func TestRateLimiterAcquireHonorsContext(t *testing.T) {
	limiter := newTestLimiter(t, []config.RateLimit{
		{Provider: "outreach", Requests: 1, WindowSeconds: 60},
	})
	ctx := context.Background()

	if err := limiter.Acquire(ctx, "outreach"); err != nil {
		t.Fatalf("first acquire error: %v", err)
	}

	cancelled, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := limiter.Acquire(cancelled, "outreach")
	if err == nil {
		t.Fatal("acquire over budget should fail when context ends")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("acquire did not return promptly after cancel: %s", elapsed)
	}
}

func TestRateLimiterCurrentUsage(t *testing.T) {
	limiter := newTestLimiter(t, []config.RateLimit{
		{Provider: "outreach", Requests: 10, WindowSeconds: 60},
	})
	ctx := context.Background()

	limiter.CheckAndIncrement(ctx, "outreach")
	limiter.CheckAndIncrement(ctx, "outreach")

	usage, err := limiter.CurrentUsage(ctx, "outreach")
	if err != nil {
		t.Fatalf("usage error: %v", err)
	}
	if usage["current"] != 2 {
		t.Errorf("expected current=2, got %d", usage["current"])
	}
	if usage["limit"] != 10 {
		t.Errorf("expected limit=10, got %d", usage["limit"])
	}
}
