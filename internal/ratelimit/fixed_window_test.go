package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisLimiterBlocksAfterLimit(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisLimiter(RedisConfig{Addr: redis.Addr(), Prefix: "test:ratelimit", Limit: 2, Window: time.Minute})
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	defer limiter.Close()
	ctx := context.Background()

	first, err := limiter.Allow(ctx, "user-1")
	if err != nil || !first.Allowed {
		t.Fatalf("first request should pass: %+v err=%v", first, err)
	}
	if first.Remaining != 1 || first.Limit != 2 {
		t.Fatalf("unexpected first decision: %+v", first)
	}
	if d, _ := limiter.Allow(ctx, "user-1"); !d.Allowed {
		t.Fatalf("second request should pass")
	}
	third, err := limiter.Allow(ctx, "user-1")
	if err != nil {
		t.Fatalf("third request: %v", err)
	}
	if third.Allowed {
		t.Fatalf("third request should be blocked")
	}
	if third.RetryAfter <= 0 || third.Remaining != 0 {
		t.Fatalf("expected retryAfter > 0 and remaining 0, got %+v", third)
	}
	if d, _ := limiter.Allow(ctx, "user-2"); !d.Allowed {
		t.Fatalf("other key should have its own window")
	}
}

func TestRedisLimiterResetsAfterWindow(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisLimiter(RedisConfig{Addr: redis.Addr(), Limit: 1, Window: time.Minute})
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	defer limiter.Close()
	ctx := context.Background()

	if d, _ := limiter.Allow(ctx, "user-1"); !d.Allowed {
		t.Fatalf("first request should pass")
	}
	if d, _ := limiter.Allow(ctx, "user-1"); d.Allowed {
		t.Fatalf("second request should be blocked")
	}
	redis.FastForward(time.Minute + time.Second)
	if d, _ := limiter.Allow(ctx, "user-1"); !d.Allowed {
		t.Fatalf("request after window should pass")
	}
}

func TestRedisLimiterFailClosed(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisLimiter(RedisConfig{Addr: redis.Addr(), Limit: 1, Window: time.Second})
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	defer limiter.Close()
	redis.Close()
	d, err := limiter.Allow(context.Background(), "user-1")
	if err == nil {
		t.Fatalf("expected redis error")
	}
	if d.Allowed {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestRedisLimiterRequiresRedisAddr(t *testing.T) {
	limiter, err := NewRedisLimiter(RedisConfig{Limit: 1, Window: time.Second})
	if err == nil || limiter != nil {
		t.Fatalf("expected constructor error for empty redis addr")
	}
}
