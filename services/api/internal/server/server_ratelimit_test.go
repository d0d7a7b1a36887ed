package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"lexai/internal/ratelimit"
)

func TestRedisBackedRateLimit(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisLimiter(ratelimit.RedisConfig{
		Addr:   redis.Addr(),
		Prefix: "lexai:test:ratelimit",
		Limit:  2,
		Window: time.Minute,
	})
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })

	s := newTestServer(t, serverOptions{limiter: limiter})
	token := s.register(t, "advocate")
	for i := 1; i <= 2; i++ {
		if resp := s.do(t, http.MethodGet, "/api/pdf/documents", token, nil); resp.status != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, resp.status)
		}
	}
	resp := s.do(t, http.MethodGet, "/api/pdf/documents", token, nil)
	if resp.status != http.StatusTooManyRequests {
		t.Fatalf("third request: expected 429, got %d", resp.status)
	}
	if resp.header.Get("X-RateLimit-Limit") != "2" {
		t.Fatalf("expected limit header 2, got %q", resp.header.Get("X-RateLimit-Limit"))
	}

	redis.FastForward(time.Minute + time.Second)
	if resp := s.do(t, http.MethodGet, "/api/pdf/documents", token, nil); resp.status != http.StatusOK {
		t.Fatalf("after window: expected 200, got %d", resp.status)
	}
}

func TestRedisOutageRejectsRequests(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisLimiter(ratelimit.RedisConfig{Addr: redis.Addr(), Limit: 5, Window: time.Minute})
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })

	s := newTestServer(t, serverOptions{limiter: limiter})
	token := s.register(t, "advocate")
	redis.Close()

	resp := s.do(t, http.MethodGet, "/api/pdf/documents", token, nil)
	if resp.status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 while redis is down, got %d", resp.status)
	}
	if retry, _ := resp.body["retryAfter"].(float64); retry <= 0 {
		t.Fatalf("expected retryAfter > 0, got %v", resp.body)
	}
}
