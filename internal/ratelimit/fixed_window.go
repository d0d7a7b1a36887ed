package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// The window starts at the first hit for a key, mirroring MemoryLimiter.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisConfig configures a RedisLimiter.
type RedisConfig struct {
	Addr     string
	Password string
	Prefix   string
	Limit    int
	Window   time.Duration
}

// RedisLimiter shares counters between instances through Redis.
type RedisLimiter struct {
	limit  int
	window time.Duration

	redisClient *redis.Client
	redisPrefix string
}

// NewRedisLimiter creates a Redis-backed distributed limiter.
func NewRedisLimiter(cfg RedisConfig) (*RedisLimiter, error) {
	if cfg.Limit <= 0 || cfg.Window <= 0 {
		return nil, errInvalidQuota
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "lexai:ratelimit"
	}
	return &RedisLimiter{
		limit:  cfg.Limit,
		window: cfg.Window,
		redisClient: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Password,
		}),
		redisPrefix: prefix,
	}, nil
}

// Allow counts one request for key.
// On Redis failures it fails closed: the decision is a rejection and the error is returned.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if l == nil {
		return Decision{}, errors.New("rate limiter not configured")
	}
	key = normalizeKey(strings.TrimSpace(key))
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	now := time.Now().UTC()
	redisKey := fmt.Sprintf("%s:%s", l.redisPrefix, key)
	res, err := fixedWindowScript.Run(ctx, l.redisClient, []string{redisKey}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return l.rejected(now), fmt.Errorf("rate limiter redis: %w", err)
	}
	if len(res) != 2 {
		return l.rejected(now), fmt.Errorf("rate limiter redis: unexpected reply length %d", len(res))
	}
	resetAt := now.Add(time.Duration(res[1]) * time.Millisecond)
	return decide(l.limit, res[0], resetAt, now), nil
}

// Close releases the Redis connection pool.
func (l *RedisLimiter) Close() error {
	if l == nil || l.redisClient == nil {
		return nil
	}
	return l.redisClient.Close()
}

func (l *RedisLimiter) rejected(now time.Time) Decision {
	return Decision{
		Allowed:    false,
		Limit:      l.limit,
		Remaining:  0,
		ResetAt:    now.Add(l.window),
		RetryAfter: l.window,
	}
}
