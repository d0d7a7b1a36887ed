package ratelimit

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultLimit  = 10
	DefaultWindow = time.Minute
)

var errInvalidQuota = errors.New("rate limiter requires positive limit and window")

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is only set when the request was rejected.
	RetryAfter time.Duration
}

// Limiter counts requests per key in a fixed window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RetryAfterSeconds rounds d up to whole seconds, never below one.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// ResetUnix returns the window reset time as epoch seconds, rounded up.
func (d Decision) ResetUnix() int64 {
	ms := d.ResetAt.UnixMilli()
	return (ms + 999) / 1000
}

func decide(limit int, count int64, resetAt, now time.Time) Decision {
	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: int(remaining),
		ResetAt:   resetAt,
	}
	if !d.Allowed {
		d.RetryAfter = resetAt.Sub(now)
		if d.RetryAfter < 0 {
			d.RetryAfter = 0
		}
	}
	return d
}

func normalizeKey(key string) string {
	if key == "" {
		return "unknown"
	}
	return key
}
