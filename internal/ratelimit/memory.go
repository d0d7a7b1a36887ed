package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowState struct {
	count   int64
	resetAt time.Time
}

// MemoryLimiter keeps per-key counters in process memory.
// Counters are lost on restart.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*windowState
}

// MemoryOption customizes a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewMemoryLimiter creates an in-process fixed window limiter.
func NewMemoryLimiter(limit int, window time.Duration, opts ...MemoryOption) (*MemoryLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errInvalidQuota
	}
	l := &MemoryLimiter{
		limit:   limit,
		window:  window,
		now:     func() time.Time { return time.Now().UTC() },
		windows: make(map[string]*windowState),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Allow counts one request for key.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	key = normalizeKey(key)

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	state, ok := l.windows[key]
	if !ok || now.After(state.resetAt) {
		state = &windowState{resetAt: now.Add(l.window)}
		l.windows[key] = state
	}
	state.count++
	return decide(l.limit, state.count, state.resetAt, now), nil
}

// Sweep drops windows that have already expired and returns how many were removed.
func (l *MemoryLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	for key, state := range l.windows {
		if now.After(state.resetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (l *MemoryLimiter) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = l.window
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}
