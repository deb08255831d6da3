package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemoryLimiter is an in-memory implementation of Limiter.
// This is intended for testing. Production should use PostgresLimiter.
type InMemoryLimiter struct {
	mu       sync.Mutex
	windows  map[string]Window
	counters map[string]int
	nowFunc  func() time.Time
}

// NewInMemoryLimiter creates a new in-memory limiter.
func NewInMemoryLimiter(windows map[string]Window) *InMemoryLimiter {
	if windows == nil {
		windows = DefaultWindows()
	}
	return &InMemoryLimiter{
		windows:  windows,
		counters: make(map[string]int),
		nowFunc:  time.Now,
	}
}

// SetNow overrides the clock, for tests that advance time.
func (l *InMemoryLimiter) SetNow(nowFunc func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowFunc = nowFunc
}

// Check atomically increments the counter for (operation, actor).
func (l *InMemoryLimiter) Check(_ context.Context, operation, actorID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	window, ok := l.windows[operation]
	if !ok {
		return fmt.Errorf("unknown rate limit operation: %s", operation)
	}

	now := l.nowFunc()
	start := windowStart(now, window.Length)
	key := fmt.Sprintf("%s|%s|%d", operation, actorID, start.Unix())

	l.counters[key]++
	if l.counters[key] > window.Limit {
		return &Error{
			Operation:  operation,
			Limit:      window.Limit,
			RetryAfter: start.Add(window.Length).Sub(now),
		}
	}

	return nil
}

// Ensure InMemoryLimiter implements Limiter.
var _ Limiter = (*InMemoryLimiter)(nil)
