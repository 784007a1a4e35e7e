package messaging

import (
	"context"
	"sync"
	"time"
)

// WindowLimiter is an in-process fixed-window limiter used in dev mode
// and tests. Production deployments use the Redis-backed limiter so the
// window is shared across nodes.
type WindowLimiter struct {
	mu      sync.Mutex
	counts  map[string]int
	resets  map[string]time.Time
	limit   int
	window  time.Duration
	now     func() time.Time
}

// NewWindowLimiter allows limit actions per window per key.
func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	if limit <= 0 {
		limit = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &WindowLimiter{
		counts: make(map[string]int),
		resets: make(map[string]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (l *WindowLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if reset, ok := l.resets[key]; !ok || now.After(reset) {
		l.counts[key] = 0
		l.resets[key] = now.Add(l.window)
	}
	l.counts[key]++
	return l.counts[key] <= l.limit, nil
}

var _ Limiter = (*WindowLimiter)(nil)
