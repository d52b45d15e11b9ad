package handlers

import (
	"strings"
	"sync"
	"time"
)

// RateLimiter admits or rejects an attempt for a key.
type RateLimiter interface {
	Allow(key string) bool
}

// windowLimiter allows up to limit attempts per key in each fixed window.
type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]attemptWindow
}

type attemptWindow struct {
	count int
	reset time.Time
}

// NewWindowLimiter returns nil when limit or window is not positive, which disables limiting.
func NewWindowLimiter(limit int, window time.Duration, clock func() time.Time) RateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]attemptWindow),
	}
}

func (l *windowLimiter) Allow(key string) bool {
	key = strings.TrimSpace(key)
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || !now.Before(current.reset) {
		l.evictExpired(now)
		l.windows[key] = attemptWindow{count: 1, reset: now.Add(l.window)}
		return true
	}
	if current.count >= l.limit {
		return false
	}
	current.count++
	l.windows[key] = current
	return true
}

func (l *windowLimiter) evictExpired(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.reset) {
			delete(l.windows, key)
		}
	}
}
