package moderation

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultRateLimit is the number of events allowed per identity per window.
	DefaultRateLimit  = 60
	DefaultRateWindow = 60 * time.Second
)

// RateLimiter gates events per key. Implementations must be safe for concurrent use.
type RateLimiter interface {
	Check(ctx context.Context, key string) (bool, error)
	Prune(ctx context.Context) (int, error)
}

// MemoryRateLimiter is a process-local sliding-window limiter keyed by identity.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	limit   int
	window  time.Duration
	now     func() time.Time
}

// NewMemoryRateLimiter falls back to the defaults for non-positive inputs.
func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &MemoryRateLimiter{
		windows: make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

func (r *MemoryRateLimiter) Check(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	events := trimWindow(r.windows[key], now.Add(-r.window))
	if len(events) >= r.limit {
		r.windows[key] = events
		return false, nil
	}
	r.windows[key] = append(events, now)
	return true, nil
}

// Prune drops keys with no events inside the window and reports how many were removed.
func (r *MemoryRateLimiter) Prune(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := r.now().Add(-r.window)
	n := 0
	for key, events := range r.windows {
		events = trimWindow(events, cut)
		if len(events) == 0 {
			delete(r.windows, key)
			n++
			continue
		}
		r.windows[key] = events
	}
	return n, nil
}

// trimWindow filters in place, keeping events strictly after cut.
func trimWindow(events []time.Time, cut time.Time) []time.Time {
	dst := events[:0]
	for _, t := range events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	return dst
}
