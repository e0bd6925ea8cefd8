package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

type rateWindow struct {
	start time.Time
	count int
}

// RateLimiter is an in-process domain.RateLimiter with fixed windows.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	nowFn   func() time.Time
}

// NewRateLimiter returns an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windows: make(map[string]*rateWindow), nowFn: time.Now}
}

// Allow counts one request for key.
func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowFn()
	w, ok := r.windows[key]
	if !ok || now.Sub(w.start) >= window {
		w = &rateWindow{start: now}
		r.windows[key] = w
		r.prune(now, window)
	}
	w.count++
	return w.count <= limit, nil
}

// prune drops windows that ended. Called only when a new window opens.
func (r *RateLimiter) prune(now time.Time, window time.Duration) {
	for k, w := range r.windows {
		if now.Sub(w.start) >= window {
			delete(r.windows, k)
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
