package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// RateLimiter implements domain.RateLimiter with one counter per key and
// window. INCR and the expiry run in a single MULTI so every replica shares
// the same count.
type RateLimiter struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.Underlying(), now: time.Now}
}

// rateLimitKey buckets key by window start so a new window starts from zero.
func rateLimitKey(key string, window time.Duration, now time.Time) string {
	bucket := now.UnixMilli() / window.Milliseconds()
	return fmt.Sprintf("ratelimit:%s:%d", key, bucket)
}

// Allow counts one request for key and reports whether the count is still
// within limit.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if window < time.Millisecond {
		return false, fmt.Errorf("redis: rate limit %s: window %s: %w", key, window, domain.ErrInvalidArgument)
	}
	k := rateLimitKey(key, window, rl.now())

	var incr *redis.IntCmd
	if _, err := rl.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.PExpire(ctx, k, window)
		return nil
	}); err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	return incr.Val() <= int64(limit), nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
