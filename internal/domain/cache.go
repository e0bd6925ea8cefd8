package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub between processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, error)
	PSubscribe(ctx context.Context, patterns ...string) (<-chan Message, error)
}

// Message is a payload received from a SignalBus channel.
type Message struct {
	Channel string
	Payload []byte
}

// SessionResolver maps a bearer token to a stable player id.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (playerID string, err error)
}

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	// Allow records one request for key and reports whether it is within
	// limit for the current window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
