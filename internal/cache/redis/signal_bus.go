package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// SignalBus implements domain.SignalBus using Redis Pub/Sub. Every server
// process subscribes, so an event published by one process reaches sessions
// connected to any of them.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends payload to a Redis Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on exact channel names. The returned channel is closed
// when ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channels ...string) (<-chan domain.Message, error) {
	return sb.listen(ctx, sb.rdb.Subscribe(ctx, channels...), strings.Join(channels, ","))
}

// PSubscribe listens on glob patterns such as "mkt:*".
func (sb *SignalBus) PSubscribe(ctx context.Context, patterns ...string) (<-chan domain.Message, error) {
	return sb.listen(ctx, sb.rdb.PSubscribe(ctx, patterns...), strings.Join(patterns, ","))
}

func (sb *SignalBus) listen(ctx context.Context, pubsub *redis.PubSub, name string) (<-chan domain.Message, error) {
	// Wait for the subscription confirmation before handing out the channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", name, err)
	}

	out := make(chan domain.Message, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- domain.Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
