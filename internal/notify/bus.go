package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

type outbound struct {
	channel string
	data    []byte
}

// Bus implements domain.EventPublisher on top of a SignalBus. Publish calls
// only enqueue; Run drains the queue in the background so a slow or broken
// bus never blocks a marketplace operation. When the queue is full the event
// is dropped and logged.
type Bus struct {
	signals domain.SignalBus
	prefix  string
	queue   chan outbound
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewBus creates a Bus publishing under prefix with room for queueSize
// pending events.
func NewBus(signals domain.SignalBus, prefix string, queueSize int, logger *slog.Logger) *Bus {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Bus{
		signals: signals,
		prefix:  prefix,
		queue:   make(chan outbound, queueSize),
		logger:  logger.With(slog.String("component", "event_bus")),
	}
}

// Prefix returns the channel prefix the bus publishes under.
func (b *Bus) Prefix() string { return b.prefix }

// Dropped returns the number of events discarded because the queue was full.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// PublishToPlayer queues event for one player's sessions.
func (b *Bus) PublishToPlayer(ctx context.Context, playerID, event string, payload any) error {
	return b.enqueue(ctx, PlayerChannel(b.prefix, playerID), domain.Envelope{Event: event, Target: playerID, Payload: payload})
}

// PublishToTopic queues event for the subscribers of topic.
func (b *Bus) PublishToTopic(ctx context.Context, topic, event string, payload any) error {
	return b.enqueue(ctx, TopicChannel(b.prefix, topic), domain.Envelope{Event: event, Target: topic, Payload: payload})
}

// PublishToAll queues event for every connected session.
func (b *Bus) PublishToAll(ctx context.Context, event string, payload any) error {
	return b.enqueue(ctx, AllChannel(b.prefix), domain.Envelope{Event: event, Target: "*", Payload: payload})
}

func (b *Bus) enqueue(ctx context.Context, channel string, env domain.Envelope) error {
	// Marshal now so later mutation of payload by the caller is not observed.
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %w", env.Event, err)
	}
	select {
	case b.queue <- outbound{channel: channel, data: data}:
	default:
		b.dropped.Add(1)
		b.logger.WarnContext(ctx, "event queue full, dropping event",
			slog.String("event", env.Event),
			slog.String("channel", channel),
		)
	}
	return nil
}

// Run publishes queued events until ctx is cancelled, then flushes what is
// left with a short deadline.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			b.flush()
			return nil
		case msg := <-b.queue:
			b.send(ctx, msg)
		}
	}
}

func (b *Bus) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case msg := <-b.queue:
			b.send(ctx, msg)
		default:
			return
		}
	}
}

func (b *Bus) send(ctx context.Context, msg outbound) {
	if err := b.signals.Publish(ctx, msg.channel, msg.data); err != nil {
		b.logger.WarnContext(ctx, "publish failed",
			slog.String("channel", msg.channel),
			slog.String("error", err.Error()),
		)
	}
}

var _ domain.EventPublisher = (*Bus)(nil)
