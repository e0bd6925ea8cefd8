package memory

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

type subscriber struct {
	ch       chan domain.Message
	channels []string
	patterns []string
}

func (s *subscriber) matches(channel string) bool {
	for _, c := range s.channels {
		if c == channel {
			return true
		}
	}
	for _, p := range s.patterns {
		if ok, _ := path.Match(p, channel); ok {
			return true
		}
	}
	return false
}

// SignalBus is an in-process domain.SignalBus. Slow subscribers lose
// messages rather than blocking publishers.
type SignalBus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewSignalBus returns an empty bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[*subscriber]struct{})}
}

// Publish delivers payload to every matching subscriber.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !s.matches(channel) {
			continue
		}
		select {
		case s.ch <- domain.Message{Channel: channel, Payload: payload}:
		default:
		}
	}
	return nil
}

// Subscribe listens on exact channel names until ctx is done.
func (b *SignalBus) Subscribe(ctx context.Context, channels ...string) (<-chan domain.Message, error) {
	return b.add(ctx, &subscriber{ch: make(chan domain.Message, 256), channels: channels}), nil
}

// PSubscribe listens on glob patterns until ctx is done.
func (b *SignalBus) PSubscribe(ctx context.Context, patterns ...string) (<-chan domain.Message, error) {
	return b.add(ctx, &subscriber{ch: make(chan domain.Message, 256), patterns: patterns}), nil
}

func (b *SignalBus) add(ctx context.Context, s *subscriber) <-chan domain.Message {
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch
}

// LockManager is an in-process domain.LockManager.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]time.Time
	nowFn func() time.Time
}

// NewLockManager returns a LockManager with no locks held.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]time.Time), nowFn: time.Now}
}

// Acquire takes key for ttl or returns domain.ErrLockHeld.
func (m *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFn()
	if until, ok := m.held[key]; ok && now.Before(until) {
		return nil, domain.ErrLockHeld
	}
	until := now.Add(ttl)
	m.held[key] = until
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.held[key].Equal(until) {
			delete(m.held, key)
		}
	}, nil
}
