package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradepost/internal/domain"
	"github.com/alanyoungcy/tradepost/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseChannel(t *testing.T) {
	cases := []struct {
		channel  string
		kind, id string
		ok       bool
	}{
		{"mkt:player:p1", TargetPlayer, "p1", true},
		{"mkt:topic:trade:44002", TargetTopic, "trade:44002", true},
		{"mkt:all", TargetAll, "", true},
		{"mkt:player:", "", "", false},
		{"mkt:other:x", "", "", false},
		{"other:all", "", "", false},
	}
	for _, tc := range cases {
		kind, id, ok := ParseChannel("mkt", tc.channel)
		assert.Equal(t, tc.ok, ok, tc.channel)
		assert.Equal(t, tc.kind, kind, tc.channel)
		assert.Equal(t, tc.id, id, tc.channel)
	}
}

func TestBusDeliversEnvelopes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := memory.NewSignalBus()
	msgs, err := signals.PSubscribe(ctx, Pattern("mkt"))
	require.NoError(t, err)

	bus := NewBus(signals, "mkt", 16, discardLogger())
	go func() { _ = bus.Run(ctx) }()

	require.NoError(t, bus.PublishToPlayer(ctx, "p1", domain.EventListingOpened, domain.ListingEvent{ListingID: "l1"}))
	require.NoError(t, bus.PublishToTopic(ctx, domain.TradeTopic("44002"), domain.EventTradeOpened, map[string]string{"k": "v"}))
	require.NoError(t, bus.PublishToAll(ctx, domain.EventTradeUpdate, nil))

	want := []struct{ channel, event, target string }{
		{"mkt:player:p1", domain.EventListingOpened, "p1"},
		{"mkt:topic:trade:44002", domain.EventTradeOpened, "trade:44002"},
		{"mkt:all", domain.EventTradeUpdate, "*"},
	}
	for _, w := range want {
		select {
		case msg := <-msgs:
			assert.Equal(t, w.channel, msg.Channel)
			var env struct {
				Event  string `json:"event"`
				Target string `json:"target"`
			}
			require.NoError(t, json.Unmarshal(msg.Payload, &env))
			assert.Equal(t, w.event, env.Event)
			assert.Equal(t, w.target, env.Target)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", w.channel)
		}
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(memory.NewSignalBus(), "mkt", 1, discardLogger())
	ctx := context.Background()

	require.NoError(t, bus.PublishToAll(ctx, domain.EventTradeUpdate, nil))
	require.NoError(t, bus.PublishToAll(ctx, domain.EventTradeUpdate, nil))
	assert.Equal(t, int64(1), bus.Dropped())
}

func TestBusMarshalError(t *testing.T) {
	bus := NewBus(memory.NewSignalBus(), "mkt", 1, discardLogger())
	err := bus.PublishToAll(context.Background(), domain.EventTradeUpdate, make(chan int))
	assert.Error(t, err)
}
