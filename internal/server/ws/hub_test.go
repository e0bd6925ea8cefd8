package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradepost/internal/domain"
	"github.com/alanyoungcy/tradepost/internal/notify"
	"github.com/alanyoungcy/tradepost/internal/server/middleware"
	"github.com/alanyoungcy/tradepost/internal/store/memory"
)

type envelope struct {
	Event   string          `json:"event"`
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
}

func startHub(t *testing.T) (*memory.SignalBus, *Hub, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := memory.NewSignalBus()
	hub := NewHub(bus, Config{Prefix: "mkt"}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- hub.Run(ctx) }()

	srv := httptest.NewServer(middleware.Identity(nil, true, logger)(http.HandlerFunc(hub.HandleWS)))
	t.Cleanup(func() {
		cancel()
		<-errCh
		srv.Close()
	})
	return bus, hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, playerID string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set(middleware.PlayerHeader, playerID)
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	got := read(t, conn)
	require.Equal(t, "connected", got.Event)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func publish(t *testing.T, bus *memory.SignalBus, channel, event, target string) {
	t.Helper()
	data, err := json.Marshal(domain.Envelope{Event: event, Target: target, Payload: map[string]string{"k": "v"}})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), channel, data))
}

func subscribe(t *testing.T, conn *websocket.Conn, topics ...string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Channels: topics}))
	ack := read(t, conn)
	require.Equal(t, "subscribed", ack.Event)
}

func TestHubRequiresIdentity(t *testing.T) {
	_, _, url := startHub(t)
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestHubRoutesPlayerEventsToOwner(t *testing.T) {
	bus, hub, url := startHub(t)
	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")
	assert.Equal(t, 2, hub.ClientCount())

	publish(t, bus, notify.PlayerChannel("mkt", "alice"), domain.EventListingClosed, "alice")
	publish(t, bus, notify.AllChannel("mkt"), domain.EventTradeUpdate, "*")

	got := read(t, alice)
	assert.Equal(t, domain.EventListingClosed, got.Event)
	assert.Equal(t, domain.EventTradeUpdate, read(t, alice).Event)

	// bob never sees alice's direct event: the broadcast is the first frame.
	assert.Equal(t, domain.EventTradeUpdate, read(t, bob).Event)
}

func TestHubTopicSubscriptions(t *testing.T) {
	bus, _, url := startHub(t)
	watcher := dial(t, url, "watcher")
	wildcard := dial(t, url, "wildcard")
	idle := dial(t, url, "idle")

	subscribe(t, watcher, domain.TradeTopic("44002"))
	subscribe(t, wildcard, "trade:*")

	publish(t, bus, notify.TopicChannel("mkt", domain.TradeTopic("51001")), domain.EventTradeOpened, "trade:51001")
	publish(t, bus, notify.TopicChannel("mkt", domain.TradeTopic("44002")), domain.EventTradeClosed, "trade:44002")
	publish(t, bus, notify.AllChannel("mkt"), domain.EventTradeUpdate, "*")

	assert.Equal(t, domain.EventTradeClosed, read(t, watcher).Event)
	assert.Equal(t, domain.EventTradeUpdate, read(t, watcher).Event)

	assert.Equal(t, domain.EventTradeOpened, read(t, wildcard).Event)
	assert.Equal(t, domain.EventTradeClosed, read(t, wildcard).Event)

	assert.Equal(t, domain.EventTradeUpdate, read(t, idle).Event)
}

func TestHubUnsubscribe(t *testing.T) {
	bus, _, url := startHub(t)
	conn := dial(t, url, "p1")
	subscribe(t, conn, "trade:44002")

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{"trade:44002"}}))
	ack := read(t, conn)
	require.Equal(t, "subscribed", ack.Event)
	assert.JSONEq(t, `{"channels":[]}`, string(ack.Payload))

	publish(t, bus, notify.TopicChannel("mkt", "trade:44002"), domain.EventTradeClosed, "trade:44002")
	publish(t, bus, notify.AllChannel("mkt"), domain.EventTradeUpdate, "*")
	assert.Equal(t, domain.EventTradeUpdate, read(t, conn).Event)
}

func TestHubRejectsUnknownAction(t *testing.T) {
	_, _, url := startHub(t)
	conn := dial(t, url, "p1")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"dance"}`)))
	assert.Equal(t, "error", read(t, conn).Event)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	assert.Equal(t, "error", read(t, conn).Event)
}

func TestIsSubscribed(t *testing.T) {
	c := &client{subs: map[string]bool{"trade:44002": true, "trade:5*": true}}
	assert.True(t, c.isSubscribed("trade:44002"))
	assert.True(t, c.isSubscribed("trade:51001"))
	assert.False(t, c.isSubscribed("trade:44003"))
}
