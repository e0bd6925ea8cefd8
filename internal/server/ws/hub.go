// Package ws pushes marketplace events from the signal bus to connected
// WebSocket sessions.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tradepost/internal/domain"
	"github.com/alanyoungcy/tradepost/internal/notify"
	"github.com/alanyoungcy/tradepost/internal/server/middleware"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBufferSize = 256
	maxSubsPerConn = 64
)

// Config controls the hub.
type Config struct {
	// Prefix is the signal bus channel prefix, "mkt" by default.
	Prefix string
	// AllowedOrigins restricts the upgrade Origin header. Empty allows all.
	AllowedOrigins []string
}

// client is one WebSocket session bound to a player.
type client struct {
	hub      *Hub
	conn     *websocket.Conn
	playerID string
	send     chan []byte
	subs     map[string]bool // topic subscriptions
	mu       sync.RWMutex
}

// subscribeMsg is the JSON frame a client sends to manage topics:
// {"action":"subscribe","channels":["trade:44002"]}.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// Hub fans bus messages out to sessions. Player channels reach only that
// player's sessions, topic channels reach subscribers of the topic, and the
// all channel reaches everyone.
type Hub struct {
	bus      domain.SignalBus
	prefix   string
	upgrader websocket.Upgrader

	clients map[*client]bool
	closed  bool
	ready   chan struct{} // closed once the bus subscription is live
	done    chan struct{} // closed when Run returns
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewHub creates a hub reading from bus.
func NewHub(bus domain.SignalBus, cfg Config, logger *slog.Logger) *Hub {
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "mkt"
	}
	origins := cfg.AllowedOrigins
	return &Hub{
		bus:    bus,
		prefix: prefix,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || middleware.OriginAllowed(origins, origin)
			},
		},
		clients: make(map[*client]bool),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger.With(slog.String("component", "ws_hub")),
	}
}

// Run subscribes to every marketplace channel and routes messages until ctx
// is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	defer h.closeAll()

	msgs, err := h.bus.PSubscribe(ctx, notify.Pattern(h.prefix))
	if err != nil {
		return err
	}
	close(h.ready)
	h.logger.InfoContext(ctx, "ws: subscribed", slog.String("pattern", notify.Pattern(h.prefix)))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				h.logger.Warn("ws: bus subscription closed")
				return nil
			}
			h.route(msg)
		}
	}
}

// ClientCount returns the number of connected sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws: client connected",
		slog.String("player_id", c.playerID),
		slog.Int("total_clients", n),
	)
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws: client disconnected",
		slog.String("player_id", c.playerID),
		slog.Int("total_clients", n),
	)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// route delivers msg to the sessions its channel addresses.
func (h *Hub) route(msg domain.Message) {
	kind, id, ok := notify.ParseChannel(h.prefix, msg.Channel)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		switch kind {
		case notify.TargetPlayer:
			if c.playerID != id {
				continue
			}
		case notify.TargetTopic:
			if !c.isSubscribed(id) {
				continue
			}
		}
		select {
		case c.send <- msg.Payload:
		default:
			h.logger.Warn("ws: dropping message for slow client",
				slog.String("player_id", c.playerID),
				slog.String("channel", msg.Channel),
			)
		}
	}
}

// HandleWS upgrades an authenticated request to a WebSocket session.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	playerID, ok := middleware.PlayerID(r.Context())
	if !ok {
		http.Error(w, `{"error":"authentication required","code":"UNAUTHORIZED"}`, http.StatusUnauthorized)
		return
	}
	select {
	case <-h.ready:
	case <-h.done:
		http.Error(w, `{"error":"push unavailable","code":"INTERNAL"}`, http.StatusServiceUnavailable)
		return
	case <-r.Context().Done():
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:      h,
		conn:     conn,
		playerID: playerID,
		send:     make(chan []byte, sendBufferSize),
		subs:     make(map[string]bool),
	}
	if !h.add(c) {
		conn.Close()
		return
	}
	c.reply("connected", map[string]any{"player_id": playerID})

	go c.writePump()
	go c.readPump()
}

// readPump reads subscription frames until the connection closes.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err != nil {
			c.reply("error", map[string]any{"message": "invalid frame"})
			continue
		}
		c.handleSubscription(sub)
	}
}

// handleSubscription applies a subscribe or unsubscribe frame and
// acknowledges it with the resulting topic set.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			if ch = strings.TrimSpace(ch); ch != "" && len(c.subs) < maxSubsPerConn {
				c.subs[ch] = true
			}
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, strings.TrimSpace(ch))
		}
	default:
		c.mu.Unlock()
		c.reply("error", map[string]any{"message": "unknown action " + msg.Action})
		return
	}
	topics := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		topics = append(topics, ch)
	}
	c.mu.Unlock()
	sort.Strings(topics)

	c.reply("subscribed", map[string]any{"channels": topics})
}

// reply queues a hub-generated envelope for this client only.
func (c *client) reply(event string, payload any) {
	msg, err := json.Marshal(domain.Envelope{Event: event, Target: c.playerID, Payload: payload})
	if err != nil {
		return
	}
	// send is closed under the hub lock once the client is removed.
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// isSubscribed checks whether the client follows topic. A trailing "*"
// subscribes to a prefix, so "trade:*" matches "trade:44002".
func (c *client) isSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[topic] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}

// writePump writes queued envelopes as text frames and keeps the
// connection alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
