package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
	bodies []string
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, message)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func TestNotifierAlertFiltersAndFormats(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{AlertSettlementStuck}, discardLogger())
	ctx := context.Background()

	require.NoError(t, n.Alert(ctx, AlertSweepFailed, map[string]any{"x": 1}))
	assert.Empty(t, s.titles)

	require.NoError(t, n.Alert(ctx, AlertSettlementStuck, map[string]any{"listing_id": "l1", "attempts": 5}))
	require.Len(t, s.titles, 1)
	assert.Equal(t, "tradepost: settlement_stuck", s.titles[0])
	assert.Equal(t, "attempts=5\nlisting_id=l1", s.bodies[0])
}

func TestNotifierCombinesSenderErrors(t *testing.T) {
	ok := &recordingSender{name: "ok"}
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	n := NewNotifier([]Sender{bad, ok}, nil, discardLogger())

	err := n.Alert(context.Background(), AlertSweepFailed, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, ok.titles, 1)
}

func TestNilNotifierIsNoop(t *testing.T) {
	var n *Notifier
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Alert(context.Background(), AlertSweepFailed, nil))
}

func TestDiscordSender(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	require.NoError(t, d.Send(context.Background(), "title", "a=1"))
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "title", got.Embeds[0].Title)
	assert.Contains(t, got.Embeds[0].Description, "a=1")
}

func TestTelegramSenderStatusError(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	tg := NewTelegramSender("tok", "chat")
	tg.baseURL = srv.URL
	err := tg.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, "/bottok/sendMessage", path)
}
