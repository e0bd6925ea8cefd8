package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockLimiter struct{ mock.Mock }

func (m *mockLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(key, limit, window)
	return args.Bool(0), args.Error(1)
}

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lim := &mockLimiter{}
	lim.On("Allow", "player:p1", 2, time.Minute).Return(false, nil)
	lim.On("Allow", "ip:10.0.0.7", 2, time.Minute).Return(true, nil)
	lim.On("Allow", "player:p2", 2, time.Minute).Return(false, errors.New("redis down"))

	h := RateLimit(lim, 2, time.Minute, logger)(http.HandlerFunc(echoPlayer))

	serve := func(method, player, xff string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/api/market/listings", nil)
		if player != "" {
			req = req.WithContext(WithPlayerID(req.Context(), player))
		}
		if xff != "" {
			req.Header.Set("X-Forwarded-For", xff)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := serve(http.MethodPost, "p1", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded","code":"RATE_LIMITED"}`, rec.Body.String())

	// Reads are never counted.
	assert.Equal(t, http.StatusOK, serve(http.MethodGet, "p1", "").Code)

	assert.Equal(t, http.StatusOK, serve(http.MethodDelete, "", "10.0.0.7, 172.16.0.1").Code)

	// Fail open.
	assert.Equal(t, http.StatusOK, serve(http.MethodPost, "p2", "").Code)

	lim.AssertNumberOfCalls(t, "Allow", 3)
}

func TestRateLimitDisabled(t *testing.T) {
	next := http.HandlerFunc(echoPlayer)
	h := RateLimit(nil, 10, time.Minute, slog.Default())(next)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
