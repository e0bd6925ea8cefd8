package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type window struct{ since, until time.Time }

type fakeHistory struct {
	mu      sync.Mutex
	calls   []window
	perCall int64
	failOn  time.Time
}

func (f *fakeHistory) ArchiveTransactions(_ context.Context, since, until time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, window{since, until})
	if since.Equal(f.failOn) {
		return 0, errors.New("bucket unreachable")
	}
	return f.perCall, nil
}

type mockAlerter struct{ mock.Mock }

func (m *mockAlerter) Alert(ctx context.Context, event string, fields map[string]any) error {
	return m.Called(ctx, event, fields).Error(0)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var now = time.Date(2026, 3, 4, 3, 15, 0, 0, time.UTC)

func TestWindows(t *testing.T) {
	a := NewArchiver(&fakeHistory{}, ArchiverConfig{Backfill: 2}, discard())
	got := a.Windows(now)
	require.Len(t, got, 2)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), got[0][0])
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), got[0][1])
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), got[1][0])
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), got[1][1])
}

func TestRunOnceArchivesEveryWindow(t *testing.T) {
	h := &fakeHistory{perCall: 4}
	a := NewArchiver(h, ArchiverConfig{}, discard()).WithClock(func() time.Time { return now })

	n, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.Len(t, h.calls, 3)
}

func TestRunOnceAlertsAndContinues(t *testing.T) {
	failing := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	h := &fakeHistory{perCall: 1, failOn: failing}
	alerter := &mockAlerter{}
	alerter.On("Alert", mock.Anything, alertArchiveFailed, mock.MatchedBy(func(f map[string]any) bool {
		return f["since"] == failing.Format(time.RFC3339)
	})).Return(nil).Once()

	a := NewArchiver(h, ArchiverConfig{}, discard()).
		WithClock(func() time.Time { return now }).
		WithAlerter(alerter)

	n, err := a.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unreachable")
	assert.Equal(t, int64(2), n)
	assert.Len(t, h.calls, 3)
	alerter.AssertExpectations(t)
}

func TestRunRejectsBadSchedule(t *testing.T) {
	a := NewArchiver(&fakeHistory{}, ArchiverConfig{}, discard())
	err := a.Run(context.Background(), "whenever")
	require.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	a := NewArchiver(&fakeHistory{}, ArchiverConfig{}, discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, "0 3 * * *") }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("archiver did not stop")
	}
}
