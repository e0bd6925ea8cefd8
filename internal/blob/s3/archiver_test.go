package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradepost/internal/domain"
	"github.com/alanyoungcy/tradepost/internal/store/memory"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: make(map[string][]byte)} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[path] = b
	m.mu.Unlock()
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

var day = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func seedTransactions(t *testing.T, store *memory.TransactionStore, at ...time.Time) {
	t.Helper()
	for i, ts := range at {
		require.NoError(t, store.Insert(context.Background(), domain.Transaction{
			ID:               fmt.Sprintf("tx-%d", i),
			ListingID:        fmt.Sprintf("l-%d", i),
			SellerID:         "seller",
			BuyerID:          "buyer",
			ItemDefinitionID: "44002",
			Price:            5000,
			Commission:       250,
			SellerReceived:   4750,
			CurrencyID:       "coins",
			CompletedAt:      ts,
		}))
	}
}

func TestArchiveTransactions(t *testing.T) {
	txs := memory.NewTransactionStore()
	seedTransactions(t, txs,
		day.Add(-time.Minute),  // previous window
		day,                    // included: since is inclusive
		day.Add(5*time.Hour),   // included
		day.Add(24*time.Hour),  // excluded: until is exclusive
	)
	blobs := newMemBlobs()
	audit := memory.NewAuditStore()
	a := NewHistoryArchiver(blobs, txs, audit, "")

	n, err := a.ArchiveTransactions(context.Background(), day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	path := ArchivePath("archive", day, day.Add(24*time.Hour))
	assert.Equal(t, "archive/transactions/2026-03-01/20260301T000000Z_20260302T000000Z.jsonl", path)
	data, ok := blobs.objects[path]
	require.True(t, ok)

	var lines []transactionRecord
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var rec transactionRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "tx-1", lines[0].ID)
	assert.Equal(t, lines[0].Price, lines[0].SellerReceived+lines[0].Commission)

	entries, err := audit.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.transactions", entries[0].Event)

	// The source rows stay put.
	all, err := txs.ListCompleted(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestArchiveTransactionsSkipsExistingWindow(t *testing.T) {
	txs := memory.NewTransactionStore()
	seedTransactions(t, txs, day.Add(time.Hour))
	blobs := newMemBlobs()
	a := NewHistoryArchiver(blobs, txs, memory.NewAuditStore(), "cold/")

	n, err := a.ArchiveTransactions(context.Background(), day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	blobs.putErr = errors.New("must not upload twice")
	n, err = a.ArchiveTransactions(context.Background(), day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, blobs.objects, ArchivePath("cold", day, day.Add(24*time.Hour)))
}

func TestArchiveTransactionsEmptyWindow(t *testing.T) {
	blobs := newMemBlobs()
	a := NewHistoryArchiver(blobs, memory.NewTransactionStore(), memory.NewAuditStore(), "")
	n, err := a.ArchiveTransactions(context.Background(), day, day.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)

	_, err = a.ArchiveTransactions(context.Background(), day, day)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestArchiveTransactionsUploadError(t *testing.T) {
	txs := memory.NewTransactionStore()
	seedTransactions(t, txs, day.Add(time.Hour))
	blobs := newMemBlobs()
	blobs.putErr = errors.New("bucket unreachable")
	a := NewHistoryArchiver(blobs, txs, memory.NewAuditStore(), "")

	_, err := a.ArchiveTransactions(context.Background(), day, day.Add(24*time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unreachable")
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
}
