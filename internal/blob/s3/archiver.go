package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

const (
	archivePageSize = 1000
	// multipartThreshold switches Put to a multipart upload.
	multipartThreshold = 8 * 1024 * 1024
	contentTypeJSONL   = "application/x-ndjson"
)

// BlobStore is what the archiver needs from object storage.
type BlobStore interface {
	domain.BlobWriter
	Exists(ctx context.Context, path string) (bool, error)
}

// transactionRecord is the archived JSONL line for one sale.
type transactionRecord struct {
	ID               string    `json:"id"`
	ListingID        string    `json:"listing_id"`
	SellerID         string    `json:"seller_id"`
	BuyerID          string    `json:"buyer_id"`
	ItemDefinitionID string    `json:"item_definition_id"`
	ItemInstanceID   string    `json:"item_instance_id"`
	Price            int64     `json:"price"`
	Commission       int64     `json:"commission"`
	SellerReceived   int64     `json:"seller_received"`
	CurrencyID       string    `json:"currency_id"`
	CompletedAt      time.Time `json:"completed_at"`
}

// HistoryArchiver implements domain.HistoryArchiver. It copies
// transactions completed in a window to one JSONL object per window and
// records the export in the audit log. Database rows are left in place and
// a window already present in the bucket is not uploaded again.
type HistoryArchiver struct {
	blobs        BlobStore
	transactions domain.TransactionStore
	audit        domain.AuditStore
	prefix       string
}

// NewHistoryArchiver creates a HistoryArchiver writing under prefix
// ("archive" when empty).
func NewHistoryArchiver(blobs BlobStore, transactions domain.TransactionStore, audit domain.AuditStore, prefix string) *HistoryArchiver {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "archive"
	}
	return &HistoryArchiver{blobs: blobs, transactions: transactions, audit: audit, prefix: prefix}
}

// ArchiveTransactions exports transactions completed in [since, until) and
// returns how many were written. An empty window writes nothing.
func (a *HistoryArchiver) ArchiveTransactions(ctx context.Context, since, until time.Time) (int64, error) {
	if !since.Before(until) {
		return 0, fmt.Errorf("s3blob: archive window %s..%s: %w", since, until, domain.ErrInvalidArgument)
	}
	path := ArchivePath(a.prefix, since, until)
	exists, err := a.blobs.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transactions: %w", err)
	}
	if exists {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	var count int64
	for offset := 0; ; offset += archivePageSize {
		page, err := a.transactions.ListCompleted(ctx, domain.ListOpts{
			Since:  &since,
			Until:  &until,
			Limit:  archivePageSize,
			Offset: offset,
		})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive transactions query: %w", err)
		}
		for _, tx := range page {
			if err := enc.Encode(toRecord(tx)); err != nil {
				return 0, fmt.Errorf("s3blob: archive encode %s: %w", tx.ID, err)
			}
			count++
		}
		if len(page) < archivePageSize {
			break
		}
	}
	if count == 0 {
		return 0, nil
	}

	if buf.Len() > multipartThreshold {
		err = a.blobs.PutMultipart(ctx, path, &buf, minPartSize)
	} else {
		err = a.blobs.Put(ctx, path, &buf, contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transactions upload: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.transactions", map[string]any{
		"path":  path,
		"count": count,
		"since": since.UTC().Format(time.RFC3339),
		"until": until.UTC().Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive transactions audit log: %w", err)
	}
	return count, nil
}

// ArchivePath is the object key for a window, partitioned by the UTC date
// the window starts on:
//
//	archive/transactions/2026-03-01/20260301T000000Z_20260302T000000Z.jsonl
func ArchivePath(prefix string, since, until time.Time) string {
	const stamp = "20060102T150405Z"
	since, until = since.UTC(), until.UTC()
	return fmt.Sprintf("%s/transactions/%s/%s_%s.jsonl",
		prefix, since.Format("2006-01-02"), since.Format(stamp), until.Format(stamp))
}

func toRecord(tx domain.Transaction) transactionRecord {
	return transactionRecord{
		ID:               tx.ID,
		ListingID:        tx.ListingID,
		SellerID:         tx.SellerID,
		BuyerID:          tx.BuyerID,
		ItemDefinitionID: tx.ItemDefinitionID,
		ItemInstanceID:   tx.ItemInstanceID,
		Price:            tx.Price,
		Commission:       tx.Commission,
		SellerReceived:   tx.SellerReceived,
		CurrencyID:       tx.CurrencyID,
		CompletedAt:      tx.CompletedAt.UTC(),
	}
}
