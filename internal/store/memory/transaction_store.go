package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// TransactionStore is an in-memory domain.TransactionStore keyed by listing.
type TransactionStore struct {
	mu        sync.RWMutex
	byListing map[string]domain.Transaction
}

// NewTransactionStore returns an empty TransactionStore.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{byListing: make(map[string]domain.Transaction)}
}

// Insert records a completed sale once per listing.
func (s *TransactionStore) Insert(_ context.Context, tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byListing[tx.ListingID]; ok {
		return fmt.Errorf("memory: insert transaction for listing %s: %w", tx.ListingID, domain.ErrAlreadyExists)
	}
	s.byListing[tx.ListingID] = tx
	return nil
}

// GetByListing returns the transaction recorded for a listing.
func (s *TransactionStore) GetByListing(_ context.Context, listingID string) (domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.byListing[listingID]
	if !ok {
		return domain.Transaction{}, domain.ErrNotFound
	}
	return tx, nil
}

func (s *TransactionStore) sorted(keep func(domain.Transaction) bool, newestFirst bool) []domain.Transaction {
	s.mu.RLock()
	var out []domain.Transaction
	for _, tx := range s.byListing {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CompletedAt.Equal(b.CompletedAt) {
			if newestFirst {
				return a.CompletedAt.After(b.CompletedAt)
			}
			return a.CompletedAt.Before(b.CompletedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// ListByPlayer returns a player's history, newest first.
func (s *TransactionStore) ListByPlayer(_ context.Context, playerID string, kind domain.HistoryKind, opts domain.ListOpts) ([]domain.Transaction, error) {
	out := s.sorted(func(tx domain.Transaction) bool {
		switch kind {
		case domain.HistorySold:
			return tx.SellerID == playerID
		case domain.HistoryBought:
			return tx.BuyerID == playerID
		default:
			return tx.SellerID == playerID || tx.BuyerID == playerID
		}
	}, true)
	return page(out, opts), nil
}

// ListCompleted returns transactions completed within [Since, Until), oldest first.
func (s *TransactionStore) ListCompleted(_ context.Context, opts domain.ListOpts) ([]domain.Transaction, error) {
	out := s.sorted(func(tx domain.Transaction) bool {
		if opts.Since != nil && tx.CompletedAt.Before(*opts.Since) {
			return false
		}
		if opts.Until != nil && !tx.CompletedAt.Before(*opts.Until) {
			return false
		}
		return true
	}, false)
	return page(out, opts), nil
}
