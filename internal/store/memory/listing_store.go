package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// ListingStore is an in-memory domain.ListingStore. The mutex makes
// Transition a true compare-and-set.
type ListingStore struct {
	mu       sync.RWMutex
	listings map[string]domain.Listing
}

// NewListingStore returns an empty ListingStore.
func NewListingStore() *ListingStore {
	return &ListingStore{listings: make(map[string]domain.Listing)}
}

// Insert stores a new listing.
func (s *ListingStore) Insert(_ context.Context, l domain.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listings[l.ID]; ok {
		return fmt.Errorf("memory: insert listing %s: %w", l.ID, domain.ErrAlreadyExists)
	}
	if l.Status == domain.ListingStatusActive {
		for _, other := range s.listings {
			if other.Status == domain.ListingStatusActive && other.ItemInstanceID == l.ItemInstanceID {
				return fmt.Errorf("memory: instance %s already listed: %w", l.ItemInstanceID, domain.ErrAlreadyExists)
			}
		}
	}
	s.listings[l.ID] = l
	return nil
}

// GetByID retrieves a single listing.
func (s *ListingStore) GetByID(_ context.Context, id string) (domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[id]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

func (s *ListingStore) filter(keep func(domain.Listing) bool, less func(a, b domain.Listing) bool) []domain.Listing {
	s.mu.RLock()
	var out []domain.Listing
	for _, l := range s.listings {
		if keep(l) {
			out = append(out, l)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if less(out[i], out[j]) {
			return true
		}
		if less(out[j], out[i]) {
			return false
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListActiveBySeller returns the seller's active listings, newest first.
func (s *ListingStore) ListActiveBySeller(_ context.Context, sellerID string) ([]domain.Listing, error) {
	return s.filter(
		func(l domain.Listing) bool { return l.SellerID == sellerID && l.Status == domain.ListingStatusActive },
		func(a, b domain.Listing) bool { return a.CreatedAt.After(b.CreatedAt) },
	), nil
}

// ListOpenByItem returns active, unexpired listings, cheapest first.
func (s *ListingStore) ListOpenByItem(_ context.Context, itemDefinitionID string, now time.Time, opts domain.ListOpts) ([]domain.Listing, error) {
	out := s.filter(
		func(l domain.Listing) bool { return l.ItemDefinitionID == itemDefinitionID && l.Open(now) },
		func(a, b domain.Listing) bool {
			if a.Price != b.Price {
				return a.Price < b.Price
			}
			return a.CreatedAt.Before(b.CreatedAt)
		},
	)
	return page(out, opts), nil
}

// AskSummary returns the lowest open price and the open listing count.
func (s *ListingStore) AskSummary(_ context.Context, itemDefinitionID string, now time.Time) (domain.SideSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum domain.SideSummary
	for _, l := range s.listings {
		if l.ItemDefinitionID != itemDefinitionID || !l.Open(now) {
			continue
		}
		sum.Count++
		if sum.Best == nil || l.Price < *sum.Best {
			p := l.Price
			sum.Best = &p
		}
	}
	return sum, nil
}

// ListExpired returns active listings whose expiry has passed, oldest first.
func (s *ListingStore) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.Listing, error) {
	out := s.filter(
		func(l domain.Listing) bool { return l.Status == domain.ListingStatusActive && l.ExpiresAt.Before(now) },
		func(a, b domain.Listing) bool { return a.ExpiresAt.Before(b.ExpiresAt) },
	)
	return page(out, domain.ListOpts{Limit: limit}), nil
}

// ListUnfinalized returns terminal listings with incomplete side effects.
func (s *ListingStore) ListUnfinalized(_ context.Context, cutoff time.Time, limit int) ([]domain.Listing, error) {
	out := s.filter(
		func(l domain.Listing) bool {
			at := l.ClosedAt()
			return l.Status.Terminal() && l.FinalizedAt == nil && at != nil && at.Before(cutoff)
		},
		func(a, b domain.Listing) bool { return a.ClosedAt().Before(*b.ClosedAt()) },
	)
	return page(out, domain.ListOpts{Limit: limit}), nil
}

// Transition applies t iff the stored status equals t.From.
func (s *ListingStore) Transition(_ context.Context, id string, t domain.ListingTransition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok || l.Status != t.From {
		return false, nil
	}
	at := t.At
	switch t.To {
	case domain.ListingStatusSold:
		l.BuyerID, l.Commission, l.SoldAt = t.BuyerID, t.Commission, &at
	case domain.ListingStatusCancelled:
		l.CancelledAt = &at
	case domain.ListingStatusExpired:
		l.ExpiredAt = &at
	case domain.ListingStatusActive:
		if l.FinalizedAt != nil {
			return false, nil
		}
		l.BuyerID, l.Commission, l.SoldAt = "", 0, nil
	default:
		return false, fmt.Errorf("memory: transition listing %s to %q: %w", id, t.To, domain.ErrInvalidArgument)
	}
	l.Status = t.To
	s.listings[id] = l
	return true, nil
}

// MarkFinalized records that the terminal transition's side effects are done.
func (s *ListingStore) MarkFinalized(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok || !l.Status.Terminal() || l.FinalizedAt != nil {
		return nil
	}
	l.FinalizedAt = &at
	s.listings[id] = l
	return nil
}

// page applies Offset and Limit to an already-sorted slice.
func page[T any](in []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(in) {
			return nil
		}
		in = in[opts.Offset:]
	}
	if opts.Limit > 0 && len(in) > opts.Limit {
		in = in[:opts.Limit]
	}
	return in
}
