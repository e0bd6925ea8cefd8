package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// PurchaseRequestStore is an in-memory domain.PurchaseRequestStore.
type PurchaseRequestStore struct {
	mu       sync.RWMutex
	requests map[string]domain.PurchaseRequest
}

// NewPurchaseRequestStore returns an empty PurchaseRequestStore.
func NewPurchaseRequestStore() *PurchaseRequestStore {
	return &PurchaseRequestStore{requests: make(map[string]domain.PurchaseRequest)}
}

// Insert stores a new request.
func (s *PurchaseRequestStore) Insert(_ context.Context, r domain.PurchaseRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return fmt.Errorf("memory: insert purchase request %s: %w", r.ID, domain.ErrAlreadyExists)
	}
	s.requests[r.ID] = r
	return nil
}

// GetByID retrieves a single request.
func (s *PurchaseRequestStore) GetByID(_ context.Context, id string) (domain.PurchaseRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return domain.PurchaseRequest{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *PurchaseRequestStore) filter(keep func(domain.PurchaseRequest) bool, less func(a, b domain.PurchaseRequest) bool) []domain.PurchaseRequest {
	s.mu.RLock()
	var out []domain.PurchaseRequest
	for _, r := range s.requests {
		if keep(r) {
			out = append(out, r)
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

// ListActiveByBuyer returns the buyer's active requests, newest first.
func (s *PurchaseRequestStore) ListActiveByBuyer(_ context.Context, buyerID string) ([]domain.PurchaseRequest, error) {
	return s.filter(
		func(r domain.PurchaseRequest) bool { return r.BuyerID == buyerID && r.Status == domain.RequestStatusActive },
		func(a, b domain.PurchaseRequest) bool { return a.CreatedAt.After(b.CreatedAt) },
	), nil
}

// ListOpenByItem returns active, unexpired requests, highest bid first.
func (s *PurchaseRequestStore) ListOpenByItem(_ context.Context, itemDefinitionID string, now time.Time, opts domain.ListOpts) ([]domain.PurchaseRequest, error) {
	out := s.filter(
		func(r domain.PurchaseRequest) bool { return r.ItemDefinitionID == itemDefinitionID && r.Open(now) },
		func(a, b domain.PurchaseRequest) bool {
			if a.MaxPrice != b.MaxPrice {
				return a.MaxPrice > b.MaxPrice
			}
			return a.CreatedAt.Before(b.CreatedAt)
		},
	)
	return page(out, opts), nil
}

// BidSummary returns the highest open bid and the open request count.
func (s *PurchaseRequestStore) BidSummary(_ context.Context, itemDefinitionID string, now time.Time) (domain.SideSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum domain.SideSummary
	for _, r := range s.requests {
		if r.ItemDefinitionID != itemDefinitionID || !r.Open(now) {
			continue
		}
		sum.Count++
		if sum.Best == nil || r.MaxPrice > *sum.Best {
			p := r.MaxPrice
			sum.Best = &p
		}
	}
	return sum, nil
}

// ListExpired returns active requests whose expiry has passed.
func (s *PurchaseRequestStore) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.PurchaseRequest, error) {
	out := s.filter(
		func(r domain.PurchaseRequest) bool { return r.Status == domain.RequestStatusActive && r.ExpiresAt.Before(now) },
		func(a, b domain.PurchaseRequest) bool { return a.ExpiresAt.Before(b.ExpiresAt) },
	)
	return page(out, domain.ListOpts{Limit: limit}), nil
}

// Transition moves a request from one status to another iff it is still in from.
func (s *PurchaseRequestStore) Transition(_ context.Context, id string, from, to domain.RequestStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	r.ClosedAt = &at
	s.requests[id] = r
	return true, nil
}
