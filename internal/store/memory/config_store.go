package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// MarketplaceConfigStore holds the singleton config in memory.
type MarketplaceConfigStore struct {
	mu  sync.RWMutex
	cfg *domain.MarketplaceConfig
}

// NewMarketplaceConfigStore returns an unseeded store.
func NewMarketplaceConfigStore() *MarketplaceConfigStore {
	return &MarketplaceConfigStore{}
}

// Get returns the config, or domain.ErrNotFound before Upsert.
func (s *MarketplaceConfigStore) Get(context.Context) (domain.MarketplaceConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return domain.MarketplaceConfig{}, domain.ErrNotFound
	}
	out := *s.cfg
	out.RestrictedCategories = slices.Clone(s.cfg.RestrictedCategories)
	return out, nil
}

// Upsert replaces the config.
func (s *MarketplaceConfigStore) Upsert(_ context.Context, cfg domain.MarketplaceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.RestrictedCategories = slices.Clone(cfg.RestrictedCategories)
	cfg.UpdatedAt = time.Now().UTC()
	s.cfg = &cfg
	return nil
}

// CatalogStore is an in-memory domain.CatalogStore.
type CatalogStore struct {
	mu   sync.RWMutex
	defs map[string]domain.ItemDefinition
}

// NewCatalogStore returns a catalog pre-filled with defs.
func NewCatalogStore(defs ...domain.ItemDefinition) *CatalogStore {
	s := &CatalogStore{defs: make(map[string]domain.ItemDefinition, len(defs))}
	for _, d := range defs {
		s.defs[d.ID] = d
	}
	return s
}

// GetDefinition returns one item definition.
func (s *CatalogStore) GetDefinition(_ context.Context, id string) (domain.ItemDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.defs[id]
	if !ok {
		return domain.ItemDefinition{}, domain.ErrNotFound
	}
	return d, nil
}

// Upsert inserts or replaces an item definition.
func (s *CatalogStore) Upsert(_ context.Context, d domain.ItemDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[d.ID] = d
	return nil
}

// List returns item definitions ordered by id.
func (s *CatalogStore) List(_ context.Context, opts domain.ListOpts) ([]domain.ItemDefinition, error) {
	s.mu.RLock()
	out := make([]domain.ItemDefinition, 0, len(s.defs))
	for _, d := range s.defs {
		out = append(out, d)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.ItemDefinition) int {
		return strings.Compare(a.ID, b.ID)
	})
	return page(out, opts), nil
}

// AuditStore keeps audit entries in memory.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

// NewAuditStore returns an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Log appends an entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns entries, newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	out := make([]domain.AuditEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	s.mu.Unlock()
	return page(out, opts), nil
}
