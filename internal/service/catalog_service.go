package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// CatalogService implements domain.ItemCatalog as a read-through cache in
// front of the catalog store. A nil cache reads the store directly. Cache
// failures are logged and fall through to the store.
type CatalogService struct {
	store  domain.CatalogStore
	cache  domain.ItemDefinitionCache
	logger *slog.Logger
}

// NewCatalogService creates a CatalogService.
func NewCatalogService(store domain.CatalogStore, cache domain.ItemDefinitionCache, logger *slog.Logger) *CatalogService {
	return &CatalogService{store: store, cache: cache, logger: logger}
}

// GetDefinition returns the definition for id, or domain.ErrNotFound.
func (s *CatalogService) GetDefinition(ctx context.Context, id string) (domain.ItemDefinition, error) {
	if s.cache != nil {
		def, err := s.cache.Get(ctx, id)
		if err == nil {
			return def, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "catalog cache read failed",
				slog.String("item_definition_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	def, err := s.store.GetDefinition(ctx, id)
	if err != nil {
		return domain.ItemDefinition{}, fmt.Errorf("catalog_service: get %s: %w", id, err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, def); err != nil {
			s.logger.WarnContext(ctx, "catalog cache write failed",
				slog.String("item_definition_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return def, nil
}

// Upsert stores def and drops any cached copy.
func (s *CatalogService) Upsert(ctx context.Context, def domain.ItemDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("catalog_service: upsert: empty id: %w", domain.ErrInvalidArgument)
	}
	if err := s.store.Upsert(ctx, def); err != nil {
		return fmt.Errorf("catalog_service: upsert %s: %w", def.ID, err)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, def.ID); err != nil {
			s.logger.WarnContext(ctx, "catalog cache invalidate failed",
				slog.String("item_definition_id", def.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

var _ domain.ItemCatalog = (*CatalogService)(nil)
