package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// ConfigService serves the marketplace_config record from a short-lived
// cache. Settings change rarely and every operation reads them.
type ConfigService struct {
	store  domain.MarketplaceConfigStore
	ttl    time.Duration
	now    Clock
	logger *slog.Logger

	mu       sync.RWMutex
	cached   domain.MarketplaceConfig
	loadedAt time.Time
	loaded   bool
}

// NewConfigService creates a ConfigService. A ttl of zero disables caching.
func NewConfigService(store domain.MarketplaceConfigStore, ttl time.Duration, logger *slog.Logger) *ConfigService {
	return &ConfigService{
		store:  store,
		ttl:    ttl,
		now:    systemClock,
		logger: logger,
	}
}

// WithClock replaces the clock used for cache expiry.
func (s *ConfigService) WithClock(c Clock) *ConfigService {
	s.now = c
	return s
}

// Seed writes seed when no record exists yet and returns the effective
// config. An existing record always wins over the seed.
func (s *ConfigService) Seed(ctx context.Context, seed domain.MarketplaceConfig) (domain.MarketplaceConfig, error) {
	cfg, err := s.store.Get(ctx)
	if err == nil {
		s.remember(cfg)
		return cfg, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.MarketplaceConfig{}, fmt.Errorf("config_service: load: %w", err)
	}
	if err := s.Update(ctx, seed); err != nil {
		return domain.MarketplaceConfig{}, err
	}
	s.logger.InfoContext(ctx, "marketplace config seeded",
		slog.String("commission_percent", seed.CommissionPercent.String()),
		slog.String("currency_id", seed.CurrencyID),
	)
	return seed, nil
}

// Get returns the current config.
func (s *ConfigService) Get(ctx context.Context) (domain.MarketplaceConfig, error) {
	s.mu.RLock()
	if s.loaded && s.now().Sub(s.loadedAt) < s.ttl {
		cfg := s.cached
		s.mu.RUnlock()
		return cfg, nil
	}
	s.mu.RUnlock()

	cfg, err := s.store.Get(ctx)
	if err != nil {
		return domain.MarketplaceConfig{}, fmt.Errorf("config_service: load: %w", err)
	}
	s.remember(cfg)
	return cfg, nil
}

// Update validates and stores cfg.
func (s *ConfigService) Update(ctx context.Context, cfg domain.MarketplaceConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.store.Upsert(ctx, cfg); err != nil {
		return fmt.Errorf("config_service: store: %w", err)
	}
	s.remember(cfg)
	return nil
}

func (s *ConfigService) remember(cfg domain.MarketplaceConfig) {
	s.mu.Lock()
	s.cached = cfg
	s.loadedAt = s.now()
	s.loaded = true
	s.mu.Unlock()
}
