package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// MarketplaceConfigStore implements domain.MarketplaceConfigStore using PostgreSQL.
type MarketplaceConfigStore struct {
	pool *pgxpool.Pool
}

// NewMarketplaceConfigStore creates a new MarketplaceConfigStore.
func NewMarketplaceConfigStore(pool *pgxpool.Pool) *MarketplaceConfigStore {
	return &MarketplaceConfigStore{pool: pool}
}

// Get returns the singleton config row, or domain.ErrNotFound before it is seeded.
func (s *MarketplaceConfigStore) Get(ctx context.Context) (domain.MarketplaceConfig, error) {
	const query = `
		SELECT commission_percent::text, min_commission, min_price, max_price,
		       listing_duration_hours, currency_id, enabled, restricted_categories,
		       price_policy, updated_at
		FROM marketplace_config WHERE id = 1`

	var cfg domain.MarketplaceConfig
	var pct, policy string
	err := s.pool.QueryRow(ctx, query).Scan(
		&pct, &cfg.MinCommission, &cfg.MinPrice, &cfg.MaxPrice,
		&cfg.ListingDurationHours, &cfg.CurrencyID, &cfg.Enabled, &cfg.RestrictedCategories,
		&policy, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketplaceConfig{}, domain.ErrNotFound
		}
		return domain.MarketplaceConfig{}, fmt.Errorf("postgres: get marketplace config: %w", err)
	}

	cfg.CommissionPercent, err = decimal.NewFromString(pct)
	if err != nil {
		return domain.MarketplaceConfig{}, fmt.Errorf("postgres: parse commission_percent %q: %w", pct, err)
	}
	cfg.PricePolicy = domain.PricePolicy(policy)
	return cfg, nil
}

// Upsert replaces the singleton config row.
func (s *MarketplaceConfigStore) Upsert(ctx context.Context, cfg domain.MarketplaceConfig) error {
	const query = `
		INSERT INTO marketplace_config (
			id, commission_percent, min_commission, min_price, max_price,
			listing_duration_hours, currency_id, enabled, restricted_categories,
			price_policy, updated_at
		) VALUES (1, $1::numeric, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			commission_percent     = EXCLUDED.commission_percent,
			min_commission         = EXCLUDED.min_commission,
			min_price              = EXCLUDED.min_price,
			max_price              = EXCLUDED.max_price,
			listing_duration_hours = EXCLUDED.listing_duration_hours,
			currency_id            = EXCLUDED.currency_id,
			enabled                = EXCLUDED.enabled,
			restricted_categories  = EXCLUDED.restricted_categories,
			price_policy           = EXCLUDED.price_policy,
			updated_at             = NOW()`

	categories := cfg.RestrictedCategories
	if categories == nil {
		categories = []string{}
	}
	_, err := s.pool.Exec(ctx, query,
		cfg.CommissionPercent.String(), cfg.MinCommission, cfg.MinPrice, cfg.MaxPrice,
		cfg.ListingDurationHours, cfg.CurrencyID, cfg.Enabled, categories,
		string(cfg.PricePolicy),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert marketplace config: %w", err)
	}
	return nil
}
