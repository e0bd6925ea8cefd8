package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/tradepost/internal/config"
	"github.com/alanyoungcy/tradepost/internal/notify"
	"github.com/alanyoungcy/tradepost/internal/service"
)

// Services holds the marketplace core, built once per process on top of
// Dependencies.
type Services struct {
	Bus         *notify.Bus
	Config      *service.ConfigService
	Catalog     *service.CatalogService
	Trades      *service.TradeAggregator
	Settlement  *service.SettlementService
	Listings    *service.ListingService
	Purchases   *service.PurchaseService
	Sweeper     *service.ExpirySweeper
	Marketplace *service.MarketplaceService
}

// BuildServices seeds the marketplace settings record and constructs every
// service. The returned Bus must be run for events to leave the process.
func BuildServices(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*Services, error) {
	seed, err := MarketplaceSeed(cfg.Marketplace)
	if err != nil {
		return nil, fmt.Errorf("app: marketplace seed: %w", err)
	}

	configSvc := service.NewConfigService(deps.ConfigStore, cfg.Marketplace.ConfigTTL.Duration,
		logger.With(slog.String("component", "config")))
	current, err := configSvc.Seed(ctx, seed)
	if err != nil {
		return nil, fmt.Errorf("app: seed marketplace config: %w", err)
	}
	logger.InfoContext(ctx, "marketplace settings loaded",
		slog.Bool("enabled", current.Enabled),
		slog.String("commission_percent", current.CommissionPercent.String()),
		slog.String("currency_id", current.CurrencyID),
		slog.String("price_policy", string(current.PricePolicy)),
	)

	bus := notify.NewBus(deps.Signals, cfg.Redis.ChannelPrefix, cfg.Events.QueueSize,
		logger.With(slog.String("component", "events")))

	catalog := service.NewCatalogService(deps.Catalog, deps.ItemCache,
		logger.With(slog.String("component", "catalog")))

	trades := service.NewTradeAggregator(deps.Listings, deps.Requests, bus,
		service.TradeUpdateScope(cfg.Marketplace.TradeUpdateScope), cfg.Marketplace.PageSize,
		logger.With(slog.String("component", "trades")))

	settlement := service.NewSettlementService(deps.Listings, deps.Transactions, deps.Ledger, configSvc,
		trades, bus, deps.Audit,
		service.RetryPolicy{
			MaxAttempts: cfg.Settlement.MaxAttempts,
			BaseDelay:   cfg.Settlement.BaseDelay.Duration,
			MaxDelay:    cfg.Settlement.MaxDelay.Duration,
		},
		logger.With(slog.String("component", "settlement")),
	).WithAlerter(deps.Notifier)

	listings := service.NewListingService(deps.Listings, deps.Ledger, catalog, configSvc, settlement,
		trades, bus, logger.With(slog.String("component", "listings")))

	purchases := service.NewPurchaseService(deps.Requests, catalog, configSvc, trades, bus,
		logger.With(slog.String("component", "purchases")))

	sweeper := service.NewExpirySweeper(deps.Listings, deps.Requests, settlement, trades, bus, deps.Locks,
		service.SweeperConfig{
			InitialDelay:  cfg.Sweeper.InitialDelay.Duration,
			Interval:      cfg.Sweeper.Interval.Duration,
			BatchSize:     cfg.Sweeper.BatchSize,
			RecordTimeout: cfg.Sweeper.RecordTimeout.Duration,
			RepairGrace:   cfg.Sweeper.RepairGrace.Duration,
		},
		logger.With(slog.String("component", "sweeper")),
	).WithAlerter(deps.Notifier)

	market := service.NewMarketplaceService(configSvc, listings, purchases, settlement, trades,
		deps.Listings, deps.Requests, deps.Transactions, cfg.Marketplace.PageSize)

	return &Services{
		Bus:         bus,
		Config:      configSvc,
		Catalog:     catalog,
		Trades:      trades,
		Settlement:  settlement,
		Listings:    listings,
		Purchases:   purchases,
		Sweeper:     sweeper,
		Marketplace: market,
	}, nil
}
