package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/tradepost/internal/blob/s3"
	"github.com/alanyoungcy/tradepost/internal/cache/redis"
	"github.com/alanyoungcy/tradepost/internal/config"
	"github.com/alanyoungcy/tradepost/internal/domain"
	"github.com/alanyoungcy/tradepost/internal/notify"
	"github.com/alanyoungcy/tradepost/internal/server/handler"
	"github.com/alanyoungcy/tradepost/internal/store/memory"
	"github.com/alanyoungcy/tradepost/internal/store/postgres"
)

// Dependencies bundles every concrete backend the modes need. It is built by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Record store and ledger
	Listings     domain.ListingStore
	Requests     domain.PurchaseRequestStore
	Transactions domain.TransactionStore
	ConfigStore  domain.MarketplaceConfigStore
	Catalog      domain.CatalogStore
	Audit        domain.AuditStore
	Ledger       domain.Ledger

	// Coordination and caches
	ItemCache   domain.ItemDefinitionCache // nil without redis
	Locks       domain.LockManager
	Signals     domain.SignalBus
	Sessions    domain.SessionResolver // nil without redis
	RateLimiter domain.RateLimiter

	// Cold storage, nil unless archive is enabled
	Archive domain.HistoryArchiver

	Notifier *notify.Notifier

	// Health lists the dependencies reported by /api/health.
	Health map[string]handler.Pinger
}

// Wire constructs every backend selected by cfg and returns them together
// with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	// --- Record store + ledger ---
	switch cfg.Storage.Driver {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Listings = postgres.NewListingStore(pool)
		deps.Requests = postgres.NewPurchaseRequestStore(pool)
		deps.Transactions = postgres.NewTransactionStore(pool)
		deps.ConfigStore = postgres.NewMarketplaceConfigStore(pool)
		deps.Catalog = postgres.NewCatalogStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Ledger = postgres.NewLedgerStore(pool)
		deps.Health["postgres"] = pgClient

	case "memory":
		logger.Warn("wire: memory storage selected; state is lost on exit and not shared between processes")
		memoryBackends(deps)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.ItemCache = redis.NewItemDefinitionCache(redisClient, time.Duration(cfg.Redis.CacheTTLMinutes)*time.Minute)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Signals = redis.NewSignalBus(redisClient)
		deps.Sessions = redis.NewSessionStore(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Health["redis"] = redisClient
	} else {
		logger.Warn("wire: redis disabled; events and the sweeper lock stay in this process")
		deps.Locks = memory.NewLockManager()
		deps.Signals = memory.NewSignalBus()
		deps.RateLimiter = memory.NewRateLimiter()
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archive = s3blob.NewHistoryArchiver(s3blob.NewBucket(s3Client), deps.Transactions, deps.Audit, cfg.Archive.Prefix)
		deps.Health["s3"] = s3Client
	}

	// --- Operator alerts ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// memoryBackends fills the record store and ledger with in-process
// implementations.
func memoryBackends(deps *Dependencies) {
	deps.Listings = memory.NewListingStore()
	deps.Requests = memory.NewPurchaseRequestStore()
	deps.Transactions = memory.NewTransactionStore()
	deps.ConfigStore = memory.NewMarketplaceConfigStore()
	deps.Catalog = memory.NewCatalogStore()
	deps.Audit = memory.NewAuditStore()
	deps.Ledger = memory.NewLedger()
}

// MarketplaceSeed converts the [marketplace] section into the record
// seeded on first start.
func MarketplaceSeed(m config.MarketplaceConfig) (domain.MarketplaceConfig, error) {
	pct, err := decimal.NewFromString(m.CommissionPercent)
	if err != nil {
		return domain.MarketplaceConfig{}, fmt.Errorf("marketplace: commission_percent %q: %w", m.CommissionPercent, err)
	}
	seed := domain.MarketplaceConfig{
		CommissionPercent:    pct,
		MinCommission:        m.MinCommission,
		MinPrice:             m.MinPrice,
		MaxPrice:             m.MaxPrice,
		ListingDurationHours: m.ListingDurationHours,
		CurrencyID:           m.CurrencyID,
		Enabled:              m.Enabled,
		RestrictedCategories: append([]string(nil), m.RestrictedCategories...),
		PricePolicy:          domain.PricePolicy(m.PricePolicy),
	}
	if err := seed.Validate(); err != nil {
		return domain.MarketplaceConfig{}, err
	}
	return seed, nil
}
