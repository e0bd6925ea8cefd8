package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADEPOST_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADEPOST_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty).
func applyEnvOverrides(cfg *Config) {
	// ── Storage ──
	setStr(&cfg.Storage.Driver, "TRADEPOST_STORAGE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRADEPOST_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "TRADEPOST_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADEPOST_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADEPOST_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADEPOST_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADEPOST_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADEPOST_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADEPOST_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADEPOST_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADEPOST_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRADEPOST_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRADEPOST_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEPOST_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEPOST_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEPOST_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADEPOST_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADEPOST_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.CacheTTLMinutes, "TRADEPOST_REDIS_CACHE_TTL_MINUTES")
	setStr(&cfg.Redis.ChannelPrefix, "TRADEPOST_REDIS_CHANNEL_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TRADEPOST_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADEPOST_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADEPOST_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADEPOST_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADEPOST_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADEPOST_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADEPOST_S3_FORCE_PATH_STYLE")

	// ── Marketplace ──
	setStr(&cfg.Marketplace.CommissionPercent, "TRADEPOST_MARKETPLACE_COMMISSION_PERCENT")
	setInt64(&cfg.Marketplace.MinCommission, "TRADEPOST_MARKETPLACE_MIN_COMMISSION")
	setInt64(&cfg.Marketplace.MinPrice, "TRADEPOST_MARKETPLACE_MIN_PRICE")
	setInt64(&cfg.Marketplace.MaxPrice, "TRADEPOST_MARKETPLACE_MAX_PRICE")
	setInt(&cfg.Marketplace.ListingDurationHours, "TRADEPOST_MARKETPLACE_LISTING_DURATION_HOURS")
	setStr(&cfg.Marketplace.CurrencyID, "TRADEPOST_MARKETPLACE_CURRENCY_ID")
	setBool(&cfg.Marketplace.Enabled, "TRADEPOST_MARKETPLACE_ENABLED")
	setStringSlice(&cfg.Marketplace.RestrictedCategories, "TRADEPOST_MARKETPLACE_RESTRICTED_CATEGORIES")
	setStr(&cfg.Marketplace.PricePolicy, "TRADEPOST_MARKETPLACE_PRICE_POLICY")
	setStr(&cfg.Marketplace.TradeUpdateScope, "TRADEPOST_MARKETPLACE_TRADE_UPDATE_SCOPE")
	setInt(&cfg.Marketplace.PageSize, "TRADEPOST_MARKETPLACE_PAGE_SIZE")
	setDuration(&cfg.Marketplace.ConfigTTL, "TRADEPOST_MARKETPLACE_CONFIG_TTL")

	// ── Sweeper ──
	setBool(&cfg.Sweeper.Enabled, "TRADEPOST_SWEEPER_ENABLED")
	setDuration(&cfg.Sweeper.InitialDelay, "TRADEPOST_SWEEPER_INITIAL_DELAY")
	setDuration(&cfg.Sweeper.Interval, "TRADEPOST_SWEEPER_INTERVAL")
	setInt(&cfg.Sweeper.BatchSize, "TRADEPOST_SWEEPER_BATCH_SIZE")
	setDuration(&cfg.Sweeper.RecordTimeout, "TRADEPOST_SWEEPER_RECORD_TIMEOUT")
	setDuration(&cfg.Sweeper.RepairGrace, "TRADEPOST_SWEEPER_REPAIR_GRACE")

	// ── Settlement ──
	setInt(&cfg.Settlement.MaxAttempts, "TRADEPOST_SETTLEMENT_MAX_ATTEMPTS")
	setDuration(&cfg.Settlement.BaseDelay, "TRADEPOST_SETTLEMENT_BASE_DELAY")
	setDuration(&cfg.Settlement.MaxDelay, "TRADEPOST_SETTLEMENT_MAX_DELAY")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "TRADEPOST_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "TRADEPOST_ARCHIVE_CRON")
	setStr(&cfg.Archive.Prefix, "TRADEPOST_ARCHIVE_PREFIX")

	// ── Events ──
	setInt(&cfg.Events.QueueSize, "TRADEPOST_EVENTS_QUEUE_SIZE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADEPOST_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADEPOST_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADEPOST_SERVER_CORS_ORIGINS")
	setBool(&cfg.Server.TrustPlayerHeader, "TRADEPOST_SERVER_TRUST_PLAYER_HEADER")
	setInt(&cfg.Server.RateLimit, "TRADEPOST_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "TRADEPOST_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADEPOST_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADEPOST_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADEPOST_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADEPOST_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADEPOST_MODE")
	setStr(&cfg.LogLevel, "TRADEPOST_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
