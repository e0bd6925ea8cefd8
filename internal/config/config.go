// Package config defines the top-level configuration for the tradepost
// marketplace service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADEPOST_* environment variables.
type Config struct {
	Storage     StorageConfig     `toml:"storage"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Marketplace MarketplaceConfig `toml:"marketplace"`
	Sweeper     SweeperConfig     `toml:"sweeper"`
	Settlement  SettlementConfig  `toml:"settlement"`
	Archive     ArchiveConfig     `toml:"archive"`
	Events      EventsConfig      `toml:"events"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// StorageConfig selects the record store and ledger backend.
type StorageConfig struct {
	// Driver is "postgres" or "memory". Memory is single-process only.
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled         bool   `toml:"enabled"`
	Addr            string `toml:"addr"`
	Password        string `toml:"password"`
	DB              int    `toml:"db"`
	PoolSize        int    `toml:"pool_size"`
	MaxRetries      int    `toml:"max_retries"`
	TLSEnabled      bool   `toml:"tls_enabled"`
	CacheTTLMinutes int    `toml:"cache_ttl_minutes"`
	ChannelPrefix   string `toml:"channel_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MarketplaceConfig seeds the marketplace_config record on first start.
// Once the record exists the stored values win.
type MarketplaceConfig struct {
	CommissionPercent    string   `toml:"commission_percent"` // decimal fraction, "0.05"
	MinCommission        int64    `toml:"min_commission"`
	MinPrice             int64    `toml:"min_price"`
	MaxPrice             int64    `toml:"max_price"`
	ListingDurationHours int      `toml:"listing_duration_hours"`
	CurrencyID           string   `toml:"currency_id"`
	Enabled              bool     `toml:"enabled"`
	RestrictedCategories []string `toml:"restricted_categories"`
	PricePolicy          string   `toml:"price_policy"`
	// TradeUpdateScope is "all" (every session) or "topic" (trade:<id> subscribers).
	TradeUpdateScope string   `toml:"trade_update_scope"`
	PageSize         int      `toml:"page_size"`
	ConfigTTL        duration `toml:"config_ttl"`
}

// SweeperConfig holds expiry sweeper parameters.
type SweeperConfig struct {
	Enabled       bool     `toml:"enabled"`
	InitialDelay  duration `toml:"initial_delay"`
	Interval      duration `toml:"interval"`
	BatchSize     int      `toml:"batch_size"`
	RecordTimeout duration `toml:"record_timeout"`
	RepairGrace   duration `toml:"repair_grace"`
}

// SettlementConfig controls retries of post-transition settlement steps.
type SettlementConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   duration `toml:"base_delay"`
	MaxDelay    duration `toml:"max_delay"`
}

// ArchiveConfig holds the transaction history export schedule.
type ArchiveConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"`
	Prefix  string `toml:"prefix"`
}

// EventsConfig sizes the outbound notification queue.
type EventsConfig struct {
	QueueSize int `toml:"queue_size"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// TrustPlayerHeader accepts X-Player-ID without a session token. Dev only.
	TrustPlayerHeader bool `toml:"trust_player_header"`
	// RateLimit caps mutating requests per player per RateWindow. 0 disables.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds operator alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{
			Driver: "postgres",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradepost",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:         true,
			Addr:            "localhost:6379",
			PoolSize:        20,
			MaxRetries:      3,
			CacheTTLMinutes: 60,
			ChannelPrefix:   "mkt",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradepost-history",
			ForcePathStyle: true,
		},
		Marketplace: MarketplaceConfig{
			CommissionPercent:    "0.05",
			MinCommission:        10,
			MinPrice:             100,
			MaxPrice:             100000,
			ListingDurationHours: 72,
			CurrencyID:           "coins",
			Enabled:              true,
			RestrictedCategories: []string{"case", "box"},
			PricePolicy:          "clamp",
			TradeUpdateScope:     "all",
			PageSize:             20,
			ConfigTTL:            duration{30 * time.Second},
		},
		Sweeper: SweeperConfig{
			Enabled:       true,
			InitialDelay:  duration{10 * time.Second},
			Interval:      duration{5 * time.Minute},
			BatchSize:     200,
			RecordTimeout: duration{10 * time.Second},
			RepairGrace:   duration{2 * time.Minute},
		},
		Settlement: SettlementConfig{
			MaxAttempts: 5,
			BaseDelay:   duration{50 * time.Millisecond},
			MaxDelay:    duration{2 * time.Second},
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Cron:    "0 3 * * *",
			Prefix:  "archive",
		},
		Events: EventsConfig{
			QueueSize: 1024,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   30,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"settlement_stuck", "sweep_failed", "archive_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"sweeper": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, sweeper, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Storage
	switch c.Storage.Driver {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	case "memory":
		if c.Mode == "sweeper" {
			errs = append(errs, "storage: driver memory cannot back a standalone sweeper process")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: postgres, memory)", c.Storage.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.ChannelPrefix == "" {
			errs = append(errs, "redis: channel_prefix must not be empty")
		}
	}

	// Marketplace
	m := c.Marketplace
	if pct, err := decimal.NewFromString(m.CommissionPercent); err != nil {
		errs = append(errs, fmt.Sprintf("marketplace: commission_percent %q is not a decimal", m.CommissionPercent))
	} else if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, "marketplace: commission_percent must be within [0, 1]")
	}
	if m.MinCommission < 0 {
		errs = append(errs, "marketplace: min_commission must be >= 0")
	}
	if m.MinPrice < 1 {
		errs = append(errs, "marketplace: min_price must be >= 1")
	}
	if m.MaxPrice < m.MinPrice {
		errs = append(errs, "marketplace: max_price must be >= min_price")
	}
	if m.MinPrice < m.MinCommission {
		errs = append(errs, "marketplace: min_price must be >= min_commission")
	}
	if m.ListingDurationHours < 1 {
		errs = append(errs, "marketplace: listing_duration_hours must be >= 1")
	}
	if m.CurrencyID == "" {
		errs = append(errs, "marketplace: currency_id must not be empty")
	}
	if m.PricePolicy != "clamp" && m.PricePolicy != "reject" {
		errs = append(errs, fmt.Sprintf("marketplace: unknown price_policy %q (valid: clamp, reject)", m.PricePolicy))
	}
	if m.TradeUpdateScope != "all" && m.TradeUpdateScope != "topic" {
		errs = append(errs, fmt.Sprintf("marketplace: unknown trade_update_scope %q (valid: all, topic)", m.TradeUpdateScope))
	}
	if m.PageSize < 1 || m.PageSize > 200 {
		errs = append(errs, "marketplace: page_size must be 1-200")
	}

	// Sweeper
	if c.Sweeper.Enabled {
		if c.Sweeper.Interval.Duration <= 0 {
			errs = append(errs, "sweeper: interval must be > 0")
		}
		if c.Sweeper.BatchSize < 1 {
			errs = append(errs, "sweeper: batch_size must be >= 1")
		}
		if c.Sweeper.RecordTimeout.Duration <= 0 {
			errs = append(errs, "sweeper: record_timeout must be > 0")
		}
	}

	// Settlement
	if c.Settlement.MaxAttempts < 1 {
		errs = append(errs, "settlement: max_attempts must be >= 1")
	}
	if c.Settlement.MaxDelay.Duration < c.Settlement.BaseDelay.Duration {
		errs = append(errs, "settlement: max_delay must be >= base_delay")
	}

	// Archive
	if c.Archive.Enabled {
		if _, err := cron.ParseStandard(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid cron %q: %v", c.Archive.Cron, err))
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Storage.Driver != "postgres" {
			errs = append(errs, "archive: requires storage driver postgres")
		}
	}

	if c.Events.QueueSize < 1 {
		errs = append(errs, "events: queue_size must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration < time.Second {
			errs = append(errs, "server: rate_window must be >= 1s when rate_limit is set")
		}
		if !c.Server.TrustPlayerHeader && !c.Redis.Enabled {
			errs = append(errs, "server: session resolution needs redis.enabled or server.trust_player_header")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
