package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Storage.Driver = "mongo"
	cfg.Marketplace.CommissionPercent = "five"
	cfg.Marketplace.PricePolicy = "round"
	cfg.Sweeper.BatchSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"unknown mode", "unknown driver", "commission_percent", "price_policy", "batch_size"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateMinPriceCoversMinCommission(t *testing.T) {
	cfg := Defaults()
	cfg.Marketplace.MinCommission = cfg.Marketplace.MinPrice + 1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marketplace: min_price must be >= min_commission")

	cfg.Marketplace.MinCommission = cfg.Marketplace.MinPrice
	assert.NoError(t, cfg.Validate())
}

func TestValidateArchiveCron(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true
	cfg.Archive.Cron = "every day"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive: invalid cron")

	cfg.Archive.Cron = "15 4 * * *"
	assert.NoError(t, cfg.Validate())
}

func TestValidateMemorySweeper(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.Driver = "memory"
	cfg.Mode = "sweeper"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory cannot back")
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tradepost.toml")
	body := `
mode = "server"

[marketplace]
min_price = 250
listing_duration_hours = 1

[sweeper]
interval = "30s"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("TRADEPOST_MARKETPLACE_MAX_PRICE", "5000")
	t.Setenv("TRADEPOST_MARKETPLACE_RESTRICTED_CATEGORIES", "case, key ,")
	t.Setenv("TRADEPOST_SWEEPER_INITIAL_DELAY", "1s")
	t.Setenv("TRADEPOST_SERVER_PORT", "not-a-port")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, int64(250), cfg.Marketplace.MinPrice)
	assert.Equal(t, int64(5000), cfg.Marketplace.MaxPrice)
	assert.Equal(t, 1, cfg.Marketplace.ListingDurationHours)
	assert.Equal(t, []string{"case", "key"}, cfg.Marketplace.RestrictedCategories)
	assert.Equal(t, 30*time.Second, cfg.Sweeper.Interval.Duration)
	assert.Equal(t, time.Second, cfg.Sweeper.InitialDelay.Duration)
	// unparsable values leave the default in place
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Notify.TelegramToken)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)

	out.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}

func TestExampleFileMatchesDefaults(t *testing.T) {
	cfg, err := Load("../../config.example.toml")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *cfg)
}
