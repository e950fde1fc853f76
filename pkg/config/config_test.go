package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnvVars clears all Raylink-related environment variables.
func clearEnvVars() {
	envVars := []string{
		"APP_ENV", "LOG_LEVEL",
		"DATABASE_URL", "DATABASE_DRIVER", "SQLITE_PATH", "RAYLINK_LOCAL_MODE",
		"REDIS_URL", "RABBITMQ_URL",
		"OUTBOX_POLL_INTERVAL", "OUTBOX_BATCH_SIZE", "OUTBOX_MAX_RETRIES",
		"OUTBOX_STATS_INTERVAL", "OUTBOX_RETENTION_DAYS", "OUTBOX_CLEANUP_INTERVAL",
		"OUTBOX_PROCESSOR_ENABLED", "WORKER_HEALTH_ADDR",
		"TRIAL_ENABLED", "TRIAL_DAYS", "MAX_DEVICES_PER_ACCOUNT",
		"DEVICE_FRESHNESS_WINDOW", "NOTIFICATION_LOOKAHEAD", "SWEEP_INTERVAL",
		"STORE_TIMEOUT", "STORE_RETRY_ATTEMPTS", "STORE_RETRY_BASE",
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_ADMIN_IDS",
		"CRYPTOPAY_API_URL", "CRYPTOPAY_API_TOKEN",
		"YOOKASSA_API_URL", "YOOKASSA_SHOP_ID", "YOOKASSA_SECRET_KEY",
		"INVOICE_POLL_INTERVAL", "INVOICE_TTL",
		"RAYLINK_CATALOG_PATH", "XRAY_CONFIG_PATH", "XRAY_RELOAD_CMD",
		"BACKUP_ENABLED", "BACKUP_INTERVAL",
		"S3_ENDPOINT", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_BUCKET", "S3_USE_SSL",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Application defaults
	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "auto", cfg.DatabaseDriver)
	assert.False(t, cfg.LocalMode)

	// Outbox defaults
	assert.Equal(t, 100*time.Millisecond, cfg.OutboxPollInterval)
	assert.Equal(t, 100, cfg.OutboxBatchSize)
	assert.Equal(t, 5, cfg.OutboxMaxRetries)
	assert.Equal(t, 30*time.Second, cfg.OutboxStatsInterval)
	assert.Equal(t, 14, cfg.OutboxRetentionDays)
	assert.Equal(t, 24*time.Hour, cfg.OutboxCleanupInterval)
	assert.True(t, cfg.OutboxProcessorEnabled)

	// Worker defaults
	assert.Equal(t, "0.0.0.0:8081", cfg.WorkerHealthAddr)

	// Entitlement defaults
	assert.True(t, cfg.TrialEnabled)
	assert.Equal(t, 3, cfg.TrialDays)
	assert.Equal(t, 3, cfg.MaxDevicesPerAccount)
	assert.Equal(t, 10*time.Minute, cfg.DeviceFreshness)
	assert.Equal(t, 24*time.Hour, cfg.NotificationLookahead)
	assert.Equal(t, time.Minute, cfg.SweepInterval)

	// Store access defaults
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 3, cfg.StoreRetryAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.StoreRetryBase)

	// Payment defaults
	assert.Equal(t, "https://pay.crypt.bot/api", cfg.CryptoPayAPIURL)
	assert.Equal(t, "https://api.yookassa.ru/v3", cfg.YooKassaAPIURL)
	assert.Equal(t, 15*time.Second, cfg.InvoicePollInterval)
	assert.Equal(t, time.Hour, cfg.InvoiceTTL)
}

func TestLoad_WithCustomEnvVars(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	os.Setenv("APP_ENV", "production")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("TRIAL_ENABLED", "false")
	os.Setenv("TRIAL_DAYS", "7")
	os.Setenv("MAX_DEVICES_PER_ACCOUNT", "5")
	os.Setenv("DEVICE_FRESHNESS_WINDOW", "30m")
	os.Setenv("NOTIFICATION_LOOKAHEAD", "48h")
	os.Setenv("SWEEP_INTERVAL", "5m")
	os.Setenv("OUTBOX_BATCH_SIZE", "200")
	os.Setenv("OUTBOX_POLL_INTERVAL", "500ms")
	os.Setenv("OUTBOX_PROCESSOR_ENABLED", "false")
	os.Setenv("TELEGRAM_BOT_TOKEN", "12345:token")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "production", cfg.AppEnv)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.TrialEnabled)
	assert.Equal(t, 7, cfg.TrialDays)
	assert.Equal(t, 5, cfg.MaxDevicesPerAccount)
	assert.Equal(t, 30*time.Minute, cfg.DeviceFreshness)
	assert.Equal(t, 48*time.Hour, cfg.NotificationLookahead)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 200, cfg.OutboxBatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.OutboxPollInterval)
	assert.False(t, cfg.OutboxProcessorEnabled)
	assert.Equal(t, "12345:token", cfg.TelegramBotToken)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())
}

func TestLoad_AdminIDs(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	os.Setenv("TELEGRAM_ADMIN_IDS", "123456789, 987654321,42")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []int64{123456789, 987654321, 42}, cfg.TelegramAdminIDs)
	assert.True(t, cfg.IsAdmin(42))
	assert.False(t, cfg.IsAdmin(7))
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	os.Setenv("TRIAL_DAYS", "not-a-number")
	os.Setenv("SWEEP_INTERVAL", "not-a-duration")
	os.Setenv("TRIAL_ENABLED", "not-a-bool")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.TrialDays)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.True(t, cfg.TrialEnabled)
}
