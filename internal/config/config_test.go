package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "notifications", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "scheduled-notifications", cfg.Kafka.Topic)

	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, []string{"in_app"}, cfg.Defaults.Channels)
	assert.Equal(t, 30, cfg.Defaults.ExpirationDays)
	assert.Equal(t, 100, cfg.Limits.MaxBatchSize)

	assert.False(t, cfg.Providers.SendGrid.Enabled)
	assert.True(t, cfg.Providers.Webhook.Enabled)
	assert.Equal(t, 10, cfg.Providers.Webhook.TimeoutSeconds)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("REDIS_ADDR", "cache.internal:6380")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "cache.internal:6380", cfg.Redis.Addr)
}
