package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "fern", cfg.AppName)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 100, cfg.OutboxFlushBatchSize)
	assert.Equal(t, 10*time.Second, cfg.OutboxFlushInterval)
	assert.Equal(t, 14*24*time.Hour, cfg.HostCullingOffset)
	assert.Equal(t, FlagSourceStatic, cfg.FeatureFlagSource)
	assert.True(t, cfg.EmitEventsEnabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("OUTBOX_FLUSH_BATCH_SIZE", "250")
	t.Setenv("EMIT_EVENTS_ENABLED", "false")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("FEATURE_FLAG_SOURCE", "redis")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 250, cfg.OutboxFlushBatchSize)
	assert.False(t, cfg.EmitEventsEnabled)
	assert.Equal(t, FlagSourceRedis, cfg.FeatureFlagSource)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("KAFKA_HBI_TOPIC=custom.events\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("KAFKA_HBI_TOPIC") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom.events", cfg.KafkaHbiTopic)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{FeatureFlagSource: FlagSourceStatic, OutboxFlushBatchSize: 10}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "redis flags need redis", mutate: func(c *Config) { c.FeatureFlagSource = FlagSourceRedis }, errMsg: "REDIS_ENABLED"},
		{name: "unknown flag source", mutate: func(c *Config) { c.FeatureFlagSource = "launchdarkly" }, errMsg: "unknown FEATURE_FLAG_SOURCE"},
		{name: "auth needs issuer", mutate: func(c *Config) { c.AuthEnabled = true }, errMsg: "AUTH_ISSUER_URL"},
		{name: "batch size", mutate: func(c *Config) { c.OutboxFlushBatchSize = 0 }, errMsg: "OUTBOX_FLUSH_BATCH_SIZE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}
