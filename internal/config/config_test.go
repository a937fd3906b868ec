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
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("REPLAY_MAX_EVENTS", "")

	cfg := Load()

	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.False(t, cfg.UsesSQL())
	assert.Equal(t, 256, cfg.Replay.MaxEvents)
	assert.Equal(t, 10*time.Minute, cfg.Replay.Window)
	assert.Equal(t, int64(800), cfg.DefaultTaxRateBps)
	assert.False(t, cfg.Relay.RedisEnabled())
	assert.False(t, cfg.Relay.AMQPEnabled())
}

func TestLoadTelemetry(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DEPLOYMENT_ENV", "")
	t.Setenv("LOG_LEVEL", " DEBUG ")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP")

	cfg := Load()

	assert.Equal(t, "debug", cfg.Telemetry.LogLevel)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, "http", cfg.Telemetry.OTLPProtocol)
	assert.True(t, cfg.DevEnvironment())

	cfg.Telemetry.LogLevel = "info"
	assert.False(t, cfg.DevEnvironment())
	cfg.Environment = "local"
	assert.True(t, cfg.DevEnvironment())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("REPLAY_WINDOW", "90s")
	t.Setenv("STORE_RETRY_ATTEMPTS", "7")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("SUBSCRIBER_QUEUE", "not-a-number")
	t.Setenv("RATE_LIMIT_REDIS_ADDR", "")
	t.Setenv("RATE_LIMIT_TENANT_RATE", "2.5")

	cfg := Load()

	assert.True(t, cfg.UsesSQL())
	assert.Equal(t, 90*time.Second, cfg.Replay.Window)
	assert.Equal(t, 7, cfg.StoreRetryAttempts)
	assert.True(t, cfg.Relay.RedisEnabled())
	assert.Equal(t, 64, cfg.Replay.SubscriberQueue)
	assert.Equal(t, "localhost:6379", cfg.RateLimit.RedisAddr)
	assert.Equal(t, 2.5, cfg.RateLimit.TenantRate)
}

func TestReplayTuningHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	body := "replay:\n  maxEvents: 12\n  window: 45s\n  subscriberQueue: 8\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "replay.yml"), []byte(body), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	holder, err := NewReplayTuningHolder(Config{Replay: ReplayConfig{MaxEvents: 1, Window: time.Second, SubscriberQueue: 1}})
	require.NoError(t, err)

	got := holder.Get()
	assert.Equal(t, 12, got.MaxEvents)
	assert.Equal(t, 45*time.Second, got.Window)
	assert.Equal(t, 8, got.SubscriberQueue)
}

func TestReplayTuningHolderFallsBackToEnv(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	holder, err := NewReplayTuningHolder(Config{Replay: ReplayConfig{MaxEvents: 5, Window: time.Minute, SubscriberQueue: 3}})
	require.NoError(t, err)

	assert.Equal(t, ReplayConfig{MaxEvents: 5, Window: time.Minute, SubscriberQueue: 3}, holder.Get())
}

func TestValidateReplayConfig(t *testing.T) {
	assert.Error(t, validateReplayConfig(ReplayConfig{MaxEvents: 0, Window: time.Second, SubscriberQueue: 1}))
	assert.Error(t, validateReplayConfig(ReplayConfig{MaxEvents: 1, Window: 0, SubscriberQueue: 1}))
	assert.NoError(t, validateReplayConfig(ReplayConfig{MaxEvents: 1, Window: time.Second, SubscriberQueue: 1}))
}
