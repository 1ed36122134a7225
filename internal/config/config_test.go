package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, DriverRedis, cfg.StorageDriver)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 720, cfg.CartTTL)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTTL())
	assert.False(t, cfg.EventsEnabled)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.TwitterEnabled())
}

func TestLoad_InvalidHTTPPort(t *testing.T) {
	t.Setenv("HTTP_PORT", "0")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
}

func TestLoad_UnknownStorageDriver(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "localstorage")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORAGE_DRIVER must be one of")
}

func TestLoad_StorageDrivers(t *testing.T) {
	for _, driver := range []string{DriverRedis, DriverPostgres, DriverMemory} {
		t.Run(driver, func(t *testing.T) {
			t.Setenv("STORAGE_DRIVER", driver)
			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, driver, cfg.StorageDriver)
		})
	}
}

func TestLoad_InvalidOTELSampleRate(t *testing.T) {
	t.Setenv("OTEL_SAMPLE_RATE", "2.0")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OTEL_SAMPLE_RATE must be between 0.0 and 1.0")
}

func TestLoad_JWTSecretRequiredOutsideDevelopment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoad_ReportsEveryViolation(t *testing.T) {
	t.Setenv("HTTP_PORT", "70000")
	t.Setenv("SESSION_IDLE_MINUTES", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
	assert.Contains(t, err.Error(), "SESSION_IDLE_MINUTES")
}

func TestLoad_CustomCartTTL(t *testing.T) {
	t.Setenv("CART_TTL_HOURS", "24")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.CartSnapshotTTL())
}

func TestLoad_KafkaBrokersList(t *testing.T) {
	t.Setenv("EVENTS_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestConfig_Tracing(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_SAMPLE_RATE", "0.25")

	cfg, err := Load()
	require.NoError(t, err)

	tc := cfg.Tracing("storefront")
	assert.Equal(t, "storefront", tc.ServiceName)
	assert.True(t, tc.Enabled)
	assert.InDelta(t, 0.25, tc.SampleRate, 1e-9)
}

func TestLoad_RateLimit(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 20.0, cfg.RateLimit().RPS)
	assert.Equal(t, 40, cfg.RateLimit().Burst)
	assert.True(t, cfg.RateLimit().Enabled())

	t.Setenv("RATE_LIMIT_RPS", "0")
	cfg, err = Load()
	require.NoError(t, err)
	assert.False(t, cfg.RateLimit().Enabled())
}

func TestLoad_InvalidRateLimit(t *testing.T) {
	t.Setenv("RATE_LIMIT_RPS", "5")
	t.Setenv("RATE_LIMIT_BURST", "0")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "RATE_LIMIT_BURST")
}
