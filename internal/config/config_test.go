package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CORESIGNAL_API_KEY", "k")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.coresignal.com", cfg.APIBaseURL)
	assert.Equal(t, 10, cfg.MaxConcurrent)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "fs", cfg.CacheBackend)
	assert.Equal(t, 7*24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 24*time.Hour, cfg.Freshness)
	assert.Equal(t, "info", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CORESIGNAL_API_KEY", "k")
	t.Setenv("CORESIGNAL_BASE_URL", "http://localhost:9090")
	t.Setenv("MAX_CONCURRENT_REQUESTS", "4")
	t.Setenv("CACHE_TTL", "48h")
	t.Setenv("CACHE_BACKEND", "sqlite")
	t.Setenv("CACHE_SQLITE_PATH", "/tmp/cache.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9090", cfg.APIBaseURL)
	assert.Equal(t, 4, cfg.MaxConcurrent)
	assert.Equal(t, 48*time.Hour, cfg.CacheTTL)
	assert.Equal(t, "sqlite", cfg.CacheBackend)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("MAX_RETRIES", "three")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_RETRIES")
}

func TestValidate(t *testing.T) {
	t.Setenv("CORESIGNAL_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Error(t, cfg.Validate(), "missing API key must fail before any request")

	cfg.APIKey = "k"
	cfg.CacheBackend = "memcached"
	require.Error(t, cfg.Validate())

	cfg.CacheBackend = "redis"
	cfg.RedisAddress = ""
	require.Error(t, cfg.Validate())

	cfg.RedisAddress = "localhost:6379"
	require.NoError(t, cfg.Validate())
}
