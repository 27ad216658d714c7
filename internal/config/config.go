// Package config loads runtime settings from the environment. Flags in
// cmd/enricher can override a subset per invocation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"lead-enricher/internal/cache"
)

// Config carries everything one enrichment run needs.
type Config struct {
	// Provider API.
	APIBaseURL string
	APIKey     string

	// Request shaping.
	MaxConcurrent  int
	MaxRetries     int
	RequestTimeout time.Duration
	RateLimitRPS   float64
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// Cache.
	CacheBackend  string
	CacheDir      string
	SQLitePath    string
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration
	SweepSchedule string

	// Merge.
	MappingPath string
	Freshness   time.Duration

	Workers  int
	LogLevel string
}

// Load reads the full configuration from the environment. Missing variables
// fall back to defaults; malformed values are errors.
func Load() (Config, error) {
	cfg := Config{
		APIBaseURL:    strings.TrimSpace(os.Getenv("CORESIGNAL_BASE_URL")),
		APIKey:        strings.TrimSpace(os.Getenv("CORESIGNAL_API_KEY")),
		CacheBackend:  strings.TrimSpace(os.Getenv("CACHE_BACKEND")),
		CacheDir:      strings.TrimSpace(os.Getenv("CACHE_DIR")),
		SQLitePath:    strings.TrimSpace(os.Getenv("CACHE_SQLITE_PATH")),
		RedisAddress:  strings.TrimSpace(os.Getenv("CACHE_REDIS_ADDR")),
		RedisPassword: os.Getenv("CACHE_REDIS_PASSWORD"),
		SweepSchedule: strings.TrimSpace(os.Getenv("CACHE_SWEEP_SCHEDULE")),
		MappingPath:   strings.TrimSpace(os.Getenv("FIELD_MAPPING_PATH")),
		LogLevel:      strings.TrimSpace(os.Getenv("LOG_LEVEL")),
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.coresignal.com"
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = cache.BackendFS
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@hourly"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	var err error
	if cfg.MaxConcurrent, err = envInt("MAX_CONCURRENT_REQUESTS", 10); err != nil {
		return Config{}, err
	}
	if cfg.MaxRetries, err = envInt("MAX_RETRIES", 3); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = envDuration("REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitRPS, err = envFloat("RATE_LIMIT_RPS", 0); err != nil {
		return Config{}, err
	}
	if cfg.BackoffInitial, err = envDuration("BACKOFF_INITIAL", 200*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.BackoffMax, err = envDuration("BACKOFF_MAX", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RedisDB, err = envInt("CACHE_REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.CacheTTL, err = envDuration("CACHE_TTL", 7*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.Freshness, err = envDuration("FRESHNESS_THRESHOLD", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.Workers, err = envInt("WORKERS", 10); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot start a run. The API key is
// checked here so a missing credential fails before any work is dispatched.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("CORESIGNAL_API_KEY is required")
	}
	switch c.CacheBackend {
	case cache.BackendFS, cache.BackendSQLite, cache.BackendRedis:
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q (want fs, sqlite or redis)", c.CacheBackend)
	}
	if c.CacheBackend == cache.BackendRedis && c.RedisAddress == "" {
		return fmt.Errorf("CACHE_REDIS_ADDR is required with the redis backend")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_REQUESTS must be positive, got %d", c.MaxConcurrent)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	return nil
}

// CacheOptions maps the cache part of the configuration onto store options.
func (c Config) CacheOptions() cache.Options {
	return cache.Options{
		Backend:       c.CacheBackend,
		Dir:           c.CacheDir,
		SQLitePath:    c.SQLitePath,
		RedisAddress:  c.RedisAddress,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
	}
}

func envInt(varName string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envDuration(varName string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}
