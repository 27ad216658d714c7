// Package cache persists fetched provider payloads so re-runs within the TTL
// issue no network calls. One durable unit per (endpoint, identifier); the
// store itself is TTL-agnostic; freshness is the caller's call.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lead-enricher/internal/enrich"
)

// Entry is the durable unit: the raw payload plus when it was fetched.
// Entries are never mutated, only replaced wholesale.
type Entry struct {
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Store persists entries keyed by (endpoint, identifier).
//
// Get treats a corrupt or unreadable entry as a miss and never returns an
// error; Put is an idempotent overwrite safe to call concurrently for
// different keys. DeleteExpired is the optional garbage-collection sweep and
// is not required for correctness.
type Store interface {
	Get(ctx context.Context, endpoint enrich.Endpoint, identifier string) (Entry, bool)
	Put(ctx context.Context, endpoint enrich.Endpoint, identifier string, payload json.RawMessage) error
	DeleteExpired(ctx context.Context, ttl time.Duration) (int, error)
	Close() error
}

// Backend names for Open.
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend string

	// Dir is the cache root for the fs backend.
	Dir string
	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string
	// Redis connection settings for the redis backend.
	RedisAddress  string
	RedisPassword string
	RedisDB       int
}

// Open constructs the configured backend.
func Open(opts Options, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch opts.Backend {
	case "", BackendFS:
		return NewFSStore(opts.Dir, logger)
	case BackendSQLite:
		return NewSQLiteStore(opts.SQLitePath, logger)
	case BackendRedis:
		return NewRedisStore(RedisConfig{
			Address:  opts.RedisAddress,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}

func encodeEntry(payload json.RawMessage, fetchedAt time.Time) ([]byte, error) {
	return json.Marshal(Entry{Payload: payload, FetchedAt: fetchedAt.UTC()})
}

// decodeEntry parses a stored envelope. An entry without a payload or a
// timestamp is treated as corrupt.
func decodeEntry(b []byte) (Entry, bool) {
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, false
	}
	if len(e.Payload) == 0 || e.FetchedAt.IsZero() {
		return Entry{}, false
	}
	return e, true
}
