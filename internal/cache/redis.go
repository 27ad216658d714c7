package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"lead-enricher/internal/enrich"
)

const redisKeyPrefix = "enrich:cache:"

// RedisConfig holds connection settings for the redis backend.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// RedisStore keeps one key per (endpoint, identifier) holding the entry
// envelope. Intended for deployments where the cache outlives a single host;
// durability depends on the server's persistence settings.
type RedisStore struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisStore connects and pings the server.
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if cfg.Address == "" {
		cfg.Address = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{rdb: rdb, logger: logger}, nil
}

func (s *RedisStore) Get(ctx context.Context, endpoint enrich.Endpoint, identifier string) (Entry, bool) {
	b, err := s.rdb.Get(ctx, redisKey(endpoint, identifier)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Debug("cache read failed, treating as miss", zap.Error(err))
		}
		return Entry{}, false
	}
	e, ok := decodeEntry(b)
	if !ok {
		s.logger.Debug("discarding corrupt cache entry",
			zap.String("endpoint", string(endpoint)),
			zap.String("identifier", identifier))
		return Entry{}, false
	}
	return e, true
}

func (s *RedisStore) Put(ctx context.Context, endpoint enrich.Endpoint, identifier string, payload json.RawMessage) error {
	b, err := encodeEntry(payload, time.Now())
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.rdb.Set(ctx, redisKey(endpoint, identifier), b, 0).Err(); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteExpired(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl)
	removed := 0
	iter := s.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		b, err := s.rdb.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		e, ok := decodeEntry(b)
		if ok && !e.FetchedAt.Before(cutoff) {
			continue
		}
		if s.rdb.Del(ctx, key).Err() == nil {
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan cache keys: %w", err)
	}
	return removed, nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

func redisKey(endpoint enrich.Endpoint, identifier string) string {
	return fmt.Sprintf("%s%s:%s", redisKeyPrefix, endpoint, identifier)
}
