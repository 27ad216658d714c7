package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"lead-enricher/internal/enrich"
)

// SQLiteStore keeps one row per (endpoint, identifier). SQLite serializes
// writers itself, so concurrent puts for different keys need no extra
// locking here.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (and migrates) the database file.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		path = "./enrich_cache.db"
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache database: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cache_entries (
		endpoint TEXT NOT NULL,
		identifier TEXT NOT NULL,
		payload BLOB NOT NULL,
		fetched_at TIMESTAMP NOT NULL,
		PRIMARY KEY (endpoint, identifier)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate cache database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, endpoint enrich.Endpoint, identifier string) (Entry, bool) {
	var payload []byte
	var fetchedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, fetched_at FROM cache_entries WHERE endpoint = ? AND identifier = ?`,
		string(endpoint), identifier,
	).Scan(&payload, &fetchedAt)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Debug("cache read failed, treating as miss", zap.Error(err))
		}
		return Entry{}, false
	}
	if !json.Valid(payload) || fetchedAt.IsZero() {
		s.logger.Debug("discarding corrupt cache entry",
			zap.String("endpoint", string(endpoint)),
			zap.String("identifier", identifier))
		return Entry{}, false
	}
	return Entry{Payload: payload, FetchedAt: fetchedAt}, true
}

func (s *SQLiteStore) Put(ctx context.Context, endpoint enrich.Endpoint, identifier string, payload json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (endpoint, identifier, payload, fetched_at) VALUES (?, ?, ?, ?)`,
		string(endpoint), identifier, []byte(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, ttl time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE fetched_at < ?`,
		time.Now().UTC().Add(-ttl),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
