package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"lead-enricher/internal/enrich"
)

// FSStore keeps one JSON file per (endpoint, identifier) under a cache root.
// Writes go through a temp file + rename so a crash mid-write never leaves a
// half-written entry, and concurrent puts for different keys never touch the
// same file.
type FSStore struct {
	dir    string
	logger *zap.Logger
}

// NewFSStore creates the cache root if needed.
func NewFSStore(dir string, logger *zap.Logger) (*FSStore, error) {
	if dir == "" {
		dir = ".cache"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FSStore{dir: dir, logger: logger}, nil
}

func (s *FSStore) Get(_ context.Context, endpoint enrich.Endpoint, identifier string) (Entry, bool) {
	b, err := os.ReadFile(s.path(endpoint, identifier))
	if err != nil {
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

func (s *FSStore) Put(_ context.Context, endpoint enrich.Endpoint, identifier string, payload json.RawMessage) error {
	b, err := encodeEntry(payload, time.Now())
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	target := s.path(endpoint, identifier)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create endpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return fmt.Errorf("create temp entry: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("publish cache entry: %w", err)
	}
	return nil
}

func (s *FSStore) DeleteExpired(_ context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl)
	removed := 0
	err := filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".json" {
			return err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		e, ok := decodeEntry(b)
		// Corrupt entries are dead weight; sweep them too.
		if ok && !e.FetchedAt.Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
		return nil
	})
	return removed, err
}

func (s *FSStore) Close() error { return nil }

// path derives the deterministic file location for a key. Identifiers are
// hashed: they can contain characters unfit for file names.
func (s *FSStore) path(endpoint enrich.Endpoint, identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	name := hex.EncodeToString(sum[:16]) + ".json"
	return filepath.Join(s.dir, string(endpoint), name)
}
