package cache

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lead-enricher/internal/enrich"
)

func newSQLiteForTest(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStorePutGet(t *testing.T) {
	t.Parallel()
	s := newSQLiteForTest(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, enrich.EndpointCompany, "acme.com", json.RawMessage(`{"name":"Acme"}`)))

	e, ok := s.Get(ctx, enrich.EndpointCompany, "acme.com")
	require.True(t, ok)
	require.JSONEq(t, `{"name":"Acme"}`, string(e.Payload))
	require.WithinDuration(t, time.Now(), e.FetchedAt, 5*time.Second)

	_, ok = s.Get(ctx, enrich.EndpointPerson, "acme.com")
	require.False(t, ok)
}

func TestSQLiteStoreUpsert(t *testing.T) {
	t.Parallel()
	s := newSQLiteForTest(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, enrich.EndpointPerson, "jane@acme.com", json.RawMessage(`{"v":1}`)))
	require.NoError(t, s.Put(ctx, enrich.EndpointPerson, "jane@acme.com", json.RawMessage(`{"v":2}`)))

	e, ok := s.Get(ctx, enrich.EndpointPerson, "jane@acme.com")
	require.True(t, ok)
	require.JSONEq(t, `{"v":2}`, string(e.Payload))
}

func TestSQLiteStoreCorruptPayloadIsAMiss(t *testing.T) {
	t.Parallel()
	s := newSQLiteForTest(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (endpoint, identifier, payload, fetched_at) VALUES (?, ?, ?, ?)`,
		string(enrich.EndpointPerson), "bad@x.com", []byte("{truncated"), time.Now().UTC(),
	)
	require.NoError(t, err)

	_, ok := s.Get(ctx, enrich.EndpointPerson, "bad@x.com")
	require.False(t, ok)
}

func TestSQLiteStoreDeleteExpired(t *testing.T) {
	t.Parallel()
	s := newSQLiteForTest(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, enrich.EndpointPerson, "fresh@x.com", json.RawMessage(`{"a":1}`)))
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (endpoint, identifier, payload, fetched_at) VALUES (?, ?, ?, ?)`,
		string(enrich.EndpointPerson), "old@x.com", []byte(`{"b":2}`), time.Now().UTC().Add(-10*24*time.Hour),
	)
	require.NoError(t, err)

	removed, err := s.DeleteExpired(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, ok := s.Get(ctx, enrich.EndpointPerson, "fresh@x.com")
	require.True(t, ok)
	_, ok = s.Get(ctx, enrich.EndpointPerson, "old@x.com")
	require.False(t, ok)
}
