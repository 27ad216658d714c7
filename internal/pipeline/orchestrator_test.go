package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lead-enricher/internal/cache"
	"lead-enricher/internal/enrich"
	"lead-enricher/internal/merge"
	"lead-enricher/internal/pipeline"
)

// fakeStore is an in-memory cache.Store with controllable entry timestamps.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]cache.Entry
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]cache.Entry)}
}

func storeKey(endpoint enrich.Endpoint, identifier string) string {
	return string(endpoint) + "|" + identifier
}

func (s *fakeStore) Get(_ context.Context, endpoint enrich.Endpoint, identifier string) (cache.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[storeKey(endpoint, identifier)]
	return e, ok
}

func (s *fakeStore) Put(_ context.Context, endpoint enrich.Endpoint, identifier string, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[storeKey(endpoint, identifier)] = cache.Entry{Payload: payload, FetchedAt: time.Now()}
	return nil
}

func (s *fakeStore) DeleteExpired(context.Context, time.Duration) (int, error) { return 0, nil }

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) seed(endpoint enrich.Endpoint, identifier, payload string, fetchedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[storeKey(endpoint, identifier)] = cache.Entry{
		Payload:   json.RawMessage(payload),
		FetchedAt: fetchedAt,
	}
}

// fakeFetcher answers lookups through fn and counts calls.
type fakeFetcher struct {
	fn    func(endpoint enrich.Endpoint, identifier string) enrich.FetchResult
	calls atomic.Int64
}

func (f *fakeFetcher) Fetch(_ context.Context, endpoint enrich.Endpoint, identifier string) enrich.FetchResult {
	f.calls.Add(1)
	return f.fn(endpoint, identifier)
}

func successFetcher() *fakeFetcher {
	return &fakeFetcher{fn: func(endpoint enrich.Endpoint, identifier string) enrich.FetchResult {
		var payload string
		if endpoint == enrich.EndpointPerson {
			payload = fmt.Sprintf(`{"first_name":"u-%s"}`, identifier)
		} else {
			payload = fmt.Sprintf(`{"name":"c-%s"}`, identifier)
		}
		return enrich.FetchResult{
			Status:    enrich.StatusSuccess,
			Payload:   json.RawMessage(payload),
			FetchedAt: time.Now(),
		}
	}}
}

func newOrchestrator(t *testing.T, store cache.Store, fetcher pipeline.Fetcher, opts pipeline.Options) *pipeline.Orchestrator {
	t.Helper()
	merger, err := merge.New(merge.DefaultMapping(), 24*time.Hour)
	require.NoError(t, err)
	return pipeline.New(store, fetcher, merger, opts, nil)
}

func inputRows(n int) []enrich.InputRow {
	rows := make([]enrich.InputRow, n)
	for i := range rows {
		email := fmt.Sprintf("user%03d@corp%03d.com", i, i)
		rows[i] = enrich.InputRow{Email: email, Fields: map[string]string{"email": email}}
	}
	return rows
}

func TestRunPreservesInputOrder(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{fn: func(endpoint enrich.Endpoint, identifier string) enrich.FetchResult {
		time.Sleep(time.Duration(rand.IntN(15)) * time.Millisecond)
		return successFetcher().fn(endpoint, identifier)
	}}
	o := newOrchestrator(t, newFakeStore(), fetcher, pipeline.Options{Workers: 8})

	rows := inputRows(40)
	recs, err := o.RunAll(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, recs, len(rows))
	for i, rec := range recs {
		assert.Equal(t, rows[i].Email, rec.Input.Email, "record %d out of order", i)
	}
}

func TestRunServesFreshCacheWithoutNetwork(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	rows := inputRows(5)

	first, err := newOrchestrator(t, store, successFetcher(), pipeline.Options{}).RunAll(context.Background(), rows)
	require.NoError(t, err)

	quiet := &fakeFetcher{fn: func(enrich.Endpoint, string) enrich.FetchResult {
		return enrich.FetchResult{Status: enrich.StatusTransientFailure, Err: errors.New("unexpected network call")}
	}}
	o := newOrchestrator(t, store, quiet, pipeline.Options{})
	second, err := o.RunAll(context.Background(), rows)
	require.NoError(t, err)

	assert.Zero(t, quiet.calls.Load())
	assert.Equal(t, int64(0), o.Stats().Fetches)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Values, second[i].Values)
		assert.Equal(t, first[i].Status, second[i].Status)
	}
}

func TestRunTTLBoundary(t *testing.T) {
	t.Parallel()

	ttl := time.Hour
	row := enrich.InputRow{Email: "jane@acme.com", Fields: map[string]string{"email": "jane@acme.com"}}

	fresh := newFakeStore()
	fresh.seed(enrich.EndpointPerson, "jane@acme.com", `{"first_name":"Jane"}`, time.Now().Add(-ttl+time.Second))
	fresh.seed(enrich.EndpointCompany, "acme.com", `{"name":"Acme"}`, time.Now().Add(-ttl+time.Second))
	fetcher := successFetcher()
	recs, err := newOrchestrator(t, fresh, fetcher, pipeline.Options{TTL: ttl}).RunAll(context.Background(), []enrich.InputRow{row})
	require.NoError(t, err)
	assert.Zero(t, fetcher.calls.Load())
	assert.Equal(t, "Jane", recs[0].Values["first_name"])

	expired := newFakeStore()
	expired.seed(enrich.EndpointPerson, "jane@acme.com", `{"first_name":"Old"}`, time.Now().Add(-ttl-time.Second))
	expired.seed(enrich.EndpointCompany, "acme.com", `{"name":"Old"}`, time.Now().Add(-ttl-time.Second))
	fetcher = successFetcher()
	recs, err = newOrchestrator(t, expired, fetcher, pipeline.Options{TTL: ttl}).RunAll(context.Background(), []enrich.InputRow{row})
	require.NoError(t, err)
	assert.Equal(t, int64(2), fetcher.calls.Load())
	assert.Equal(t, "u-jane@acme.com", recs[0].Values["first_name"])
}

func TestRunIsolatesRowFailures(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{fn: func(endpoint enrich.Endpoint, identifier string) enrich.FetchResult {
		if strings.Contains(identifier, "broken.example") {
			return enrich.FetchResult{Status: enrich.StatusPermanentFailure, Err: errors.New("rejected")}
		}
		return successFetcher().fn(endpoint, identifier)
	}}
	o := newOrchestrator(t, newFakeStore(), fetcher, pipeline.Options{})

	rows := []enrich.InputRow{
		{Email: "a@acme.com", Fields: map[string]string{"email": "a@acme.com"}},
		{Email: "b@broken.example", Fields: map[string]string{"email": "b@broken.example"}},
		{Email: "c@globex.com", Fields: map[string]string{"email": "c@globex.com"}},
	}
	recs, err := o.RunAll(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, enrich.RecordOK, recs[0].Status)
	assert.Equal(t, enrich.RecordError, recs[1].Status)
	assert.Contains(t, recs[1].Error, "rejected")
	assert.Equal(t, enrich.RecordOK, recs[2].Status)
}

func TestRunWritesThroughToCache(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	o := newOrchestrator(t, store, successFetcher(), pipeline.Options{})
	row := enrich.InputRow{Email: "Jane@Acme.com", Fields: map[string]string{"email": "Jane@Acme.com"}}

	_, err := o.RunAll(context.Background(), []enrich.InputRow{row})
	require.NoError(t, err)

	// Identifiers are normalized before they reach the cache.
	person, ok := store.Get(context.Background(), enrich.EndpointPerson, "jane@acme.com")
	require.True(t, ok)
	assert.JSONEq(t, `{"first_name":"u-jane@acme.com"}`, string(person.Payload))

	_, ok = store.Get(context.Background(), enrich.EndpointCompany, "acme.com")
	require.True(t, ok)
}

func TestRunMarksRowsWithoutEmail(t *testing.T) {
	t.Parallel()

	fetcher := successFetcher()
	o := newOrchestrator(t, newFakeStore(), fetcher, pipeline.Options{})
	rows := []enrich.InputRow{
		{Email: "   ", Fields: map[string]string{"email": "   "}},
		{Email: "ok@acme.com", Fields: map[string]string{"email": "ok@acme.com"}},
	}

	recs, err := o.RunAll(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, enrich.RecordError, recs[0].Status)
	assert.Contains(t, recs[0].Error, "email")
	assert.Equal(t, enrich.RecordOK, recs[1].Status)
	// Only the valid row produced lookups.
	assert.Equal(t, int64(2), fetcher.calls.Load())
}

func TestRunStopsOnEmitError(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, newFakeStore(), successFetcher(), pipeline.Options{Workers: 2})
	sentinel := errors.New("sink closed")

	emitted := 0
	err := o.Run(context.Background(), inputRows(20), func(enrich.Record) error {
		emitted++
		if emitted == 3 {
			return sentinel
		}
		return nil
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, emitted)
}

func TestRunHonorsCancellation(t *testing.T) {
	t.Parallel()

	blocking := &fakeFetcher{fn: func(enrich.Endpoint, string) enrich.FetchResult {
		time.Sleep(50 * time.Millisecond)
		return enrich.FetchResult{Status: enrich.StatusSuccess, Payload: json.RawMessage(`{}`), FetchedAt: time.Now()}
	}}
	o := newOrchestrator(t, newFakeStore(), blocking, pipeline.Options{Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := o.Run(ctx, inputRows(100), func(enrich.Record) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}
