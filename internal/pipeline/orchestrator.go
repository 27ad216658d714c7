// Package pipeline runs the enrichment engine: cache-first lookups fanned out
// over a bounded worker pool, merged into one record per input row, emitted
// strictly in input order.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"lead-enricher/internal/cache"
	"lead-enricher/internal/enrich"
	"lead-enricher/internal/merge"
)

// Fetcher performs one logical provider lookup. The client implements it;
// tests substitute fakes.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint enrich.Endpoint, identifier string) enrich.FetchResult
}

// Options tunes a run.
type Options struct {
	// Workers sizes the row worker pool. The request ceiling lives in the
	// client; this only bounds row-level fan-out.
	Workers int
	// TTL is the hard cache expiry: entries older than this are refetched.
	TTL time.Duration
	// Endpoints to query per row. Defaults to all.
	Endpoints []enrich.Endpoint
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 10
	}
	if o.TTL <= 0 {
		o.TTL = 7 * 24 * time.Hour
	}
	if len(o.Endpoints) == 0 {
		o.Endpoints = enrich.Endpoints()
	}
	return o
}

// Stats counts orchestrator activity over one run.
type Stats struct {
	CacheHits int64
	Fetches   int64
}

// Orchestrator drives one enrichment run. Collaborators are injected; it
// owns no global state.
type Orchestrator struct {
	store   cache.Store
	fetcher Fetcher
	merger  *merge.Merger
	opts    Options
	logger  *zap.Logger

	cacheHits atomic.Int64
	fetches   atomic.Int64
}

func New(store cache.Store, fetcher Fetcher, merger *merge.Merger, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:   store,
		fetcher: fetcher,
		merger:  merger,
		opts:    opts.withDefaults(),
		logger:  logger,
	}
}

// Stats returns a snapshot of run counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{CacheHits: o.cacheHits.Load(), Fetches: o.fetches.Load()}
}

// Run enriches every row and calls emit once per row, in input order, even
// though fetches complete out of order. Per-row failures surface as marked
// records; only cancellation or an emit error aborts the run. A fresh run
// re-derives everything from cache + network.
func (o *Orchestrator) Run(ctx context.Context, rows []enrich.InputRow, emit func(enrich.Record) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type completion struct {
		idx int
		rec enrich.Record
	}
	jobs := make(chan int)
	done := make(chan completion, o.opts.Workers)

	var wg sync.WaitGroup
	for i := 0; i < o.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if runCtx.Err() != nil {
					return
				}
				rec := o.processRow(runCtx, rows[idx])
				select {
				case done <- completion{idx: idx, rec: rec}:
				case <-runCtx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range rows {
			select {
			case jobs <- i:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	// Reorder buffer: completions are buffered by input index and released
	// positionally, so emission order never depends on completion order.
	pending := make(map[int]enrich.Record)
	next := 0
	var emitErr error
	for c := range done {
		pending[c.idx] = c.rec
		for {
			rec, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if emitErr != nil {
				continue
			}
			if err := emit(rec); err != nil {
				emitErr = err
				cancel()
			}
		}
	}

	if emitErr != nil {
		return emitErr
	}
	return ctx.Err()
}

// RunAll collects the full ordered record slice.
func (o *Orchestrator) RunAll(ctx context.Context, rows []enrich.InputRow) ([]enrich.Record, error) {
	out := make([]enrich.Record, 0, len(rows))
	err := o.Run(ctx, rows, func(rec enrich.Record) error {
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// processRow resolves every endpoint for one row, cache first. Endpoint
// lookups for the same row run concurrently; the client's ceiling still
// bounds total in-flight requests.
func (o *Orchestrator) processRow(ctx context.Context, row enrich.InputRow) enrich.Record {
	email, err := enrich.NormalizeIdentifier(row.Email)
	if err != nil {
		return o.merger.ErrorRecord(row, "row has no usable email address")
	}

	results := make(map[enrich.Endpoint]enrich.FetchResult, len(o.opts.Endpoints))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, ep := range o.opts.Endpoints {
		id, ok := o.identifierFor(ep, email)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(ep enrich.Endpoint, id string) {
			defer wg.Done()
			res := o.resolve(ctx, ep, id)
			mu.Lock()
			results[ep] = res
			mu.Unlock()
		}(ep, id)
	}
	wg.Wait()

	return o.merger.Merge(row, results, time.Now())
}

// identifierFor derives the lookup key an endpoint needs from the row's
// email: the person endpoint takes the address, the company endpoint its
// domain.
func (o *Orchestrator) identifierFor(ep enrich.Endpoint, email string) (string, bool) {
	switch ep {
	case enrich.EndpointCompany:
		domain := enrich.DomainFromEmail(email)
		return domain, domain != ""
	default:
		return email, true
	}
}

// resolve serves one (endpoint, identifier) from cache when fresh, otherwise
// fetches and writes through before the payload is used.
func (o *Orchestrator) resolve(ctx context.Context, ep enrich.Endpoint, id string) enrich.FetchResult {
	if entry, ok := o.store.Get(ctx, ep, id); ok {
		if age := time.Since(entry.FetchedAt); age <= o.opts.TTL {
			o.cacheHits.Add(1)
			return enrich.FetchResult{
				Status:    enrich.StatusSuccess,
				Payload:   entry.Payload,
				Cached:    true,
				FetchedAt: entry.FetchedAt,
			}
		}
	}

	o.fetches.Add(1)
	res := o.fetcher.Fetch(ctx, ep, id)
	if res.OK() {
		// Write-then-use: a crash after this point leaves the cache
		// consistent with what was actually fetched.
		if err := o.store.Put(ctx, ep, id, res.Payload); err != nil {
			o.logger.Warn("cache write failed",
				zap.String("endpoint", string(ep)),
				zap.String("identifier", id),
				zap.Error(err))
		}
	}
	return res
}
