// Package coresignal implements the rate-limited HTTP client for the
// profile-enrichment provider. One Fetch is one logical lookup for one
// (endpoint, identifier) pair; retries, the global concurrency ceiling and
// Retry-After holds all live inside the client.
package coresignal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"lead-enricher/internal/enrich"
)

// Config holds the client knobs. Zero values fall back to defaults; the API
// key has no default and is validated at construction.
type Config struct {
	BaseURL string
	APIKey  string

	// MaxConcurrent is the global ceiling on in-flight requests across all
	// endpoints and identifiers.
	MaxConcurrent int
	// MaxRetries is the number of extra attempts after a transient failure.
	MaxRetries int
	// RequestTimeout bounds one attempt, independent of backoff.
	RequestTimeout time.Duration
	// RateLimitRPS is a global request rate limit. Set to <=0 to disable.
	RateLimitRPS float64

	// BackoffInitial is the initial sleep before retrying a transient failure.
	BackoffInitial time.Duration
	// BackoffMax caps exponential backoff.
	BackoffMax time.Duration
	// BackoffJitterFrac applies +/- jitter to backoff sleeps (0.2 = +/-20%).
	BackoffJitterFrac float64
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 200 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 2 * time.Second
	}
	if c.BackoffJitterFrac <= 0 {
		c.BackoffJitterFrac = 0.2
	}
	return c
}

// Stats counts client activity over its lifetime.
type Stats struct {
	Requests      int64
	Retries       int64
	RateLimitHits int64
}

// Client issues lookups against the provider API.
type Client struct {
	cfg     Config
	baseURL *url.URL
	http    *http.Client
	logger  *zap.Logger

	sem     *semaphore.Weighted
	limiter *rate.Limiter
	group   singleflight.Group

	// holdUntil delays every dispatch after a Retry-After response. Guarded
	// by mu; never held across a network call.
	mu        sync.Mutex
	holdUntil time.Time

	requests      atomic.Int64
	retries       atomic.Int64
	rateLimitHits atomic.Int64
}

// New validates the configuration and constructs a client. A missing API key
// is a configuration error: it fails here, before any request is attempted.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg = cfg.withDefaults()

	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("API key is required")
	}

	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("API base URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse API base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("API base URL must include a host (got %q)", cfg.BaseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/")

	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}

	return &Client{
		cfg:     cfg,
		baseURL: u,
		// The transport timeout stays off: per-attempt deadlines come from
		// the request context.
		http:    &http.Client{},
		logger:  logger,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		limiter: limiter,
	}, nil
}

// Stats returns a snapshot of lifetime counters.
func (c *Client) Stats() Stats {
	return Stats{
		Requests:      c.requests.Load(),
		Retries:       c.retries.Load(),
		RateLimitHits: c.rateLimitHits.Load(),
	}
}

// Fetch performs one logical lookup. It never returns an error: failures are
// folded into the result's status so the caller can isolate them per row.
// Identical in-flight lookups are coalesced into a single request.
func (c *Client) Fetch(ctx context.Context, endpoint enrich.Endpoint, identifier string) enrich.FetchResult {
	id, err := enrich.NormalizeIdentifier(identifier)
	if err != nil {
		return enrich.FetchResult{
			Status: enrich.StatusPermanentFailure,
			Err:    &enrich.PermanentError{Err: err},
		}
	}

	key := string(endpoint) + "|" + id
	v, _, _ := c.group.Do(key, func() (any, error) {
		return c.fetchWithRetry(ctx, endpoint, id), nil
	})
	return v.(enrich.FetchResult)
}

var errNotFound = errors.New("not found")

// fetchWithRetry is the bounded retry state machine: each attempt ends in
// Success, Retryable(delay) or Fatal, looped up to 1+MaxRetries times.
func (c *Client) fetchWithRetry(ctx context.Context, endpoint enrich.Endpoint, identifier string) enrich.FetchResult {
	attempts := 1 + c.cfg.MaxRetries
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return enrich.FetchResult{Status: enrich.StatusTransientFailure, Err: err}
		}
		if attempt > 0 {
			c.retries.Add(1)
		}

		payload, err := c.attempt(ctx, endpoint, identifier)
		if err == nil {
			return enrich.FetchResult{
				Status:    enrich.StatusSuccess,
				Payload:   payload,
				FetchedAt: time.Now(),
			}
		}
		if errors.Is(err, errNotFound) {
			return enrich.FetchResult{Status: enrich.StatusNotFound, FetchedAt: time.Now()}
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return enrich.FetchResult{Status: enrich.StatusTransientFailure, Err: ctx.Err()}
		}

		var rle *enrich.RateLimitedError
		if errors.As(err, &rle) {
			c.rateLimitHits.Add(1)
			if rle.RetryAfter > 0 {
				// Delay every dispatch, not just this one: other concurrent
				// calls would otherwise keep hammering the API.
				c.holdFor(rle.RetryAfter)
			}
		}

		if !isTransient(err) {
			return enrich.FetchResult{Status: enrich.StatusPermanentFailure, Err: err}
		}
		lastErr = err
		if attempt == attempts-1 {
			break
		}

		sleep := backoffSleep(c.cfg.BackoffInitial, c.cfg.BackoffMax, c.cfg.BackoffJitterFrac, attempt)
		c.logger.Debug("retrying transient failure",
			zap.String("endpoint", string(endpoint)),
			zap.String("identifier", identifier),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", sleep),
			zap.Error(err))
		t := time.NewTimer(sleep)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return enrich.FetchResult{Status: enrich.StatusTransientFailure, Err: ctx.Err()}
		}
	}
	return enrich.FetchResult{Status: enrich.StatusTransientFailure, Err: lastErr}
}

// attempt performs one HTTP request inside the concurrency ceiling.
func (c *Client) attempt(ctx context.Context, endpoint enrich.Endpoint, identifier string) (json.RawMessage, error) {
	if err := c.waitHold(ctx); err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	u := c.endpointURL(endpoint, identifier)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &enrich.PermanentError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("apikey", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	c.requests.Add(1)
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Connection-level failures and per-attempt timeouts are retryable.
		return nil, &enrich.TransientError{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &enrich.TransientError{Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if !json.Valid(body) {
			return nil, &enrich.TransientError{Err: newAPIError(endpoint, resp, []byte("malformed JSON body"))}
		}
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, errNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &enrich.RateLimitedError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        newAPIError(endpoint, resp, body),
		}
	case resp.StatusCode >= 500:
		return nil, &enrich.TransientError{Err: newAPIError(endpoint, resp, body)}
	default:
		return nil, &enrich.PermanentError{Err: newAPIError(endpoint, resp, body)}
	}
}

// endpointURL expands the fixed request template for an endpoint.
func (c *Client) endpointURL(endpoint enrich.Endpoint, identifier string) *url.URL {
	var p string
	q := url.Values{}
	switch endpoint {
	case enrich.EndpointCompany:
		p = "/v1/organizations/search"
		q.Set("domain", identifier)
	default:
		p = "/v1/people/search"
		q.Set("email", identifier)
	}
	u := c.baseURL.ResolveReference(&url.URL{Path: c.baseURL.Path + p})
	u.RawQuery = q.Encode()
	return u
}

func (c *Client) holdFor(d time.Duration) {
	until := time.Now().Add(d)
	c.mu.Lock()
	if until.After(c.holdUntil) {
		c.holdUntil = until
	}
	c.mu.Unlock()
}

func (c *Client) waitHold(ctx context.Context) error {
	c.mu.Lock()
	d := time.Until(c.holdUntil)
	c.mu.Unlock()
	if d <= 0 {
		return nil
	}
	c.logger.Debug("holding dispatch for server retry-after", zap.Duration("wait", d))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms. Returns 0
// when the header is absent or unparseable; the caller falls back to normal
// backoff in that case.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *enrich.TransientError
	if errors.As(err, &te) {
		return true
	}
	var rle *enrich.RateLimitedError
	if errors.As(err, &rle) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

func backoffSleep(initial, max time.Duration, jitterFrac float64, attempt int) time.Duration {
	sleep := initial
	for i := 0; i < attempt && sleep < max; i++ {
		sleep *= 2
		if sleep > max {
			sleep = max
			break
		}
	}
	if jitterFrac <= 0 {
		return sleep
	}
	// Apply +/- jitterFrac.
	j := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(sleep) * j)
}
