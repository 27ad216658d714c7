package enrich

import "time"

// TransientError marks an error as retryable. The client retries transient
// failures with backoff before surfacing them.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PermanentError marks a failure that retrying cannot fix (a rejected
// request, a 4xx other than 429). The client fails fast on these.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	if e == nil || e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RateLimitedError is a transient failure that additionally carries the
// server-provided Retry-After interval. The client holds all dispatches for
// that interval, not just the retrying call.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	if e == nil || e.Err == nil {
		return "rate limited"
	}
	return e.Err.Error()
}

func (e *RateLimitedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
