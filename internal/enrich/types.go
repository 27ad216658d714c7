// Package enrich holds the domain types shared by the cache, client, merger
// and orchestrator: identifiers, endpoints, fetch results and the enriched
// output record.
package enrich

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Endpoint names one provider API surface. The request templates are fixed;
// there is no endpoint discovery.
type Endpoint string

const (
	EndpointPerson  Endpoint = "person"
	EndpointCompany Endpoint = "company"
)

// Endpoints lists every endpoint queried per input row, in a stable order.
func Endpoints() []Endpoint {
	return []Endpoint{EndpointPerson, EndpointCompany}
}

// NormalizeIdentifier canonicalizes a lookup key before it is used against
// the cache or the provider API. Identifiers are always trimmed and
// lower-cased; an empty result is an error.
func NormalizeIdentifier(raw string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(raw))
	if id == "" {
		return "", fmt.Errorf("empty identifier")
	}
	return id, nil
}

// DomainFromEmail extracts the domain part of an email address, already
// normalized. Returns "" when the input does not look like an email.
func DomainFromEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return ""
	}
	domain := email[at+1:]
	if !strings.Contains(domain, ".") {
		return ""
	}
	return domain
}

// FetchStatus tags the outcome of one logical lookup.
type FetchStatus int

const (
	// StatusSuccess carries a JSON payload.
	StatusSuccess FetchStatus = iota
	// StatusNotFound means the provider has no data for the identifier.
	StatusNotFound
	// StatusTransientFailure means retries were exhausted (or the run was
	// cancelled) on a retryable failure.
	StatusTransientFailure
	// StatusPermanentFailure means the request was rejected and retrying
	// would not help.
	StatusPermanentFailure
)

func (s FetchStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNotFound:
		return "not_found"
	case StatusTransientFailure:
		return "transient_failure"
	case StatusPermanentFailure:
		return "permanent_failure"
	default:
		return fmt.Sprintf("fetch_status(%d)", int(s))
	}
}

// FetchResult is the outcome of one lookup for one (endpoint, identifier)
// pair, whether it came from the network or the cache.
type FetchResult struct {
	Status  FetchStatus
	Payload json.RawMessage
	Err     error

	// Cached is true when the payload was served from the cache store.
	Cached bool
	// FetchedAt is when the payload was originally retrieved from the
	// provider. For network results this is the time of the call.
	FetchedAt time.Time
}

// OK reports whether the result carries a usable payload.
func (r FetchResult) OK() bool {
	return r.Status == StatusSuccess && len(r.Payload) > 0
}

// InputRow is one row of the input table. Fields carries every input column
// for pass-through into the output; Email and CompanyName are the columns
// the engine itself reads.
type InputRow struct {
	Email       string
	CompanyName string
	Fields      map[string]string
}

// Record statuses. A record always exists for every input row; failures are
// visible here rather than as missing rows.
const (
	RecordOK      = "ok"
	RecordPartial = "partial"
	RecordError   = "error"
)

// Record is the flattened, enriched output for one input row. Immutable once
// built by the merger.
type Record struct {
	Input InputRow

	// Values holds the declared schema columns. Absent fields are "".
	Values map[string]string
	// Extras holds payload fields outside the declared schema.
	Extras map[string]string

	Status string
	Error  string
	// Stale is set when any contributing payload came from a cache entry
	// older than the freshness threshold. Informational only.
	Stale bool
}
