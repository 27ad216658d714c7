package coresignal

import (
	"fmt"
	"net/http"
	"strings"

	"lead-enricher/internal/enrich"
	"lead-enricher/internal/util"
)

// apiError is a sanitized summary of a non-2xx provider response.
//
// Important: never include raw response bodies (they can leak PII/keys);
// Snippet is redacted and truncated.
type apiError struct {
	Endpoint   enrich.Endpoint
	StatusCode int
	Status     string
	Snippet    string
}

func (e *apiError) Error() string {
	if e == nil {
		return "provider api error"
	}
	msg := fmt.Sprintf("provider api error: endpoint=%s status=%s", e.Endpoint, strings.TrimSpace(e.Status))
	if s := strings.TrimSpace(e.Snippet); s != "" {
		msg += " body=" + s
	}
	return msg
}

func newAPIError(endpoint enrich.Endpoint, resp *http.Response, body []byte) error {
	e := &apiError{Endpoint: endpoint}
	if resp != nil {
		e.StatusCode = resp.StatusCode
		e.Status = resp.Status
	}
	e.Snippet = redactAndTruncate(body)
	return e
}

func redactAndTruncate(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	const max = 256
	b := body
	if len(b) > max {
		b = b[:max]
	}
	s := util.RedactSecrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(body) > max {
		return s + "..."
	}
	return s
}
