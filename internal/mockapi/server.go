// Package mockapi implements a minimal provider lookalike for local runs and
// tests: the two search endpoints, apikey enforcement, canned fixtures and
// injectable failures.
package mockapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
	Query  string
}

// fault is a queued failure response.
type fault struct {
	status     int
	retryAfter string
}

// Server serves canned person and company payloads keyed by identifier.
type Server struct {
	mu        sync.Mutex
	calls     []Call
	people    map[string]json.RawMessage
	companies map[string]json.RawMessage
	faults    []fault

	expectedKey string
}

// New constructs an empty mock server.
func New() *Server {
	return &Server{
		people:    make(map[string]json.RawMessage),
		companies: make(map[string]json.RawMessage),
	}
}

// RequireAPIKey enforces that requests carry a matching apikey header. An
// empty key disables the check.
func (s *Server) RequireAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expectedKey = strings.TrimSpace(key)
}

// AddPerson registers the payload served for an email lookup.
func (s *Server) AddPerson(email string, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.people[strings.ToLower(email)] = json.RawMessage(payload)
}

// AddCompany registers the payload served for a domain lookup.
func (s *Server) AddCompany(domain string, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companies[strings.ToLower(domain)] = json.RawMessage(payload)
}

// FailNext queues n failure responses served before any lookup logic runs.
// retryAfter, when non-empty, is sent as a Retry-After header.
func (s *Server) FailNext(n, status int, retryAfter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.faults = append(s.faults, fault{status: status, retryAfter: retryAfter})
	}
}

// Calls returns a snapshot of requests seen so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Handler returns the http.Handler serving the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/people/search", func(w http.ResponseWriter, r *http.Request) {
		s.handleSearch(w, r, "email", s.people)
	})
	mux.HandleFunc("/v1/organizations/search", func(w http.ResponseWriter, r *http.Request) {
		s.handleSearch(w, r, "domain", s.companies)
	})
	return mux
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, param string, fixtures map[string]json.RawMessage) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery})
	expected := s.expectedKey
	var injected *fault
	if len(s.faults) > 0 {
		injected = &s.faults[0]
		s.faults = s.faults[1:]
	}
	id := strings.ToLower(strings.TrimSpace(r.URL.Query().Get(param)))
	payload, found := fixtures[id]
	s.mu.Unlock()

	if expected != "" && r.Header.Get("apikey") != expected {
		http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
		return
	}
	if injected != nil {
		if injected.retryAfter != "" {
			w.Header().Set("Retry-After", injected.retryAfter)
		}
		http.Error(w, fmt.Sprintf(`{"error":"injected status %d"}`, injected.status), injected.status)
		return
	}
	if id == "" {
		http.Error(w, fmt.Sprintf(`{"error":"missing %s parameter"}`, param), http.StatusBadRequest)
		return
	}
	if !found {
		http.Error(w, `{"error":"no match"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}
