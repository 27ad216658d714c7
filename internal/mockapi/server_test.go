package mockapi

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, url, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("apikey", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServerServesFixtures(t *testing.T) {
	t.Parallel()

	srv := New()
	srv.RequireAPIKey("secret")
	srv.AddPerson("jane@acme.com", `{"name":"Jane Doe"}`)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := get(t, ts.URL+"/v1/people/search?email=Jane@Acme.com", "secret")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Jane Doe"}`, string(body))

	resp = get(t, ts.URL+"/v1/people/search?email=nobody@acme.com", "secret")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = get(t, ts.URL+"/v1/people/search?email=jane@acme.com", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.Len(t, srv.Calls(), 3)
}

func TestServerInjectsFaults(t *testing.T) {
	t.Parallel()

	srv := New()
	srv.AddCompany("acme.com", `{"name":"Acme"}`)
	srv.FailNext(1, http.StatusTooManyRequests, "2")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := get(t, ts.URL+"/v1/organizations/search?domain=acme.com", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("Retry-After"))

	resp = get(t, ts.URL+"/v1/organizations/search?domain=acme.com", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
