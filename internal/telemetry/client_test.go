package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryRendersEnvelope(t *testing.T) {
	var gotPath string
	var gotParams map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotParams))
		json.NewEncoder(w).Encode(QueryResponse{
			Summary: "error rate elevated on checkout",
			Entries: []string{"error_rate=4.2%", "p99_latency=1800ms"},
		})
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL})
	out, err := c.Query(context.Background(), "metrics", map[string]any{"service": "checkout"})
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/query/metrics", gotPath)
	assert.Equal(t, "checkout", gotParams["service"])
	assert.Contains(t, out, "error rate elevated on checkout")
	assert.Contains(t, out, "- error_rate=4.2%")
	assert.Contains(t, out, "- p99_latency=1800ms")
}

func TestQueryNonEnvelopeBodyPassedThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain text evidence\n"))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL})
	out, err := c.Query(context.Background(), "logs", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text evidence", out)
}

func TestQueryErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend store unreachable", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL})
	_, err := c.Query(context.Background(), "traces", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "backend store unreachable")
}

func TestQueryUnreachableGateway(t *testing.T) {
	c := NewClient(ClientOptions{BaseURL: "http://127.0.0.1:1"})
	_, err := c.Query(context.Background(), "metrics", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway query metrics")
}
