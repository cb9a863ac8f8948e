package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline/faultline-ai/internal/cache"
	"github.com/faultline/faultline-ai/internal/tool"
)

// newGateway serves the query API, answering each source with a recognizable
// summary. Sources listed in fail return HTTP 502.
func newGateway(t *testing.T, hits *int64, fail ...string) *httptest.Server {
	t.Helper()
	failing := map[string]bool{}
	for _, f := range fail {
		failing[f] = true
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(hits, 1)
		source := strings.TrimPrefix(r.URL.Path, "/api/v1/query/")
		if failing[source] {
			http.Error(w, "store unreachable", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(QueryResponse{Summary: source + " evidence"})
	}))
}

func newToolRegistry(t *testing.T, srv *httptest.Server, c cache.Cache) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	RegisterTools(reg, NewClient(ClientOptions{BaseURL: srv.URL}), ToolsOptions{
		Cache:    c,
		CacheTTL: time.Minute,
	})
	return reg
}

func TestToolsQueryTheirSources(t *testing.T) {
	var hits int64
	srv := newGateway(t, &hits)
	defer srv.Close()

	reg := newToolRegistry(t, srv, nil)
	ctx := context.Background()

	for toolName, want := range map[string]string{
		"query_metrics": "metrics evidence",
		"query_logs":    "logs evidence",
		"query_traces":  "traces evidence",
		"query_changes": "changes evidence",
	} {
		out, err := reg.Execute(ctx, toolName, map[string]any{"service": "checkout"})
		require.NoError(t, err, toolName)
		assert.Equal(t, want, out, toolName)
	}
}

func TestRegistrationOrderIsMenuOrder(t *testing.T) {
	var hits int64
	srv := newGateway(t, &hits)
	defer srv.Close()

	reg := newToolRegistry(t, srv, nil)

	var names []string
	for _, d := range reg.Describe() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{
		"query_metrics", "query_logs", "query_traces",
		"query_changes", "search_runbooks", "telemetry_snapshot",
	}, names)
}

func TestQueryMetricsAcceptsEmptyParams(t *testing.T) {
	var hits int64
	srv := newGateway(t, &hits)
	defer srv.Close()

	reg := newToolRegistry(t, srv, nil)

	// Seeded verification sessions start with query_metrics and no params.
	out, err := reg.Execute(context.Background(), "query_metrics", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "metrics evidence", out)
}

func TestSearchRunbooksRequiresQuery(t *testing.T) {
	var hits int64
	srv := newGateway(t, &hits)
	defer srv.Close()

	reg := newToolRegistry(t, srv, nil)
	ctx := context.Background()

	_, err := reg.Execute(ctx, "search_runbooks", map[string]any{})
	require.ErrorIs(t, err, tool.ErrMissingParameter)

	out, err := reg.Execute(ctx, "search_runbooks", map[string]any{"query": "checkout errors"})
	require.NoError(t, err)
	assert.Equal(t, "runbooks evidence", out)
}

func TestSnapshotAssemblesSections(t *testing.T) {
	var hits int64
	srv := newGateway(t, &hits)
	defer srv.Close()

	reg := newToolRegistry(t, srv, nil)

	out, err := reg.Execute(context.Background(), "telemetry_snapshot", map[string]any{"service": "checkout"})
	require.NoError(t, err)

	// Sections come back in a fixed order regardless of fan-out timing.
	mi := strings.Index(out, "## Metrics")
	li := strings.Index(out, "## Logs")
	ti := strings.Index(out, "## Traces")
	require.True(t, mi >= 0 && li > mi && ti > li, out)
	assert.Contains(t, out, "metrics evidence")
	assert.Contains(t, out, "logs evidence")
	assert.Contains(t, out, "traces evidence")
}

func TestSnapshotToleratesPartialFailure(t *testing.T) {
	var hits int64
	srv := newGateway(t, &hits, "traces")
	defer srv.Close()

	reg := newToolRegistry(t, srv, nil)

	out, err := reg.Execute(context.Background(), "telemetry_snapshot", map[string]any{"service": "checkout"})
	require.NoError(t, err)
	assert.Contains(t, out, "metrics evidence")
	assert.Contains(t, out, "logs evidence")
	assert.Contains(t, out, "traces unavailable")
}

func TestCacheAvoidsRepeatQueries(t *testing.T) {
	var hits int64
	srv := newGateway(t, &hits)
	defer srv.Close()

	c := cache.New(cache.Options{})
	defer c.Close()
	reg := newToolRegistry(t, srv, c)
	ctx := context.Background()

	params := map[string]any{"service": "checkout", "window": "15m"}
	first, err := reg.Execute(ctx, "query_metrics", params)
	require.NoError(t, err)
	second, err := reg.Execute(ctx, "query_metrics", params)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits), "second call served from cache")

	// Different parameters are a different key.
	_, err = reg.Execute(ctx, "query_metrics", map[string]any{"service": "payments"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&hits))
}

func TestSnapshotSharesCacheWithDirectTools(t *testing.T) {
	var hits int64
	srv := newGateway(t, &hits)
	defer srv.Close()

	c := cache.New(cache.Options{})
	defer c.Close()
	reg := newToolRegistry(t, srv, c)
	ctx := context.Background()

	params := map[string]any{"service": "checkout"}
	_, err := reg.Execute(ctx, "telemetry_snapshot", params)
	require.NoError(t, err)
	require.Equal(t, int64(3), atomic.LoadInt64(&hits))

	// The snapshot already fetched metrics for these params.
	_, err = reg.Execute(ctx, "query_metrics", params)
	require.NoError(t, err)
	assert.Equal(t, int64(3), atomic.LoadInt64(&hits))
}

func TestToolFailureSurfacesError(t *testing.T) {
	var hits int64
	srv := newGateway(t, &hits, "logs")
	defer srv.Close()

	reg := newToolRegistry(t, srv, nil)

	_, err := reg.Execute(context.Background(), "query_logs", map[string]any{"service": "checkout"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestCacheKeyCanonicalizesParams(t *testing.T) {
	a := cacheKey("metrics", map[string]any{"service": "checkout", "window": "15m"})
	b := cacheKey("metrics", map[string]any{"window": "15m", "service": "checkout"})
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, cacheKey("logs", map[string]any{"service": "checkout", "window": "15m"}))
	assert.NotEqual(t, a, cacheKey("metrics", map[string]any{"service": "checkout", "window": "1h"}))
}
