package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/faultline/faultline-ai/internal/cache"
	"github.com/faultline/faultline-ai/internal/metrics"
	"github.com/faultline/faultline-ai/internal/tool"
)

// ToolsOptions tunes the investigation tool set.
type ToolsOptions struct {
	// Cache holds recent query results so repeated tool calls within an
	// analysis do not re-hit the gateway. Nil disables caching.
	Cache cache.Cache
	// CacheTTL is the lifetime of cached results. Zero uses the cache default.
	CacheTTL time.Duration
	// SnapshotConcurrency bounds the telemetry_snapshot fan-out. Zero means 3.
	SnapshotConcurrency int
}

// toolset binds the gateway client to the registry-facing executors.
type toolset struct {
	client      *Client
	cache       cache.Cache
	cacheTTL    time.Duration
	concurrency int
}

// RegisterTools registers the investigation tools backed by the gateway.
//
// The registration order here is the order the tool menu is rendered in
// reasoning prompts.
func RegisterTools(reg *tool.Registry, client *Client, opts ToolsOptions) {
	concurrency := opts.SnapshotConcurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	ts := &toolset{
		client:      client,
		cache:       opts.Cache,
		cacheTTL:    opts.CacheTTL,
		concurrency: concurrency,
	}

	reg.Register(tool.Descriptor{
		Name:        "query_metrics",
		Description: "Query service metrics (error rates, latency, saturation) from the telemetry gateway",
		Params: []tool.ParamSpec{
			{Name: "service", Type: "string", Description: "Service to query; omit for the incident's primary service"},
			{Name: "metric", Type: "string", Description: "Metric name filter (e.g. error_rate, p99_latency)"},
			{Name: "window", Type: "string", Description: "Lookback window (e.g. 15m, 1h); defaults to 15m"},
		},
	}, ts.instrument("query_metrics", "metrics"))

	reg.Register(tool.Descriptor{
		Name:        "query_logs",
		Description: "Search service logs for errors and anomalies",
		Params: []tool.ParamSpec{
			{Name: "service", Type: "string", Description: "Service whose logs to search"},
			{Name: "filter", Type: "string", Description: "Substring or level filter (e.g. ERROR, timeout)"},
			{Name: "window", Type: "string", Description: "Lookback window; defaults to 15m"},
		},
	}, ts.instrument("query_logs", "logs"))

	reg.Register(tool.Descriptor{
		Name:        "query_traces",
		Description: "Query distributed traces for slow or failing requests",
		Params: []tool.ParamSpec{
			{Name: "service", Type: "string", Description: "Service whose traces to query"},
			{Name: "min_duration_ms", Type: "number", Description: "Only return traces slower than this"},
			{Name: "window", Type: "string", Description: "Lookback window; defaults to 15m"},
		},
	}, ts.instrument("query_traces", "traces"))

	reg.Register(tool.Descriptor{
		Name:        "query_changes",
		Description: "List recent deploys, config changes, and feature flag flips",
		Params: []tool.ParamSpec{
			{Name: "service", Type: "string", Description: "Service whose change feed to query"},
			{Name: "window", Type: "string", Description: "Lookback window; defaults to 24h"},
		},
	}, ts.instrument("query_changes", "changes"))

	reg.Register(tool.Descriptor{
		Name:        "search_runbooks",
		Description: "Search runbooks and prior incident reports for similar symptoms",
		Params: []tool.ParamSpec{
			{Name: "query", Type: "string", Required: true, Description: "Free-text search query"},
		},
	}, ts.instrument("search_runbooks", "runbooks"))

	reg.Register(tool.Descriptor{
		Name:        "telemetry_snapshot",
		Description: "Fetch metrics, logs, and traces for a service in one call",
		Params: []tool.ParamSpec{
			{Name: "service", Type: "string", Description: "Service to snapshot"},
			{Name: "window", Type: "string", Description: "Lookback window; defaults to 15m"},
		},
	}, ts.snapshot)
}

// instrument wraps a single-source query with tool metrics.
func (ts *toolset) instrument(toolName, source string) tool.Executor {
	return func(ctx context.Context, params map[string]any) (string, error) {
		start := time.Now()
		out, err := ts.fetch(ctx, source, params)
		metrics.ToolDuration.WithLabelValues(toolName).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ToolCalls.WithLabelValues(toolName, "error").Inc()
			return "", err
		}
		metrics.ToolCalls.WithLabelValues(toolName, "ok").Inc()
		return out, nil
	}
}

// fetch runs one gateway query through the result cache. Snapshot sub-queries
// and direct tool calls share cache entries: the key is the gateway source
// plus the canonicalized parameters.
func (ts *toolset) fetch(ctx context.Context, source string, params map[string]any) (string, error) {
	key := cacheKey(source, params)
	if ts.cache != nil {
		if v, ok := ts.cache.Get(ctx, key); ok {
			return v, nil
		}
	}

	out, err := ts.client.Query(ctx, source, params)
	if err != nil {
		return "", err
	}
	if ts.cache != nil {
		ts.cache.Set(ctx, key, out, ts.cacheTTL)
	}
	return out, nil
}

// snapshotSources lists the sources one telemetry_snapshot call covers, in
// render order.
var snapshotSources = []string{"metrics", "logs", "traces"}

// snapshot fans out to metrics, logs, and traces with bounded concurrency and
// assembles one sectioned observation. Per-source failures become inline
// "unavailable" sections rather than failing the whole call.
func (ts *toolset) snapshot(ctx context.Context, params map[string]any) (string, error) {
	start := time.Now()
	defer func() {
		metrics.ToolDuration.WithLabelValues("telemetry_snapshot").Observe(time.Since(start).Seconds())
	}()

	sections := make([]string, len(snapshotSources))
	sem := make(chan struct{}, ts.concurrency)
	var wg sync.WaitGroup

	for i, source := range snapshotSources {
		wg.Add(1)
		go func(i int, source string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			out, err := ts.fetch(ctx, source, params)
			if err != nil {
				sections[i] = fmt.Sprintf("## %s\n(%s unavailable: %v)", titleCase(source), source, err)
				return
			}
			sections[i] = fmt.Sprintf("## %s\n%s", titleCase(source), out)
		}(i, source)
	}
	wg.Wait()

	metrics.ToolCalls.WithLabelValues("telemetry_snapshot", "ok").Inc()
	return strings.Join(sections, "\n\n"), nil
}

// cacheKey canonicalizes params so semantically equal queries share entries.
func cacheKey(source string, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(source)
	for _, k := range keys {
		v, err := json.Marshal(params[k])
		if err != nil {
			v = []byte(fmt.Sprintf("%v", params[k]))
		}
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.Write(v)
	}
	return b.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
