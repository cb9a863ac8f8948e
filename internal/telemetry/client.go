package telemetry

// Package telemetry provides the gateway-facing side of the investigation
// tools. The telemetry gateway aggregates the observability backends (logs,
// metrics, traces, change feeds, runbook search) behind one REST query API;
// this package turns gateway responses into the observation text the
// reasoning loops consume.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/faultline/faultline-ai/internal/metrics"
)

const maxResponseBytes = 1 << 20 // 1MB

// QueryResponse is the gateway's response envelope for all query sources.
type QueryResponse struct {
	Summary string   `json:"summary"`
	Entries []string `json:"entries"`
}

// ClientOptions tunes the gateway client.
type ClientOptions struct {
	// BaseURL is the gateway REST API base URL (e.g. http://localhost:8080).
	BaseURL string
	// Timeout is the per-query timeout. Zero means 30 seconds.
	Timeout time.Duration
}

// Client queries the telemetry gateway over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a gateway client.
func NewClient(opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Query runs one gateway query against the named source (logs, metrics,
// traces, changes, runbooks) and renders the response as observation text.
func (c *Client) Query(ctx context.Context, source string, params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode %s query: %w", source, err)
	}

	url := fmt.Sprintf("%s/api/v1/query/%s", c.baseURL, source)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build %s query: %w", source, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.GatewayQueries.WithLabelValues(source, "error").Inc()
		return "", fmt.Errorf("gateway query %s: %w", source, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.GatewayQueries.WithLabelValues(source, "error").Inc()
		return "", fmt.Errorf("read %s response: %w", source, err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.GatewayQueries.WithLabelValues(source, "error").Inc()
		return "", fmt.Errorf("gateway query %s: status %d: %s", source, resp.StatusCode, truncate(string(raw), 200))
	}

	metrics.GatewayQueries.WithLabelValues(source, "ok").Inc()
	return renderResponse(raw), nil
}

// renderResponse turns the gateway envelope into observation text. Responses
// that do not match the envelope are passed through as-is so a nonstandard
// gateway still yields usable evidence.
func renderResponse(raw []byte) string {
	var qr QueryResponse
	if err := json.Unmarshal(raw, &qr); err != nil || (qr.Summary == "" && len(qr.Entries) == 0) {
		return strings.TrimSpace(string(raw))
	}

	var b strings.Builder
	if qr.Summary != "" {
		b.WriteString(qr.Summary)
	}
	for _, e := range qr.Entries {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(e)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
