package adapter

import (
	"context"
	"time"

	"github.com/faultline/faultline-ai/internal/llm/types"
	"github.com/faultline/faultline-ai/internal/metrics"
)

// Metered wraps an Invoker and records Prometheus metrics and usage records
// for every invocation. It is transparent to callers: errors pass through
// unchanged so rate-limit classification still works via errors.As.
type Metered struct {
	inner    Invoker
	recorder UsageRecorder
}

// UsageRecorder receives token usage after each successful invocation.
// internal/llm/usage.Tracker satisfies this interface.
type UsageRecorder interface {
	Record(ctx context.Context, provider, model string, usage types.TokenUsage) error
}

// NewMetered wraps inner with metrics and optional usage recording.
// recorder may be nil.
func NewMetered(inner Invoker, recorder UsageRecorder) *Metered {
	return &Metered{inner: inner, recorder: recorder}
}

// Invoke implements Invoker.
func (m *Metered) Invoke(ctx context.Context, prompt string, opts types.InvokeOptions) (*types.Completion, error) {
	provider := m.inner.Provider()
	model := m.inner.Model()

	start := time.Now()
	completion, err := m.inner.Invoke(ctx, prompt, opts)
	metrics.LLMRequestDuration.WithLabelValues(provider, model).Observe(time.Since(start).Seconds())

	if err != nil {
		status := "error"
		if types.IsRateLimited(err) {
			status = "rate_limited"
		}
		metrics.LLMRequestsTotal.WithLabelValues(provider, model, status).Inc()
		return nil, err
	}

	metrics.LLMRequestsTotal.WithLabelValues(provider, model, "success").Inc()

	usage := completion.Usage
	if usage.TotalTokens == 0 {
		// Provider did not report usage; fall back to estimation.
		usage.PromptTokens = types.EstimateTokens(prompt)
		usage.CompletionTokens = types.EstimateTokens(completion.Text)
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	metrics.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(usage.CompletionTokens))

	if m.recorder != nil {
		_ = m.recorder.Record(ctx, provider, model, usage)
	}

	return completion, nil
}

// Provider returns the wrapped invoker's provider name.
func (m *Metered) Provider() string { return m.inner.Provider() }

// Model returns the wrapped invoker's model name.
func (m *Metered) Model() string { return m.inner.Model() }
