package usage

// Package usage persists per-invocation LLM token consumption. The tracker
// sits behind the metered adapter as its UsageRecorder, so every reasoning
// invocation lands in the llm_usage table tagged with the analysis it
// belonged to.

import (
	"context"
	"time"

	"github.com/faultline/faultline-ai/internal/db"
	"github.com/faultline/faultline-ai/internal/llm/types"
)

type contextKey struct{}

// WithAnalysisID tags a context with the analysis the LLM calls belong to.
func WithAnalysisID(ctx context.Context, analysisID string) context.Context {
	return context.WithValue(ctx, contextKey{}, analysisID)
}

// AnalysisIDFrom extracts the analysis id from a context, "" when untagged.
func AnalysisIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(contextKey{}).(string); ok {
		return id
	}
	return ""
}

// Tracker records token usage to the store.
type Tracker struct {
	store db.UsageStore
}

// NewTracker creates a Tracker over the usage store.
func NewTracker(store db.UsageStore) *Tracker {
	return &Tracker{store: store}
}

// Record implements adapter.UsageRecorder.
func (t *Tracker) Record(ctx context.Context, provider, model string, usage types.TokenUsage) error {
	return t.store.AppendUsage(ctx, &db.UsageRecord{
		AnalysisID:       AnalysisIDFrom(ctx),
		Provider:         provider,
		Model:            model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		RecordedAt:       time.Now().UTC(),
	})
}

// Totals returns per-provider token totals for the window.
func (t *Tracker) Totals(ctx context.Context, from, to time.Time) ([]*db.UsageTotal, error) {
	return t.store.UsageTotals(ctx, from, to)
}
