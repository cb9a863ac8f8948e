package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline/faultline-ai/internal/db"
	"github.com/faultline/faultline-ai/internal/llm/types"
)

func TestRecordTagsAnalysisFromContext(t *testing.T) {
	store, err := db.NewSQLiteStore(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer store.Close()

	tracker := NewTracker(store)
	ctx := WithAnalysisID(context.Background(), "an-1")

	require.NoError(t, tracker.Record(ctx, "openai", "gpt-4o", types.TokenUsage{
		PromptTokens:     100,
		CompletionTokens: 40,
		TotalTokens:      140,
	}))
	// Untagged context still records, with an empty analysis id.
	require.NoError(t, tracker.Record(context.Background(), "anthropic", "claude-3-5-sonnet-20241022", types.TokenUsage{
		TotalTokens: 60,
	}))

	records, err := store.QueryUsage(context.Background(), time.Time{}, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byProvider := map[string]*db.UsageRecord{}
	for _, r := range records {
		byProvider[r.Provider] = r
	}
	assert.Equal(t, "an-1", byProvider["openai"].AnalysisID)
	assert.Equal(t, 140, byProvider["openai"].TotalTokens)
	assert.Empty(t, byProvider["anthropic"].AnalysisID)

	totals, err := tracker.Totals(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, totals, 2)
}

func TestAnalysisIDFrom(t *testing.T) {
	assert.Empty(t, AnalysisIDFrom(context.Background()))
	assert.Equal(t, "an-9", AnalysisIDFrom(WithAnalysisID(context.Background(), "an-9")))
}
