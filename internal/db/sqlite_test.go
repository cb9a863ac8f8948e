package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAnalysisRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rec := &AnalysisRecord{
		ID:        "an-1",
		Context:   "checkout errors spiking",
		Status:    AnalysisRunning,
		State:     `{"current_hypothesis_index":-1}`,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.SaveAnalysis(ctx, rec))

	got, err := s.GetAnalysis(ctx, "an-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "checkout errors spiking", got.Context)
	assert.Equal(t, AnalysisRunning, got.Status)
	assert.Equal(t, `{"current_hypothesis_index":-1}`, got.State)

	// Upsert keeps created_at, replaces the mutable columns.
	rec.Status = AnalysisCompleted
	rec.FinalAnswer = "the deploy did it"
	rec.Label = "confirmed"
	rec.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, s.SaveAnalysis(ctx, rec))

	got, err = s.GetAnalysis(ctx, "an-1")
	require.NoError(t, err)
	assert.Equal(t, AnalysisCompleted, got.Status)
	assert.Equal(t, "the deploy did it", got.FinalAnswer)
	assert.Equal(t, now, got.CreatedAt)
}

func TestGetAnalysis_AbsentReturnsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetAnalysis(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListAnalyses_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, s.SaveAnalysis(ctx, &AnalysisRecord{
			ID:        id,
			Context:   "ctx",
			Status:    AnalysisRunning,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := s.ListAnalyses(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)
}

func TestSessionStoreSemantics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Absent session is nil, nil.
	got, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	rec := &SessionRecord{
		ID:         "sess-1",
		AnalysisID: "an-1",
		Status:     SessionActive,
		State:      `{"state":"THINKING"}`,
		UpdatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.PutSession(ctx, rec))

	rec.State = `{"state":"ACTING"}`
	require.NoError(t, s.PutSession(ctx, rec))

	got, err = s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, `{"state":"ACTING"}`, got.State)
	assert.Equal(t, SessionActive, got.Status)

	require.NoError(t, s.CompleteSession(ctx, "sess-1"))
	got, err = s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, got.Status)
}

func TestToolExecutions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, name := range []string{"query_metrics", "query_logs"} {
		rec := &ToolExecutionRecord{
			AnalysisID:    "an-1",
			SessionID:     "sess-1",
			ToolName:      name,
			Parameters:    `{"service":"checkout"}`,
			Result:        "ok",
			DataAvailable: true,
			Timestamp:     base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.AppendToolExecution(ctx, rec))
		assert.NotZero(t, rec.ID)
	}

	got, err := s.ListToolExecutions(ctx, "an-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Oldest first.
	assert.Equal(t, "query_metrics", got[0].ToolName)
	assert.Equal(t, "query_logs", got[1].ToolName)
	assert.True(t, got[0].DataAvailable)
}

func TestUsageTotals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, rec := range []*UsageRecord{
		{AnalysisID: "an-1", Provider: "openai", Model: "gpt-4o", PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150, RecordedAt: now},
		{AnalysisID: "an-1", Provider: "openai", Model: "gpt-4o", PromptTokens: 200, CompletionTokens: 100, TotalTokens: 300, RecordedAt: now},
		{AnalysisID: "an-2", Provider: "anthropic", Model: "claude-3-5-sonnet-20241022", TotalTokens: 75, RecordedAt: now},
	} {
		require.NoError(t, s.AppendUsage(ctx, rec))
	}

	totals, err := s.UsageTotals(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "anthropic", totals[0].Provider)
	assert.Equal(t, 75, totals[0].TotalTokens)
	assert.Equal(t, "openai", totals[1].Provider)
	assert.Equal(t, 450, totals[1].TotalTokens)
	assert.Equal(t, 2, totals[1].Requests)

	records, err := s.QueryUsage(ctx, time.Time{}, time.Time{}, 10)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestAuditEventsFiltering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	events := []*AuditRecord{
		{CorrelationID: "an-1", EventType: "analysis", Resource: "analysis", Action: "started", Result: "success", Metadata: "{}", Timestamp: now},
		{CorrelationID: "an-1", EventType: "analysis", Resource: "analysis", Action: "completed", Result: "success", Metadata: "{}", Timestamp: now.Add(time.Minute)},
		{CorrelationID: "an-2", EventType: "tool", Resource: "tool", Action: "executed", Result: "failure", Metadata: "{}", Timestamp: now},
	}
	for _, e := range events {
		require.NoError(t, s.AppendAuditEvent(ctx, e))
	}

	got, err := s.QueryAuditEvents(ctx, AuditQuery{Resource: "analysis"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Newest first.
	assert.Equal(t, "completed", got[0].Action)

	got, err = s.QueryAuditEvents(ctx, AuditQuery{Action: "executed", Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "tool", got[0].Resource)
}

func TestDeleteAnalysisCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.SaveAnalysis(ctx, &AnalysisRecord{ID: "an-1", Context: "c", Status: AnalysisRunning, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, s.PutSession(ctx, &SessionRecord{ID: "sess-1", AnalysisID: "an-1", Status: SessionActive, State: "{}", UpdatedAt: now}))
	require.NoError(t, s.AppendToolExecution(ctx, &ToolExecutionRecord{AnalysisID: "an-1", ToolName: "query_logs", Timestamp: now}))

	require.NoError(t, s.DeleteAnalysis(ctx, "an-1"))

	got, err := s.GetAnalysis(ctx, "an-1")
	require.NoError(t, err)
	assert.Nil(t, got)
	sess, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, sess)
	execs, err := s.ListToolExecutions(ctx, "an-1", 0)
	require.NoError(t, err)
	assert.Empty(t, execs)
}
