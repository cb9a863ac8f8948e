package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseThinking_Action(t *testing.T) {
	raw := `Thought: The error rate spike correlates with the deploy window, so I should check recent changes.
Action: query_changes
Action Input: {"service": "checkout", "window": "1h"}`

	got := ParseThinking(raw)
	require.Equal(t, KindAction, got.Kind)
	assert.Contains(t, got.Thought, "deploy window")
	require.NotNil(t, got.Action)
	assert.Equal(t, "query_changes", got.Action.Tool)
	assert.Equal(t, "checkout", got.Action.Params["service"])
	assert.Equal(t, "1h", got.Action.Params["window"])
}

func TestParseThinking_ActionWithoutInput(t *testing.T) {
	got := ParseThinking("Thought: need an overview\nAction: telemetry_snapshot")
	require.Equal(t, KindAction, got.Kind)
	assert.Equal(t, "telemetry_snapshot", got.Action.Tool)
	assert.Empty(t, got.Action.Params)
}

func TestParseThinking_FinalAnswer(t *testing.T) {
	raw := `Thought: Evidence is conclusive.
Final Answer: The checkout errors were caused by the 14:02 config push that removed the DB connection pool cap.`

	got := ParseThinking(raw)
	require.Equal(t, KindFinalAnswer, got.Kind)
	assert.Contains(t, got.FinalAnswer, "config push")
	assert.Nil(t, got.Action)
}

func TestParseThinking_FinalAnswerWinsOverAction(t *testing.T) {
	raw := "Action: query_logs\nFinal Answer: done"
	got := ParseThinking(raw)
	assert.Equal(t, KindFinalAnswer, got.Kind)
}

func TestParseThinking_Unparseable(t *testing.T) {
	for _, raw := range []string{
		"",
		"I am not sure what to do next.",
		"Thought: hmm, let me think some more",
		// Malformed Action Input must not dispatch a tool
		"Action: query_logs\nAction Input: {broken json",
	} {
		got := ParseThinking(raw)
		assert.Equal(t, KindUnparseable, got.Kind, "raw=%q", raw)
		assert.Nil(t, got.Action)
	}
}

func TestParseConfidence(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"0.8", 0.8, true},
		{"85%", 85, true},
		{" 85 ", 85, true},
		{"high", 0.9, true},
		{"Medium", 0.6, true},
		{"low", 0.3, true},
		{"very sure", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseConfidence(tt.in)
		assert.Equal(t, tt.ok, ok, "in=%q", tt.in)
		if ok {
			assert.InDelta(t, tt.want, got, 1e-9, "in=%q", tt.in)
		}
	}
}

func TestParseHypotheses(t *testing.T) {
	raw := `Here are my hypotheses:

Hypothesis 1:
Description: Connection pool exhaustion after the 14:02 deploy
Confidence: 0.85
Reasoning: Error rate spike aligns with the deploy timestamp
Source: knowledge_base

Hypothesis 2:
Description: Upstream payment provider latency
Confidence: 60
Reasoning: p99 latency doubled in the same window

Hypothesis 3:
Confidence: 0.5
Reasoning: no description, should be dropped
`

	got := ParseHypotheses(raw, 5)
	require.Len(t, got, 2)
	assert.Equal(t, "Connection pool exhaustion after the 14:02 deploy", got[0].Description)
	assert.InDelta(t, 0.85, got[0].Confidence, 1e-9)
	assert.Equal(t, "knowledge_base", got[0].Source)
	assert.InDelta(t, 60, got[1].Confidence, 1e-9)
	assert.Empty(t, got[1].Source)
}

func TestParseHypotheses_RespectsMax(t *testing.T) {
	raw := `Hypothesis:
Description: one
Hypothesis:
Description: two
Hypothesis:
Description: three
`
	got := ParseHypotheses(raw, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Description)
	assert.Equal(t, "two", got[1].Description)
}

func TestParseHypotheses_NoBlocks(t *testing.T) {
	assert.Nil(t, ParseHypotheses("I could not come up with anything.", 3))
}

func TestParseEvaluation(t *testing.T) {
	raw := `Status: confirmed
Confidence: high
Reasoning: The change audit shows the pool cap removal landed two minutes before the spike.`

	got, ok := ParseEvaluation(raw)
	require.True(t, ok)
	assert.Equal(t, "confirmed", got.Status)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
	assert.Contains(t, got.Reasoning, "pool cap")
}

func TestParseEvaluation_UnknownStatus(t *testing.T) {
	_, ok := ParseEvaluation("Status: maybe\nConfidence: 0.4")
	assert.False(t, ok)
}

func TestParseRecommendedActions(t *testing.T) {
	raw := `Summary text.

Recommended Actions:
- Roll back the 14:02 config push
- Restore the connection pool cap
* Add an alert on pool saturation
`
	got := ParseRecommendedActions(raw)
	require.Len(t, got, 3)
	assert.Equal(t, "Roll back the 14:02 config push", got[0])
	assert.Equal(t, "Add an alert on pool saturation", got[2])

	assert.Nil(t, ParseRecommendedActions("no header here"))
}
