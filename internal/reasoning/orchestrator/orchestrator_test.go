package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline/faultline-ai/internal/llm/types"
	"github.com/faultline/faultline-ai/internal/reasoning/hypothesis"
	"github.com/faultline/faultline-ai/internal/tool"
)

// routerLLM answers by prompt kind, so it stays correct regardless of how
// many steps the orchestrator takes to drive each verification session.
type routerLLM struct {
	hypothesesReply string
	// evalReplies maps a hypothesis-description substring to the evaluator
	// verdict returned for it.
	evalReplies map[string]string
	actionsErr  error
	actionsText string

	evaluated []string
}

func (r *routerLLM) Invoke(_ context.Context, prompt string, _ types.InvokeOptions) (*types.Completion, error) {
	switch {
	case strings.Contains(prompt, "Propose up to"):
		return &types.Completion{Text: r.hypothesesReply}, nil

	case strings.Contains(prompt, "Hypothesis Under Verification"):
		for needle, reply := range r.evalReplies {
			if strings.Contains(prompt, needle) {
				r.evaluated = append(r.evaluated, needle)
				return &types.Completion{Text: reply}, nil
			}
		}
		return nil, errors.New("routerLLM: unexpected evaluation prompt")

	case strings.Contains(prompt, "## Root-Cause Narrative"):
		if r.actionsErr != nil {
			return nil, r.actionsErr
		}
		text := r.actionsText
		if text == "" {
			text = "Recommended Actions:\n- Roll back the 14:02 deploy\n- Restore the pool cap"
		}
		return &types.Completion{Text: text}, nil

	case strings.Contains(prompt, "## Full Investigation"):
		return &types.Completion{Text: "Evidence points at the deploy window."}, nil

	case strings.Contains(prompt, "## Investigation So Far"):
		return &types.Completion{Text: "Thought: enough evidence\nFinal Answer: the deploy did it"}, nil
	}
	return nil, errors.New("routerLLM: unrecognized prompt")
}

func (r *routerLLM) Provider() string { return "stub" }
func (r *routerLLM) Model() string    { return "stub" }

func telemetryRegistry() *tool.Registry {
	r := tool.NewRegistry()
	r.Register(tool.Descriptor{Name: "query_metrics", Description: "query service metrics"},
		func(_ context.Context, _ map[string]any) (string, error) {
			return "error rate 4.2% (baseline 0.1%)", nil
		})
	r.Register(tool.Descriptor{Name: "search_runbooks", Description: "search prior incidents"},
		func(_ context.Context, _ map[string]any) (string, error) {
			return "runbook: pool exhaustion after deploys", nil
		})
	return r
}

const threeHypotheses = `Hypothesis 1:
Description: alpha cache stampede
Confidence: 0.9

Hypothesis 2:
Description: bravo pool exhaustion
Confidence: 0.8

Hypothesis 3:
Description: charlie disk pressure
Confidence: 0.7
`

func drive(t *testing.T, o *Orchestrator, st *State) {
	t.Helper()
	for i := 0; i < 200; i++ {
		done, err := o.Step(context.Background(), st)
		require.NoError(t, err)
		if done {
			return
		}
	}
	t.Fatal("analysis did not finish within the step budget")
}

func TestOrchestrator_ShortCircuitsOnConfirmedHypothesis(t *testing.T) {
	llm := &routerLLM{
		hypothesesReply: threeHypotheses,
		evalReplies: map[string]string{
			"alpha":   "Status: rejected\nConfidence: high\nReasoning: metrics contradict",
			"bravo":   "Status: confirmed\nConfidence: high\nReasoning: metrics match the deploy window",
			"charlie": "Status: confirmed\nConfidence: high\nReasoning: should never be evaluated",
		},
	}
	o := New(llm, telemetryRegistry(), Options{})
	st := NewState("checkout errors spiking")

	drive(t, o, st)

	require.NotNil(t, st.FinalResult)
	assert.Equal(t, ResultConfirmed, st.FinalResult.Label)
	assert.Equal(t, st.Hypotheses[1].ID, st.FinalResult.HypothesisID)
	assert.Contains(t, st.FinalResult.Answer, "bravo pool exhaustion")
	assert.Contains(t, st.FinalResult.Answer, "metrics match the deploy window")

	// The third hypothesis is never verified after the short-circuit.
	assert.NotContains(t, llm.evaluated, "charlie")
	assert.Equal(t, VerificationPending, st.Verifications[2].Status)
	assert.Equal(t, VerificationCompleted, st.Verifications[0].Status)
	assert.Equal(t, VerificationCompleted, st.Verifications[1].Status)

	assert.Equal(t, []string{"Roll back the 14:02 deploy", "Restore the pool cap"}, st.FinalResult.RecommendedActions)
	assert.Nil(t, st.ReactSession)
}

func TestOrchestrator_BestEffortWhenNothingConfirmed(t *testing.T) {
	llm := &routerLLM{
		hypothesesReply: threeHypotheses,
		evalReplies: map[string]string{
			"alpha":   "Status: inconclusive\nConfidence: low\nReasoning: not enough evidence",
			"bravo":   "Status: rejected\nConfidence: medium\nReasoning: contradicted",
			"charlie": "Status: inconclusive\nConfidence: low\nReasoning: not enough evidence",
		},
	}
	o := New(llm, telemetryRegistry(), Options{})
	st := NewState("checkout errors spiking")

	drive(t, o, st)

	require.NotNil(t, st.FinalResult)
	assert.Equal(t, ResultBestEffort, st.FinalResult.Label)
	// First evaluated hypothesis wins the best-effort pick.
	assert.Equal(t, st.Hypotheses[0].ID, st.FinalResult.HypothesisID)
	assert.Contains(t, st.FinalResult.Answer, "no hypothesis was confirmed")

	// Every hypothesis was verified before giving up.
	for _, v := range st.Verifications {
		assert.Equal(t, VerificationCompleted, v.Status)
	}
}

func TestOrchestrator_RecommendedActionsFallback(t *testing.T) {
	llm := &routerLLM{
		hypothesesReply: threeHypotheses,
		evalReplies: map[string]string{
			"alpha":   "Status: confirmed\nConfidence: high\nReasoning: matches",
			"bravo":   "Status: confirmed\nConfidence: high\nReasoning: unused",
			"charlie": "Status: confirmed\nConfidence: high\nReasoning: unused",
		},
		actionsErr: types.NewRateLimitedError("stub", errors.New("429")),
	}
	o := New(llm, telemetryRegistry(), Options{})
	st := NewState("checkout errors spiking")

	drive(t, o, st)

	require.NotNil(t, st.FinalResult)
	assert.Equal(t, fallbackActions, st.FinalResult.RecommendedActions)
}

func TestOrchestrator_ResumeRoundTrip(t *testing.T) {
	newLLM := func() *routerLLM {
		return &routerLLM{
			hypothesesReply: threeHypotheses,
			evalReplies: map[string]string{
				"alpha":   "Status: rejected\nConfidence: high\nReasoning: contradicted",
				"bravo":   "Status: confirmed\nConfidence: high\nReasoning: matches",
				"charlie": "Status: confirmed\nConfidence: high\nReasoning: unused",
			},
		}
	}

	run := func(roundTrip bool) *State {
		o := New(newLLM(), telemetryRegistry(), Options{})
		st := NewState("checkout errors spiking")
		for !st.Done() {
			if roundTrip {
				blob, err := json.Marshal(st)
				require.NoError(t, err)
				restored := &State{}
				require.NoError(t, json.Unmarshal(blob, restored))
				st = restored
			}
			_, err := o.Step(context.Background(), st)
			require.NoError(t, err)
		}
		return st
	}

	direct := run(false)
	resumed := run(true)

	assert.Equal(t, direct.FinalResult.Label, resumed.FinalResult.Label)
	assert.Equal(t, direct.FinalResult.Answer, resumed.FinalResult.Answer)
	require.Equal(t, len(direct.Verifications), len(resumed.Verifications))
	for i := range direct.Verifications {
		assert.Equal(t, direct.Verifications[i].Status, resumed.Verifications[i].Status)
	}
}

func TestOrchestrator_DoneIsIdempotent(t *testing.T) {
	o := New(&routerLLM{}, telemetryRegistry(), Options{})
	st := NewState("checkout errors spiking")
	st.FinalResult = &FinalResult{Answer: "done", Label: ResultFallback}

	done, err := o.Step(context.Background(), st)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "done", st.FinalResult.Answer)
}

func TestComposeAnswer_FallbackWithoutEvaluations(t *testing.T) {
	o := New(&routerLLM{}, telemetryRegistry(), Options{})
	st := NewState("checkout errors spiking")
	st.Hypotheses = []hypothesis.Hypothesis{{ID: "h1", Description: "alpha"}}
	st.Verifications = []VerificationState{{HypothesisID: "h1", Status: VerificationPending}}

	answer, label, id := o.composeAnswer(st)
	assert.Equal(t, ResultFallback, label)
	assert.Empty(t, id)
	assert.Contains(t, answer, "manual investigation")
}

func TestVerificationStateEvaluationWriteOnce(t *testing.T) {
	// Completed verifications keep their first evaluation; re-stepping a
	// finished analysis must not touch them.
	llm := &routerLLM{
		hypothesesReply: threeHypotheses,
		evalReplies: map[string]string{
			"alpha":   "Status: confirmed\nConfidence: high\nReasoning: matches",
			"bravo":   "Status: confirmed\nConfidence: high\nReasoning: unused",
			"charlie": "Status: confirmed\nConfidence: high\nReasoning: unused",
		},
	}
	o := New(llm, telemetryRegistry(), Options{})
	st := NewState("checkout errors spiking")
	drive(t, o, st)

	first := *st.Verifications[0].Evaluation
	for i := 0; i < 3; i++ {
		_, err := o.Step(context.Background(), st)
		require.NoError(t, err)
	}
	assert.Equal(t, first, *st.Verifications[0].Evaluation)
}
