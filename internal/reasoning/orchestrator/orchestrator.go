package orchestrator

// Package orchestrator sequences one full analysis: Tree-of-Thought
// hypothesis generation, one reaction-loop verification session per
// hypothesis, evaluation of each session's evidence, and final-answer
// synthesis. Like the reaction loop it advances one bounded step per call
// over a serializable State, so an analysis survives process restarts.
//
// Responsibilities:
//   - First-pending-wins hypothesis scheduling
//   - Seeding every verification session with the primary telemetry tool
//   - Short-circuiting to the final answer on a confirmed high-confidence
//     verification
//   - Final-answer preference order: confirmed verification, then any
//     evaluated hypothesis best-effort, then a fixed fallback narrative
//   - Recommended actions via one extra LLM call, with a hard-coded
//     fallback list

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/faultline/faultline-ai/internal/llm/adapter"
	"github.com/faultline/faultline-ai/internal/llm/types"
	"github.com/faultline/faultline-ai/internal/metrics"
	"github.com/faultline/faultline-ai/internal/reasoning/evaluate"
	"github.com/faultline/faultline-ai/internal/reasoning/hypothesis"
	"github.com/faultline/faultline-ai/internal/reasoning/parse"
	"github.com/faultline/faultline-ai/internal/reasoning/prompt"
	"github.com/faultline/faultline-ai/internal/reasoning/react"
	"github.com/faultline/faultline-ai/internal/tool"
)

const defaultPrimaryTool = "query_metrics"

// fallbackActions is substituted when the recommended-actions call or its
// parse fails.
var fallbackActions = []string{
	"Review the collected telemetry observations attached to this analysis",
	"Check recent deployments and configuration changes in the affected window",
	"Escalate to the owning team with this analysis attached if the incident is ongoing",
}

// Options tunes the orchestrator.
type Options struct {
	// MaxHypotheses caps hypothesis generation. Zero means the generator
	// default.
	MaxHypotheses int
	// AgentCycles is the per-verification reaction-loop cycle budget. Zero
	// means 5.
	AgentCycles int
	// PrimaryTool overrides the telemetry tool every verification session is
	// seeded with. Zero value means query_metrics.
	PrimaryTool string
}

// Orchestrator drives analyses step by step. Safe for concurrent use across
// distinct states; a single State must only be stepped by one goroutine at a
// time.
type Orchestrator struct {
	llm         adapter.Invoker
	agent       *react.Agent
	generator   *hypothesis.Generator
	evaluator   *evaluate.Evaluator
	primaryTool string
}

// New wires an Orchestrator from the LLM invoker and tool registry.
func New(llm adapter.Invoker, tools *tool.Registry, opts Options) *Orchestrator {
	agentCycles := opts.AgentCycles
	if agentCycles <= 0 {
		agentCycles = 5
	}
	primaryTool := opts.PrimaryTool
	if primaryTool == "" {
		primaryTool = defaultPrimaryTool
	}
	return &Orchestrator{
		llm:         llm,
		agent:       react.New(llm, tools, react.Options{MaxCycles: agentCycles}),
		generator:   hypothesis.NewGenerator(llm, tools, hypothesis.Options{MaxHypotheses: opts.MaxHypotheses}),
		evaluator:   evaluate.New(llm),
		primaryTool: primaryTool,
	}
}

// Step advances the analysis by exactly one bounded step and reports whether
// a final result exists. Errors are returned only for retryable LLM
// failures, with st untouched.
func (o *Orchestrator) Step(ctx context.Context, st *State) (bool, error) {
	start := time.Now()
	defer func() {
		metrics.StepDuration.WithLabelValues("orchestrator").Observe(time.Since(start).Seconds())
	}()

	if st.Done() {
		return true, nil
	}

	var err error
	switch {
	case len(st.Hypotheses) == 0:
		err = o.generateHypotheses(ctx, st)
	case st.CurrentHypothesisIndex < 0:
		err = o.selectOrFinish(ctx, st)
	default:
		err = o.advanceVerification(ctx, st)
	}
	if err != nil {
		return false, err
	}

	st.UpdatedAt = time.Now().UTC()
	return st.Done(), nil
}

// generateHypotheses runs the Tree-of-Thought step and creates one pending
// verification per hypothesis.
func (o *Orchestrator) generateHypotheses(ctx context.Context, st *State) error {
	res, err := o.generator.Generate(ctx, st.Context)
	if err != nil {
		return err
	}

	st.Hypotheses = res.Hypotheses
	st.SearchResults = res.SearchResults
	st.Verifications = make([]VerificationState, 0, len(res.Hypotheses))
	for _, h := range res.Hypotheses {
		st.Verifications = append(st.Verifications, VerificationState{
			HypothesisID: h.ID,
			Status:       VerificationPending,
		})
	}
	return nil
}

// selectOrFinish picks the first pending hypothesis and starts its
// verification, or synthesizes the final answer when none remain.
func (o *Orchestrator) selectOrFinish(ctx context.Context, st *State) error {
	idx := st.firstPendingIndex()
	if idx < 0 {
		return o.synthesizeFinal(ctx, st)
	}

	hyp := st.hypothesisByID(st.Verifications[idx].HypothesisID)
	verificationContext := fmt.Sprintf("%s\n\nHypothesis under verification: %s", st.Context, hyp.Description)
	st.ReactSession = react.NewSeededSession(
		verificationContext,
		fmt.Sprintf("Start by checking the primary telemetry for: %s", hyp.Description),
		parse.ActionCall{Tool: o.primaryTool, Params: map[string]any{}},
	)
	st.Verifications[idx].Status = VerificationInProgress
	st.CurrentHypothesisIndex = idx
	return nil
}

// advanceVerification executes one reaction-loop step for the in-progress
// hypothesis; when the session finishes it is evaluated and, if confirmed
// with high confidence, the analysis short-circuits to the final answer.
func (o *Orchestrator) advanceVerification(ctx context.Context, st *State) error {
	idx := st.CurrentHypothesisIndex
	verification := &st.Verifications[idx]

	done, err := o.agent.Step(ctx, st.ReactSession)
	if err != nil {
		return err
	}
	if !done {
		return nil
	}

	hyp := st.hypothesisByID(verification.HypothesisID)
	result := o.evaluator.Evaluate(ctx, hyp.ID, hyp.Description, st.Context, st.ReactSession.History)

	verification.Status = VerificationCompleted
	verification.Evaluation = result
	verification.FinalAnswer = st.ReactSession.FinalAnswer
	st.ReactSession = nil
	st.CurrentHypothesisIndex = -1

	if result.Confirmed() {
		return o.synthesizeFinal(ctx, st)
	}
	return nil
}

// synthesizeFinal assembles the final result from the completed
// verifications. The narrative itself is deterministic; one extra LLM call
// produces the recommended actions, with a fixed fallback list.
func (o *Orchestrator) synthesizeFinal(ctx context.Context, st *State) error {
	answer, label, hypothesisID := o.composeAnswer(st)
	st.FinalResult = &FinalResult{
		Answer:             answer,
		Label:              label,
		HypothesisID:       hypothesisID,
		RecommendedActions: o.recommendActions(ctx, answer),
	}
	metrics.AnalysesTotal.WithLabelValues(label).Inc()
	return nil
}

// composeAnswer picks the verification the final answer is built from:
// confirmed+high first, then the first hypothesis with any evaluation, then
// the generic fallback.
func (o *Orchestrator) composeAnswer(st *State) (answer, label, hypothesisID string) {
	for i := range st.Verifications {
		v := &st.Verifications[i]
		if v.Evaluation != nil && v.Evaluation.Confirmed() {
			hyp := st.hypothesisByID(v.HypothesisID)
			return o.renderAnswer(hyp, v, "Root cause confirmed"), ResultConfirmed, v.HypothesisID
		}
	}

	for i := range st.Verifications {
		v := &st.Verifications[i]
		if v.Evaluation != nil {
			hyp := st.hypothesisByID(v.HypothesisID)
			return o.renderAnswer(hyp, v, "Best-effort conclusion (no hypothesis was confirmed)"), ResultBestEffort, v.HypothesisID
		}
	}

	return fmt.Sprintf("Analysis of %q completed without a verified root cause. "+
		"No hypothesis could be evaluated against the available telemetry; "+
		"manual investigation is required.", st.Context), ResultFallback, ""
}

func (o *Orchestrator) renderAnswer(hyp *hypothesis.Hypothesis, v *VerificationState, heading string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n\n", heading, hyp.Description)
	if v.Evaluation != nil {
		fmt.Fprintf(&b, "Verification verdict: %s (%s confidence). %s\n\n", v.Evaluation.Status, v.Evaluation.ConfidenceLevel, v.Evaluation.Reasoning)
	}
	if v.FinalAnswer != "" {
		fmt.Fprintf(&b, "Investigation narrative:\n%s", v.FinalAnswer)
	}
	return strings.TrimSpace(b.String())
}

// recommendActions asks the LLM for remediation steps. Any call or parse
// failure falls back to the fixed list.
func (o *Orchestrator) recommendActions(ctx context.Context, answer string) []string {
	completion, err := o.llm.Invoke(ctx, prompt.RecommendActions(answer), types.InvokeOptions{
		SystemPrompt: prompt.System(),
	})
	if err != nil {
		return fallbackActions
	}
	actions := parse.ParseRecommendedActions(completion.Text)
	if len(actions) == 0 {
		return fallbackActions
	}
	return actions
}
