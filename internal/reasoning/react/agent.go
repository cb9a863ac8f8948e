package react

// Package react implements the single-hypothesis reasoning loop: a
// think → act → observe → complete state machine over a persistable
// SessionState.
//
// Responsibilities:
//   - One bounded step per call: Step(state) advances exactly one state
//     machine transition and returns, so callers can checkpoint between steps
//   - Prompt construction from context, truncated history, and the tool menu
//   - Folding tool failures and unparseable model output back into the loop
//     as observations instead of errors
//   - Forced completion once the cycle budget is spent and at least one
//     evidence class has data
//   - Degraded deterministic final answers when the LLM is rate limited
//
// The agent holds no per-session state of its own; everything lives in the
// SessionState the caller passes in.

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/faultline/faultline-ai/internal/llm/adapter"
	"github.com/faultline/faultline-ai/internal/llm/types"
	"github.com/faultline/faultline-ai/internal/metrics"
	"github.com/faultline/faultline-ai/internal/reasoning/parse"
	"github.com/faultline/faultline-ai/internal/reasoning/prompt"
	"github.com/faultline/faultline-ai/internal/tool"
)

const (
	defaultMaxCycles = 10

	// History truncation: once this many cycles have completed, prompts carry
	// only the most recent historyWindow items plus an omitted-count line.
	truncateAfterCycles = 5
	historyWindow       = 3
)

// Options tunes the reaction loop.
type Options struct {
	// MaxCycles is the forced-completion cycle budget. Zero means the
	// default of 10.
	MaxCycles int
}

// Agent drives reaction-loop sessions. Safe for concurrent use across
// distinct sessions; a single SessionState must only be stepped by one
// goroutine at a time.
type Agent struct {
	llm       adapter.Invoker
	tools     *tool.Registry
	maxCycles int
}

// New creates an Agent over the given LLM invoker and tool registry.
func New(llm adapter.Invoker, tools *tool.Registry, opts Options) *Agent {
	maxCycles := opts.MaxCycles
	if maxCycles <= 0 {
		maxCycles = defaultMaxCycles
	}
	return &Agent{llm: llm, tools: tools, maxCycles: maxCycles}
}

// Step executes exactly one state machine transition on s and reports whether
// the session is done. Errors are returned only for generic (retryable) LLM
// failures, with s untouched; every other failure mode degrades into the
// session itself.
func (a *Agent) Step(ctx context.Context, s *SessionState) (bool, error) {
	start := time.Now()
	defer func() {
		metrics.StepDuration.WithLabelValues("react").Observe(time.Since(start).Seconds())
	}()

	var err error
	switch s.State {
	case StateThinking:
		err = a.think(ctx, s)
	case StateActing:
		a.act(ctx, s)
	case StateObserving:
		a.observe(s)
	case StateCompleting:
		err = a.complete(ctx, s)
	case StateCompleted:
		// Idempotent: the stored final answer stands.
		return true, nil
	default:
		return false, fmt.Errorf("react: unknown session state %q", s.State)
	}
	if err != nil {
		return false, err
	}

	s.UpdatedAt = time.Now().UTC()
	return s.State == StateCompleted, nil
}

// think invokes the LLM with the current context and decides the next
// transition: ACTING on a parsed action, COMPLETING on a final-answer marker
// or forced completion, or stay in THINKING when nothing parses.
func (a *Agent) think(ctx context.Context, s *SessionState) error {
	completion, err := a.llm.Invoke(ctx, a.thinkingPrompt(s), types.InvokeOptions{
		SystemPrompt: prompt.System(),
	})
	if err != nil {
		if types.IsRateLimited(err) {
			a.beginCompleting(s, "LLM rate limited; synthesizing from the evidence collected so far")
			return nil
		}
		return fmt.Errorf("react: thinking invocation: %w", err)
	}

	parsed := parse.ParseThinking(completion.Text)

	if parsed.Kind == parse.KindFinalAnswer || a.forcedCompletion(s) {
		a.beginCompleting(s, parsed.Thought)
		return nil
	}

	if parsed.Kind == parse.KindUnparseable {
		// Re-prompt on the next step; this does not count as a cycle.
		s.History = append(s.History, HistoryItem{
			Thinking:    parsed.Thought,
			Observation: "no action extracted from model response",
			Timestamp:   time.Now().UTC(),
			Synthetic:   true,
		})
		return nil
	}

	s.LastThinking = parsed.Thought
	s.LastAction = parsed.Action
	s.State = StateActing
	return nil
}

// act dispatches the pending action to the registry. All execution failures,
// including unknown tools the model hallucinated, become observation text.
func (a *Agent) act(ctx context.Context, s *SessionState) {
	call := s.LastAction
	observation, err := a.tools.Execute(ctx, call.Tool, call.Params)
	available := false
	if err != nil {
		observation = fmt.Sprintf("tool %s failed: %v", call.Tool, err)
	} else {
		available = dataAvailable(call.Tool, observation)
	}

	s.ToolExecutions = append(s.ToolExecutions, ToolExecutionRecord{
		ToolName:      call.Tool,
		Parameters:    call.Params,
		Result:        observation,
		Timestamp:     time.Now().UTC(),
		DataAvailable: available,
	})
	if available {
		for _, class := range classesForTool(call.Tool) {
			s.DataCollection[class] = true
		}
	}

	s.LastObservation = observation
	s.State = StateObserving
}

// observe folds the completed cycle into history and returns to THINKING.
func (a *Agent) observe(s *SessionState) {
	s.History = append(s.History, HistoryItem{
		Thinking:    s.LastThinking,
		Action:      renderAction(s.LastAction),
		Observation: s.LastObservation,
		Timestamp:   time.Now().UTC(),
	})
	s.CycleCount++
	metrics.ReactCyclesTotal.Inc()

	s.LastThinking = ""
	s.LastAction = nil
	s.LastObservation = ""
	s.State = StateThinking
}

// complete synthesizes the final narrative. Rate limiting degrades to a
// deterministic answer built from the evidence bookkeeping; the session
// reaches COMPLETED either way.
func (a *Agent) complete(ctx context.Context, s *SessionState) error {
	completion, err := a.llm.Invoke(ctx, prompt.FinalAnswer(s.Context, historyEntries(s.History)), types.InvokeOptions{
		SystemPrompt: prompt.System(),
	})
	if err != nil {
		if types.IsRateLimited(err) {
			s.FinalAnswer = a.degradedAnswer(s)
			s.State = StateCompleted
			return nil
		}
		return fmt.Errorf("react: completion invocation: %w", err)
	}

	answer := strings.TrimSpace(completion.Text)
	if parsed := parse.ParseThinking(completion.Text); parsed.Kind == parse.KindFinalAnswer {
		answer = parsed.FinalAnswer
	}
	if answer == "" {
		answer = a.degradedAnswer(s)
	}

	s.FinalAnswer = answer
	s.State = StateCompleted
	return nil
}

// beginCompleting records the synthetic final_answer marker and moves the
// session to COMPLETING. Synthetic entries never count toward CycleCount.
func (a *Agent) beginCompleting(s *SessionState, thought string) {
	s.History = append(s.History, HistoryItem{
		Thinking:  thought,
		Action:    "final_answer",
		Timestamp: time.Now().UTC(),
		Synthetic: true,
	})
	s.MissingData = s.missingClasses()
	s.LastThinking = ""
	s.LastAction = nil
	s.LastObservation = ""
	s.State = StateCompleting
}

// forcedCompletion holds once the cycle budget is spent and at least one
// evidence class has data. With no evidence at all the loop keeps going;
// stopping it is the caller's wall-clock decision.
func (a *Agent) forcedCompletion(s *SessionState) bool {
	if s.CycleCount < a.maxCycles {
		return false
	}
	for _, collected := range s.DataCollection {
		if collected {
			return true
		}
	}
	return false
}

func (a *Agent) thinkingPrompt(s *SessionState) string {
	history := s.History
	omitted := 0
	if s.CycleCount >= truncateAfterCycles && len(history) > historyWindow {
		omitted = len(history) - historyWindow
		history = history[len(history)-historyWindow:]
	}
	return prompt.Thinking(prompt.ThinkingInput{
		Context:    s.Context,
		History:    historyEntries(history),
		Omitted:    omitted,
		Tools:      a.tools.Describe(),
		CycleCount: s.CycleCount,
	})
}

func historyEntries(items []HistoryItem) []prompt.HistoryEntry {
	out := make([]prompt.HistoryEntry, 0, len(items))
	for _, h := range items {
		out = append(out, prompt.HistoryEntry{
			Thought:     h.Thinking,
			Action:      h.Action,
			Observation: h.Observation,
		})
	}
	return out
}

// renderAction renders an action call into the history's text form.
func renderAction(call *parse.ActionCall) string {
	if call == nil {
		return ""
	}
	if len(call.Params) == 0 {
		return call.Tool
	}
	raw, err := json.Marshal(call.Params)
	if err != nil {
		return call.Tool
	}
	return fmt.Sprintf("%s(%s)", call.Tool, raw)
}

// degradedAnswer is the deterministic fallback narrative used when the final
// synthesis call is rate limited.
func (a *Agent) degradedAnswer(s *SessionState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Investigation completed after %d cycles, but the final synthesis was rate limited by the LLM provider.\n\n", s.CycleCount)
	fmt.Fprintf(&b, "Incident: %s\n\n", s.Context)
	if collected := s.CollectedClasses(); len(collected) > 0 {
		fmt.Fprintf(&b, "Evidence collected: %s.\n", strings.Join(collected, ", "))
	} else {
		b.WriteString("No telemetry evidence was collected.\n")
	}
	if missing := s.missingClasses(); len(missing) > 0 {
		fmt.Fprintf(&b, "Evidence not collected: %s.\n", strings.Join(missing, ", "))
	}
	b.WriteString("\nReview the recorded tool observations for the raw evidence and retry the analysis once provider capacity recovers.")
	return b.String()
}
