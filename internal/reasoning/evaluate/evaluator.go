package evaluate

// Package evaluate scores one hypothesis against the evidence its
// verification session collected. The evaluator never fails past its own
// boundary: every LLM or parse failure degrades to an inconclusive verdict
// with a reasoning string naming the failure.

import (
	"context"
	"fmt"

	"github.com/faultline/faultline-ai/internal/llm/adapter"
	"github.com/faultline/faultline-ai/internal/llm/types"
	"github.com/faultline/faultline-ai/internal/metrics"
	"github.com/faultline/faultline-ai/internal/reasoning/parse"
	"github.com/faultline/faultline-ai/internal/reasoning/prompt"
	"github.com/faultline/faultline-ai/internal/reasoning/react"
)

// Verification statuses.
const (
	StatusConfirmed    = "confirmed"
	StatusRejected     = "rejected"
	StatusInconclusive = "inconclusive"
)

// Result is the verdict for one hypothesis, produced at most once.
type Result struct {
	HypothesisID    string  `json:"hypothesis_id"`
	Status          string  `json:"status"`
	Confidence      float64 `json:"confidence"`
	ConfidenceLevel string  `json:"confidence_level"`
	Reasoning       string  `json:"reasoning"`
}

// Confirmed reports whether the verdict confirms the hypothesis with high
// confidence, the orchestrator's short-circuit condition.
func (r *Result) Confirmed() bool {
	return r.Status == StatusConfirmed && r.ConfidenceLevel == "high"
}

// Evaluator scores hypotheses with one LLM call each.
type Evaluator struct {
	llm adapter.Invoker
}

// New creates an Evaluator over the given LLM invoker.
func New(llm adapter.Invoker) *Evaluator {
	return &Evaluator{llm: llm}
}

// Evaluate judges a hypothesis against the history a verification session
// collected. It never returns an error: failures degrade to an inconclusive
// low-confidence result naming the failure.
func (e *Evaluator) Evaluate(ctx context.Context, hypothesisID, description, incidentContext string, history []react.HistoryItem) *Result {
	entries := make([]prompt.HistoryEntry, 0, len(history))
	for _, h := range history {
		if h.Synthetic {
			continue
		}
		entries = append(entries, prompt.HistoryEntry{
			Thought:     h.Thinking,
			Action:      h.Action,
			Observation: h.Observation,
		})
	}

	completion, err := e.llm.Invoke(ctx, prompt.Evaluation(description, incidentContext, entries), types.InvokeOptions{
		SystemPrompt: prompt.System(),
	})
	if err != nil {
		return e.inconclusive(hypothesisID, fmt.Sprintf("evaluation failed: %v", err))
	}

	block, ok := parse.ParseEvaluation(completion.Text)
	if !ok {
		return e.inconclusive(hypothesisID, "evaluation failed: model response contained no recognizable verdict")
	}

	confidence := block.Confidence
	if !block.ConfidenceSet {
		confidence = 0.5
	}
	if confidence > 1 {
		confidence /= 100
	}

	result := &Result{
		HypothesisID:    hypothesisID,
		Status:          block.Status,
		Confidence:      confidence,
		ConfidenceLevel: confidenceLevel(confidence),
		Reasoning:       block.Reasoning,
	}
	metrics.EvaluationsTotal.WithLabelValues(result.Status).Inc()
	return result
}

func (e *Evaluator) inconclusive(hypothesisID, reasoning string) *Result {
	metrics.EvaluationsTotal.WithLabelValues(StatusInconclusive).Inc()
	return &Result{
		HypothesisID:    hypothesisID,
		Status:          StatusInconclusive,
		Confidence:      0.2,
		ConfidenceLevel: "low",
		Reasoning:       reasoning,
	}
}

func confidenceLevel(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "high"
	case confidence >= 0.5:
		return "medium"
	default:
		return "low"
	}
}
