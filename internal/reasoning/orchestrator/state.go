package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"github.com/faultline/faultline-ai/internal/reasoning/evaluate"
	"github.com/faultline/faultline-ai/internal/reasoning/hypothesis"
	"github.com/faultline/faultline-ai/internal/reasoning/react"
)

// VerificationStatus tracks one hypothesis through its verification.
type VerificationStatus string

const (
	VerificationPending    VerificationStatus = "pending"
	VerificationInProgress VerificationStatus = "in_progress"
	VerificationCompleted  VerificationStatus = "completed"
)

// VerificationState is the per-hypothesis verification record. Exactly one
// exists per hypothesis, created when the hypotheses are generated. The
// Evaluation field is write-once: re-evaluation is not defined.
type VerificationState struct {
	HypothesisID string             `json:"hypothesis_id"`
	Status       VerificationStatus `json:"status"`
	Evaluation   *evaluate.Result   `json:"evaluation,omitempty"`

	// FinalAnswer is the verification session's synthesized narrative, kept
	// after the session itself is discarded.
	FinalAnswer string `json:"final_answer,omitempty"`
}

// Result labels for FinalResult.
const (
	ResultConfirmed  = "confirmed"
	ResultBestEffort = "best_effort"
	ResultFallback   = "fallback"
)

// FinalResult is the terminal output of one analysis.
type FinalResult struct {
	Answer             string   `json:"answer"`
	Label              string   `json:"label"`
	HypothesisID       string   `json:"hypothesis_id,omitempty"`
	RecommendedActions []string `json:"recommended_actions"`
}

// State is the full checkpoint of one orchestrated analysis. Like the
// reaction-loop SessionState it is a plain serializable struct, exclusively
// owned by one in-flight step.
//
// Invariants:
//   - one VerificationState per hypothesis
//   - CurrentHypothesisIndex is -1 until a hypothesis is selected, then
//     indexes a pending or in_progress entry
type State struct {
	ID                     string                  `json:"id"`
	Context                string                  `json:"context"`
	Hypotheses             []hypothesis.Hypothesis `json:"hypotheses,omitempty"`
	SearchResults          string                  `json:"search_results,omitempty"`
	CurrentHypothesisIndex int                     `json:"current_hypothesis_index"`
	Verifications          []VerificationState     `json:"verification_states,omitempty"`
	ReactSession           *react.SessionState     `json:"react_session,omitempty"`
	FinalResult            *FinalResult            `json:"final_result,omitempty"`
	CreatedAt              time.Time               `json:"created_at"`
	UpdatedAt              time.Time               `json:"updated_at"`
}

// NewState creates a fresh analysis state for the given incident context.
func NewState(context string) *State {
	now := time.Now().UTC()
	return &State{
		ID:                     uuid.NewString(),
		Context:                context,
		CurrentHypothesisIndex: -1,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// Done reports whether the analysis has produced its final result.
func (s *State) Done() bool { return s.FinalResult != nil }

// hypothesisByID returns the hypothesis with the given id, nil when absent.
func (s *State) hypothesisByID(id string) *hypothesis.Hypothesis {
	for i := range s.Hypotheses {
		if s.Hypotheses[i].ID == id {
			return &s.Hypotheses[i]
		}
	}
	return nil
}

// firstPendingIndex returns the array-scan-first pending verification, -1
// when none remain. Scan order doubles as hypothesis priority.
func (s *State) firstPendingIndex() int {
	for i := range s.Verifications {
		if s.Verifications[i].Status == VerificationPending {
			return i
		}
	}
	return -1
}
