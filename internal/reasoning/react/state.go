package react

import (
	"time"

	"github.com/google/uuid"

	"github.com/faultline/faultline-ai/internal/reasoning/parse"
)

// ReactionState is the reaction-loop state machine position.
type ReactionState string

const (
	StateThinking   ReactionState = "THINKING"
	StateActing     ReactionState = "ACTING"
	StateObserving  ReactionState = "OBSERVING"
	StateCompleting ReactionState = "COMPLETING"
	StateCompleted  ReactionState = "COMPLETED"
)

// HistoryItem is one completed reasoning cycle. Synthetic entries (the
// final_answer marker, unparseable-output re-prompts) are recorded for
// auditability but do not count toward CycleCount.
type HistoryItem struct {
	Thinking    string    `json:"thinking"`
	Action      string    `json:"action"`
	Observation string    `json:"observation"`
	Timestamp   time.Time `json:"timestamp"`
	Synthetic   bool      `json:"synthetic,omitempty"`
}

// ToolExecutionRecord is kept alongside history for auditability and for the
// evidence-class bookkeeping behind forced completion.
type ToolExecutionRecord struct {
	ToolName      string         `json:"tool_name"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Result        string         `json:"result"`
	Timestamp     time.Time      `json:"timestamp"`
	DataAvailable bool           `json:"data_available"`
}

// SessionState is the full checkpoint of one reaction-loop session. It is a
// plain serializable struct: callers persist it between steps and hand it
// back, and a resumed session behaves identically to one that never paused.
//
// Invariants:
//   - LastThinking/LastAction/LastObservation are populated only while
//     State is ACTING or OBSERVING, and are cleared on the transition back
//     to THINKING
//   - CycleCount increments exactly once per completed
//     THINKING→ACTING→OBSERVING cycle
//
// A SessionState is exclusively owned by one in-flight step; callers must
// guarantee at most one concurrent step per session.
type SessionState struct {
	ID              string                `json:"id"`
	Context         string                `json:"context"`
	History         []HistoryItem         `json:"history"`
	FinalAnswer     string                `json:"final_answer,omitempty"`
	State           ReactionState         `json:"state"`
	CycleCount      int                   `json:"cycle_count"`
	DataCollection  map[string]bool       `json:"data_collection_status"`
	LastThinking    string                `json:"last_thinking,omitempty"`
	LastAction      *parse.ActionCall     `json:"last_action,omitempty"`
	LastObservation string                `json:"last_observation,omitempty"`
	MissingData     []string              `json:"missing_data,omitempty"`
	ToolExecutions  []ToolExecutionRecord `json:"tool_executions,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// NewSession creates a fresh session in THINKING for the given incident
// context.
func NewSession(context string) *SessionState {
	now := time.Now().UTC()
	return &SessionState{
		ID:             uuid.NewString(),
		Context:        context,
		State:          StateThinking,
		DataCollection: newDataCollection(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewSeededSession creates a session already in ACTING with a pre-selected
// first action. The orchestrator uses this to force every hypothesis
// verification to start from the primary telemetry tool.
func NewSeededSession(context, thought string, action parse.ActionCall) *SessionState {
	s := NewSession(context)
	s.State = StateActing
	s.LastThinking = thought
	s.LastAction = &action
	return s
}

func newDataCollection() map[string]bool {
	m := make(map[string]bool, len(evidenceClasses))
	for _, c := range evidenceClasses {
		m[c] = false
	}
	return m
}

// Done reports whether the session has reached its terminal state.
func (s *SessionState) Done() bool { return s.State == StateCompleted }

// CollectedClasses returns the evidence classes with data, sorted by the
// canonical class order.
func (s *SessionState) CollectedClasses() []string {
	var out []string
	for _, c := range evidenceClasses {
		if s.DataCollection[c] {
			out = append(out, c)
		}
	}
	return out
}

// missingClasses returns the evidence classes still without data.
func (s *SessionState) missingClasses() []string {
	var out []string
	for _, c := range evidenceClasses {
		if !s.DataCollection[c] {
			out = append(out, c)
		}
	}
	return out
}
