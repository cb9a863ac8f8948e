package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/faultline/faultline-ai/internal/audit"
	"github.com/faultline/faultline-ai/internal/db"
	"github.com/faultline/faultline-ai/internal/llm/types"
	"github.com/faultline/faultline-ai/internal/llm/usage"
	"github.com/faultline/faultline-ai/internal/metrics"
	"github.com/faultline/faultline-ai/internal/reasoning/orchestrator"
	"github.com/faultline/faultline-ai/internal/reasoning/react"
)

// Runner step errors.
var (
	ErrAnalysisNotFound  = errors.New("analysis not found")
	ErrStepInFlight      = errors.New("a step for this analysis is already in flight")
	ErrAnalysisCancelled = errors.New("analysis is cancelled")
)

// maxStepRetries bounds background-run retries on transient LLM failures.
const maxStepRetries = 5

// Analysis phases reported in step events.
const (
	PhaseGenerating = "generating_hypotheses"
	PhaseSelecting  = "selecting_hypothesis"
	PhaseVerifying  = "verifying"
	PhaseCompleted  = "completed"
	PhaseCancelled  = "cancelled"
)

// StepEvent describes one completed analysis step, broadcast to WebSocket
// subscribers.
type StepEvent struct {
	AnalysisID   string    `json:"analysis_id"`
	Phase        string    `json:"phase"`
	CycleCount   int       `json:"cycle_count,omitempty"`
	HypothesisID string    `json:"hypothesis_id,omitempty"`
	Done         bool      `json:"done"`
	Label        string    `json:"label,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// StepResult is the outcome of one driven step.
type StepResult struct {
	Record *db.AnalysisRecord
	State  *orchestrator.State
	Done   bool
}

// Runner drives analyses one orchestrator step at a time, persisting the
// checkpoint around every step so analyses survive restarts. Each analysis is
// single-flight: concurrent Step calls for the same id fail fast with
// ErrStepInFlight instead of queueing.
type Runner struct {
	orch     *orchestrator.Orchestrator
	store    db.Store
	audit    audit.Logger
	hub      *Hub
	provider string

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewRunner creates a Runner. provider names the LLM provider for rate-limit
// audit events.
func NewRunner(orch *orchestrator.Orchestrator, store db.Store, aud audit.Logger, hub *Hub, provider string) *Runner {
	return &Runner{
		orch:     orch,
		store:    store,
		audit:    aud,
		hub:      hub,
		provider: provider,
		inFlight: make(map[string]bool),
	}
}

// StartAnalysis creates and persists a fresh analysis for the incident.
func (r *Runner) StartAnalysis(ctx context.Context, incidentContext string) (*db.AnalysisRecord, error) {
	st := orchestrator.NewState(incidentContext)
	blob, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal analysis state: %w", err)
	}

	rec := &db.AnalysisRecord{
		ID:        st.ID,
		Context:   incidentContext,
		Status:    db.AnalysisRunning,
		State:     string(blob),
		CreatedAt: st.CreatedAt,
		UpdatedAt: st.UpdatedAt,
	}
	if err := r.store.SaveAnalysis(ctx, rec); err != nil {
		return nil, fmt.Errorf("save analysis: %w", err)
	}

	_ = r.audit.LogAnalysisStarted(ctx, st.ID, incidentContext)
	return rec, nil
}

// Step advances one analysis by exactly one orchestrator step.
func (r *Runner) Step(ctx context.Context, id string) (*StepResult, error) {
	if !r.tryLock(id) {
		return nil, ErrStepInFlight
	}
	defer r.unlock(id)

	rec, err := r.store.GetAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrAnalysisNotFound
	}
	if rec.Status == db.AnalysisCancelled {
		return nil, ErrAnalysisCancelled
	}

	st := &orchestrator.State{}
	if err := json.Unmarshal([]byte(rec.State), st); err != nil {
		return nil, fmt.Errorf("unmarshal analysis state: %w", err)
	}
	if rec.Status == db.AnalysisCompleted {
		return &StepResult{Record: rec, State: st, Done: true}, nil
	}

	// Snapshot what this step may change so audit and persistence can diff.
	hadHypotheses := len(st.Hypotheses) > 0
	prevSession := st.ReactSession
	prevExecCount := 0
	if prevSession != nil {
		prevExecCount = len(prevSession.ToolExecutions)
	}
	completedBefore := make(map[string]bool, len(st.Verifications))
	for _, v := range st.Verifications {
		if v.Status == orchestrator.VerificationCompleted {
			completedBefore[v.HypothesisID] = true
		}
	}

	ctx = usage.WithAnalysisID(ctx, id)
	done, err := r.orch.Step(ctx, st)
	if err != nil {
		return nil, err
	}

	if err := r.persist(ctx, rec, st, done, prevSession, prevExecCount); err != nil {
		return nil, err
	}

	if !hadHypotheses && len(st.Hypotheses) > 0 {
		_ = r.audit.LogHypothesesGenerated(ctx, id, len(st.Hypotheses))
	}
	for _, v := range st.Verifications {
		if v.Status == orchestrator.VerificationCompleted && !completedBefore[v.HypothesisID] && v.Evaluation != nil {
			_ = r.audit.LogHypothesisEvaluated(ctx, id, v.HypothesisID, string(v.Evaluation.Status))
		}
	}
	if done {
		_ = r.audit.LogAnalysisCompleted(ctx, id, rec.Label, time.Since(rec.CreatedAt))
		metrics.AnalysisDuration.Observe(time.Since(rec.CreatedAt).Seconds())
	}

	r.hub.Publish(eventFor(st))
	return &StepResult{Record: rec, State: st, Done: done}, nil
}

// persist writes the stepped checkpoint: the analysis record, the reaction
// session mirror, and any tool executions the step produced.
func (r *Runner) persist(ctx context.Context, rec *db.AnalysisRecord, st *orchestrator.State, done bool, prevSession *react.SessionState, prevExecCount int) error {
	blob, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal analysis state: %w", err)
	}
	rec.State = string(blob)
	rec.UpdatedAt = st.UpdatedAt
	if done {
		rec.Status = db.AnalysisCompleted
		rec.FinalAnswer = st.FinalResult.Answer
		rec.Label = st.FinalResult.Label
	}
	if err := r.store.SaveAnalysis(ctx, rec); err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}

	session := st.ReactSession
	if session != nil {
		sessionBlob, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("marshal session state: %w", err)
		}
		if err := r.store.PutSession(ctx, &db.SessionRecord{
			ID:         session.ID,
			AnalysisID: rec.ID,
			Status:     db.SessionActive,
			State:      string(sessionBlob),
			UpdatedAt:  session.UpdatedAt,
		}); err != nil {
			return fmt.Errorf("save session: %w", err)
		}

		newExecs := session.ToolExecutions
		if prevSession != nil && prevSession.ID == session.ID {
			newExecs = newExecs[prevExecCount:]
		}
		for _, te := range newExecs {
			params, _ := json.Marshal(te.Parameters)
			if err := r.store.AppendToolExecution(ctx, &db.ToolExecutionRecord{
				AnalysisID:    rec.ID,
				SessionID:     session.ID,
				ToolName:      te.ToolName,
				Parameters:    string(params),
				Result:        te.Result,
				DataAvailable: te.DataAvailable,
				Timestamp:     te.Timestamp,
			}); err != nil {
				return fmt.Errorf("save tool execution: %w", err)
			}
			_ = r.audit.LogToolExecuted(ctx, rec.ID, te.ToolName, 0, nil)
		}
	} else if prevSession != nil {
		if err := r.store.CompleteSession(ctx, prevSession.ID); err != nil {
			return fmt.Errorf("complete session: %w", err)
		}
	}
	return nil
}

// Cancel marks a running analysis cancelled. Completed analyses cannot be
// cancelled.
func (r *Runner) Cancel(ctx context.Context, id string) (*db.AnalysisRecord, error) {
	rec, err := r.store.GetAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrAnalysisNotFound
	}
	if rec.Status == db.AnalysisCompleted {
		return nil, fmt.Errorf("analysis %s already completed", id)
	}
	if rec.Status == db.AnalysisCancelled {
		return rec, nil
	}

	rec.Status = db.AnalysisCancelled
	rec.UpdatedAt = time.Now().UTC()
	if err := r.store.SaveAnalysis(ctx, rec); err != nil {
		return nil, err
	}

	_ = r.audit.LogAnalysisCancelled(ctx, id)
	r.hub.Publish(StepEvent{
		AnalysisID: id,
		Phase:      PhaseCancelled,
		Timestamp:  time.Now().UTC(),
	})
	return rec, nil
}

// Run drives an analysis to completion in the calling goroutine, retrying
// transient LLM failures with backoff. Returns when the analysis completes,
// is cancelled, or the retry budget is exhausted.
func (r *Runner) Run(ctx context.Context, id string) {
	backoff := time.Second
	retries := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := r.Step(ctx, id)
		switch {
		case errors.Is(err, ErrAnalysisCancelled), errors.Is(err, ErrAnalysisNotFound):
			return
		case errors.Is(err, ErrStepInFlight):
			time.Sleep(100 * time.Millisecond)
			continue
		case err != nil:
			if types.IsRateLimited(err) {
				_ = r.audit.LogRateLimited(ctx, id, r.provider)
			}
			retries++
			if retries > maxStepRetries {
				_ = r.audit.LogAnalysisFailed(ctx, id, err)
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}

		retries = 0
		backoff = time.Second
		if res.Done {
			return
		}
	}
}

// eventFor derives the step event from the stepped state.
func eventFor(st *orchestrator.State) StepEvent {
	ev := StepEvent{
		AnalysisID: st.ID,
		Timestamp:  time.Now().UTC(),
	}
	switch {
	case st.Done():
		ev.Phase = PhaseCompleted
		ev.Done = true
		ev.Label = st.FinalResult.Label
		ev.HypothesisID = st.FinalResult.HypothesisID
	case len(st.Hypotheses) == 0:
		ev.Phase = PhaseGenerating
	case st.ReactSession != nil:
		ev.Phase = PhaseVerifying
		ev.CycleCount = st.ReactSession.CycleCount
		if st.CurrentHypothesisIndex >= 0 {
			ev.HypothesisID = st.Verifications[st.CurrentHypothesisIndex].HypothesisID
		}
	default:
		ev.Phase = PhaseSelecting
	}
	return ev
}

func (r *Runner) tryLock(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight[id] {
		return false
	}
	r.inFlight[id] = true
	return true
}

func (r *Runner) unlock(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, id)
}
