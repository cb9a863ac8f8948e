package db

import (
	"context"
	"time"
)

// Store is the main persistence interface for the analysis service.
type Store interface {
	AnalysisStore
	SessionStore
	ToolExecutionStore
	UsageStore
	AuditStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Analysis store ──────────────────────────────────────────────────────────

// Analysis statuses.
const (
	AnalysisRunning   = "running"
	AnalysisCompleted = "completed"
	AnalysisCancelled = "cancelled"
)

// AnalysisRecord is the DB representation of one orchestrated analysis. State
// holds the serialized orchestrator checkpoint so an interrupted analysis can
// resume after a restart.
type AnalysisRecord struct {
	ID          string    `json:"id"`
	Context     string    `json:"context"`
	Status      string    `json:"status"`
	State       string    `json:"state"` // JSON checkpoint blob
	FinalAnswer string    `json:"final_answer"`
	Label       string    `json:"label"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AnalysisStore persists orchestrated analyses.
type AnalysisStore interface {
	// SaveAnalysis creates or updates an analysis record.
	SaveAnalysis(ctx context.Context, rec *AnalysisRecord) error

	// GetAnalysis retrieves an analysis by ID. Returns nil, nil when absent.
	GetAnalysis(ctx context.Context, id string) (*AnalysisRecord, error)

	// ListAnalyses returns analyses, newest first.
	ListAnalyses(ctx context.Context, limit, offset int) ([]*AnalysisRecord, error)

	// DeleteAnalysis removes an analysis and its sessions and executions.
	DeleteAnalysis(ctx context.Context, id string) error
}

// ─── Session store ───────────────────────────────────────────────────────────

// Session statuses.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
)

// SessionRecord is a persisted reaction-loop session checkpoint.
type SessionRecord struct {
	ID         string    `json:"id"`
	AnalysisID string    `json:"analysis_id"`
	Status     string    `json:"status"`
	State      string    `json:"state"` // JSON checkpoint blob
	UpdatedAt  time.Time `json:"updated_at"`
}

// SessionStore persists reaction-loop session checkpoints between steps.
// The reasoning core never touches this; the step driver persists around
// each step.
type SessionStore interface {
	// GetSession retrieves a session checkpoint. Returns nil, nil when absent.
	GetSession(ctx context.Context, id string) (*SessionRecord, error)

	// PutSession creates or overwrites a session checkpoint.
	PutSession(ctx context.Context, rec *SessionRecord) error

	// CompleteSession marks a session completed.
	CompleteSession(ctx context.Context, id string) error
}

// ─── Tool execution store ────────────────────────────────────────────────────

// ToolExecutionRecord is one persisted tool call, kept for auditability.
type ToolExecutionRecord struct {
	ID            int64     `json:"id"`
	AnalysisID    string    `json:"analysis_id"`
	SessionID     string    `json:"session_id"`
	ToolName      string    `json:"tool_name"`
	Parameters    string    `json:"parameters"` // JSON blob
	Result        string    `json:"result"`
	DataAvailable bool      `json:"data_available"`
	Timestamp     time.Time `json:"timestamp"`
}

// ToolExecutionStore persists tool call history per analysis.
type ToolExecutionStore interface {
	// AppendToolExecution writes a single tool execution record.
	AppendToolExecution(ctx context.Context, rec *ToolExecutionRecord) error

	// ListToolExecutions returns an analysis's tool calls, oldest first.
	ListToolExecutions(ctx context.Context, analysisID string, limit int) ([]*ToolExecutionRecord, error)
}

// ─── LLM usage store ─────────────────────────────────────────────────────────

// UsageRecord is a persisted LLM token usage entry.
type UsageRecord struct {
	ID               int64     `json:"id"`
	AnalysisID       string    `json:"analysis_id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	RecordedAt       time.Time `json:"recorded_at"`
}

// UsageTotal aggregates token usage per provider.
type UsageTotal struct {
	Provider    string `json:"provider"`
	TotalTokens int    `json:"total_tokens"`
	Requests    int    `json:"requests"`
}

// UsageStore persists LLM token usage so consumption survives restarts.
type UsageStore interface {
	// AppendUsage writes a single token usage record.
	AppendUsage(ctx context.Context, rec *UsageRecord) error

	// QueryUsage retrieves records within a time window, newest first.
	QueryUsage(ctx context.Context, from, to time.Time, limit int) ([]*UsageRecord, error)

	// UsageTotals returns per-provider token totals within the window.
	UsageTotals(ctx context.Context, from, to time.Time) ([]*UsageTotal, error)
}

// ─── Audit store ─────────────────────────────────────────────────────────────

// AuditRecord is the DB representation of an audit event.
type AuditRecord struct {
	ID            int64     `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	EventType     string    `json:"event_type"`
	Description   string    `json:"description"`
	Resource      string    `json:"resource"`
	Action        string    `json:"action"`
	Result        string    `json:"result"`
	Metadata      string    `json:"metadata"` // JSON blob
	Timestamp     time.Time `json:"timestamp"`
}

// AuditStore persists audit log entries.
type AuditStore interface {
	// AppendAuditEvent appends an immutable audit event.
	AppendAuditEvent(ctx context.Context, rec *AuditRecord) error

	// QueryAuditEvents retrieves audit events with optional filters.
	QueryAuditEvents(ctx context.Context, q AuditQuery) ([]*AuditRecord, error)
}

// AuditQuery filters audit event queries.
type AuditQuery struct {
	Resource string
	Action   string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}
