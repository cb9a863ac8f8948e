package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// schema for the analysis persistence layer.
// Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS analyses (
    id           TEXT PRIMARY KEY,
    context      TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'running',
    state        TEXT NOT NULL DEFAULT '{}',
    final_answer TEXT NOT NULL DEFAULT '',
    label        TEXT NOT NULL DEFAULT '',
    created_at   DATETIME NOT NULL,
    updated_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analyses_status ON analyses(status);
CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at DESC);

CREATE TABLE IF NOT EXISTS react_sessions (
    id          TEXT PRIMARY KEY,
    analysis_id TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'active',
    state       TEXT NOT NULL DEFAULT '{}',
    updated_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_react_sessions_analysis ON react_sessions(analysis_id);

CREATE TABLE IF NOT EXISTS audit_events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    correlation_id  TEXT NOT NULL DEFAULT '',
    event_type      TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    resource        TEXT NOT NULL DEFAULT '',
    action          TEXT NOT NULL DEFAULT '',
    result          TEXT NOT NULL DEFAULT '',
    metadata        TEXT NOT NULL DEFAULT '{}',
    timestamp       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_resource ON audit_events(resource);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_events(action);
`,
	},
	// Migration 2: tool_executions + llm_usage
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS tool_executions (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    analysis_id    TEXT NOT NULL DEFAULT '',
    session_id     TEXT NOT NULL DEFAULT '',
    tool_name      TEXT NOT NULL,
    parameters     TEXT NOT NULL DEFAULT '{}',
    result         TEXT NOT NULL DEFAULT '',
    data_available INTEGER NOT NULL DEFAULT 0,
    timestamp      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_executions_analysis ON tool_executions(analysis_id, timestamp ASC);

CREATE TABLE IF NOT EXISTS llm_usage (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    analysis_id       TEXT NOT NULL DEFAULT '',
    provider          TEXT NOT NULL,
    model             TEXT NOT NULL DEFAULT '',
    prompt_tokens     INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0,
    total_tokens      INTEGER NOT NULL DEFAULT 0,
    recorded_at       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_llm_usage_recorded_at ON llm_usage(recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_llm_usage_analysis ON llm_usage(analysis_id);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Analyses ────────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveAnalysis(ctx context.Context, rec *AnalysisRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO analyses(id, context, status, state, final_answer, label, created_at, updated_at)
        VALUES(?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
            status       = excluded.status,
            state        = excluded.state,
            final_answer = excluded.final_answer,
            label        = excluded.label,
            updated_at   = excluded.updated_at
    `,
		rec.ID, rec.Context, rec.Status, rec.State, rec.FinalAnswer, rec.Label,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert analysis: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetAnalysis(ctx context.Context, id string) (*AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,context,status,state,final_answer,label,created_at,updated_at FROM analyses WHERE id=?`, id)
	rec, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *sqliteStore) ListAnalyses(ctx context.Context, limit, offset int) ([]*AnalysisRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,context,status,state,final_answer,label,created_at,updated_at FROM analyses ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*AnalysisRecord
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *sqliteStore) DeleteAnalysis(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM tool_executions WHERE analysis_id=?`,
		`DELETE FROM react_sessions WHERE analysis_id=?`,
		`DELETE FROM analyses WHERE id=?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*AnalysisRecord, error) {
	rec := &AnalysisRecord{}
	var createdAt, updatedAt string
	err := row.Scan(&rec.ID, &rec.Context, &rec.Status, &rec.State,
		&rec.FinalAnswer, &rec.Label, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = parseTime(createdAt)
	rec.UpdatedAt, _ = parseTime(updatedAt)
	return rec, nil
}

// ─── React sessions ──────────────────────────────────────────────────────────

func (s *sqliteStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,analysis_id,status,state,updated_at FROM react_sessions WHERE id=?`, id)
	rec := &SessionRecord{}
	var ua string
	err := row.Scan(&rec.ID, &rec.AnalysisID, &rec.Status, &rec.State, &ua)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt, _ = parseTime(ua)
	return rec, nil
}

func (s *sqliteStore) PutSession(ctx context.Context, rec *SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO react_sessions(id, analysis_id, status, state, updated_at)
        VALUES(?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
            status     = excluded.status,
            state      = excluded.state,
            updated_at = excluded.updated_at
    `,
		rec.ID, rec.AnalysisID, rec.Status, rec.State, rec.UpdatedAt.UTC(),
	)
	return err
}

func (s *sqliteStore) CompleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE react_sessions SET status=?, updated_at=? WHERE id=?`,
		SessionCompleted, time.Now().UTC(), id,
	)
	return err
}

// ─── Tool executions ─────────────────────────────────────────────────────────

func (s *sqliteStore) AppendToolExecution(ctx context.Context, rec *ToolExecutionRecord) error {
	result, err := s.db.ExecContext(ctx, `
        INSERT INTO tool_executions(analysis_id, session_id, tool_name, parameters, result, data_available, timestamp)
        VALUES(?,?,?,?,?,?,?)
    `,
		rec.AnalysisID, rec.SessionID, rec.ToolName, rec.Parameters,
		rec.Result, rec.DataAvailable, rec.Timestamp.UTC(),
	)
	if err != nil {
		return err
	}
	id, _ := result.LastInsertId()
	rec.ID = id
	return nil
}

func (s *sqliteStore) ListToolExecutions(ctx context.Context, analysisID string, limit int) ([]*ToolExecutionRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,analysis_id,session_id,tool_name,parameters,result,data_available,timestamp FROM tool_executions WHERE analysis_id=? ORDER BY timestamp ASC LIMIT ?`,
		analysisID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*ToolExecutionRecord
	for rows.Next() {
		rec := &ToolExecutionRecord{}
		var ts string
		if err := rows.Scan(&rec.ID, &rec.AnalysisID, &rec.SessionID, &rec.ToolName,
			&rec.Parameters, &rec.Result, &rec.DataAvailable, &ts); err != nil {
			return nil, err
		}
		rec.Timestamp, _ = parseTime(ts)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ─── LLM usage ───────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendUsage(ctx context.Context, rec *UsageRecord) error {
	result, err := s.db.ExecContext(ctx, `
        INSERT INTO llm_usage(analysis_id, provider, model, prompt_tokens, completion_tokens, total_tokens, recorded_at)
        VALUES(?,?,?,?,?,?,?)
    `,
		rec.AnalysisID, rec.Provider, rec.Model,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.RecordedAt.UTC(),
	)
	if err != nil {
		return err
	}
	id, _ := result.LastInsertId()
	rec.ID = id
	return nil
}

func (s *sqliteStore) QueryUsage(ctx context.Context, from, to time.Time, limit int) ([]*UsageRecord, error) {
	query := `SELECT id,analysis_id,provider,model,prompt_tokens,completion_tokens,total_tokens,recorded_at FROM llm_usage WHERE 1=1`
	args := []any{}
	if !from.IsZero() {
		query += ` AND recorded_at >= ?`
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += ` AND recorded_at <= ?`
		args = append(args, to.UTC())
	}
	query += ` ORDER BY recorded_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*UsageRecord
	for rows.Next() {
		rec := &UsageRecord{}
		var ts string
		if err := rows.Scan(&rec.ID, &rec.AnalysisID, &rec.Provider, &rec.Model,
			&rec.PromptTokens, &rec.CompletionTokens, &rec.TotalTokens, &ts); err != nil {
			return nil, err
		}
		rec.RecordedAt, _ = parseTime(ts)
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *sqliteStore) UsageTotals(ctx context.Context, from, to time.Time) ([]*UsageTotal, error) {
	query := `SELECT provider, SUM(total_tokens), COUNT(*) FROM llm_usage WHERE 1=1`
	args := []any{}
	if !from.IsZero() {
		query += ` AND recorded_at >= ?`
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += ` AND recorded_at <= ?`
		args = append(args, to.UTC())
	}
	query += ` GROUP BY provider ORDER BY provider ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*UsageTotal
	for rows.Next() {
		t := &UsageTotal{}
		if err := rows.Scan(&t.Provider, &t.TotalTokens, &t.Requests); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// ─── Audit events ─────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendAuditEvent(ctx context.Context, rec *AuditRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO audit_events(correlation_id, event_type, description, resource, action, result, metadata, timestamp)
        VALUES(?,?,?,?,?,?,?,?)
    `,
		rec.CorrelationID, rec.EventType, rec.Description, rec.Resource,
		rec.Action, rec.Result, rec.Metadata, rec.Timestamp.UTC(),
	)
	return err
}

func (s *sqliteStore) QueryAuditEvents(ctx context.Context, q AuditQuery) ([]*AuditRecord, error) {
	query := `SELECT id,correlation_id,event_type,description,resource,action,result,metadata,timestamp FROM audit_events WHERE 1=1`
	args := []any{}

	if q.Resource != "" {
		query += ` AND resource = ?`
		args = append(args, q.Resource)
	}
	if q.Action != "" {
		query += ` AND action = ?`
		args = append(args, q.Action)
	}
	if !q.From.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, q.To.UTC())
	}
	query += ` ORDER BY timestamp DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*AuditRecord
	for rows.Next() {
		rec := &AuditRecord{}
		var ts string
		if err := rows.Scan(&rec.ID, &rec.CorrelationID, &rec.EventType, &rec.Description,
			&rec.Resource, &rec.Action, &rec.Result, &rec.Metadata, &ts); err != nil {
			return nil, err
		}
		rec.Timestamp, _ = parseTime(ts)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
