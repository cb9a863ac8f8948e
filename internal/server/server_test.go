package server

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/faultline/faultline-ai/internal/audit"
	"github.com/faultline/faultline-ai/internal/config"
	"github.com/faultline/faultline-ai/internal/db"
	"github.com/faultline/faultline-ai/internal/llm/adapter"
	"github.com/faultline/faultline-ai/internal/llm/types"
	"github.com/faultline/faultline-ai/internal/tool"
)

// routerLLM answers by prompt kind, so it stays correct regardless of how
// many steps each analysis takes.
type routerLLM struct {
	hypothesesReply string
	evalReply       string
	failNext        error
}

const twoHypotheses = `Hypothesis 1:
Description: connection pool exhaustion after the 14:02 deploy
Confidence: 0.9

Hypothesis 2:
Description: upstream DNS flakiness
Confidence: 0.4
`

func (r *routerLLM) Invoke(_ context.Context, prompt string, _ types.InvokeOptions) (*types.Completion, error) {
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return nil, err
	}
	switch {
	case strings.Contains(prompt, "Propose up to"):
		return &types.Completion{Text: r.hypothesesReply}, nil
	case strings.Contains(prompt, "Hypothesis Under Verification"):
		return &types.Completion{Text: r.evalReply}, nil
	case strings.Contains(prompt, "## Root-Cause Narrative"):
		return &types.Completion{Text: "Recommended Actions:\n- Roll back the 14:02 deploy"}, nil
	case strings.Contains(prompt, "## Full Investigation"):
		return &types.Completion{Text: "Evidence points at the deploy window."}, nil
	case strings.Contains(prompt, "## Investigation So Far"):
		return &types.Completion{Text: "Thought: enough evidence\nFinal Answer: the deploy did it"}, nil
	}
	return nil, errors.New("routerLLM: unrecognized prompt")
}

func (r *routerLLM) Provider() string { return "stub" }
func (r *routerLLM) Model() string    { return "stub" }

func confirmingLLM() *routerLLM {
	return &routerLLM{
		hypothesesReply: twoHypotheses,
		evalReply:       "Status: confirmed\nConfidence: high\nReasoning: metrics match the deploy window",
	}
}

func stubRegistry() *tool.Registry {
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

// newTestServer wires a Server over a real SQLite store and the given LLM.
// The store is shared with the caller for direct assertions.
func newTestServer(t *testing.T, llm adapter.Invoker) (*Server, db.Store) {
	t.Helper()
	dir := t.TempDir()

	store, err := db.NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	aud, err := audit.NewLogger(&audit.Config{
		AuditLogPath: filepath.Join(dir, "audit.log"),
		AppLogPath:   filepath.Join(dir, "app.log"),
		MaxSize:      1,
		LogLevel:     "info",
	}, store)
	require.NoError(t, err)
	t.Cleanup(func() { _ = aud.Close() })

	cfg := config.DefaultConfig()
	cfg.Server.Port = 0

	srv, err := NewServer(cfg, Dependencies{
		Store:    store,
		Audit:    aud,
		LLM:      llm,
		Registry: stubRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { srv.cancel() })
	return srv, store
}

func TestNewServerRequiresDependencies(t *testing.T) {
	cfg := config.DefaultConfig()

	_, err := NewServer(nil, Dependencies{})
	require.Error(t, err)

	_, err = NewServer(cfg, Dependencies{})
	require.Error(t, err)
}
