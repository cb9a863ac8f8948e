package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/faultline/faultline-ai/internal/db"
	"github.com/faultline/faultline-ai/internal/llm/adapter"
)

// Handler builds the HTTP routing table. Exposed so tests can drive the API
// without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	limited := s.limiter.Middleware
	mux.HandleFunc("/api/v1/analyses", limited(s.handleAnalyses))
	mux.HandleFunc("/api/v1/analyses/", limited(s.handleAnalysisSubtree))
	mux.HandleFunc("/api/v1/tools", limited(s.handleTools))
	mux.HandleFunc("/api/v1/usage", limited(s.handleUsage))
	mux.HandleFunc("/api/v1/audit", limited(s.handleAudit))

	return mux
}

// ─── Analyses ────────────────────────────────────────────────────────────────

type createAnalysisRequest struct {
	// Context is the incident description the analysis investigates.
	Context string `json:"context"`
	// AutoRun starts a background driver that steps the analysis to
	// completion. When false the caller steps explicitly via /step.
	AutoRun *bool `json:"auto_run,omitempty"`
}

func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createAnalysis(w, r)
	case http.MethodGet:
		s.listAnalyses(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) createAnalysis(w http.ResponseWriter, r *http.Request) {
	var req createAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Context) == "" {
		writeError(w, http.StatusBadRequest, "context is required")
		return
	}
	if !adapter.IsConfigured(s.deps.LLM) {
		writeError(w, http.StatusServiceUnavailable, "no LLM provider configured")
		return
	}

	rec, err := s.runner.StartAnalysis(r.Context(), req.Context)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	autoRun := req.AutoRun == nil || *req.AutoRun
	if autoRun {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runner.Run(s.ctx, rec.ID)
		}()
	}

	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) listAnalyses(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	recs, err := s.deps.Store.ListAnalyses(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"analyses": recs,
		"count":    len(recs),
	})
}

// handleAnalysisSubtree routes /api/v1/analyses/{id}[/step|/cancel|/tools|/stream].
func (s *Server) handleAnalysisSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/analyses/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, "analysis id is required")
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		s.getAnalysis(w, r, id)
	case "step":
		s.stepAnalysis(w, r, id)
	case "cancel":
		s.cancelAnalysis(w, r, id)
	case "tools":
		s.listAnalysisTools(w, r, id)
	case "stream":
		s.handleStream(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "unknown analysis action")
	}
}

func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rec, err := s.deps.Store.GetAnalysis(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}

	// The checkpoint is already JSON; embed it rather than double-encoding.
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"analysis": rec,
		"state":    json.RawMessage(rec.State),
	})
}

func (s *Server) stepAnalysis(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	res, err := s.runner.Step(r.Context(), id)
	switch {
	case errors.Is(err, ErrAnalysisNotFound):
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	case errors.Is(err, ErrStepInFlight):
		writeError(w, http.StatusConflict, "a step is already in flight for this analysis")
		return
	case errors.Is(err, ErrAnalysisCancelled):
		writeError(w, http.StatusConflict, "analysis is cancelled")
		return
	case err != nil:
		// Transient LLM failures leave the checkpoint untouched; the caller
		// retries the step.
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"analysis": res.Record,
		"state":    res.State,
		"done":     res.Done,
	})
}

func (s *Server) cancelAnalysis(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rec, err := s.runner.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, ErrAnalysisNotFound):
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	case err != nil:
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listAnalysisTools(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	execs, err := s.deps.Store.ListToolExecutions(r.Context(), id, queryInt(r, "limit", 200))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tool_executions": execs,
		"count":           len(execs),
	})
}

// ─── Tools, usage, audit ─────────────────────────────────────────────────────

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools": s.deps.Registry.Describe(),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	from, to := queryWindow(r)
	totals, err := s.deps.Store.UsageTotals(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totals": totals,
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	from, to := queryWindow(r)
	events, err := s.deps.Store.QueryAuditEvents(r.Context(), db.AuditQuery{
		Resource: r.URL.Query().Get("resource"),
		Action:   r.URL.Query().Get("action"),
		From:     from,
		To:       to,
		Limit:    queryInt(r, "limit", 100),
		Offset:   queryInt(r, "offset", 0),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// ─── Health and status ───────────────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.deps.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
			"reason": "database unavailable",
		})
		return
	}
	if !adapter.IsConfigured(s.deps.LLM) {
		// Degraded, not down: the read API still works without a provider.
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "degraded",
			"reason": "no LLM provider configured",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status := map[string]interface{}{
		"llm_provider":   s.deps.LLM.Provider(),
		"llm_model":      s.deps.LLM.Model(),
		"llm_configured": adapter.IsConfigured(s.deps.LLM),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if s.deps.Probe != nil {
		status["gateway"] = s.deps.Probe.Stats()
		status["gateway_healthy"] = s.deps.Probe.Healthy()
	}
	writeJSON(w, http.StatusOK, status)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// queryWindow parses optional RFC3339 from/to query parameters.
func queryWindow(r *http.Request) (time.Time, time.Time) {
	var from, to time.Time
	if raw := r.URL.Query().Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			from = t
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			to = t
		}
	}
	return from, to
}
