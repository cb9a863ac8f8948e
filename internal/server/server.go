package server

// Package server exposes the analysis engine over HTTP: a small REST API to
// create, step, inspect, and cancel analyses, a WebSocket stream of step
// events, and the usual health/readiness/metrics endpoints.

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/faultline/faultline-ai/internal/audit"
	"github.com/faultline/faultline-ai/internal/config"
	"github.com/faultline/faultline-ai/internal/db"
	"github.com/faultline/faultline-ai/internal/llm/adapter"
	"github.com/faultline/faultline-ai/internal/middleware"
	"github.com/faultline/faultline-ai/internal/reasoning/orchestrator"
	"github.com/faultline/faultline-ai/internal/telemetry"
	"github.com/faultline/faultline-ai/internal/tool"
)

// requestsPerMinute throttles the API. Steps are LLM-bound; this is generous.
const requestsPerMinute = 120

// Dependencies carries the wired components the server serves. All fields
// except Probe are required.
type Dependencies struct {
	Store    db.Store
	Audit    audit.Logger
	LLM      adapter.Invoker
	Registry *tool.Registry
	// Probe is the telemetry gateway health probe, surfaced on /status.
	// Optional.
	Probe *telemetry.HealthProbe
}

// Server is the faultline-ai HTTP server.
type Server struct {
	cfg    *config.Config
	deps   Dependencies
	runner *Runner
	hub    *Hub

	limiter    *middleware.RateLimiter
	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	running bool
}

// NewServer wires a Server from configuration and dependencies.
func NewServer(cfg *config.Config, deps Dependencies) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if deps.Store == nil || deps.Audit == nil || deps.LLM == nil || deps.Registry == nil {
		return nil, fmt.Errorf("store, audit logger, llm invoker, and tool registry are required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	hub := NewHub()
	orch := orchestrator.New(deps.LLM, deps.Registry, orchestrator.Options{
		MaxHypotheses: cfg.Reasoning.MaxHypotheses,
		AgentCycles:   cfg.Reasoning.AgentCycles,
		PrimaryTool:   cfg.Reasoning.PrimaryTool,
	})

	return &Server{
		cfg:     cfg,
		deps:    deps,
		runner:  NewRunner(orch, deps.Store, deps.Audit, hub, deps.LLM.Provider()),
		hub:     hub,
		limiter: middleware.NewRateLimiter(requestsPerMinute),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins serving. Non-blocking; use Wait to block until shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // steps block on LLM calls
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var err error
		if s.cfg.Server.TLSEnabled {
			err = s.httpServer.ListenAndServeTLS(s.cfg.Server.TLSCertPath, s.cfg.Server.TLSKeyPath)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.cancel()
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}

	s.limiter.Stop()
	s.hub.Close()
	s.cancel()
	s.wg.Wait()
	return nil
}

// Wait blocks until the server is stopped.
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Runner exposes the step driver, mainly for tests.
func (s *Server) Runner() *Runner {
	return s.runner
}
