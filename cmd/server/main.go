package main

// Package main is the entry point for the faultline-ai server.
//
// Responsibilities:
//   - Load and validate configuration from YAML and environment variables
//   - Open the SQLite store and the audit logger
//   - Wire the LLM invoker (metered, with persisted token usage)
//   - Register the telemetry gateway tools and start the gateway health probe
//   - Start the REST API, WebSocket stream, and metrics endpoints on port 8081
//   - Implement graceful shutdown with context cancellation
//
// A missing LLM provider is not fatal: the server starts degraded, reports
// the condition on /readyz, and refuses new analyses until credentials
// appear.

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/faultline/faultline-ai/internal/audit"
	"github.com/faultline/faultline-ai/internal/cache"
	"github.com/faultline/faultline-ai/internal/config"
	"github.com/faultline/faultline-ai/internal/db"
	"github.com/faultline/faultline-ai/internal/llm/adapter"
	"github.com/faultline/faultline-ai/internal/llm/usage"
	"github.com/faultline/faultline-ai/internal/server"
	"github.com/faultline/faultline-ai/internal/telemetry"
	"github.com/faultline/faultline-ai/internal/tool"
)

func main() {
	configPath := flag.String("config", "/etc/faultline/config.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "faultline-ai: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx := context.Background()

	mgr, err := config.NewConfigManager(configPath)
	if err != nil {
		return fmt.Errorf("create config manager: %w", err)
	}
	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return fmt.Errorf("validate configuration: %w", err)
	}
	cfg := mgr.Get(ctx)

	store, err := db.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	aud, err := audit.NewLogger(&audit.Config{
		AuditLogPath: cfg.Logging.AuditLogPath,
		AppLogPath:   cfg.Logging.AppLogPath,
		MaxSize:      cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAge:       cfg.Logging.MaxAgeDays,
		LogLevel:     cfg.Logging.Level,
	}, store)
	if err != nil {
		return fmt.Errorf("create audit logger: %w", err)
	}
	defer aud.Close()

	invoker, err := adapter.NewInvoker(adapterConfig(cfg))
	if err != nil {
		return fmt.Errorf("create LLM invoker: %w", err)
	}
	llm := adapter.NewMetered(invoker, usage.NewTracker(store))
	if !adapter.IsConfigured(llm) {
		fmt.Fprintln(os.Stderr, "warning: no LLM provider configured, starting degraded")
	}

	var queryCache cache.Cache
	if cfg.Cache.Enabled {
		queryCache = cache.New(cache.Options{
			DefaultTTL: time.Duration(cfg.Cache.TTLSeconds) * time.Second,
			MaxEntries: cfg.Cache.MaxEntries,
		})
		defer queryCache.Close()
	}

	registry := tool.NewRegistry()
	gateway := telemetry.NewClient(telemetry.ClientOptions{
		BaseURL: cfg.Gateway.HTTPBaseURL,
		Timeout: time.Duration(cfg.Gateway.Timeout) * time.Second,
	})
	telemetry.RegisterTools(registry, gateway, telemetry.ToolsOptions{
		Cache: queryCache,
	})

	var probe *telemetry.HealthProbe
	if cfg.Gateway.GRPCAddress != "" {
		probe = telemetry.NewHealthProbe(cfg.Gateway.GRPCAddress, telemetry.ProbeOptions{})
		if err := probe.Start(ctx); err != nil {
			return fmt.Errorf("start gateway health probe: %w", err)
		}
		defer probe.Stop()
	}

	srv, err := server.NewServer(cfg, server.Dependencies{
		Store:    store,
		Audit:    aud,
		LLM:      llm,
		Registry: registry,
		Probe:    probe,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	_ = aud.Log(ctx, audit.NewEvent(audit.EventServerStarted).
		WithResource("server", "system").
		WithAction("start").
		WithDescription(fmt.Sprintf("listening on port %d", cfg.Server.Port)).
		WithResult(audit.ResultSuccess))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	fmt.Println("\nreceived shutdown signal")

	_ = aud.Log(ctx, audit.NewEvent(audit.EventServerShutdown).
		WithResource("server", "system").
		WithAction("stop").
		WithResult(audit.ResultSuccess))

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}
	fmt.Println("shutdown complete")
	return nil
}

// adapterConfig maps the selected provider's section to the invoker config.
func adapterConfig(cfg *config.Config) *adapter.Config {
	if !cfg.LLM.Configured {
		return &adapter.Config{Provider: adapter.ProviderNone}
	}

	str := func(m map[string]interface{}, key string) string {
		if v, ok := m[key].(string); ok {
			return v
		}
		return ""
	}

	switch cfg.LLM.Provider {
	case "openai":
		return &adapter.Config{
			Provider: adapter.ProviderOpenAI,
			APIKey:   str(cfg.LLM.OpenAI, "api_key"),
			Model:    str(cfg.LLM.OpenAI, "model"),
		}
	case "anthropic":
		return &adapter.Config{
			Provider: adapter.ProviderAnthropic,
			APIKey:   str(cfg.LLM.Anthropic, "api_key"),
			Model:    str(cfg.LLM.Anthropic, "model"),
		}
	case "ollama":
		return &adapter.Config{
			Provider: adapter.ProviderOllama,
			BaseURL:  str(cfg.LLM.Ollama, "base_url"),
			Model:    str(cfg.LLM.Ollama, "model"),
		}
	}
	return &adapter.Config{Provider: adapter.ProviderNone}
}
