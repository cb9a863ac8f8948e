package config

import "context"

// Package config provides configuration management for faultline-ai.
//
// Responsibilities:
//   - Load configuration from a YAML file and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading for file-backed settings
//   - Keep sensitive data (API keys) out of config files via env overrides
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (FAULTLINE_* prefix)
//   2. YAML config file (default: /etc/faultline/config.yaml)
//   3. Built-in defaults
type Config struct {
	// Server configuration
	Server struct {
		Port        int
		TLSEnabled  bool
		TLSCertPath string
		TLSKeyPath  string
		// AllowedOrigins lists origins permitted to open WebSocket
		// connections. ["*"] allows any origin (development only).
		AllowedOrigins []string
	}

	// Gateway is the telemetry gateway the investigation tools query.
	Gateway struct {
		HTTPBaseURL string // REST query API base URL (e.g. http://localhost:8080)
		GRPCAddress string // health-probe gRPC address (e.g. localhost:50051)
		Timeout     int    // per-query timeout in seconds
	}

	// LLM provider configuration
	LLM struct {
		Provider  string
		OpenAI    map[string]interface{}
		Anthropic map[string]interface{}
		Ollama    map[string]interface{}
		// Configured is derived during Validate: false means the selected
		// provider lacks credentials and the engine runs degraded.
		Configured bool
	}

	// Reasoning budgets for the analysis engine.
	Reasoning struct {
		MaxCycles     int    // overall react cycle budget per session
		AgentCycles   int    // cycle budget per hypothesis verification
		MaxHypotheses int    // cap on generated hypotheses
		PrimaryTool   string // tool a seeded verification session starts with
	}

	// Database configuration
	Database struct {
		SQLitePath string
	}

	// Cache configuration
	Cache struct {
		Enabled    bool
		TTLSeconds int
		MaxEntries int
	}

	// Logging configuration
	Logging struct {
		Level        string
		Format       string
		AppLogPath   string
		AuditLogPath string
		MaxSizeMB    int
		MaxBackups   int
		MaxAgeDays   int
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration file changes and emits reloaded configs.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with the default
// config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/faultline/config.yaml")
}
