package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8081
	cfg.Server.TLSEnabled = false
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

	// Gateway defaults
	cfg.Gateway.HTTPBaseURL = "http://localhost:8080"
	cfg.Gateway.GRPCAddress = "localhost:50051"
	cfg.Gateway.Timeout = 30

	// LLM defaults
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.OpenAI = map[string]interface{}{
		"model":      "gpt-4o",
		"max_tokens": 2048,
	}
	cfg.LLM.Anthropic = map[string]interface{}{
		"model":      "claude-3-5-sonnet-20241022",
		"max_tokens": 2048,
	}
	cfg.LLM.Ollama = map[string]interface{}{
		"base_url": "http://localhost:11434",
		"model":    "llama3",
	}

	// Reasoning defaults
	cfg.Reasoning.MaxCycles = 10
	cfg.Reasoning.AgentCycles = 5
	cfg.Reasoning.MaxHypotheses = 3
	cfg.Reasoning.PrimaryTool = "query_metrics"

	// Database defaults
	cfg.Database.SQLitePath = "/var/lib/faultline/faultline-ai.db"

	// Cache defaults
	cfg.Cache.Enabled = true
	cfg.Cache.TTLSeconds = 30
	cfg.Cache.MaxEntries = 4096

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.AppLogPath = "/var/log/faultline/faultline-ai.log"
	cfg.Logging.AuditLogPath = "/var/log/faultline/audit.log"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 5
	cfg.Logging.MaxAgeDays = 30

	return cfg
}
