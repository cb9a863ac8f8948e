package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors. It also
// derives LLM.Configured: missing credentials are not fatal, the engine runs
// degraded until a provider is configured.
func (c *Config) Validate() []error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Server.TLSEnabled {
		if c.Server.TLSCertPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: "tls_cert_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSCertPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: fmt.Sprintf("certificate file does not exist: %s", c.Server.TLSCertPath),
			})
		}

		if c.Server.TLSKeyPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: "tls_key_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSKeyPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: fmt.Sprintf("key file does not exist: %s", c.Server.TLSKeyPath),
			})
		}
	}

	if c.Gateway.HTTPBaseURL == "" {
		errs = append(errs, &ValidationError{
			Field:   "gateway.http_base_url",
			Message: "gateway HTTP base URL is required",
		})
	} else if u, err := url.Parse(c.Gateway.HTTPBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, &ValidationError{
			Field:   "gateway.http_base_url",
			Message: fmt.Sprintf("invalid base URL: %s", c.Gateway.HTTPBaseURL),
		})
	}

	if c.Gateway.GRPCAddress == "" {
		errs = append(errs, &ValidationError{
			Field:   "gateway.grpc_address",
			Message: "gateway gRPC address is required",
		})
	} else if host, port, err := net.SplitHostPort(c.Gateway.GRPCAddress); err != nil {
		errs = append(errs, &ValidationError{
			Field:   "gateway.grpc_address",
			Message: fmt.Sprintf("invalid address format (expected host:port): %v", err),
		})
	} else if host == "" || port == "" {
		errs = append(errs, &ValidationError{
			Field:   "gateway.grpc_address",
			Message: "gateway host and port cannot be empty",
		})
	}

	if c.Gateway.Timeout < 1 {
		errs = append(errs, &ValidationError{
			Field:   "gateway.timeout",
			Message: fmt.Sprintf("timeout must be at least 1 second, got %d", c.Gateway.Timeout),
		})
	}

	validProviders := map[string]bool{
		"openai":    true,
		"anthropic": true,
		"ollama":    true,
	}
	if !validProviders[c.LLM.Provider] {
		errs = append(errs, &ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("invalid provider '%s', must be one of: openai, anthropic, ollama", c.LLM.Provider),
		})
	}

	switch c.LLM.Provider {
	case "openai":
		hasKey := false
		if apiKey, ok := c.LLM.OpenAI["api_key"].(string); ok && apiKey != "" {
			hasKey = true
		} else if os.Getenv("OPENAI_API_KEY") != "" {
			hasKey = true
		}
		c.LLM.Configured = hasKey

		if hasKey {
			if model, ok := c.LLM.OpenAI["model"].(string); !ok || model == "" {
				errs = append(errs, &ValidationError{
					Field:   "llm.openai.model",
					Message: "OpenAI model is required",
				})
			}
		}

	case "anthropic":
		hasKey := false
		if apiKey, ok := c.LLM.Anthropic["api_key"].(string); ok && apiKey != "" {
			hasKey = true
		} else if os.Getenv("ANTHROPIC_API_KEY") != "" {
			hasKey = true
		}
		c.LLM.Configured = hasKey

		if hasKey {
			if model, ok := c.LLM.Anthropic["model"].(string); !ok || model == "" {
				errs = append(errs, &ValidationError{
					Field:   "llm.anthropic.model",
					Message: "Anthropic model is required",
				})
			}
		}

	case "ollama":
		// Ollama needs no credentials.
		c.LLM.Configured = true

		if baseURL, ok := c.LLM.Ollama["base_url"].(string); !ok || baseURL == "" {
			errs = append(errs, &ValidationError{
				Field:   "llm.ollama.base_url",
				Message: "Ollama base URL is required",
			})
		}
		if model, ok := c.LLM.Ollama["model"].(string); !ok || model == "" {
			errs = append(errs, &ValidationError{
				Field:   "llm.ollama.model",
				Message: "Ollama model is required",
			})
		}
	}

	if c.Reasoning.MaxCycles < 1 || c.Reasoning.MaxCycles > 50 {
		errs = append(errs, &ValidationError{
			Field:   "reasoning.max_cycles",
			Message: fmt.Sprintf("max_cycles must be between 1 and 50, got %d", c.Reasoning.MaxCycles),
		})
	}

	if c.Reasoning.AgentCycles < 1 || c.Reasoning.AgentCycles > 50 {
		errs = append(errs, &ValidationError{
			Field:   "reasoning.agent_cycles",
			Message: fmt.Sprintf("agent_cycles must be between 1 and 50, got %d", c.Reasoning.AgentCycles),
		})
	}

	if c.Reasoning.MaxHypotheses < 1 || c.Reasoning.MaxHypotheses > 10 {
		errs = append(errs, &ValidationError{
			Field:   "reasoning.max_hypotheses",
			Message: fmt.Sprintf("max_hypotheses must be between 1 and 10, got %d", c.Reasoning.MaxHypotheses),
		})
	}

	if c.Reasoning.PrimaryTool == "" {
		errs = append(errs, &ValidationError{
			Field:   "reasoning.primary_tool",
			Message: "primary_tool is required",
		})
	}

	if c.Database.SQLitePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.sqlite_path",
			Message: "sqlite_path is required",
		})
	}

	if c.Cache.TTLSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "cache.ttl_seconds",
			Message: fmt.Sprintf("ttl_seconds cannot be negative, got %d", c.Cache.TTLSeconds),
		})
	}

	if c.Cache.MaxEntries < 0 {
		errs = append(errs, &ValidationError{
			Field:   "cache.max_entries",
			Message: fmt.Sprintf("max_entries cannot be negative, got %d", c.Cache.MaxEntries),
		})
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, text", c.Logging.Format),
		})
	}

	return errs
}
