package adapter

import (
	"context"
	"fmt"
	"os"

	"github.com/faultline/faultline-ai/internal/llm/provider/anthropic"
	"github.com/faultline/faultline-ai/internal/llm/provider/ollama"
	"github.com/faultline/faultline-ai/internal/llm/provider/openai"
	"github.com/faultline/faultline-ai/internal/llm/types"
)

// Package adapter provides a unified invoker interface over the LLM providers.
//
// Design Philosophy: BYO-LLM
//   - User brings their own API key (OpenAI, Anthropic, Ollama)
//   - NO vendor lock-in: the reasoning loops consume one narrow contract,
//     invoke(prompt) -> text, and never see provider specifics
//   - Local models (Ollama) supported for privacy/cost
//
// The reasoning loops retry nothing themselves. The only failure distinction
// they care about is rate-limited vs. everything else (types.IsRateLimited),
// which drives their degraded-output fallbacks.

// Invoker is the single LLM contract consumed by the reasoning core.
type Invoker interface {
	// Invoke sends one prompt and returns the completion.
	Invoke(ctx context.Context, prompt string, opts types.InvokeOptions) (*types.Completion, error)

	// Provider returns the provider name (openai, anthropic, ollama).
	Provider() string

	// Model returns the configured model name.
	Model() string
}

// ProviderType identifies which LLM provider the user has configured
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOllama    ProviderType = "ollama"
	ProviderNone      ProviderType = "none" // No LLM configured
)

// ErrProviderNotConfigured is returned when an LLM operation is attempted
// without a configured provider.
var ErrProviderNotConfigured = fmt.Errorf("LLM provider not configured")

// Config holds LLM provider configuration (from user settings)
type Config struct {
	Provider ProviderType `json:"provider"`
	APIKey   string       `json:"api_key"`  // For OpenAI/Anthropic
	BaseURL  string       `json:"base_url"` // For Ollama
	Model    string       `json:"model"`    // Model name
}

// unconfigured is the degraded-mode invoker used when no provider is set up.
// Every Invoke fails with ErrProviderNotConfigured; the service still starts
// so the HTTP surface can report the condition instead of crashing.
type unconfigured struct{}

func (unconfigured) Invoke(context.Context, string, types.InvokeOptions) (*types.Completion, error) {
	return nil, ErrProviderNotConfigured
}
func (unconfigured) Provider() string { return string(ProviderNone) }
func (unconfigured) Model() string    { return "" }

// NewInvoker creates an invoker based on user configuration.
func NewInvoker(cfg *Config) (Invoker, error) {
	if cfg == nil {
		// Try environment variables as fallback
		cfg = &Config{
			Provider: ProviderType(os.Getenv("FAULTLINE_LLM_PROVIDER")),
			APIKey:   os.Getenv("FAULTLINE_LLM_API_KEY"),
			BaseURL:  os.Getenv("FAULTLINE_LLM_BASE_URL"),
			Model:    os.Getenv("FAULTLINE_LLM_MODEL"),
		}
	}

	if cfg.Provider == "" || cfg.Provider == ProviderNone {
		return unconfigured{}, nil
	}

	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return unconfigured{}, nil
		}
		client, err := openai.NewClient(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		if cfg.BaseURL != "" {
			client.SetBaseURL(cfg.BaseURL)
		}
		return client, nil

	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return unconfigured{}, nil
		}
		client, err := anthropic.NewClient(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create Anthropic client: %w", err)
		}
		if cfg.BaseURL != "" {
			client.SetBaseURL(cfg.BaseURL)
		}
		return client, nil

	case ProviderOllama:
		client, err := ollama.NewClient(cfg.BaseURL, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// IsConfigured reports whether the invoker has a real provider behind it.
func IsConfigured(inv Invoker) bool {
	if inv == nil {
		return false
	}
	_, bare := inv.(unconfigured)
	if bare {
		return false
	}
	if m, ok := inv.(*Metered); ok {
		return IsConfigured(m.inner)
	}
	return true
}
