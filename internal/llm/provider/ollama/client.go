package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/faultline/faultline-ai/internal/llm/types"
)

// Package ollama provides the Ollama provider implementation for the LLM invoker.
//
// Responsibilities:
//   - Implement the Invoker contract against a local Ollama instance
//   - Support local models (llama3, mistral, codellama, etc.)
//   - Token usage approximated from Ollama eval counts
//   - No API key required (local/free)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3"
	DefaultTimeout = 300 * time.Second // local models can be slow
)

// Client implements the LLM invoker contract for Ollama.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// Ollama API structures
type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// NewClient creates a new Ollama client for the given instance URL.
func NewClient(baseURL, model string) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}

	return &Client{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}, nil
}

// Provider returns the provider name used in metrics and error classification.
func (c *Client) Provider() string { return "ollama" }

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Invoke sends a single prompt and returns the completion text.
func (c *Client) Invoke(ctx context.Context, prompt string, opts types.InvokeOptions) (*types.Completion, error) {
	options := map[string]any{}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	if len(opts.Stop) > 0 {
		options["stop"] = opts.Stop
	}

	request := generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		System:  opts.SystemPrompt,
		Stream:  false,
		Options: options,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, types.NewGenericError("ollama", fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewBuffer(body))
	if err != nil {
		return nil, types.NewGenericError("ollama", fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, types.NewGenericError("ollama", fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewGenericError("ollama", fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, types.NewRateLimitedError("ollama", fmt.Errorf("Ollama rate limited (status 429): %s", string(responseBody)))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewGenericError("ollama", fmt.Errorf("Ollama API error (status %d): %s", resp.StatusCode, string(responseBody)))
	}

	var genResp generateResponse
	if err := json.Unmarshal(responseBody, &genResp); err != nil {
		return nil, types.NewGenericError("ollama", fmt.Errorf("failed to parse Ollama response: %w", err))
	}

	return &types.Completion{
		Text: genResp.Response,
		Usage: types.TokenUsage{
			PromptTokens:     genResp.PromptEvalCount,
			CompletionTokens: genResp.EvalCount,
			TotalTokens:      genResp.PromptEvalCount + genResp.EvalCount,
		},
	}, nil
}
