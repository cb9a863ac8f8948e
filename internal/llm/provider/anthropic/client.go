package anthropic

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

// Package anthropic provides the Anthropic provider implementation for the LLM invoker.
//
// Responsibilities:
//   - Implement the Invoker contract against the Anthropic messages API
//   - Support Claude 3.5 Sonnet, Claude 3 Opus models
//   - System prompt passed via the dedicated top-level field
//   - Error handling and rate limit detection (HTTP 429 and the
//     overloaded_error payload both classify as ErrorKindRateLimited)

const (
	DefaultBaseURL    = "https://api.anthropic.com/v1"
	DefaultModel      = "claude-3-5-sonnet-20241022"
	DefaultMaxTokens  = 4096
	DefaultAPIVersion = "2023-06-01"
	DefaultTimeout    = 120 * time.Second
)

// Client implements the LLM invoker contract for Anthropic.
type Client struct {
	apiKey     string
	model      string
	maxTokens  int
	baseURL    string
	httpClient *http.Client
}

// Anthropic API structures
type anthMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []anthMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	StopSeqs    []string      `json:"stop_sequences,omitempty"`
}

type anthContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthContentBlock `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient creates a new Anthropic client with configuration.
func NewClient(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}

	if model == "" {
		model = DefaultModel
	}

	return &Client{
		apiKey:    apiKey,
		model:     model,
		maxTokens: DefaultMaxTokens,
		baseURL:   DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}, nil
}

// SetBaseURL overrides the API endpoint (for tests).
func (c *Client) SetBaseURL(baseURL string) { c.baseURL = baseURL }

// Provider returns the provider name used in metrics and error classification.
func (c *Client) Provider() string { return "anthropic" }

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Invoke sends a single prompt and returns the completion text.
func (c *Client) Invoke(ctx context.Context, prompt string, opts types.InvokeOptions) (*types.Completion, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	request := anthRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		System:      opts.SystemPrompt,
		Messages:    []anthMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
		StopSeqs:    opts.Stop,
	}

	resp, err := c.makeRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	text := ""
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &types.Completion{
		Text: text,
		Usage: types.TokenUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// makeRequest makes an HTTP request to the Anthropic messages API.
func (c *Client) makeRequest(ctx context.Context, req anthRequest) (*anthResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, types.NewGenericError("anthropic", fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, types.NewGenericError("anthropic", fmt.Errorf("failed to create request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", DefaultAPIVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, types.NewGenericError("anthropic", fmt.Errorf("request failed: %w", err))
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, types.NewGenericError("anthropic", fmt.Errorf("failed to read response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("API error %d: %s", httpResp.StatusCode, string(body))
		if httpResp.StatusCode == http.StatusTooManyRequests || isOverloaded(body) {
			return nil, types.NewRateLimitedError("anthropic", apiErr)
		}
		return nil, types.NewGenericError("anthropic", apiErr)
	}

	var resp anthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, types.NewGenericError("anthropic", fmt.Errorf("failed to unmarshal response: %w", err))
	}

	return &resp, nil
}

// isOverloaded detects the Anthropic overloaded_error payload, which the API
// may return with a 5xx status but is semantically a throttle signal.
func isOverloaded(body []byte) bool {
	var errResp anthErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return false
	}
	return errResp.Error.Type == "overloaded_error" || errResp.Error.Type == "rate_limit_error"
}
