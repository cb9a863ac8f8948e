package openai

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

// Package openai provides the OpenAI provider implementation for the LLM invoker.
//
// Responsibilities:
//   - Implement the Invoker contract against the OpenAI chat completions API
//   - Support GPT-4, GPT-4o, GPT-3.5-turbo models
//   - Token usage reporting from the API response
//   - Error handling and rate limit detection (HTTP 429 → ErrorKindRateLimited)
//   - Model-specific configuration (temperature, max tokens, stop sequences)

const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultModel     = "gpt-4o"
	DefaultMaxTokens = 4096
	DefaultTimeout   = 120 * time.Second
)

// Client implements the LLM invoker contract for OpenAI.
type Client struct {
	apiKey     string
	model      string
	maxTokens  int
	baseURL    string
	httpClient *http.Client
}

// OpenAI API structures
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewClient creates a new OpenAI client with configuration.
func NewClient(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
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

// SetBaseURL overrides the API endpoint (for OpenAI-compatible servers and tests).
func (c *Client) SetBaseURL(baseURL string) { c.baseURL = baseURL }

// Provider returns the provider name used in metrics and error classification.
func (c *Client) Provider() string { return "openai" }

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Invoke sends a single prompt and returns the completion text.
func (c *Client) Invoke(ctx context.Context, prompt string, opts types.InvokeOptions) (*types.Completion, error) {
	messages := make([]chatMessage, 0, 2)
	if opts.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: opts.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	request := chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
		Stop:        opts.Stop,
	}

	response, err := c.makeRequest(ctx, "/chat/completions", request)
	if err != nil {
		return nil, err
	}

	var chatResp chatResponse
	if err := json.Unmarshal(response, &chatResp); err != nil {
		return nil, types.NewGenericError("openai", fmt.Errorf("failed to parse OpenAI response: %w", err))
	}

	if len(chatResp.Choices) == 0 {
		return nil, types.NewGenericError("openai", fmt.Errorf("no choices in OpenAI response"))
	}

	return &types.Completion{
		Text: chatResp.Choices[0].Message.Content,
		Usage: types.TokenUsage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		},
	}, nil
}

// makeRequest makes an HTTP request to the OpenAI API.
func (c *Client) makeRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewGenericError("openai", fmt.Errorf("failed to marshal request: %w", err))
	}

	url := c.baseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, types.NewGenericError("openai", fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, types.NewGenericError("openai", fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewGenericError("openai", fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, types.NewRateLimitedError("openai", fmt.Errorf("OpenAI API rate limited (status 429): %s", string(responseBody)))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewGenericError("openai", fmt.Errorf("OpenAI API error (status %d): %s", resp.StatusCode, string(responseBody)))
	}

	return responseBody, nil
}
