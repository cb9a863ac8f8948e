package types

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`    // user, assistant, system
	Content string `json:"content"` // message text
}

// InvokeOptions tunes a single LLM invocation.
type InvokeOptions struct {
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	// SystemPrompt is prepended as a system-role message when set.
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// TokenUsage tracks token usage for a single invocation.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`     // input tokens
	CompletionTokens int `json:"completion_tokens"` // output tokens
	TotalTokens      int `json:"total_tokens"`      // total tokens
}

// Completion is the result of one LLM invocation.
type Completion struct {
	Text  string     `json:"text"`
	Usage TokenUsage `json:"usage"`
}

// EstimateTokens gives a rough token count for budget accounting when the
// provider does not report usage (4 chars ≈ 1 token, cl100k approximation).
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 && len(text) > 0 {
		n = 1
	}
	return n
}
