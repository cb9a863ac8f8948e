package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures so callers can pick a recovery path.
// The reasoning loops retry nothing themselves; they only need to distinguish
// "back off and degrade" (rate limited) from everything else.
type ErrorKind string

const (
	// ErrorKindRateLimited covers HTTP 429 and provider-specific throttling
	// payloads (e.g. Anthropic overloaded_error).
	ErrorKindRateLimited ErrorKind = "rate_limited"

	// ErrorKindGeneric covers every other provider failure.
	ErrorKindGeneric ErrorKind = "generic"
)

// Error is a classified provider error.
type Error struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %s: %v", e.Provider, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// NewRateLimitedError wraps err as a rate-limited provider error.
func NewRateLimitedError(provider string, err error) *Error {
	return &Error{Kind: ErrorKindRateLimited, Provider: provider, Err: err}
}

// NewGenericError wraps err as a generic provider error.
func NewGenericError(provider string, err error) *Error {
	return &Error{Kind: ErrorKindGeneric, Provider: provider, Err: err}
}

// IsRateLimited reports whether err (anywhere in its chain) is a
// rate-limited provider error.
func IsRateLimited(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Kind == ErrorKindRateLimited
	}
	return false
}
