package provider

import (
	"context"
	"strings"
)

// Message represents a message in the conversation
type Message struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Request is a single model invocation request
type Request struct {
	Model        string
	Messages     []Message
	Tools        []map[string]interface{}
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Output is the result of a model invocation: plain text, tool-call
// requests, or both
type Output struct {
	Content   string      `json:"content"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
	Usage     *TokenUsage `json:"usage,omitempty"`
}

// Caller makes a single API call to one LLM backend
type Caller interface {
	Kind() string
	Call(ctx context.Context, request Request) (*Output, error)
}

// IsRetryable checks if an error should be retried on the same handle.
// Non-retryable errors still advance the chain to the next handle.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errMsg := err.Error()

	// Network errors
	if contains(errMsg, "ECONNRESET") || contains(errMsg, "ETIMEDOUT") ||
		contains(errMsg, "connection refused") || contains(errMsg, "timeout") {
		return true
	}

	// Rate limits
	if contains(errMsg, "429") || contains(errMsg, "rate limit") {
		return true
	}

	// Server errors
	if contains(errMsg, "500") || contains(errMsg, "502") || contains(errMsg, "503") || contains(errMsg, "504") {
		return true
	}

	return false
}

func contains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
