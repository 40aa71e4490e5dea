// Package llm talks to the remote reasoning service.
package llm

import (
	"context"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the conversation sent to the service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolSpec advertises one callable operation and its argument schema.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a tool invocation requested by the service. Arguments is the
// raw JSON-encoded argument object.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Choice is one alternative returned by the service.
type Choice struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Request is a completion request.
type Request struct {
	Messages []Message
	Tools    []ToolSpec
}

// Response is a completion response.
type Response struct {
	Choices []Choice

	// Usage fields are informational and may be zero.
	PromptTokens     int
	CompletionTokens int
}

// Client sends completion requests.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
