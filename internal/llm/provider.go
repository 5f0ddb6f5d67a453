// Package llm adapts third-party model SDKs to the dispatcher's provider
// contract: generate_text, generate_with_tools, supports_tools (see §6).
package llm

import (
	"context"
	"encoding/json"
)

// Role mirrors models.Role without importing pkg/models, keeping this
// package usable independent of the session store.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ToolResult is a prior tool invocation's outcome fed back to the model.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Message is one turn of conversation history passed to a provider.
type Message struct {
	Role        Role
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ToolDef describes a tool the model may call, in the shape every provider
// adapter converts into its own function-calling schema.
type ToolDef struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Request bundles a single completion call. Tools is left empty for plain
// generate_text calls.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolDef
	MaxTokens int
}

// Response is a single non-streaming completion result. ToolCalls is
// populated when the model chose to invoke one or more tools instead of (or
// alongside) returning text.
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	InputTokens  int
	OutputTokens int
}

// Provider is the contract every LLM backend adapter satisfies. The
// dispatcher (C8) never imports a concrete SDK directly.
type Provider interface {
	Name() string
	SupportsTools() bool
	GenerateText(ctx context.Context, req Request) (*Response, error)
	GenerateWithTools(ctx context.Context, req Request) (*Response, error)
}
