// Package provider defines the narrow interface the session agent uses to
// stream model completions, and its implementations.
package provider

import (
	"context"
	"encoding/json"
)

// Turn is one message of the linear history sent to the model.
type Turn struct {
	// Role is "user", "assistant", or "tool" for a tool-results turn.
	Role string
	// Content is the text of the turn.
	Content string
	// ToolCalls are the calls an assistant turn requested.
	ToolCalls []ToolCall
	// ToolResults carry results in a tool turn.
	ToolResults []ToolResult
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// ToolResult is the outcome of one tool call, fed back to the model.
type ToolResult struct {
	CallID string
	Result string
}

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Request is one streaming completion request.
type Request struct {
	Model     string
	System    string
	Messages  []Turn
	Tools     []ToolSpec
	MaxTokens int
}

// Chunk is one increment of a streaming completion. Exactly one of the
// fields is set per chunk; Err terminates the stream.
type Chunk struct {
	Text     string
	Thinking string
	ToolCall *ToolCall
	Done     bool
	Err      error
}

// Provider streams completions from a model backend.
//
// Implementations must be safe for concurrent use; each Stream call owns an
// independent channel that is closed when the completion ends. Cancellation
// of ctx must terminate the stream promptly.
type Provider interface {
	// Stream sends the request and returns a channel of chunks.
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)

	// Name identifies the backend for logging and error reporting.
	Name() string
}
