// Package tools provides the tool registry and the sequential execution
// pipeline the session agent hands pending tool calls to.
package tools

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Progress is an intermediate status report from a running tool.
type Progress struct {
	Stage         string
	Message       string
	ReceivedBytes int64
	TotalBytes    int64
}

// ProgressFunc receives progress reports during a tool invocation. It may be
// called from the tool's goroutine at any time before the handler returns.
type ProgressFunc func(Progress)

// Handler executes a tool. A returned error becomes an error-string result
// visible to the model; it never aborts the run. The only exception is
// context cancellation, which the pipeline propagates as an abort.
type Handler func(ctx context.Context, args json.RawMessage, progress ProgressFunc) (string, error)

// Tool describes one registered tool.
type Tool struct {
	// Name is the identifier the model invokes the tool by.
	Name string
	// Description is surfaced to the model.
	Description string
	// Schema is the JSON schema of the tool's arguments.
	Schema json.RawMessage
	// Kind groups rate-sensitive tools: calls sharing a non-empty Kind are
	// spaced by the pipeline's limiter. Empty means unthrottled.
	Kind string
	// Handler runs the tool.
	Handler Handler
}

// Registry holds available tools with thread-safe registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
