package provider

import (
	"context"
	"sync"
)

// Script is one canned completion: the chunks a single Stream call yields.
type Script struct {
	Chunks []Chunk
}

// Scripted is a Provider that replays canned completions in order. Each
// Stream call consumes the next script; when the scripts run out, the last
// one repeats. It backs tests and the offline development mode.
type Scripted struct {
	mu      sync.Mutex
	scripts []Script
	calls   int
}

// NewScripted creates a scripted provider.
func NewScripted(scripts ...Script) *Scripted {
	return &Scripted{scripts: scripts}
}

// TextScript builds a script streaming the text in one chunk.
func TextScript(text string) Script {
	return Script{Chunks: []Chunk{{Text: text}, {Done: true}}}
}

// ToolScript builds a script that requests a single tool call after
// streaming optional text.
func ToolScript(text string, call ToolCall) Script {
	var chunks []Chunk
	if text != "" {
		chunks = append(chunks, Chunk{Text: text})
	}
	chunks = append(chunks, Chunk{ToolCall: &call}, Chunk{Done: true})
	return Script{Chunks: chunks}
}

// Name returns "scripted".
func (p *Scripted) Name() string {
	return "scripted"
}

// Calls reports how many Stream calls were made.
func (p *Scripted) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Stream replays the next script. Chunks stop early if ctx is canceled.
func (p *Scripted) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	if idx >= len(p.scripts) {
		idx = len(p.scripts) - 1
	}
	var script Script
	if idx >= 0 {
		script = p.scripts[idx]
	}
	p.mu.Unlock()

	out := make(chan Chunk, len(script.Chunks))
	go func() {
		defer close(out)
		for _, c := range script.Chunks {
			select {
			case <-ctx.Done():
				return
			case out <- c:
			}
		}
	}()
	return out, nil
}
