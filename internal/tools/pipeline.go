package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/loom/internal/ratelimit"
)

// Invocation is one pending tool call handed to the pipeline.
type Invocation struct {
	ID   string
	Name string
	Args json.RawMessage
}

// Result is the outcome of one invocation. Failures are encoded in the
// Result string, prefixed "Error:"; the pipeline never returns per-tool
// errors out of band.
type Result struct {
	ID     string
	Name   string
	Result string
}

// EventKind tags pipeline events.
type EventKind string

const (
	EventCall     EventKind = "call"
	EventProgress EventKind = "progress"
	EventResult   EventKind = "result"
)

// Event is one lifecycle event of a pipeline run: a call event when an
// invocation starts, zero or more progress events while it runs, and a
// result event when it finishes. Events for one invocation are fully
// emitted before the next invocation starts.
type Event struct {
	Kind     EventKind
	CallID   string
	Tool     string
	Args     json.RawMessage
	Progress *Progress
	Result   string
}

// Emitter receives pipeline events as they happen.
type Emitter func(Event)

// Pipeline executes batches of tool invocations sequentially. Ordering of
// side effects and of emitted events is deterministic and matches
// invocation order.
type Pipeline struct {
	registry *Registry
	spacer   *ratelimit.Spacer
	logger   *slog.Logger
}

// NewPipeline creates a pipeline over the given registry. spacer may be nil
// to disable inter-call spacing; if logger is nil, slog.Default() is used.
func NewPipeline(registry *Registry, spacer *ratelimit.Spacer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		registry: registry,
		spacer:   spacer,
		logger:   logger,
	}
}

// Run executes the invocations in order, emitting events as they are
// produced, and returns the aggregate results. Cancellation is checked
// before each invocation and after each handler returns; an observed
// cancellation aborts the batch with ctx's error rather than yielding a
// partial result for the interrupted invocation.
func (p *Pipeline) Run(ctx context.Context, invocations []Invocation, emit Emitter) ([]Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}

	results := make([]Result, 0, len(invocations))
	for _, inv := range invocations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		emit(Event{Kind: EventCall, CallID: inv.ID, Tool: inv.Name, Args: inv.Args})

		res, err := p.runOne(ctx, inv, emit)
		if err != nil {
			return nil, err
		}

		emit(Event{Kind: EventResult, CallID: inv.ID, Tool: inv.Name, Result: res})
		results = append(results, Result{ID: inv.ID, Name: inv.Name, Result: res})
	}
	return results, nil
}

func (p *Pipeline) runOne(ctx context.Context, inv Invocation, emit Emitter) (string, error) {
	tool, ok := p.registry.Get(inv.Name)
	if !ok {
		return fmt.Sprintf("Error: Tool %q is not available.", inv.Name), nil
	}

	if tool.Kind != "" && p.spacer != nil {
		if err := p.spacer.Wait(ctx, tool.Kind); err != nil {
			return "", err
		}
	}

	progress := func(pr Progress) {
		emit(Event{Kind: EventProgress, CallID: inv.ID, Tool: inv.Name, Progress: &pr})
	}

	result, err := p.invoke(ctx, tool, inv.Args, progress)

	// A handler that noticed cancellation, and a batch whose context died
	// while the handler ran, both abort the batch.
	if cerr := ctx.Err(); cerr != nil {
		return "", cerr
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		p.logger.Warn("tool failed", "tool", inv.Name, "call_id", inv.ID, "error", err)
		return "Error: " + err.Error(), nil
	}
	return result, nil
}

// invoke runs the handler, converting a panic into an error so one broken
// tool cannot take down the session agent.
func (p *Pipeline) invoke(ctx context.Context, tool Tool, args json.RawMessage, progress ProgressFunc) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("tool panicked", "tool", tool.Name, "panic", r)
			err = fmt.Errorf("tool %q panicked: %v", tool.Name, r)
		}
	}()
	return tool.Handler(ctx, args, progress)
}
