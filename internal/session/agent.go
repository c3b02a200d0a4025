// Package session implements the per-conversation session agent: a
// single-owner state machine that serializes generation requests against one
// conversation, runs the model/tool generation loop, and fans events out to
// every connected client through a cursor-synced event log.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/loom/internal/observability"
	"github.com/haasonsaas/loom/internal/protocol"
	"github.com/haasonsaas/loom/internal/provider"
	"github.com/haasonsaas/loom/internal/storage"
	"github.com/haasonsaas/loom/internal/tools"
	"github.com/haasonsaas/loom/internal/tree"
	"github.com/haasonsaas/loom/pkg/models"
)

const maxTitleRunes = 64

// Config controls the generation loop.
type Config struct {
	// Model is the model identifier sent with every request.
	Model string
	// SystemPrompt is prepended to every request.
	SystemPrompt string
	// MaxIterations caps model calls per run. Default: 200.
	MaxIterations int
	// MaxTokens per model response. Default: 4096.
	MaxTokens int
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 200
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	return c
}

// Options wires an Agent's collaborators.
type Options struct {
	ConversationID string
	Config         Config
	Provider       provider.Provider
	Pipeline       *tools.Pipeline
	Registry       *tools.Registry
	Store          storage.Store
	Logger         *slog.Logger
	Metrics        *observability.Metrics
}

// Agent owns the live session state of one conversation.
//
// States: idle -> running -> {completed|aborted|error} -> idle. Terminal
// outcomes are reported to clients via chat_finished; the agent itself
// returns to idle once cleanup completes. At most one generation loop runs
// at a time; a chat_request received while running is answered with busy,
// never queued.
type Agent struct {
	conversationID string
	cfg            Config
	provider       provider.Provider
	pipeline       *tools.Pipeline
	registry       *tools.Registry
	store          storage.Store
	logger         *slog.Logger
	metrics        *observability.Metrics
	log            *EventLog

	mu               sync.Mutex
	status           models.SessionStatus
	currentRequestID string
	cancel           context.CancelFunc
	done             chan struct{}
	subscribers      map[int]func(protocol.ServerMessage)
	nextSubID        int
}

// New creates an idle agent. Logger defaults to slog.Default(); Metrics may
// be nil.
func New(opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		conversationID: opts.ConversationID,
		cfg:            opts.Config.withDefaults(),
		provider:       opts.Provider,
		pipeline:       opts.Pipeline,
		registry:       opts.Registry,
		store:          opts.Store,
		logger:         logger.With("conversation_id", opts.ConversationID),
		metrics:        opts.Metrics,
		log:            NewEventLog(),
		status:         models.StatusIdle,
		subscribers:    make(map[int]func(protocol.ServerMessage)),
	}
}

// Subscribe registers a callback for every broadcast frame. The callback
// must not block; websocket connections enqueue onto their own send buffer.
func (a *Agent) Subscribe(fn func(protocol.ServerMessage)) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextSubID++
	id := a.nextSubID
	a.subscribers[id] = fn
	return id
}

// Unsubscribe removes a callback registered with Subscribe.
func (a *Agent) Unsubscribe(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.subscribers, id)
}

// Status returns the current lifecycle state.
func (a *Agent) Status() models.SessionStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// HandleSync returns the current status, the running request id if any, and
// every buffered event newer than lastEventID. Safe to call at any time;
// while idle the backlog is empty except after a rejected request, whose
// error event remains replayable until the next run begins.
func (a *Agent) HandleSync(lastEventID int64) protocol.ServerMessage {
	a.mu.Lock()
	status := a.status
	requestID := a.currentRequestID
	a.mu.Unlock()

	return protocol.ServerMessage{
		Type:      protocol.TypeSyncResponse,
		Status:    status,
		RequestID: requestID,
		Events:    a.log.After(lastEventID),
	}
}

// HandleAbort signals cancellation to the in-flight loop when requestID
// matches the running request or is empty. It does not change status; the
// loop's own cleanup transitions to aborted. A no-op while idle.
func (a *Agent) HandleAbort(requestID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != models.StatusRunning {
		return
	}
	if requestID != "" && requestID != a.currentRequestID {
		return
	}
	if a.cancel != nil {
		a.cancel()
	}
}

// HandleChatRequest starts a generation run. The returned frame, if any, is
// a direct reply to the requesting client (busy); everything else travels as
// broadcast. The generation loop runs in the background so this returns
// immediately.
func (a *Agent) HandleChatRequest(msg *protocol.ClientMessage) *protocol.ServerMessage {
	a.mu.Lock()
	// Only idle admits a run. Anything else means a loop is in flight or
	// still tearing down, and admitting now would let two loops share the
	// conversation.
	if a.status != models.StatusIdle {
		current := a.currentRequestID
		a.mu.Unlock()
		return &protocol.ServerMessage{Type: protocol.TypeBusy, CurrentRequestID: current}
	}

	if err := a.validate(msg); err != nil {
		// Rejected before entering running: a degenerate run that carries
		// the failure to clients as an error event plus a chat_finished,
		// with no iteration attempted. The error event stays in the buffer
		// until the next run begins so a client that missed the live frames
		// can still resync it.
		a.log.Begin(msg.RequestID)
		a.mu.Unlock()
		a.logger.Warn("chat request rejected", "request_id", msg.RequestID, "error", err)
		a.emit(protocol.ErrorEvent(err.Error()))
		a.broadcast(protocol.ServerMessage{
			Type:      protocol.TypeChatFinished,
			RequestID: msg.RequestID,
			Status:    models.StatusError,
		})
		return nil
	}

	base := baseState(msg)
	ctx, cancel := context.WithCancel(context.Background())
	a.status = models.StatusRunning
	a.currentRequestID = msg.RequestID
	a.cancel = cancel
	a.done = make(chan struct{})
	done := a.done
	a.log.Begin(msg.RequestID)
	a.mu.Unlock()

	a.broadcast(protocol.ServerMessage{Type: protocol.TypeChatStarted, RequestID: msg.RequestID})
	go a.runLoop(ctx, msg.RequestID, base, done)
	return nil
}

// Shutdown cancels any in-flight run and waits for its cleanup, bounded by
// ctx.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	done := a.done
	a.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) validate(msg *protocol.ClientMessage) error {
	if msg.RequestID == "" {
		return errors.New("chat request missing requestId")
	}
	if msg.Role == "" {
		return errors.New("chat request missing role")
	}
	if a.cfg.Model == "" {
		return errors.New("no model configured")
	}
	if msg.TreeSnapshot == nil && len(msg.ConversationHistory) == 0 {
		return errors.New("chat request carries no conversation history")
	}
	if msg.TreeSnapshot != nil && len(msg.TreeSnapshot.CurrentPath) == 0 {
		return errors.New("chat request tree snapshot has an empty path")
	}
	return nil
}

// baseState resolves the request to a tree snapshot ending at the user's
// message. A full snapshot wins; a flat history is hydrated into a linear
// tree.
func baseState(msg *protocol.ClientMessage) tree.State {
	if msg.TreeSnapshot != nil {
		return *msg.TreeSnapshot
	}
	items := make([]tree.LinearItem, 0, len(msg.ConversationHistory))
	for _, m := range msg.ConversationHistory {
		items = append(items, tree.LinearItem{Role: m.Role, Blocks: m.Blocks, CreatedAt: m.CreatedAt})
	}
	return tree.NewLinearState(items)
}

func (a *Agent) broadcast(msg protocol.ServerMessage) {
	a.mu.Lock()
	fns := make([]func(protocol.ServerMessage), 0, len(a.subscribers))
	for _, fn := range a.subscribers {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

func (a *Agent) emit(event protocol.Event) {
	pe := a.log.Append(event)
	if a.metrics != nil {
		a.metrics.EventsEmitted.WithLabelValues(event.Kind).Inc()
	}
	a.broadcast(protocol.ServerMessage{
		Type:      protocol.TypeChatEvent,
		EventID:   pe.EventID,
		RequestID: pe.RequestID,
		Event:     &pe.Event,
	})
}

// runLoop is the generation loop: one model call per iteration, streaming
// deltas out as events, executing any requested tools, and folding their
// results back into the history until the model stops requesting tools or
// the iteration cap is reached.
func (a *Agent) runLoop(ctx context.Context, requestID string, base tree.State, done chan struct{}) {
	defer close(done)
	if a.metrics != nil {
		a.metrics.SessionsRunning.Inc()
		defer a.metrics.SessionsRunning.Dec()
	}

	queue := newPersistQueue(a.store, a.logger, a.metrics)
	conv, created := a.loadConversation(base)
	if created {
		a.emit(protocol.Event{Kind: protocol.EventConversationCreated, Conversation: conv})
	}

	turns := turnsFromState(base)
	acc := newBlockAccumulator()
	final := models.StatusCompleted
	sawError := false

	toolSpecs := a.toolSpecs()

loop:
	for iteration := 1; iteration <= a.cfg.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			final = models.StatusAborted
			break
		}

		calls, err := a.streamOnce(ctx, turns, toolSpecs, acc)
		if err != nil {
			if isCancellation(ctx, err) {
				final = models.StatusAborted
			} else {
				a.emit(protocol.ErrorEvent(err.Error()))
				sawError = true
			}
			break
		}

		turns = append(turns, provider.Turn{
			Role:      "assistant",
			Content:   acc.IterationText(),
			ToolCalls: calls,
		})

		if len(calls) == 0 {
			break
		}

		results, err := a.runTools(ctx, calls, acc)
		if err != nil {
			if isCancellation(ctx, err) {
				final = models.StatusAborted
			} else {
				a.emit(protocol.ErrorEvent(err.Error()))
				sawError = true
			}
			break
		}
		turns = append(turns, provider.Turn{Role: "tool", ToolResults: results})

		// Snapshots are queued, not awaited: the loop proceeds while a
		// prior write is still in flight.
		queue.Enqueue(record(conv, withAssistant(base, acc)))

		if iteration == a.cfg.MaxIterations {
			a.emit(protocol.ErrorEvent(fmt.Sprintf(
				"generation stopped: iteration cap reached: iteration=%d model=%s provider=%s",
				iteration, a.cfg.Model, a.provider.Name())))
			sawError = true
			break loop
		}
	}

	if final != models.StatusAborted && sawError {
		final = models.StatusError
	}

	// The final snapshot must be durable before finished is broadcast.
	queue.Flush()
	finalConv := record(conv, withAssistant(base, acc))
	if err := a.store.Upsert(context.Background(), finalConv); err != nil {
		a.logger.Error("final snapshot persist failed", "request_id", requestID, "error", err)
		if a.metrics != nil {
			a.metrics.SnapshotPersistFailures.Inc()
		}
		a.emit(protocol.ErrorEvent("failed to persist conversation: " + err.Error()))
		final = models.StatusError
	}

	// Terminal cleanup completes before chat_finished goes out. A client
	// that reacts to finished by sending its next request must find the
	// agent fully idle; resetting after the broadcast would open a window
	// where that request is admitted and then has its state wiped by this
	// loop's teardown. Completed history now lives in storage; the live
	// buffer is done.
	a.mu.Lock()
	a.log.Clear()
	a.status = models.StatusIdle
	a.currentRequestID = ""
	a.cancel = nil
	a.mu.Unlock()

	a.broadcast(protocol.ServerMessage{
		Type:      protocol.TypeChatFinished,
		RequestID: requestID,
		Status:    final,
	})
	a.broadcast(protocol.ServerMessage{
		Type:           protocol.TypeConversationUpdate,
		ConversationID: finalConv.ID,
		Title:          finalConv.Title,
		UpdatedAt:      finalConv.UpdatedAt.UTC().Format(time.RFC3339),
	})
	if a.metrics != nil {
		a.metrics.RunsFinished.WithLabelValues(string(final)).Inc()
	}
	a.logger.Info("run finished", "request_id", requestID, "status", final)
}

// streamOnce performs one model call, emitting content/thinking deltas as
// they stream and collecting any tool calls the model requested.
func (a *Agent) streamOnce(ctx context.Context, turns []provider.Turn, toolSpecs []provider.ToolSpec, acc *blockAccumulator) ([]provider.ToolCall, error) {
	req := &provider.Request{
		Model:     a.cfg.Model,
		System:    a.cfg.SystemPrompt,
		Messages:  turns,
		Tools:     toolSpecs,
		MaxTokens: a.cfg.MaxTokens,
	}

	start := time.Now()
	ch, err := a.provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	acc.BeginIteration()
	var calls []provider.ToolCall
	for chunk := range ch {
		// Buffered chunks may still be in flight after an abort; stop
		// emitting the moment cancellation is observed.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch {
		case chunk.Err != nil:
			return nil, chunk.Err
		case chunk.Text != "":
			acc.AddText(chunk.Text)
			a.emit(protocol.ContentEvent(chunk.Text))
		case chunk.Thinking != "":
			acc.AddThinking(chunk.Thinking)
			a.emit(protocol.ThinkingEvent(chunk.Thinking))
		case chunk.ToolCall != nil:
			calls = append(calls, *chunk.ToolCall)
		}
	}
	if a.metrics != nil {
		a.metrics.LLMRequestDuration.
			WithLabelValues(a.provider.Name(), a.cfg.Model).
			Observe(time.Since(start).Seconds())
	}
	return calls, nil
}

// runTools executes the batch through the pipeline, translating its events
// into protocol events and folding calls/results into the accumulator.
func (a *Agent) runTools(ctx context.Context, calls []provider.ToolCall, acc *blockAccumulator) ([]provider.ToolResult, error) {
	invocations := make([]tools.Invocation, 0, len(calls))
	for _, c := range calls {
		invocations = append(invocations, tools.Invocation{ID: c.ID, Name: c.Name, Args: c.Args})
	}

	results, err := a.pipeline.Run(ctx, invocations, func(ev tools.Event) {
		switch ev.Kind {
		case tools.EventCall:
			acc.AddToolCall(ev.CallID, ev.Tool, ev.Args)
			a.emit(protocol.Event{
				Kind:   protocol.EventToolCall,
				Tool:   ev.Tool,
				Args:   ev.Args,
				CallID: ev.CallID,
			})
		case tools.EventProgress:
			a.emit(protocol.Event{
				Kind:          protocol.EventToolProgress,
				Tool:          ev.Tool,
				CallID:        ev.CallID,
				Stage:         ev.Progress.Stage,
				Message:       ev.Progress.Message,
				ReceivedBytes: ev.Progress.ReceivedBytes,
				TotalBytes:    ev.Progress.TotalBytes,
			})
		case tools.EventResult:
			acc.SetToolResult(ev.CallID, ev.Result)
			if a.metrics != nil {
				status := "success"
				if strings.HasPrefix(ev.Result, "Error:") {
					status = "error"
				}
				a.metrics.ToolExecutions.WithLabelValues(ev.Tool, status).Inc()
			}
			a.emit(protocol.Event{
				Kind:   protocol.EventToolResult,
				Tool:   ev.Tool,
				CallID: ev.CallID,
				Result: ev.Result,
			})
		}
	})
	if err != nil {
		return nil, err
	}

	out := make([]provider.ToolResult, 0, len(results))
	for _, r := range results {
		out = append(out, provider.ToolResult{CallID: r.ID, Result: r.Result})
	}
	return out, nil
}

// loadConversation fetches the persisted record, creating a skeleton with a
// derived title when the conversation does not exist yet.
func (a *Agent) loadConversation(base tree.State) (*models.Conversation, bool) {
	existing, err := a.store.Get(context.Background(), a.conversationID)
	if err == nil {
		if existing.Title == "" {
			existing.Title = deriveTitle(base)
		}
		return existing, false
	}
	if !errors.Is(err, storage.ErrNotFound) {
		a.logger.Warn("conversation load failed", "error", err)
	}
	now := time.Now().UTC()
	return &models.Conversation{
		ID:        a.conversationID,
		Title:     deriveTitle(base),
		CreatedAt: now,
		UpdatedAt: now,
	}, true
}

func (a *Agent) toolSpecs() []provider.ToolSpec {
	if a.registry == nil {
		return nil
	}
	list := a.registry.List()
	specs := make([]provider.ToolSpec, 0, len(list))
	for _, t := range list {
		specs = append(specs, provider.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Schema:      t.Schema,
		})
	}
	return specs
}

// record projects a tree snapshot onto the persisted conversation shape.
func record(conv *models.Conversation, snap tree.State) *models.Conversation {
	return &models.Conversation{
		ID:          conv.ID,
		Title:       conv.Title,
		CurrentPath: snap.CurrentPath,
		Messages:    snap.Messages,
		CreatedAt:   conv.CreatedAt,
		UpdatedAt:   time.Now().UTC(),
	}
}

// withAssistant extends the base snapshot with the assistant reply built so
// far. The base is never mutated, so re-deriving per iteration is safe.
func withAssistant(base tree.State, acc *blockAccumulator) tree.State {
	blocks := acc.Blocks()
	if len(blocks) == 0 {
		return base
	}
	return tree.Add(base, models.RoleAssistant, blocks, time.Now().UTC().Format(time.RFC3339))
}

func turnsFromState(s tree.State) []provider.Turn {
	msgs := tree.MessagesFromPath(s.Messages, s.CurrentPath)
	turns := make([]provider.Turn, 0, len(msgs))
	for _, m := range msgs {
		content := m.ContentText()
		if content == "" {
			continue
		}
		turns = append(turns, provider.Turn{Role: string(m.Role), Content: content})
	}
	return turns
}

// deriveTitle takes the first user message on the active path, trimmed to a
// displayable length.
func deriveTitle(s tree.State) string {
	for _, m := range tree.MessagesFromPath(s.Messages, s.CurrentPath) {
		if m.Role != models.RoleUser {
			continue
		}
		title := strings.TrimSpace(m.ContentText())
		if title == "" {
			continue
		}
		runes := []rune(title)
		if len(runes) > maxTitleRunes {
			title = string(runes[:maxTitleRunes])
		}
		return title
	}
	return ""
}

func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
