// Package client implements the client side of the session protocol: a
// websocket link that syncs, sends generation requests, and delivers events
// exactly once in order via cursor tracking.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/loom/internal/protocol"
	"github.com/haasonsaas/loom/internal/tree"
	"github.com/haasonsaas/loom/pkg/models"
)

const writeWait = 10 * time.Second

// Callbacks receive link activity. All callbacks run on the link's read
// goroutine; they must not block. Every callback carries the requestId it
// belongs to so callers can drop stale deliveries, but the link already
// filters events to the tracked request.
type Callbacks struct {
	// OnSync delivers the initial state after each sync round trip.
	OnSync func(status models.SessionStatus, requestID string)
	// OnStarted fires when the tracked generation request begins.
	OnStarted func(requestID string)
	// OnBusy fires when a request was rejected because another is running.
	OnBusy func(currentRequestID string)
	// OnFinished fires on the tracked request's terminal status.
	OnFinished func(requestID string, status models.SessionStatus)
	// OnEvent delivers each event exactly once, in eventId order.
	OnEvent func(requestID string, event protocol.Event)
	// OnConversationUpdate delivers out-of-band title/metadata pushes.
	OnConversationUpdate func(conversationID, title string)
}

// Link is one client connection bound to a single conversation.
type Link struct {
	conversationID string
	callbacks      Callbacks
	logger         *slog.Logger
	conn           *websocket.Conn

	writeMu sync.Mutex

	mu               sync.Mutex
	lastEventID      int64
	trackedRequestID string

	done chan struct{}
}

// NewRequestID generates a request token for SendMessage.
func NewRequestID() string {
	return uuid.NewString()
}

// Dial connects to the gateway's /ws endpoint and starts the read loop. url
// uses the ws or wss scheme.
func Dial(ctx context.Context, url, conversationID string, callbacks Callbacks, logger *slog.Logger) (*Link, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	l := &Link{
		conversationID: conversationID,
		callbacks:      callbacks,
		logger:         logger.With("conversation_id", conversationID),
		conn:           conn,
		done:           make(chan struct{}),
	}
	go l.readLoop()
	return l, nil
}

// Sync requests the current status and every event past the link's cursor.
// The response arrives via OnSync and OnEvent.
func (l *Link) Sync() error {
	l.mu.Lock()
	cursor := l.lastEventID
	l.mu.Unlock()
	return l.write(protocol.ClientMessage{
		Type:           protocol.TypeSync,
		ConversationID: l.conversationID,
		LastEventID:    cursor,
	})
}

// SendMessage syncs, then submits a generation request. The link tracks
// requestID from here on: events and statuses of any other request are not
// delivered. snapshot wins over history when both are given.
func (l *Link) SendMessage(requestID string, role models.Role, history []models.Message, snapshot *tree.State) error {
	if err := l.Sync(); err != nil {
		return err
	}

	l.mu.Lock()
	l.trackedRequestID = requestID
	l.mu.Unlock()

	return l.write(protocol.ClientMessage{
		Type:                protocol.TypeChatRequest,
		ConversationID:      l.conversationID,
		RequestID:           requestID,
		Role:                role,
		ConversationHistory: history,
		TreeSnapshot:        snapshot,
	})
}

// Abort asks the gateway to cancel the run. An empty requestID cancels
// whatever is running.
func (l *Link) Abort(requestID string) error {
	return l.write(protocol.ClientMessage{
		Type:           protocol.TypeAbort,
		ConversationID: l.conversationID,
		RequestID:      requestID,
	})
}

// Close tears down the connection. The read loop exits shortly after.
func (l *Link) Close() error {
	return l.conn.Close()
}

// Done is closed when the read loop exits, whether by Close or socket
// failure. Socket failure is locally recoverable: dial again and Sync.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

func (l *Link) write(msg protocol.ClientMessage) error {
	raw, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
	return l.conn.WriteMessage(websocket.TextMessage, raw)
}

func (l *Link) readLoop() {
	defer close(l.done)
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.DecodeServer(data)
		if err != nil {
			l.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		l.dispatch(msg)
	}
}

func (l *Link) dispatch(msg *protocol.ServerMessage) {
	switch msg.Type {
	case protocol.TypeSyncResponse:
		l.mu.Lock()
		// A late joiner adopts the run already in flight.
		if l.trackedRequestID == "" && msg.RequestID != "" {
			l.trackedRequestID = msg.RequestID
		}
		l.mu.Unlock()
		if l.callbacks.OnSync != nil {
			l.callbacks.OnSync(msg.Status, msg.RequestID)
		}
		for _, pe := range msg.Events {
			l.applyEvent(pe.EventID, pe.RequestID, pe.Event)
		}

	case protocol.TypeChatStarted:
		if !l.tracking(msg.RequestID) {
			return
		}
		// Event ids restart at 1 with each run.
		l.mu.Lock()
		l.lastEventID = 0
		l.mu.Unlock()
		if l.callbacks.OnStarted != nil {
			l.callbacks.OnStarted(msg.RequestID)
		}

	case protocol.TypeChatEvent:
		if msg.Event == nil {
			return
		}
		l.applyEvent(msg.EventID, msg.RequestID, *msg.Event)

	case protocol.TypeChatFinished:
		if !l.tracking(msg.RequestID) {
			return
		}
		l.mu.Lock()
		l.trackedRequestID = ""
		l.lastEventID = 0
		l.mu.Unlock()
		if l.callbacks.OnFinished != nil {
			l.callbacks.OnFinished(msg.RequestID, msg.Status)
		}

	case protocol.TypeBusy:
		if l.callbacks.OnBusy != nil {
			l.callbacks.OnBusy(msg.CurrentRequestID)
		}

	case protocol.TypeConversationUpdate:
		if l.callbacks.OnConversationUpdate != nil {
			l.callbacks.OnConversationUpdate(msg.ConversationID, msg.Title)
		}
	}
}

// applyEvent advances the cursor and delivers the event when it is new and
// belongs to the tracked request. Replayed and live events share this path,
// so re-delivery is idempotent.
func (l *Link) applyEvent(eventID int64, requestID string, event protocol.Event) {
	l.mu.Lock()
	if eventID <= l.lastEventID {
		l.mu.Unlock()
		return
	}
	l.lastEventID = eventID
	tracked := l.trackedRequestID
	l.mu.Unlock()

	if tracked != "" && requestID != tracked {
		return
	}
	if l.callbacks.OnEvent != nil {
		l.callbacks.OnEvent(requestID, event)
	}
}

func (l *Link) tracking(requestID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.trackedRequestID == "" || l.trackedRequestID == requestID
}
