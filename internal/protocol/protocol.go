// Package protocol defines the JSON wire messages exchanged between a Loom
// client and the session gateway over a persistent websocket connection.
//
// Both directions use a tagged union: every frame carries a "type" field and
// is decoded at exactly one dispatch point per side (Decode / DecodeServer).
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/loom/internal/tree"
	"github.com/haasonsaas/loom/pkg/models"
)

// Client-to-server message types.
const (
	TypeSync        = "sync"
	TypeChatRequest = "chat_request"
	TypeAbort       = "abort"
)

// Server-to-client message types.
const (
	TypeSyncResponse       = "sync_response"
	TypeChatStarted        = "chat_started"
	TypeChatEvent          = "chat_event"
	TypeChatFinished       = "chat_finished"
	TypeBusy               = "busy"
	TypeConversationUpdate = "conversation_update"
)

// ClientMessage is a decoded client-to-server frame. Type selects which of
// the payload fields are meaningful.
type ClientMessage struct {
	Type string `json:"type"`

	// sync
	ConversationID string `json:"conversationId,omitempty"`
	LastEventID    int64  `json:"lastEventId,omitempty"`

	// chat_request
	RequestID           string           `json:"requestId,omitempty"`
	Role                models.Role      `json:"role,omitempty"`
	ConversationHistory []models.Message `json:"conversationHistory,omitempty"`
	TreeSnapshot        *tree.State      `json:"treeSnapshot,omitempty"`
}

// ServerMessage is a decoded server-to-client frame.
type ServerMessage struct {
	Type string `json:"type"`

	// sync_response (current status) / chat_finished (final status)
	Status    models.SessionStatus `json:"status,omitempty"`
	RequestID string               `json:"requestId,omitempty"`
	Events    []PersistedEvent     `json:"events,omitempty"`

	// chat_event
	EventID int64  `json:"eventId,omitempty"`
	Event   *Event `json:"event,omitempty"`

	// busy
	CurrentRequestID string `json:"currentRequestId,omitempty"`

	// conversation_update
	ConversationID string `json:"conversationId,omitempty"`
	Title          string `json:"title,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

// Event kinds carried inside chat_event frames.
const (
	EventContent             = "content"
	EventThinking            = "thinking"
	EventToolCall            = "tool_call"
	EventToolProgress        = "tool_progress"
	EventToolResult          = "tool_result"
	EventError               = "error"
	EventConversationCreated = "conversation_created"
	EventConversationUpdated = "conversation_updated"
)

// Event is one structured server event emitted during a generation run.
// Kind selects the meaningful fields.
type Event struct {
	Kind string `json:"kind"`

	// content / thinking
	Content string `json:"content,omitempty"`

	// tool_call / tool_progress / tool_result
	Tool   string          `json:"tool,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	CallID string          `json:"callId,omitempty"`

	// tool_progress
	Stage         string `json:"stage,omitempty"`
	Message       string `json:"message,omitempty"`
	ReceivedBytes int64  `json:"receivedBytes,omitempty"`
	TotalBytes    int64  `json:"totalBytes,omitempty"`

	// tool_result
	Result string `json:"result,omitempty"`

	// error
	ErrorMessage string `json:"errorMessage,omitempty"`

	// conversation_created / conversation_updated
	Conversation *models.Conversation `json:"conversation,omitempty"`
}

// PersistedEvent wraps an Event with its position in the per-request event
// log. EventID is monotonic starting at 1 for each run; RequestID lets
// clients discard events from a generation attempt they no longer track.
type PersistedEvent struct {
	EventID   int64     `json:"eventId"`
	RequestID string    `json:"requestId"`
	Event     Event     `json:"event"`
	CreatedAt time.Time `json:"createdAt"`
}

// Decode parses a client-to-server frame and validates its type tag.
func Decode(raw []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("protocol: malformed frame: %w", err)
	}
	switch msg.Type {
	case TypeSync, TypeChatRequest, TypeAbort:
		return &msg, nil
	case "":
		return nil, fmt.Errorf("protocol: frame missing type")
	default:
		return nil, fmt.Errorf("protocol: unknown client message type %q", msg.Type)
	}
}

// DecodeServer parses a server-to-client frame and validates its type tag.
func DecodeServer(raw []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("protocol: malformed frame: %w", err)
	}
	switch msg.Type {
	case TypeSyncResponse, TypeChatStarted, TypeChatEvent, TypeChatFinished,
		TypeBusy, TypeConversationUpdate:
		return &msg, nil
	case "":
		return nil, fmt.Errorf("protocol: frame missing type")
	default:
		return nil, fmt.Errorf("protocol: unknown server message type %q", msg.Type)
	}
}

// Encode marshals any frame for the wire.
func Encode(msg any) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return raw, nil
}

// ContentEvent builds a content delta event.
func ContentEvent(text string) Event {
	return Event{Kind: EventContent, Content: text}
}

// ThinkingEvent builds a thinking delta event.
func ThinkingEvent(text string) Event {
	return Event{Kind: EventThinking, Content: text}
}

// ErrorEvent builds an error event.
func ErrorEvent(message string) Event {
	return Event{Kind: EventError, ErrorMessage: message}
}
