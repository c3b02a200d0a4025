package session

import (
	"sync"
	"time"

	"github.com/haasonsaas/loom/internal/protocol"
)

// EventLog is the in-memory buffer of events for one generation run. Event
// ids are strictly increasing and restart at 1 each time a run begins; the
// buffer is cleared on the run's terminal transition, after which completed
// history lives only in persistent storage.
type EventLog struct {
	mu        sync.Mutex
	requestID string
	nextID    int64
	events    []protocol.PersistedEvent
	now       func() time.Time
}

// NewEventLog creates an empty log.
func NewEventLog() *EventLog {
	return &EventLog{now: time.Now}
}

// Begin resets the log for a new run. The first Append after Begin is
// assigned event id 1.
func (l *EventLog) Begin(requestID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requestID = requestID
	l.nextID = 1
	l.events = nil
}

// Append wraps the event with the next id and buffers it.
func (l *EventLog) Append(event protocol.Event) protocol.PersistedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.nextID < 1 {
		l.nextID = 1
	}
	pe := protocol.PersistedEvent{
		EventID:   l.nextID,
		RequestID: l.requestID,
		Event:     event,
		CreatedAt: l.now().UTC(),
	}
	l.nextID++
	l.events = append(l.events, pe)
	return pe
}

// After returns a copy of every buffered event with id greater than
// lastEventID, in ascending order.
func (l *EventLog) After(lastEventID int64) []protocol.PersistedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []protocol.PersistedEvent
	for _, pe := range l.events {
		if pe.EventID > lastEventID {
			out = append(out, pe)
		}
	}
	return out
}

// Len returns the number of buffered events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Clear drops the buffer. Ids are not reset until the next Begin.
func (l *EventLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}
