package models

import "time"

// SessionStatus is the lifecycle state of a conversation's session agent.
type SessionStatus string

const (
	StatusIdle      SessionStatus = "idle"
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusAborted   SessionStatus = "aborted"
	StatusError     SessionStatus = "error"
)

// Terminal reports whether the status is a terminal outcome of a run.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted || s == StatusError
}

// Conversation is the persisted record for one conversation, keyed by id.
// The session core treats storage as a get/upsert interface over this record
// and does not depend on any further schema.
type Conversation struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	CurrentPath []int     `json:"current_path"`
	Messages    []Message `json:"messages"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
