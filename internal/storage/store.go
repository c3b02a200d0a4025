// Package storage persists conversation records. The session core only
// depends on the get/upsert contract; list and delete exist for the CLI and
// the web surface.
package storage

import (
	"context"
	"errors"

	"github.com/haasonsaas/loom/pkg/models"
)

// ErrNotFound is returned when a conversation id does not resolve.
var ErrNotFound = errors.New("conversation not found")

// Store is the conversation record store.
type Store interface {
	// Get returns the conversation with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Conversation, error)

	// Upsert writes the record, inserting or replacing by id.
	Upsert(ctx context.Context, conv *models.Conversation) error

	// List returns conversations ordered by most recent update.
	List(ctx context.Context, limit, offset int) ([]*models.Conversation, error)

	// Delete removes a whole conversation. Individual messages are never
	// deleted; this is the only destructive operation.
	Delete(ctx context.Context, id string) error

	// Close releases underlying resources.
	Close() error
}
