package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/haasonsaas/loom/pkg/models"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*models.Conversation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*models.Conversation)}
}

// Get returns a copy of the stored record.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *conv
	return &c, nil
}

// Upsert stores a copy of the record.
func (s *MemoryStore) Upsert(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *conv
	s.convs[conv.ID] = &c
	return nil
}

// List returns conversations ordered by most recent update.
func (s *MemoryStore) List(ctx context.Context, limit, offset int) ([]*models.Conversation, error) {
	s.mu.RLock()
	all := make([]*models.Conversation, 0, len(s.convs))
	for _, conv := range s.convs {
		c := *conv
		all = append(all, &c)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// Delete removes a conversation.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return ErrNotFound
	}
	delete(s.convs, id)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
