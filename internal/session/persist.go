package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/haasonsaas/loom/internal/observability"
	"github.com/haasonsaas/loom/internal/storage"
	"github.com/haasonsaas/loom/pkg/models"
)

// persistQueue serializes snapshot writes so the generation loop never
// blocks on storage. Writes are coalesced: if a new snapshot is enqueued
// while one is in flight, only the newest pending snapshot is written.
// Mid-run write failures are logged and counted, not surfaced; the loop's
// final snapshot is written synchronously by the caller after Flush.
type persistQueue struct {
	store   storage.Store
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	pending *models.Conversation
	busy    bool
	idle    *sync.Cond
}

func newPersistQueue(store storage.Store, logger *slog.Logger, metrics *observability.Metrics) *persistQueue {
	q := &persistQueue{store: store, logger: logger, metrics: metrics}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Enqueue schedules a snapshot write and returns immediately.
func (q *persistQueue) Enqueue(conv *models.Conversation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = conv
	if q.busy {
		return
	}
	q.busy = true
	go q.drain()
}

func (q *persistQueue) drain() {
	for {
		q.mu.Lock()
		conv := q.pending
		q.pending = nil
		if conv == nil {
			q.busy = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		if err := q.store.Upsert(context.Background(), conv); err != nil {
			q.logger.Warn("snapshot persist failed", "conversation_id", conv.ID, "error", err)
			if q.metrics != nil {
				q.metrics.SnapshotPersistFailures.Inc()
			}
		}
	}
}

// Flush blocks until every enqueued write has been attempted.
func (q *persistQueue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.busy {
		q.idle.Wait()
	}
}
