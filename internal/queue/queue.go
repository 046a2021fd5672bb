package queue

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/driftnotes/internal/cache"
	"go.uber.org/zap"
)

// ApplyFunc applies one pending operation against the remote store. A
// returned error stops the current drain pass.
type ApplyFunc func(ctx context.Context, op Operation) error

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Applied   int
	Remaining int
	Failed    *Operation
	Err       error
}

// QueueConfig captures the dependencies for an offline queue.
type QueueConfig struct {
	Cache  cache.Cache
	Logger *zap.Logger
}

// Queue is the FIFO log of pending mutations. Every mutation of the queue is
// mirrored to the local cache before the call returns, so a restart resumes
// with the same pending set.
type Queue struct {
	mu         sync.Mutex
	operations []Operation
	store      cache.Cache
	logger     *zap.Logger
}

// New constructs an empty queue backed by the given cache. The cache may be
// nil, in which case the queue is memory-only.
func New(cfg QueueConfig) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{store: cfg.Cache, logger: logger}
}

// Load restores the persisted queue mirror. A missing or corrupt mirror
// degrades to an empty queue with a logged warning.
func (q *Queue) Load() {
	if q.store == nil {
		return
	}
	var restored []Operation
	if !q.store.Get(cache.KeyOfflineQueue, &restored) {
		return
	}
	q.mu.Lock()
	q.operations = restored
	q.mu.Unlock()
	if len(restored) > 0 {
		q.logger.Info("offline queue restored", zap.Int("pending", len(restored)))
	}
}

// Enqueue appends the operation to the tail and persists the mirror before
// returning.
func (q *Queue) Enqueue(op Operation) {
	q.mu.Lock()
	q.operations = append(q.operations, op)
	snapshot := append([]Operation(nil), q.operations...)
	q.mu.Unlock()
	q.persist(snapshot)
	q.logger.Debug("operation enqueued",
		zap.String("operation_id", op.ID),
		zap.String("kind", string(op.Kind)),
		zap.String("note_id", op.NoteID()))
}

// Remove deletes the operation with the given identifier, preserving the
// order of the rest. Used when a user explicitly abandons a stuck operation.
func (q *Queue) Remove(operationID string) bool {
	q.mu.Lock()
	removed := false
	kept := q.operations[:0]
	for _, op := range q.operations {
		if op.ID == operationID {
			removed = true
			continue
		}
		kept = append(kept, op)
	}
	q.operations = kept
	snapshot := append([]Operation(nil), q.operations...)
	q.mu.Unlock()
	if removed {
		q.persist(snapshot)
	}
	return removed
}

// Clear drops every pending operation.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.operations = nil
	q.mu.Unlock()
	q.persist(nil)
}

// Len reports the number of pending operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.operations)
}

// Operations returns a snapshot of the pending operations in FIFO order.
func (q *Queue) Operations() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Operation(nil), q.operations...)
}

// PendingNoteIDs reports the set of note identifiers with at least one
// queued operation.
func (q *Queue) PendingNoteIDs() map[string]struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := make(map[string]struct{}, len(q.operations))
	for _, op := range q.operations {
		if noteID := op.NoteID(); noteID != "" {
			pending[noteID] = struct{}{}
		}
	}
	return pending
}

// Drain replays pending operations in FIFO order. Each success is removed
// immediately so it is never replayed; the first failure is retained at its
// original position and the pass stops, since later operations may depend on
// earlier ones. Draining an empty queue performs no calls.
func (q *Queue) Drain(ctx context.Context, apply ApplyFunc) DrainResult {
	result := DrainResult{}
	for {
		q.mu.Lock()
		if len(q.operations) == 0 {
			result.Remaining = 0
			q.mu.Unlock()
			return result
		}
		head := q.operations[0]
		q.mu.Unlock()

		if err := apply(ctx, head); err != nil {
			failed := head
			result.Failed = &failed
			result.Err = err
			result.Remaining = q.Len()
			q.logger.Warn("queue drain halted",
				zap.String("operation_id", head.ID),
				zap.String("kind", string(head.Kind)),
				zap.String("note_id", head.NoteID()),
				zap.Int("remaining", result.Remaining),
				zap.Error(err))
			return result
		}

		q.mu.Lock()
		if len(q.operations) > 0 && q.operations[0].ID == head.ID {
			q.operations = q.operations[1:]
		}
		snapshot := append([]Operation(nil), q.operations...)
		q.mu.Unlock()
		q.persist(snapshot)
		result.Applied++
	}
}

func (q *Queue) persist(snapshot []Operation) {
	if q.store == nil {
		return
	}
	if snapshot == nil {
		snapshot = []Operation{}
	}
	if !q.store.Set(cache.KeyOfflineQueue, snapshot) {
		// Best effort: the in-memory queue stays authoritative.
		q.logger.Warn("offline queue mirror write failed", zap.Int("pending", len(snapshot)))
	}
}
