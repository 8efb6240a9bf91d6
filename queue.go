package syncengine

import (
	"encoding/json"
	"log/slog"
	"sync"

	syncErrors "github.com/kinetra/sync-engine/errors"
)

// Default storage keys for the two persisted queue sets.
const (
	DefaultPendingKey = "sync:pending"
	DefaultFailedKey  = "sync:failed"
)

// SyncQueue is the durable, priority-ordered holding area for pending work
// plus the dead-letter set of items that exhausted their retry budget.
//
// Every mutating call is a serialized critical section that re-serializes both
// sets to the backing Store before returning, so a crash never loses an
// acknowledged mutation. Ordering is strict priority precedence with FIFO
// fairness inside a priority band; no aging is applied, so low-priority items
// can starve behind a sustained high-priority stream. That tradeoff is
// deliberate: delivery order matters more than fairness here.
type SyncQueue struct {
	mu         sync.Mutex
	store      Store
	pendingKey string
	failedKey  string
	logger     *slog.Logger

	pending []SyncItem
	failed  map[string]SyncItem
}

// QueueOption customises a SyncQueue.
type QueueOption func(*SyncQueue)

// WithQueueKeys overrides the storage keys for the pending and failed sets.
func WithQueueKeys(pendingKey, failedKey string) QueueOption {
	return func(q *SyncQueue) {
		q.pendingKey = pendingKey
		q.failedKey = failedKey
	}
}

// WithQueueLogger sets the queue's logger.
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *SyncQueue) {
		q.logger = logger.With("component", "queue")
	}
}

// NewSyncQueue creates a queue over store and loads any previously persisted
// state. Missing or corrupted stored data resets to an empty queue; Load never
// fails the caller.
func NewSyncQueue(store Store, opts ...QueueOption) *SyncQueue {
	q := &SyncQueue{
		store:      store,
		pendingKey: DefaultPendingKey,
		failedKey:  DefaultFailedKey,
		logger:     slog.Default().With("component", "queue"),
		failed:     make(map[string]SyncItem),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.Load()
	return q
}

// Load restores both sets from storage. Malformed or absent entries are
// treated as empty collections, never as fatal errors: losing a corrupt queue
// is recoverable, refusing to start is not.
func (q *SyncQueue) Load() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = nil
	q.failed = make(map[string]SyncItem)

	if raw, ok, err := q.store.Get(q.pendingKey); err != nil {
		q.logger.Warn("failed to read pending set, starting empty", "error", err)
	} else if ok {
		var items []SyncItem
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			q.logger.Warn("corrupted pending set, starting empty", "error", err)
		} else {
			q.pending = items
		}
	}

	if raw, ok, err := q.store.Get(q.failedKey); err != nil {
		q.logger.Warn("failed to read failed set, starting empty", "error", err)
	} else if ok {
		var items map[string]SyncItem
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			q.logger.Warn("corrupted failed set, starting empty", "error", err)
		} else {
			q.failed = items
		}
	}

	q.logger.Debug("queue loaded", "pending", len(q.pending), "failed", len(q.failed))
}

// Enqueue inserts item into the pending set by priority. It is idempotent: if
// the id is already pending the call is a no-op. If the id sits in the
// dead-letter set it is rescued from there first.
func (q *SyncQueue) Enqueue(item SyncItem) error {
	// Detach from the caller's payload map so later producer mutations
	// cannot reach queue state.
	item = item.Clone()

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, existing := range q.pending {
		if existing.ID == item.ID {
			q.logger.Debug("enqueue ignored, id already pending", "id", item.ID)
			return nil
		}
	}

	rescued, wasFailed := q.failed[item.ID]
	if wasFailed {
		delete(q.failed, item.ID)
		q.logger.Debug("rescued item from dead-letter set", "id", item.ID)
	}

	q.insertByPriority(item)
	if err := q.persist(); err != nil {
		// Roll back so the caller's failure report matches queue state.
		q.removePendingLocked(item.ID)
		if wasFailed {
			q.failed[item.ID] = rescued
		}
		return err
	}
	q.logger.Debug("item enqueued",
		"id", item.ID,
		"entity", string(item.EntityType),
		"operation", string(item.OperationType),
		"priority", item.Priority.String(),
		"pending", len(q.pending))
	return nil
}

// insertByPriority scans from the front and inserts immediately before the
// first element whose priority is strictly lower, appending if none is found.
// Equal-priority items therefore stay FIFO by arrival.
func (q *SyncQueue) insertByPriority(item SyncItem) {
	idx := len(q.pending)
	for i, existing := range q.pending {
		if existing.Priority < item.Priority {
			idx = i
			break
		}
	}
	q.pending = append(q.pending, SyncItem{})
	copy(q.pending[idx+1:], q.pending[idx:])
	q.pending[idx] = item
}

// Peek returns the head of the pending list without removing it.
func (q *SyncQueue) Peek() (SyncItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return SyncItem{}, false
	}
	return q.pending[0].Clone(), true
}

// Dequeue removes and returns the item Peek would return.
func (q *SyncQueue) Dequeue() (SyncItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return SyncItem{}, false
	}
	item := q.pending[0]
	q.pending = q.pending[1:]
	if err := q.persist(); err != nil {
		q.logger.Warn("persist after dequeue failed", "id", item.ID, "error", err)
	}
	return item, true
}

// MarkCompleted removes id from both sets. Idempotent.
func (q *SyncQueue) MarkCompleted(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := q.removePendingLocked(id)
	if _, ok := q.failed[id]; ok {
		delete(q.failed, id)
		removed = true
	}
	if !removed {
		return nil
	}
	q.logger.Debug("item completed", "id", id)
	return q.persist()
}

// MarkFailed records a failed attempt for a pending item. The item's retry
// counter is advanced; if budget remains it is re-inserted by priority,
// otherwise it moves to the dead-letter set. A no-op if id is not pending.
func (q *SyncQueue) MarkFailed(id, errMsg string, maxRetries int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.takePendingLocked(id)
	if !ok {
		return nil
	}

	item = item.IncrementRetry(errMsg)
	if item.ShouldRetry(maxRetries) {
		q.insertByPriority(item)
		q.logger.Debug("item scheduled for retry",
			"id", id, "retry_count", item.RetryCount, "error", errMsg)
	} else {
		q.failed[id] = item
		q.logger.Warn("item moved to dead-letter set",
			"id", id, "retry_count", item.RetryCount, "error", errMsg)
	}
	return q.persist()
}

// MarkFailedPermanently moves a pending item straight to the dead-letter set
// without consuming retry budget. Used for permanent (validation) failures
// where retrying cannot change the outcome.
func (q *SyncQueue) MarkFailedPermanently(id, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.takePendingLocked(id)
	if !ok {
		return nil
	}

	q.failed[id] = item.WithError(errMsg)
	q.logger.Warn("item dead-lettered without retry", "id", id, "error", errMsg)
	return q.persist()
}

// RetryFailed moves one dead-lettered item back into pending, preserving its
// retry count. A no-op if id is not in the failed set.
func (q *SyncQueue) RetryFailed(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.failed[id]
	if !ok {
		return nil
	}
	delete(q.failed, id)
	q.insertByPriority(item)
	q.logger.Info("failed item requeued", "id", id, "retry_count", item.RetryCount)
	return q.persist()
}

// RetryAllFailed moves every dead-lettered item back into pending, preserving
// retry counts.
func (q *SyncQueue) RetryAllFailed() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.failed) == 0 {
		return nil
	}
	for id, item := range q.failed {
		delete(q.failed, id)
		q.insertByPriority(item)
	}
	q.logger.Info("all failed items requeued", "pending", len(q.pending))
	return q.persist()
}

// Remove deletes id from the pending set.
func (q *SyncQueue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.removePendingLocked(id) {
		return nil
	}
	return q.persist()
}

// Clear empties the pending set.
func (q *SyncQueue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = nil
	return q.persist()
}

// ClearFailed empties the dead-letter set.
func (q *SyncQueue) ClearFailed() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.failed = make(map[string]SyncItem)
	return q.persist()
}

// PendingItems returns a deep-copied snapshot of the pending list in drain
// order.
func (q *SyncQueue) PendingItems() []SyncItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]SyncItem, len(q.pending))
	for i, item := range q.pending {
		out[i] = item.Clone()
	}
	return out
}

// FailedItems returns a deep-copied snapshot of the dead-letter set.
func (q *SyncQueue) FailedItems() map[string]SyncItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[string]SyncItem, len(q.failed))
	for id, item := range q.failed {
		out[id] = item.Clone()
	}
	return out
}

// PendingCount returns the number of pending items.
func (q *SyncQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// FailedCount returns the number of dead-lettered items.
func (q *SyncQueue) FailedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.failed)
}

func (q *SyncQueue) removePendingLocked(id string) bool {
	for i, item := range q.pending {
		if item.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (q *SyncQueue) takePendingLocked(id string) (SyncItem, bool) {
	for i, item := range q.pending {
		if item.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return item, true
		}
	}
	return SyncItem{}, false
}

// persist re-serializes both sets. Callers hold q.mu.
func (q *SyncQueue) persist() error {
	pending := q.pending
	if pending == nil {
		pending = []SyncItem{}
	}
	pendingRaw, err := json.Marshal(pending)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpPersist, err)
	}
	failedRaw, err := json.Marshal(q.failed)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpPersist, err)
	}

	if err := q.store.Set(q.pendingKey, string(pendingRaw)); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpPersist, err)
	}
	if err := q.store.Set(q.failedKey, string(failedRaw)); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpPersist, err)
	}
	return nil
}
