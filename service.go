package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	syncErrors "github.com/kinetra/sync-engine/errors"
)

// DefaultMaxRetries is the retry budget applied when none is configured.
const DefaultMaxRetries = 5

// Transport performs the remote create/update/delete call for a single item,
// using the item's id as the idempotency key. The returned error carries the
// three-way outcome: nil is success, a retryable *errors.SyncError is a
// transient failure, anything else is permanent.
type Transport interface {
	Send(ctx context.Context, item SyncItem) error
	Close() error
}

// SyncService owns the SyncState and drains the queue against the transport.
// Exactly one drain runs at a time; the syncing status itself is the mutual
// exclusion guard, so a concurrent trigger while a drain is in flight is a
// no-op.
type SyncService struct {
	queue      *SyncQueue
	transport  Transport
	backoff    *ExponentialBackoff
	resolver   ConflictResolver
	maxRetries int
	metrics    MetricsCollector
	logger     *slog.Logger

	mu          sync.Mutex
	state       SyncState
	subscribers []func(SyncState)
	disposed    bool
}

// ServiceOption customises a SyncService.
type ServiceOption func(*SyncService)

// WithMaxRetries overrides the retry budget.
func WithMaxRetries(n int) ServiceOption {
	return func(s *SyncService) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithConflictResolver sets the strategy applied when the server reports a
// version conflict for an item.
func WithConflictResolver(r ConflictResolver) ServiceOption {
	return func(s *SyncService) { s.resolver = r }
}

// WithServiceMetrics sets the metrics collector.
func WithServiceMetrics(m MetricsCollector) ServiceOption {
	return func(s *SyncService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithServiceLogger sets the service's logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *SyncService) {
		s.logger = logger.With("component", "service")
	}
}

// NewSyncService constructs a service over queue, transport and backoff. The
// initial state is idle and offline until the connectivity signal arrives via
// SetOnline.
func NewSyncService(queue *SyncQueue, transport Transport, backoff *ExponentialBackoff, opts ...ServiceOption) *SyncService {
	s := &SyncService{
		queue:      queue,
		transport:  transport,
		backoff:    backoff,
		resolver:   &ServerWinsResolver{},
		maxRetries: DefaultMaxRetries,
		metrics:    &NoOpMetricsCollector{},
		logger:     slog.Default().With("component", "service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state = SyncState{
		Status:       StatusOffline,
		PendingCount: queue.PendingCount(),
		FailedCount:  queue.FailedCount(),
	}
	return s
}

// State returns the current state snapshot.
func (s *SyncService) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers an observer of state changes. Observers receive a copy
// of every new state; panics in an observer are isolated. The returned
// function unsubscribes.
func (s *SyncService) Subscribe(fn func(SyncState)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = append(s.subscribers, fn)
	idx := len(s.subscribers) - 1

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if idx < len(s.subscribers) {
			s.subscribers[idx] = nil
		}
	}
}

// Enqueue creates a SyncItem and adds it to the queue. An empty id gets a
// generated UUID; the id is the idempotency key for remote submission, so
// producers that retry their own enqueue must pass a stable id.
func (s *SyncService) Enqueue(entityType EntityType, operationType OperationType, id string, data map[string]any, priority Priority) (SyncItem, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return SyncItem{}, syncErrors.New(syncErrors.OpEnqueue, fmt.Errorf("sync service is disposed"))
	}
	s.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	item := NewSyncItem(id, entityType, operationType, data, priority)
	if err := s.queue.Enqueue(item); err != nil {
		s.logger.Error("enqueue failed to persist", "id", id, "error", err)
		return SyncItem{}, err
	}

	s.refreshCounts()
	return item, nil
}

// SetOnline feeds the derived connectivity signal into the state machine.
// Going offline forces the offline status regardless of the drain loop; the
// drain notices on its next iteration. Coming back online restores idle.
func (s *SyncService) SetOnline(online bool) {
	s.mu.Lock()
	if s.disposed || s.state.IsOnline == online {
		s.mu.Unlock()
		return
	}
	s.state.IsOnline = online
	if !online {
		s.state.Status = StatusOffline
	} else if s.state.Status == StatusOffline {
		s.state.Status = StatusIdle
	}
	state := s.state
	s.mu.Unlock()

	s.logger.Info("connectivity signal applied", "online", online, "status", string(state.Status))
	s.notify(state)
}

// RetryFailed moves one dead-lettered item back to pending.
func (s *SyncService) RetryFailed(id string) error {
	if err := s.queue.RetryFailed(id); err != nil {
		return err
	}
	s.refreshCounts()
	return nil
}

// RetryAllFailed moves every dead-lettered item back to pending.
func (s *SyncService) RetryAllFailed() error {
	if err := s.queue.RetryAllFailed(); err != nil {
		return err
	}
	s.refreshCounts()
	return nil
}

// SyncPendingItems drains the queue sequentially against the transport.
// Items are never processed in parallel, preserving per-entity operation
// ordering. If a drain is already in flight, or the service cannot sync
// (offline, disposed), the call is a no-op; the next periodic tick or
// connectivity event will retry.
func (s *SyncService) SyncPendingItems(ctx context.Context) error {
	if s.transport == nil {
		s.setError("sync transport not configured")
		return syncErrors.New(syncErrors.OpDrain, fmt.Errorf("transport not configured"))
	}

	if !s.beginDrain() {
		return nil
	}

	start := time.Now()
	s.logger.Info("drain started", "pending", s.queue.PendingCount())

	err := s.drain(ctx)

	s.metrics.RecordDrainDuration(time.Since(start))
	s.endDrain(err)
	return err
}

// beginDrain atomically checks canSync and flips the status to syncing. This
// is the reentrancy guard: false means another drain is running or syncing is
// not currently possible.
func (s *SyncService) beginDrain() bool {
	s.mu.Lock()
	if s.disposed || !s.state.CanSync() {
		s.mu.Unlock()
		return false
	}
	s.state.Status = StatusSyncing
	s.state.ErrorMessage = ""
	state := s.state
	s.mu.Unlock()

	s.notify(state)
	return true
}

func (s *SyncService) endDrain(drainErr error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.state.PendingCount = s.queue.PendingCount()
	s.state.FailedCount = s.queue.FailedCount()

	switch {
	case !s.state.IsOnline:
		s.state.Status = StatusOffline
	case drainErr != nil:
		s.state.Status = StatusError
		s.state.ErrorMessage = drainErr.Error()
	default:
		s.state.Status = StatusIdle
		if s.state.PendingCount == 0 {
			now := time.Now().UTC()
			s.state.LastSyncAt = &now
		}
	}
	state := s.state
	s.mu.Unlock()

	s.logger.Info("drain finished",
		"status", string(state.Status),
		"pending", state.PendingCount,
		"failed", state.FailedCount)
	s.notify(state)
}

// drain is the sequential work loop. Suspension points are the transport call
// and the backoff wait; producers may enqueue between iterations, and the
// queue's own locking keeps every observation consistent.
func (s *SyncService) drain(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.mu.Lock()
		online, disposed := s.state.IsOnline, s.disposed
		s.mu.Unlock()
		if disposed || !online {
			return nil
		}

		item, ok := s.queue.Peek()
		if !ok {
			return nil
		}

		err := s.transport.Send(ctx, item)
		switch {
		case err == nil:
			if qErr := s.queue.MarkCompleted(item.ID); qErr != nil {
				s.logger.Warn("persist after completion failed", "id", item.ID, "error", qErr)
			}
			s.metrics.RecordItemCompleted(item.EntityType)
			s.logger.Debug("item delivered", "id", item.ID, "entity", string(item.EntityType))

		case syncErrors.IsConflict(err):
			if s.resolveConflict(item, err) {
				// The resolution went back into the queue; wait before the
				// next attempt so a persistently conflicting server cannot
				// spin the loop at full speed.
				s.refreshCounts()
				if waitErr := s.wait(ctx, s.backoff.DelayWithJitter(item.RetryCount)); waitErr != nil {
					return waitErr
				}
				continue
			}

		case syncErrors.IsRetryable(err):
			failedBefore := s.queue.FailedCount()
			if qErr := s.queue.MarkFailed(item.ID, err.Error(), s.maxRetries); qErr != nil {
				s.logger.Warn("persist after failure failed", "id", item.ID, "error", qErr)
			}
			if s.queue.FailedCount() > failedBefore {
				s.metrics.RecordItemDeadLettered(item.EntityType)
			} else {
				s.metrics.RecordItemRetried(item.EntityType)
			}
			s.logger.Warn("item failed, will retry with backoff",
				"id", item.ID, "retry_count", item.RetryCount+1, "error", err)

			s.refreshCounts()
			if waitErr := s.wait(ctx, s.backoff.DelayWithJitter(item.RetryCount)); waitErr != nil {
				return waitErr
			}
			continue

		default:
			// Permanent failure: dead-letter without consuming retry budget.
			if qErr := s.queue.MarkFailedPermanently(item.ID, err.Error()); qErr != nil {
				s.logger.Warn("persist after dead-letter failed", "id", item.ID, "error", qErr)
			}
			s.metrics.RecordItemDeadLettered(item.EntityType)
			s.logger.Error("item permanently failed", "id", item.ID, "error", err)
		}

		s.refreshCounts()
	}
}

// resolveConflict applies the configured strategy to a server-reported
// version conflict. When the server's copy wins outright the local item is
// simply completed; a merge or local win replaces the queued payload so the
// next attempt submits the resolution. Returns true when a resolution was
// resubmitted and the caller must back off before the next attempt.
//
// Each resubmission consumes retry budget: a server that conflicts on every
// attempt dead-letters the item once the budget is gone instead of cycling
// the same id forever.
func (s *SyncService) resolveConflict(local SyncItem, sendErr error) bool {
	server, ok := serverItemFromError(sendErr)
	if !ok {
		// No server copy to resolve against; treat as permanent.
		if qErr := s.queue.MarkFailedPermanently(local.ID, sendErr.Error()); qErr != nil {
			s.logger.Warn("persist after dead-letter failed", "id", local.ID, "error", qErr)
		}
		s.metrics.RecordItemDeadLettered(local.EntityType)
		return false
	}

	res := s.resolver.Resolve(Conflict{Local: local, Server: server})
	s.logger.Info("conflict resolved",
		"id", local.ID, "decision", res.Decision)

	if res.Decision == "keep_server" {
		// Server already holds the resolved truth; nothing left to push.
		if qErr := s.queue.MarkCompleted(local.ID); qErr != nil {
			s.logger.Warn("persist after completion failed", "id", local.ID, "error", qErr)
		}
		s.metrics.RecordItemCompleted(local.EntityType)
		return false
	}

	// The resolution keeps the local item's budget accounting; the resolver
	// may have cloned the server copy, whose counter says nothing about how
	// often this id already failed here.
	resolved := res.Item
	resolved.ID = local.ID
	resolved.Priority = local.Priority
	resolved.RetryCount = local.RetryCount
	if res.Decision != "delete" {
		resolved.OperationType = OperationUpdate
	}
	resolved = resolved.IncrementRetry(sendErr.Error())

	if !resolved.ShouldRetry(s.maxRetries) {
		// Budget exhausted by conflicts; MarkFailed advances the pending
		// item's counter past the budget and dead-letters it.
		if qErr := s.queue.MarkFailed(local.ID, sendErr.Error(), s.maxRetries); qErr != nil {
			s.logger.Warn("persist after dead-letter failed", "id", local.ID, "error", qErr)
		}
		s.metrics.RecordItemDeadLettered(local.EntityType)
		s.logger.Error("conflict retry budget exhausted",
			"id", local.ID, "retry_count", resolved.RetryCount)
		return false
	}

	// Replace the queued payload with the resolution and push it as an
	// update on the next pass.
	if qErr := s.queue.Remove(local.ID); qErr != nil {
		s.logger.Warn("persist after remove failed", "id", local.ID, "error", qErr)
	}
	if qErr := s.queue.Enqueue(resolved); qErr != nil {
		s.logger.Warn("persist after re-enqueue failed", "id", local.ID, "error", qErr)
	}
	s.metrics.RecordItemRetried(local.EntityType)
	return true
}

// serverItemFromError extracts the server's copy of the contested item from a
// conflict error's metadata.
func serverItemFromError(err error) (SyncItem, bool) {
	se, ok := syncErrors.AsSyncError(err)
	if !ok || se.Metadata == nil {
		return SyncItem{}, false
	}
	raw, ok := se.Metadata["serverItem"]
	if !ok {
		return SyncItem{}, false
	}
	switch v := raw.(type) {
	case SyncItem:
		return v, true
	case []byte:
		item, uErr := UnmarshalItem(v)
		return item, uErr == nil
	case string:
		item, uErr := UnmarshalItem([]byte(v))
		return item, uErr == nil
	default:
		return SyncItem{}, false
	}
}

// wait blocks for d or until the context is cancelled. Never hot-loops: a
// zero d still yields via the timer.
func (s *SyncService) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// refreshCounts pulls the queue sizes into the state and notifies observers
// when they moved.
func (s *SyncService) refreshCounts() {
	pending := s.queue.PendingCount()
	failed := s.queue.FailedCount()
	s.metrics.RecordQueueDepth(pending, failed)

	s.mu.Lock()
	if s.disposed || (s.state.PendingCount == pending && s.state.FailedCount == failed) {
		s.mu.Unlock()
		return
	}
	s.state.PendingCount = pending
	s.state.FailedCount = failed
	state := s.state
	s.mu.Unlock()

	s.notify(state)
}

// setError moves the state machine to error with a message. Error state still
// permits a future drain: canSync stays true while online.
func (s *SyncService) setError(msg string) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.state.Status = StatusError
	s.state.ErrorMessage = msg
	state := s.state
	s.mu.Unlock()

	s.notify(state)
}

// Dispose marks the service as gone. In-flight transport calls are allowed to
// finish, but their completion paths check the disposed flag before touching
// state. Idempotent.
func (s *SyncService) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	s.subscribers = nil
	s.mu.Unlock()

	s.logger.Info("sync service disposed")
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			return syncErrors.NewWithComponent(syncErrors.OpClose, "transport", err)
		}
	}
	return nil
}

func (s *SyncService) notify(state SyncState) {
	s.mu.Lock()
	subs := make([]func(SyncState), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		if fn != nil {
			subs = append(subs, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("state subscriber panic recovered", "panic", r)
				}
			}()
			fn(state)
		}()
	}
}
