package syncengine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	syncErrors "github.com/kinetra/sync-engine/errors"
)

func newTestService(t *testing.T, outcome func(SyncItem) error, opts ...ServiceOption) (*SyncService, *SyncQueue, *MockTransport) {
	t.Helper()
	queue, _ := newTestQueue(t)
	transport := NewMockTransport(outcome)
	backoff := NewExponentialBackoff(time.Millisecond, 5*time.Millisecond, 0)
	base := []ServiceOption{WithServiceLogger(discardSlog())}
	service := NewSyncService(queue, transport, backoff, append(base, opts...)...)
	return service, queue, transport
}

func TestService_DrainDeliversInPriorityOrder(t *testing.T) {
	service, queue, transport := newTestService(t, nil)
	service.SetOnline(true)

	if err := queue.Enqueue(testItem("low", PriorityLow)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := queue.Enqueue(testItem("critical", PriorityCritical)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := queue.Enqueue(testItem("normal", PriorityNormal)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if err := service.SyncPendingItems(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	sent := transport.SentItems()
	want := []string{"critical", "normal", "low"}
	if len(sent) != len(want) {
		t.Fatalf("expected %d sends, got %d", len(want), len(sent))
	}
	for i, id := range want {
		if sent[i].ID != id {
			t.Errorf("send[%d] = %s, want %s", i, sent[i].ID, id)
		}
	}

	state := service.State()
	if state.Status != StatusIdle {
		t.Errorf("expected idle after drain, got %s", state.Status)
	}
	if state.PendingCount != 0 {
		t.Errorf("expected empty queue, got %d pending", state.PendingCount)
	}
	if state.LastSyncAt == nil {
		t.Error("expected lastSyncAt to be set after full drain")
	}
}

func TestService_OfflineDrainIsNoOp(t *testing.T) {
	service, queue, transport := newTestService(t, nil)

	if err := queue.Enqueue(testItem("a", PriorityNormal)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	// Initial state is offline; no SetOnline(true).
	if err := service.SyncPendingItems(context.Background()); err != nil {
		t.Fatalf("offline drain should return nil, got %v", err)
	}
	if transport.SentCount() != 0 {
		t.Errorf("transport must not be called while offline, got %d sends", transport.SentCount())
	}
	if got := service.State().Status; got != StatusOffline {
		t.Errorf("expected offline status, got %s", got)
	}
}

func TestService_RetryableFailuresExhaustBudget(t *testing.T) {
	outcome := func(SyncItem) error {
		return syncErrors.NewNetworkError(syncErrors.OpSend, errors.New("connection refused"))
	}
	service, queue, transport := newTestService(t, outcome, WithMaxRetries(3))
	service.SetOnline(true)

	if err := queue.Enqueue(testItem("doomed", PriorityNormal)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := service.SyncPendingItems(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	if got := transport.SentCount(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if got := queue.FailedCount(); got != 1 {
		t.Errorf("expected 1 dead-lettered item, got %d", got)
	}
	if got := queue.PendingCount(); got != 0 {
		t.Errorf("expected 0 pending, got %d", got)
	}

	failed, ok := queue.FailedItems()["doomed"]
	if !ok {
		t.Fatal("expected item in the dead-letter set")
	}
	if failed.RetryCount != 3 {
		t.Errorf("expected retryCount 3, got %d", failed.RetryCount)
	}
	if failed.LastError == "" {
		t.Error("expected lastError to be recorded")
	}
}

func TestService_PermanentFailureDeadLettersImmediately(t *testing.T) {
	outcome := func(SyncItem) error {
		return syncErrors.NewValidationError(syncErrors.OpSend, errors.New("unknown entity"))
	}
	service, queue, transport := newTestService(t, outcome)
	service.SetOnline(true)

	if err := queue.Enqueue(testItem("bad", PriorityHigh)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := service.SyncPendingItems(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	if got := transport.SentCount(); got != 1 {
		t.Errorf("permanent failure must not retry, got %d sends", got)
	}
	failed, ok := queue.FailedItems()["bad"]
	if !ok {
		t.Fatal("expected item in the dead-letter set")
	}
	if failed.RetryCount != 0 {
		t.Errorf("permanent failure must not consume retry budget, got retryCount %d", failed.RetryCount)
	}
}

func TestService_ConcurrentDrainIsRejected(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	outcome := func(SyncItem) error {
		close(entered)
		<-release
		return nil
	}
	service, queue, transport := newTestService(t, outcome)
	service.SetOnline(true)

	if err := queue.Enqueue(testItem("slow", PriorityNormal)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- service.SyncPendingItems(context.Background()) }()

	<-entered
	// Second trigger while the first drain is in flight: no-op, no extra send.
	if err := service.SyncPendingItems(context.Background()); err != nil {
		t.Fatalf("concurrent drain should return nil, got %v", err)
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if got := transport.SentCount(); got != 1 {
		t.Errorf("expected exactly 1 send, got %d", got)
	}
}

func TestService_CancelledContextStopsBackoffWait(t *testing.T) {
	outcome := func(SyncItem) error {
		return syncErrors.NewNetworkError(syncErrors.OpSend, errors.New("unreachable"))
	}
	queue, _ := newTestQueue(t)
	transport := NewMockTransport(outcome)
	// Long backoff so cancellation, not budget exhaustion, ends the drain.
	backoff := NewExponentialBackoff(time.Minute, time.Hour, 0)
	service := NewSyncService(queue, transport, backoff, WithServiceLogger(discardSlog()))
	service.SetOnline(true)

	if err := queue.Enqueue(testItem("stuck", PriorityNormal)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.SyncPendingItems(ctx) }()

	// Let the first attempt fail and the drain enter its backoff wait.
	for transport.SentCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("drain did not return after cancellation")
	}
}

func TestService_RetryFailedRequeuesAndDrains(t *testing.T) {
	attempts := 0
	outcome := func(SyncItem) error {
		attempts++
		if attempts == 1 {
			return syncErrors.NewValidationError(syncErrors.OpSend, errors.New("rejected"))
		}
		return nil
	}
	service, queue, _ := newTestService(t, outcome)
	service.SetOnline(true)

	item, err := service.Enqueue(EntitySession, OperationCreate, "retry-me", map[string]any{"n": 1}, PriorityNormal)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := service.SyncPendingItems(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if queue.FailedCount() != 1 {
		t.Fatalf("expected item dead-lettered, got failed=%d", queue.FailedCount())
	}

	if err := service.RetryFailed(item.ID); err != nil {
		t.Fatalf("retryFailed failed: %v", err)
	}
	if err := service.SyncPendingItems(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	if queue.FailedCount() != 0 || queue.PendingCount() != 0 {
		t.Errorf("expected clean queue, got pending=%d failed=%d",
			queue.PendingCount(), queue.FailedCount())
	}
}

func TestService_ConflictKeepServerCompletesItem(t *testing.T) {
	server := NewSyncItem("c1", EntitySession, OperationUpdate,
		map[string]any{"score": float64(90)}, PriorityNormal)
	outcome := func(SyncItem) error {
		return syncErrors.NewConflictError(syncErrors.OpSend, errors.New("version conflict"),
			map[string]interface{}{"serverItem": server})
	}
	service, queue, transport := newTestService(t, outcome,
		WithConflictResolver(&ServerWinsResolver{}))
	service.SetOnline(true)

	if err := queue.Enqueue(testItem("c1", PriorityNormal)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := service.SyncPendingItems(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	if got := transport.SentCount(); got != 1 {
		t.Errorf("keep_server must not resend, got %d sends", got)
	}
	if queue.PendingCount() != 0 || queue.FailedCount() != 0 {
		t.Errorf("expected item completed, got pending=%d failed=%d",
			queue.PendingCount(), queue.FailedCount())
	}
}

func TestService_ConflictLocalWinResubmitsResolution(t *testing.T) {
	conflicted := false
	outcome := func(SyncItem) error {
		if conflicted {
			return nil
		}
		conflicted = true
		server := NewSyncItem("c2", EntitySession, OperationUpdate,
			map[string]any{"score": float64(10), "updatedAt": "2026-08-29T10:00:00Z"}, PriorityNormal)
		return syncErrors.NewConflictError(syncErrors.OpSend, errors.New("version conflict"),
			map[string]interface{}{"serverItem": server})
	}
	service, queue, transport := newTestService(t, outcome,
		WithConflictResolver(&LastWriteWinsResolver{}))
	service.SetOnline(true)

	local := NewSyncItem("c2", EntitySession, OperationCreate,
		map[string]any{"score": float64(95), "updatedAt": "2026-08-30T10:00:00Z"}, PriorityHigh)
	if err := queue.Enqueue(local); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := service.SyncPendingItems(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	sent := transport.SentItems()
	if len(sent) != 2 {
		t.Fatalf("expected conflict then resubmission, got %d sends", len(sent))
	}
	resubmitted := sent[1]
	if resubmitted.ID != "c2" {
		t.Errorf("resolution must keep the original id, got %s", resubmitted.ID)
	}
	if resubmitted.OperationType != OperationUpdate {
		t.Errorf("resolution must resubmit as update, got %s", resubmitted.OperationType)
	}
	if resubmitted.Priority != PriorityHigh {
		t.Errorf("resolution must keep the original priority, got %v", resubmitted.Priority)
	}
	if got := resubmitted.Data["score"]; got != float64(95) {
		t.Errorf("local payload should have won, got score %v", got)
	}
	if queue.PendingCount() != 0 || queue.FailedCount() != 0 {
		t.Errorf("expected clean queue, got pending=%d failed=%d",
			queue.PendingCount(), queue.FailedCount())
	}
}

func TestService_PersistentConflictExhaustsBudget(t *testing.T) {
	// The server 409s every attempt with a copy older than the local item, so
	// the resolver keeps resubmitting the local payload. Each resubmission
	// must consume retry budget and end in the dead-letter set instead of
	// cycling forever.
	outcome := func(SyncItem) error {
		server := NewSyncItem("c4", EntitySession, OperationUpdate,
			map[string]any{"score": float64(10), "updatedAt": "2026-08-29T10:00:00Z"}, PriorityNormal)
		return syncErrors.NewConflictError(syncErrors.OpSend, errors.New("version conflict"),
			map[string]interface{}{"serverItem": server})
	}
	service, queue, transport := newTestService(t, outcome,
		WithMaxRetries(3), WithConflictResolver(&LastWriteWinsResolver{}))
	service.SetOnline(true)

	local := NewSyncItem("c4", EntitySession, OperationUpdate,
		map[string]any{"score": float64(95), "updatedAt": "2026-08-30T10:00:00Z"}, PriorityNormal)
	if err := queue.Enqueue(local); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := service.SyncPendingItems(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	if got := transport.SentCount(); got != 3 {
		t.Errorf("expected resubmissions bounded by the retry budget, got %d sends", got)
	}
	if queue.PendingCount() != 0 {
		t.Errorf("expected nothing left pending, got %d", queue.PendingCount())
	}
	failed, ok := queue.FailedItems()["c4"]
	if !ok {
		t.Fatal("expected the item in the dead-letter set")
	}
	if failed.RetryCount != 3 {
		t.Errorf("expected retryCount 3, got %d", failed.RetryCount)
	}
}

func TestService_ConflictWithoutServerCopyDeadLetters(t *testing.T) {
	outcome := func(SyncItem) error {
		return syncErrors.NewConflictError(syncErrors.OpSend, errors.New("version conflict"), nil)
	}
	service, queue, _ := newTestService(t, outcome)
	service.SetOnline(true)

	if err := queue.Enqueue(testItem("c3", PriorityNormal)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := service.SyncPendingItems(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	if queue.FailedCount() != 1 {
		t.Errorf("conflict without server copy should dead-letter, got failed=%d", queue.FailedCount())
	}
}

func TestService_EnqueueGeneratesIDAndUpdatesState(t *testing.T) {
	service, _, _ := newTestService(t, nil)

	item, err := service.Enqueue(EntityExerciseResult, OperationCreate, "", map[string]any{"reps": 10}, PriorityNormal)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if item.ID == "" {
		t.Error("expected a generated id")
	}
	if got := service.State().PendingCount; got != 1 {
		t.Errorf("expected pendingCount 1, got %d", got)
	}
}

func TestService_EnqueueAfterDisposeFails(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	if err := service.Dispose(); err != nil {
		t.Fatalf("dispose failed: %v", err)
	}
	if err := service.Dispose(); err != nil {
		t.Fatalf("second dispose should be a no-op, got %v", err)
	}

	if _, err := service.Enqueue(EntitySession, OperationCreate, "x", nil, PriorityNormal); err == nil {
		t.Error("expected enqueue on disposed service to fail")
	}
}

func TestService_NilTransportIsAnError(t *testing.T) {
	queue, _ := newTestQueue(t)
	backoff := NewExponentialBackoff(time.Millisecond, time.Millisecond, 0)
	service := NewSyncService(queue, nil, backoff, WithServiceLogger(discardSlog()))
	service.SetOnline(true)

	if err := service.SyncPendingItems(context.Background()); err == nil {
		t.Fatal("expected error without a transport")
	}
	if got := service.State().Status; got != StatusError {
		t.Errorf("expected error status, got %s", got)
	}
}

func TestService_SetOnlineTransitions(t *testing.T) {
	service, _, _ := newTestService(t, nil)

	if got := service.State().Status; got != StatusOffline {
		t.Fatalf("expected initial offline status, got %s", got)
	}

	service.SetOnline(true)
	if got := service.State(); !got.IsOnline || got.Status != StatusIdle {
		t.Errorf("expected online idle, got online=%v status=%s", got.IsOnline, got.Status)
	}

	service.SetOnline(false)
	if got := service.State(); got.IsOnline || got.Status != StatusOffline {
		t.Errorf("expected offline, got online=%v status=%s", got.IsOnline, got.Status)
	}
}

func TestService_SubscribersObserveStateChanges(t *testing.T) {
	service, _, _ := newTestService(t, nil)

	var statuses []SyncStatus
	unsubscribe := service.Subscribe(func(s SyncState) { statuses = append(statuses, s.Status) })
	// A panicking subscriber must not break the others.
	service.Subscribe(func(SyncState) { panic("observer bug") })

	service.SetOnline(true)
	if err := service.SyncPendingItems(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	if len(statuses) < 3 {
		t.Fatalf("expected at least online/syncing/idle notifications, got %v", statuses)
	}
	if statuses[0] != StatusIdle {
		t.Errorf("first notification should be the online transition to idle, got %s", statuses[0])
	}
	last := statuses[len(statuses)-1]
	if last != StatusIdle {
		t.Errorf("final notification should be idle, got %s", last)
	}

	before := len(statuses)
	unsubscribe()
	service.SetOnline(false)
	if len(statuses) != before {
		t.Error("unsubscribed observer must not receive further notifications")
	}
}

func TestService_DrainStopsWhenConnectivityDrops(t *testing.T) {
	var service *SyncService
	sends := 0
	outcome := func(SyncItem) error {
		sends++
		if sends == 1 {
			service.SetOnline(false)
		}
		return nil
	}
	queue, _ := newTestQueue(t)
	transport := NewMockTransport(outcome)
	backoff := NewExponentialBackoff(time.Millisecond, time.Millisecond, 0)
	service = NewSyncService(queue, transport, backoff, WithServiceLogger(discardSlog()))
	service.SetOnline(true)

	for i := 0; i < 3; i++ {
		if err := queue.Enqueue(testItem(fmt.Sprintf("it-%d", i), PriorityNormal)); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
	if err := service.SyncPendingItems(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	if got := transport.SentCount(); got != 1 {
		t.Errorf("drain should stop after going offline, got %d sends", got)
	}
	if got := queue.PendingCount(); got != 2 {
		t.Errorf("expected 2 items left pending, got %d", got)
	}
	if got := service.State().Status; got != StatusOffline {
		t.Errorf("expected offline status after drain, got %s", got)
	}
}

func TestService_MetricsRecorded(t *testing.T) {
	collector := &countingMetrics{}
	outcome := func(item SyncItem) error {
		if item.ID == "bad" {
			return syncErrors.NewValidationError(syncErrors.OpSend, errors.New("rejected"))
		}
		return nil
	}
	service, queue, _ := newTestService(t, outcome, WithServiceMetrics(collector))
	service.SetOnline(true)

	if err := queue.Enqueue(testItem("ok", PriorityNormal)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := queue.Enqueue(testItem("bad", PriorityNormal)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := service.SyncPendingItems(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	if collector.completed != 1 {
		t.Errorf("expected 1 completed, got %d", collector.completed)
	}
	if collector.deadLettered != 1 {
		t.Errorf("expected 1 dead-lettered, got %d", collector.deadLettered)
	}
	if collector.drains != 1 {
		t.Errorf("expected 1 drain duration sample, got %d", collector.drains)
	}
}

type countingMetrics struct {
	drains       int
	completed    int
	retried      int
	deadLettered int
}

func (c *countingMetrics) RecordDrainDuration(time.Duration)    { c.drains++ }
func (c *countingMetrics) RecordItemCompleted(EntityType)       { c.completed++ }
func (c *countingMetrics) RecordItemRetried(EntityType)         { c.retried++ }
func (c *countingMetrics) RecordItemDeadLettered(EntityType)    { c.deadLettered++ }
func (c *countingMetrics) RecordQueueDepth(pending, failed int) {}
