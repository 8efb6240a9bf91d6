package syncengine

import (
	"context"
	"sync"
	"testing"
	"time"
)

type workerFixture struct {
	worker  *BackgroundSyncWorker
	service *SyncService
	queue   *SyncQueue
	source  *MockConnectivitySource
	monitor *ConnectivityMonitor

	mu    sync.Mutex
	syncs int
}

// syncCount returns how many drains have started since the fixture was built.
func (f *workerFixture) syncCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncs
}

func (f *workerFixture) waitForSyncs(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.syncCount() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d syncs, observed %d", want, f.syncCount())
}

func newWorkerFixture(t *testing.T, initial []TransportKind, opts ...WorkerOption) *workerFixture {
	t.Helper()

	queue, _ := newTestQueue(t)
	transport := NewMockTransport(nil)
	backoff := NewExponentialBackoff(time.Millisecond, time.Millisecond, 0)
	service := NewSyncService(queue, transport, backoff, WithServiceLogger(discardSlog()))

	source := NewMockConnectivitySource(initial...)
	monitor := NewConnectivityMonitor(source, discardSlog())
	monitor.Initialize(context.Background())
	monitor.Start()
	t.Cleanup(monitor.Stop)

	base := []WorkerOption{
		WithWorkerLogger(discardSlog()),
		WithSyncInterval(time.Hour),
		WithDebounceDelay(20 * time.Millisecond),
	}
	worker := NewBackgroundSyncWorker(service, monitor, append(base, opts...)...)
	t.Cleanup(worker.Stop)

	f := &workerFixture{
		worker:  worker,
		service: service,
		queue:   queue,
		source:  source,
		monitor: monitor,
	}
	service.Subscribe(func(s SyncState) {
		if s.Status == StatusSyncing {
			f.mu.Lock()
			f.syncs++
			f.mu.Unlock()
		}
	})
	return f
}

func TestWorker_StartIsIdempotent(t *testing.T) {
	f := newWorkerFixture(t, nil)

	f.worker.Start()
	f.worker.Start()
	if !f.worker.IsRunning() || !f.worker.IsActive() {
		t.Error("expected running and active after start")
	}

	f.worker.Stop()
	f.worker.Stop()
	if f.worker.IsRunning() {
		t.Error("expected not running after stop")
	}
}

func TestWorker_StartSeedsConnectivityIntoService(t *testing.T) {
	f := newWorkerFixture(t, []TransportKind{TransportWiFi})

	if f.service.State().IsOnline {
		t.Fatal("service should start offline before the worker feeds it")
	}
	f.worker.Start()
	if !f.service.State().IsOnline {
		t.Error("worker start should seed the monitor's online state into the service")
	}
}

func TestWorker_StartupSyncWhenWorkIsPending(t *testing.T) {
	f := newWorkerFixture(t, []TransportKind{TransportWiFi})

	if err := f.queue.Enqueue(testItem("backlog", PriorityNormal)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	f.worker.Start()
	f.waitForSyncs(t, 1)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && f.queue.PendingCount() > 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := f.queue.PendingCount(); got != 0 {
		t.Errorf("expected startup sync to drain the backlog, %d left", got)
	}
}

func TestWorker_DebounceCollapsesConnectivityFlapping(t *testing.T) {
	f := newWorkerFixture(t, nil)
	f.worker.Start()

	// Rapid offline/online flapping; only the settled online state should
	// produce a drain.
	f.source.Report(TransportWiFi)
	f.source.Report()
	f.source.Report(TransportCellular)
	f.source.Report()
	f.source.Report(TransportWiFi)

	f.waitForSyncs(t, 1)
	// Give any extra debounce timers a chance to misfire.
	time.Sleep(100 * time.Millisecond)

	if got := f.syncCount(); got != 1 {
		t.Errorf("expected flapping to collapse into 1 sync, got %d", got)
	}
}

func TestWorker_PeriodicTicker(t *testing.T) {
	f := newWorkerFixture(t, []TransportKind{TransportWiFi},
		WithSyncInterval(25*time.Millisecond))

	f.worker.Start()
	f.waitForSyncs(t, 2)
}

func TestWorker_PauseDropsTriggers(t *testing.T) {
	f := newWorkerFixture(t, nil)
	f.worker.Start()
	f.worker.Pause()

	if f.worker.IsActive() {
		t.Error("expected inactive while paused")
	}
	if !f.worker.IsRunning() {
		t.Error("pause must not stop the worker")
	}

	f.source.Report(TransportWiFi)
	time.Sleep(100 * time.Millisecond)
	if got := f.syncCount(); got != 0 {
		t.Errorf("paused worker must drop triggers, observed %d syncs", got)
	}

	// Connectivity still flows into the service while paused.
	if !f.service.State().IsOnline {
		t.Error("service should have learned it is online while paused")
	}

	f.worker.Resume()
	if !f.worker.IsActive() {
		t.Error("expected active after resume")
	}
}

func TestWorker_PauseResumeStateGating(t *testing.T) {
	f := newWorkerFixture(t, nil)

	// Pause before start: no-op.
	f.worker.Pause()
	if f.worker.IsRunning() {
		t.Error("pause must not start the worker")
	}

	f.worker.Start()
	f.worker.Resume() // resume while not paused: no-op
	if !f.worker.IsActive() {
		t.Error("expected active")
	}

	f.worker.Pause()
	f.worker.Pause() // second pause: no-op
	f.worker.Resume()
	if !f.worker.IsActive() {
		t.Error("expected active after resume")
	}
}

func TestWorker_StopCancelsPendingDebounce(t *testing.T) {
	f := newWorkerFixture(t, nil, WithDebounceDelay(50*time.Millisecond))
	f.worker.Start()

	f.source.Report(TransportWiFi)
	// Stop before the debounce window elapses.
	time.Sleep(10 * time.Millisecond)
	f.worker.Stop()

	time.Sleep(150 * time.Millisecond)
	if got := f.syncCount(); got != 0 {
		t.Errorf("stop should cancel the pending debounce, observed %d syncs", got)
	}
}
