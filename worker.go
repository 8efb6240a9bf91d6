package syncengine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Worker defaults.
const (
	DefaultSyncInterval  = 5 * time.Minute
	DefaultDebounceDelay = 500 * time.Millisecond
)

// BackgroundSyncWorker schedules SyncService drains from two sources: a
// periodic timer (covers missed transitions and server-side backlog) and
// debounced online-transition events from the ConnectivityMonitor (collapses
// rapid connectivity flapping into a single sync attempt).
//
// The worker only reads the service's state and calls SyncPendingItems; the
// service never holds a reference back to the worker.
type BackgroundSyncWorker struct {
	service *SyncService
	monitor *ConnectivityMonitor
	logger  *slog.Logger

	syncInterval  time.Duration
	debounceDelay time.Duration

	mu          sync.Mutex
	running     bool
	paused      bool
	cancel      context.CancelFunc
	debounce    *time.Timer
	unsubscribe func()
	wg          sync.WaitGroup
}

// WorkerOption customises a BackgroundSyncWorker.
type WorkerOption func(*BackgroundSyncWorker)

// WithSyncInterval overrides the periodic sync interval.
func WithSyncInterval(d time.Duration) WorkerOption {
	return func(w *BackgroundSyncWorker) {
		if d > 0 {
			w.syncInterval = d
		}
	}
}

// WithDebounceDelay overrides the connectivity debounce window.
func WithDebounceDelay(d time.Duration) WorkerOption {
	return func(w *BackgroundSyncWorker) {
		if d > 0 {
			w.debounceDelay = d
		}
	}
}

// WithWorkerLogger sets the worker's logger.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *BackgroundSyncWorker) {
		w.logger = logger.With("component", "worker")
	}
}

// NewBackgroundSyncWorker constructs a worker over service and monitor. The
// worker is idle until Start is called.
func NewBackgroundSyncWorker(service *SyncService, monitor *ConnectivityMonitor, opts ...WorkerOption) *BackgroundSyncWorker {
	w := &BackgroundSyncWorker{
		service:       service,
		monitor:       monitor,
		logger:        slog.Default().With("component", "worker"),
		syncInterval:  DefaultSyncInterval,
		debounceDelay: DefaultDebounceDelay,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// IsActive reports whether the worker is running and not paused. Triggers
// arriving while inactive are dropped.
func (w *BackgroundSyncWorker) IsActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running && !w.paused
}

// IsRunning reports whether Start has been called without a matching Stop.
func (w *BackgroundSyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start begins scheduling. Idempotent: a second Start while running is a
// no-op. On the transition to running, if the device is online and work is
// already queued, an immediate sync is triggered.
func (w *BackgroundSyncWorker) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.paused = false
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.mu.Unlock()

	w.logger.Info("background sync worker started",
		"sync_interval", w.syncInterval,
		"debounce_delay", w.debounceDelay)

	// Feed the connectivity signal into the service and debounce online
	// transitions into sync triggers.
	unsubscribe := w.monitor.Subscribe(func(online bool) {
		w.service.SetOnline(online)
		if online {
			w.scheduleDebouncedSync(ctx)
		}
	})
	w.mu.Lock()
	w.unsubscribe = unsubscribe
	w.mu.Unlock()

	w.service.SetOnline(w.monitor.IsOnline())

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.syncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.triggerSync(ctx, "periodic")
			}
		}
	}()

	if w.monitor.IsOnline() && w.service.State().HasPendingItems() {
		w.triggerSync(ctx, "startup")
	}
}

// Stop cancels the periodic timer and any pending debounce timer and
// unsubscribes from connectivity events. Idempotent.
func (w *BackgroundSyncWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.paused = false
	cancel := w.cancel
	w.cancel = nil
	if w.debounce != nil {
		w.debounce.Stop()
		w.debounce = nil
	}
	unsubscribe := w.unsubscribe
	w.unsubscribe = nil
	w.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	w.logger.Info("background sync worker stopped")
}

// Pause suspends triggering. Valid only while running and not paused;
// otherwise a no-op. The periodic timer keeps ticking but ticks are dropped.
func (w *BackgroundSyncWorker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running || w.paused {
		return
	}
	w.paused = true
	w.logger.Info("background sync worker paused")
}

// Resume lifts a pause. Valid only while running and paused; otherwise a
// no-op.
func (w *BackgroundSyncWorker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running || !w.paused {
		return
	}
	w.paused = false
	w.logger.Info("background sync worker resumed")
}

// scheduleDebouncedSync cancels any outstanding debounce timer and schedules
// a fresh one, so a burst of online transitions collapses into one sync.
func (w *BackgroundSyncWorker) scheduleDebouncedSync(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running || w.paused {
		return
	}
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.debounceDelay, func() {
		w.triggerSync(ctx, "connectivity")
	})
}

// triggerSync starts a drain on its own goroutine. Triggers while inactive
// are dropped; the service's own reentrancy guard absorbs overlap. The drain
// context is cancelled by Stop, so a stopped worker never leaves a drain
// waiting out a long backoff.
func (w *BackgroundSyncWorker) triggerSync(ctx context.Context, reason string) {
	if !w.IsActive() {
		w.logger.Debug("sync trigger dropped, worker inactive", "reason", reason)
		return
	}

	w.logger.Debug("sync triggered", "reason", reason)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.service.SyncPendingItems(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("triggered sync failed", "reason", reason, "error", err)
		}
	}()
}
