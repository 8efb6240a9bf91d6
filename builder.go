package syncengine

import (
	"fmt"
	"log/slog"
	"time"
)

// Engine bundles the fully wired components. Producers enqueue through
// Service, the UI observes Service state, and Worker drives the schedule.
type Engine struct {
	Queue   *SyncQueue
	Service *SyncService
	Monitor *ConnectivityMonitor
	Worker  *BackgroundSyncWorker
}

// Close stops scheduling and releases every component.
func (e *Engine) Close() error {
	e.Worker.Stop()
	e.Monitor.Stop()
	return e.Service.Dispose()
}

// EngineBuilder provides a fluent interface for constructing a wired Engine.
type EngineBuilder struct {
	store        Store
	transport    Transport
	connectivity ConnectivitySource
	resolver     ConflictResolver
	metrics      MetricsCollector
	logger       *slog.Logger

	pendingKey    string
	failedKey     string
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
	jitterFactor  float64
	syncInterval  time.Duration
	debounceDelay time.Duration
}

// NewEngineBuilder creates a builder with default retry and scheduling
// policy.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{
		maxRetries:    DefaultMaxRetries,
		baseDelay:     time.Second,
		maxDelay:      5 * time.Minute,
		jitterFactor:  0.2,
		syncInterval:  DefaultSyncInterval,
		debounceDelay: DefaultDebounceDelay,
	}
}

// WithStore sets the key-value persistence provider.
func (b *EngineBuilder) WithStore(store Store) *EngineBuilder {
	b.store = store
	return b
}

// WithTransport sets the remote transport.
func (b *EngineBuilder) WithTransport(transport Transport) *EngineBuilder {
	b.transport = transport
	return b
}

// WithConnectivity sets the platform connectivity source.
func (b *EngineBuilder) WithConnectivity(source ConnectivitySource) *EngineBuilder {
	b.connectivity = source
	return b
}

// WithResolver sets the conflict resolution strategy.
func (b *EngineBuilder) WithResolver(resolver ConflictResolver) *EngineBuilder {
	b.resolver = resolver
	return b
}

// WithMetrics sets the metrics collector.
func (b *EngineBuilder) WithMetrics(metrics MetricsCollector) *EngineBuilder {
	b.metrics = metrics
	return b
}

// WithLogger sets the logger shared by all components.
func (b *EngineBuilder) WithLogger(logger *slog.Logger) *EngineBuilder {
	b.logger = logger
	return b
}

// WithStorageKeys overrides the persisted queue keys.
func (b *EngineBuilder) WithStorageKeys(pendingKey, failedKey string) *EngineBuilder {
	b.pendingKey = pendingKey
	b.failedKey = failedKey
	return b
}

// WithRetryPolicy sets the retry budget and backoff shape.
func (b *EngineBuilder) WithRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration, jitterFactor float64) *EngineBuilder {
	b.maxRetries = maxRetries
	b.baseDelay = baseDelay
	b.maxDelay = maxDelay
	b.jitterFactor = jitterFactor
	return b
}

// WithSchedule sets the periodic interval and the connectivity debounce
// window.
func (b *EngineBuilder) WithSchedule(syncInterval, debounceDelay time.Duration) *EngineBuilder {
	b.syncInterval = syncInterval
	b.debounceDelay = debounceDelay
	return b
}

// Build validates the configuration and assembles the engine. The monitor is
// not initialized and the worker is not started; callers do that once they
// hold a context.
func (b *EngineBuilder) Build() (*Engine, error) {
	if b.store == nil {
		return nil, fmt.Errorf("engine builder: store is required")
	}
	if b.transport == nil {
		return nil, fmt.Errorf("engine builder: transport is required")
	}
	if b.connectivity == nil {
		return nil, fmt.Errorf("engine builder: connectivity source is required")
	}
	if b.maxRetries <= 0 {
		return nil, fmt.Errorf("engine builder: max retries must be positive")
	}
	if b.baseDelay <= 0 || b.maxDelay < b.baseDelay {
		return nil, fmt.Errorf("engine builder: invalid backoff delays")
	}
	if b.jitterFactor < 0 || b.jitterFactor > 1 {
		return nil, fmt.Errorf("engine builder: jitter factor must be in [0, 1]")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	queueOpts := []QueueOption{WithQueueLogger(logger)}
	if b.pendingKey != "" && b.failedKey != "" {
		queueOpts = append(queueOpts, WithQueueKeys(b.pendingKey, b.failedKey))
	}
	queue := NewSyncQueue(b.store, queueOpts...)

	backoff := NewExponentialBackoff(b.baseDelay, b.maxDelay, b.jitterFactor)

	serviceOpts := []ServiceOption{
		WithMaxRetries(b.maxRetries),
		WithServiceLogger(logger),
	}
	if b.resolver != nil {
		serviceOpts = append(serviceOpts, WithConflictResolver(b.resolver))
	}
	if b.metrics != nil {
		serviceOpts = append(serviceOpts, WithServiceMetrics(b.metrics))
	}
	service := NewSyncService(queue, b.transport, backoff, serviceOpts...)

	monitor := NewConnectivityMonitor(b.connectivity, logger)

	worker := NewBackgroundSyncWorker(service, monitor,
		WithSyncInterval(b.syncInterval),
		WithDebounceDelay(b.debounceDelay),
		WithWorkerLogger(logger),
	)

	return &Engine{
		Queue:   queue,
		Service: service,
		Monitor: monitor,
		Worker:  worker,
	}, nil
}
