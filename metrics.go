package syncengine

import "time"

// MetricsCollector provides hooks for collecting sync operation metrics
type MetricsCollector interface {
	// RecordDrainDuration records how long a full drain took
	RecordDrainDuration(duration time.Duration)

	// RecordItemCompleted records a successfully delivered item
	RecordItemCompleted(entityType EntityType)

	// RecordItemRetried records a retryable failure
	RecordItemRetried(entityType EntityType)

	// RecordItemDeadLettered records an item moved to the dead-letter set
	RecordItemDeadLettered(entityType EntityType)

	// RecordQueueDepth records the queue sizes after a mutation
	RecordQueueDepth(pending, failed int)
}

// NoOpMetricsCollector is a default implementation that does nothing
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordDrainDuration(duration time.Duration)   {}
func (n *NoOpMetricsCollector) RecordItemCompleted(entityType EntityType)    {}
func (n *NoOpMetricsCollector) RecordItemRetried(entityType EntityType)      {}
func (n *NoOpMetricsCollector) RecordItemDeadLettered(entityType EntityType) {}
func (n *NoOpMetricsCollector) RecordQueueDepth(pending, failed int)         {}
