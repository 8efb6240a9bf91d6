// Package syncengine implements an offline-first synchronization engine for
// mobile clients that record exercise sessions and movement-analysis results
// locally and deliver them to a remote service over intermittent connectivity.
//
// The engine is built from small, independently testable components:
//
//   - SyncItem: an immutable unit of pending work keyed by an idempotency id.
//   - SyncQueue: a durable, priority-ordered holding area with a dead-letter
//     set, persisted to a key-value Store on every mutation.
//   - ExponentialBackoff: the pure retry-delay policy.
//   - ConnectivityMonitor: derives an edge-triggered online/offline signal
//     from raw transport reports.
//   - SyncService: drains the queue against a Transport and owns SyncState.
//   - BackgroundSyncWorker: schedules drains from a periodic timer and
//     debounced connectivity transitions.
//   - ConflictResolver: merge strategies for matched local/server items.
//
// Storage backends live under storage/ and the REST transport under
// transport/resthttp. EngineBuilder wires everything together.
package syncengine
