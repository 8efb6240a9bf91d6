package syncengine

import (
	"fmt"
	"time"
)

// SyncStatus is the coarse lifecycle state of the SyncService.
type SyncStatus string

const (
	StatusIdle    SyncStatus = "idle"
	StatusSyncing SyncStatus = "syncing"
	StatusError   SyncStatus = "error"
	StatusOffline SyncStatus = "offline"
)

// SyncState is the externally visible snapshot of the engine. It is owned
// exclusively by the SyncService and published read-only to observers; the UI
// layer derives everything it shows from this value alone.
type SyncState struct {
	Status       SyncStatus `json:"status"`
	PendingCount int        `json:"pendingCount"`
	FailedCount  int        `json:"failedCount"`
	LastSyncAt   *time.Time `json:"lastSyncAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	IsOnline     bool       `json:"isOnline"`
}

// CanSync reports whether a drain may start right now.
func (s SyncState) CanSync() bool {
	return s.IsOnline && s.Status != StatusSyncing
}

// HasPendingItems reports whether any work is queued.
func (s SyncState) HasPendingItems() bool {
	return s.PendingCount > 0
}

// HasFailedItems reports whether the dead-letter set is non-empty.
func (s SyncState) HasFailedItems() bool {
	return s.FailedCount > 0
}

// StatusLine derives the single user-visible summary string so the UI never
// re-implements this logic.
func (s SyncState) StatusLine() string {
	switch {
	case !s.IsOnline:
		return "Offline"
	case s.Status == StatusSyncing:
		return "Syncing..."
	case s.Status == StatusError:
		if s.ErrorMessage != "" {
			return s.ErrorMessage
		}
		return "Sync error"
	case s.PendingCount > 0:
		return fmt.Sprintf("%d pending", s.PendingCount)
	default:
		return "Up to date"
	}
}
