package syncengine

import "time"

// Conflict pairs a local item with the server's copy of the same logical
// record (matched by id) when the remote reports a version conflict.
type Conflict struct {
	Local  SyncItem
	Server SyncItem
}

// Resolution captures the outcome of resolving a conflict: the item to keep
// and a short decision label for audit logging.
type Resolution struct {
	Item     SyncItem
	Decision string // "keep_server", "keep_local", "merge", "delete"
}

// ConflictResolver is the strategy interface for merging a matched
// local/server pair. Implementations are pure: they never touch the queue or
// the transport.
type ConflictResolver interface {
	Resolve(c Conflict) Resolution
}

// resolveDelete applies the delete-precedence rule shared by all strategies:
// if either side's operation is a delete, the resolution is a delete
// regardless of timestamps. Deleted data is never resurrected by a concurrent
// update.
func resolveDelete(c Conflict) (Resolution, bool) {
	if c.Local.OperationType == OperationDelete {
		return Resolution{Item: c.Local, Decision: "delete"}, true
	}
	if c.Server.OperationType == OperationDelete {
		return Resolution{Item: c.Server, Decision: "delete"}, true
	}
	return Resolution{}, false
}

// itemUpdatedAt extracts the item's logical modification time for
// last-write-wins comparison. Producers stamp an RFC 3339 "updatedAt" key in
// the payload; items without one fall back to CreatedAt.
func itemUpdatedAt(item SyncItem) time.Time {
	if raw, ok := item.Data["updatedAt"]; ok {
		if s, ok := raw.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t
			}
		}
	}
	return item.CreatedAt
}
