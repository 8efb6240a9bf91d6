package syncengine

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityType identifies the kind of domain record a SyncItem carries.
type EntityType string

const (
	EntitySession        EntityType = "session"
	EntityExerciseResult EntityType = "exerciseResult"
)

// OperationType identifies the remote mutation a SyncItem represents.
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// Priority orders pending items. Higher values drain first; equal priorities
// are served FIFO.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

var priorityValues = map[string]Priority{
	"low":      PriorityLow,
	"normal":   PriorityNormal,
	"high":     PriorityHigh,
	"critical": PriorityCritical,
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// MarshalJSON encodes the priority by name so the persisted layout stays
// readable and stable across enum reordering.
func (p Priority) MarshalJSON() ([]byte, error) {
	name, ok := priorityNames[p]
	if !ok {
		return nil, fmt.Errorf("unknown priority %d", int(p))
	}
	return json.Marshal(name)
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	val, ok := priorityValues[name]
	if !ok {
		return fmt.Errorf("unknown priority %q", name)
	}
	*p = val
	return nil
}

// SyncItem is the immutable unit of pending work. ID doubles as the
// idempotency key for remote submission: re-sending the same id must not
// produce a duplicate effect server-side.
//
// An item is only ever changed through IncrementRetry (which returns a new
// value); the queue treats items as values and never mutates them in place.
type SyncItem struct {
	ID            string         `json:"id"`
	EntityType    EntityType     `json:"entityType"`
	OperationType OperationType  `json:"operationType"`
	Data          map[string]any `json:"data"`
	Priority      Priority       `json:"priority"`
	CreatedAt     time.Time      `json:"createdAt"`
	RetryCount    int            `json:"retryCount"`
	LastError     string         `json:"lastError,omitempty"`
	LastRetryAt   *time.Time     `json:"lastRetryAt,omitempty"`
}

// NewSyncItem constructs a pending item stamped with the current time.
func NewSyncItem(id string, entityType EntityType, operationType OperationType, data map[string]any, priority Priority) SyncItem {
	return SyncItem{
		ID:            id,
		EntityType:    entityType,
		OperationType: operationType,
		Data:          data,
		Priority:      priority,
		CreatedAt:     time.Now().UTC(),
	}
}

// ShouldRetry reports whether the item still has retry budget left.
func (i SyncItem) ShouldRetry(maxRetries int) bool {
	return i.RetryCount < maxRetries
}

// IncrementRetry returns a copy with the retry counter advanced, the failure
// message recorded, and LastRetryAt stamped with the current time. This is the
// only way RetryCount moves.
func (i SyncItem) IncrementRetry(errMsg string) SyncItem {
	now := time.Now().UTC()
	out := i
	out.RetryCount = i.RetryCount + 1
	out.LastError = errMsg
	out.LastRetryAt = &now
	return out
}

// WithError returns a copy with only the failure message recorded. Used when
// an item is dead-lettered without consuming a retry slot.
func (i SyncItem) WithError(errMsg string) SyncItem {
	out := i
	out.LastError = errMsg
	return out
}

// Clone returns a deep copy. The payload map is copied recursively so callers
// holding a snapshot can never alias queue-internal state.
func (i SyncItem) Clone() SyncItem {
	out := i
	out.Data = deepCopyMap(i.Data)
	if i.LastRetryAt != nil {
		at := *i.LastRetryAt
		out.LastRetryAt = &at
	}
	return out
}

// MarshalItem serializes an item to its persisted JSON form.
func MarshalItem(item SyncItem) ([]byte, error) {
	return json.Marshal(item)
}

// UnmarshalItem restores an item from its persisted JSON form. Every field,
// including arbitrarily nested payload structures, round-trips without loss.
func UnmarshalItem(data []byte) (SyncItem, error) {
	var item SyncItem
	if err := json.Unmarshal(data, &item); err != nil {
		return SyncItem{}, err
	}
	return item, nil
}

func deepCopyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}
	return dst
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = deepCopyValue(elem)
		}
		return out
	default:
		return val
	}
}
