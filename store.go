package syncengine

// Store is the key-value persistence provider backing the queue. Both queue
// sets are written through it synchronously on every mutation, trading
// throughput for crash-safety; queue sizes on a device are tens of items, not
// thousands.
//
// Implementations can use any backend (SQLite, a JSON file, memory); see the
// storage/ subpackages.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)

	// Set writes the value for key, creating or replacing it.
	Set(key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Close releases any resources held by the store.
	Close() error
}
