package syncengine

import (
	"context"
	"sync"
)

// Shared in-memory test doubles for the engine's collaborators. These live in
// a non-test file so package tests and the examples can share them, following
// the convention of keeping reusable mocks next to the interfaces they fake.

// MockStore is an in-memory Store with optional fault injection.
type MockStore struct {
	mu     sync.RWMutex
	data   map[string]string
	GetErr error
	SetErr error
}

func NewMockStore() *MockStore {
	return &MockStore{data: make(map[string]string)}
}

func (m *MockStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetErr != nil {
		return "", false, m.GetErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MockStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	m.data[key] = value
	return nil
}

func (m *MockStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MockStore) Close() error { return nil }

// Seed writes a raw value directly, bypassing fault injection.
func (m *MockStore) Seed(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

// MockTransport replays a scripted sequence of outcomes and records every
// item it was asked to send.
type MockTransport struct {
	mu      sync.Mutex
	Outcome func(item SyncItem) error
	Sent    []SyncItem
}

func NewMockTransport(outcome func(item SyncItem) error) *MockTransport {
	return &MockTransport{Outcome: outcome}
}

func (m *MockTransport) Send(ctx context.Context, item SyncItem) error {
	m.mu.Lock()
	m.Sent = append(m.Sent, item.Clone())
	outcome := m.Outcome
	m.mu.Unlock()

	if outcome == nil {
		return nil
	}
	return outcome(item)
}

func (m *MockTransport) Close() error { return nil }

// SentItems returns a copy of the send log.
func (m *MockTransport) SentItems() []SyncItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SyncItem, len(m.Sent))
	copy(out, m.Sent)
	return out
}

// SentCount returns the number of transport calls observed.
func (m *MockTransport) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// MockConnectivitySource is a scriptable ConnectivitySource backed by a
// channel of reports.
type MockConnectivitySource struct {
	mu      sync.Mutex
	current []TransportKind
	err     error
	changes chan []TransportKind
}

func NewMockConnectivitySource(initial ...TransportKind) *MockConnectivitySource {
	return &MockConnectivitySource{
		current: initial,
		changes: make(chan []TransportKind, 16),
	}
}

func (m *MockConnectivitySource) Transports(ctx context.Context) ([]TransportKind, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]TransportKind, len(m.current))
	copy(out, m.current)
	return out, nil
}

func (m *MockConnectivitySource) Changes() <-chan []TransportKind {
	return m.changes
}

// Report updates the current transport set and emits it on the change stream.
func (m *MockConnectivitySource) Report(kinds ...TransportKind) {
	m.mu.Lock()
	m.current = kinds
	m.mu.Unlock()
	m.changes <- kinds
}

// FailWith makes subsequent Transports calls return err.
func (m *MockConnectivitySource) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
