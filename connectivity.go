package syncengine

import (
	"context"
	"log/slog"
	"sync"
)

// TransportKind is a raw transport category as reported by the platform
// connectivity provider.
type TransportKind string

const (
	TransportWiFi      TransportKind = "wifi"
	TransportCellular  TransportKind = "cellular"
	TransportEthernet  TransportKind = "ethernet"
	TransportVPN       TransportKind = "vpn"
	TransportBluetooth TransportKind = "bluetooth"
	TransportNone      TransportKind = "none"
)

// ConnectivitySource is the platform collaborator the monitor wraps. It
// exposes a synchronous query of the currently active transports and an
// asynchronous stream of transport-set changes.
type ConnectivitySource interface {
	// Transports returns the set of currently active transport kinds.
	Transports(ctx context.Context) ([]TransportKind, error)

	// Changes returns a channel of transport-set reports. The channel is
	// closed when the source shuts down.
	Changes() <-chan []TransportKind
}

// ConnectivityMonitor derives a binary online/offline signal from raw
// transport reports. It is edge-triggered: subscribers are only notified when
// the derived boolean actually changes, so repeated reports of the same state
// produce no events.
type ConnectivityMonitor struct {
	source ConnectivitySource
	logger *slog.Logger

	mu          sync.Mutex
	online      bool
	subscribers []func(online bool)
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewConnectivityMonitor wraps source. Call Initialize before use and Start
// to begin consuming change reports.
func NewConnectivityMonitor(source ConnectivitySource, logger *slog.Logger) *ConnectivityMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectivityMonitor{
		source: source,
		logger: logger.With("component", "connectivity"),
	}
}

// isOnlineSet maps a transport set to the derived boolean. Only transports
// that can actually reach the server count; bluetooth-only or an empty set is
// offline.
func isOnlineSet(kinds []TransportKind) bool {
	for _, k := range kinds {
		switch k {
		case TransportWiFi, TransportCellular, TransportEthernet, TransportVPN:
			return true
		}
	}
	return false
}

// Initialize performs one connectivity check and seeds the cached value. A
// provider error defaults optimistically to online: a transient platform
// failure must not permanently block synchronization.
func (m *ConnectivityMonitor) Initialize(ctx context.Context) {
	kinds, err := m.source.Transports(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.logger.Warn("connectivity check failed, assuming online", "error", err)
		m.online = true
	} else {
		m.online = isOnlineSet(kinds)
	}
	m.logger.Debug("connectivity initialized", "online", m.online)
}

// IsOnline returns the cached derived value.
func (m *ConnectivityMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// CheckConnectivity re-evaluates the provider and updates the cached value,
// notifying subscribers on an edge. On provider error it returns the last
// known value rather than failing the caller.
func (m *ConnectivityMonitor) CheckConnectivity(ctx context.Context) bool {
	kinds, err := m.source.Transports(ctx)
	if err != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.logger.Warn("connectivity check failed, keeping last known state",
			"error", err, "online", m.online)
		return m.online
	}
	return m.report(kinds)
}

// Subscribe registers a callback invoked with the new derived value on every
// online/offline edge. The returned function unsubscribes.
func (m *ConnectivityMonitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscribers = append(m.subscribers, fn)
	idx := len(m.subscribers) - 1

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.subscribers) && m.subscribers[idx] != nil {
			m.subscribers[idx] = nil
		}
	}
}

// Start launches the goroutine that consumes the source's change stream.
// Idempotent; a second Start while running is a no-op.
func (m *ConnectivityMonitor) Start() {
	m.mu.Lock()
	if m.stopCh != nil {
		m.mu.Unlock()
		return
	}
	stopCh := make(chan struct{})
	m.stopCh = stopCh
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		changes := m.source.Changes()
		for {
			select {
			case <-stopCh:
				return
			case kinds, ok := <-changes:
				if !ok {
					m.logger.Debug("connectivity change stream closed")
					return
				}
				m.report(kinds)
			}
		}
	}()
}

// Stop halts change-stream consumption and waits for the goroutine to exit.
func (m *ConnectivityMonitor) Stop() {
	m.mu.Lock()
	stopCh := m.stopCh
	m.stopCh = nil
	m.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	m.wg.Wait()
}

// report folds a raw transport set into the derived boolean and fires
// subscribers only when the value flips.
func (m *ConnectivityMonitor) report(kinds []TransportKind) bool {
	online := isOnlineSet(kinds)

	m.mu.Lock()
	changed := online != m.online
	m.online = online
	var subs []func(bool)
	if changed {
		subs = make([]func(bool), 0, len(m.subscribers))
		for _, fn := range m.subscribers {
			if fn != nil {
				subs = append(subs, fn)
			}
		}
	}
	m.mu.Unlock()

	if changed {
		m.logger.Info("connectivity changed", "online", online)
		for _, fn := range subs {
			fn(online)
		}
	}
	return online
}
