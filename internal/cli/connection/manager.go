package connection

import (
	"crypto/tls"
	"sync"
	"time"
)

// Target describes where the CLI sends requests.
type Target struct {
	Socket  string
	Server  string
	Timeout time.Duration

	// TLS configures https servers. nil uses the system defaults.
	TLS *tls.Config
}

// Manager owns the transports of one CLI invocation. Clients are created
// lazily so a command only touches the transport it needs.
type Manager struct {
	target Target

	mu     sync.Mutex
	socket *SocketClient
	http   *HTTPClient
}

// NewManager creates a manager for target.
func NewManager(target Target) *Manager {
	return &Manager{target: target}
}

// Target returns the configured target.
func (m *Manager) Target() Target {
	return m.target
}

// Socket returns the IPC client.
func (m *Manager) Socket() *SocketClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.socket == nil {
		m.socket = NewSocketClient(m.target.Socket, m.target.Timeout)
	}
	return m.socket
}

// HTTP returns the admin API client.
func (m *Manager) HTTP() *HTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.http == nil {
		m.http = NewHTTPClient(m.target.Server, m.target.Timeout)
		if m.target.TLS != nil {
			m.http.SetTLSConfig(m.target.TLS)
		}
	}
	return m.http
}

// Close releases the IPC connection, if one was opened.
func (m *Manager) Close() error {
	m.mu.Lock()
	s := m.socket
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}
