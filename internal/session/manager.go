package session

import (
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"time"
)

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	// PeerRedirect enables the peer redirect table. When false the table
	// is never populated and lookups skip it.
	PeerRedirect bool
}

// Listener observes clients entering or leaving the manager
type Listener func(Client)

// Manager owns the session registry, the peer redirect table and the client
// list. All three are guarded by one lock so a client is never routable from
// one structure while missing from another.
type Manager struct {
	mu       sync.RWMutex
	running  bool
	registry map[netip.Addr]*RobotClient
	peers    map[netip.Addr]netip.Addr
	clients  []Client
	byID     map[string]Client

	listenersMu sync.RWMutex
	onAdd       []Listener
	onRemove    []Listener

	config ManagerConfig
	logger *slog.Logger
}

// NewManager creates a stopped manager
func NewManager(logger *slog.Logger, config ManagerConfig) *Manager {
	return &Manager{
		registry: make(map[netip.Addr]*RobotClient),
		peers:    make(map[netip.Addr]netip.Addr),
		byID:     make(map[string]Client),
		config:   config,
		logger:   logger,
	}
}

// OnAdd registers fn to run after a client is admitted
func (m *Manager) OnAdd(fn Listener) {
	m.listenersMu.Lock()
	m.onAdd = append(m.onAdd, fn)
	m.listenersMu.Unlock()
}

// OnRemove registers fn to run after a client disconnects
func (m *Manager) OnRemove(fn Listener) {
	m.listenersMu.Lock()
	m.onRemove = append(m.onRemove, fn)
	m.listenersMu.Unlock()
}

func (m *Manager) notify(listeners *[]Listener, c Client) {
	m.listenersMu.RLock()
	fns := slices.Clone(*listeners)
	m.listenersMu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

// Start opens the manager for new sessions
func (m *Manager) Start() {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
}

// Stop closes the manager and disconnects every client. Promotions racing
// with Stop fail with ErrStopped.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	clients := m.clients
	m.clients = nil
	m.registry = make(map[netip.Addr]*RobotClient)
	m.peers = make(map[netip.Addr]netip.Addr)
	m.byID = make(map[string]Client)
	m.mu.Unlock()

	m.logger.Info("Stopping session manager", slog.Int("clients", len(clients)))

	for _, c := range clients {
		c.Disconnect()
	}
}

// Running reports whether the manager accepts new sessions
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Lookup returns the session registered for key's address
func (m *Manager) Lookup(key Key) (*RobotClient, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.registry[key.ID()]
	return c, ok
}

// Route resolves the session that should process a datagram from key: the
// registered session, or the primary session of a redirected peer.
func (m *Manager) Route(key Key) (*RobotClient, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if c, ok := m.registry[key.ID()]; ok {
		return c, true
	}
	if !m.config.PeerRedirect {
		return nil, false
	}

	primary, ok := m.peers[key.ID()]
	if !ok {
		return nil, false
	}
	c, ok := m.registry[primary]
	return c, ok
}

// AddPeer redirects datagrams from secondary to the session at primary
func (m *Manager) AddPeer(secondary, primary Key) error {
	if !m.config.PeerRedirect {
		return ErrRedirectsDisabled
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return ErrStopped
	}
	if _, ok := m.registry[primary.ID()]; !ok {
		return ErrUnknownPrimaryPeer
	}
	m.peers[secondary.ID()] = primary.ID()
	return nil
}

// Promote inserts a handshaken session into the registry and the client
// list in one step. A different session already holding the same address
// is unlinked in the same step and returned; the caller disconnects it.
func (m *Manager) Promote(c *RobotClient) (*RobotClient, error) {
	m.mu.Lock()

	if !m.running {
		m.mu.Unlock()
		return nil, ErrStopped
	}
	if _, dup := m.byID[c.ID()]; dup {
		m.mu.Unlock()
		return nil, ErrDuplicateClient
	}

	id := c.Key().ID()
	displaced := m.registry[id]
	if displaced != nil {
		m.removeLocked(displaced)
	}

	m.registry[id] = c
	m.clients = append(m.clients, c)
	m.byID[c.ID()] = c
	m.mu.Unlock()

	m.notify(&m.onAdd, c)
	return displaced, nil
}

// Attach appends a reliable-transport client to the client list
func (m *Manager) Attach(c Client) error {
	m.mu.Lock()

	if !m.running {
		m.mu.Unlock()
		return ErrStopped
	}
	if _, dup := m.byID[c.ID()]; dup {
		m.mu.Unlock()
		return ErrDuplicateClient
	}
	m.clients = append(m.clients, c)
	m.byID[c.ID()] = c
	m.mu.Unlock()

	m.notify(&m.onAdd, c)
	return nil
}

// Remove unlinks c from the client list and, for a UDP session, from the
// registry. It reports whether anything was removed; removing an unknown or
// already removed client is a no-op.
func (m *Manager) Remove(c Client) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(c)
}

func (m *Manager) removeLocked(c Client) bool {
	removed := false

	if _, ok := m.byID[c.ID()]; ok {
		delete(m.byID, c.ID())
		m.clients = slices.DeleteFunc(m.clients, func(o Client) bool { return o.ID() == c.ID() })
		removed = true
	}

	if rc, ok := c.(*RobotClient); ok {
		id := rc.Key().ID()
		if m.registry[id] == rc {
			delete(m.registry, id)
			for secondary, primary := range m.peers {
				if primary == id {
					delete(m.peers, secondary)
				}
			}
			removed = true
		}
	}

	return removed
}

// Disconnected is the disconnect call-out shared by both transports. It is
// wired as every client's DisconnectFunc, so it runs once per client.
func (m *Manager) Disconnected(c Client) {
	removed := m.Remove(c)

	m.logger.Info("Client disconnected",
		slog.String("client_id", c.ID()),
		slog.String("name", c.Name()),
		slog.String("transport", string(c.Transport())),
		slog.String("remote_addr", c.RemoteAddr().String()),
		slog.Bool("unlinked", removed),
	)

	m.notify(&m.onRemove, c)
}

// Clients returns a point-in-time copy of the client list
func (m *Manager) Clients() []Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.clients)
}

// ClientInfos returns a snapshot of every client for monitoring
func (m *Manager) ClientInfos() []ClientInfo {
	clients := m.Clients()
	infos := make([]ClientInfo, 0, len(clients))
	for _, c := range clients {
		infos = append(infos, c.Info())
	}
	return infos
}

// Client looks up a client by ID
func (m *Manager) Client(id string) (Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.byID[id]
	return c, ok
}

// Sessions returns a snapshot of the registered UDP sessions
func (m *Manager) Sessions() []*RobotClient {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*RobotClient, 0, len(m.registry))
	for _, c := range m.registry {
		sessions = append(sessions, c)
	}
	return sessions
}

// Count returns the size of the client list
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// SessionCount returns the number of registry entries
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.registry)
}

// StreamCount returns the number of reliable-transport clients
func (m *Manager) StreamCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, c := range m.clients {
		if c.Transport() != TransportUDP {
			n++
		}
	}
	return n
}

// IdleSessions returns the UDP sessions silent for longer than timeout
func (m *Manager) IdleSessions(timeout time.Duration) []*RobotClient {
	cutoff := time.Now().Add(-timeout)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var idle []*RobotClient
	for _, c := range m.registry {
		if c.LastSeen().Before(cutoff) {
			idle = append(idle, c)
		}
	}
	return idle
}
