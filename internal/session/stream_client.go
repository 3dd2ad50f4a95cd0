package session

import (
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/edkek/eyerobot/internal/protocol"
)

// StreamClient is a connection on the reliable transport (TCP or WebSocket).
// It is registered as soon as it is accepted and identified later.
type StreamClient struct {
	id           string
	transport    Transport
	conn         net.Conn
	remote       netip.Addr
	onDisconnect DisconnectFunc
	logger       *slog.Logger
	connectedAt  time.Time
	writeTimeout time.Duration

	state    atomic.Int32
	lastSeen atomic.Int64
	frames   atomic.Uint64

	writeMu sync.Mutex

	mu   sync.RWMutex
	name string
}

// NewStreamClient wraps an accepted connection
func NewStreamClient(conn net.Conn, transport Transport, onDisconnect DisconnectFunc, logger *slog.Logger) *StreamClient {
	now := time.Now()
	c := &StreamClient{
		id:           uuid.NewString(),
		transport:    transport,
		conn:         conn,
		remote:       remoteAddrOf(conn.RemoteAddr()),
		onDisconnect: onDisconnect,
		logger:       logger,
		connectedAt:  now,
		writeTimeout: 10 * time.Second,
	}
	c.state.Store(stateConnected)
	c.lastSeen.Store(now.UnixNano())
	return c
}

func (c *StreamClient) ID() string             { return c.id }
func (c *StreamClient) Transport() Transport   { return c.transport }
func (c *StreamClient) RemoteAddr() netip.Addr { return c.remote }
func (c *StreamClient) Conn() net.Conn         { return c.conn }

// Name returns the identified name, or "" before Identify
func (c *StreamClient) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Identified reports whether the client has sent its Identify frame
func (c *StreamClient) Identified() bool {
	return c.Name() != ""
}

// Connected reports whether the connection is still open
func (c *StreamClient) Connected() bool {
	return c.state.Load() == stateConnected
}

// Identify records the client's name. A client identifies once.
func (c *StreamClient) Identify(name string) error {
	if err := protocol.ValidateName([]byte(name)); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.name != "" {
		return ErrAlreadyIdentified
	}
	c.name = name
	return nil
}

// Touch records inbound activity
func (c *StreamClient) Touch() {
	c.frames.Add(1)
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the time of the last inbound frame
func (c *StreamClient) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// WriteFrame sends one frame. Writers are serialised so frames never
// interleave on the wire.
func (c *StreamClient) WriteFrame(f *protocol.Frame) error {
	if !c.Connected() {
		return ErrDisconnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return protocol.EncodeFrame(c.conn, f)
}

// Disconnect closes the connection and runs the disconnect call-out once
func (c *StreamClient) Disconnect() {
	if c.state.Swap(stateDisconnected) == stateDisconnected {
		return
	}

	if err := c.conn.Close(); err != nil {
		c.logger.Debug("Error closing stream connection",
			slog.String("client_id", c.id),
			slog.String("error", err.Error()),
		)
	}

	if c.onDisconnect != nil {
		c.onDisconnect(c)
	}
}

// Info returns a snapshot of the connection
func (c *StreamClient) Info() ClientInfo {
	name := c.Name()
	remote := ""
	if addr := c.conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	return ClientInfo{
		ID:          c.id,
		Name:        name,
		Transport:   c.transport,
		RemoteAddr:  remote,
		Connected:   c.Connected(),
		Identified:  name != "",
		ConnectedAt: c.connectedAt,
		LastSeen:    c.LastSeen(),
		Duration:    time.Since(c.connectedAt).Round(time.Second).String(),
		Frames:      c.frames.Load(),
	}
}
