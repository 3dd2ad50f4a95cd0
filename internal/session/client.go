package session

import (
	"errors"
	"net"
	"net/netip"
	"time"
)

// Transport names the network path a client arrived on
type Transport string

const (
	TransportUDP       Transport = "udp"
	TransportTCP       Transport = "tcp"
	TransportWebSocket Transport = "websocket"
)

const (
	stateConnecting int32 = iota
	stateConnected
	stateDisconnected
)

var (
	ErrDisconnected       = errors.New("client disconnected")
	ErrAlreadyIdentified  = errors.New("client already identified")
	ErrNotIdentified      = errors.New("client has not identified")
	ErrStopped            = errors.New("session manager stopped")
	ErrDuplicateClient    = errors.New("client already registered")
	ErrRedirectsDisabled  = errors.New("peer redirects disabled")
	ErrUnknownPrimaryPeer = errors.New("primary peer has no session")
)

// Client is a connected peer on any transport. Disconnect is idempotent and
// runs the manager's disconnect call-out exactly once.
type Client interface {
	ID() string
	Name() string
	Transport() Transport
	RemoteAddr() netip.Addr
	Connected() bool
	Disconnect()
	Info() ClientInfo
}

// DisconnectFunc is invoked once when a client goes away for any reason
type DisconnectFunc func(Client)

// ClientInfo represents client information for monitoring and APIs
type ClientInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Transport   Transport `json:"transport"`
	RemoteAddr  string    `json:"remote_addr"`
	Connected   bool      `json:"connected"`
	Identified  bool      `json:"identified"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
	Duration    string    `json:"duration"`

	// UDP sessions only
	Datagrams     uint64 `json:"datagrams,omitempty"`
	SensorReports uint64 `json:"sensor_reports,omitempty"`
	StaleReports  uint64 `json:"stale_reports,omitempty"`
	Ignored       uint64 `json:"ignored,omitempty"`

	// Stream sessions only
	Frames uint64 `json:"frames,omitempty"`
}

// remoteAddrOf extracts the host address of a connection's peer. Addresses
// that are not IP based (pipes, some test transports) yield the zero Addr.
func remoteAddrOf(addr net.Addr) netip.Addr {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.AddrPort().Addr().Unmap()
	case *net.UDPAddr:
		return a.AddrPort().Addr().Unmap()
	case nil:
		return netip.Addr{}
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.Addr{}
	}
	return ap.Addr().Unmap()
}
