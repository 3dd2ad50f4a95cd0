package session

import (
	"net"
	"net/netip"
)

// Key identifies the remote end of a UDP session. Equality and identity use
// the address only; the port is kept for sending replies. Key is not
// comparable: use Equal, and index maps by ID.
type Key struct {
	_    [0]func()
	addr netip.Addr
	port uint16
}

// NewKey builds a key from a sender address. IPv4-mapped IPv6 addresses are
// unmapped so both socket families agree on one identity.
func NewKey(ap netip.AddrPort) Key {
	return Key{addr: ap.Addr().Unmap(), port: ap.Port()}
}

// KeyFromUDPAddr builds a key from a *net.UDPAddr.
func KeyFromUDPAddr(a *net.UDPAddr) Key {
	return NewKey(a.AddrPort())
}

// ID is the comparable identity of the key. Registry maps are indexed by it.
func (k Key) ID() netip.Addr {
	return k.addr
}

// Equal reports whether both keys name the same host.
func (k Key) Equal(o Key) bool {
	return k.addr == o.addr
}

// Addr returns the host address.
func (k Key) Addr() netip.Addr {
	return k.addr
}

// Port returns the source port the key was built from.
func (k Key) Port() uint16 {
	return k.port
}

// AddrPort returns the full endpoint for outbound datagrams.
func (k Key) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(k.addr, k.port)
}

// IsValid reports whether the key holds an address.
func (k Key) IsValid() bool {
	return k.addr.IsValid()
}

func (k Key) String() string {
	return k.AddrPort().String()
}
