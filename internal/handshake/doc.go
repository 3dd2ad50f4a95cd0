// Package handshake admits UDP senders that are not yet in the session
// registry. A sender proves its identity with a single announce datagram;
// the Validator parses it, applies the reconnect policy and promotes the
// new session. Every rejection is a logged no-op.
package handshake
