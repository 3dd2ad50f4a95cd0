// Package server binds the session core to the network. UDPServer owns the
// robot datagram socket and classifies every datagram as session traffic or
// a handshake candidate. StreamServer accepts TCP and WebSocket clients.
// HTTPServer exposes monitoring endpoints. Server composes them and runs
// their shared lifecycle.
package server
