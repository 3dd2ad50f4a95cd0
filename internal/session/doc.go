// Package session owns the live control sessions of the server.
//
// A RobotClient is a UDP session bound to one remote host; a StreamClient is
// a TCP or WebSocket connection. The Manager holds the UDP registry (Key to
// RobotClient), the reserved peer redirect table and the ordered client list
// behind a single lock, so a client is always routable and listed together or
// not at all.
//
// Keys compare by host address only. Two datagrams from the same host on
// different source ports resolve to the same session, and a host can never
// hold two UDP sessions at once.
package session
