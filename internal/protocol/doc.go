// Package protocol implements the eyeRobot wire formats.
// It covers the one-way UDP session announce, the robot datagrams that flow
// over an established UDP session, and the length-prefixed frames used on the
// reliable (TCP/WebSocket) transport.
package protocol
