// Package world is the directory of robots known to the server.
// It resolves a robot name to the session currently driving it and keeps the
// latest telemetry reported by each robot.
package world
