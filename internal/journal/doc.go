// Package journal keeps a history of session connects and disconnects in
// SQLite. Writes go through a bounded queue drained by one goroutine so the
// session lifecycle never waits on disk.
package journal
