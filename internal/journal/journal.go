package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/edkek/eyerobot/internal/metrics"
	"github.com/edkek/eyerobot/internal/session"
)

// EventKind is the lifecycle transition an event records
type EventKind string

const (
	EventConnect    EventKind = "connect"
	EventDisconnect EventKind = "disconnect"
)

// maxBatch bounds how many queued events share one transaction
const maxBatch = 64

const schema = `
CREATE TABLE IF NOT EXISTS session_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	at          INTEGER NOT NULL,
	kind        TEXT    NOT NULL,
	client_id   TEXT    NOT NULL,
	name        TEXT    NOT NULL,
	transport   TEXT    NOT NULL,
	remote_addr TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_events_at ON session_events(at);
`

// Event is one journal row
type Event struct {
	ID         int64     `json:"id"`
	Time       time.Time `json:"time"`
	Kind       EventKind `json:"kind"`
	ClientID   string    `json:"client_id"`
	Name       string    `json:"name"`
	Transport  string    `json:"transport"`
	RemoteAddr string    `json:"remote_addr"`
}

// NewEvent describes a client's transition
func NewEvent(kind EventKind, c session.Client) Event {
	return Event{
		Time:       time.Now(),
		Kind:       kind,
		ClientID:   c.ID(),
		Name:       c.Name(),
		Transport:  string(c.Transport()),
		RemoteAddr: c.Info().RemoteAddr,
	}
}

// Journal writes session events to SQLite
type Journal struct {
	db      *sql.DB
	events  chan Event
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Open opens (or creates) the journal database at path. queueSize bounds
// the number of events waiting to be written. metrics may be nil.
func Open(path string, queueSize int, logger *slog.Logger, m *metrics.Metrics) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// One connection keeps ":memory:" databases alive and serialises writes
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure journal (%s): %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	if queueSize < 1 {
		queueSize = 1
	}

	j := &Journal{
		db:      db,
		events:  make(chan Event, queueSize),
		logger:  logger,
		metrics: m,
	}

	j.wg.Add(1)
	go j.writeLoop()

	logger.Info("Session journal opened",
		slog.String("path", path),
		slog.Int("queue_size", queueSize),
	)

	return j, nil
}

// Record queues an event. It never blocks; when the queue is full the event
// is dropped and false is returned.
func (j *Journal) Record(e Event) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return false
	}

	select {
	case j.events <- e:
		return true
	default:
		j.logger.Warn("Journal queue full, dropping event",
			slog.String("kind", string(e.Kind)),
			slog.String("client_id", e.ClientID),
		)
		if j.metrics != nil {
			j.metrics.RecordJournalDrop()
		}
		return false
	}
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()

	batch := make([]Event, 0, maxBatch)
	for e := range j.events {
		batch = append(batch[:0], e)

	drain:
		for len(batch) < maxBatch {
			select {
			case next, ok := <-j.events:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}

		if err := j.write(batch); err != nil {
			j.logger.Error("Failed to write journal events",
				slog.Int("events", len(batch)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (j *Journal) write(batch []Event) error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO session_events (at, kind, client_id, name, transport, remote_addr)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.Exec(e.Time.UnixMilli(), string(e.Kind), e.ClientID, e.Name, e.Transport, e.RemoteAddr); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
	}

	return tx.Commit()
}

// Recent returns up to limit events, newest first
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit < 1 {
		limit = 1
	}

	rows, err := j.db.QueryContext(ctx, `SELECT id, at, kind, client_id, name, transport, remote_addr
		FROM session_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			e    Event
			at   int64
			kind string
		)
		if err := rows.Scan(&e.ID, &at, &kind, &e.ClientID, &e.Name, &e.Transport, &e.RemoteAddr); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		e.Time = time.UnixMilli(at)
		e.Kind = EventKind(kind)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close flushes queued events and closes the database
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.events)
	j.mu.Unlock()

	j.wg.Wait()
	return j.db.Close()
}
