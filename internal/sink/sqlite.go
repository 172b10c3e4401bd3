package sink

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"jordanella.com/autochess-scout/internal/events"
	"jordanella.com/autochess-scout/internal/logging"
)

// Journal persists pipeline events to a SQLite file so sessions can be
// replayed and inspected after the fact. Writes happen on the bus dispatch
// goroutine; SQLite with a single connection handles that serialization.
type Journal struct {
	conn *sql.DB
	path string
	log  *logging.Logger
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	type       TEXT NOT NULL,
	source     TEXT NOT NULL,
	emitted_at TIMESTAMP NOT NULL,
	data       TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE INDEX IF NOT EXISTS idx_events_emitted_at ON events(emitted_at);
`

// OpenJournal opens or creates the journal database at path
func OpenJournal(path string, log *logging.Logger) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	// SQLite works best with a single connection
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if _, err := conn.Exec(journalSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	return &Journal{conn: conn, path: path, log: log}, nil
}

// Close closes the journal database
func (j *Journal) Close() error {
	if j.conn != nil {
		return j.conn.Close()
	}
	return nil
}

// Path returns the journal file path
func (j *Journal) Path() string {
	return j.path
}

// Record writes one event. Failures are logged, not returned; journaling
// must never take the pipeline down.
func (j *Journal) Record(event events.Event) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		j.log.Error("failed to encode event data", err)
		data = []byte("{}")
	}

	_, err = j.conn.Exec(
		`INSERT INTO events (type, source, emitted_at, data) VALUES (?, ?, ?, ?)`,
		string(event.Type), event.Source, event.Timestamp, string(data),
	)
	if err != nil {
		j.log.ErrorWithContext("failed to journal event", err, map[string]interface{}{
			"event_type": string(event.Type),
		})
	}
}

// Attach subscribes the journal to every event type on the bus and returns
// the subscription IDs
func (j *Journal) Attach(bus *events.Bus) []events.SubscriptionID {
	return bus.SubscribeAll(j.Record)
}

// Count reports how many events of a type are stored, all types when
// eventType is empty
func (j *Journal) Count(eventType events.EventType) (int, error) {
	var n int
	var err error
	if eventType == "" {
		err = j.conn.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	} else {
		err = j.conn.QueryRow(`SELECT COUNT(*) FROM events WHERE type = ?`, string(eventType)).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}
