// Package audit is a write-only diagnostic sink recording every command the
// conductor dispatches to a device. It is deliberately not read back by the
// engine anywhere: the engine itself keeps no persisted state, and this
// trail exists purely for after-the-fact operator diagnosis, never to
// reconstruct or influence playout decisions.
//
// Grounded on internal/audit/repository.go's Repository (UUID event IDs,
// JSON payload column, single INSERT statement) and internal/db/db.go's
// sql.Open("sqlite3", ...) + PRAGMA setup, collapsed from that file's
// reader/writer DBPair split to a single connection since this package never
// reads its own table back.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS dispatched_commands (
	event_id        TEXT PRIMARY KEY,
	recorded_at     TEXT NOT NULL,
	device_id       TEXT NOT NULL,
	layer           TEXT NOT NULL,
	timeline_obj_id TEXT NOT NULL,
	execute_at_ms   INTEGER NOT NULL,
	kind            TEXT NOT NULL,
	reason          TEXT NOT NULL,
	payload         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dispatched_commands_device ON dispatched_commands(device_id, execute_at_ms);
`

// Entry is one recorded dispatch: a single device.Command as it left the
// conductor, flattened for storage.
type Entry struct {
	DeviceID      string
	Layer         string
	TimelineObjID string
	ExecuteAtMs   int64
	Kind          string
	Reason        string
	Payload       any
}

// Trail is a write-only log of dispatched commands backed by SQLite.
type Trail struct {
	db *sql.DB
}

// Open creates or opens the SQLite file at path and ensures its schema
// exists. Mirrors internal/db/db.go's PRAGMA choices (WAL, busy timeout)
// since this trail is written from the conductor's tick goroutine while an
// operator tool may concurrently query the file out-of-process.
func Open(path string) (*Trail, error) {
	if path == "" {
		return nil, fmt.Errorf("audit: path is required")
	}
	connStr := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000&mode=rwc", path)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: enable WAL: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	return &Trail{db: db}, nil
}

// Close closes the underlying database handle.
func (t *Trail) Close() error {
	return t.db.Close()
}

// Record writes one dispatched command. Failures here are logged by the
// caller via the event bus, never propagated back into the dispatch path:
// a full audit disk must never block playout.
func (t *Trail) Record(ctx context.Context, e Entry) error {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("audit: marshal payload: %w", err)
	}

	_, err = t.db.ExecContext(ctx, `
		INSERT INTO dispatched_commands
			(event_id, recorded_at, device_id, layer, timeline_obj_id, execute_at_ms, kind, reason, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), nowISO(), e.DeviceID, e.Layer, e.TimelineObjID, e.ExecuteAtMs, e.Kind, e.Reason, string(payloadJSON))
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
