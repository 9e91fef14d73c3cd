// Package ledger records sync runs and the pages they created in SQLite.
package ledger

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at       DATETIME NOT NULL,
	finished_at      DATETIME,
	status           TEXT NOT NULL DEFAULT 'running',
	force_resync     INTEGER NOT NULL DEFAULT 0,
	dry_run          INTEGER NOT NULL DEFAULT 0,
	videos_processed INTEGER NOT NULL DEFAULT 0,
	pages_created    INTEGER NOT NULL DEFAULT 0,
	pages_skipped    INTEGER NOT NULL DEFAULT 0,
	pages_failed     INTEGER NOT NULL DEFAULT 0,
	pages_deleted    INTEGER NOT NULL DEFAULT 0,
	chapters_created INTEGER NOT NULL DEFAULT 0,
	chapters_reused  INTEGER NOT NULL DEFAULT 0,
	chapters_failed  INTEGER NOT NULL DEFAULT 0,
	chapters_deleted INTEGER NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS synced_pages (
	video_id   TEXT PRIMARY KEY,
	page_id    INTEGER NOT NULL,
	chapter_id INTEGER NOT NULL DEFAULT 0,
	title      TEXT NOT NULL DEFAULT '',
	checksum   TEXT NOT NULL DEFAULT '',
	run_id     INTEGER NOT NULL,
	synced_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_synced_pages_run ON synced_pages(run_id);
`

// DB wraps a sql.DB with ledger operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
