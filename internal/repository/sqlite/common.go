// Package sqlite provides SQLite implementations of the repository ports.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fjmerc/airlift/internal/repository"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uploader_id INTEGER NOT NULL,
    fleet_id INTEGER NOT NULL,
    filename TEXT NOT NULL,
    identifier TEXT NOT NULL,
    size_bytes INTEGER NOT NULL,
    number_chunks INTEGER NOT NULL,
    md5_hash TEXT NOT NULL,
    uploaded_chunks INTEGER NOT NULL DEFAULT 0,
    bytes_uploaded INTEGER NOT NULL DEFAULT 0,
    chunk_status TEXT NOT NULL,
    status TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    start_time TEXT NOT NULL,
    end_time TEXT,
    last_activity TEXT NOT NULL,
    UNIQUE(uploader_id, filename)
);

CREATE INDEX IF NOT EXISTS idx_uploads_fleet ON uploads(fleet_id);
CREATE INDEX IF NOT EXISTS idx_uploads_status ON uploads(status);

CREATE TABLE IF NOT EXISTS imports (
    upload_id INTEGER PRIMARY KEY,
    filename TEXT NOT NULL,
    status TEXT NOT NULL,
    valid_flights INTEGER NOT NULL DEFAULT 0,
    warning_flights INTEGER NOT NULL DEFAULT 0,
    error_flights INTEGER NOT NULL DEFAULT 0,
    end_time TEXT
);
`

// Open opens the SQLite database, applies pragmas for concurrent access and
// creates the schema.
func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

// NewRepositories creates all SQLite repository implementations over an open
// connection. The returned Cleanup closes the connection.
func NewRepositories(db *sql.DB) (*repository.Repositories, error) {
	if db == nil {
		return nil, repository.ErrNilDatabase
	}

	return &repository.Repositories{
		Uploads:      NewUploadRepository(db),
		Imports:      NewImportRepository(db),
		DatabaseType: repository.DatabaseTypeSQLite,
		Cleanup:      func() { db.Close() },
		Ping: func(ctx context.Context) error {
			return db.PingContext(ctx)
		},
	}, nil
}

// isBusyError reports whether an error is a transient SQLITE_BUSY failure
// worth retrying.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// timeString formats a timestamp for storage.
func timeString(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime reads a stored timestamp; zero time on empty input.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
