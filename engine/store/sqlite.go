package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS event_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			group_id TEXT NOT NULL,
			status TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_records_group ON event_records(group_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_event_records_status ON event_records(status, id)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			root_id TEXT NOT NULL,
			name TEXT NOT NULL,
			state TEXT NOT NULL,
			group_id TEXT NOT NULL,
			message TEXT NOT NULL,
			inputs TEXT NOT NULL,
			outputs TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_ready ON jobs(group_id, state)`,
		`CREATE TABLE IF NOT EXISTS contexts (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			config TEXT NOT NULL
		)`,
	},
}

// NewSQLiteStore creates a SQLite-backed store using the pure-Go
// modernc.org/sqlite driver.
//
// The path parameter specifies the database file location:
//   - "./shardflow.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// The store runs with a single connection, WAL mode and a 5 second busy
// timeout. With one connection, every repository call made while a
// transaction is open must use the transaction's context; handlers and
// callbacks receive that context from the processor.
func NewSQLiteStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(1)    // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)    // Keep connection open
	db.SetConnMaxLifetime(0) // No max lifetime for SQLite

	ctx := context.Background()
	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.stmt); err != nil {
			_ = db.Close() // Ignore close error when returning pragma error
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	s, err := newSQLStore(ctx, db, sqliteDialect)
	if err != nil {
		_ = db.Close() // Ignore close error when returning table creation error
		return nil, err
	}
	return s, nil
}
