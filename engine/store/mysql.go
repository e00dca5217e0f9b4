package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS event_records (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			group_id VARCHAR(36) NOT NULL,
			status VARCHAR(32) NOT NULL,
			payload LONGTEXT NOT NULL,
			created_at VARCHAR(64) NOT NULL,
			INDEX idx_event_records_group (group_id, status),
			INDEX idx_event_records_status (status, id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id VARCHAR(36) PRIMARY KEY,
			root_id VARCHAR(36) NOT NULL,
			name VARCHAR(255) NOT NULL,
			state VARCHAR(32) NOT NULL,
			group_id VARCHAR(36) NOT NULL,
			message TEXT NOT NULL,
			inputs LONGTEXT NOT NULL,
			outputs LONGTEXT NOT NULL,
			INDEX idx_jobs_ready (group_id, state)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS contexts (
			id VARCHAR(36) PRIMARY KEY,
			status VARCHAR(32) NOT NULL,
			config LONGTEXT NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
}

// NewMySQLStore creates a MySQL/Aurora-backed store.
//
// The dsn parameter uses the go-sql-driver format:
//
//	user:password@tcp(localhost:3306)/shardflow
//
// The DSN is rewritten to report matched rather than changed rows, so that
// updates writing identical values are not mistaken for missing rows.
//
// Security: never hardcode credentials; load the DSN from the environment or a
// secret manager.
func NewMySQLStore(dsn string) (*SQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ClientFoundRows = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	db := sql.OpenDB(connector)

	// Configure connection pool
	db.SetMaxOpenConns(25)                  // Maximum open connections
	db.SetMaxIdleConns(5)                   // Keep idle connections for reuse
	db.SetConnMaxLifetime(5 * time.Minute)  // Max connection lifetime (prevent stale connections)
	db.SetConnMaxIdleTime(10 * time.Minute) // Max idle time before closing

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s, err := newSQLStore(ctx, db, mysqlDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
