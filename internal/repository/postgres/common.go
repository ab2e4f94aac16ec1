// Package postgres provides PostgreSQL implementations of the repository
// ports, used when the import pipeline and upload service share a central
// database.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/fjmerc/airlift/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
    id BIGSERIAL PRIMARY KEY,
    uploader_id BIGINT NOT NULL,
    fleet_id BIGINT NOT NULL,
    filename TEXT NOT NULL,
    identifier TEXT NOT NULL,
    size_bytes BIGINT NOT NULL,
    number_chunks INT NOT NULL,
    md5_hash TEXT NOT NULL,
    uploaded_chunks INT NOT NULL DEFAULT 0,
    bytes_uploaded BIGINT NOT NULL DEFAULT 0,
    chunk_status TEXT NOT NULL,
    status TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    start_time TIMESTAMPTZ NOT NULL,
    end_time TIMESTAMPTZ,
    last_activity TIMESTAMPTZ NOT NULL,
    UNIQUE(uploader_id, filename)
);

CREATE INDEX IF NOT EXISTS idx_uploads_fleet ON uploads(fleet_id);
CREATE INDEX IF NOT EXISTS idx_uploads_status ON uploads(status);

CREATE TABLE IF NOT EXISTS imports (
    upload_id BIGINT PRIMARY KEY,
    filename TEXT NOT NULL,
    status TEXT NOT NULL,
    valid_flights INT NOT NULL DEFAULT 0,
    warning_flights INT NOT NULL DEFAULT 0,
    error_flights INT NOT NULL DEFAULT 0,
    end_time TIMESTAMPTZ
);
`

// NewPool creates a PostgreSQL connection pool, verifies connectivity and
// applies the schema.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return pool, nil
}

// NewRepositories creates all PostgreSQL repository implementations. The
// returned Cleanup closes the pool.
func NewRepositories(pool *pgxpool.Pool) (*repository.Repositories, error) {
	if pool == nil {
		return nil, repository.ErrNilDatabase
	}

	return &repository.Repositories{
		Uploads:      NewUploadRepository(pool),
		Imports:      NewImportRepository(pool),
		DatabaseType: repository.DatabaseTypePostgres,
		Cleanup:      pool.Close,
		Ping:         pool.Ping,
	}, nil
}
