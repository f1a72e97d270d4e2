package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the backing tables. The advisory lock serializes
// bootstrap DDL across api/worker startups.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS vocabulary_terms (
	collection TEXT NOT NULL,
	term TEXT NOT NULL,
	term_index INTEGER NOT NULL,
	PRIMARY KEY (collection, term),
	UNIQUE (collection, term_index)
);

CREATE TABLE IF NOT EXISTS external_services (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	service_type TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	credential TEXT NOT NULL DEFAULT '',
	collection_name TEXT NOT NULL DEFAULT '',
	is_default BOOLEAN NOT NULL DEFAULT FALSE,
	revision BIGINT NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS kb_service_links (
	kb_id TEXT PRIMARY KEY,
	service_id TEXT NOT NULL REFERENCES external_services(id)
);

CREATE TABLE IF NOT EXISTS data_connections (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	driver TEXT NOT NULL,
	dsn TEXT NOT NULL,
	schema_summary TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tool_call_runs (
	run_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	tool_name TEXT NOT NULL,
	input TEXT NOT NULL,
	output TEXT NOT NULL,
	duration_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_external_services_user ON external_services(user_id, is_default);
CREATE INDEX IF NOT EXISTS idx_tool_call_runs_user ON tool_call_runs(user_id, created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// collectionLockKey derives a stable advisory lock id for a collection.
func collectionLockKey(collection string) int64 {
	var h int64 = 1125899906842597
	for _, r := range collection {
		h = h*31 + int64(r)
	}
	return h
}
