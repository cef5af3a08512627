// Package repository persists job and event snapshots to Postgres for the
// façade layer. The in-process records owned by the orchestrator remain
// authoritative; this store is a best-effort mirror keyed by job id.
package repository

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// DB wraps the sql connection pool.
type DB struct {
	*sql.DB
}

// NewDB opens a Postgres connection pool and verifies it with a ping.
func NewDB(databaseURL string) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{DB: db}, nil
}

// Migrate creates the snapshot tables if they do not exist.
func (db *DB) Migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS jobs (
			id              TEXT PRIMARY KEY,
			platform        TEXT NOT NULL,
			state           TEXT NOT NULL,
			state_reason    TEXT NOT NULL DEFAULT '',
			base_model      TEXT NOT NULL,
			algorithm       TEXT NOT NULL,
			dataset_uri     TEXT NOT NULL,
			resource_name   TEXT NOT NULL,
			project_name    TEXT NOT NULL DEFAULT '',
			run_name        TEXT NOT NULL DEFAULT '',
			log_cursor      BIGINT NOT NULL DEFAULT 0,
			created_at      TIMESTAMPTZ NOT NULL,
			started_at      TIMESTAMPTZ,
			completed_at    TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS job_events (
			id          BIGSERIAL PRIMARY KEY,
			job_id      TEXT NOT NULL,
			at          TIMESTAMPTZ NOT NULL,
			from_state  TEXT,
			to_state    TEXT NOT NULL,
			reason      TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS job_events_job_id_idx ON job_events (job_id);
	`
	_, err := db.Exec(schema)
	return err
}
