// Package postgres persists presence and session rows with database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema creates the presence and sessions tables. Every statement is idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS presence (
		user_id            TEXT PRIMARY KEY,
		status             TEXT NOT NULL,
		last_heartbeat_at  TIMESTAMPTZ,
		session_started_at TIMESTAMPTZ,
		last_online_at     TIMESTAMPTZ,
		total_online_ms    BIGINT NOT NULL DEFAULT 0,
		active_session_id  TEXT,
		version            BIGINT NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS presence_active_heartbeat_idx
		ON presence (last_heartbeat_at) WHERE status IN ('online', 'away')`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id                TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL,
		status            TEXT NOT NULL,
		started_at        TIMESTAMPTZ NOT NULL,
		last_seen_at      TIMESTAMPTZ NOT NULL,
		ended_at          TIMESTAMPTZ,
		duration_ms       BIGINT NOT NULL DEFAULT 0,
		end_reason        TEXT NOT NULL DEFAULT '',
		user_agent        TEXT NOT NULL DEFAULT '',
		connection_method TEXT NOT NULL DEFAULT '',
		client_id         TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS sessions_user_started_idx ON sessions (user_id, started_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS sessions_started_idx ON sessions (started_at)`,
}

// EnsureSchema applies Schema inside one transaction.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range Schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}
