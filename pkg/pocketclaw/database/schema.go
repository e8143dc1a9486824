package database

import (
	"context"
	"fmt"
)

// schema is written once per dialect. Only the autoincrement column
// differs; booleans are stored as integers and timestamps as RFC 3339 text
// on both backends so the query layer stays portable.
func (db *DB) schema() []string {
	seq := "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.Backend == BackendPostgreSQL {
		seq = "seq BIGSERIAL PRIMARY KEY"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS messages (
			` + seq + `,
			id          TEXT NOT NULL UNIQUE,
			group_id    TEXT NOT NULL,
			sender      TEXT NOT NULL,
			content     TEXT NOT NULL,
			timestamp   TEXT NOT NULL,
			is_from_me  INTEGER NOT NULL DEFAULT 0,
			is_trigger  INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_group ON messages(group_id, seq)`,
		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id          TEXT PRIMARY KEY,
			group_id    TEXT NOT NULL,
			schedule    TEXT NOT NULL,
			prompt      TEXT NOT NULL,
			enabled     INTEGER NOT NULL DEFAULT 1,
			created_by  TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL,
			last_run_at TEXT,
			last_error  TEXT NOT NULL DEFAULT '',
			run_count   INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS config (
			key         TEXT PRIMARY KEY,
			value       TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS skills (
			name        TEXT PRIMARY KEY,
			content     TEXT NOT NULL,
			enabled     INTEGER NOT NULL DEFAULT 1,
			updated_at  TEXT NOT NULL
		)`,
	}
}

// migrate creates the tables if missing. Every statement is idempotent.
func (db *DB) migrate(ctx context.Context) error {
	for _, stmt := range db.schema() {
		if _, err := db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %.40q: %w", stmt, err)
		}
	}
	return nil
}
