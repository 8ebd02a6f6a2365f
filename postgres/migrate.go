// Package postgres persists TaskConfig and TaskExecution rows through
// database/sql in the Postgres dialect: hand-written $N-placeholder
// SQL, a CREATE TABLE IF NOT EXISTS migration step, sql.Null* scan
// targets for nullable columns. It imports no driver; the caller opens
// the *sql.DB.
package postgres

import (
	"database/sql"
	"fmt"
)

// Migrate creates the task_configs and task_executions tables (and
// their supporting indexes) if they do not already exist. Safe to call
// on every process start, mirroring flowrunner's per-store Initialize.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS task_configs (
			id              BIGSERIAL PRIMARY KEY,
			name            TEXT NOT NULL,
			task_type       TEXT NOT NULL,
			scheduler_type  TEXT NOT NULL,
			parameters      JSONB NOT NULL DEFAULT '{}',
			schedule_config JSONB NOT NULL DEFAULT '{}',
			max_retries     INTEGER NOT NULL DEFAULT 0,
			timeout_seconds INTEGER,
			priority        INTEGER NOT NULL DEFAULT 0,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS task_configs_task_type_idx ON task_configs (task_type);
		CREATE INDEX IF NOT EXISTS task_configs_scheduler_type_idx ON task_configs (scheduler_type);
	`); err != nil {
		return fmt.Errorf("failed to create task_configs table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS task_executions (
			id                BIGSERIAL PRIMARY KEY,
			task_id           TEXT NOT NULL,
			config_id         BIGINT REFERENCES task_configs(id) ON DELETE SET NULL,
			is_success        BOOLEAN NOT NULL,
			started_at        TIMESTAMPTZ NOT NULL,
			completed_at      TIMESTAMPTZ,
			duration_seconds  DOUBLE PRECISION,
			result            JSONB,
			error_message     TEXT NOT NULL DEFAULT '',
			error_traceback   TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS task_executions_config_id_idx ON task_executions (config_id);
		CREATE INDEX IF NOT EXISTS task_executions_started_at_idx ON task_executions (started_at);
		CREATE INDEX IF NOT EXISTS task_executions_is_success_idx ON task_executions (is_success);
	`); err != nil {
		return fmt.Errorf("failed to create task_executions table: %w", err)
	}

	return nil
}
