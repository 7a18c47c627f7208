package db

import (
	"database/sql"
	"fmt"
)

// Migration represents a schema migration step.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of all schema migrations.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial ledger: captures, exports_audit, errors_log, sync_state",
		SQL: `
		CREATE TABLE IF NOT EXISTS captures (
		  id                TEXT PRIMARY KEY,
		  source            TEXT NOT NULL CHECK (source IN ('voice', 'email')),
		  raw_content       TEXT NOT NULL,
		  content_hash      TEXT,
		  status            TEXT NOT NULL CHECK (status IN (
		                      'staged', 'transcribed', 'failed_transcription',
		                      'exported', 'exported_duplicate', 'exported_placeholder')),
		  channel           TEXT,
		  channel_native_id TEXT,
		  meta_json         TEXT,
		  duplicate_of      TEXT REFERENCES captures(id) ON DELETE SET NULL,
		  created_at        INTEGER NOT NULL,
		  updated_at        INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_captures_content_hash
		ON captures(content_hash)
		WHERE content_hash IS NOT NULL;

		CREATE UNIQUE INDEX IF NOT EXISTS idx_captures_channel_native_id
		ON captures(channel, channel_native_id)
		WHERE channel IS NOT NULL AND channel_native_id IS NOT NULL;

		CREATE INDEX IF NOT EXISTS idx_captures_status_created
		ON captures(status, created_at);

		CREATE INDEX IF NOT EXISTS idx_captures_created
		ON captures(created_at);

		CREATE TABLE IF NOT EXISTS exports_audit (
		  id             TEXT PRIMARY KEY,
		  capture_id     TEXT NOT NULL REFERENCES captures(id) ON DELETE CASCADE,
		  vault_path     TEXT NOT NULL,
		  hash_at_export TEXT,
		  exported_at    INTEGER NOT NULL,
		  mode           TEXT NOT NULL CHECK (mode IN ('initial', 'duplicate_skip', 'placeholder')),
		  error_flag     INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_exports_audit_capture
		ON exports_audit(capture_id, exported_at);

		CREATE TABLE IF NOT EXISTS errors_log (
		  id         TEXT PRIMARY KEY,
		  capture_id TEXT REFERENCES captures(id) ON DELETE SET NULL,
		  stage      TEXT NOT NULL CHECK (stage IN ('poll', 'transcribe', 'export', 'backup', 'integrity')),
		  message    TEXT NOT NULL,
		  created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_errors_log_stage_created
		ON errors_log(stage, created_at);

		CREATE INDEX IF NOT EXISTS idx_errors_log_capture
		ON errors_log(capture_id);

		CREATE TABLE IF NOT EXISTS sync_state (
		  key        TEXT PRIMARY KEY,
		  value      TEXT NOT NULL,
		  updated_at INTEGER NOT NULL
		);
		`,
	},
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= version {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d: begin: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version=%d", m.Version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: set user_version: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: commit: %w", m.Version, err)
		}
	}

	return nil
}
