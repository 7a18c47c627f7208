package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/errors"
)

// InsertExport appends an exports_audit row. It fails only on storage errors.
func InsertExport(ctx context.Context, q Querier, rec *capture.ExportRecord) error {
	if rec.ID == "" {
		rec.ID = capture.NewRecordID()
	}
	if rec.ExportedAt == 0 {
		rec.ExportedAt = nowMillis()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO exports_audit (id, capture_id, vault_path, hash_at_export, exported_at, mode, error_flag)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.CaptureID, rec.VaultPath, toNullString(rec.HashAtExport), rec.ExportedAt, string(rec.Mode), rec.ErrorFlag)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// InsertError appends an errors_log row. It fails only on storage errors.
func InsertError(ctx context.Context, q Querier, rec *capture.ErrorRecord) error {
	if rec.ID == "" {
		rec.ID = capture.NewRecordID()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = nowMillis()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO errors_log (id, capture_id, stage, message, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, toNullString(rec.CaptureID), string(rec.Stage), rec.Message, rec.CreatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// RecordExportOutcome writes an audit row and, when next is non-empty, moves
// the capture to next. Both happen in one transaction or not at all.
func RecordExportOutcome(ctx context.Context, database *sql.DB, rec *capture.ExportRecord, next capture.Status) error {
	return RunTx(ctx, database, func(tx *sql.Tx) error {
		if next != "" {
			if _, err := UpdateStatusTx(ctx, tx, rec.CaptureID, next, StatusFields{}); err != nil {
				return err
			}
		}
		return InsertExport(ctx, tx, rec)
	})
}

// ListExports returns the audit trail of one capture, oldest first.
func ListExports(ctx context.Context, q Querier, captureID string) ([]capture.ExportRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, capture_id, vault_path, hash_at_export, exported_at, mode, error_flag
		FROM exports_audit
		WHERE capture_id = ?
		ORDER BY exported_at ASC, id ASC
	`, captureID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var records []capture.ExportRecord
	for rows.Next() {
		var (
			rec  capture.ExportRecord
			hash sql.NullString
			mode string
		)
		if err := rows.Scan(&rec.ID, &rec.CaptureID, &rec.VaultPath, &hash, &rec.ExportedAt, &mode, &rec.ErrorFlag); err != nil {
			return nil, errors.NewInternal(err)
		}
		rec.HashAtExport = fromNullString(hash)
		rec.Mode = capture.ExportMode(mode)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return records, nil
}

// ErrorFilter narrows ListErrors. Zero values mean no filter.
type ErrorFilter struct {
	CaptureID string
	Stage     capture.Stage
	Since     int64 // Unix ms, inclusive
	Limit     int
}

// ListErrors returns error records, newest first.
func ListErrors(ctx context.Context, q Querier, f ErrorFilter) ([]capture.ErrorRecord, error) {
	query := `SELECT id, capture_id, stage, message, created_at FROM errors_log WHERE 1=1`
	args := []any{}
	if f.CaptureID != "" {
		query += ` AND capture_id = ?`
		args = append(args, f.CaptureID)
	}
	if f.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(f.Stage))
	}
	if f.Since > 0 {
		query += ` AND created_at >= ?`
		args = append(args, f.Since)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var records []capture.ErrorRecord
	for rows.Next() {
		var (
			rec       capture.ErrorRecord
			captureID sql.NullString
			stage     string
		)
		if err := rows.Scan(&rec.ID, &captureID, &stage, &rec.Message, &rec.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		rec.CaptureID = fromNullString(captureID)
		rec.Stage = capture.Stage(stage)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return records, nil
}

// GetCursor reads a sync cursor. Returns NOT_FOUND if the key was never written.
func GetCursor(ctx context.Context, q Querier, key string) (*capture.SyncCursor, error) {
	var c capture.SyncCursor
	err := q.QueryRowContext(ctx, `SELECT key, value, updated_at FROM sync_state WHERE key = ?`, key).
		Scan(&c.Key, &c.Value, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(key)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &c, nil
}

// PutCursor overwrites a sync cursor in place, bumping updated_at.
func PutCursor(ctx context.Context, q Querier, key, value string) (*capture.SyncCursor, error) {
	now := nowMillis()
	_, err := q.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, now)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &capture.SyncCursor{Key: key, Value: value, UpdatedAt: now}, nil
}

// DeleteCursor removes a sync cursor. Deleting a missing key is not an error.
func DeleteCursor(ctx context.Context, q Querier, key string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM sync_state WHERE key = ?`, key); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}
