package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/errors"
)

// nowMillis returns the current time as Unix milliseconds.
// Tests may replace it to control timestamps.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

const captureColumns = `
	id, source, raw_content, content_hash, status,
	channel, channel_native_id, meta_json, duplicate_of,
	created_at, updated_at`

// InsertCapture stores a new capture.
// Returns DUPLICATE_CONTENT or DUPLICATE_SOURCE when a dedup key collides.
func InsertCapture(ctx context.Context, q Querier, c *capture.Capture) error {
	metaJSON, err := encodeExtra(c.Meta.Extra)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `
		INSERT INTO captures (` + captureColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = q.ExecContext(ctx, query,
		c.ID, string(c.Source), c.RawContent, toNullString(c.ContentHash), string(c.Status),
		emptyToNull(c.Meta.Channel), emptyToNull(c.Meta.ChannelNativeID), metaJSON, toNullString(c.DuplicateOf),
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return classifyConstraint(err, c)
	}
	return nil
}

// GetCapture retrieves a capture by id.
func GetCapture(ctx context.Context, q Querier, id string) (*capture.Capture, error) {
	row := q.QueryRowContext(ctx, `SELECT `+captureColumns+` FROM captures WHERE id = ?`, id)
	c, err := scanCapture(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return c, nil
}

// FindBySourceKey retrieves the capture staged for an upstream item.
func FindBySourceKey(ctx context.Context, q Querier, channel, nativeID string) (*capture.Capture, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+captureColumns+` FROM captures WHERE channel = ? AND channel_native_id = ?`,
		channel, nativeID)
	c, err := scanCapture(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(channel + "/" + nativeID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return c, nil
}

// FindByContentHash retrieves the capture owning a content hash.
func FindByContentHash(ctx context.Context, q Querier, hash string) (*capture.Capture, error) {
	row := q.QueryRowContext(ctx, `SELECT `+captureColumns+` FROM captures WHERE content_hash = ?`, hash)
	c, err := scanCapture(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(hash)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return c, nil
}

// StatusFields are the optional column updates that accompany a status move.
// Nil fields are left unchanged.
type StatusFields struct {
	RawContent  *string
	ContentHash *string
	DuplicateOf *string

	// ClearContentHash sets content_hash to NULL. Used when the row is folded
	// into another capture's hash.
	ClearContentHash bool

	// ClearDuplicateOf sets duplicate_of to NULL. Used when a folded row gets
	// content of its own.
	ClearDuplicateOf bool
}

// UpdateStatus moves a capture to a new status inside a single transaction,
// bumping updated_at. Returns NOT_FOUND, INVALID_TRANSITION, or
// DUPLICATE_CONTENT when fields.ContentHash collides with another capture.
func UpdateStatus(ctx context.Context, database *sql.DB, id string, to capture.Status, fields StatusFields) (*capture.Capture, error) {
	var updated *capture.Capture
	err := RunTx(ctx, database, func(tx *sql.Tx) error {
		c, err := UpdateStatusTx(ctx, tx, id, to, fields)
		if err != nil {
			return err
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateStatusTx validates and applies a status move within tx.
func UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, to capture.Status, fields StatusFields) (*capture.Capture, error) {
	c, err := GetCapture(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	from := c.Status
	if err := capture.ValidateTransition(id, from, to); err != nil {
		return nil, err
	}

	if fields.RawContent != nil {
		c.RawContent = *fields.RawContent
	}
	if fields.ContentHash != nil {
		c.ContentHash = fields.ContentHash
	}
	if fields.ClearContentHash {
		c.ContentHash = nil
	}
	if fields.DuplicateOf != nil {
		c.DuplicateOf = fields.DuplicateOf
	}
	if fields.ClearDuplicateOf {
		c.DuplicateOf = nil
	}
	c.Status = to
	c.UpdatedAt = nowMillis()

	// status = ? in WHERE guards against a concurrent writer moving the row first
	query := `
		UPDATE captures
		SET status = ?, raw_content = ?, content_hash = ?, duplicate_of = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := tx.ExecContext(ctx, query,
		string(c.Status), c.RawContent, toNullString(c.ContentHash), toNullString(c.DuplicateOf), c.UpdatedAt,
		id, string(from),
	)
	if err != nil {
		return nil, classifyConstraint(err, c)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return nil, errors.NewInvalidTransition(id, string(from), string(to))
	}
	return c, nil
}

// ListByStatus returns captures in a status, oldest first.
func ListByStatus(ctx context.Context, q Querier, status capture.Status, limit, offset int) ([]*capture.Capture, error) {
	query := `SELECT ` + captureColumns + ` FROM captures
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?`
	return queryCaptures(ctx, q, query, string(status), limit, offset)
}

// CountByStatus returns the number of captures in a status.
func CountByStatus(ctx context.Context, q Querier, status capture.Status) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM captures WHERE status = ?`, string(status)).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// StatusCounts returns capture counts for every status (zero-filled).
func StatusCounts(ctx context.Context, q Querier) (map[capture.Status]int, error) {
	rows, err := q.QueryContext(ctx, `SELECT status, COUNT(*) FROM captures GROUP BY status`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	counts := make(map[capture.Status]int, len(capture.AllStatuses))
	for _, s := range capture.AllStatuses {
		counts[s] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.NewInternal(err)
		}
		counts[capture.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return counts, nil
}

// ListCreatedBetween returns captures with from <= created_at < to, oldest first.
// A zero bound is open.
func ListCreatedBetween(ctx context.Context, q Querier, from, to int64, limit, offset int) ([]*capture.Capture, int, error) {
	where := []string{"1=1"}
	args := []any{}
	if from > 0 {
		where = append(where, "created_at >= ?")
		args = append(args, from)
	}
	if to > 0 {
		where = append(where, "created_at < ?")
		args = append(args, to)
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM captures WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `SELECT ` + captureColumns + ` FROM captures
		WHERE ` + whereSQL + `
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?`
	items, err := queryCaptures(ctx, q, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// DeleteCapture hard-deletes a capture. Its exports_audit rows cascade and
// its errors_log rows keep their entry with capture_id cleared.
func DeleteCapture(ctx context.Context, q Querier, id string) error {
	result, err := q.ExecContext(ctx, `DELETE FROM captures WHERE id = ?`, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// PurgeTerminal deletes captures in a terminal status last updated before
// olderThan (Unix ms). Returns the number of captures deleted.
func PurgeTerminal(ctx context.Context, q Querier, olderThan int64) (int, error) {
	result, err := q.ExecContext(ctx, `
		DELETE FROM captures
		WHERE status IN ('failed_transcription', 'exported', 'exported_duplicate', 'exported_placeholder')
		  AND updated_at < ?
	`, olderThan)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(n), nil
}

// queryCaptures runs a SELECT of captureColumns and scans every row.
func queryCaptures(ctx context.Context, q Querier, query string, args ...any) ([]*capture.Capture, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var items []*capture.Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return items, nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanCapture scans a single row into a Capture struct.
func scanCapture(row rowScanner) (*capture.Capture, error) {
	var (
		c           capture.Capture
		source      string
		status      string
		contentHash sql.NullString
		channel     sql.NullString
		nativeID    sql.NullString
		metaJSON    sql.NullString
		duplicateOf sql.NullString
	)

	err := row.Scan(
		&c.ID, &source, &c.RawContent, &contentHash, &status,
		&channel, &nativeID, &metaJSON, &duplicateOf,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Source = capture.Source(source)
	c.Status = capture.Status(status)
	c.ContentHash = fromNullString(contentHash)
	c.DuplicateOf = fromNullString(duplicateOf)
	c.Meta.Channel = channel.String
	c.Meta.ChannelNativeID = nativeID.String

	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &c.Meta.Extra); err != nil {
			return nil, err
		}
	}

	return &c, nil
}

// classifyConstraint maps a UNIQUE violation to the dedup key that fired.
func classifyConstraint(err error, c *capture.Capture) error {
	if !isUniqueConstraintError(err) {
		return errors.NewInternal(err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "captures.content_hash"):
		hash := ""
		if c.ContentHash != nil {
			hash = *c.ContentHash
		}
		return errors.NewDuplicateContent(hash)
	case strings.Contains(msg, "captures.channel"):
		return errors.NewDuplicateSource(c.Meta.Channel, c.Meta.ChannelNativeID)
	}
	return errors.NewInternal(err)
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// encodeExtra converts the open meta map to a nullable JSON column.
func encodeExtra(extra map[string]string) (sql.NullString, error) {
	if len(extra) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// emptyToNull converts "" to NULL so partial unique indexes skip it.
func emptyToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
