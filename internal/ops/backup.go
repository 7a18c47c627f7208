package ops

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
)

// backupPageSize is how many captures are read per query while writing a backup.
const backupPageSize = 200

// BackupInput contains parameters for the Backup operation.
type BackupInput struct {
	Path string // optional, default: <base>/backups/stash-<timestamp>.jsonl
}

// BackupOutput contains the result of the Backup operation.
type BackupOutput struct {
	Path       string `json:"path"`
	Captures   int    `json:"captures"`
	Exports    int    `json:"exports"`
	BackedUpAt int64  `json:"backed_up_at"`
}

// BackupHeader is the first line of a backup file.
type BackupHeader struct {
	StashBackup   bool   `json:"_stash_backup"`
	SchemaVersion string `json:"schema_version"`
	BackedUpAt    int64  `json:"backed_up_at"`
}

// BackupRecord is one capture line of a backup file, carrying its export trail.
type BackupRecord struct {
	*capture.Capture
	Exports []capture.ExportRecord `json:"exports"`
}

// Backup writes every capture and its export trail to a JSONL file. The file
// is written under a temporary name and renamed into place, so an existing
// backup at the same path survives a failed run. Failures other than caller
// mistakes are recorded in the error log under the backup stage.
func Backup(ctx context.Context, database *sql.DB, baseDir string, input BackupInput) (*BackupOutput, error) {
	now := time.Now()
	path := input.Path
	if path == "" {
		path = filepath.Join(BackupsDir(baseDir), "stash-"+now.UTC().Format("2006-01-02T150405")+".jsonl")
	}
	if err := ValidateBackupPath(path, baseDir); err != nil {
		return nil, err
	}

	out, err := writeBackup(ctx, database, path, now.UnixMilli())
	if err != nil {
		recordBackupFailure(ctx, database, path, err)
		return nil, err
	}
	return out, nil
}

func writeBackup(ctx context.Context, database *sql.DB, path string, backedUpAt int64) (*BackupOutput, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("create backups directory: %w", err))
	}

	file, err := os.CreateTemp(dir, ".stash-backup-*.tmp")
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("create backup file: %w", err))
	}
	tempPath := file.Name()

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	enc := json.NewEncoder(file)
	if err := enc.Encode(BackupHeader{StashBackup: true, SchemaVersion: "1.0", BackedUpAt: backedUpAt}); err != nil {
		return nil, errors.NewInternal(err)
	}

	out := &BackupOutput{Path: path, BackedUpAt: backedUpAt}
	for offset := 0; ; offset += backupPageSize {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewInternal(fmt.Errorf("backup cancelled: %w", err))
		}
		items, _, err := db.ListCreatedBetween(ctx, database, 0, 0, backupPageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, c := range items {
			exports, err := db.ListExports(ctx, database, c.ID)
			if err != nil {
				return nil, err
			}
			if exports == nil {
				exports = []capture.ExportRecord{}
			}
			if err := enc.Encode(BackupRecord{Capture: c, Exports: exports}); err != nil {
				return nil, errors.NewInternal(err)
			}
			out.Captures++
			out.Exports += len(exports)
		}
		if len(items) < backupPageSize {
			break
		}
	}

	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	// Close before rename (required on Windows).
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("close backup file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink planted since validation.
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInvalidRequest("path must not be a symlink")
	}
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, errors.NewInvalidRequest("backup destination already exists; choose a new path")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("finalize backup: %w", err))
	}

	success = true
	return out, nil
}

// recordBackupFailure appends a backup-stage entry to the error log. Caller
// mistakes are not recorded.
func recordBackupFailure(ctx context.Context, database *sql.DB, path string, cause error) {
	if sErr, ok := errors.As(cause); ok && sErr.Code == errors.ErrInvalidRequest {
		return
	}
	rec := &capture.ErrorRecord{
		Stage:   capture.StageBackup,
		Message: fmt.Sprintf("backup to %s failed: %v", filepath.Base(path), cause),
	}
	if err := db.InsertError(context.WithoutCancel(ctx), database, rec); err != nil {
		slog.Error("failed to record backup failure", "error", err)
	}
}
