package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/stash/internal/errors"
)

// BackupsDir returns the directory ledger backups are written to.
func BackupsDir(baseDir string) string {
	return filepath.Join(baseDir, "backups")
}

// ValidateBackupPath checks a backup destination. The file must:
//   - not contain ".." components
//   - have a .jsonl extension
//   - sit directly in the backups directory (no subdirectories)
//   - not be a symlink, nor have a symlinked parent
//
// Forbidding subdirectories leaves no intermediate component that could be
// swapped for a symlink between validation and rename.
func ValidateBackupPath(path, baseDir string) error {
	if path == "" {
		return errors.NewInvalidRequest("path is required")
	}
	if containsTraversal(path) {
		return errors.NewInvalidRequest("path must not contain directory traversal (..)")
	}

	cleaned := filepath.Clean(path)
	if filepath.Ext(cleaned) != ".jsonl" {
		return errors.NewInvalidRequest("path must have .jsonl extension")
	}

	absPath, err := filepath.Abs(cleaned)
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}
	allowed, err := filepath.Abs(BackupsDir(baseDir))
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid base directory: %v", err))
	}

	parentDir := filepath.Dir(absPath)
	if parentDir != allowed {
		return errors.NewInvalidRequest(
			fmt.Sprintf("file must be directly in the backups directory (%s)", allowed))
	}
	if info, err := os.Lstat(parentDir); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("parent directory must not be a symlink")
	}
	if info, err := os.Lstat(absPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("path must not be a symlink")
	}
	return nil
}

// containsTraversal checks if path contains ".." directory traversal.
func containsTraversal(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	// Forward slashes are accepted as separators on every platform.
	if filepath.Separator != '/' {
		for _, part := range strings.Split(path, "/") {
			if part == ".." {
				return true
			}
		}
	}
	return false
}
