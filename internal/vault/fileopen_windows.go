//go:build windows

package vault

import (
	"os"

	"golang.org/x/sys/windows"
)

// openFileNoFollow opens a file for writing.
// On Windows, O_NOFOLLOW is not available. Symlink creation needs elevated
// privileges there.
func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}

// openFileNoFollowRead opens a file for reading.
// On Windows, O_NOFOLLOW is not available. See openFileNoFollow for details.
func openFileNoFollowRead(path string) (*os.File, error) {
	return os.Open(path)
}

// syncDir is a no-op on Windows, where directories cannot be opened for fsync.
func syncDir(string) error {
	return nil
}

// renameNoReplace moves without MOVEFILE_REPLACE_EXISTING, so an existing
// destination fails with ERROR_ALREADY_EXISTS.
func renameNoReplace(oldpath, newpath string) error {
	from, err := windows.UTF16PtrFromString(oldpath)
	if err != nil {
		return err
	}
	to, err := windows.UTF16PtrFromString(newpath)
	if err != nil {
		return err
	}
	if err := windows.MoveFileEx(from, to, windows.MOVEFILE_WRITE_THROUGH); err != nil {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: err}
	}
	return nil
}
