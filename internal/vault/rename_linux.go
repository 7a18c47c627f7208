package vault

import (
	"os"

	"golang.org/x/sys/unix"
)

// renameNoReplace renames with RENAME_NOREPLACE so an existing destination is
// reported as EEXIST instead of being replaced.
func renameNoReplace(oldpath, newpath string) error {
	err := unix.Renameat2(unix.AT_FDCWD, oldpath, unix.AT_FDCWD, newpath, unix.RENAME_NOREPLACE)
	switch err {
	case nil:
		return nil
	case unix.EINVAL, unix.ENOSYS, unix.ENOTSUP:
		// filesystem or kernel without renameat2 flags
		return linkNoReplace(oldpath, newpath)
	}
	return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: err}
}
