//go:build !windows

package vault

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/hpungsan/stash/internal/errors"
)

// openFileNoFollow opens a file for writing with O_NOFOLLOW so a symlink
// planted at the staging path is never written through. O_CLOEXEC prevents
// FD leaks across exec. Errno values are kept so retry classification sees them.
func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	fd, err := syscall.Open(path, flag|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, uint32(perm))
	if err != nil {
		if stderrors.Is(err, syscall.ELOOP) {
			return nil, errors.NewInvalidRequest("cannot write to symlink: " + path)
		}
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return os.NewFile(uintptr(fd), path), nil
}

// openFileNoFollowRead opens a file for reading with O_NOFOLLOW.
func openFileNoFollowRead(path string) (*os.File, error) {
	fd, err := syscall.Open(path, syscall.O_RDONLY|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, 0)
	if err != nil {
		if stderrors.Is(err, syscall.ELOOP) {
			return nil, errors.NewInvalidRequest("cannot read from symlink: " + path)
		}
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return os.NewFile(uintptr(fd), path), nil
}

// syncDir flushes directory metadata so a completed rename survives power loss.
func syncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// linkNoReplace publishes oldpath at newpath with link(2), which refuses an
// existing newpath, then drops the staging name. Filesystems without hard
// links fall back to a plain rename.
func linkNoReplace(oldpath, newpath string) error {
	if err := os.Link(oldpath, newpath); err != nil {
		var le *os.LinkError
		if stderrors.As(err, &le) && (le.Err == syscall.EPERM || le.Err == syscall.ENOTSUP || le.Err == syscall.EOPNOTSUPP) {
			return os.Rename(oldpath, newpath)
		}
		return err
	}
	// a leftover staging name is truncated by the next publish
	_ = os.Remove(oldpath)
	return nil
}
