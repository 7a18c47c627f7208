package vault

import (
	stderrors "errors"
	"io"
	"io/fs"
	"os"
)

// fileSystem is the I/O used by Writer. Tests substitute it to inject
// failures at a chosen step.
type fileSystem interface {
	MkdirAll(path string, perm os.FileMode) error
	Create(path string) (stagingFile, error)
	ReadFile(path string) ([]byte, error)
	// Rename fails with an error matching fs.ErrExist when newpath exists.
	Rename(oldpath, newpath string) error
	Remove(path string) error
	SyncDir(path string) error
}

// stagingFile is the subset of *os.File written during a publish.
type stagingFile interface {
	io.Writer
	Sync() error
	Close() error
}

// osFS is the real filesystem.
type osFS struct{}

func (osFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Create opens path for writing, truncating leftovers from an earlier
// attempt. The final path component must not be a symlink.
func (osFS) Create(path string) (stagingFile, error) {
	f, err := openFileNoFollow(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ReadFile returns fs.ErrNotExist when path is absent.
func (osFS) ReadFile(path string) ([]byte, error) {
	f, err := openFileNoFollowRead(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (osFS) Rename(oldpath, newpath string) error {
	return renameNoReplace(oldpath, newpath)
}

func (osFS) Remove(path string) error {
	err := os.Remove(path)
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (osFS) SyncDir(path string) error {
	return syncDir(path)
}
