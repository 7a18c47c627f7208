//go:build !linux && !windows

package vault

func renameNoReplace(oldpath, newpath string) error {
	return linkNoReplace(oldpath, newpath)
}
