//go:build !windows

package retry

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// classifyErrno maps POSIX errnos. EIO is treated as transient because it is
// what network-mounted vaults report when the share drops.
func classifyErrno(errno syscall.Errno) Class {
	switch errno {
	case unix.ENOSPC, unix.EDQUOT, unix.EROFS:
		return ClassFatal
	case unix.EACCES, unix.EPERM, unix.EAGAIN, unix.EBUSY, unix.EINTR,
		unix.ETIMEDOUT, unix.ESTALE, unix.EIO, unix.ENOTCONN,
		unix.ENETDOWN, unix.EHOSTDOWN:
		return ClassTransient
	}
	return ClassPermanent
}
