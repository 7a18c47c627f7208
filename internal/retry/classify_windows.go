//go:build windows

package retry

import (
	"syscall"

	"golang.org/x/sys/windows"
)

func classifyErrno(errno syscall.Errno) Class {
	switch errno {
	case windows.ERROR_DISK_FULL, windows.ERROR_HANDLE_DISK_FULL, windows.ERROR_WRITE_PROTECT:
		return ClassFatal
	case windows.ERROR_ACCESS_DENIED, windows.ERROR_SHARING_VIOLATION, windows.ERROR_LOCK_VIOLATION,
		windows.ERROR_NETNAME_DELETED, windows.ERROR_BAD_NETPATH:
		return ClassTransient
	}
	return ClassPermanent
}
