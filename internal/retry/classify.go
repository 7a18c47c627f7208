package retry

import (
	stderrors "errors"
	"syscall"

	"github.com/hpungsan/stash/internal/errors"
)

// Classify maps a filesystem error to its retry class. It looks through
// *os.PathError, *os.LinkError and *os.SyscallError to the errno.
// Errors that carry no errno are permanent.
func Classify(err error) Class {
	if err == nil {
		return ClassPermanent
	}
	switch errors.CodeOf(err) {
	case errors.ErrTransientIO:
		return ClassTransient
	case errors.ErrFatalIO:
		return ClassFatal
	}
	var errno syscall.Errno
	if !stderrors.As(err, &errno) {
		return ClassPermanent
	}
	return classifyErrno(errno)
}
