package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Stash error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"     // 400
	ErrInvalidIdentifier  ErrorCode = "INVALID_IDENTIFIER"  // 400
	ErrNotFound           ErrorCode = "NOT_FOUND"           // 404
	ErrDuplicateContent   ErrorCode = "DUPLICATE_CONTENT"   // 409
	ErrDuplicateSource    ErrorCode = "DUPLICATE_SOURCE"    // 409
	ErrInvalidTransition  ErrorCode = "INVALID_TRANSITION"  // 409
	ErrIntegrityViolation ErrorCode = "INTEGRITY_VIOLATION" // 409
	ErrExportHalted       ErrorCode = "EXPORT_HALTED"       // 503
	ErrTransientIO        ErrorCode = "TRANSIENT_IO"        // 503
	ErrFatalIO            ErrorCode = "FATAL_IO"            // 507
	ErrInternal           ErrorCode = "INTERNAL"            // 500
)

// StashError represents a structured error with code, status, and details.
// Err holds the underlying cause, if any, so errors.Is/As can reach it.
type StashError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *StashError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *StashError) Unwrap() error {
	return e.Err
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *StashError {
	return &StashError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewInvalidIdentifier creates a 400 error for a capture id that failed validation.
// It is raised before any filesystem access.
func NewInvalidIdentifier(id, reason string) *StashError {
	return &StashError{
		Code:    ErrInvalidIdentifier,
		Status:  400,
		Message: fmt.Sprintf("invalid capture id %q: %s", id, reason),
		Details: map[string]any{"id": id, "reason": reason},
	}
}

// NewNotFound creates a 404 error for when a capture cannot be found.
func NewNotFound(identifier string) *StashError {
	return &StashError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("capture not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewDuplicateContent creates a 409 error for a content_hash collision.
func NewDuplicateContent(hash string) *StashError {
	return &StashError{
		Code:    ErrDuplicateContent,
		Status:  409,
		Message: fmt.Sprintf("content hash already staged: %s", hash),
		Details: map[string]any{"content_hash": hash},
	}
}

// NewDuplicateSource creates a 409 error for a (channel, channel_native_id) collision.
func NewDuplicateSource(channel, nativeID string) *StashError {
	return &StashError{
		Code:    ErrDuplicateSource,
		Status:  409,
		Message: fmt.Sprintf("source item already staged: %s/%s", channel, nativeID),
		Details: map[string]any{"channel": channel, "channel_native_id": nativeID},
	}
}

// NewInvalidTransition creates a 409 error for an illegal status move.
func NewInvalidTransition(id, from, to string) *StashError {
	return &StashError{
		Code:    ErrInvalidTransition,
		Status:  409,
		Message: fmt.Sprintf("capture %s cannot move from %s to %s", id, from, to),
		Details: map[string]any{"id": id, "from": from, "to": to},
	}
}

// NewIntegrityViolation creates a 409 error for a vault filename collision
// where the existing file holds different content.
func NewIntegrityViolation(id, path string) *StashError {
	return &StashError{
		Code:    ErrIntegrityViolation,
		Status:  409,
		Message: fmt.Sprintf("vault file %s exists with different content for capture %s", path, id),
		Details: map[string]any{"id": id, "path": path},
	}
}

// NewExportHalted creates a 503 error returned while the export writer is halted.
func NewExportHalted(reason string) *StashError {
	return &StashError{
		Code:    ErrExportHalted,
		Status:  503,
		Message: fmt.Sprintf("export halted: %s", reason),
	}
}

// NewTransientIO creates a 503 error after the retry budget for a
// transient filesystem failure was exhausted.
func NewTransientIO(attempts int, err error) *StashError {
	return &StashError{
		Code:    ErrTransientIO,
		Status:  503,
		Message: fmt.Sprintf("export failed after %d attempts: %v", attempts, err),
		Details: map[string]any{"attempts": attempts},
		Err:     err,
	}
}

// NewFatalIO creates a 507 error for capacity or medium failures.
func NewFatalIO(err error) *StashError {
	return &StashError{
		Code:    ErrFatalIO,
		Status:  507,
		Message: fmt.Sprintf("fatal storage failure: %v", err),
		Err:     err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *StashError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &StashError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Err:     err,
	}
}

// Is checks if an error is (or wraps) a StashError with the given code.
func Is(err error, code ErrorCode) bool {
	var sErr *StashError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

// CodeOf returns the code of a StashError, or ErrInternal for any other error.
func CodeOf(err error) ErrorCode {
	var sErr *StashError
	if stderrors.As(err, &sErr) {
		return sErr.Code
	}
	return ErrInternal
}

// As returns the StashError in err's chain, if any.
func As(err error) (*StashError, bool) {
	var sErr *StashError
	if stderrors.As(err, &sErr) {
		return sErr, true
	}
	return nil, false
}
