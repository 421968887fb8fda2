package voltfs

import (
	"fmt"
	"syscall"
)

// DriverError is a wrapper around system errno codes, with a customizable
// error message. It's the error type every [ObjectHandle] and
// [DriverImplementation] method returns, so that callers can always recover
// the underlying POSIX-ish error kind (§6.5/§7 of the design) regardless of
// which engine (FAT, ISO 9660, partition) produced it. A nil DriverError
// means success, same as a nil error.
type DriverError interface {
	error

	// ErrnoCode returns the POSIX-ish errno this error carries.
	ErrnoCode() syscall.Errno

	// WithMessage returns a copy of the error with a message appended,
	// keeping the original errno code.
	WithMessage(message string) DriverError

	// Wrap produces a DriverError from an arbitrary error, preserving errno
	// and folding the wrapped error's text into the message.
	Wrap(err error) DriverError
}

type driverError struct {
	errnoCode syscall.Errno
	message   string
}

// Error implements the `error` interface.
func (e driverError) Error() string {
	if e.message != "" {
		return e.message
	}
	return e.errnoCode.Error()
}

func (e driverError) ErrnoCode() syscall.Errno {
	return e.errnoCode
}

// Is lets DriverError participate in errors.Is comparisons against a bare
// syscall.Errno, e.g. errors.Is(err, syscall.ENOSPC).
func (e driverError) Is(target error) bool {
	errno, ok := target.(syscall.Errno)
	return ok && errno == e.errnoCode
}

func (e driverError) WithMessage(message string) DriverError {
	return NewDriverErrorWithMessage(e.errnoCode, message)
}

func (e driverError) Wrap(err error) DriverError {
	if err == nil {
		return e
	}
	return NewDriverErrorWithMessage(e.errnoCode, err.Error())
}

// NewDriverError creates a new DriverError with a default message derived
// from the system's error code.
func NewDriverError(errnoCode syscall.Errno) DriverError {
	return driverError{
		errnoCode: errnoCode,
		message:   errnoCode.Error(),
	}
}

// NewDriverErrorWithMessage creates a new DriverError from a system error
// code with a custom message.
func NewDriverErrorWithMessage(errnoCode syscall.Errno, message string) DriverError {
	return driverError{
		errnoCode: errnoCode,
		message:   fmt.Sprintf("%s: %s", errnoCode.Error(), message),
	}
}

// These cover the errno codes that are portable across the platforms the
// syscall package supports. Codes that aren't universally defined (notably
// EUCLEAN, used for filesystem corruption) live in package errors instead;
// see errors/errno.go for why.
var (
	ErrNotFound           = NewDriverError(syscall.ENOENT)
	ErrNotADirectory      = NewDriverError(syscall.ENOTDIR)
	ErrIsADirectory       = NewDriverError(syscall.EISDIR)
	ErrDirectoryNotEmpty  = NewDriverError(syscall.ENOTEMPTY)
	ErrExists             = NewDriverError(syscall.EEXIST)
	ErrNoSpace            = NewDriverError(syscall.ENOSPC)
	ErrInvalidArgument    = NewDriverError(syscall.EINVAL)
	ErrPermissionDenied   = NewDriverError(syscall.EACCES)
	ErrReadOnlyFileSystem = NewDriverError(syscall.EROFS)
	ErrNameTooLong        = NewDriverError(syscall.ENAMETOOLONG)
	ErrAlreadyInProgress  = NewDriverError(syscall.EALREADY)
	ErrIOFailed           = NewDriverError(syscall.EIO)
	ErrLinkCycleDetected  = NewDriverError(syscall.ELOOP)
	ErrBusy               = NewDriverError(syscall.EBUSY)
	ErrNotSupported       = NewDriverError(syscall.ENOSYS)
)
