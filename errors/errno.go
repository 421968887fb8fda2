// Package errors (imported elsewhere as "verrors") is a compatibility shim
// for error kinds the syscall package doesn't portably define, particularly
// filesystem-consistency codes like "structure needs cleaning" (EUCLEAN on
// Linux, absent on several other platforms Go targets). It sits alongside
// the root package's [voltfs.DriverError], which is used instead wherever a
// real syscall.Errno exists and is portable.
package errors

import (
	"fmt"
)

// DiskoError is a typed string enum of error kinds that aren't safely
// representable as a portable syscall.Errno.
type DiskoError string

const ErrAlreadyInProgress = DiskoError("Operation already in progress")
const ErrArgumentOutOfRange = DiskoError("Numerical argument out of domain")
const ErrBlockDeviceRequired = DiskoError("Block device required")
const ErrBusy = DiskoError("Device or resource busy")
const ErrChainCorrupted = DiskoError("Cluster chain is malformed")
const ErrCrossLinkedCluster = DiskoError("Cluster belongs to more than one chain")
const ErrDirectoryNotEmpty = DiskoError("Directory not empty")
const ErrExists = DiskoError("File exists")
const ErrFileSystemCorrupted = DiskoError("Structure needs cleaning")
const ErrFileTooLarge = DiskoError("File too large")
const ErrInvalidArgument = DiskoError("Invalid argument")
const ErrInvalidFileSystem = DiskoError("Wrong medium type")
const ErrIOFailed = DiskoError("Input/output error")
const ErrIsADirectory = DiskoError("Is a directory")
const ErrNameTooLong = DiskoError("File name too long")
const ErrNoSpaceOnDevice = DiskoError("No space left on device")
const ErrNotADirectory = DiskoError("Not a directory")
const ErrNotFound = DiskoError("No such file or directory")
const ErrNotImplemented = DiskoError("Function not implemented")
const ErrNotPermitted = DiskoError("Operation not permitted")
const ErrNotSupported = DiskoError("Operation not supported")
const ErrPermissionDenied = DiskoError("Permission denied")
const ErrReadOnlyFileSystem = DiskoError("Read-only file system")
const ErrResultOutOfRange = DiskoError("Numerical result out of range")
const ErrUnexpectedEOF = DiskoError("Unexpected end of file or stream")

func (e DiskoError) Error() string {
	return string(e)
}

func (e DiskoError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), message),
		originalError: e,
	}
}

func (e DiskoError) WrapError(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: err,
	}
}
