package driver

import (
	"os"
	"syscall"
	"time"

	"github.com/arkavault/voltfs"
	"github.com/arkavault/voltfs/common"
)

// NopObjectHandle implements the [voltfs.ObjectHandle] interface, but returns
// an error with code ENOSYS for all operations. Any non-error return values
// are the corresponding zero value for that type.
type NopObjectHandle struct {
	voltfs.ObjectHandle
}

// Stat returns an empty [voltfs.FileStat] struct with all members initialized to
// their zero values.
func (obj NopObjectHandle) Stat() voltfs.FileStat {
	return voltfs.FileStat{}
}

// Resize does nothing.
func (obj NopObjectHandle) Resize(newSize uint64) voltfs.DriverError {
	return voltfs.NewDriverError(syscall.ENOSYS)
}

// ReadBlocks does nothing.
func (obj NopObjectHandle) ReadBlocks(
	index common.LogicalBlock, buffer []byte,
) voltfs.DriverError {
	return voltfs.NewDriverError(syscall.ENOSYS)
}

// WriteBlocks does nothing.
func (obj NopObjectHandle) WriteBlocks(
	index common.LogicalBlock, data []byte,
) voltfs.DriverError {
	return voltfs.NewDriverError(syscall.ENOSYS)
}

// ZeroOutBlocks does nothing.
func (obj NopObjectHandle) ZeroOutBlocks(
	startIndex common.LogicalBlock, count uint,
) voltfs.DriverError {
	return voltfs.NewDriverError(syscall.ENOSYS)
}

// Unlink does nothing.
func (obj NopObjectHandle) Unlink() voltfs.DriverError {
	return voltfs.NewDriverError(syscall.ENOSYS)
}

// Chmod does nothing.
func (obj NopObjectHandle) Chmod(mode os.FileMode) voltfs.DriverError {
	return voltfs.NewDriverError(syscall.ENOSYS)
}

// Chown does nothing.
func (obj NopObjectHandle) Chown(uid, gid int) voltfs.DriverError {
	return voltfs.NewDriverError(syscall.ENOSYS)
}

// Chtimes does nothing.
func (obj NopObjectHandle) Chtimes(
	createdAt,
	lastAccessed,
	lastModified,
	lastChanged,
	deletedAt time.Time,
) error {
	return voltfs.NewDriverError(syscall.ENOSYS)
}

// ListDir does nothing, and returns a nil list of names.
func (obj NopObjectHandle) ListDir() ([]string, voltfs.DriverError) {
	return nil, voltfs.NewDriverError(syscall.ENOSYS)
}

// Name returns an empty string.
func (obj NopObjectHandle) Name() string {
	return ""
}
