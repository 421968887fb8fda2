package iso9660

import (
	"io"
	"os"
	"syscall"

	"github.com/arkavault/voltfs"
)

// GetObject satisfies voltfs.DriverImplementation. `parent` is always a
// handle previously returned by GetRootDirectory or a prior GetObject.
func (v *Volume) GetObject(name string, parent voltfs.ObjectHandle) (voltfs.ObjectHandle, voltfs.DriverError) {
	s, ok := parent.(*Stream)
	if !ok || !s.record.IsDirectory() {
		return nil, voltfs.NewDriverError(syscall.ENOTDIR)
	}

	dir := v.directoryOf(s.record)
	record, err := dir.Lookup(name)
	if err != nil {
		return nil, voltfs.NewDriverErrorWithMessage(syscall.ENOENT, err.Error())
	}
	return v.acquire(dir, *record), nil
}

// CreateObject always fails: this engine never writes.
func (v *Volume) CreateObject(name string, parent voltfs.ObjectHandle, perm os.FileMode) (voltfs.ObjectHandle, voltfs.DriverError) {
	return nil, voltfs.NewDriverError(syscall.EROFS)
}

// FSStat satisfies voltfs.DriverImplementation.
func (v *Volume) FSStat() voltfs.FSStat {
	return voltfs.FSStat{
		BlockSize:       BlockSize,
		TotalBlocks:     uint64(v.blocks.TotalBlocks),
		BlocksFree:      0,
		BlocksAvailable: 0,
		Files:           0,
		FilesFree:       0,
		MaxNameLength:   255,
		Label:           v.label,
	}
}

func (v *Volume) GetFSFeatures() voltfs.FSFeatures {
	return fsFeatures{joliet: v.joliet}
}

// FormatImage always fails: ISO 9660 image creation is out of scope for this
// read-only engine.
func (v *Volume) FormatImage(image io.ReadWriteSeeker, stat voltfs.FSStat) voltfs.DriverError {
	return voltfs.NewDriverError(syscall.EROFS)
}

func (v *Volume) SetBootCode(code []byte) voltfs.DriverError {
	return voltfs.NewDriverError(syscall.ENOSYS)
}

func (v *Volume) GetBootCode() ([]byte, voltfs.DriverError) {
	return nil, voltfs.NewDriverError(syscall.ENOSYS)
}
