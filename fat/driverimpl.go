package fat

import (
	"io"
	"math"
	"os"
	"syscall"
	"time"

	"github.com/arkavault/voltfs"
	"github.com/arkavault/voltfs/common"
)

// fatRootHandle is the ObjectHandle for the mount's root directory. Unlike
// Stream, it has no backing directory entry -- FAT has no slot for "." at the
// top level on FAT12/16, and FAT32's root is just "whatever cluster
// BPB_RootClus names" with no parent entry -- so it's a thin hand-rolled
// adapter instead of going through Volume.acquire.
type fatRootHandle struct {
	volume *Volume
}

// GetRootDirectory satisfies voltfs.DriverImplementation.
func (v *Volume) GetRootDirectory() voltfs.ObjectHandle {
	return &fatRootHandle{volume: v}
}

func (r *fatRootHandle) Stat() voltfs.FileStat {
	size, _ := r.volume.CalcSize(0)
	return voltfs.FileStat{
		ModeFlags:    os.ModeDir | 0o755,
		Size:         size,
		BlockSize:    int64(r.volume.BootSector.BytesPerSector),
		CreatedAt:    voltfs.UndefinedTimestamp,
		LastModified: voltfs.UndefinedTimestamp,
		LastAccessed: voltfs.UndefinedTimestamp,
		LastChanged:  voltfs.UndefinedTimestamp,
		DeletedAt:    voltfs.UndefinedTimestamp,
	}
}

func (r *fatRootHandle) Resize(newSize uint64) voltfs.DriverError {
	return voltfs.NewDriverError(syscall.EISDIR)
}

func (r *fatRootHandle) ReadBlocks(index common.LogicalBlock, buffer []byte) voltfs.DriverError {
	return voltfs.NewDriverError(syscall.EISDIR)
}

func (r *fatRootHandle) WriteBlocks(index common.LogicalBlock, data []byte) voltfs.DriverError {
	return voltfs.NewDriverError(syscall.EISDIR)
}

func (r *fatRootHandle) ZeroOutBlocks(startIndex common.LogicalBlock, count uint) voltfs.DriverError {
	return voltfs.NewDriverError(syscall.EISDIR)
}

func (r *fatRootHandle) Unlink() voltfs.DriverError {
	return voltfs.NewDriverError(syscall.EBUSY)
}

func (r *fatRootHandle) Chmod(mode os.FileMode) voltfs.DriverError {
	return nil
}

func (r *fatRootHandle) Chown(uid, gid int) voltfs.DriverError {
	return nil
}

func (r *fatRootHandle) Chtimes(createdAt, lastAccessed, lastModified, lastChanged, deletedAt time.Time) error {
	return nil
}

func (r *fatRootHandle) ListDir() ([]string, voltfs.DriverError) {
	entries, err := r.volume.root.ReadAll()
	if err != nil {
		return nil, toDriverError(err)
	}
	names := make([]string, 0, len(entries))
	for i := range entries {
		n := entries[i].Name()
		if n != "." && n != ".." {
			names = append(names, n)
		}
	}
	return names, nil
}

func (r *fatRootHandle) Name() string { return "/" }

// GetObject satisfies voltfs.DriverImplementation. `parent` is always a
// directory handle previously returned by GetRootDirectory, CreateObject, or
// a prior GetObject.
func (v *Volume) GetObject(name string, parent voltfs.ObjectHandle) (voltfs.ObjectHandle, voltfs.DriverError) {
	dir, err := v.directoryOf(parent)
	if err != nil {
		return nil, toDriverError(err)
	}

	entry, lerr := dir.Lookup(name)
	if lerr != nil {
		return nil, toDriverError(lerr)
	}
	return v.acquire(dir, *entry), nil
}

// CreateObject satisfies voltfs.DriverImplementation. perm's read-only bit
// maps to AttrReadOnly; perm.IsDir() routes to CreateSubdirectory so a new
// directory gets its own allocated, zero-filled cluster and initial "."/".."
// entries instead of being created as a zero-length file.
func (v *Volume) CreateObject(name string, parent voltfs.ObjectHandle, perm os.FileMode) (voltfs.ObjectHandle, voltfs.DriverError) {
	dir, err := v.directoryOf(parent)
	if err != nil {
		return nil, toDriverError(err)
	}

	var attrFlags uint8
	if perm&0o200 == 0 {
		attrFlags |= AttrReadOnly
	}

	if perm.IsDir() {
		if err := dir.CreateSubdirectory(name, attrFlags); err != nil {
			return nil, toDriverError(err)
		}
	} else if err := dir.Create(name, attrFlags, 0); err != nil {
		return nil, toDriverError(err)
	}

	return v.GetObject(name, parent)
}

// directoryOf resolves an ObjectHandle previously returned by this Volume
// back into the *Directory it represents, so GetObject/CreateObject can
// search it. Both the root handle and any Stream wrapping a subdirectory are
// accepted.
func (v *Volume) directoryOf(handle voltfs.ObjectHandle) (*Directory, error) {
	switch h := handle.(type) {
	case *fatRootHandle:
		return h.volume.root, nil
	case *Stream:
		if !h.isDir {
			return nil, voltfs.ErrNotADirectory
		}
		return newClusterDirectory(h.volume, h.firstCluster), nil
	default:
		return nil, voltfs.ErrInvalidArgument
	}
}

// FSStat satisfies voltfs.DriverImplementation.
func (v *Volume) FSStat() voltfs.FSStat {
	bytesPerSector := int64(v.BootSector.BytesPerSector)
	totalClusters := uint64(v.BootSector.TotalClusters)
	freeClusters := uint64(v.Alloc.FreeCount())

	return voltfs.FSStat{
		BlockSize:       bytesPerSector,
		TotalBlocks:     uint64(v.BootSector.TotalSectors()),
		BlocksFree:      freeClusters * uint64(v.BootSector.SectorsPerCluster),
		BlocksAvailable: freeClusters * uint64(v.BootSector.SectorsPerCluster),
		Files:           totalClusters - freeClusters,
		FilesFree:       math.MaxUint64,
		MaxNameLength:   255,
		Label:           v.BootSector.Label(),
	}
}

// GetFSFeatures satisfies voltfs.DriverImplementation.
func (v *Volume) GetFSFeatures() voltfs.FSFeatures {
	return fsFeatures{version: v.BootSector.FATVersion, blockSize: int(v.BootSector.BytesPerSector)}
}

// FormatImage satisfies voltfs.DriverImplementation. It builds a fresh FAT
// volume matching `stat` directly onto `image`, then re-mounts the result
// into this Volume so it's immediately usable.
func (v *Volume) FormatImage(image io.ReadWriteSeeker, stat voltfs.FSStat) voltfs.DriverError {
	opts := FormatOptions{
		TotalSectors:   uint(stat.TotalBlocks),
		BytesPerSector: uint16(stat.BlockSize),
		Label:          stat.Label,
		NumFATs:        2,
	}
	formatted, err := Format(image, opts)
	if err != nil {
		return toDriverError(err)
	}
	*v = *formatted
	return nil
}

// SetBootCode satisfies voltfs.DriverImplementation by writing machine code
// into the boot sector's code area (bytes 0x3E..0x1FD on FAT12/16, 0x5A..0x1FD
// on FAT32), leaving the jump instruction and BPB untouched.
func (v *Volume) SetBootCode(code []byte) voltfs.DriverError {
	features := v.GetFSFeatures()
	if len(code) > features.MaxBootCodeSize() {
		return toDriverError(voltfs.ErrInvalidArgument.WithMessage("boot code too large"))
	}

	offset := int64(0x3E)
	if v.BootSector.IsFAT32() {
		offset = 0x5A
	}

	if _, err := v.image.Seek(offset, io.SeekStart); err != nil {
		return voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	if _, err := v.image.Write(code); err != nil {
		return voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	return nil
}

// GetBootCode satisfies voltfs.DriverImplementation.
func (v *Volume) GetBootCode() ([]byte, voltfs.DriverError) {
	features := v.GetFSFeatures()
	offset := int64(0x3E)
	if v.BootSector.IsFAT32() {
		offset = 0x5A
	}

	size := features.MaxBootCodeSize()
	buf := make([]byte, size)
	if _, err := v.image.Seek(offset, io.SeekStart); err != nil {
		return nil, voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	if _, err := io.ReadFull(v.image, buf); err != nil {
		return nil, voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	return buf, nil
}
