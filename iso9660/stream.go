package iso9660

import (
	"os"
	"syscall"
	"time"

	"github.com/arkavault/voltfs"
	"github.com/arkavault/voltfs/common"
)

// Stream is a read-only handle to an ISO 9660 file or directory, identity-
// hashed by (dirLocation, byte offset of the record within that directory's
// extent) exactly as fat.Stream is, so repeated lookups of the same on-disk
// record share one object.
type Stream struct {
	volume *Volume
	key    objectKey
	record DirectoryRecord
	name   string

	refCount int
}

// acquire returns the live Stream for a directory record, creating it on the
// first lookup. parent is nil only for the root directory, which has no
// containing extent of its own to key against.
func (v *Volume) acquire(parent *Directory, record DirectoryRecord) *Stream {
	key := objectKey{offset: record.byteOffset}
	if parent != nil {
		key.dirLocation = parent.location
	} else {
		key.dirLocation = record.LBA
	}

	if existing, ok := v.objects[key]; ok {
		existing.refCount++
		v.unstandby(existing)
		return existing
	}

	stream := &Stream{
		volume:   v,
		key:      key,
		record:   record,
		name:     record.Identifier,
		refCount: 1,
	}
	v.objects[key] = stream
	return stream
}

func (v *Volume) unstandby(s *Stream) {
	for i, candidate := range v.standby {
		if candidate == s {
			v.standby = append(v.standby[:i], v.standby[i+1:]...)
			return
		}
	}
}

// release drops a reference, moving the Stream to the stand-by list at
// refcount 0 rather than destroying it -- same rationale as fat.Stream.release.
func (s *Stream) release() {
	s.refCount--
	if s.refCount > 0 {
		return
	}

	v := s.volume
	v.standby = append(v.standby, s)
	if len(v.standby) > v.maxStandby {
		evicted := v.standby[0]
		v.standby = v.standby[1:]
		delete(v.objects, evicted.key)
	}
}

////////////////////////////////////////////////////////////////////////////
// voltfs.ObjectHandle implementation

func (s *Stream) Stat() voltfs.FileStat {
	mode := os.FileMode(0o444)
	if s.record.IsDirectory() {
		mode |= os.ModeDir | 0o111
	}
	modTime := recordingDateTimeToGo(s.record.RecordingDateTime)

	return voltfs.FileStat{
		ModeFlags:    mode,
		Size:         int64(s.record.DataLength),
		BlockSize:    BlockSize,
		NumBlocks:    int64((s.record.DataLength + BlockSize - 1) / BlockSize),
		CreatedAt:    modTime,
		LastModified: modTime,
		LastAccessed: voltfs.UndefinedTimestamp,
		LastChanged:  voltfs.UndefinedTimestamp,
		DeletedAt:    voltfs.UndefinedTimestamp,
	}
}

func recordingDateTimeToGo(dt recordingDateTime) time.Time {
	return time.Date(
		1900+int(dt.yearsSince1900),
		time.Month(dt.month),
		int(dt.day),
		int(dt.hour),
		int(dt.minute),
		int(dt.second),
		0,
		time.FixedZone("", int(dt.gmtOffset)*15*60),
	)
}

func (s *Stream) Resize(newSize uint64) voltfs.DriverError {
	return voltfs.NewDriverError(syscall.EROFS)
}

// ReadBlocks fills buffer with data starting at logical block `index`, one
// ISO 9660 block (2048 bytes) per unit.
func (s *Stream) ReadBlocks(index common.LogicalBlock, buffer []byte) voltfs.DriverError {
	startBlock := common.BlockID(s.record.LBA) + common.BlockID(index)
	count := uint(len(buffer) / BlockSize)

	data, err := s.volume.blocks.Read(startBlock, count)
	if err != nil {
		return voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	copy(buffer, data)
	return nil
}

func (s *Stream) WriteBlocks(index common.LogicalBlock, data []byte) voltfs.DriverError {
	return voltfs.NewDriverError(syscall.EROFS)
}

func (s *Stream) ZeroOutBlocks(startIndex common.LogicalBlock, count uint) voltfs.DriverError {
	return voltfs.NewDriverError(syscall.EROFS)
}

func (s *Stream) Unlink() voltfs.DriverError {
	return voltfs.NewDriverError(syscall.EROFS)
}

func (s *Stream) Chmod(mode os.FileMode) voltfs.DriverError {
	return voltfs.NewDriverError(syscall.EROFS)
}

func (s *Stream) Chown(uid, gid int) voltfs.DriverError {
	return voltfs.NewDriverError(syscall.EROFS)
}

// Chtimes always fails: ISO 9660 timestamps are immutable by construction.
func (s *Stream) Chtimes(createdAt, lastAccessed, lastModified, lastChanged, deletedAt time.Time) error {
	return voltfs.NewDriverError(syscall.EROFS)
}

func (s *Stream) ListDir() ([]string, voltfs.DriverError) {
	if !s.record.IsDirectory() {
		return nil, voltfs.NewDriverError(syscall.ENOTDIR)
	}
	dir := s.volume.directoryOf(s.record)
	entries, err := dir.ReadAll()
	if err != nil {
		return nil, voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Identifier != "." && e.Identifier != ".." {
			names = append(names, e.Identifier)
		}
	}
	return names, nil
}

func (s *Stream) Name() string {
	return s.name
}
