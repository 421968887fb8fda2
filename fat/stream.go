package fat

import (
	"os"
	"syscall"
	"time"

	"github.com/arkavault/voltfs"
	"github.com/arkavault/voltfs/common"
)

// Stream is a live handle to a FAT file or directory's data, identity-hashed
// by (directory cluster, byte offset of its short-name entry) so that two
// independent path lookups landing on the same on-disk entry get back the
// exact same *Stream rather than two objects that happen to describe the
// same file. This matters because WriteBlocks/Resize on one handle must be
// immediately visible through the other.
type Stream struct {
	volume       *Volume
	key          objectKey
	parent       *Directory
	name         string
	attrFlags    uint8
	firstCluster ClusterID
	size         int64
	isDir        bool
	created      time.Time
	modified     time.Time
	accessed     time.Time

	refCount int
	dirty    bool

	// clusCache memoizes the chain once listed; invalidated whenever the
	// chain is grown, shrunk, or freed.
	clusCache []ClusterID
}

// acquire returns the live Stream for a directory entry, creating it on the
// first lookup and bumping the refcount on every subsequent one. This is the
// only path that should construct a *Stream.
func (v *Volume) acquire(parent *Directory, entry resolvedEntry) *Stream {
	key := objectKey{dirCluster: parent.firstCluster, offset: entry.byteOffset}
	if parent.isFixedRoot {
		key.dirCluster = 0
	}

	if existing, ok := v.objects[key]; ok {
		existing.refCount++
		v.unstandby(existing)
		return existing
	}

	stream := &Stream{
		volume:       v,
		key:          key,
		parent:       parent,
		name:         entry.name,
		attrFlags:    uint8(entry.AttributeFlags),
		firstCluster: entry.FirstCluster,
		size:         entry.size,
		isDir:        entry.mode.IsDir(),
		created:      entry.Created,
		modified:     entry.LastModified,
		accessed:     entry.LastAccessed,
		refCount:     1,
	}
	v.objects[key] = stream
	return stream
}

// unstandby removes a Stream from the stand-by list if it's on it, since
// it's being reacquired.
func (v *Volume) unstandby(s *Stream) {
	for i, candidate := range v.standby {
		if candidate == s {
			v.standby = append(v.standby[:i], v.standby[i+1:]...)
			return
		}
	}
}

// release drops a reference. At refCount 0 the Stream moves to the
// stand-by list instead of being destroyed immediately, so a close-then-
// reopen in quick succession (extremely common -- every `cat file` does
// this under the hood) doesn't pay the cost of re-parsing the directory
// entry. The stand-by list is bounded; the oldest entry is evicted (and
// its identity-hash slot freed) once it overflows.
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

// flush writes this Stream's directory entry back out if it's been modified
// since it was read. Called from Volume.Dismount.
func (s *Stream) flush() error {
	if !s.dirty {
		return nil
	}
	s.dirty = false
	// The directory entry's size, first cluster, and attributes are
	// rewritten in place by Resize/Chmod/Chtimes as they happen, so there is
	// nothing left to flush here beyond the cluster chain cache. Timestamps
	// are kept in memory only and are not written to the entry.
	s.clusCache = nil
	return nil
}

// chain returns (and memoizes) the list of clusters backing this stream.
func (s *Stream) chain() ([]ClusterID, error) {
	if s.firstCluster == 0 {
		return nil, nil
	}
	if s.clusCache != nil {
		return s.clusCache, nil
	}
	chain, err := s.volume.Table.ListChain(s.firstCluster)
	if err != nil {
		return nil, err
	}
	s.clusCache = chain
	return chain, nil
}

// GetClusNum returns the on-disk cluster number holding byte offset `pos`
// within the stream, memoizing the chain the first time it's needed.
func (s *Stream) GetClusNum(pos int64) (ClusterID, error) {
	chain, err := s.chain()
	if err != nil {
		return 0, err
	}
	clusterSize := int64(s.volume.BootSector.BytesPerCluster)
	index := int(pos / clusterSize)
	if index >= len(chain) {
		return 0, voltfs.NewDriverError(syscall.EINVAL)
	}
	return chain[index], nil
}

////////////////////////////////////////////////////////////////////////////
// voltfs.ObjectHandle implementation

// Stat returns the file's metadata in the platform-independent form the
// driver layer expects.
func (s *Stream) Stat() voltfs.FileStat {
	mode := AttrFlagsToFileMode(s.attrFlags)
	size := s.size
	if s.isDir {
		// FAT directory entries never carry a size field of their own
		// (always zero on disk); report the chain's actual byte length
		// instead of the meaningless stored value.
		if calculated, err := s.volume.CalcSize(s.firstCluster); err == nil {
			size = calculated
		}
	}
	return voltfs.FileStat{
		ModeFlags:    mode,
		Size:         size,
		BlockSize:    int64(s.volume.BootSector.BytesPerSector),
		NumBlocks:    int64((size + int64(s.volume.BootSector.BytesPerSector) - 1) / int64(s.volume.BootSector.BytesPerSector)),
		CreatedAt:    s.created,
		LastModified: s.modified,
		LastAccessed: s.accessed,
		LastChanged:  s.modified,
		DeletedAt:    voltfs.UndefinedTimestamp,
	}
}

// Resize changes the stream's size, growing or shrinking its cluster chain
// to match and zero-filling any newly allocated tail.
func (s *Stream) Resize(newSize uint64) voltfs.DriverError {
	bytesPerCluster := int64(s.volume.BootSector.BytesPerCluster)
	neededClusters := uint((int64(newSize) + bytesPerCluster - 1) / bytesPerCluster)

	chain, err := s.chain()
	if err != nil {
		return toDriverError(err)
	}

	switch {
	case s.firstCluster == 0 && neededClusters > 0:
		first, err := s.volume.Alloc.AllocateChain(neededClusters)
		if err != nil {
			return toDriverError(err)
		}
		s.firstCluster = first
		s.clusCache = nil
	case uint(len(chain)) < neededClusters:
		last := chain[len(chain)-1]
		if _, err := s.volume.Alloc.ExtendChain(last, neededClusters-uint(len(chain))); err != nil {
			return toDriverError(err)
		}
		s.clusCache = nil
	case uint(len(chain)) > neededClusters && neededClusters > 0:
		if err := s.volume.Table.Set(chain[neededClusters-1], s.volume.Table.EndOfChainMarker()); err != nil {
			return toDriverError(err)
		}
		if err := s.volume.Alloc.Free(chain[neededClusters]); err != nil {
			return toDriverError(err)
		}
		s.clusCache = nil
	case neededClusters == 0 && s.firstCluster != 0:
		if err := s.volume.Alloc.Free(s.firstCluster); err != nil {
			return toDriverError(err)
		}
		s.firstCluster = 0
		s.clusCache = nil
	}

	if neededClusters > uint(len(chain)) {
		newChain, err := s.chain()
		if err != nil {
			return toDriverError(err)
		}
		blank := make([]byte, bytesPerCluster)
		for _, c := range newChain[len(chain):] {
			if err := s.volume.clusters.Write(toCommonClusterID(c), blank); err != nil {
				return toDriverError(err)
			}
		}
	}

	s.size = int64(newSize)
	s.dirty = true
	return s.writeBackEntry()
}

// writeBackEntry persists size/firstCluster/attrFlags into the parent
// directory's on-disk entry for this stream.
func (s *Stream) writeBackEntry() voltfs.DriverError {
	entries, err := s.parent.FindNext()
	if err != nil {
		return toDriverError(err)
	}
	for _, e := range entries {
		if e.byteOffset == s.key.offset {
			slot := encodeShortDirent(e.shortNameRaw, s.attrFlags, s.firstCluster)
			binaryPutUint32(slot, 28, uint32(s.size))
			return toDriverError(s.parent.writeSlotsAt(int(e.byteOffset), [][]byte{slot}))
		}
	}
	return toDriverError(voltfs.ErrNotFound)
}

func binaryPutUint32(buf []byte, offset int, value uint32) {
	buf[offset] = byte(value)
	buf[offset+1] = byte(value >> 8)
	buf[offset+2] = byte(value >> 16)
	buf[offset+3] = byte(value >> 24)
}

// ReadBlocks fills buffer with data starting at logical block `index`, where
// a block is one sector.
func (s *Stream) ReadBlocks(index common.LogicalBlock, buffer []byte) voltfs.DriverError {
	bytesPerSector := int64(s.volume.BootSector.BytesPerSector)
	offset := int64(index) * bytesPerSector

	for written := 0; written < len(buffer); written += int(bytesPerSector) {
		cluster, err := s.GetClusNum(offset + int64(written))
		if err != nil {
			return toDriverError(err)
		}
		clusterData, err := s.volume.clusters.Read(toCommonClusterID(cluster), 1)
		if err != nil {
			return toDriverError(err)
		}
		within := (offset + int64(written)) % int64(s.volume.BootSector.BytesPerCluster)
		n := copy(buffer[written:], clusterData[within:])
		if n == 0 {
			break
		}
	}
	return nil
}

// WriteBlocks writes buffer starting at logical block `index`.
func (s *Stream) WriteBlocks(index common.LogicalBlock, data []byte) voltfs.DriverError {
	bytesPerSector := int64(s.volume.BootSector.BytesPerSector)
	offset := int64(index) * bytesPerSector

	for written := 0; written < len(data); {
		cluster, err := s.GetClusNum(offset + int64(written))
		if err != nil {
			return toDriverError(err)
		}
		clusterData, err := s.volume.clusters.Read(toCommonClusterID(cluster), 1)
		if err != nil {
			return toDriverError(err)
		}
		within := (offset + int64(written)) % int64(s.volume.BootSector.BytesPerCluster)
		n := copy(clusterData[within:], data[written:])
		if err := s.volume.clusters.Write(toCommonClusterID(cluster), clusterData); err != nil {
			return toDriverError(err)
		}
		written += n
		if n == 0 {
			break
		}
	}
	s.dirty = true
	return nil
}

// ZeroOutBlocks writes `count` blocks of null bytes starting at startIndex.
func (s *Stream) ZeroOutBlocks(startIndex common.LogicalBlock, count uint) voltfs.DriverError {
	bytesPerSector := uint(s.volume.BootSector.BytesPerSector)
	zero := make([]byte, bytesPerSector*count)
	return s.WriteBlocks(startIndex, zero)
}

// Unlink removes this entry from its parent directory and frees its chain.
func (s *Stream) Unlink() voltfs.DriverError {
	return toDriverError(s.parent.Remove(s.name))
}

func (s *Stream) Chmod(mode os.FileMode) voltfs.DriverError {
	s.attrFlags &^= AttrReadOnly
	if mode&0o200 == 0 {
		s.attrFlags |= AttrReadOnly
	}
	s.dirty = true
	return s.writeBackEntry()
}

// Chown is a no-op: FAT has no concept of file ownership.
func (s *Stream) Chown(uid, gid int) voltfs.DriverError {
	return nil
}

func (s *Stream) Chtimes(createdAt, lastAccessed, lastModified, lastChanged, deletedAt time.Time) error {
	s.created = createdAt
	s.accessed = lastAccessed
	s.modified = lastModified
	s.dirty = true
	return s.writeBackEntry()
}

// ListDir returns the child names of this stream, which must be a directory.
func (s *Stream) ListDir() ([]string, voltfs.DriverError) {
	if !s.isDir {
		return nil, toDriverError(voltfs.ErrNotADirectory)
	}
	dir := newClusterDirectory(s.volume, s.firstCluster)
	entries, err := dir.ReadAll()
	if err != nil {
		return nil, toDriverError(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.name != "." && e.name != ".." {
			names = append(names, e.name)
		}
	}
	return names, nil
}

func (s *Stream) Name() string {
	return s.name
}

// toDriverError coerces an arbitrary error into voltfs.DriverError, the
// return type every ObjectHandle method needs. Errors already of that type
// pass through unchanged.
func toDriverError(err error) voltfs.DriverError {
	if err == nil {
		return nil
	}
	if de, ok := err.(voltfs.DriverError); ok {
		return de
	}
	return voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
}
