package fat

import (
	"io"
	"syscall"

	"github.com/boljen/go-bitmap"
	"github.com/hashicorp/go-multierror"

	"github.com/arkavault/voltfs"
	"github.com/arkavault/voltfs/common"
	verrors "github.com/arkavault/voltfs/errors"
)

// FormatOptions configures Format. Grounded on the teacher's
// disks.BasicFormatterOptions/FormatterWithGeometryOptions family: a plain
// struct of knobs rather than a functional-options builder, matching the
// rest of this codebase's style.
type FormatOptions struct {
	// TotalSectors is the size of the image, in sectors. Required.
	TotalSectors uint
	// BytesPerSector is almost always 512; included for exotic media.
	BytesPerSector uint16
	// SectorsPerCluster is chosen by clusterSizeForImage if 0.
	SectorsPerCluster uint8
	// NumFATs is the number of mirrored FAT copies; 2 unless told otherwise.
	NumFATs uint8
	// Label is the volume label, up to 11 OEM-encoded characters.
	Label string
	// Force32 and Force16 override DetermineFATVersion's choice of on-disk
	// layout when formatting. Mount classifies a volume by its cluster count
	// alone, so a forced layout whose cluster count falls in another
	// variant's range is mounted as that other variant.
	Force32 bool
	Force16 bool
}

// Volume is a mounted FAT12/16/32 file system: the boot sector, the table
// accessor and allocator built on top of it, and a cluster-addressed view of
// the data region. It implements enough of [voltfs.DriverImplementation] to
// back a [driver.BaseDriver] mount.
type Volume struct {
	BootSector *FATBootSector
	blocks     *common.BlockStream
	clusters   *common.ClusterStream
	Table      *TableAccessor
	Alloc      *ClusterAllocator
	image      io.ReadWriteSeeker
	mountFlags voltfs.MountFlags

	root *Directory

	// objects is the identity-hash table backing every live Stream, keyed by
	// (directory cluster, byte offset of the entry) so two lookups of the
	// same file return the exact same Stream instance. See stream.go.
	objects    map[objectKey]*Stream
	standby    []*Stream
	maxStandby int
}

// objectKey identifies a directory entry's location uniquely across the
// lifetime of a mount: which directory cluster holds it, and what byte
// offset into that directory's data it starts at. The root directory region
// on FAT12/16 (which isn't cluster-addressed) uses cluster 0 with offset
// counted from the start of the fixed root region instead.
type objectKey struct {
	dirCluster ClusterID
	offset     uint32
}

// defaultMaxStandby bounds the stand-by list of zero-refcount Stream objects
// kept around in case they're reopened shortly after their last Close. This
// is purely a cache; correctness never depends on its size.
const defaultMaxStandby = 32

// Mount reads the boot sector from `image`, validates it, and builds a ready
// Volume: table accessor, allocator (seeded from FSInfo on FAT32 when it's
// present and trustworthy), and the root directory handle.
func Mount(image io.ReadWriteSeeker, flags voltfs.MountFlags) (*Volume, error) {
	if _, err := image.Seek(0, io.SeekStart); err != nil {
		return nil, voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}

	bs, err := NewFATBootSectorFromStream(image)
	if err != nil {
		return nil, err
	}

	totalSectors, err := common.DetermineBlockCount(image, uint(bs.BytesPerSector))
	if err != nil {
		return nil, voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}

	blockStream := common.NewBlockStream(image, totalSectors, uint(bs.BytesPerSector), 0)
	table := NewTableAccessor(&blockStream, bs)

	clusterStream, err := common.NewClusterStream(
		&blockStream,
		uint(bs.SectorsPerCluster),
		common.BlockID(bs.FirstDataSector),
		common.ClusterID(2),
		common.ClusterID(2+bs.TotalClusters-1),
	)
	if err != nil {
		return nil, voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}

	var fsInfo *FSInfo
	if bs.IsFAT32() && bs.FSInfoSector != 0 {
		if _, err := image.Seek(int64(bs.FSInfoSector)*int64(bs.BytesPerSector), io.SeekStart); err == nil {
			if parsed, err := ReadFSInfo(image); err == nil {
				fsInfo = parsed
			}
		}
	}

	alloc, err := NewClusterAllocator(table, bs.TotalClusters, fsInfo)
	if err != nil {
		return nil, err
	}

	vol := &Volume{
		BootSector: bs,
		blocks:     &blockStream,
		clusters:   &clusterStream,
		Table:      table,
		Alloc:      alloc,
		image:      image,
		mountFlags: flags,
		objects:    make(map[objectKey]*Stream),
		maxStandby: defaultMaxStandby,
	}

	if bs.IsFAT32() {
		vol.root = newClusterDirectory(vol, ClusterID(bs.RootCluster))
	} else {
		vol.root = newFixedRootDirectory(vol, bs.RootDirFirstSector, uint(bs.RootEntryCount))
	}

	return vol, nil
}

// Dismount writes the FSInfo sector back out on FAT32 volumes (it's purely
// advisory, but leaving it stale defeats the point of having it) and closes
// every live Stream so their final writes land on disk. It does not close
// the underlying image -- that's the caller's responsibility, matching
// os.File semantics.
func (v *Volume) Dismount() error {
	var result *multierror.Error
	for _, stream := range v.objects {
		if err := stream.flush(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if v.BootSector.IsFAT32() && v.BootSector.FSInfoSector != 0 {
		snapshot := v.Alloc.Snapshot()
		if err := v.writeFSInfo(snapshot); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (v *Volume) writeFSInfo(info FSInfo) error {
	buf := make([]byte, v.BootSector.BytesPerSector)
	putUint32 := func(offset int, value uint32) {
		buf[offset] = byte(value)
		buf[offset+1] = byte(value >> 8)
		buf[offset+2] = byte(value >> 16)
		buf[offset+3] = byte(value >> 24)
	}
	putUint32(0, info.LeadSignature)
	putUint32(484, info.StructSignature)
	putUint32(488, info.FreeCount)
	putUint32(492, info.NextFree)
	putUint32(508, info.TrailSignature)

	if _, err := v.image.Seek(int64(v.BootSector.FSInfoSector)*int64(v.BootSector.BytesPerSector), io.SeekStart); err != nil {
		return voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	if _, err := v.image.Write(buf); err != nil {
		return voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	return nil
}

// RootDirectory returns the root directory of the mounted volume.
func (v *Volume) RootDirectory() *Directory {
	return v.root
}

// CalcSize walks the cluster chain starting at firstCluster and returns its
// size in bytes: one BytesPerCluster for every cluster up to EOC, a bad
// cluster, or an out-of-range entry, whichever comes first. firstCluster == 0
// means the FAT12/16 fixed root directory, whose size is fixed by
// BPB_RootEntCnt rather than a chain walk.
func (v *Volume) CalcSize(firstCluster ClusterID) (int64, error) {
	if firstCluster == 0 {
		if v.BootSector.IsFAT32() {
			firstCluster = ClusterID(v.BootSector.RootCluster)
		} else {
			return int64(DirentSize) * int64(v.BootSector.RootEntryCount), nil
		}
	}

	var size int64
	clus := firstCluster
	for {
		if v.Table.IsEndOfChain(uint32(clus)) || v.Table.IsBadCluster(uint32(clus)) {
			break
		}
		if clus < 2 || uint32(clus) >= v.BootSector.TotalClusters+2 {
			break
		}

		size += int64(v.BootSector.BytesPerCluster)

		value, err := v.Table.Get(clus)
		if err != nil {
			return size, err
		}
		clus = ClusterID(value)

		if size > maxDirectorySize {
			// Matches FindNext/rawData's cap: a chain this long is almost
			// certainly cyclic.
			break
		}
	}
	return size, nil
}

// CheckDisk walks every allocated chain and every directory, cross-checking
// the FAT-table view of allocation against a freshly built bitmap and
// flagging cross-linked or orphaned chains. The reference-count pass is
// backed by go-bitmap (one bit per cluster, indexed from cluster 2) rather
// than a map. All problems found are aggregated
// with go-multierror rather than stopping at the first one, since a disk
// check that bails out after one problem isn't very useful.
func (v *Volume) CheckDisk() error {
	var result *multierror.Error

	seen := bitmap.New(int(v.BootSector.TotalClusters))
	clusterIndex := func(c ClusterID) int { return int(c) - 2 }

	var walk func(dir *Directory) error
	walk = func(dir *Directory) error {
		entries, err := dir.ReadAll()
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.name == "." || entry.name == ".." {
				continue
			}
			if entry.FirstCluster == 0 {
				continue
			}
			chain, err := v.Table.ListChain(entry.FirstCluster)
			if err != nil {
				result = multierror.Append(result, err)
				continue
			}
			for _, c := range chain {
				idx := clusterIndex(c)
				if seen.Get(idx) {
					result = multierror.Append(
						result,
						verrors.ErrFileSystemCorrupted.WithMessage(
							"cluster is cross-linked between two chains"))
					continue
				}
				seen.Set(idx, true)
			}
			if entry.mode.IsDir() {
				sub := newClusterDirectory(v, entry.FirstCluster)
				if err := walk(sub); err != nil {
					result = multierror.Append(result, err)
				}
			}
		}
		return nil
	}

	// On FAT32 the root directory is itself a cluster chain, reachable by
	// definition.
	if v.BootSector.IsFAT32() {
		rootChain, err := v.Table.ListChain(ClusterID(v.BootSector.RootCluster))
		if err != nil {
			result = multierror.Append(result, err)
		}
		for _, c := range rootChain {
			seen.Set(clusterIndex(c), true)
		}
	}

	if err := walk(v.root); err != nil {
		result = multierror.Append(result, err)
	}

	// Cross-check the live allocation bitmap built above against what the
	// table itself reports as allocated.
	for c := ClusterID(2); c <= ClusterID(2+v.BootSector.TotalClusters-1); c++ {
		value, err := v.Table.Get(c)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		allocated := !v.Table.IsFree(value)
		if allocated && !seen.Get(clusterIndex(c)) {
			result = multierror.Append(
				result,
				verrors.ErrFileSystemCorrupted.WithMessage(
					"cluster is marked allocated but not reachable from any directory"))
		}
	}

	return result.ErrorOrNil()
}
