// Package fat implements a driver for accessing FAT file systems.

package fat

import (
	"encoding/binary"
	"fmt"
	"io"
	"syscall"

	"github.com/arkavault/voltfs"
)

const (
	// AttrReadOnly is an attribute flag marking a directory entry as read-only.
	AttrReadOnly = 1 << iota

	// AttrHidden is an attribute flag marking a directory entry as "hidden", meaning it
	// wouldn't show up in normal directory listings. This is most commonly used for
	// hiding operating system files from normal users.
	//
	// Drivers don't need to honor this flag when reading, but should not modify it unless
	// explicitly requested by the user.
	AttrHidden = 1 << iota

	// AttrSystem is an attribute flag marking a directory entry as essential to the
	// operating system and must not be moved (e.g. during defragmentation) because the
	// OS may have hard-coded pointers to the file.
	AttrSystem = 1 << iota

	// AttrVolumeLabel is an attribute flag that marks a file as containing the true
	// volume label of the file system. It must reside in the root directory, and there
	// must be only one. For compatibility reasons it should be the first directory entry
	// after `.` and `..` but this is not required.
	//
	// The struct in the boot sector only has eleven bytes of space for the volume label.
	// This is not always enough, especially for systems or languages using multi-byte
	// character encodings.
	AttrVolumeLabel = 1 << iota

	// AttrDirectory is an attribute flag marking a directory entry as being a directory.
	AttrDirectory = 1 << iota

	// AttrArchived is an attribute flag used by some systems to mark a directory entry
	// as "dirty", and is set it whenever the directory entry is created or modified.
	// Archiving tools use this flag to determine whether the file/directory needs to be
	// backed up or not.
	AttrArchived = 1 << iota

	// AttrDevice is an attribute flag marking a directory entry as abstracting a device.
	// This is typically only found on in-memory file systems; if encountered on a disk,
	// it must not be modified.
	AttrDevice = 1 << iota

	// AttrReserved is an attribute flag that is undefined by the FAT standard and must
	// not be moified by tools.
	AttrReserved = 1 << iota
)

// RawFATBootSectorWithBPB is the on-disk representation of the boot sector
// common to all FAT versions (the BIOS Parameter Block).
type RawFATBootSectorWithBPB struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	totalSectors16    uint16
	Media             uint8
	sectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	totalSectors32    uint32
}

// RawFAT32Extension is the portion of the BPB unique to FAT32, immediately
// following RawFATBootSectorWithBPB in the boot sector.
type RawFAT32Extension struct {
	SectorsPerFAT32  uint32
	ExtFlags         uint16
	FSVersionMinor   uint8
	FSVersionMajor   uint8
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	reserved         [12]byte
	DriveNumber      uint8
	NTReserved       uint8
	ExBootSignature  uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FileSystemType   [8]byte
}

// FSInfo is the FAT32-only sector that caches the free cluster count and the
// index to resume allocation from, so a volume doesn't need a full table scan
// on every mount. Both fields are advisory: a value of 0xFFFFFFFF means
// "unknown", and drivers must tolerate a stale or bogus value on mount.
type FSInfo struct {
	LeadSignature   uint32
	StructSignature uint32
	FreeCount       uint32
	NextFree        uint32
	TrailSignature  uint32
}

const (
	fsInfoLeadSignature   = 0x41615252
	fsInfoStructSignature = 0x61417272
	fsInfoTrailSignature  = 0xAA550000
)

// FATBootSector is the fully parsed, version-agnostic view of a FAT boot
// sector: the raw BPB fields plus everything derived from them (cluster
// counts, the location of the first data sector, and so on).
type FATBootSector struct {
	RawFATBootSectorWithBPB
	RawFAT32Extension
	SectorsPerFAT      uint
	TotalFATSectors    uint
	RootDirSectors     uint
	RootDirFirstSector SectorID
	BytesPerCluster    uint
	TotalClusters      uint
	TotalDataSectors   uint
	FirstDataSector    SectorID
	FATVersion         int
	DirentsPerCluster  int
}

// IsFAT32 reports whether this boot sector describes a FAT32 volume, in
// which case the root directory is just another cluster chain instead of a
// fixed region following the FAT copies.
func (bs *FATBootSector) IsFAT32() bool {
	return bs.FATVersion == 32
}

// TotalSectors returns the size of the volume in sectors, whichever of the
// BPB's two total-sector fields is populated (FAT12/16 use the 16-bit field
// unless the volume is too big for it, FAT32 always uses the 32-bit one).
func (bs *FATBootSector) TotalSectors() uint {
	if bs.totalSectors16 != 0 {
		return uint(bs.totalSectors16)
	}
	return uint(bs.totalSectors32)
}

// Label returns the volume label with trailing padding spaces stripped.
// FAT32 stores it in the extended BPB; this codebase doesn't currently parse
// the equivalent field from the FAT12/16 EBPB, so non-FAT32 volumes report
// an empty label here even if one is set in the root directory's volume-label
// entry.
func (bs *FATBootSector) Label() string {
	end := len(bs.VolumeLabel)
	for end > 0 && bs.VolumeLabel[end-1] == ' ' {
		end--
	}
	return string(bs.VolumeLabel[:end])
}

// DetermineFATVersion determines the version of the FAT file system based on the number
// of clusters on the system. (This is the only proper way to do so.)
func DetermineFATVersion(totalClusters uint) int {
	// These cluster counts, while odd-looking, are correct. They're taken directly from
	// Microsoft's FAT documentation, v1.03, page 14.
	if totalClusters < 4085 {
		return 12
	}
	if totalClusters < 65525 {
		return 16
	}
	return 32
}

// NewFATBootSectorFromStream reads the 36-byte common BPB at the start of a disk image
// (plus the 54-byte FAT32 extension that follows it when the 16-bit sectors-per-FAT
// field is 0) and returns a structure with detailed information on the file system.
//
// If an error occurs, it returns nil and an error object. There are no guarantees on
// the position of stream pointer in this case.
func NewFATBootSectorFromStream(reader io.Reader) (*FATBootSector, error) {
	rawHeader := RawFATBootSectorWithBPB{}

	err := binary.Read(reader, binary.LittleEndian, &rawHeader)
	if err != nil {
		return nil, voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}

	// FAT12/16 store SectorsPerFAT in the common BPB; FAT32 always sets that
	// field to 0 and puts the real value (a 32-bit count, since FAT32 tables
	// can easily outgrow a 16-bit sector count) in the extended BPB that
	// follows, along with the root cluster, FSInfo sector, and backup boot
	// sector location.
	var fat32Ext RawFAT32Extension
	if rawHeader.sectorsPerFAT16 == 0 {
		err = binary.Read(reader, binary.LittleEndian, &fat32Ext)
		if err != nil {
			return nil, voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
		}
	}

	var sectorsPerFAT uint
	if rawHeader.sectorsPerFAT16 != 0 {
		sectorsPerFAT = uint(rawHeader.sectorsPerFAT16)
	} else {
		sectorsPerFAT = uint(fat32Ext.SectorsPerFAT32)
	}

	var totalSectors uint
	if rawHeader.totalSectors16 != 0 {
		totalSectors = uint(rawHeader.totalSectors16)
	} else {
		totalSectors = uint(rawHeader.totalSectors32)
	}

	// The number of sectors taken up by the root directory. On FAT32 systems, this will
	// be 0.
	rootDirSectors := uint(
		((rawHeader.RootEntryCount * 32) + (rawHeader.BytesPerSector - 1)) / rawHeader.BytesPerSector)

	totalFATSectors := uint(rawHeader.NumFATs) * sectorsPerFAT
	dataSectors := totalSectors - (uint(rawHeader.ReservedSectors) + totalFATSectors + uint(rootDirSectors))
	totalClusters := dataSectors / uint(rawHeader.SectorsPerCluster)

	// BytesPerSector must be 512, 1024, 2048, or 4096.
	switch rawHeader.BytesPerSector {
	case 512:
	case 1024:
	case 2048:
	case 4096:
	default:
		message := fmt.Sprintf(
			"bad value for BytesPerSector: need 512, 1024, 2048, or 4096, got %d",
			rawHeader.BytesPerSector)
		return nil, voltfs.NewDriverErrorWithMessage(syscall.EINVAL, message)
	}

	// SectorsPerCluster must be 2^x with x in [0, 8)
	switch rawHeader.SectorsPerCluster {
	case 1:
	case 2:
	case 4:
	case 8:
	case 16:
	case 32:
	case 64:
	case 128:
	default:
		message := fmt.Sprintf(
			"corruption detected: SectorsPerCluster must be a power of 2 in 1-128, got %d",
			rawHeader.SectorsPerCluster)
		return nil, voltfs.NewDriverErrorWithMessage(syscall.EINVAL, message)
	}

	fatVersion := DetermineFATVersion(totalClusters)
	if fatVersion == 32 && rootDirSectors != 0 {
		message := fmt.Sprintf(
			"corruption detected: RootDirectorySectors is nonzero for a FAT32 disk: %d",
			rootDirSectors)

		return nil, voltfs.NewDriverErrorWithMessage(syscall.EINVAL, message)

	}

	bytesPerCluster := uint(rawHeader.BytesPerSector) * uint(rawHeader.SectorsPerCluster)
	if bytesPerCluster > 32768 {
		message := fmt.Sprintf(
			"corruption detected: BytesPerCluster cannot exceed 32,768 but got %d",
			bytesPerCluster)

		return nil, voltfs.NewDriverErrorWithMessage(syscall.EINVAL, message)
	}

	rootDirFirstSector := SectorID(uint(rawHeader.ReservedSectors) + totalFATSectors)

	processedHeader := FATBootSector{
		RawFATBootSectorWithBPB: RawFATBootSectorWithBPB{
			JmpBoot:           rawHeader.JmpBoot,
			OEMName:           rawHeader.OEMName,
			BytesPerSector:    rawHeader.BytesPerSector,
			SectorsPerCluster: rawHeader.SectorsPerCluster,
			ReservedSectors:   rawHeader.ReservedSectors,
			NumFATs:           rawHeader.NumFATs,
			RootEntryCount:    rawHeader.RootEntryCount,
			totalSectors16:    rawHeader.totalSectors16,
			Media:             rawHeader.Media,
			sectorsPerFAT16:   rawHeader.sectorsPerFAT16,
			SectorsPerTrack:   rawHeader.SectorsPerTrack,
			NumHeads:          rawHeader.NumHeads,
			HiddenSectors:     rawHeader.HiddenSectors,
			totalSectors32:    rawHeader.totalSectors32,
		},
		RawFAT32Extension:  fat32Ext,
		SectorsPerFAT:      sectorsPerFAT,
		TotalFATSectors:    totalFATSectors,
		RootDirSectors:     rootDirSectors,
		RootDirFirstSector: rootDirFirstSector,
		BytesPerCluster:    bytesPerCluster,
		TotalClusters:      totalClusters,
		TotalDataSectors:   totalSectors - (uint(rawHeader.ReservedSectors) + totalFATSectors + rootDirSectors),
		FirstDataSector:    SectorID(uint(rawHeader.ReservedSectors) + totalFATSectors + rootDirSectors),
		FATVersion:         fatVersion,
		DirentsPerCluster:  int(bytesPerCluster) / DirentSize,
	}

	return &processedHeader, nil
}

// ReadFSInfo parses the FAT32 FSInfo sector. Callers must seek `reader` to
// the start of the sector (BytesPerSector * FSInfoSector) first. Returns
// ErrInvalidFileSystem (via a DriverError with EINVAL) if the signatures
// don't match, since that means the sector isn't really an FSInfo sector.
func ReadFSInfo(reader io.Reader) (*FSInfo, error) {
	var raw struct {
		LeadSignature   uint32
		_               [480]byte
		StructSignature uint32
		FreeCount       uint32
		NextFree        uint32
		_               [12]byte
		TrailSignature  uint32
	}

	if err := binary.Read(reader, binary.LittleEndian, &raw); err != nil {
		return nil, voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}

	if raw.LeadSignature != fsInfoLeadSignature ||
		raw.StructSignature != fsInfoStructSignature ||
		raw.TrailSignature != fsInfoTrailSignature {
		return nil, voltfs.NewDriverErrorWithMessage(
			syscall.EINVAL, "FSInfo sector has bad signature bytes")
	}

	return &FSInfo{
		LeadSignature:   raw.LeadSignature,
		StructSignature: raw.StructSignature,
		FreeCount:       raw.FreeCount,
		NextFree:        raw.NextFree,
		TrailSignature:  raw.TrailSignature,
	}, nil
}
