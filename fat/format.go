package fat

import (
	"encoding/binary"
	"io"
	"syscall"

	"github.com/arkavault/voltfs"
)

// clusterSizeForImage picks a sectors-per-cluster value from the disk size,
// following the breakpoints in Microsoft's FAT spec (fatgen103, the table
// under BPB_SecPerClus): bigger disks get bigger clusters to keep the FAT
// itself from growing unreasonably large.
func clusterSizeForImage(totalSectors uint, bytesPerSector uint16) uint8 {
	totalBytes := uint64(totalSectors) * uint64(bytesPerSector)
	switch {
	case totalBytes <= 16*1024*1024:
		return 1
	case totalBytes <= 128*1024*1024:
		return 2
	case totalBytes <= 256*1024*1024:
		return 4
	case totalBytes <= 8*1024*1024*1024:
		return 8
	case totalBytes <= 16*1024*1024*1024:
		return 16
	case totalBytes <= 32*1024*1024*1024:
		return 32
	default:
		return 64
	}
}

const defaultRootEntryCount = 512

// computeSectorsPerFAT adapts the iterative formula from fatgen103 for
// picking BPB_FATSz: big enough to address every data cluster, sized in
// whole sectors, with FAT32 entries costing twice as many bits as FAT12/16.
func computeSectorsPerFAT(totalSectors, reservedSectors, rootDirSectors, sectorsPerCluster, numFATs uint, version int) uint {
	tmp1 := totalSectors - (reservedSectors + rootDirSectors)
	tmp2 := 256*sectorsPerCluster + numFATs
	if version == 32 {
		tmp2 /= 2
	}
	return (tmp1 + tmp2 - 1) / tmp2
}

// Format builds a fresh FAT12/16/32 file system on `image` per `opts`, mounts
// it, and returns the ready Volume. Boot code is left zeroed; callers that
// need it set call SetBootCode afterward.
func Format(image io.ReadWriteSeeker, opts FormatOptions) (*Volume, error) {
	bytesPerSector := opts.BytesPerSector
	if bytesPerSector == 0 {
		bytesPerSector = 512
	}
	if opts.TotalSectors == 0 {
		return nil, voltfs.NewDriverErrorWithMessage(syscall.EINVAL, "TotalSectors is required")
	}

	numFATs := opts.NumFATs
	if numFATs == 0 {
		numFATs = 2
	}

	sectorsPerCluster := opts.SectorsPerCluster
	if sectorsPerCluster == 0 {
		sectorsPerCluster = clusterSizeForImage(opts.TotalSectors, bytesPerSector)
	}

	approxClusters := opts.TotalSectors / uint(sectorsPerCluster)
	version := DetermineFATVersion(approxClusters)
	if opts.Force32 {
		version = 32
	} else if opts.Force16 {
		version = 16
	}

	var reservedSectors uint16 = 1
	var rootEntryCount uint16 = defaultRootEntryCount
	if version == 32 {
		reservedSectors = 32
		rootEntryCount = 0
	}

	rootDirSectors := (uint(rootEntryCount)*32 + uint(bytesPerSector) - 1) / uint(bytesPerSector)
	sectorsPerFAT := computeSectorsPerFAT(
		opts.TotalSectors, uint(reservedSectors), rootDirSectors, uint(sectorsPerCluster), uint(numFATs), version)

	totalFATSectors := uint(numFATs) * sectorsPerFAT
	dataSectors := opts.TotalSectors - uint(reservedSectors) - totalFATSectors - rootDirSectors
	totalClusters := dataSectors / uint(sectorsPerCluster)

	// Zero the whole image first: every reserved byte, every FAT copy, and
	// the fixed root region (if any) all need to start life as zeroes, and
	// it's simpler to do that in one pass than to special-case each region.
	blank := make([]byte, bytesPerSector)
	if _, err := image.Seek(0, io.SeekStart); err != nil {
		return nil, voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	for i := uint(0); i < opts.TotalSectors; i++ {
		if _, err := image.Write(blank); err != nil {
			return nil, voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
		}
	}

	if err := writeBootSector(image, bootSectorParams{
		bytesPerSector:    bytesPerSector,
		sectorsPerCluster: sectorsPerCluster,
		reservedSectors:   reservedSectors,
		numFATs:           numFATs,
		rootEntryCount:    rootEntryCount,
		totalSectors:      opts.TotalSectors,
		sectorsPerFAT:     sectorsPerFAT,
		version:           version,
		label:             opts.Label,
	}); err != nil {
		return nil, err
	}

	if version == 32 {
		fsInfoSector := uint16(1)
		if err := writeInitialFSInfo(image, bytesPerSector, fsInfoSector, uint32(totalClusters-1), uint32(totalClusters)); err != nil {
			return nil, err
		}
	}

	vol, err := Mount(image, voltfs.MountFlagsAllowAll)
	if err != nil {
		return nil, err
	}

	// Clusters 0 and 1 are reserved. Entry 0 historically mirrors the media
	// descriptor byte in its low 8 bits; entry 1 holds clean-shutdown/
	// hardware-error flag bits on FAT16/32 that this driver doesn't model, so
	// it's just set to the end-of-chain marker.
	mediaDescriptor := uint32(0xF8)
	entry0 := vol.Table.EndOfChainMarker()&0xFFFFFF00 | mediaDescriptor
	if err := vol.Table.Set(0, entry0); err != nil {
		return nil, err
	}
	if err := vol.Table.Set(1, vol.Table.EndOfChainMarker()); err != nil {
		return nil, err
	}

	if version == 32 {
		// The root directory occupies cluster 2 as a single-cluster chain.
		if err := vol.Table.Set(2, vol.Table.EndOfChainMarker()); err != nil {
			return nil, err
		}
	}

	return vol, nil
}

type bootSectorParams struct {
	bytesPerSector    uint16
	sectorsPerCluster uint8
	reservedSectors   uint16
	numFATs           uint8
	rootEntryCount    uint16
	totalSectors      uint
	sectorsPerFAT     uint
	version           int
	label             string
}

func writeBootSector(image io.ReadWriteSeeker, p bootSectorParams) error {
	var raw RawFATBootSectorWithBPB
	raw.JmpBoot = [3]byte{0xEB, 0x3C, 0x90}
	copy(raw.OEMName[:], "VOLTFS  ")
	raw.BytesPerSector = p.bytesPerSector
	raw.SectorsPerCluster = p.sectorsPerCluster
	raw.ReservedSectors = p.reservedSectors
	raw.NumFATs = p.numFATs
	raw.RootEntryCount = p.rootEntryCount
	raw.Media = 0xF8

	if p.totalSectors <= 0xFFFF {
		raw.totalSectors16 = uint16(p.totalSectors)
	} else {
		raw.totalSectors32 = uint32(p.totalSectors)
	}

	raw.SectorsPerTrack = 63
	raw.NumHeads = 255
	raw.HiddenSectors = 0

	if p.version != 32 {
		raw.sectorsPerFAT16 = uint16(p.sectorsPerFAT)
	}

	if _, err := image.Seek(0, io.SeekStart); err != nil {
		return voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	if err := binary.Write(image, binary.LittleEndian, &raw); err != nil {
		return voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}

	if p.version == 32 {
		var ext RawFAT32Extension
		ext.SectorsPerFAT32 = uint32(p.sectorsPerFAT)
		ext.RootCluster = 2
		ext.FSInfoSector = 1
		ext.BackupBootSector = 6
		ext.DriveNumber = 0x80
		ext.ExBootSignature = 0x29
		copy(ext.VolumeLabel[:], padTo(p.label, 11))
		copy(ext.FileSystemType[:], "FAT32   ")

		if err := binary.Write(image, binary.LittleEndian, &ext); err != nil {
			return voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
		}
	}

	// Boot sector signature, at a fixed offset regardless of version.
	if _, err := image.Seek(510, io.SeekStart); err != nil {
		return voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	if _, err := image.Write([]byte{0x55, 0xAA}); err != nil {
		return voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	return nil
}

func writeInitialFSInfo(image io.ReadWriteSeeker, bytesPerSector uint16, sectorIndex uint16, freeCount, nextFree uint32) error {
	buf := make([]byte, bytesPerSector)
	binary.LittleEndian.PutUint32(buf[0:], fsInfoLeadSignature)
	binary.LittleEndian.PutUint32(buf[484:], fsInfoStructSignature)
	binary.LittleEndian.PutUint32(buf[488:], freeCount)
	binary.LittleEndian.PutUint32(buf[492:], nextFree)
	binary.LittleEndian.PutUint32(buf[508:], fsInfoTrailSignature)

	if _, err := image.Seek(int64(sectorIndex)*int64(bytesPerSector), io.SeekStart); err != nil {
		return voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	if _, err := image.Write(buf); err != nil {
		return voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	return nil
}

func padTo(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	for len(s) < n {
		s += " "
	}
	return s
}
