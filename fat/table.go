package fat

import (
	"fmt"
	"syscall"

	"github.com/arkavault/voltfs"
	"github.com/arkavault/voltfs/common"
)

// ClusterID identifies a cluster on a FAT volume. Cluster numbering starts at
// 2; 0 and 1 are reserved (entry 0 mirrors the media descriptor byte in its
// low 8 bits, and entry 1 is set to the end-of-chain marker by Format).
type ClusterID uint32

// SectorID identifies an absolute sector on the volume, counting from the
// start of the boot sector.
type SectorID uint32

const (
	fat12EOCMin = 0xFF8
	fat16EOCMin = 0xFFF8
	fat32EOCMin = 0x0FFFFFF8

	fat12BadCluster = 0xFF7
	fat16BadCluster = 0xFFF7
	fat32BadCluster = 0x0FFFFFF7

	fat32ClusterMask = 0x0FFFFFFF
)

// TableAccessor reads and writes entries in the File Allocation Table(s),
// hiding the bit-width differences between FAT12, FAT16, and FAT32 behind a
// single Get/Set interface. All NumFATs copies of the table are kept
// synchronized: a Set writes through to every copy. Reads (including
// CheckDisk's) use the first copy only; the mirrors are never read back or
// compared.
type TableAccessor struct {
	blocks     *common.BlockStream
	version    int
	numCopies  uint
	sectorsPer uint
	bytesPer   uint
	firstFAT   SectorID
}

// NewTableAccessor builds a table accessor over the FAT copies described by
// boot sector `bs`. `blocks` must address the whole volume at its native
// sector size; the accessor computes FAT offsets from bs.ReservedSectors and
// bs.SectorsPerFAT itself.
func NewTableAccessor(blocks *common.BlockStream, bs *FATBootSector) *TableAccessor {
	return &TableAccessor{
		blocks:     blocks,
		version:    bs.FATVersion,
		numCopies:  uint(bs.NumFATs),
		sectorsPer: bs.SectorsPerFAT,
		bytesPer:   uint(bs.BytesPerSector),
		firstFAT:   SectorID(bs.ReservedSectors),
	}
}

// entryByteOffset returns the byte offset of `cluster`'s entry within a
// single FAT copy.
func (t *TableAccessor) entryByteOffset(cluster ClusterID) uint {
	switch t.version {
	case 12:
		// FAT12 packs two 12-bit entries into three bytes.
		return uint(cluster) + uint(cluster)/2
	case 16:
		return uint(cluster) * 2
	default:
		return uint(cluster) * 4
	}
}

// readRawBytes reads `length` bytes starting at an absolute byte offset into
// FAT copy `copyIndex`.
func (t *TableAccessor) readRawBytes(copyIndex uint, byteOffset uint, length int) ([]byte, error) {
	fatStartByte := uint(t.firstFAT)*t.bytesPer + copyIndex*t.sectorsPer*t.bytesPer
	absoluteByte := fatStartByte + byteOffset

	firstBlock := common.BlockID(absoluteByte / t.blocks.BytesPerBlock)
	within := absoluteByte % t.blocks.BytesPerBlock
	numBlocks := (within + uint(length) + t.blocks.BytesPerBlock - 1) / t.blocks.BytesPerBlock

	data, err := t.blocks.Read(firstBlock, numBlocks)
	if err != nil {
		return nil, err
	}
	return data[within : within+uint(length)], nil
}

func (t *TableAccessor) writeRawBytes(copyIndex uint, byteOffset uint, value []byte) error {
	fatStartByte := uint(t.firstFAT)*t.bytesPer + copyIndex*t.sectorsPer*t.bytesPer
	absoluteByte := fatStartByte + byteOffset

	firstBlock := common.BlockID(absoluteByte / t.blocks.BytesPerBlock)
	within := absoluteByte % t.blocks.BytesPerBlock
	numBlocks := (within + uint(len(value)) + t.blocks.BytesPerBlock - 1) / t.blocks.BytesPerBlock

	data, err := t.blocks.Read(firstBlock, numBlocks)
	if err != nil {
		return err
	}
	copy(data[within:within+uint(len(value))], value)
	return t.blocks.Write(firstBlock, data)
}

// Get returns the raw entry value for `cluster` from the first FAT copy.
func (t *TableAccessor) Get(cluster ClusterID) (uint32, error) {
	offset := t.entryByteOffset(cluster)

	switch t.version {
	case 12:
		raw, err := t.readRawBytes(0, offset, 2)
		if err != nil {
			return 0, err
		}
		value := uint16(raw[0]) | uint16(raw[1])<<8
		if cluster%2 == 0 {
			return uint32(value & 0x0FFF), nil
		}
		return uint32(value >> 4), nil
	case 16:
		raw, err := t.readRawBytes(0, offset, 2)
		if err != nil {
			return 0, err
		}
		return uint32(uint16(raw[0]) | uint16(raw[1])<<8), nil
	default:
		raw, err := t.readRawBytes(0, offset, 4)
		if err != nil {
			return 0, err
		}
		value := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24
		return value & fat32ClusterMask, nil
	}
}

// Set writes `value` into `cluster`'s entry in every FAT copy. On FAT32 the
// top 4 reserved bits of the existing entry are preserved, per the spec.
func (t *TableAccessor) Set(cluster ClusterID, value uint32) error {
	offset := t.entryByteOffset(cluster)

	for copyIndex := uint(0); copyIndex < t.numCopies; copyIndex++ {
		var err error
		switch t.version {
		case 12:
			raw, readErr := t.readRawBytes(copyIndex, offset, 2)
			if readErr != nil {
				return readErr
			}
			existing := uint16(raw[0]) | uint16(raw[1])<<8
			var packed uint16
			if cluster%2 == 0 {
				packed = (existing & 0xF000) | uint16(value&0x0FFF)
			} else {
				packed = (existing & 0x000F) | (uint16(value&0x0FFF) << 4)
			}
			err = t.writeRawBytes(copyIndex, offset, []byte{byte(packed), byte(packed >> 8)})
		case 16:
			v := uint16(value)
			err = t.writeRawBytes(copyIndex, offset, []byte{byte(v), byte(v >> 8)})
		default:
			raw, readErr := t.readRawBytes(copyIndex, offset, 4)
			if readErr != nil {
				return readErr
			}
			existing := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24
			packed := (existing & 0xF0000000) | (value & fat32ClusterMask)
			err = t.writeRawBytes(copyIndex, offset, []byte{
				byte(packed), byte(packed >> 8), byte(packed >> 16), byte(packed >> 24),
			})
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// IsEndOfChain reports whether `value` (as returned by Get) marks the last
// cluster in a chain.
func (t *TableAccessor) IsEndOfChain(value uint32) bool {
	switch t.version {
	case 12:
		return value >= fat12EOCMin
	case 16:
		return value >= fat16EOCMin
	default:
		return value >= fat32EOCMin
	}
}

// IsBadCluster reports whether `value` marks the cluster as bad (unusable
// media), distinct from both a free cluster (0) and an end-of-chain marker.
func (t *TableAccessor) IsBadCluster(value uint32) bool {
	switch t.version {
	case 12:
		return value == fat12BadCluster
	case 16:
		return value == fat16BadCluster
	default:
		return value == fat32BadCluster
	}
}

// IsFree reports whether `value` marks the cluster as unallocated.
func (t *TableAccessor) IsFree(value uint32) bool {
	return value == 0
}

// EndOfChainMarker returns the canonical EOC value to write when terminating
// a chain.
func (t *TableAccessor) EndOfChainMarker() uint32 {
	switch t.version {
	case 12:
		return 0xFFF
	case 16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

// ListChain returns every cluster in the chain beginning at `start`,
// including `start` itself. Returns a [voltfs.DriverError] carrying EINVAL
// if the chain references a free or bad cluster before reaching EOC.
func (t *TableAccessor) ListChain(start ClusterID) ([]ClusterID, error) {
	chain := []ClusterID{}
	current := start
	maxEntries := t.maxAddressableClusters()

	for {
		chain = append(chain, current)
		if uint(len(chain)) > maxEntries {
			return chain, voltfs.NewDriverErrorWithMessage(
				syscall.EINVAL,
				fmt.Sprintf(
					"chain from cluster %d exceeds %d entries without reaching EOC -- likely cyclic",
					start, maxEntries,
				),
			)
		}

		value, err := t.Get(current)
		if err != nil {
			return chain, err
		}
		if t.IsEndOfChain(value) {
			return chain, nil
		}
		if t.IsFree(value) || t.IsBadCluster(value) {
			return chain, voltfs.NewDriverErrorWithMessage(
				syscall.EINVAL,
				fmt.Sprintf(
					"chain from cluster %d broken at %d: entry 0x%x is neither a valid cluster nor EOC",
					start, current, value,
				),
			)
		}
		current = ClusterID(value)
	}
}

// maxAddressableClusters bounds how many clusters this FAT could possibly
// describe, given its on-disk size and entry width. ListChain uses it to
// detect a cyclic chain instead of looping until the caller runs out of
// memory.
func (t *TableAccessor) maxAddressableClusters() uint {
	bitsPerEntry := uint(12)
	switch t.version {
	case 16:
		bitsPerEntry = 16
	case 32:
		bitsPerEntry = 32
	}
	totalBits := t.sectorsPer * t.bytesPer * 8
	return totalBits / bitsPerEntry
}
