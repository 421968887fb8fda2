// Package partition implements an MBR/EPBR partition manager: it parses and
// edits the classic DOS partition table on a raw disk stream and exposes
// each primary, extended, or logical partition as its own bounds-checked
// byte stream, ready to be handed to fat.Mount or iso9660.Mount.
package partition

import (
	"encoding/binary"
	"fmt"
)

const (
	// SectorSize is the only sector size this package supports; MBR/EPBR
	// geometry is defined in terms of it.
	SectorSize = 512

	partitionTableOffset = 446
	entrySize            = 16
	numPrimaryEntries    = 4
	signatureOffset      = 510
	bootSignature        = 0xAA55
)

// Partition type (system ID) bytes relevant to this package's own logic; all
// others just pass through unexamined.
const (
	SystemIDEmpty       = 0x00
	SystemIDExtendedCHS = 0x05
	SystemIDFAT12       = 0x01
	SystemIDFAT16Small  = 0x04
	SystemIDExtendedLBA = 0x0F
	SystemIDFAT16Large  = 0x06
	SystemIDFAT32       = 0x0B
	SystemIDFAT32LBA    = 0x0C
)

// Standard BIOS INT13h translation geometry used for CHS packing, independent
// of the disk's actual physical geometry -- this is what every MBR partition
// table in the wild is packed against.
const (
	translationHeads           = 255
	translationSectorsPerTrack = 63
)

// chsCeiling is the first LBA of cylinder 1023 at the translation geometry
// above; LBAs beyond it are stored as the sentinel values.
const chsCeiling = 1023 * translationHeads * translationSectorsPerTrack

var startCHSSentinel = [3]byte{0xFF, 0xC1, 0x01} // 0xFFC101
var endCHSSentinel = [3]byte{0xFF, 0xFF, 0xFE}   // 0xFFFFFE

// packCHS encodes an LBA sector number into the packed 3-byte CHS form, with
// the cylinder's top two bits folded into the sector byte's high bits (the
// classic IBM PC BIOS packing). Callers must check lba against chsCeiling
// themselves and substitute a sentinel instead of calling this directly --
// see packStartCHS/packEndCHS.
func packCHS(lba uint32) [3]byte {
	sector := (lba % translationSectorsPerTrack) + 1
	temp := lba / translationSectorsPerTrack
	head := temp % translationHeads
	cylinder := temp / translationHeads

	return [3]byte{
		byte(head),
		byte(sector&0x3F) | byte((cylinder>>2)&0xC0),
		byte(cylinder & 0xFF),
	}
}

// packStartCHS and packEndCHS pick the correct overflow sentinel: per
// spec.md 0xFFC101 marks an overflowed starting sector, 0xFFFFFE an
// overflowed ending sector.
func packStartCHS(lba uint32) [3]byte {
	if lba > chsCeiling {
		return startCHSSentinel
	}
	return packCHS(lba)
}

func packEndCHS(lba uint32) [3]byte {
	if lba > chsCeiling {
		return endCHSSentinel
	}
	return packCHS(lba)
}

// unpackCHS reverses packCHS. The two sentinel values decode to chsCeiling+1
// (an explicit "overflowed" marker) rather than whatever bit pattern they'd
// otherwise represent, since the packed sentinel bytes don't correspond to a
// real cylinder/head/sector triple.
func unpackCHS(chs [3]byte) uint32 {
	if chs == startCHSSentinel || chs == endCHSSentinel {
		return chsCeiling + 1
	}

	head := uint32(chs[0])
	sector := uint32(chs[1] & 0x3F)
	cylinder := uint32(chs[1]&0xC0)<<2 | uint32(chs[2])

	return (cylinder*translationHeads+head)*translationSectorsPerTrack + sector - 1
}

// Entry is one 16-byte MBR or EPBR partition table entry.
type Entry struct {
	BootIndicator uint8
	StartCHS      [3]byte
	SystemID      uint8
	EndCHS        [3]byte
	StartingLBA   uint32
	TotalSectors  uint32
}

func (e Entry) IsEmpty() bool {
	return e.SystemID == SystemIDEmpty && e.TotalSectors == 0
}

func (e Entry) IsExtended() bool {
	return e.SystemID == SystemIDExtendedCHS || e.SystemID == SystemIDExtendedLBA
}

func parseEntry(b []byte) Entry {
	var e Entry
	e.BootIndicator = b[0]
	copy(e.StartCHS[:], b[1:4])
	e.SystemID = b[4]
	copy(e.EndCHS[:], b[5:8])
	e.StartingLBA = binary.LittleEndian.Uint32(b[8:12])
	e.TotalSectors = binary.LittleEndian.Uint32(b[12:16])
	return e
}

func (e Entry) encode(b []byte) {
	b[0] = e.BootIndicator
	copy(b[1:4], e.StartCHS[:])
	b[4] = e.SystemID
	copy(b[5:8], e.EndCHS[:])
	binary.LittleEndian.PutUint32(b[8:12], e.StartingLBA)
	binary.LittleEndian.PutUint32(b[12:16], e.TotalSectors)
}

// recomputeCHS fills in StartCHS/EndCHS (and flips an extended entry's
// SystemID between the CHS and LBA forms) from StartingLBA/TotalSectors, per
// setLayout's translation step.
func (e *Entry) recomputeCHS() {
	endLBA := e.StartingLBA + e.TotalSectors - 1
	e.StartCHS = packStartCHS(e.StartingLBA)
	e.EndCHS = packEndCHS(endLBA)

	if e.IsExtended() {
		if endLBA > chsCeiling {
			e.SystemID = SystemIDExtendedLBA
		} else {
			e.SystemID = SystemIDExtendedCHS
		}
	}
}

// Table is a parsed 512-byte MBR or EPBR sector: boot code (ignored, kept
// verbatim), four partition entries, and the 0xAA55 signature.
type Table struct {
	BootCode [partitionTableOffset]byte
	Entries  [numPrimaryEntries]Entry
}

func parseTable(sector []byte) (Table, error) {
	if len(sector) != SectorSize {
		return Table{}, fmt.Errorf("partition table sector must be %d bytes, got %d", SectorSize, len(sector))
	}
	sig := binary.LittleEndian.Uint16(sector[signatureOffset:])
	if sig != bootSignature {
		return Table{}, fmt.Errorf("bad boot signature 0x%04X, expected 0xAA55", sig)
	}

	var t Table
	copy(t.BootCode[:], sector[:partitionTableOffset])
	for i := 0; i < numPrimaryEntries; i++ {
		offset := partitionTableOffset + i*entrySize
		t.Entries[i] = parseEntry(sector[offset : offset+entrySize])
	}
	return t, nil
}

func (t Table) encode() []byte {
	sector := make([]byte, SectorSize)
	copy(sector, t.BootCode[:])
	for i, e := range t.Entries {
		offset := partitionTableOffset + i*entrySize
		e.encode(sector[offset : offset+entrySize])
	}
	binary.LittleEndian.PutUint16(sector[signatureOffset:], bootSignature)
	return sector
}
