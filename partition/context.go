package partition

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/boljen/go-bitmap"
	"github.com/hashicorp/go-multierror"

	"github.com/arkavault/voltfs/disks"
)

// Prefix names a partition by role, per spec.md 6.4: partition{0..3},
// extended, logical{0..N}.
const (
	prefixPartition = "partition"
	prefixExtended  = "extended"
	prefixLogical   = "logical"
)

// Context mounts a raw disk stream and exposes each primary, extended, or
// logical partition found in its MBR/EPBR tables as its own bounds-checked
// Stream.
type Context struct {
	disk     io.ReadWriteSeeker
	diskSize int64
	geometry disks.DiskGeometry

	mbr Table

	// occupied tracks which of the four primary MBR slots hold a partition,
	// one bit per slot.
	occupied bitmap.Bitmap

	primaries    [numPrimaryEntries]*Stream
	extended     *Stream
	extendedSlot int // index into mbr.Entries, or -1 if no extended partition

	// chain holds one epbrSector per logical partition, in chain order,
	// parallel to logicals.
	chain    []epbrSector
	logicals []*Stream
}

func (c *Context) readSector(lba uint32) ([]byte, error) {
	offset := int64(lba) * SectorSize
	if _, err := c.disk.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, SectorSize)
	if _, err := io.ReadFull(c.disk, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *Context) writeSector(lba uint32, sector []byte) error {
	offset := int64(lba) * SectorSize
	if _, err := c.disk.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	_, err := c.disk.Write(sector)
	return err
}

// Mount reads the MBR and, if present, walks the extended partition's EPBR
// chain, instantiating a Stream for every partition found. Per spec.md
// 4.7: primary partitions first in id order, then at most one extended
// stream, then logical partitions 0..N in chain order. Errors encountered
// while walking individual EPBR links are aggregated rather than aborting
// the whole mount, so a disk with one corrupt logical partition still
// yields its primaries.
func Mount(disk io.ReadWriteSeeker, diskSize int64) (*Context, error) {
	c := &Context{
		disk:         disk,
		diskSize:     diskSize,
		occupied:     bitmap.New(numPrimaryEntries),
		extendedSlot: -1,
	}

	if geometry, err := disks.FindGeometryBySize(diskSize); err == nil {
		c.geometry = geometry
	}

	sector, err := c.readSector(0)
	if err != nil {
		return nil, fmt.Errorf("partition: reading MBR: %w", err)
	}
	table, err := parseTable(sector)
	if err != nil {
		return nil, fmt.Errorf("partition: parsing MBR: %w", err)
	}
	c.mbr = table

	var result *multierror.Error

	for i, entry := range table.Entries {
		switch {
		case entry.IsEmpty():
			continue
		case entry.IsExtended():
			if c.extendedSlot >= 0 {
				result = multierror.Append(result, fmt.Errorf("partition: MBR has more than one extended entry, slots %d and %d", c.extendedSlot, i))
				continue
			}
			c.extendedSlot = i
			c.occupied.Set(i, true)
			c.extended = newStream(disk, int64(entry.StartingLBA)*SectorSize, int64(entry.TotalSectors)*SectorSize)
		default:
			c.primaries[i] = newStream(disk, int64(entry.StartingLBA)*SectorSize, int64(entry.TotalSectors)*SectorSize)
			c.occupied.Set(i, true)
		}
	}

	if c.extendedSlot >= 0 {
		chainBase := table.Entries[c.extendedSlot].StartingLBA
		chain, err := readEPBRChain(c, chainBase)
		if err != nil {
			result = multierror.Append(result, err)
		}
		c.chain = chain
		for _, link := range chain {
			absoluteStart := link.sectorLBA + link.logical.StartingLBA
			c.logicals = append(c.logicals, newStream(disk, int64(absoluteStart)*SectorSize, int64(link.logical.TotalSectors)*SectorSize))
		}
	}

	return c, result.ErrorOrNil()
}

// parseName splits a partition name like "partition2" or "logical0" into
// its prefix and numeric id.
func parseName(name string) (prefix string, id int, err error) {
	for _, p := range []string{prefixPartition, prefixExtended, prefixLogical} {
		if strings.HasPrefix(name, p) {
			rest := name[len(p):]
			if p == prefixExtended {
				if rest == "" {
					return p, 0, nil
				}
				return "", 0, fmt.Errorf("partition: %q: extended takes no numeric suffix", name)
			}
			if rest == "" {
				return "", 0, fmt.Errorf("partition: %q: missing numeric id", name)
			}
			n, err := strconv.Atoi(rest)
			if err != nil {
				return "", 0, fmt.Errorf("partition: %q: invalid numeric id: %w", name, err)
			}
			return p, n, nil
		}
	}
	return "", 0, fmt.Errorf("partition: %q: unrecognized name, want partition{0-3}, extended, or logical{N}", name)
}

// Bind resolves a partition name to its live stream.
func (c *Context) Bind(name string) (*Stream, error) {
	prefix, id, err := parseName(name)
	if err != nil {
		return nil, err
	}
	switch prefix {
	case prefixPartition:
		if id < 0 || id >= numPrimaryEntries {
			return nil, fmt.Errorf("partition: %q: id out of range [0, %d)", name, numPrimaryEntries)
		}
		if c.primaries[id] == nil {
			return nil, fmt.Errorf("partition: %q: not bound", name)
		}
		return c.primaries[id], nil
	case prefixExtended:
		if c.extended == nil {
			return nil, fmt.Errorf("partition: %q: no extended partition", name)
		}
		return c.extended, nil
	case prefixLogical:
		if id < 0 || id >= len(c.logicals) {
			return nil, fmt.Errorf("partition: %q: id out of range [0, %d)", name, len(c.logicals))
		}
		return c.logicals[id], nil
	}
	return nil, fmt.Errorf("partition: %q: unrecognized name", name)
}

// CreatePrimary assigns the next sequential primary or extended partition
// slot, per spec.md 4.7: ids must be created in order, starting offset is
// just past the previous partition's end rounded up to a cylinder, and the
// default system type is picked from sizeBytes per the FAT12/16/32
// thresholds.
func (c *Context) CreatePrimary(extended bool, sizeBytes int64) (string, error) {
	slot := -1
	for i := 0; i < numPrimaryEntries; i++ {
		if c.mbr.Entries[i].IsEmpty() {
			slot = i
			break
		}
		if i > 0 && c.mbr.Entries[i-1].IsEmpty() {
			return "", fmt.Errorf("partition: primary slot %d is empty, cannot create slot %d out of order", i-1, i)
		}
	}
	if slot == -1 {
		return "", fmt.Errorf("partition: all %d primary slots are occupied", numPrimaryEntries)
	}
	if extended && c.extendedSlot >= 0 {
		return "", fmt.Errorf("partition: an extended partition already exists in slot %d", c.extendedSlot)
	}

	start := c.nextCylinderAlignedStart()
	sectors := uint32(sizeBytes / SectorSize)

	entry := Entry{
		BootIndicator: 0x00,
		StartingLBA:   start,
		TotalSectors:  sectors,
	}
	if extended {
		entry.SystemID = SystemIDExtendedCHS
	} else {
		entry.SystemID = defaultSystemIDForSize(sizeBytes)
	}
	entry.recomputeCHS()

	c.mbr.Entries[slot] = entry
	c.occupied.Set(slot, true)
	stream := newStream(c.disk, int64(start)*SectorSize, sizeBytes)
	if extended {
		c.extendedSlot = slot
		c.extended = stream
	} else {
		c.primaries[slot] = stream
	}

	if err := c.writeSector(0, c.mbr.encode()); err != nil {
		return "", fmt.Errorf("partition: writing MBR: %w", err)
	}

	if extended {
		return prefixExtended, nil
	}
	return fmt.Sprintf("%s%d", prefixPartition, slot), nil
}

// CreateLogical appends a new logical partition at the tail of the EPBR
// chain, per spec.md 4.7: a fresh EPBR sector goes at the previous tail's
// end, and the previous EPBR's second entry is updated to link to it.
func (c *Context) CreateLogical(sizeBytes int64) (string, error) {
	if c.extendedSlot < 0 {
		return "", fmt.Errorf("partition: no extended partition to hold logical partitions")
	}
	chainBase := c.mbr.Entries[c.extendedSlot].StartingLBA

	var prevEndLBA uint32
	if len(c.chain) == 0 {
		prevEndLBA = chainBase
	} else {
		last := c.chain[len(c.chain)-1]
		prevEndLBA = last.sectorLBA + last.logical.StartingLBA + last.logical.TotalSectors
	}

	newEPBRLBA := prevEndLBA
	logicalStart := newEPBRLBA + 1 // logical partition's data starts just past its own EPBR sector
	sectors := uint32(sizeBytes / SectorSize)

	newEntry := epbrSector{
		sectorLBA: newEPBRLBA,
		logical: Entry{
			BootIndicator: 0x00,
			SystemID:      defaultSystemIDForSize(sizeBytes),
			StartingLBA:   logicalStart - newEPBRLBA,
			TotalSectors:  sectors,
		},
	}
	newEntry.logical.recomputeCHS()

	if err := c.writeEPBRSector(newEntry); err != nil {
		return "", err
	}

	if len(c.chain) > 0 {
		prev := &c.chain[len(c.chain)-1]
		prev.link = Entry{
			BootIndicator: 0x00,
			SystemID:      SystemIDExtendedCHS,
			StartingLBA:   newEPBRLBA - chainBase,
			TotalSectors:  1,
		}
		prev.link.recomputeCHS()
		if err := c.writeEPBRSector(*prev); err != nil {
			return "", err
		}
	}

	c.chain = append(c.chain, newEntry)
	c.logicals = append(c.logicals, newStream(c.disk, int64(logicalStart)*SectorSize, sizeBytes))

	return fmt.Sprintf("%s%d", prefixLogical, len(c.logicals)-1), nil
}

func (c *Context) writeEPBRSector(e epbrSector) error {
	table := Table{Entries: [numPrimaryEntries]Entry{e.logical, e.link}}
	return c.writeSector(e.sectorLBA, table.encode())
}

// SetLayout rewrites a partition's length and re-derives its CHS fields,
// per spec.md 4.7. Growth that would push an extended partition past the
// end of the disk is silently clamped to the old size rather than
// rejected, preserving the original implementation's documented behaviour
// (see DESIGN.md).
func (c *Context) SetLayout(name string, newSizeBytes int64) error {
	prefix, id, err := parseName(name)
	if err != nil {
		return err
	}

	clamped := newSizeBytes
	startOffset, _ := c.extentOf(prefix, id)
	if prefix == prefixExtended && startOffset+clamped > c.diskSize {
		clamped = int64(c.mbr.Entries[c.extendedSlot].TotalSectors) * SectorSize
	}
	clamped = clamped - (clamped % (int64(SectorSize) * int64(cylinderSectors(c.geometry))))
	if clamped <= 0 {
		clamped = int64(SectorSize)
	}

	switch prefix {
	case prefixPartition:
		entry := c.mbr.Entries[id]
		entry.TotalSectors = uint32(clamped / SectorSize)
		entry.recomputeCHS()
		c.mbr.Entries[id] = entry
		c.primaries[id].size = clamped
		return c.writeSector(0, c.mbr.encode())

	case prefixExtended:
		entry := c.mbr.Entries[c.extendedSlot]
		entry.TotalSectors = uint32(clamped / SectorSize)
		entry.recomputeCHS()
		c.mbr.Entries[c.extendedSlot] = entry
		c.extended.size = clamped
		return c.writeSector(0, c.mbr.encode())

	case prefixLogical:
		if id < 0 || id >= len(c.chain) {
			return fmt.Errorf("partition: %q: id out of range", name)
		}
		link := &c.chain[id]
		link.logical.TotalSectors = uint32(clamped / SectorSize)
		link.logical.recomputeCHS()
		if err := c.writeEPBRSector(*link); err != nil {
			return err
		}
		if id > 0 {
			if err := c.writeEPBRSector(c.chain[id-1]); err != nil {
				return err
			}
		}
		c.logicals[id].size = clamped
		return nil
	}
	return fmt.Errorf("partition: %q: unrecognized name", name)
}

// extentOf returns a partition's current starting byte offset and the
// byte offset it must not grow past (the disk's end, for anything that
// isn't a bounded sibling).
func (c *Context) extentOf(prefix string, id int) (start, ceiling int64) {
	switch prefix {
	case prefixPartition:
		e := c.mbr.Entries[id]
		return int64(e.StartingLBA) * SectorSize, c.diskSize
	case prefixExtended:
		e := c.mbr.Entries[c.extendedSlot]
		return int64(e.StartingLBA) * SectorSize, c.diskSize
	case prefixLogical:
		link := c.chain[id]
		return int64(link.sectorLBA+link.logical.StartingLBA) * SectorSize, c.diskSize
	}
	return 0, c.diskSize
}

// Unbind removes a partition. Per spec.md 3.5/4.7, logical and extended
// partitions are removable only as the current tail of their respective
// chains; primary partitions are removable independently, by zeroing
// their MBR entry.
func (c *Context) Unbind(name string) error {
	prefix, id, err := parseName(name)
	if err != nil {
		return err
	}
	switch prefix {
	case prefixPartition:
		if id < 0 || id >= numPrimaryEntries || c.primaries[id] == nil {
			return fmt.Errorf("partition: %q: not bound", name)
		}
		c.mbr.Entries[id] = Entry{}
		c.occupied.Set(id, false)
		c.primaries[id] = nil
		return c.writeSector(0, c.mbr.encode())

	case prefixExtended:
		if c.extended == nil {
			return fmt.Errorf("partition: %q: not bound", name)
		}
		if len(c.logicals) > 0 {
			return fmt.Errorf("partition: cannot unbind extended partition with %d logical partitions still bound", len(c.logicals))
		}
		c.mbr.Entries[c.extendedSlot] = Entry{}
		c.occupied.Set(c.extendedSlot, false)
		c.extended = nil
		c.extendedSlot = -1
		return c.writeSector(0, c.mbr.encode())

	case prefixLogical:
		if id != len(c.logicals)-1 {
			return fmt.Errorf("partition: %q: only the last logical partition (logical%d) may be unbound", name, len(c.logicals)-1)
		}
		if id > 0 {
			c.chain[id-1].link = Entry{}
			if err := c.writeEPBRSector(c.chain[id-1]); err != nil {
				return err
			}
		}
		c.chain = c.chain[:id]
		c.logicals = c.logicals[:id]
		return nil
	}
	return fmt.Errorf("partition: %q: unrecognized name", name)
}

// nextCylinderAlignedStart finds the first free LBA past every existing
// primary/extended partition's end, rounded up to the next cylinder.
func (c *Context) nextCylinderAlignedStart() uint32 {
	var maxEnd uint32
	for _, e := range c.mbr.Entries {
		if e.IsEmpty() {
			continue
		}
		end := e.StartingLBA + e.TotalSectors
		if end > maxEnd {
			maxEnd = end
		}
	}
	if maxEnd == 0 {
		maxEnd = uint32(translationSectorsPerTrack) // leave track 0 for the MBR itself
	}
	cyl := cylinderSectors(c.geometry)
	aligned := (uint64(maxEnd) + cyl - 1) / cyl * cyl
	return uint32(aligned)
}

// cylinderSectors returns the number of sectors in one cylinder at the
// context's assumed geometry, falling back to the standard BIOS
// translation geometry when no matching geometry entry was found.
func cylinderSectors(g disks.DiskGeometry) uint64 {
	if g.SectorsPerTrack == 0 || g.Heads == 0 {
		return uint64(translationSectorsPerTrack) * uint64(translationHeads)
	}
	return uint64(g.SectorsPerTrack) * uint64(g.Heads)
}

// defaultSystemIDForSize picks a default FAT variant by partition size, per
// spec.md 4.7: FAT12 <= 4 MiB, FAT16-small < 32 MiB, FAT16-large < 512 MiB,
// else FAT32.
func defaultSystemIDForSize(sizeBytes int64) uint8 {
	const (
		mib = 1024 * 1024
	)
	switch {
	case sizeBytes <= 4*mib:
		return SystemIDFAT12
	case sizeBytes < 32*mib:
		return SystemIDFAT16Small
	case sizeBytes < 512*mib:
		return SystemIDFAT16Large
	default:
		return SystemIDFAT32
	}
}
