package fat

import (
	"strings"
	"syscall"

	"github.com/arkavault/voltfs"
	"github.com/arkavault/voltfs/common"
	verrors "github.com/arkavault/voltfs/errors"
)

// maxDirectorySize bounds how many bytes of a directory's cluster chain
// rawData will ever read. A cyclic or otherwise corrupted chain would
// otherwise turn a directory listing into an infinite loop; real FAT
// directories never legitimately grow past a couple of megabytes of 32-byte
// entries.
const maxDirectorySize = 2 * 1024 * 1024

// Directory is a handle to a FAT directory's data -- either a cluster chain
// (every directory except the FAT12/16 root) or the fixed-size root region
// that precedes the data area on FAT12/16 volumes. It provides the
// entry-level operations (FindNext/Lookup/Create/Remove/Rename) the spec
// calls for; it does not itself cache parsed entries across calls, leaving
// that to the Stream layer (stream.go) for anything opened as a file.
type Directory struct {
	volume       *Volume
	firstCluster ClusterID
	isFixedRoot  bool
	fixedSector  SectorID
	fixedEntries uint
}

func newClusterDirectory(v *Volume, firstCluster ClusterID) *Directory {
	return &Directory{volume: v, firstCluster: firstCluster}
}

func newFixedRootDirectory(v *Volume, firstSector SectorID, entryCount uint) *Directory {
	return &Directory{volume: v, isFixedRoot: true, fixedSector: firstSector, fixedEntries: entryCount}
}

// rawData returns the full backing bytes of the directory: either the whole
// fixed root region, or every cluster in the chain concatenated in order.
func (d *Directory) rawData() ([]byte, error) {
	if d.isFixedRoot {
		numSectors := (d.fixedEntries*uint(DirentSize) + uint(d.volume.BootSector.BytesPerSector) - 1) /
			uint(d.volume.BootSector.BytesPerSector)
		return d.volume.blocks.Read(common.BlockID(d.fixedSector), numSectors)
	}

	chain, err := d.volume.Table.ListChain(d.firstCluster)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(chain)*int(d.volume.BootSector.BytesPerCluster))
	for _, c := range chain {
		if len(out) >= maxDirectorySize {
			// A directory this large almost certainly means the chain is
			// cyclic or otherwise corrupted; stop here instead of reading
			// forever. CheckDisk is the place to actually repair this.
			break
		}
		data, err := d.volume.clusters.Read(toCommonClusterID(c), 1)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}

// resolvedEntry is a fully decoded directory entry: its long name (if any
// LFN run preceded it, else the decoded short name), the 8.3 short name as
// written on disk, and the byte offset its short-name slot starts at (used
// as half of the Stream identity key).
type resolvedEntry struct {
	Dirent
	shortNameRaw [11]byte
	byteOffset   uint32
}

// FindNext parses every live entry in the directory, skipping free slots
// (0x00/0xE5) and orphaned LFN runs, and reassembling long names from the
// LFN runs that precede a short entry.
func (d *Directory) FindNext() ([]resolvedEntry, error) {
	data, err := d.rawData()
	if err != nil {
		return nil, err
	}

	var results []resolvedEntry
	var pendingLFN []RawLFNEntry

	for offset := 0; offset+DirentSize <= len(data); offset += DirentSize {
		slot := data[offset : offset+DirentSize]
		if slot[0] == 0x00 {
			// Free slot; on FAT, everything after the first free slot in a
			// directory is also free, but we don't rely on that here since
			// some tools don't maintain the invariant strictly.
			pendingLFN = nil
			continue
		}
		if slot[0] == 0xE5 {
			pendingLFN = nil
			continue
		}

		attr := slot[11]
		if IsLongNameEntry(attr) {
			lfn, err := decodeRawLFNEntry(slot)
			if err != nil {
				return nil, err
			}
			pendingLFN = append(pendingLFN, lfn)
			continue
		}

		rawDirent, err := NewRawDirentFromBytes(slot)
		if err != nil {
			return nil, err
		}
		dirent, err := NewDirentFromRaw(&rawDirent)
		if err != nil {
			pendingLFN = nil
			continue
		}

		var shortRaw [11]byte
		copy(shortRaw[:8], rawDirent.Name[:])
		copy(shortRaw[8:], rawDirent.Extension[:])

		if len(pendingLFN) > 0 {
			checksum := ShortNameChecksum(shortRaw)
			longName, runChecksum, err := ParseLFNRun(pendingLFN)
			if err == nil && runChecksum == checksum {
				dirent.name = longName
			}
			// A mismatched checksum means the LFN run doesn't belong to
			// this short entry (left behind by a non-LFN-aware tool that
			// edited the file). Fall back to the short name silently --
			// that's what every real FAT driver does.
		}
		pendingLFN = nil

		results = append(results, resolvedEntry{
			Dirent:       dirent,
			shortNameRaw: shortRaw,
			byteOffset:   uint32(offset),
		})
	}

	return results, nil
}

// ReadAll is an alias for FindNext returning just the Dirents, for callers
// that don't need the short-name/offset bookkeeping (e.g. CheckDisk).
func (d *Directory) ReadAll() ([]Dirent, error) {
	resolved, err := d.FindNext()
	if err != nil {
		return nil, err
	}
	out := make([]Dirent, len(resolved))
	for i, r := range resolved {
		out[i] = r.Dirent
	}
	return out, nil
}

// Lookup finds the entry named `name` (case-insensitive, matched against
// both the long and short names) in this directory.
func (d *Directory) Lookup(name string) (*resolvedEntry, error) {
	entries, err := d.FindNext()
	if err != nil {
		return nil, err
	}

	upperTarget := strings.ToUpper(name)
	for i := range entries {
		if strings.ToUpper(entries[i].name) == upperTarget ||
			strings.ToUpper(formatShortNameRaw(entries[i].shortNameRaw)) == upperTarget {
			return &entries[i], nil
		}
	}
	return nil, voltfs.ErrNotFound
}

// existingShortNames collects the short names already in use in this
// directory, for GenerateShortName's collision check.
func (d *Directory) existingShortNames() (map[string]bool, error) {
	entries, err := d.FindNext()
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[formatShortNameRaw(e.shortNameRaw)] = true
	}
	return names, nil
}

func formatShortNameRaw(raw [11]byte) string {
	base := strings.TrimRight(string(raw[:8]), " ")
	ext := strings.TrimRight(string(raw[8:]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// Create adds a new entry named `name` to the directory, writing an LFN run
// ahead of the short-name entry when `name` isn't already 8.3-legal. Returns
// ErrExists if an entry with this name is already present.
func (d *Directory) Create(name string, attrFlags uint8, firstCluster ClusterID) error {
	if _, err := d.Lookup(name); err == nil {
		return voltfs.ErrExists
	}

	slots, err := d.buildEntrySlots(name, attrFlags, firstCluster)
	if err != nil {
		return err
	}
	return d.writeSlots(slots)
}

// buildEntrySlots generates the on-disk slots (an optional LFN run followed
// by the short-name entry) for a new entry named `name`, without writing them
// anywhere. Shared by Create and CreateSubdirectory.
func (d *Directory) buildEntrySlots(name string, attrFlags uint8, firstCluster ClusterID) ([][]byte, error) {
	existing, err := d.existingShortNames()
	if err != nil {
		return nil, err
	}
	shortName, err := GenerateShortName(name, existing)
	if err != nil {
		return nil, voltfs.NewDriverErrorWithMessage(syscall.EINVAL, err.Error())
	}

	shortRaw, err := shortNameToRaw(shortName)
	if err != nil {
		return nil, err
	}
	checksum := ShortNameChecksum(shortRaw)

	var slots [][]byte
	if name != shortName {
		for _, lfn := range BuildLFNEntries(name, checksum) {
			slots = append(slots, encodeRawLFNEntry(lfn))
		}
	}
	slots = append(slots, encodeShortDirent(shortRaw, attrFlags, firstCluster))
	return slots, nil
}

// dotShortRaw and dotdotShortRaw are the fixed 11-byte short names for the
// "." and ".." entries every non-root directory starts with.
var (
	dotShortRaw    = [11]byte{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
	dotdotShortRaw = [11]byte{'.', '.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
)

// CreateSubdirectory adds a new subdirectory named `name` to the directory.
// It allocates one cluster, zero-fills it (so the new directory's
// end-of-directory marker is valid the instant its cluster chain exists,
// before the entry linking it into `d` is written), writes its "." and ".."
// entries, and only then links the entry into `d`. attrFlags is combined
// with AttrDirectory; callers don't need to set that bit themselves.
func (d *Directory) CreateSubdirectory(name string, attrFlags uint8) error {
	if _, err := d.Lookup(name); err == nil {
		return voltfs.ErrExists
	}

	newCluster, err := d.volume.Alloc.AllocateChain(1)
	if err != nil {
		return err
	}

	blank := make([]byte, d.volume.BootSector.BytesPerCluster)
	if err := d.volume.clusters.Write(toCommonClusterID(newCluster), blank); err != nil {
		_ = d.volume.Alloc.Free(newCluster)
		return err
	}

	parentCluster := d.firstCluster
	if d.isFixedRoot {
		// FAT12/16 root has no cluster of its own; ".." in an immediate
		// child points at cluster 0 by convention.
		parentCluster = 0
	}

	dotSlots := [][]byte{
		encodeShortDirent(dotShortRaw, attrFlags|AttrDirectory, newCluster),
		encodeShortDirent(dotdotShortRaw, attrFlags|AttrDirectory, parentCluster),
	}
	sub := newClusterDirectory(d.volume, newCluster)
	if err := sub.writeSlotsAt(0, dotSlots); err != nil {
		_ = d.volume.Alloc.Free(newCluster)
		return err
	}

	slots, err := d.buildEntrySlots(name, attrFlags|AttrDirectory, newCluster)
	if err != nil {
		_ = d.volume.Alloc.Free(newCluster)
		return err
	}
	if err := d.writeSlots(slots); err != nil {
		_ = d.volume.Alloc.Free(newCluster)
		return err
	}
	return nil
}

// writeSlots finds `len(slots)` consecutive free slots in the directory
// (growing the chain by one cluster if none are found) and writes them in
// order.
func (d *Directory) writeSlots(slots [][]byte) error {
	data, err := d.rawData()
	if err != nil {
		return err
	}

	needed := len(slots)
	run := 0
	runStart := -1
	for offset := 0; offset+DirentSize <= len(data); offset += DirentSize {
		if data[offset] == 0x00 || data[offset] == 0xE5 {
			if run == 0 {
				runStart = offset
			}
			run++
			if run == needed {
				return d.writeSlotsAt(runStart, slots)
			}
		} else {
			run = 0
		}
	}

	if d.isFixedRoot {
		return voltfs.ErrNoSpace
	}

	// No run of free slots large enough; grow the chain by one cluster
	// (zero-filled, i.e. all-free slots) and retry.
	newCluster, err := d.volume.Alloc.ExtendChain(d.lastClusterInChain(), 1)
	if err != nil {
		return err
	}
	blank := make([]byte, d.volume.BootSector.BytesPerCluster)
	if err := d.volume.clusters.Write(toCommonClusterID(newCluster), blank); err != nil {
		return err
	}
	return d.writeSlots(slots)
}

func (d *Directory) lastClusterInChain() ClusterID {
	chain, err := d.volume.Table.ListChain(d.firstCluster)
	if err != nil || len(chain) == 0 {
		return d.firstCluster
	}
	return chain[len(chain)-1]
}

func (d *Directory) writeSlotsAt(byteOffset int, slots [][]byte) error {
	if d.isFixedRoot {
		sector := d.fixedSector + SectorID(byteOffset/int(d.volume.BootSector.BytesPerSector))
		within := byteOffset % int(d.volume.BootSector.BytesPerSector)
		buf, err := d.volume.blocks.Read(common.BlockID(sector), 1)
		if err != nil {
			return err
		}
		for _, slot := range slots {
			copy(buf[within:within+DirentSize], slot)
			within += DirentSize
		}
		return d.volume.blocks.Write(common.BlockID(sector), buf)
	}

	clusterSize := int(d.volume.BootSector.BytesPerCluster)
	clusterIndex := byteOffset / clusterSize
	within := byteOffset % clusterSize

	chain, err := d.volume.Table.ListChain(d.firstCluster)
	if err != nil {
		return err
	}
	if clusterIndex >= len(chain) {
		return voltfs.ErrInvalidArgument
	}

	clusterData, err := d.volume.clusters.Read(toCommonClusterID(chain[clusterIndex]), 1)
	if err != nil {
		return err
	}
	for _, slot := range slots {
		if within+DirentSize > len(clusterData) {
			return voltfs.ErrNoSpace
		}
		copy(clusterData[within:within+DirentSize], slot)
		within += DirentSize
	}
	return d.volume.clusters.Write(toCommonClusterID(chain[clusterIndex]), clusterData)
}

// Remove marks the entry named `name` (and any LFN run preceding it) free,
// and frees its cluster chain if it has one.
func (d *Directory) Remove(name string) error {
	entry, err := d.Lookup(name)
	if err != nil {
		return err
	}

	if entry.mode.IsDir() {
		sub := newClusterDirectory(d.volume, entry.FirstCluster)
		children, err := sub.ReadAll()
		if err != nil {
			return err
		}
		for _, c := range children {
			if c.name != "." && c.name != ".." {
				return voltfs.ErrDirectoryNotEmpty
			}
		}
	}

	if err := d.markFree(entry.byteOffset); err != nil {
		return err
	}
	if entry.FirstCluster != 0 {
		return d.volume.Alloc.Free(entry.FirstCluster)
	}
	return nil
}

// unlinkEntry removes the directory slots for `name` without freeing its
// data cluster chain, for Rename's benefit -- the data stays put, only the
// name changes.
func (d *Directory) unlinkEntry(name string) (uint8, ClusterID, error) {
	entry, err := d.Lookup(name)
	if err != nil {
		return 0, 0, err
	}
	if err := d.markFree(entry.byteOffset); err != nil {
		return 0, 0, err
	}
	return uint8(entry.AttributeFlags), entry.FirstCluster, nil
}

func (d *Directory) markFree(shortEntryOffset uint32) error {
	data, err := d.rawData()
	if err != nil {
		return err
	}

	offset := int(shortEntryOffset)
	data[offset] = 0xE5

	// Walk backwards over any LFN entries directly preceding this one and
	// free them too.
	for offset-DirentSize >= 0 {
		prev := offset - DirentSize
		if data[prev+11] != AttrLongName {
			break
		}
		data[prev] = 0xE5
		offset = prev
	}

	return d.rewrite(data)
}

// rewrite writes the full directory buffer back out, cluster by cluster (or
// in one shot for the fixed root region).
func (d *Directory) rewrite(data []byte) error {
	if d.isFixedRoot {
		return d.volume.blocks.Write(common.BlockID(d.fixedSector), data)
	}

	chain, err := d.volume.Table.ListChain(d.firstCluster)
	if err != nil {
		return err
	}
	clusterSize := int(d.volume.BootSector.BytesPerCluster)
	for i, c := range chain {
		start := i * clusterSize
		end := start + clusterSize
		if end > len(data) {
			end = len(data)
		}
		if err := d.volume.clusters.Write(toCommonClusterID(c), data[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// Rename changes the name of an existing entry within this directory. It
// always removes the old entry (and its LFN run) and creates a new one via
// RenameTo; the existing run is never patched in place.
func (d *Directory) Rename(oldName, newName string) error {
	return d.RenameTo(oldName, d, newName)
}

// RenameTo moves the entry named `oldName` out of `d` and into `destDir`
// under `newName`, which may be the same directory (a same-parent rename) or
// a different one (a cross-parent move). If the moved entry is itself a
// subdirectory, its own ".." entry is rewritten to point at destDir so the
// moved tree's parent pointer stays consistent -- per spec.md's cross-parent
// move requirement, which the single-directory unlinkEntry+Create pattern
// alone can't satisfy.
func (d *Directory) RenameTo(oldName string, destDir *Directory, newName string) error {
	entry, err := d.Lookup(oldName)
	if err != nil {
		return err
	}
	if _, err := destDir.Lookup(newName); err == nil {
		return voltfs.ErrExists
	}

	isDir := entry.mode.IsDir()
	firstCluster := entry.FirstCluster

	attrFlags, _, err := d.unlinkEntry(oldName)
	if err != nil {
		return err
	}

	if err := destDir.Create(newName, attrFlags, firstCluster); err != nil {
		// Put the entry back where it was rather than losing it.
		_ = d.Create(oldName, attrFlags, firstCluster)
		return err
	}

	if isDir && destDir != d && firstCluster != 0 {
		newParentCluster := destDir.firstCluster
		if destDir.isFixedRoot {
			newParentCluster = 0
		}
		moved := newClusterDirectory(d.volume, firstCluster)
		if err := moved.rewriteDotDot(newParentCluster); err != nil {
			return err
		}
	}

	return nil
}

// rewriteDotDot patches this directory's own ".." entry to point at
// newParentCluster, used after a cross-parent move relinks a subdirectory
// under a different parent.
func (d *Directory) rewriteDotDot(newParentCluster ClusterID) error {
	data, err := d.rawData()
	if err != nil {
		return err
	}
	for offset := 0; offset+DirentSize <= len(data); offset += DirentSize {
		slot := data[offset : offset+DirentSize]
		if slot[0] == '.' && slot[1] == '.' && slot[2] == ' ' {
			copy(slot, encodeShortDirent(dotdotShortRaw, slot[11], newParentCluster))
			return d.rewrite(data)
		}
	}
	return verrors.ErrFileSystemCorrupted
}
