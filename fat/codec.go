package fat

import (
	"encoding/binary"
	"strings"
	"syscall"

	"github.com/arkavault/voltfs"
	"github.com/arkavault/voltfs/common"
	"github.com/arkavault/voltfs/fat/oemconv"
)

// toCommonClusterID adapts a fat.ClusterID (uint32, matching the on-disk FAT
// entry width) to the common package's cluster-addressing type, which
// ClusterStream's Read/Write expect.
func toCommonClusterID(c ClusterID) common.ClusterID {
	return common.ClusterID(c)
}

// decodeRawLFNEntry parses one 32-byte directory slot known to hold a VFAT
// long-name entry.
func decodeRawLFNEntry(slot []byte) (RawLFNEntry, error) {
	if len(slot) != DirentSize {
		return RawLFNEntry{}, voltfs.NewDriverErrorWithMessage(syscall.EINVAL, "short LFN slot")
	}

	entry := RawLFNEntry{
		Ordinal:        slot[0],
		AttributeFlags: slot[11],
		EntryType:      slot[12],
		Checksum:       slot[13],
	}
	for i := 0; i < 5; i++ {
		entry.Name1[i] = binary.LittleEndian.Uint16(slot[1+2*i:])
	}
	entry.FirstClusterLow = binary.LittleEndian.Uint16(slot[26:])
	for i := 0; i < 6; i++ {
		entry.Name2[i] = binary.LittleEndian.Uint16(slot[14+2*i:])
	}
	for i := 0; i < 2; i++ {
		entry.Name3[i] = binary.LittleEndian.Uint16(slot[28+2*i:])
	}
	return entry, nil
}

// encodeRawLFNEntry serializes a RawLFNEntry back into its 32-byte on-disk
// form.
func encodeRawLFNEntry(entry RawLFNEntry) []byte {
	slot := make([]byte, DirentSize)
	slot[0] = entry.Ordinal
	for i, r := range entry.Name1 {
		binary.LittleEndian.PutUint16(slot[1+2*i:], r)
	}
	slot[11] = entry.AttributeFlags
	slot[12] = entry.EntryType
	slot[13] = entry.Checksum
	for i, r := range entry.Name2 {
		binary.LittleEndian.PutUint16(slot[14+2*i:], r)
	}
	binary.LittleEndian.PutUint16(slot[26:], entry.FirstClusterLow)
	for i, r := range entry.Name3 {
		binary.LittleEndian.PutUint16(slot[28+2*i:], r)
	}
	return slot
}

// shortNameToRaw splits a "BASE.EXT" short name (as returned by
// GenerateShortName) into its padded 11-byte on-disk form, OEM-encoding each
// component.
func shortNameToRaw(shortName string) ([11]byte, error) {
	var raw [11]byte
	for i := range raw {
		raw[i] = ' '
	}

	base := shortName
	ext := ""
	if idx := strings.LastIndex(shortName, "."); idx >= 0 {
		base = shortName[:idx]
		ext = shortName[idx+1:]
	}

	baseOEM, err := oemconv.ToOEM(base)
	if err != nil {
		return raw, voltfs.NewDriverErrorWithMessage(syscall.EINVAL, err.Error())
	}
	extOEM, err := oemconv.ToOEM(ext)
	if err != nil {
		return raw, voltfs.NewDriverErrorWithMessage(syscall.EINVAL, err.Error())
	}

	copy(raw[:8], baseOEM)
	copy(raw[8:], extOEM)

	// 0xE5 in the first byte is reserved to mark a deleted entry; a short
	// name that genuinely starts with that OEM byte is stored with 0x05
	// instead, per the FAT spec's escape convention.
	if raw[0] == 0xE5 {
		raw[0] = 0x05
	}
	return raw, nil
}

// encodeShortDirent builds the 32-byte on-disk short-name directory entry.
// Timestamps and the file size are left zeroed; Stream.writeBackEntry fills
// in the size afterwards, and no caller fills in the timestamps.
func encodeShortDirent(shortRaw [11]byte, attrFlags uint8, firstCluster ClusterID) []byte {
	slot := make([]byte, DirentSize)
	copy(slot[0:8], shortRaw[0:8])
	copy(slot[8:11], shortRaw[8:11])
	slot[11] = attrFlags
	binary.LittleEndian.PutUint16(slot[20:], uint16(uint32(firstCluster)>>16))
	binary.LittleEndian.PutUint16(slot[26:], uint16(uint32(firstCluster)))
	return slot
}
