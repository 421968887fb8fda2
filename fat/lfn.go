package fat

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/arkavault/voltfs/errors"
	"github.com/arkavault/voltfs/fat/oemconv"
)

// AttrLongName is the attribute byte value (ReadOnly|Hidden|System|VolumeLabel)
// that marks a directory entry as a VFAT long-name entry rather than a real
// 8.3 entry. No single one of those four bits means this on its own; only
// the combination does.
const AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeLabel

// LastLongEntryMask, OR'd into the sequence number of the LFN entry farthest
// from the short-name entry (which is written *first* on disk, since the run
// is stored back-to-front), marking it as the last (highest-numbered) entry
// of the run.
const LastLongEntryMask = 0x40

// maxLFNOrdinal is the largest sequence number a run can use; 13 UCS-2 code
// units per entry times 20 entries (260) covers the 255-character limit
// Windows imposes on long names; 19 entries (247) would not.
const maxLFNOrdinal = 20

// charsPerLFNEntry is the number of UTF-16 code units packed into a single
// 32-byte long-name directory entry (5 + 6 + 2).
const charsPerLFNEntry = 13

// RawLFNEntry is the on-disk layout of one VFAT long-name directory entry.
type RawLFNEntry struct {
	Ordinal         uint8
	Name1           [5]uint16
	AttributeFlags  uint8
	EntryType       uint8
	Checksum        uint8
	Name2           [6]uint16
	FirstClusterLow uint16
	Name3           [2]uint16
}

// IsLongNameEntry reports whether a raw attribute byte marks this 32-byte
// slot as part of an LFN run rather than a real short-name entry.
func IsLongNameEntry(attributeFlags uint8) bool {
	return attributeFlags&AttrLongName == AttrLongName
}

// ShortNameChecksum computes the checksum VFAT stores in every LFN entry of
// a run, computed over the raw 11-byte short name it's attached to. Every
// long-name entry in the run must carry the same checksum as the short entry
// that follows it; this is how a reader notices a run was left orphaned by a
// non-LFN-aware tool that modified the short entry without touching the long
// ones.
func ShortNameChecksum(rawName [11]byte) uint8 {
	var sum uint8
	for _, b := range rawName {
		// Rotate right one bit, then add the next byte. This is the exact
		// algorithm Microsoft's FAT spec defines; there's no deeper meaning
		// to the rotate, it just needs to be order-sensitive.
		sum = ((sum & 1) << 7) | (sum >> 1)
		sum += b
	}
	return sum
}

// runes extracts the up-to-13 UTF-16 code units packed into a raw LFN
// entry, stopping at the first NUL terminator. 0xFFFF is padding after the
// NUL and must also stop extraction.
func (e *RawLFNEntry) runes() []uint16 {
	all := make([]uint16, 0, charsPerLFNEntry)
	all = append(all, e.Name1[:]...)
	all = append(all, e.Name2[:]...)
	all = append(all, e.Name3[:]...)

	for i, r := range all {
		if r == 0 || r == 0xFFFF {
			return all[:i]
		}
	}
	return all
}

// ParseLFNRun reassembles the long name from a run of raw LFN entries. The
// caller must supply them in on-disk order (as read sequentially from the
// directory, i.e. highest ordinal first) -- this function handles reversing
// them into name order itself.
func ParseLFNRun(entries []RawLFNEntry) (string, uint8, error) {
	if len(entries) == 0 {
		return "", 0, errors.ErrInvalidArgument
	}
	if len(entries) > maxLFNOrdinal {
		return "", 0, errors.ErrNameTooLong
	}

	checksum := entries[0].Checksum
	var codeUnits []uint16

	// Entries are stored highest-ordinal-first; name order is the reverse.
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if entry.Checksum != checksum {
			return "", 0, errors.ErrFileSystemCorrupted.WithMessage(
				"LFN run has mismatched checksums")
		}
		codeUnits = append(codeUnits, entry.runes()...)
	}

	return string(utf16.Decode(codeUnits)), checksum, nil
}

// BuildLFNEntries splits `longName` into a run of LFN entries carrying
// `checksum`, returned in on-disk order (highest ordinal first, i.e. the
// entry immediately preceding the short-name entry comes last in the slice).
func BuildLFNEntries(longName string, checksum uint8) []RawLFNEntry {
	codeUnits := utf16.Encode([]rune(longName))

	numEntries := (len(codeUnits) + charsPerLFNEntry - 1) / charsPerLFNEntry
	if numEntries == 0 {
		numEntries = 1
	}

	entries := make([]RawLFNEntry, numEntries)
	for i := 0; i < numEntries; i++ {
		start := i * charsPerLFNEntry
		chunk := make([]uint16, charsPerLFNEntry)
		for j := range chunk {
			chunk[j] = 0xFFFF
		}
		for j := 0; j < charsPerLFNEntry && start+j < len(codeUnits); j++ {
			chunk[j] = codeUnits[start+j]
		}
		// The chunk holding the final code unit gets a real NUL terminator
		// rather than 0xFFFF padding immediately after the name, unless the
		// name fills the chunk exactly.
		remaining := len(codeUnits) - start
		if remaining < charsPerLFNEntry {
			chunk[remaining] = 0
		}

		entry := RawLFNEntry{
			Ordinal:        uint8(i + 1),
			AttributeFlags: AttrLongName,
			Checksum:       checksum,
		}
		copy(entry.Name1[:], chunk[0:5])
		copy(entry.Name2[:], chunk[5:11])
		copy(entry.Name3[:], chunk[11:13])
		entries[numEntries-1-i] = entry
	}
	entries[0].Ordinal |= LastLongEntryMask
	return entries
}

// numericTailCandidate formats the 8.3-legal short name for the `n`th
// disambiguation attempt: "LONGFI~1.TXT", "LONGFI~2.TXT", and so on. Past
// n=9 the truncated base shrinks to keep room for longer tail numbers, down
// to a single base character (so tails up to six digits still fit in eight
// characters), matching the scheme real FAT drivers use.
func numericTailCandidate(base, ext string, n int) string {
	suffix := "~" + strconv.Itoa(n)
	maxBaseLen := 8 - len(suffix)
	if maxBaseLen < 1 {
		maxBaseLen = 1
	}
	truncated := base
	if len(truncated) > maxBaseLen {
		truncated = truncated[:maxBaseLen]
	}
	return truncated + suffix + ext
}

// GenerateShortName derives an 8.3 short name for `longName` that isn't
// already present in `existingShortNames` (upper-cased, dot-joined, e.g.
// "LONGFI~1.TXT"). When the long name needs no truncation or character
// substitution (upper-casing alone is allowed), the upper-cased name with no
// tail is tried first; otherwise, or if that is taken, numeric tails ~1
// through ~999999 are tried in order.
func GenerateShortName(longName string, existingShortNames map[string]bool) (string, error) {
	base, ext := splitBaseExt(longName)
	base = sanitizeShortNameComponent(base, 8)
	ext = sanitizeShortNameComponent(ext, 3)

	plain := base
	if ext != "" {
		plain = base + "." + ext
	}

	needsTail := longNameNeedsTail(longName, base, ext)
	if !needsTail && !existingShortNames[strings.ToUpper(plain)] {
		return strings.ToUpper(plain), nil
	}

	extSuffix := ""
	if ext != "" {
		extSuffix = "." + ext
	}

	for n := 1; n < 1000000; n++ {
		candidate := strings.ToUpper(numericTailCandidate(base, extSuffix, n))
		if !existingShortNames[candidate] {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique short name for %q", longName)
}

func longNameNeedsTail(longName, base, ext string) bool {
	upperLong := strings.ToUpper(longName)
	rebuilt := base
	if ext != "" {
		rebuilt += "." + ext
	}
	if strings.ToUpper(rebuilt) != upperLong {
		return true
	}
	for _, r := range longName {
		if r > 0x7F || !oemconv.IsValidShortNameByte(byte(strings.ToUpper(string(r))[0])) {
			return true
		}
	}
	return false
}

func splitBaseExt(name string) (string, string) {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}

func sanitizeShortNameComponent(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if r == ' ' || r == '.' {
			continue
		}
		upper := strings.ToUpper(string(r))
		if len(upper) == 1 && oemconv.IsValidShortNameByte(upper[0]) {
			b.WriteString(upper)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	return out
}
