package fat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortNameChecksumIsOrderSensitive(t *testing.T) {
	name := [11]byte{'H', 'E', 'L', 'L', 'O', ' ', ' ', ' ', 'T', 'X', 'T'}
	reordered := [11]byte{'E', 'H', 'L', 'L', 'O', ' ', ' ', ' ', 'T', 'X', 'T'}

	assert.NotEqual(t, ShortNameChecksum(name), ShortNameChecksum(reordered))

	// Same input must always produce the same checksum.
	assert.Equal(t, ShortNameChecksum(name), ShortNameChecksum(name))
}

func TestBuildAndParseLFNRunRoundTrip(t *testing.T) {
	longName := "a quite long file name with spaces.txt"
	checksum := uint8(0x42)

	entries := BuildLFNEntries(longName, checksum)
	require.NotEmpty(t, entries)

	// The entry farthest from the short-name entry (index 0, since entries
	// are on-disk order, highest ordinal first) must carry the "last" marker.
	assert.NotZero(t, entries[0].Ordinal&LastLongEntryMask)

	for _, e := range entries {
		assert.Equal(t, checksum, e.Checksum)
		assert.Equal(t, uint8(AttrLongName), e.AttributeFlags)
	}

	parsed, parsedChecksum, err := ParseLFNRun(entries)
	require.NoError(t, err)
	assert.Equal(t, longName, parsed)
	assert.Equal(t, checksum, parsedChecksum)
}

func TestBuildLFNEntriesSplitsAcrossMultipleSlots(t *testing.T) {
	longName := "this long file name definitely exceeds thirteen characters and spans several LFN slots.txt"
	entries := BuildLFNEntries(longName, 0x11)

	assert.Greater(t, len(entries), 1, "a name this long must span more than one LFN slot")

	parsed, _, err := ParseLFNRun(entries)
	require.NoError(t, err)
	assert.Equal(t, longName, parsed)
}

func TestParseLFNRunRejectsMismatchedChecksums(t *testing.T) {
	entries := BuildLFNEntries("short.txt", 0x01)
	require.NotEmpty(t, entries)
	entries[0].Checksum = 0x02

	_, _, err := ParseLFNRun(entries)
	assert.Error(t, err)
}

func TestParseLFNRunRejectsEmptyInput(t *testing.T) {
	_, _, err := ParseLFNRun(nil)
	assert.Error(t, err)
}

func TestGenerateShortNameKeepsPlainNameWhenItFitsAndIsUnique(t *testing.T) {
	name, err := GenerateShortName("README.TXT", nil)
	require.NoError(t, err)
	assert.Equal(t, "README.TXT", name)
}

func TestGenerateShortNameAssignsNumericTailOnCollision(t *testing.T) {
	existing := map[string]bool{"LONGFI~1.TXT": true}
	name, err := GenerateShortName("longfilename.txt", existing)
	require.NoError(t, err)
	assert.Equal(t, "LONGFI~2.TXT", name)
}

func TestGenerateShortNameAddsTailForNameNeedingLFN(t *testing.T) {
	name, err := GenerateShortName("longfilename.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "LONGFI~1.TXT", name)
}

func TestGenerateShortNameSanitizesInvalidCharacters(t *testing.T) {
	name, err := GenerateShortName("a b+c.txt", nil)
	require.NoError(t, err)
	assert.Contains(t, name, "~1")
}
