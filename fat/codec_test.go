package fat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortNameToRawPadsAndUppercases(t *testing.T) {
	raw, err := shortNameToRaw("HELLO.TXT")
	require.NoError(t, err)

	assert.Equal(t, "HELLO   TXT", string(raw[:]))
}

func TestEncodeShortDirentRoundTripsFirstClusterAndAttrs(t *testing.T) {
	raw, err := shortNameToRaw("FILE.TXT")
	require.NoError(t, err)

	slot := encodeShortDirent(raw, AttrArchived, ClusterID(0x00020003))
	require.Len(t, slot, DirentSize)

	assert.Equal(t, "FILE    TXT", string(slot[0:11]))
	assert.Equal(t, uint8(AttrArchived), slot[11])

	high := uint16(slot[21])<<8 | uint16(slot[20])
	low := uint16(slot[27])<<8 | uint16(slot[26])
	assert.Equal(t, uint16(0x0002), high)
	assert.Equal(t, uint16(0x0003), low)
}

func TestRawLFNEntryEncodeDecodeRoundTrip(t *testing.T) {
	entries := BuildLFNEntries("round trip name.txt", 0x7a)
	require.NotEmpty(t, entries)

	for _, original := range entries {
		slot := encodeRawLFNEntry(original)
		decoded, err := decodeRawLFNEntry(slot)
		require.NoError(t, err)
		assert.Equal(t, original, decoded)
	}
}

func TestDecodeRawLFNEntryRejectsWrongSizedSlot(t *testing.T) {
	_, err := decodeRawLFNEntry(make([]byte, DirentSize-1))
	assert.Error(t, err)
}
