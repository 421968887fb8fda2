package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackCHSRoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 62, 63, 64, 1000000, chsCeiling}
	for _, lba := range cases {
		packed := packCHS(lba)
		got := unpackCHS(packed)
		assert.Equalf(t, lba, got, "packCHS/unpackCHS round trip for lba=%d", lba)
	}
}

func TestPackStartCHSSentinel(t *testing.T) {
	got := packStartCHS(chsCeiling + 1)
	assert.Equal(t, startCHSSentinel, got)
}

func TestPackEndCHSSentinel(t *testing.T) {
	got := packEndCHS(chsCeiling + 1)
	assert.Equal(t, endCHSSentinel, got)
}

func TestUnpackCHSSentinelReturnsOverflowMarker(t *testing.T) {
	assert.Equal(t, uint32(chsCeiling+1), unpackCHS(startCHSSentinel))
	assert.Equal(t, uint32(chsCeiling+1), unpackCHS(endCHSSentinel))
}

func TestEntryIsEmpty(t *testing.T) {
	var e Entry
	assert.True(t, e.IsEmpty(), "zero-value Entry should be empty")
	e.SystemID = SystemIDFAT16Large
	assert.False(t, e.IsEmpty(), "Entry with a system ID should not be empty")
}

func TestEntryIsExtended(t *testing.T) {
	e := Entry{SystemID: SystemIDExtendedCHS}
	assert.True(t, e.IsExtended(), "SystemIDExtendedCHS should be extended")
	e.SystemID = SystemIDExtendedLBA
	assert.True(t, e.IsExtended(), "SystemIDExtendedLBA should be extended")
	e.SystemID = SystemIDFAT32
	assert.False(t, e.IsExtended(), "SystemIDFAT32 should not be extended")
}

func TestParseTableRejectsBadSignature(t *testing.T) {
	sector := make([]byte, SectorSize)
	_, err := parseTable(sector)
	assert.Error(t, err, "expected error for missing 0xAA55 signature")
}

func TestTableEncodeParseRoundTrip(t *testing.T) {
	var table Table
	table.Entries[0] = Entry{
		BootIndicator: 0x80,
		SystemID:      SystemIDFAT16Large,
		StartingLBA:   2048,
		TotalSectors:  204800,
	}
	table.Entries[0].recomputeCHS()

	encoded := table.encode()
	decoded, err := parseTable(encoded)
	require.NoError(t, err)
	assert.Equal(t, table.Entries[0], decoded.Entries[0])
}

func TestRecomputeCHSFlipsExtendedSystemIDOnOverflow(t *testing.T) {
	e := Entry{SystemID: SystemIDExtendedCHS, StartingLBA: 0, TotalSectors: chsCeiling + 100}
	e.recomputeCHS()
	assert.Equal(t, uint8(SystemIDExtendedLBA), e.SystemID, "expected SystemIDExtendedLBA after overflow")

	e2 := Entry{SystemID: SystemIDExtendedLBA, StartingLBA: 0, TotalSectors: 100}
	e2.recomputeCHS()
	assert.Equal(t, uint8(SystemIDExtendedCHS), e2.SystemID, "expected SystemIDExtendedCHS within range")
}
