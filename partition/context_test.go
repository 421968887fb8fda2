package partition

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkavault/voltfs/volttest"
)

const testDiskSectors = 65536 // 32 MiB at 512 bytes/sector

// writeEntryAt writes a 16-byte Entry into a raw sector buffer at one of the
// four MBR slots.
func writeEntryAt(sector []byte, slot int, e Entry) {
	e.encode(sector[partitionTableOffset+slot*entrySize : partitionTableOffset+(slot+1)*entrySize])
}

func TestMountParsesPrimaryPartitions(t *testing.T) {
	img := volttest.NewBlankImage(t, SectorSize, testDiskSectors)

	mbrSector := make([]byte, SectorSize)
	p0 := Entry{BootIndicator: 0x80, SystemID: SystemIDFAT16Large, StartingLBA: 63, TotalSectors: 2048}
	p0.recomputeCHS()
	writeEntryAt(mbrSector, 0, p0)
	mbrSector[signatureOffset] = 0x55
	mbrSector[signatureOffset+1] = 0xAA

	_, err := img.Write(mbrSector)
	require.NoError(t, err)

	ctx, err := Mount(img, int64(testDiskSectors)*SectorSize)
	require.NoError(t, err)

	s, err := ctx.Bind("partition0")
	require.NoError(t, err)
	assert.Equal(t, int64(p0.TotalSectors)*SectorSize, s.Size())

	_, err = ctx.Bind("partition1")
	assert.Error(t, err, "expected error binding unoccupied partition1")
}

func TestMountRejectsBadSignature(t *testing.T) {
	img := volttest.NewBlankImage(t, SectorSize, testDiskSectors)
	_, err := Mount(img, int64(testDiskSectors)*SectorSize)
	assert.Error(t, err, "expected error mounting a disk with no 0xAA55 signature")
}

func TestStreamRejectsOutOfBoundsIO(t *testing.T) {
	img := volttest.NewBlankImage(t, SectorSize, 16)
	s := newStream(img, 0, SectorSize*4)

	buf := make([]byte, SectorSize)
	_, err := s.Seek(int64(SectorSize)*4+1, io.SeekStart)
	assert.Error(t, err, "expected error seeking past partition end")

	_, err = s.Seek(-1, io.SeekStart)
	assert.Error(t, err, "expected error seeking before partition start")

	_, err = s.Seek(int64(SectorSize)*4, io.SeekStart)
	require.NoError(t, err)

	n, err := s.Read(buf)
	assert.Equal(t, 0, n)
	assert.Error(t, err, "read at end of partition should return io.EOF")
}

func TestParseName(t *testing.T) {
	cases := []struct {
		name       string
		wantPrefix string
		wantID     int
		wantErr    bool
	}{
		{"partition0", prefixPartition, 0, false},
		{"partition3", prefixPartition, 3, false},
		{"extended", prefixExtended, 0, false},
		{"logical0", prefixLogical, 0, false},
		{"logical12", prefixLogical, 12, false},
		{"extended1", "", 0, true},
		{"bogus", "", 0, true},
		{"partition", "", 0, true},
	}
	for _, c := range cases {
		prefix, id, err := parseName(c.name)
		if c.wantErr {
			assert.Errorf(t, err, "parseName(%q): expected error", c.name)
			continue
		}
		if !assert.NoErrorf(t, err, "parseName(%q)", c.name) {
			continue
		}
		assert.Equalf(t, c.wantPrefix, prefix, "parseName(%q) prefix", c.name)
		assert.Equalf(t, c.wantID, id, "parseName(%q) id", c.name)
	}
}

func TestDefaultSystemIDForSize(t *testing.T) {
	cases := []struct {
		size int64
		want uint8
	}{
		{1024 * 1024, SystemIDFAT12},
		{4 * 1024 * 1024, SystemIDFAT12},
		{8 * 1024 * 1024, SystemIDFAT16Small},
		{100 * 1024 * 1024, SystemIDFAT16Large},
		{600 * 1024 * 1024, SystemIDFAT32},
	}
	for _, c := range cases {
		assert.Equalf(t, c.want, defaultSystemIDForSize(c.size), "defaultSystemIDForSize(%d)", c.size)
	}
}
