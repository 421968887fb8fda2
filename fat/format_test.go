package fat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkavault/voltfs"
	"github.com/arkavault/voltfs/volttest"
)

func formatSmallFAT16(t *testing.T) *Volume {
	t.Helper()
	image := volttest.NewBlankImage(t, 512, 8192) // 4 MiB, well inside the FAT16 range
	vol, err := Format(image, FormatOptions{
		TotalSectors:   8192,
		BytesPerSector: 512,
		Label:          "VOLTEST",
		Force16:        true,
	})
	require.NoError(t, err)
	return vol
}

func formatSmallFAT32(t *testing.T) *Volume {
	t.Helper()
	image := volttest.NewBlankImage(t, 512, 1<<18) // 128 MiB, inside the FAT32 range
	vol, err := Format(image, FormatOptions{
		TotalSectors:   1 << 18,
		BytesPerSector: 512,
		Label:          "VOLTEST32",
		Force32:        true,
	})
	require.NoError(t, err)
	return vol
}

func TestFormatFAT16ProducesMountableCleanVolume(t *testing.T) {
	vol := formatSmallFAT16(t)
	assert.False(t, vol.BootSector.IsFAT32())
	assert.Equal(t, "VOLTEST", vol.BootSector.Label())
	assert.NoError(t, vol.CheckDisk(), "a freshly formatted volume should have no corruption")

	entries, err := vol.root.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, entries, "freshly formatted root directory should be empty")
}

func TestFormatFAT32ProducesMountableCleanVolume(t *testing.T) {
	vol := formatSmallFAT32(t)
	assert.True(t, vol.BootSector.IsFAT32())
	assert.NoError(t, vol.CheckDisk())
}

func TestFormatRejectsMissingTotalSectors(t *testing.T) {
	image := volttest.NewBlankImage(t, 512, 16)
	_, err := Format(image, FormatOptions{BytesPerSector: 512})
	assert.Error(t, err)
}

func TestFormatImageViaDriverImplementation(t *testing.T) {
	vol := formatSmallFAT16(t)

	image := volttest.NewBlankImage(t, 512, 4096)
	driverErr := vol.FormatImage(image, voltfs.FSStat{
		TotalBlocks: 4096,
		BlockSize:   512,
		Label:       "REFMTD",
	})
	require.NoError(t, driverErr)
	assert.Equal(t, "REFMTD", vol.BootSector.Label())
}
