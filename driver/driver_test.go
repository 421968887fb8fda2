package driver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkavault/voltfs"
	"github.com/arkavault/voltfs/driver"
	"github.com/arkavault/voltfs/fat"
	"github.com/arkavault/voltfs/iso9660"
	"github.com/arkavault/voltfs/volttest"
)

func mountBlankFAT(t *testing.T) *fat.Volume {
	t.Helper()
	image := volttest.NewBlankImage(t, 512, 8192)
	vol, err := fat.Format(image, fat.FormatOptions{
		TotalSectors:   8192,
		BytesPerSector: 512,
		Label:          "DRVTEST",
		Force16:        true,
	})
	require.NoError(t, err)
	return vol
}

// TestBaseDriverWalksDeeplyNestedPathOnFAT drives spec.md's deep-nesting
// scenario (level2/level3/.../level8.txt) through BaseDriver's generic
// path-walk against a FAT volume, composing fat.Directory's single-component
// Lookup one path segment at a time.
func TestBaseDriverWalksDeeplyNestedPathOnFAT(t *testing.T) {
	vol := mountBlankFAT(t)
	drv := driver.New(vol, voltfs.MountFlagsAllowAll)

	const depth = 8
	path := ""
	for i := 2; i <= depth; i++ {
		path += "/" + componentName(i)
		require.NoErrorf(t, drv.MkdirAll(path, 0o755), "MkdirAll(%q)", path)
	}

	filePath := path + "/level8.txt"
	require.NoError(t, drv.WriteFile(filePath, []byte("reached the bottom"), 0o644))

	data, err := drv.ReadFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, "reached the bottom", string(data))

	stat, err := drv.Stat(path)
	require.NoError(t, err)
	assert.True(t, stat.IsDir())
}

func componentName(n int) string {
	switch n {
	case 2:
		return "level2"
	case 3:
		return "level3"
	case 4:
		return "level4"
	case 5:
		return "level5"
	case 6:
		return "level6"
	case 7:
		return "level7"
	default:
		return "level8"
	}
}

func TestBaseDriverRejectsMissingIntermediateDirectory(t *testing.T) {
	vol := mountBlankFAT(t)
	drv := driver.New(vol, voltfs.MountFlagsAllowAll)

	_, err := drv.ReadFile("/nope/also/nope.txt")
	assert.Error(t, err)
}

func TestBaseDriverWalksDeeplyNestedPathOnISO(t *testing.T) {
	content := []byte("iso deep content")
	image := volttest.BuildISOImage(t, []volttest.ISOEntry{
		{
			Name:  "LEVEL2",
			IsDir: true,
			Children: []volttest.ISOEntry{
				{
					Name:  "LEVEL3",
					IsDir: true,
					Children: []volttest.ISOEntry{
						{Name: "DEEP.TXT", Content: content},
					},
				},
			},
		},
	})

	vol, err := iso9660.Mount(image, voltfs.MountFlagsAllowRead)
	require.NoError(t, err)

	drv := driver.New(vol, voltfs.MountFlagsAllowRead)

	data, err := drv.ReadFile("/LEVEL2/LEVEL3/DEEP.TXT")
	require.NoError(t, err)
	assert.Equal(t, content, data)

	_, err = drv.OpenFile("/LEVEL2/LEVEL3/DEEP.TXT", voltfs.O_WRONLY, 0)
	assert.Error(t, err, "ISO 9660 mounts must reject writes")
}
