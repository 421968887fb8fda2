package iso9660

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkavault/voltfs"
	"github.com/arkavault/voltfs/volttest"
)

func deepTestTree(content []byte) []volttest.ISOEntry {
	return []volttest.ISOEntry{
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
		{Name: "TOP.TXT", Content: []byte("top level file")},
	}
}

func TestMountFindsPrimaryDescriptorAndRootDirectory(t *testing.T) {
	image := volttest.BuildISOImage(t, deepTestTree([]byte("hello from the deep")))

	vol, err := Mount(image, voltfs.MountFlagsAllowRead)
	require.NoError(t, err)
	assert.False(t, vol.joliet)

	root := vol.directoryOf(vol.rootRecord)
	entries, err := root.ReadAll()
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Identifier)
	}
	assert.Contains(t, names, ".")
	assert.Contains(t, names, "..")
	assert.Contains(t, names, "LEVEL2")
	assert.Contains(t, names, "TOP.TXT")
}

// TestDirectoryLookupWalksNestedPathOneComponentAtATime drives spec.md's
// deep-nesting scenario directly against the engine's own GetObject, the
// same single-component composition driver.BaseDriver relies on.
func TestDirectoryLookupWalksNestedPathOneComponentAtATime(t *testing.T) {
	content := []byte("deep file contents")
	image := volttest.BuildISOImage(t, deepTestTree(content))

	vol, err := Mount(image, voltfs.MountFlagsAllowRead)
	require.NoError(t, err)

	root := vol.GetRootDirectory()

	level2, driverErr := vol.GetObject("LEVEL2", root)
	require.NoError(t, driverErr)

	level3, driverErr := vol.GetObject("LEVEL3", level2)
	require.NoError(t, driverErr)

	deep, driverErr := vol.GetObject("DEEP.TXT", level3)
	require.NoError(t, driverErr)

	stat := deep.Stat()
	assert.False(t, stat.IsDir())
	assert.Equal(t, int64(len(content)), stat.Size)

	buf := make([]byte, BlockSize)
	driverErr = deep.ReadBlocks(0, buf)
	require.NoError(t, driverErr)
	assert.Equal(t, content, buf[:len(content)])
}

func TestGetObjectRejectsLookupOnNonDirectory(t *testing.T) {
	image := volttest.BuildISOImage(t, deepTestTree([]byte("x")))

	vol, err := Mount(image, voltfs.MountFlagsAllowRead)
	require.NoError(t, err)

	root := vol.GetRootDirectory()
	file, driverErr := vol.GetObject("TOP.TXT", root)
	require.NoError(t, driverErr)

	_, driverErr = vol.GetObject("anything", file)
	assert.Error(t, driverErr)
}

func TestCreateObjectAndWritesAlwaysFailReadOnly(t *testing.T) {
	image := volttest.BuildISOImage(t, deepTestTree([]byte("x")))
	vol, err := Mount(image, voltfs.MountFlagsAllowRead)
	require.NoError(t, err)

	_, driverErr := vol.CreateObject("new.txt", vol.GetRootDirectory(), 0)
	assert.Error(t, driverErr)

	root := vol.GetRootDirectory()
	stream := root.(*Stream)
	assert.Error(t, stream.WriteBlocks(0, make([]byte, BlockSize)))
	assert.Error(t, stream.Unlink())
}
