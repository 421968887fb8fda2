package fat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkavault/voltfs"
	"github.com/arkavault/voltfs/common"
)

func streamFor(t *testing.T, vol *Volume, name string) *Stream {
	t.Helper()
	entry, err := vol.root.Lookup(name)
	require.NoError(t, err)
	return vol.acquire(vol.root, *entry)
}

func TestStreamResizeGrowsAndShrinksClusterChain(t *testing.T) {
	vol := formatSmallFAT16(t)
	require.NoError(t, vol.root.Create("grow.txt", 0, 0))
	s := streamFor(t, vol, "grow.txt")

	clusterSize := uint64(vol.BootSector.BytesPerCluster)

	require.NoError(t, s.Resize(clusterSize*3))
	chain, err := s.chain()
	require.NoError(t, err)
	assert.Len(t, chain, 3)

	require.NoError(t, s.Resize(clusterSize))
	chain, err = s.chain()
	require.NoError(t, err)
	assert.Len(t, chain, 1)

	require.NoError(t, s.Resize(0))
	assert.Equal(t, ClusterID(0), s.firstCluster)
}

func TestStreamWriteThenReadBlocksRoundTrip(t *testing.T) {
	vol := formatSmallFAT16(t)
	require.NoError(t, vol.root.Create("data.bin", 0, 0))
	s := streamFor(t, vol, "data.bin")

	bytesPerSector := uint64(vol.BootSector.BytesPerSector)
	require.NoError(t, s.Resize(bytesPerSector))

	payload := make([]byte, bytesPerSector)
	for i := range payload {
		payload[i] = byte(i)
	}

	require.NoError(t, s.WriteBlocks(common.LogicalBlock(0), payload))

	readBack := make([]byte, bytesPerSector)
	require.NoError(t, s.ReadBlocks(common.LogicalBlock(0), readBack))
	assert.Equal(t, payload, readBack)
}

func TestStreamUnlinkRemovesEntryFromParent(t *testing.T) {
	vol := formatSmallFAT16(t)
	require.NoError(t, vol.root.Create("gone.txt", 0, 0))
	s := streamFor(t, vol, "gone.txt")

	require.NoError(t, s.Unlink())

	_, err := vol.root.Lookup("gone.txt")
	assert.ErrorIs(t, err, voltfs.ErrNotFound)
}

func TestStreamChmodTogglesReadOnlyAttribute(t *testing.T) {
	vol := formatSmallFAT16(t)
	require.NoError(t, vol.root.Create("ro.txt", 0, 0))
	s := streamFor(t, vol, "ro.txt")

	require.NoError(t, s.Chmod(0o444))
	assert.NotZero(t, s.attrFlags&AttrReadOnly)

	require.NoError(t, s.Chmod(0o644))
	assert.Zero(t, s.attrFlags&AttrReadOnly)
}

func TestStreamChownIsNoOp(t *testing.T) {
	vol := formatSmallFAT16(t)
	require.NoError(t, vol.root.Create("owned.txt", 0, 0))
	s := streamFor(t, vol, "owned.txt")

	assert.NoError(t, s.Chown(1000, 1000))
}
