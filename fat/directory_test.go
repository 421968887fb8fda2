package fat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkavault/voltfs"
)

func TestDirectoryCreateAndLookup(t *testing.T) {
	vol := formatSmallFAT16(t)

	require.NoError(t, vol.root.Create("hello.txt", 0, 0))

	entry, err := vol.root.Lookup("HELLO.TXT")
	require.NoError(t, err, "lookup should be case-insensitive")
	assert.Equal(t, "hello.txt", entry.Name())
	assert.False(t, entry.IsDir())

	_, err = vol.root.Lookup("nonexistent")
	assert.ErrorIs(t, err, voltfs.ErrNotFound)

	err = vol.root.Create("hello.txt", 0, 0)
	assert.ErrorIs(t, err, voltfs.ErrExists)
}

func TestDirectoryCreateLongNameGeneratesLFNRun(t *testing.T) {
	vol := formatSmallFAT16(t)

	longName := "a quite long file name with spaces.txt"
	require.NoError(t, vol.root.Create(longName, 0, 0))

	entry, err := vol.root.Lookup(longName)
	require.NoError(t, err)
	assert.Equal(t, longName, entry.Name())

	entries, err := vol.root.ReadAll()
	require.NoError(t, err)
	assert.Len(t, entries, 1, "one long name should still resolve to a single logical entry")
}

func TestDirectorySubdirectoryNestingAndLookup(t *testing.T) {
	vol := formatSmallFAT16(t)

	require.NoError(t, vol.root.CreateSubdirectory("level2", 0))
	l2Entry, err := vol.root.Lookup("level2")
	require.NoError(t, err)
	assert.True(t, l2Entry.IsDir())

	l2 := newClusterDirectory(vol, l2Entry.FirstCluster)
	require.NoError(t, l2.CreateSubdirectory("level3", 0))
	l3Entry, err := l2.Lookup("level3")
	require.NoError(t, err)
	assert.True(t, l3Entry.IsDir())

	l3 := newClusterDirectory(vol, l3Entry.FirstCluster)
	require.NoError(t, l3.Create("deep.txt", 0, 0))

	children, err := l3.ReadAll()
	require.NoError(t, err)

	var names []string
	for _, c := range children {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, ".")
	assert.Contains(t, names, "..")
	assert.Contains(t, names, "deep.txt")
}

func TestDirectoryRemoveFreesEntryAndRejectsNonEmptyDir(t *testing.T) {
	vol := formatSmallFAT16(t)

	require.NoError(t, vol.root.Create("a.txt", 0, 0))
	require.NoError(t, vol.root.Remove("a.txt"))
	_, err := vol.root.Lookup("a.txt")
	assert.ErrorIs(t, err, voltfs.ErrNotFound)

	require.NoError(t, vol.root.CreateSubdirectory("sub", 0))
	subEntry, err := vol.root.Lookup("sub")
	require.NoError(t, err)
	sub := newClusterDirectory(vol, subEntry.FirstCluster)
	require.NoError(t, sub.Create("child.txt", 0, 0))

	err = vol.root.Remove("sub")
	assert.ErrorIs(t, err, voltfs.ErrDirectoryNotEmpty)

	require.NoError(t, sub.Remove("child.txt"))
	require.NoError(t, vol.root.Remove("sub"))
}

func TestDirectoryRenameSameParent(t *testing.T) {
	vol := formatSmallFAT16(t)

	require.NoError(t, vol.root.Create("old.txt", 0, 0))
	require.NoError(t, vol.root.Rename("old.txt", "new.txt"))

	_, err := vol.root.Lookup("old.txt")
	assert.ErrorIs(t, err, voltfs.ErrNotFound)

	entry, err := vol.root.Lookup("new.txt")
	require.NoError(t, err)
	assert.Equal(t, "new.txt", entry.Name())
}

// TestDirectoryRenameToCrossParentMovesAndRewritesDotDot drives spec.md's
// cross-parent move requirement: moving a subdirectory from one parent to
// another must relink its own ".." entry, not just its name, or a later
// "cd .." from inside the moved tree would land in the wrong place.
func TestDirectoryRenameToCrossParentMovesAndRewritesDotDot(t *testing.T) {
	vol := formatSmallFAT16(t)

	require.NoError(t, vol.root.CreateSubdirectory("src", 0))
	srcEntry, err := vol.root.Lookup("src")
	require.NoError(t, err)
	src := newClusterDirectory(vol, srcEntry.FirstCluster)

	require.NoError(t, vol.root.CreateSubdirectory("dst", 0))
	dstEntry, err := vol.root.Lookup("dst")
	require.NoError(t, err)
	dst := newClusterDirectory(vol, dstEntry.FirstCluster)

	require.NoError(t, src.CreateSubdirectory("moved", 0))
	movedEntry, err := src.Lookup("moved")
	require.NoError(t, err)

	require.NoError(t, src.RenameTo("moved", dst, "moved"))

	_, err = src.Lookup("moved")
	assert.ErrorIs(t, err, voltfs.ErrNotFound, "entry should no longer be visible under the old parent")

	relocated, err := dst.Lookup("moved")
	require.NoError(t, err)
	assert.Equal(t, movedEntry.FirstCluster, relocated.FirstCluster, "move must preserve the data cluster chain")

	moved := newClusterDirectory(vol, relocated.FirstCluster)
	dotdot, err := moved.Lookup("..")
	require.NoError(t, err)
	assert.Equal(t, dstEntry.FirstCluster, dotdot.FirstCluster, "moved directory's .. must now point at the new parent")
}

func TestDirectoryRenameToCrossParentRejectsExistingName(t *testing.T) {
	vol := formatSmallFAT16(t)

	require.NoError(t, vol.root.CreateSubdirectory("src", 0))
	srcEntry, _ := vol.root.Lookup("src")
	src := newClusterDirectory(vol, srcEntry.FirstCluster)

	require.NoError(t, vol.root.CreateSubdirectory("dst", 0))
	dstEntry, _ := vol.root.Lookup("dst")
	dst := newClusterDirectory(vol, dstEntry.FirstCluster)

	require.NoError(t, src.Create("file.txt", 0, 0))
	require.NoError(t, dst.Create("file.txt", 0, 0))

	err := src.RenameTo("file.txt", dst, "file.txt")
	assert.ErrorIs(t, err, voltfs.ErrExists)

	_, err = src.Lookup("file.txt")
	assert.NoError(t, err, "failed move must leave the source entry in place")
}
