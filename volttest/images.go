package volttest

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// NewBlankImage returns a zero-filled, read-write seekable image of exactly
// `sectorSize * totalSectors` bytes. Useful as the backing store for Format()
// calls in tests, where the on-disk layout doesn't exist yet.
func NewBlankImage(t *testing.T, sectorSize, totalSectors uint) io.ReadWriteSeeker {
	return bytesextra.NewReadWriteSeeker(make([]byte, sectorSize*totalSectors))
}

// LoadDiskImage wraps a raw disk image fixture in a stream suitable for
// mounting.
//
//   - Writes to the stream do not affect `imageBytes`, since the slice is
//     copied first.
//   - While the stream can be written to, its size is fixed to
//     `sectorSize * totalSectors`. Attempting to write past the end of this
//     buffer will trigger an error.
func LoadDiskImage(
	t *testing.T, imageBytes []byte, sectorSize, totalSectors uint,
) io.ReadWriteSeeker {
	require.Greater(t, len(imageBytes), 0, "image fixture is empty")
	require.Equal(
		t,
		totalSectors*sectorSize,
		uint(len(imageBytes)),
		"image is wrong size",
	)

	buf := make([]byte, len(imageBytes))
	copy(buf, imageBytes)
	return bytesextra.NewReadWriteSeeker(buf)
}
