package volttest

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/arkavault/voltfs/iso9660"
)

// ISOEntry describes one file or directory to place in a test ISO 9660
// image tree built by BuildISOImage. IsDir distinguishes a directory (whose
// Children are recursed into) from a file (whose Content becomes its
// extent).
type ISOEntry struct {
	Name     string
	IsDir    bool
	Content  []byte
	Children []ISOEntry
}

// isoNode is the builder's internal view of one ISOEntry, annotated with the
// LBA and extent size it's assigned during layout.
type isoNode struct {
	entry    ISOEntry
	parent   *isoNode
	children []*isoNode
	lba      uint32
	size     uint32
	data     []byte
}

// BuildISOImage assembles a minimal, single-primary-descriptor ISO 9660
// image (no path tables, no Joliet escape sequence -- Mount never reads
// either) containing `root` at the top level, and returns it ready to pass
// to iso9660.Mount. Layout is two-pass: every directory node is assigned an
// LBA breadth-first before any file content is laid out, because a parent
// directory's own extent has to embed its children's LBAs before those
// children's extents can be written. Each directory here is assumed to fit
// in a single BlockSize extent, which is enough for every synthetic test
// tree this module's tests build; BuildISOImage fails the test loudly via
// require if that assumption doesn't hold.
func BuildISOImage(t *testing.T, root []ISOEntry) io.ReadWriteSeeker {
	t.Helper()

	rootNode := &isoNode{entry: ISOEntry{IsDir: true, Children: root}}
	buildISOTree(rootNode)

	const pvdLBA = iso9660.SystemAreaBlocks
	const terminatorLBA = pvdLBA + 1
	nextLBA := uint32(terminatorLBA + 1)

	var dirOrder []*isoNode
	queue := []*isoNode{rootNode}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		n.lba = nextLBA
		n.size = iso9660.BlockSize
		nextLBA++
		dirOrder = append(dirOrder, n)
		for _, c := range n.children {
			if c.entry.IsDir {
				queue = append(queue, c)
			}
		}
	}

	var fileOrder []*isoNode
	var walkFiles func(n *isoNode)
	walkFiles = func(n *isoNode) {
		for _, c := range n.children {
			if c.entry.IsDir {
				walkFiles(c)
				continue
			}
			c.lba = nextLBA
			c.size = uint32(len(c.entry.Content))
			blocks := (c.size + iso9660.BlockSize - 1) / iso9660.BlockSize
			if blocks == 0 {
				blocks = 1
			}
			nextLBA += blocks
			fileOrder = append(fileOrder, c)
		}
	}
	walkFiles(rootNode)

	for _, n := range dirOrder {
		n.data = encodeISODirectory(t, n)
	}

	image := make([]byte, int(nextLBA)*iso9660.BlockSize)
	writeISOPrimaryDescriptor(image[pvdLBA*iso9660.BlockSize:], rootNode)
	writeISOTerminator(image[terminatorLBA*iso9660.BlockSize:])

	for _, n := range dirOrder {
		copy(image[int(n.lba)*iso9660.BlockSize:], n.data)
	}
	for _, n := range fileOrder {
		copy(image[int(n.lba)*iso9660.BlockSize:], n.entry.Content)
	}

	return bytesextra.NewReadWriteSeeker(image)
}

func buildISOTree(n *isoNode) {
	for i := range n.entry.Children {
		child := &isoNode{entry: n.entry.Children[i], parent: n}
		if child.entry.IsDir {
			buildISOTree(child)
		}
		n.children = append(n.children, child)
	}
}

// encodeISODirectory renders one directory's extent: "." and ".." first,
// per convention, followed by one record per child.
func encodeISODirectory(t *testing.T, n *isoNode) []byte {
	t.Helper()

	buf := make([]byte, iso9660.BlockSize)
	offset := 0

	dotdotParent := n.parent
	if dotdotParent == nil {
		dotdotParent = n
	}

	offset += writeISORecord(buf[offset:], []byte{0x00}, n.lba, n.size, true)
	offset += writeISORecord(buf[offset:], []byte{0x01}, dotdotParent.lba, dotdotParent.size, true)

	for _, c := range n.children {
		ident := c.entry.Name
		if !c.entry.IsDir {
			ident += ";1"
		}
		offset += writeISORecord(buf[offset:], []byte(ident), c.lba, c.size, c.entry.IsDir)
		require.LessOrEqualf(t, offset, iso9660.BlockSize,
			"synthetic directory %q needs more than one ISO 9660 block of entries", n.entry.Name)
	}

	return buf
}

// writeISORecord encodes one ECMA-119 directory record (9.1) into dst and
// returns its length. The recording timestamp is left zeroed -- this
// engine's Mount never reads it for anything but display.
func writeISORecord(dst []byte, identifier []byte, lba, size uint32, isDir bool) int {
	identLen := len(identifier)
	recLen := 33 + identLen
	if recLen%2 != 0 {
		recLen++
	}

	dst[0] = byte(recLen)
	dst[1] = 0 // ExtAttrLength
	putBothEndian32(dst[2:10], lba)
	putBothEndian32(dst[10:18], size)
	if isDir {
		dst[25] = iso9660.FileFlagDirectory
	}
	dst[26] = 0
	dst[27] = 0
	putBothEndian16(dst[28:32], 1)
	dst[32] = byte(identLen)
	copy(dst[33:33+identLen], identifier)

	return recLen
}

func putBothEndian32(dst []byte, v uint32) {
	binary.LittleEndian.PutUint32(dst[0:4], v)
	binary.BigEndian.PutUint32(dst[4:8], v)
}

func putBothEndian16(dst []byte, v uint16) {
	binary.LittleEndian.PutUint16(dst[0:2], v)
	binary.BigEndian.PutUint16(dst[2:4], v)
}

// writeISOPrimaryDescriptor fills in the one primary volume descriptor
// block this fixture carries: just enough of ECMA-119 8.4 for Mount to
// accept it and find the root directory record -- volume space size, path
// table locations, and the rest of the descriptor's fields are left zeroed
// since this engine never reads them.
func writeISOPrimaryDescriptor(block []byte, rootNode *isoNode) {
	block[0] = 1 // descriptorTypePrimary
	copy(block[1:6], "CD001")
	block[6] = 1

	copy(block[40:72], padRightSpaces("VOLTFSTEST", 32))

	rootRecord := make([]byte, 34)
	writeISORecord(rootRecord, []byte{0x00}, rootNode.lba, rootNode.size, true)
	copy(block[156:190], rootRecord)
}

func writeISOTerminator(block []byte) {
	block[0] = 255 // descriptorTypeTerminator
	copy(block[1:6], "CD001")
	block[6] = 1
}

func padRightSpaces(s string, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	return b
}
