package iso9660

import (
	"io"
	"strings"
	"syscall"

	"github.com/arkavault/voltfs"
	"github.com/arkavault/voltfs/common"
)

// maxVolumeDescriptors bounds how many sectors Mount will scan looking for a
// terminator before giving up, so a corrupted image without one can't hang
// the mount.
const maxVolumeDescriptors = 256

// objectKey identifies a directory record's location uniquely across the
// mount: which directory's extent holds it, and the byte offset within that
// extent the record starts at. Mirrors fat.objectKey's role.
type objectKey struct {
	dirLocation uint32
	offset      uint32
}

// defaultMaxStandby bounds the stand-by list of zero-refcount Stream objects,
// same role as fat.Volume's.
const defaultMaxStandby = 32

// Volume is a mounted, read-only ISO 9660 file system.
type Volume struct {
	blocks common.BlockStream
	joliet bool
	label  string

	rootRecord DirectoryRecord

	objects    map[objectKey]*Stream
	standby    []*Stream
	maxStandby int
}

// Mount scans the volume descriptor set starting at sector 16, selects the
// Joliet supplementary descriptor if one is present, and returns a ready
// Volume. flags is accepted for symmetry with fat.Mount and driver.BaseDriver
// but every write permission bit is ignored: this engine is read-only.
func Mount(image io.ReadWriteSeeker, flags voltfs.MountFlags) (*Volume, error) {
	totalBlocks, err := common.DetermineBlockCount(image, BlockSize)
	if err != nil {
		return nil, voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	blocks := common.NewBlockStream(image, totalBlocks, BlockSize, 0)

	var primaryRoot, jolietRoot *DirectoryRecord
	var primaryLabel, jolietLabel string
	found := false

	for i := uint(0); i < maxVolumeDescriptors; i++ {
		block, err := blocks.Read(common.BlockID(SystemAreaBlocks+i), 1)
		if err != nil {
			return nil, voltfs.NewDriverErrorWithMessage(syscall.EIO, err.Error())
		}

		rd, err := parseRawVolumeDescriptor(block)
		if err != nil {
			return nil, voltfs.NewDriverErrorWithMessage(syscall.EINVAL, err.Error())
		}
		if !rd.isValid() {
			return nil, voltfs.NewDriverErrorWithMessage(syscall.EINVAL, "missing CD001 standard identifier")
		}

		switch rd.descType {
		case descriptorTypeTerminator:
			found = true
		case descriptorTypePrimary:
			root, label, err := parseDescriptorCommon(block, false)
			if err != nil {
				return nil, voltfs.NewDriverErrorWithMessage(syscall.EINVAL, err.Error())
			}
			primaryRoot = &root
			primaryLabel = label
		case descriptorTypeSupplementary:
			escSeq := block[88:120]
			if isJolietEscape(escSeq) {
				root, label, err := parseDescriptorCommon(block, true)
				if err != nil {
					return nil, voltfs.NewDriverErrorWithMessage(syscall.EINVAL, err.Error())
				}
				jolietRoot = &root
				jolietLabel = label
			}
		}
		if found {
			break
		}
	}

	if primaryRoot == nil {
		return nil, voltfs.NewDriverErrorWithMessage(syscall.EINVAL, "no primary volume descriptor found")
	}

	vol := &Volume{
		blocks:     blocks,
		rootRecord: *primaryRoot,
		label:      primaryLabel,
		objects:    make(map[objectKey]*Stream),
		maxStandby: defaultMaxStandby,
	}
	if jolietRoot != nil {
		vol.joliet = true
		vol.rootRecord = *jolietRoot
		vol.label = jolietLabel
	}

	return vol, nil
}

// parseDescriptorCommon decodes the fields shared by the primary and
// supplementary descriptor layouts (ECMA-119 8.4/8.5): they differ only in
// whether text fields are a-characters/d-characters or Joliet UCS-2, and in
// what bytes 88-119 hold.
func parseDescriptorCommon(block []byte, joliet bool) (DirectoryRecord, string, error) {
	rootRaw := block[156:190]
	root, err := parseDirectoryRecord(rootRaw, joliet)
	if err != nil {
		return DirectoryRecord{}, "", err
	}
	// The root directory record's own "name" is the single 0x00 byte
	// standing for ".", and there is no parent to compute a byteOffset
	// against; it's always offset 0 of its own extent.
	root.byteOffset = 0

	var label string
	if joliet {
		decoded, err := decodeJolietIdentifier(block[40:72])
		if err != nil {
			return DirectoryRecord{}, "", err
		}
		label = strings.TrimRight(decoded, "\x00 ")
	} else {
		label = strings.TrimRight(string(block[40:72]), " ")
	}

	return root, label, nil
}

// GetRootDirectory returns an ObjectHandle for the volume's root directory.
func (v *Volume) GetRootDirectory() voltfs.ObjectHandle {
	return v.acquire(nil, v.rootRecord)
}
