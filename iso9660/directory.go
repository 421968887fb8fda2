package iso9660

import (
	"strings"

	"github.com/arkavault/voltfs"
	"github.com/arkavault/voltfs/common"
)

// Directory is a read handle over one directory's extent, providing the
// entry-walk operations the Stream/driver layer needs. Unlike fat.Directory
// it never mutates anything -- ISO 9660 is read-only end to end.
type Directory struct {
	volume   *Volume
	location uint32 // LBA of the first block of the extent
	size     uint32 // DataLength, in bytes
}

func (v *Volume) directoryOf(record DirectoryRecord) *Directory {
	return &Directory{volume: v, location: record.LBA, size: record.DataLength}
}

// rawData reads the whole directory extent.
func (d *Directory) rawData() ([]byte, error) {
	numBlocks := (d.size + BlockSize - 1) / BlockSize
	return d.volume.blocks.Read(common.BlockID(d.location), uint(numBlocks))
}

// FindNext parses every directory record in the extent. Per ECMA-119 6.8.1,
// a record's Length field of 0 means "no more records in this logical
// block" -- scanning resumes at the start of the next block rather than
// stopping entirely, since records never straddle a block boundary.
func (d *Directory) FindNext() ([]DirectoryRecord, error) {
	data, err := d.rawData()
	if err != nil {
		return nil, err
	}

	var results []DirectoryRecord
	for blockStart := 0; blockStart < len(data); blockStart += BlockSize {
		blockEnd := blockStart + BlockSize
		if blockEnd > len(data) {
			blockEnd = len(data)
		}
		block := data[blockStart:blockEnd]

		for offset := 0; offset < len(block); {
			rec, err := parseDirectoryRecord(block[offset:], d.volume.joliet)
			if err != nil {
				return nil, err
			}
			if rec.Length == 0 {
				break
			}
			rec.byteOffset = uint32(blockStart + offset)
			results = append(results, rec)
			offset += int(rec.Length)
		}
	}
	return results, nil
}

// Lookup finds a single named entry, case-insensitively, skipping the "."
// and ".." pseudo-entries unless explicitly asked for them.
func (d *Directory) Lookup(name string) (*DirectoryRecord, error) {
	entries, err := d.FindNext()
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if strings.EqualFold(entries[i].Identifier, name) {
			return &entries[i], nil
		}
	}
	return nil, voltfs.ErrNotFound
}

// ReadAll returns every entry in the directory.
func (d *Directory) ReadAll() ([]DirectoryRecord, error) {
	return d.FindNext()
}
