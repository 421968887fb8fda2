package iso9660

import "fmt"

// Directory record file flag bits (ECMA-119 9.1.6).
const (
	FileFlagExistence   = 0x01
	FileFlagDirectory   = 0x02
	FileFlagAssociated  = 0x04
	FileFlagRecord      = 0x08
	FileFlagProtection  = 0x10
	FileFlagMultiExtent = 0x80
)

// DirectoryRecord is one parsed ECMA-119 directory record: a file or
// subdirectory entry within a directory extent.
type DirectoryRecord struct {
	Length            uint8
	ExtAttrLength     uint8
	LBA               uint32
	DataLength        uint32
	RecordingDateTime recordingDateTime
	FileFlags         uint8
	FileUnitSize      uint8
	InterleaveGapSize uint8
	VolumeSequence    uint16
	IdentifierRaw     []byte
	Identifier        string // decoded name, version/terminator stripped
	// byteOffset is this record's offset within its parent directory's
	// extent, used as half of the Stream identity key.
	byteOffset uint32
}

func (r *DirectoryRecord) IsDirectory() bool {
	return r.FileFlags&FileFlagDirectory != 0
}

// parseDirectoryRecord decodes one directory record starting at data[0].
// joliet selects whether the identifier is raw ASCII (version-stripped at
// ';') or big-endian UCS-2 (Joliet). Returns the record and its on-disk
// length so the caller can advance past it; a zero length signals "no more
// records in this sector" per ECMA-119 6.8.1.
func parseDirectoryRecord(data []byte, joliet bool) (DirectoryRecord, error) {
	if len(data) < 1 {
		return DirectoryRecord{}, fmt.Errorf("directory record: buffer empty")
	}

	length := data[0]
	if length == 0 {
		return DirectoryRecord{Length: 0}, nil
	}
	if int(length) > len(data) {
		return DirectoryRecord{}, fmt.Errorf("directory record: length %d exceeds available %d bytes", length, len(data))
	}
	if length < 33 {
		return DirectoryRecord{}, fmt.Errorf("directory record: length %d shorter than fixed fields", length)
	}

	rec := DirectoryRecord{
		Length:            length,
		ExtAttrLength:     data[1],
		LBA:               bothEndian32(data[2:10]),
		DataLength:        bothEndian32(data[10:18]),
		RecordingDateTime: parseRecordingDateTime(data[18:25]),
		FileFlags:         data[25],
		FileUnitSize:      data[26],
		InterleaveGapSize: data[27],
		VolumeSequence:    bothEndian16(data[28:32]),
	}

	identLen := int(data[32])
	if 33+identLen > int(length) {
		return DirectoryRecord{}, fmt.Errorf("directory record: identifier length %d overruns record", identLen)
	}
	identRaw := data[33 : 33+identLen]
	rec.IdentifierRaw = append([]byte(nil), identRaw...)

	name, err := decodeIdentifier(identRaw, joliet)
	if err != nil {
		return DirectoryRecord{}, err
	}
	rec.Identifier = name

	return rec, nil
}

// decodeIdentifier turns a raw directory-record identifier into a display
// name: "." (single 0x00) and ".." (single 0x01) map to those literal
// strings, ASCII identifiers are truncated at the first ';' version
// separator, and Joliet identifiers are decoded from big-endian UCS-2 and
// then truncated the same way.
func decodeIdentifier(raw []byte, joliet bool) (string, error) {
	if len(raw) == 1 && raw[0] == 0x00 {
		return ".", nil
	}
	if len(raw) == 1 && raw[0] == 0x01 {
		return "..", nil
	}

	if !joliet {
		name := string(raw)
		if idx := indexByte(name, ';'); idx >= 0 {
			name = name[:idx]
		}
		return name, nil
	}

	name, err := decodeJolietIdentifier(raw)
	if err != nil {
		return "", err
	}
	if idx := indexByte(name, ';'); idx >= 0 {
		name = name[:idx]
	}
	return name, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
