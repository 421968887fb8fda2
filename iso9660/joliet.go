package iso9660

import (
	"github.com/noxer/bytewriter"
	"golang.org/x/text/encoding/unicode"
)

var jolietDecoder = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()

// decodeJolietIdentifier converts a big-endian UCS-2 directory identifier
// into a UTF-8 string. The scratch buffer is sized for the worst case (every
// UCS-2 unit expanding to a 3-byte UTF-8 sequence) and filled in one pass
// through bytewriter rather than growing a slice with repeated appends.
func decodeJolietIdentifier(raw []byte) (string, error) {
	decoded, err := jolietDecoder.Bytes(raw)
	if err != nil {
		return "", err
	}

	scratch := make([]byte, len(raw)*3)
	w := bytewriter.New(scratch)
	if _, err := w.Write(decoded); err != nil {
		return "", err
	}
	return string(w.Bytes()), nil
}
