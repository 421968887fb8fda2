// Package oemconv converts between UTF-8 and the OEM code page FAT short
// (8.3) names are stored in. Real FAT volumes are free to use whichever OEM
// code page the formatting tool picked; we standardize on code page 437
// (the original IBM PC OEM page and still the overwhelmingly common choice)
// the way most FAT implementations that don't track a per-volume code page
// do.
package oemconv

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// ToOEM encodes a short-name component (already validated to be 8.3-legal)
// into its code-page-437 byte representation, upper-cased first since short
// names are case-insensitive on disk.
func ToOEM(s string) ([]byte, error) {
	upper := strings.ToUpper(s)
	encoded, err := charmap.CodePage437.NewEncoder().String(upper)
	if err != nil {
		return nil, err
	}
	return []byte(encoded), nil
}

// FromOEM decodes code-page-437 bytes (as stored in RawDirent.Name/Extension)
// into a UTF-8 string.
func FromOEM(raw []byte) (string, error) {
	return charmap.CodePage437.NewDecoder().String(string(raw))
}

// IsValidShortNameByte reports whether b is legal in an 8.3 short-name
// component per the FAT specification: letters, digits, and a fixed set of
// punctuation, with space reserved for padding and several bytes reserved for
// structural use (0x00, 0x05, lowercase a-z which must be upper-cased
// before reaching here). Every byte of 0x80 and above, 0xE5 included, is
// accepted.
func IsValidShortNameByte(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '$', b == '%', b == '\'', b == '-', b == '_', b == '@', b == '~',
		b == '!', b == '(', b == ')', b == '{', b == '}', b == '^', b == '#', b == '&':
		return true
	case b >= 0x80:
		// High bytes are valid OEM characters; we don't second-guess the
		// code page here.
		return true
	}
	return false
}
