// Package iso9660 implements a read-only ISO 9660 (ECMA-119) volume engine
// with Joliet supplementary descriptor support, generalized from the same
// DriverImplementation/ObjectHandle boundary the fat package implements.
package iso9660

import (
	"encoding/binary"
	"fmt"
)

// BlockSize is the fixed logical block size ISO 9660 volumes are scanned and
// addressed at. Primary/supplementary descriptors can in principle declare a
// different size, but 2048 is universal in practice and this engine doesn't
// try to support anything else.
const BlockSize = 2048

// SystemAreaBlocks is the number of blocks reserved ahead of the volume
// descriptor set, unused by this file system.
const SystemAreaBlocks = 16

// Volume descriptor type codes (ECMA-119 8.1.1).
const (
	descriptorTypeBoot          = 0
	descriptorTypePrimary       = 1
	descriptorTypeSupplementary = 2
	descriptorTypePartition     = 3
	descriptorTypeTerminator    = 255
)

const standardIdentifier = "CD001"

// Joliet escape sequences identifying a supplementary descriptor as Unicode
// level 1/2/3 (UCS-2 BMP), per Microsoft's Joliet specification.
var jolietEscapeSequences = [][]byte{
	{0x25, 0x2F, 0x40}, // %/@ -- level 1
	{0x25, 0x2F, 0x43}, // %/C -- level 2
	{0x25, 0x2F, 0x45}, // %/E -- level 3
}

func isJolietEscape(seq []byte) bool {
	for _, candidate := range jolietEscapeSequences {
		if len(seq) >= len(candidate) {
			match := true
			for i, b := range candidate {
				if seq[i] != b {
					match = false
					break
				}
			}
			if match {
				return true
			}
		}
	}
	return false
}

// rawVolumeDescriptor is the common 2048-byte envelope every volume
// descriptor is wrapped in: a type byte, the "CD001" standard identifier,
// and a version byte, followed by type-specific data.
type rawVolumeDescriptor struct {
	descType   byte
	identifier [5]byte
	version    byte
	data       []byte
}

func parseRawVolumeDescriptor(block []byte) (rawVolumeDescriptor, error) {
	if len(block) < 7 {
		return rawVolumeDescriptor{}, fmt.Errorf("volume descriptor block too short: %d bytes", len(block))
	}
	var rd rawVolumeDescriptor
	rd.descType = block[0]
	copy(rd.identifier[:], block[1:6])
	rd.version = block[6]
	rd.data = block[7:]
	return rd, nil
}

func (rd rawVolumeDescriptor) isValid() bool {
	return string(rd.identifier[:]) == standardIdentifier
}

// bothEndian32 reads a both-endian (little then big) 8-byte field and returns
// the little-endian interpretation; ECMA-119 requires the two halves to agree
// and readers conventionally trust the little-endian half.
func bothEndian32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b[0:4])
}

func bothEndian16(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b[0:2])
}

// recordingDateTime is the 7-byte directory-record timestamp: no timezone-
// aware parsing is attempted here beyond keeping the raw fields, since
// spec.md treats ISO timestamps as immutable and opaque beyond display.
type recordingDateTime struct {
	yearsSince1900 uint8
	month          uint8
	day            uint8
	hour           uint8
	minute         uint8
	second         uint8
	gmtOffset      int8
}

func parseRecordingDateTime(b []byte) recordingDateTime {
	return recordingDateTime{
		yearsSince1900: b[0],
		month:          b[1],
		day:            b[2],
		hour:           b[3],
		minute:         b[4],
		second:         b[5],
		gmtOffset:      int8(b[6]),
	}
}
