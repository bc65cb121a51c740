package util

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Records written with checksums carry a CRC32 (Castagnoli) trailer:
// [data][checksum (4 bytes, little endian)]

var crc32Table = crc32.MakeTable(crc32.Castagnoli)

const checksumSize = 4

// ComputeChecksum computes the CRC32 checksum of data
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// ChecksumError reports a framed record whose trailer does not match its data
type ChecksumError struct {
	Expected uint32
	Actual   uint32
	Short    bool
}

func (e *ChecksumError) Error() string {
	if e.Short {
		return "record too short to carry a checksum"
	}
	return fmt.Sprintf("checksum mismatch: expected %08x, got %08x", e.Expected, e.Actual)
}

// AppendChecksum returns data followed by its checksum trailer
func AppendChecksum(data []byte) []byte {
	out := make([]byte, len(data), len(data)+checksumSize)
	copy(out, data)
	return binary.LittleEndian.AppendUint32(out, ComputeChecksum(data))
}

// StripChecksum validates the trailer and returns the data without it
func StripChecksum(framed []byte) ([]byte, error) {
	if len(framed) < checksumSize {
		return nil, &ChecksumError{Short: true}
	}
	n := len(framed) - checksumSize
	data := framed[:n]
	expected := binary.LittleEndian.Uint32(framed[n:])
	if actual := ComputeChecksum(data); actual != expected {
		return nil, &ChecksumError{Expected: expected, Actual: actual}
	}
	return data, nil
}
