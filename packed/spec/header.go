// Package spec implements the wire format of packed single-file images: a little-endian
// BigTIFF-style container with one image file directory (IFD) per tier. Each IFD declares the
// tier size, the tile size and two tables: 8-byte tile offsets and 4-byte tile byte counts.
package spec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	ByteOrderLittleEndian uint16 = 0x4949 // "II"
	VersionBigTIFF        uint16 = 43

	HeaderLength = 16
	// EntryLength is the size of one IFD entry: tag, type, count and an 8-byte value field.
	EntryLength = 20
	// DefaultHeaderFetch is the size of the initial byte range fetched to read the directory.
	DefaultHeaderFetch = 8192
)

var (
	ErrInvalidHeader      = errors.New("deepview: invalid packed file header")
	ErrUnsupportedVersion = errors.New("deepview: unsupported packed file version")
	ErrInvalidDirectory   = errors.New("deepview: invalid packed file directory")
	ErrShortBuffer        = errors.New("deepview: packed directory extends past the loaded bytes")
)

// NeedMoreError reports that parsing needs the file bytes up to End (exclusive).
type NeedMoreError struct {
	End uint64
}

func (e *NeedMoreError) Error() string {
	return fmt.Sprintf("%v: need %v bytes", ErrShortBuffer, e.End)
}

func (e *NeedMoreError) Unwrap() error {
	return ErrShortBuffer
}

// ReadHeader validates the file header and returns the offset of the first IFD.
func ReadHeader(b []byte) (uint64, error) {
	if len(b) < HeaderLength {
		return 0, fmt.Errorf("%w: %v bytes", ErrInvalidHeader, len(b))
	}
	if order := binary.LittleEndian.Uint16(b[0:]); order != ByteOrderLittleEndian {
		return 0, fmt.Errorf("%w: byte order %#x", ErrInvalidHeader, order)
	}
	if version := binary.LittleEndian.Uint16(b[2:]); version != VersionBigTIFF {
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedVersion, version)
	}
	if size := binary.LittleEndian.Uint16(b[4:]); size != 8 {
		return 0, fmt.Errorf("%w: offset size %v", ErrInvalidHeader, size)
	}
	return binary.LittleEndian.Uint64(b[8:]), nil
}

// AppendHeader appends a file header pointing at the first IFD.
func AppendHeader(b []byte, firstIFD uint64) []byte {
	b = binary.LittleEndian.AppendUint16(b, ByteOrderLittleEndian)
	b = binary.LittleEndian.AppendUint16(b, VersionBigTIFF)
	b = binary.LittleEndian.AppendUint16(b, 8)
	b = binary.LittleEndian.AppendUint16(b, 0)
	return binary.LittleEndian.AppendUint64(b, firstIFD)
}
