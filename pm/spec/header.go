// Package spec implements the PMTiles v3 wire format: header, directories and tile codes.
package spec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

type Compression uint8

const (
	CompressionUnknown Compression = iota
	CompressionNone
	CompressionGzip
	CompressionBrotli
	CompressionZstd
)

// TileType is the image format of the tiles.
type TileType uint8

const (
	TileTypeUnknown TileType = iota
	TileTypeMvt
	TileTypePng
	TileTypeJpeg
	TileTypeWebp
	TileTypeAvif
)

// TileTypeFromExtension maps a tile file extension to its tile type.
func TileTypeFromExtension(ext string) TileType {
	switch ext {
	case "png":
		return TileTypePng
	case "jpg", "jpeg":
		return TileTypeJpeg
	case "webp":
		return TileTypeWebp
	case "avif":
		return TileTypeAvif
	default:
		return TileTypeUnknown
	}
}

// Header is the fixed-size file header, encoded field by field in little-endian order.
type Header struct {
	HeaderMagic uint64

	// Section locations, as byte offsets from the start of the file.
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirectoryOffset uint64
	LeafDirectoryLength uint64
	TileDataOffset      uint64
	TileDataLength      uint64

	AddressedTilesCount uint64
	TileEntriesCount    uint64
	TileContentsCount   uint64
	Clustered           bool
	InternalCompression Compression
	TileCompression     Compression
	TileType            TileType

	// Zoom levels are pyramid tiers. The geographic fields are kept for format
	// compatibility and left zero by deepview writers.
	MinZoom     uint8
	MaxZoom     uint8
	MinLonE7    int32
	MinLatE7    int32
	MaxLonE7    int32
	MaxLatE7    int32
	CenterZoom  uint8
	CenterLonE7 int32
	CenterLatE7 int32
}

const (
	headerMagic     uint64 = 0x73656C69544D50 // "PMTiles"
	headerMagicMask uint64 = 1<<56 - 1
	headerVersion          = 3
	HeaderMagicV3   uint64 = headerMagic | headerVersion<<56

	HeaderLength = 127

	// The root directory must end within the first 16 KiB of the file.
	HeaderRootDirMaxLength = 16 << 10
	RootDirOffset          = HeaderLength
	RootDirMaxLength       = HeaderRootDirMaxLength - HeaderLength
)

var (
	ErrInvalidHeader  = errors.New("deepview: invalid pmtiles header")
	ErrInvalidVersion = errors.New("deepview: unsupported pmtiles version")
)

// AppendHeader appends the encoded header to b.
func AppendHeader(b []byte, h *Header) []byte {
	b, _ = binary.Append(b, binary.LittleEndian, h)
	return b
}

// ParseHeader decodes the header at the start of b and checks its magic and version.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < HeaderLength {
		return nil, fmt.Errorf("%w: %v bytes: %w", ErrInvalidHeader, len(b), io.ErrUnexpectedEOF)
	}
	var h Header
	if _, err := binary.Decode(b, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}
	if h.HeaderMagic&headerMagicMask != headerMagic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrInvalidHeader, h.HeaderMagic&headerMagicMask)
	}
	if version := h.HeaderMagic >> 56; version != headerVersion {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVersion, version)
	}
	return &h, nil
}
