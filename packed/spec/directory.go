package spec

import (
	"encoding/binary"
	"fmt"
)

// Tags used by packed files.
const (
	TagImageWidth     uint16 = 256
	TagImageLength    uint16 = 257
	TagTileWidth      uint16 = 322
	TagTileLength     uint16 = 323
	TagTileOffsets    uint16 = 324
	TagTileByteCounts uint16 = 325
)

// Field types used by packed files.
const (
	TypeShort uint16 = 3
	TypeLong  uint16 = 4
	TypeLong8 uint16 = 16
)

// maxIFDs bounds the IFD chain so that a cyclic chain cannot loop forever.
const maxIFDs = 64

// MaxFileOffset bounds the offsets a directory may refer to.
const MaxFileOffset = 1 << 48

// TypeSize returns the size in bytes of one value of the given type, or 0 for unknown types.
func TypeSize(typ uint16) int {
	switch typ {
	case TypeShort:
		return 2
	case TypeLong:
		return 4
	case TypeLong8:
		return 8
	default:
		return 0
	}
}

// DecodeValue decodes one value of the given type from the start of b.
func DecodeValue(typ uint16, b []byte) uint64 {
	switch typ {
	case TypeShort:
		return uint64(binary.LittleEndian.Uint16(b))
	case TypeLong:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

func appendValue(b []byte, typ uint16, v uint64) []byte {
	switch typ {
	case TypeShort:
		return binary.LittleEndian.AppendUint16(b, uint16(v))
	case TypeLong:
		return binary.LittleEndian.AppendUint32(b, uint32(v))
	default:
		return binary.LittleEndian.AppendUint64(b, v)
	}
}

// Table is a tile offset or byte count table. Tables that fit into the 8-byte value field of
// their IFD entry are stored inline; others live at Offset in the file.
type Table struct {
	Type   uint16
	Count  uint64
	Offset uint64
	Inline []byte
}

// EntrySize returns the size of one table entry in bytes.
func (t Table) EntrySize() int {
	return TypeSize(t.Type)
}

// IsInline reports whether the table values are stored in the IFD entry itself.
func (t Table) IsInline() bool {
	return t.Inline != nil
}

// Value returns entry i of an inline table.
func (t Table) Value(i uint64) uint64 {
	size := uint64(t.EntrySize())
	return DecodeValue(t.Type, t.Inline[i*size:])
}

// EntryOffset returns the file offset of entry i of a table stored out of line.
func (t Table) EntryOffset(i uint64) uint64 {
	return t.Offset + i*uint64(t.EntrySize())
}

// IFD describes one tier.
type IFD struct {
	Width      uint64
	Height     uint64
	TileWidth  uint64
	TileHeight uint64
	Offsets    Table
	ByteCounts Table
}

// Length returns the encoded size of an IFD with n entries.
func Length(n int) int {
	return 8 + n*EntryLength + 8
}

// IFDLength is the encoded size of the IFDs written by EncodeIFD.
var IFDLength = Length(6)

// ReadDirectory parses the header and the whole IFD chain from the beginning of the file.
// If the chain extends past b, it returns a *NeedMoreError with the required length.
// IFDs are returned in file order.
func ReadDirectory(b []byte) ([]IFD, error) {
	next, err := ReadHeader(b)
	if err != nil {
		return nil, err
	}
	var ifds []IFD
	for next != 0 {
		if len(ifds) == maxIFDs {
			return nil, fmt.Errorf("%w: more than %v IFDs", ErrInvalidDirectory, maxIFDs)
		}
		ifd, following, err := readIFD(b, next)
		if err != nil {
			return nil, err
		}
		ifds = append(ifds, ifd)
		next = following
	}
	if len(ifds) == 0 {
		return nil, fmt.Errorf("%w: no IFDs", ErrInvalidDirectory)
	}
	return ifds, nil
}

func readIFD(b []byte, offset uint64) (IFD, uint64, error) {
	if offset > MaxFileOffset {
		return IFD{}, 0, fmt.Errorf("%w: IFD offset %v", ErrInvalidDirectory, offset)
	}
	if offset > uint64(len(b)) || uint64(len(b))-offset < 8 {
		return IFD{}, 0, &NeedMoreError{End: offset + 8}
	}
	n := binary.LittleEndian.Uint64(b[offset:])
	if n == 0 || n > 1024 {
		return IFD{}, 0, fmt.Errorf("%w: %v entries at %v", ErrInvalidDirectory, n, offset)
	}
	length := uint64(Length(int(n)))
	if uint64(len(b))-offset < length {
		return IFD{}, 0, &NeedMoreError{End: offset + length}
	}
	end := offset + length

	var ifd IFD
	seen := map[uint16]bool{}
	for i := range n {
		e := b[offset+8+i*EntryLength:]
		tag := binary.LittleEndian.Uint16(e[0:])
		typ := binary.LittleEndian.Uint16(e[2:])
		count := binary.LittleEndian.Uint64(e[4:])
		value := e[12:20]
		size := TypeSize(typ)
		if size == 0 {
			continue // not a field we read
		}
		seen[tag] = true

		if count > MaxFileOffset/uint64(size) {
			return IFD{}, 0, fmt.Errorf("%w: tag %v has %v values", ErrInvalidDirectory, tag, count)
		}
		table := Table{Type: typ, Count: count}
		if count*uint64(size) <= 8 {
			table.Inline = append([]byte(nil), value[:count*uint64(size)]...)
		} else {
			table.Offset = binary.LittleEndian.Uint64(value)
			if table.Offset > MaxFileOffset {
				return IFD{}, 0, fmt.Errorf("%w: tag %v table at %v", ErrInvalidDirectory, tag, table.Offset)
			}
		}

		switch tag {
		case TagImageWidth:
			ifd.Width = DecodeValue(typ, value)
		case TagImageLength:
			ifd.Height = DecodeValue(typ, value)
		case TagTileWidth:
			ifd.TileWidth = DecodeValue(typ, value)
		case TagTileLength:
			ifd.TileHeight = DecodeValue(typ, value)
		case TagTileOffsets:
			ifd.Offsets = table
		case TagTileByteCounts:
			ifd.ByteCounts = table
		}
	}
	for _, tag := range []uint16{TagImageWidth, TagImageLength, TagTileWidth, TagTileLength, TagTileOffsets, TagTileByteCounts} {
		if !seen[tag] {
			return IFD{}, 0, fmt.Errorf("%w: tag %v missing in IFD at %v", ErrInvalidDirectory, tag, offset)
		}
	}
	if ifd.Width == 0 || ifd.Height == 0 || ifd.TileWidth == 0 || ifd.TileHeight == 0 {
		return IFD{}, 0, fmt.Errorf("%w: empty dimensions in IFD at %v", ErrInvalidDirectory, offset)
	}
	tiles := ceilDiv(ifd.Width, ifd.TileWidth) * ceilDiv(ifd.Height, ifd.TileHeight)
	if ifd.Offsets.Count != tiles || ifd.ByteCounts.Count != tiles {
		return IFD{}, 0, fmt.Errorf("%w: IFD at %v declares %v offsets and %v byte counts for %v tiles",
			ErrInvalidDirectory, offset, ifd.Offsets.Count, ifd.ByteCounts.Count, tiles)
	}
	next := binary.LittleEndian.Uint64(b[end-8:])
	return ifd, next, nil
}

// NewTable returns a table holding values, inline if they fit into 8 bytes.
// For out-of-line tables the caller writes EncodeTable(values) at offset.
func NewTable(typ uint16, values []uint64, offset uint64) Table {
	t := Table{Type: typ, Count: uint64(len(values))}
	if len(values)*TypeSize(typ) <= 8 {
		t.Inline = EncodeTable(typ, values)
	} else {
		t.Offset = offset
	}
	return t
}

// EncodeTable encodes table values.
func EncodeTable(typ uint16, values []uint64) []byte {
	b := make([]byte, 0, len(values)*TypeSize(typ))
	for _, v := range values {
		b = appendValue(b, typ, v)
	}
	return b
}

// EncodeIFD encodes an IFD followed by the offset of the next one (0 for the last).
func EncodeIFD(ifd IFD, next uint64) []byte {
	b := make([]byte, 0, IFDLength)
	b = binary.LittleEndian.AppendUint64(b, 6)
	b = appendEntry(b, TagImageWidth, TypeLong, 1, scalar(TypeLong, ifd.Width))
	b = appendEntry(b, TagImageLength, TypeLong, 1, scalar(TypeLong, ifd.Height))
	b = appendEntry(b, TagTileWidth, TypeLong, 1, scalar(TypeLong, ifd.TileWidth))
	b = appendEntry(b, TagTileLength, TypeLong, 1, scalar(TypeLong, ifd.TileHeight))
	b = appendEntry(b, TagTileOffsets, ifd.Offsets.Type, ifd.Offsets.Count, tableValue(ifd.Offsets))
	b = appendEntry(b, TagTileByteCounts, ifd.ByteCounts.Type, ifd.ByteCounts.Count, tableValue(ifd.ByteCounts))
	return binary.LittleEndian.AppendUint64(b, next)
}

func appendEntry(b []byte, tag, typ uint16, count uint64, value [8]byte) []byte {
	b = binary.LittleEndian.AppendUint16(b, tag)
	b = binary.LittleEndian.AppendUint16(b, typ)
	b = binary.LittleEndian.AppendUint64(b, count)
	return append(b, value[:]...)
}

func scalar(typ uint16, v uint64) [8]byte {
	var value [8]byte
	appendValue(value[:0], typ, v)
	return value
}

func tableValue(t Table) [8]byte {
	var value [8]byte
	if t.IsInline() {
		copy(value[:], t.Inline)
	} else {
		binary.LittleEndian.PutUint64(value[:], t.Offset)
	}
	return value
}

func ceilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}
