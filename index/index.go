// Package index reads and writes flat tile location indices: fixed-size little-endian records
// mapping a tile to its byte range in a packed file.
package index

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/eak1mov/go-deepview/tile"
)

var ErrInvalidIndex = errors.New("deepview: invalid index data")

// Item is a single record of the index.
type Item struct {
	Tier   uint32
	Col    uint32
	Row    uint32
	Length uint32
	Offset uint64
}

// ItemSize is the encoded size of one Item.
var ItemSize = binary.Size(Item{})

func NewItem(id tile.ID, loc tile.Location) Item {
	return Item{
		Tier:   uint32(id.Tier),
		Col:    uint32(id.Col),
		Row:    uint32(id.Row),
		Length: uint32(loc.Length),
		Offset: loc.Offset,
	}
}

func (i Item) TileID() tile.ID {
	return tile.ID{Tier: int(i.Tier), Col: int(i.Col), Row: int(i.Row)}
}

func (i Item) TileLocation() tile.Location {
	return tile.Location{Offset: i.Offset, Length: uint64(i.Length)}
}

// Collect reads every location of v into index items.
func Collect(v tile.LocationVisitor) ([]Item, error) {
	var items []Item
	err := v.VisitLocations(func(id tile.ID, loc tile.Location) error {
		items = append(items, NewItem(id, loc))
		return nil
	})
	return items, err
}

func WriteAll(items []Item, writer io.Writer) error {
	return binary.Write(writer, binary.LittleEndian, items)
}

func ReadAll(indexData []byte) ([]Item, error) {
	if len(indexData)%ItemSize != 0 {
		return nil, fmt.Errorf("%w: %v bytes is not a multiple of %v", ErrInvalidIndex, len(indexData), ItemSize)
	}
	items := make([]Item, len(indexData)/ItemSize)
	if err := binary.Read(bytes.NewReader(indexData), binary.LittleEndian, items); err != nil {
		return nil, err
	}
	return items, nil
}
