// Package packed implements packed single-file storage: all tiers and tiles in one file,
// located through per-tier offset and byte count tables (see package spec).
//
// Remote files are read with HTTP byte ranges. Lookup tables are loaded lazily in chunks of
// a fixed number of entries; tiles waiting for a chunk are kept as retry entries and resolved
// when the chunk arrives.
package packed

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/eak1mov/go-deepview/packed/spec"
	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/tile"
)

// DefaultChunkSize is the number of table entries fetched in one byte range request.
const DefaultChunkSize = 1024

// Table selects one of the two lookup tables of a tier.
type Table uint8

const (
	TableOffsets Table = iota
	TableByteCounts
)

func (t Table) String() string {
	if t == TableOffsets {
		return "offsets"
	}
	return "byte counts"
}

// ChunkID identifies a fixed-size page of a lookup table.
type ChunkID struct {
	Tier  int
	Table Table
	Index int
}

// tierIndex holds the lookup tables of one tier.
type tierIndex struct {
	cols       uint64
	offsets    spec.Table
	byteCounts spec.Table
}

func (t tierIndex) table(kind Table) spec.Table {
	if kind == TableOffsets {
		return t.offsets
	}
	return t.byteCounts
}

// newIndex orders the IFDs thumbnail first and builds the pyramid from them.
func newIndex(ifds []spec.IFD) (*pyramid.Pyramid, []tierIndex, error) {
	ifds = slices.Clone(ifds)
	slices.SortStableFunc(ifds, func(a, b spec.IFD) int {
		return cmp.Compare(a.Width*a.Height, b.Width*b.Height)
	})
	tileW, tileH := ifds[0].TileWidth, ifds[0].TileHeight
	dims := make([][2]int, len(ifds))
	tiers := make([]tierIndex, len(ifds))
	for i, ifd := range ifds {
		if ifd.TileWidth != tileW || ifd.TileHeight != tileH {
			return nil, nil, fmt.Errorf("%w: tier %v has %vx%v tiles, tier 0 has %vx%v",
				spec.ErrInvalidDirectory, i, ifd.TileWidth, ifd.TileHeight, tileW, tileH)
		}
		dims[i] = [2]int{int(ifd.Width), int(ifd.Height)}
		tiers[i] = tierIndex{
			cols:       (ifd.Width + tileW - 1) / tileW,
			offsets:    ifd.Offsets,
			byteCounts: ifd.ByteCounts,
		}
	}
	p, err := pyramid.FromTiers(int(tileW), int(tileH), dims)
	if err != nil {
		return nil, nil, err
	}
	return p, tiers, nil
}

// LinearIndex returns the position of a tile in its tier's tables.
func LinearIndex(id tile.ID, cols int) int {
	return id.Col + id.Row*cols
}

// ChunkIndex returns the chunk holding table entry linear.
func ChunkIndex(linear, chunkSize int) int {
	return linear / chunkSize
}

// ChunkLocation returns the byte range of chunk index of table t.
// The last chunk of a table may hold fewer than chunkSize entries.
func ChunkLocation(t spec.Table, index, chunkSize int) tile.Location {
	first := uint64(index * chunkSize)
	n := min(uint64(chunkSize), t.Count-first)
	return tile.Location{
		Offset: t.EntryOffset(first),
		Length: n * uint64(t.EntrySize()),
	}
}
