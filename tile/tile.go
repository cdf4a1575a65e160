// Package tile provides common tile interfaces and types.
package tile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidName = errors.New("deepview: invalid tile name")

// ID identifies one tile of an image pyramid. Tier 0 is the most zoomed-out tier.
type ID struct {
	Tier int
	Col  int
	Row  int
}

// Name returns the canonical tile name "{tier}-{col}-{row}".
func (t ID) Name() string {
	return strconv.Itoa(t.Tier) + "-" + strconv.Itoa(t.Col) + "-" + strconv.Itoa(t.Row)
}

func (t ID) String() string {
	return t.Name()
}

// Offset returns the pixel offset of the tile within its tier.
func (t ID) Offset(tileW, tileH int) (x, y int) {
	return t.Col * tileW, t.Row * tileH
}

// ParseName is the inverse of ID.Name.
func ParseName(name string) (ID, error) {
	parts := strings.Split(name, "-")
	if len(parts) != 3 {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	var values [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return ID{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
		values[i] = v
	}
	return ID{Tier: values[0], Col: values[1], Row: values[2]}, nil
}

// Layer is the purpose a tile is requested for.
type Layer uint8

const (
	LayerFrontfill Layer = iota
	LayerBackfill
	LayerOversize
	LayerNavigator
)

func (l Layer) String() string {
	switch l {
	case LayerFrontfill:
		return "frontfill"
	case LayerBackfill:
		return "backfill"
	case LayerOversize:
		return "oversize"
	case LayerNavigator:
		return "navigator"
	default:
		return "unknown"
	}
}

// Location represents the absolute location of tile data inside a packed file.
type Location struct {
	Offset uint64
	Length uint64
}

// End returns the inclusive last byte of the location, as used in HTTP Range headers.
func (l Location) End() uint64 {
	if l.Length == 0 {
		return l.Offset
	}
	return l.Offset + l.Length - 1
}

// Writer defines an interface for writing tiles to a tile store.
type Writer interface {
	// WriteTile writes a single tile to the store.
	WriteTile(tileID ID, tileData []byte) error

	// Finalize completes the writing process: flushes buffers, writes header and indices.
	// It must be called before closing the Writer.
	Finalize() error
}

type Reader interface {
	// ReadTile reads a single tile from the store.
	// If the tile does not exist, it returns an empty slice with no error.
	ReadTile(tileID ID) ([]byte, error)
}

type Visitor interface {
	// VisitTiles visits all tiles in the store, calling the visitor for each.
	// Order of tiles is implementation-defined.
	VisitTiles(visitor func(ID, []byte) error) error
}

type LocationReader interface {
	ReadLocation(tileID ID) (Location, error)
}

type LocationVisitor interface {
	VisitLocations(visitor func(ID, Location) error) error
}
