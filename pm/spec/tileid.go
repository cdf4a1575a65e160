package spec

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/eak1mov/go-deepview/tile"
	"github.com/google/hilbert"
)

var ErrTileOutOfRange = errors.New("deepview: tile outside the tier grid")

// MaxTier is the deepest tier a 64-bit tile code can address.
const MaxTier = 31

// tierStart returns the number of tile codes used by all tiers below tier.
// Tier z is a 2^z x 2^z grid, so the tiers below it hold (4^z - 1) / 3 codes.
func tierStart(tier int) uint64 {
	return (1<<(tier*2) - 1) / 3
}

// EncodeTileID returns the tile code of a tile: tiles of tier z are laid out on a 2^z grid
// along a Hilbert curve, after the codes of all lower tiers.
func EncodeTileID(id tile.ID) (uint64, error) {
	if id.Tier < 0 || id.Tier > MaxTier || id.Col < 0 || id.Row < 0 || id.Col >= 1<<id.Tier || id.Row >= 1<<id.Tier {
		return 0, fmt.Errorf("%w: %v", ErrTileOutOfRange, id)
	}
	h, err := hilbert.NewHilbert(1 << id.Tier)
	if err != nil {
		return 0, err
	}
	code, err := h.MapInverse(id.Col, id.Row)
	if err != nil {
		return 0, fmt.Errorf("%w: %v: %w", ErrTileOutOfRange, id, err)
	}
	return uint64(code) + tierStart(id.Tier), nil
}

// DecodeTileID is the inverse of EncodeTileID.
func DecodeTileID(code uint64) tile.ID {
	tier := (bits.Len64(3*code+1) - 1) / 2
	h, _ := hilbert.NewHilbert(1 << tier)
	col, row, _ := h.Map(int(code - tierStart(tier)))
	return tile.ID{Tier: tier, Col: col, Row: row}
}
