package pyramid

import (
	"cmp"
	"iter"
	"slices"

	"github.com/eak1mov/go-deepview/tile"
)

// TileRange is an inclusive rectangle of tile indices within one tier.
type TileRange struct {
	Tier   int
	MinCol int
	MinRow int
	MaxCol int
	MaxRow int
}

func (r TileRange) Empty() bool {
	return r.MinCol > r.MaxCol || r.MinRow > r.MaxRow
}

// Count returns the number of tiles in the range.
func (r TileRange) Count() int {
	if r.Empty() {
		return 0
	}
	return (r.MaxCol - r.MinCol + 1) * (r.MaxRow - r.MinRow + 1)
}

func (r TileRange) Contains(id tile.ID) bool {
	return id.Tier == r.Tier &&
		id.Col >= r.MinCol && id.Col <= r.MaxCol &&
		id.Row >= r.MinRow && id.Row <= r.MaxRow
}

// IDs iterates the range row by row.
func (r TileRange) IDs() iter.Seq[tile.ID] {
	return func(yield func(tile.ID) bool) {
		for row := r.MinRow; row <= r.MaxRow; row++ {
			for col := r.MinCol; col <= r.MaxCol; col++ {
				if !yield(tile.ID{Tier: r.Tier, Col: col, Row: row}) {
					return
				}
			}
		}
	}
}

// SortCenterOut orders ids by distance from the center of their bounding box, nearest first.
// Ties keep their original order.
func SortCenterOut(ids []tile.ID) {
	if len(ids) < 2 {
		return
	}
	minCol, maxCol := ids[0].Col, ids[0].Col
	minRow, maxRow := ids[0].Row, ids[0].Row
	for _, id := range ids[1:] {
		minCol, maxCol = min(minCol, id.Col), max(maxCol, id.Col)
		minRow, maxRow = min(minRow, id.Row), max(maxRow, id.Row)
	}
	// Doubled coordinates keep the center integral.
	centerCol, centerRow := minCol+maxCol, minRow+maxRow
	distance := func(id tile.ID) int {
		dc, dr := 2*id.Col-centerCol, 2*id.Row-centerRow
		return dc*dc + dr*dr
	}
	slices.SortStableFunc(ids, func(a, b tile.ID) int {
		return cmp.Compare(distance(a), distance(b))
	})
}
