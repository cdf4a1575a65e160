// Package internal provides synthetic pyramids and tile data shared by store tests.
package internal

import (
	"fmt"
	"testing"

	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/tile"
)

// TestCase is a named pyramid layout.
type TestCase struct {
	Name     string
	Width    int
	Height   int
	TileSize int
}

// TestCases lists layouts from a single tile up to several hundred tiles per tier.
var TestCases = []TestCase{
	{"single", 200, 100, 256},
	{"square", 1024, 1024, 256},
	{"wide", 2000, 300, 256},
	{"tall", 300, 2000, 256},
	{"odd", 1537, 1029, 254},
	{"small_tiles", 3000, 2000, 64},
}

// Pyramid builds the primary pyramid of the test case.
func (tc TestCase) Pyramid(t testing.TB) *pyramid.Pyramid {
	t.Helper()
	p, err := pyramid.Build(tc.Width, tc.Height, tc.TileSize, tc.TileSize, pyramid.StrategyPrimary)
	if err != nil {
		t.Fatalf("pyramid.Build(%+v) failed: %v", tc, err)
	}
	return p
}

// Tiles returns distinct data for every tile of p. Every 7th tile of the top tier repeats
// the data of the first one, so stores that share identical tiles are exercised.
func Tiles(p *pyramid.Pyramid) map[tile.ID][]byte {
	tiles := make(map[tile.ID][]byte)
	top := p.MaxTier()
	n := 0
	for i := range p.TierCount() {
		for id := range p.FullRange(i).IDs() {
			if i == top && n%7 == 6 {
				tiles[id] = []byte("shared")
			} else {
				tiles[id] = fmt.Appendf(nil, "tile-%v", id)
			}
			n++
		}
	}
	return tiles
}

// WriteAll writes tiles to w in tier order and finalizes it.
func WriteAll(t testing.TB, p *pyramid.Pyramid, w tile.Writer, tiles map[tile.ID][]byte) {
	t.Helper()
	for i := range p.TierCount() {
		for id := range p.FullRange(i).IDs() {
			data, ok := tiles[id]
			if !ok {
				continue
			}
			if err := w.WriteTile(id, data); err != nil {
				t.Fatalf("WriteTile(%v) failed: %v", id, err)
			}
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
}
