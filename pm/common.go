// Package pm stores image pyramids in PMTiles files.
//
// Tier z of the pyramid is stored as zoom level z, with columns and rows as x and y.
// This needs every tier to fit into a 2^z grid, which holds for pyramids built by repeated
// halving. The pyramid dimensions are stored in the JSON metadata.
package pm

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eak1mov/go-deepview/pm/spec"
	"github.com/eak1mov/go-deepview/pyramid"
)

var ErrTierGrid = errors.New("deepview: tier does not fit the pmtiles zoom grid")

// Metadata is the JSON metadata section of a deepview PMTiles file.
type Metadata struct {
	Width      int      `json:"width"`
	Height     int      `json:"height"`
	TileWidth  int      `json:"tile_width"`
	TileHeight int      `json:"tile_height"`
	Tiers      [][2]int `json:"tiers"`
	Format     string   `json:"format,omitempty"`
}

// NewMetadata describes p. format is the tile file extension.
func NewMetadata(p *pyramid.Pyramid, format string) Metadata {
	m := Metadata{
		Width:      p.ImageWidth,
		Height:     p.ImageHeight,
		TileWidth:  p.TileWidth,
		TileHeight: p.TileHeight,
		Format:     format,
	}
	for _, t := range p.Tiers() {
		m.Tiers = append(m.Tiers, [2]int{t.Width, t.Height})
	}
	return m
}

// Pyramid rebuilds the pyramid and checks that every tier fits its zoom grid.
func (m Metadata) Pyramid() (*pyramid.Pyramid, error) {
	p, err := pyramid.FromTiers(m.TileWidth, m.TileHeight, m.Tiers)
	if err != nil {
		return nil, err
	}
	if err := checkTierGrid(p); err != nil {
		return nil, err
	}
	return p, nil
}

func checkTierGrid(p *pyramid.Pyramid) error {
	if p.MaxTier() > spec.MaxTier {
		return fmt.Errorf("%w: %v tiers", ErrTierGrid, p.TierCount())
	}
	for i := range p.TierCount() {
		cols, rows := p.TierDimensionsInTiles(i)
		if cols > 1<<i || rows > 1<<i {
			return fmt.Errorf("%w: tier %v has %vx%v tiles", ErrTierGrid, i, cols, rows)
		}
	}
	return nil
}

func encodeMetadata(m Metadata, compression spec.Compression) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return spec.Compress(data, compression)
}

func decodeMetadata(data []byte, compression spec.Compression) (Metadata, error) {
	data, err := spec.Decompress(data, compression)
	if err != nil {
		return Metadata{}, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("%w: metadata: %w", spec.ErrInvalidHeader, err)
	}
	return m, nil
}
