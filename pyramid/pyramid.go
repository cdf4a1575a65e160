// Package pyramid computes the resolution tiers of a tiled image pyramid.
//
// Tier 0 is the most zoomed-out tier (thumbnail) and the last tier is the full resolution image.
// Each tier is roughly twice as wide and high as the previous one; the exact halving rule depends
// on the tool that produced the pyramid, see Strategy.
package pyramid

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/eak1mov/go-deepview/geom"
	"github.com/eak1mov/go-deepview/tile"
)

// TilesPerFolder is the number of tiles stored in one TileGroup folder of folder storage.
const TilesPerFolder = 256

var (
	ErrInvalidDimensions = errors.New("deepview: invalid image dimensions")
	ErrTileCountMismatch = errors.New("deepview: tile count mismatch")
)

// Strategy is a tier construction rule.
type Strategy uint8

const (
	// StrategyPrimary halves the previous tier rounding up: w[i-1] = ceil(w[i] / 2).
	StrategyPrimary Strategy = iota
	// StrategyLegacy divides the full size by successive powers of two rounding down:
	// w[i] = floor(w / 2^k). Older pyramid tools produce this layout.
	StrategyLegacy
	// StrategyDeclared marks tiers read from an authoritative packed file directory.
	StrategyDeclared
)

func (s Strategy) String() string {
	switch s {
	case StrategyPrimary:
		return "primary"
	case StrategyLegacy:
		return "legacy"
	case StrategyDeclared:
		return "declared"
	default:
		return "unknown"
	}
}

// Tier describes one resolution level.
type Tier struct {
	Width  int
	Height int
	Cols   int
	Rows   int
}

// TileCount returns the number of tiles of the tier.
func (t Tier) TileCount() int {
	return t.Cols * t.Rows
}

// Pyramid is the immutable tier list of one image.
type Pyramid struct {
	ImageWidth  int
	ImageHeight int
	TileWidth   int
	TileHeight  int
	Strategy    Strategy

	tiers []Tier
	// firstTile[i] is the number of tiles in all tiers below i.
	firstTile []int
}

// Build computes the tiers of a w*h image with tileW*tileH tiles using the given strategy.
func Build(w, h, tileW, tileH int, strategy Strategy) (*Pyramid, error) {
	if w <= 0 || h <= 0 || tileW <= 0 || tileH <= 0 {
		return nil, fmt.Errorf("%w: image %vx%v, tile %vx%v", ErrInvalidDimensions, w, h, tileW, tileH)
	}

	dims := []dim{{w, h}}
	switch strategy {
	case StrategyPrimary:
		cw, ch := w, h
		for cw > tileW || ch > tileH {
			cw, ch = (cw+1)/2, (ch+1)/2
			dims = append(dims, dim{cw, ch})
		}
	case StrategyLegacy:
		cw, ch := w, h
		for k := 1; cw > tileW || ch > tileH; k++ {
			cw, ch = max(1, w>>k), max(1, h>>k)
			dims = append(dims, dim{cw, ch})
		}
	default:
		return nil, fmt.Errorf("%w: strategy %v cannot build tiers", ErrInvalidDimensions, strategy)
	}

	// dims is ordered from full resolution down; tiers are ordered from thumbnail up.
	tiers := make([]Tier, len(dims))
	for i, d := range dims {
		tiers[len(dims)-1-i] = newTier(d.w, d.h, tileW, tileH)
	}
	return newPyramid(w, h, tileW, tileH, strategy, tiers), nil
}

type dim struct{ w, h int }

func newTier(w, h, tileW, tileH int) Tier {
	return Tier{
		Width:  w,
		Height: h,
		Cols:   ceilDiv(w, tileW),
		Rows:   ceilDiv(h, tileH),
	}
}

// FromTiers builds a pyramid from authoritative per-tier dimensions (thumbnail first).
func FromTiers(tileW, tileH int, dims [][2]int) (*Pyramid, error) {
	if len(dims) == 0 || tileW <= 0 || tileH <= 0 {
		return nil, fmt.Errorf("%w: %v tiers, tile %vx%v", ErrInvalidDimensions, len(dims), tileW, tileH)
	}
	tiers := make([]Tier, len(dims))
	for i, d := range dims {
		if d[0] <= 0 || d[1] <= 0 {
			return nil, fmt.Errorf("%w: tier %v is %vx%v", ErrInvalidDimensions, i, d[0], d[1])
		}
		if i > 0 && (d[0] < dims[i-1][0] || d[1] < dims[i-1][1]) {
			return nil, fmt.Errorf("%w: tier %v is smaller than tier %v", ErrInvalidDimensions, i, i-1)
		}
		tiers[i] = newTier(d[0], d[1], tileW, tileH)
	}
	top := dims[len(dims)-1]
	return newPyramid(top[0], top[1], tileW, tileH, StrategyDeclared, tiers), nil
}

func newPyramid(w, h, tileW, tileH int, strategy Strategy, tiers []Tier) *Pyramid {
	firstTile := make([]int, len(tiers)+1)
	for i, t := range tiers {
		firstTile[i+1] = firstTile[i] + t.TileCount()
	}
	return &Pyramid{
		ImageWidth:  w,
		ImageHeight: h,
		TileWidth:   tileW,
		TileHeight:  tileH,
		Strategy:    strategy,
		tiers:       tiers,
		firstTile:   firstTile,
	}
}

// Reconcile builds the tiers with StrategyPrimary and, when its total tile count disagrees with
// declaredTotal, with StrategyLegacy. It fails with ErrTileCountMismatch if neither matches.
func Reconcile(w, h, tileW, tileH, declaredTotal int, logger *slog.Logger) (*Pyramid, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	primary, err := Build(w, h, tileW, tileH, StrategyPrimary)
	if err != nil {
		return nil, err
	}
	if primary.TotalTiles() == declaredTotal {
		return primary, nil
	}
	legacy, err := Build(w, h, tileW, tileH, StrategyLegacy)
	if err != nil {
		return nil, err
	}
	if legacy.TotalTiles() == declaredTotal {
		logger.Warn("pyramid: primary tier strategy mismatch, using legacy",
			"declared", declaredTotal, "primary", primary.TotalTiles())
		return legacy, nil
	}
	return nil, fmt.Errorf("%w: declared %v, primary %v, legacy %v",
		ErrTileCountMismatch, declaredTotal, primary.TotalTiles(), legacy.TotalTiles())
}

// TierCount returns the number of tiers.
func (p *Pyramid) TierCount() int {
	return len(p.tiers)
}

// MaxTier returns the index of the full resolution tier.
func (p *Pyramid) MaxTier() int {
	return len(p.tiers) - 1
}

// Tier returns the tier with the given index.
func (p *Pyramid) Tier(i int) Tier {
	return p.tiers[i]
}

// Tiers returns a copy of all tiers, thumbnail first.
func (p *Pyramid) Tiers() []Tier {
	return append([]Tier(nil), p.tiers...)
}

// TileCount returns the number of tiles of tier i.
func (p *Pyramid) TileCount(i int) int {
	return p.tiers[i].TileCount()
}

// TierDimensionsInTiles returns the tile grid of tier i.
func (p *Pyramid) TierDimensionsInTiles(i int) (cols, rows int) {
	return p.tiers[i].Cols, p.tiers[i].Rows
}

// TotalTiles returns the number of tiles of all tiers.
func (p *Pyramid) TotalTiles() int {
	return p.firstTile[len(p.tiers)]
}

// Valid reports whether id addresses a tile of the pyramid.
func (p *Pyramid) Valid(id tile.ID) bool {
	if id.Tier < 0 || id.Tier >= len(p.tiers) {
		return false
	}
	t := p.tiers[id.Tier]
	return id.Col >= 0 && id.Row >= 0 && id.Col < t.Cols && id.Row < t.Rows
}

// LinearOffset returns the position of the tile if the tiles of all tiers were concatenated
// in tier order, row-major within a tier.
func (p *Pyramid) LinearOffset(id tile.ID) int {
	return p.firstTile[id.Tier] + id.Row*p.tiers[id.Tier].Cols + id.Col
}

// TileGroup returns the folder index of the tile in folder storage.
func (p *Pyramid) TileGroup(id tile.ID) int {
	return p.LinearOffset(id) / TilesPerFolder
}

// TierZoom returns the zoom at which tier i is displayed pixel for pixel.
func (p *Pyramid) TierZoom(i int) float64 {
	return float64(p.tiers[i].Width) / float64(p.ImageWidth)
}

// SelectTier returns the smallest tier that does not have to be magnified more than upscaleMax
// to display the image at zoom. Zooms beyond the top tier select the top tier.
func (p *Pyramid) SelectTier(zoom, upscaleMax float64) int {
	selected := p.MaxTier()
	for i := p.MaxTier(); i >= 0; i-- {
		if p.TierZoom(i)*upscaleMax < zoom {
			break
		}
		selected = i
	}
	return selected
}

// TileRect returns the tier-pixel rectangle covered by a tile, clipped to the tier.
func (p *Pyramid) TileRect(id tile.ID) (x, y, w, h int) {
	t := p.tiers[id.Tier]
	x, y = id.Offset(p.TileWidth, p.TileHeight)
	w = min(p.TileWidth, t.Width-x)
	h = min(p.TileHeight, t.Height-y)
	return x, y, w, h
}

// TileRange returns the tiles of tier i intersecting bounds given in image pixels.
func (p *Pyramid) TileRange(i int, bounds geom.Rect) TileRange {
	t := p.tiers[i]
	z := p.TierZoom(i)
	zy := float64(t.Height) / float64(p.ImageHeight)
	r := TileRange{
		Tier:   i,
		MinCol: max(0, int(math.Floor(bounds.Min.X*z/float64(p.TileWidth)))),
		MinRow: max(0, int(math.Floor(bounds.Min.Y*zy/float64(p.TileHeight)))),
		MaxCol: min(t.Cols-1, int(math.Ceil(bounds.Max.X*z/float64(p.TileWidth)))-1),
		MaxRow: min(t.Rows-1, int(math.Ceil(bounds.Max.Y*zy/float64(p.TileHeight)))-1),
	}
	return r
}

// FullRange returns all tiles of tier i.
func (p *Pyramid) FullRange(i int) TileRange {
	t := p.tiers[i]
	return TileRange{Tier: i, MaxCol: t.Cols - 1, MaxRow: t.Rows - 1}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
