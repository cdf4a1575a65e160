// Package render composites cached tiles into the layers of a view.
//
// Layers are drawn back to front: oversize backfill, backfill, frontfill. In ModeCanvas every
// layer is an RGBA surface the size of the viewport and tiles are drawn with one affine transform
// per tier. In ModePlacement no pixels are produced; every drawn tile gets a display rectangle the
// host positions itself.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"slices"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/eak1mov/go-deepview/geom"
	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/tile"
	"github.com/eak1mov/go-deepview/tilecache"
)

// DefaultMaxSurfacePixels bounds the static backfill surface.
const DefaultMaxSurfacePixels = 16 << 20

var ErrSurfaceTooLarge = errors.New("deepview: render surface too large")

type Mode uint8

const (
	ModeCanvas Mode = iota
	ModePlacement
)

func (m Mode) String() string {
	switch m {
	case ModeCanvas:
		return "canvas"
	case ModePlacement:
		return "placement"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// NoTier disables a layer in Tiers.
const NoTier = -1

// Tiers selects the tier drawn by each layer.
type Tiers struct {
	Frontfill int
	Backfill  int
	Oversize  int
	// DynamicBackfill redraws the backfill for every view like the frontfill
	// instead of rendering it once at tier resolution.
	DynamicBackfill bool
}

// Placement positions one tile in display pixels. The tile is rotated by Rotation degrees
// around the center of the Left, Top, Width, Height rectangle.
type Placement struct {
	Name     string
	Left     float64
	Top      float64
	Width    float64
	Height   float64
	Rotation float64
	Alpha    float64
}

// Preview moves the composed frame without redrawing it, used while dragging and zooming
// continuously. Scale is applied around the viewport center before Offset.
type Preview struct {
	Offset geom.Point
	Scale  float64
}

func (p Preview) identity() bool {
	return p.Offset == (geom.Point{}) && (p.Scale == 1 || p.Scale == 0)
}

type config struct {
	mode             Mode
	interpolator     draw.Interpolator
	background       color.Color
	maxSurfacePixels int
	logger           *slog.Logger
}

type Option func(*config)

func WithMode(mode Mode) Option {
	return func(c *config) {
		c.mode = mode
	}
}

// WithInterpolator sets the interpolator of tile transforms, draw.ApproxBiLinear by default.
func WithInterpolator(interp draw.Interpolator) Option {
	return func(c *config) {
		c.interpolator = interp
	}
}

// WithBackground sets the color behind all layers, transparent by default.
func WithBackground(bg color.Color) Option {
	return func(c *config) {
		c.background = bg
	}
}

// WithMaxSurfacePixels bounds the static backfill surface. Larger backfill tiers are drawn
// dynamically and reported through the warning handler.
func WithMaxSurfacePixels(n int) Option {
	return func(c *config) {
		c.maxSurfacePixels = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// layer holds the tiles drawn for one tier, in drawing order.
type layer struct {
	kind    tile.Layer
	tier    int
	tiles   []*tilecache.Tile
	drawn   map[tile.ID]struct{}
	surface *image.RGBA
}

func newLayer(kind tile.Layer) *layer {
	return &layer{kind: kind, tier: NoTier, drawn: make(map[tile.ID]struct{})}
}

func (l *layer) reset() {
	l.tiles = l.tiles[:0]
	clear(l.drawn)
}

func (l *layer) add(t *tilecache.Tile) bool {
	if _, ok := l.drawn[t.ID]; ok {
		return false
	}
	l.drawn[t.ID] = struct{}{}
	l.tiles = append(l.tiles, t)
	return true
}

// Pipeline owns the drawing surfaces of one viewport. It reads tiles but never owns them.
type Pipeline struct {
	config   config
	pyramid  *pyramid.Pyramid
	viewport geom.Size
	view     geom.View
	tiers    Tiers
	preview  Preview

	oversize  *layer
	backfill  *layer
	frontfill *layer

	// static holds the backfill tier at its own resolution when the backfill is not dynamic.
	static *image.RGBA
	// retained holds the frontfill tiles of the previous tier while the current tier loads.
	// back is the transition buffer they are drawn into at the current view.
	retained *layer
	back     *image.RGBA
	swaps    int
	frame    *image.RGBA

	onWarning func(error)
}

// New creates a pipeline for an image with pyramid p shown in a viewport of the given size.
func New(p *pyramid.Pyramid, viewport geom.Size, opts ...Option) *Pipeline {
	c := config{
		mode:             ModeCanvas,
		interpolator:     draw.ApproxBiLinear,
		background:       color.Transparent,
		maxSurfacePixels: DefaultMaxSurfacePixels,
		logger:           slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&c)
	}
	pl := &Pipeline{
		config:    c,
		pyramid:   p,
		tiers:     Tiers{Frontfill: NoTier, Backfill: NoTier, Oversize: NoTier},
		oversize:  newLayer(tile.LayerOversize),
		backfill:  newLayer(tile.LayerBackfill),
		frontfill: newLayer(tile.LayerFrontfill),
		onWarning: func(error) {},
	}
	pl.Resize(viewport)
	return pl
}

// SetWarningHandler installs the function called for recoverable rendering problems.
func (p *Pipeline) SetWarningHandler(f func(error)) {
	p.onWarning = f
}

func (p *Pipeline) Mode() Mode {
	return p.config.mode
}

func (p *Pipeline) Viewport() geom.Size {
	return p.viewport
}

func (p *Pipeline) View() geom.View {
	return p.view
}

func (p *Pipeline) Tiers() Tiers {
	return p.tiers
}

// Swaps returns the number of transition buffer swaps so far.
func (p *Pipeline) Swaps() int {
	return p.swaps
}

// Resize reallocates the surfaces for a new viewport size. Layers are redrawn by the next Begin.
func (p *Pipeline) Resize(viewport geom.Size) {
	p.viewport = viewport
	p.frame = nil
	if p.config.mode != ModeCanvas {
		return
	}
	r := image.Rect(0, 0, int(math.Ceil(viewport.W)), int(math.Ceil(viewport.H)))
	for _, l := range p.layers() {
		l.surface = image.NewRGBA(r)
	}
	p.back = image.NewRGBA(r)
}

func (p *Pipeline) layers() []*layer {
	return []*layer{p.oversize, p.backfill, p.frontfill}
}

func (p *Pipeline) layer(kind tile.Layer) *layer {
	switch kind {
	case tile.LayerOversize:
		return p.oversize
	case tile.LayerBackfill:
		return p.backfill
	case tile.LayerFrontfill:
		return p.frontfill
	}
	return nil
}

// Tiles returns the tiles drawn in a layer, in drawing order.
func (p *Pipeline) Tiles(kind tile.Layer) []*tilecache.Tile {
	if l := p.layer(kind); l != nil {
		return slices.Clone(l.tiles)
	}
	return nil
}

// Begin starts drawing view v. Dynamic layers are cleared and must be redrawn from the cache.
// The static backfill keeps its tiles while its tier stays the same and is reprojected at once.
//
// On a frontfill tier change the tiles of the previous tier are kept in the transition buffer
// and shown in place of the frontfill. The new tier assembles off screen and is swapped in by
// EndLoad.
func (p *Pipeline) Begin(v geom.View, tiers Tiers) {
	p.view = v
	p.preview = Preview{}
	p.frame = nil

	if tiers.Frontfill != p.tiers.Frontfill {
		switch {
		case p.retained != nil && p.retained.tier == tiers.Frontfill:
			p.retained = nil
		case p.retained == nil && len(p.frontfill.tiles) > 0:
			p.retained = newLayer(tile.LayerFrontfill)
			p.retained.tier = p.frontfill.tier
			p.retained.tiles = slices.Clone(p.frontfill.tiles)
		}
	}
	if tiers.Backfill != p.tiers.Backfill || tiers.DynamicBackfill != p.tiers.DynamicBackfill {
		p.static = nil
		p.backfill.reset()
		if !tiers.DynamicBackfill && tiers.Backfill != NoTier {
			p.static = p.newStatic(tiers.Backfill)
		}
	} else if p.static == nil {
		p.backfill.reset()
	}
	p.tiers = tiers

	p.oversize.tier = tiers.Oversize
	p.backfill.tier = tiers.Backfill
	p.frontfill.tier = tiers.Frontfill
	p.oversize.reset()
	p.frontfill.reset()

	if p.config.mode != ModeCanvas {
		return
	}
	clearSurface(p.oversize.surface)
	clearSurface(p.frontfill.surface)
	clearSurface(p.backfill.surface)
	if p.static != nil {
		p.transform(p.backfill.surface, p.static, p.backfill.tier, 0, 0)
	}
	p.drawRetained()
}

// Transitioning reports whether the previous tier is shown while the current one loads.
func (p *Pipeline) Transitioning() bool {
	return p.retained != nil
}

func (p *Pipeline) drawRetained() {
	if p.retained == nil || p.config.mode != ModeCanvas {
		return
	}
	clearSurface(p.back)
	for _, t := range p.retained.tiles {
		p.drawTile(p.back, t)
	}
}

func (p *Pipeline) newStatic(tier int) *image.RGBA {
	t := p.pyramid.Tier(tier)
	if p.config.mode != ModeCanvas {
		return nil
	}
	if t.Width*t.Height > p.config.maxSurfacePixels {
		err := fmt.Errorf("%w: backfill tier %v is %vx%v", ErrSurfaceTooLarge, tier, t.Width, t.Height)
		p.config.logger.Warn("render: static backfill disabled", "tier", tier, "error", err)
		p.onWarning(err)
		return nil
	}
	return image.NewRGBA(image.Rect(0, 0, t.Width, t.Height))
}

// Draw draws a cached tile into a layer. Tiles of other tiers, skip tiles and tiles already
// drawn for this view are ignored. It reports whether the tile was drawn.
func (p *Pipeline) Draw(kind tile.Layer, t *tilecache.Tile) bool {
	l := p.layer(kind)
	if l == nil || l.tier == NoTier || t.ID.Tier != l.tier || t.Skip || t.Image == nil {
		return false
	}
	if !l.add(t) {
		return false
	}
	p.frame = nil
	if p.config.mode != ModeCanvas {
		return true
	}
	switch {
	case l == p.backfill && p.static != nil:
		x, y := t.ID.Offset(p.pyramid.TileWidth, p.pyramid.TileHeight)
		b := t.Image.Bounds()
		draw.Draw(p.static, b.Sub(b.Min).Add(image.Pt(x, y)), t.Image, b.Min, draw.Over)
		p.drawTile(l.surface, t)
	default:
		p.drawTile(l.surface, t)
	}
	return true
}

// EndLoad marks the frontfill of the current tier as complete and swaps it in for the
// previous tier, if one is still shown.
func (p *Pipeline) EndLoad() {
	if p.retained == nil {
		return
	}
	p.retained = nil
	p.frame = nil
	clearSurface(p.back)
	p.swaps++
}

// Refresh redraws the dynamic layers from their drawn tiles, used while tiles fade in.
func (p *Pipeline) Refresh() {
	p.frame = nil
	if p.config.mode != ModeCanvas {
		return
	}
	for _, l := range p.layers() {
		if l == p.backfill && p.static != nil {
			continue
		}
		clearSurface(l.surface)
		for _, t := range l.tiles {
			p.drawTile(l.surface, t)
		}
	}
	p.drawRetained()
}

// SetPreview moves the composed frame until the next Begin.
func (p *Pipeline) SetPreview(pv Preview) {
	p.preview = pv
	p.frame = nil
}

func (p *Pipeline) Preview() Preview {
	return p.preview
}

func (p *Pipeline) drawTile(dst *image.RGBA, t *tilecache.Tile) {
	p.drawTileMoved(dst, t, noMove)
}

// drawTileMoved draws a tile with the display transform m applied after its view transform.
func (p *Pipeline) drawTileMoved(dst *image.RGBA, t *tilecache.Tile, m f64.Aff3) {
	x, y := t.ID.Offset(p.pyramid.TileWidth, p.pyramid.TileHeight)
	b := t.Image.Bounds()
	s2d := mul(m, p.tierToDisplay(t.ID.Tier, float64(x-b.Min.X), float64(y-b.Min.Y)))
	p.config.interpolator.Transform(dst, s2d, faded(t.Image, t.Alpha), b, draw.Over, nil)
}

func (p *Pipeline) transform(dst *image.RGBA, src image.Image, tier int, dx, dy float64) {
	p.transformMoved(dst, src, tier, dx, dy, noMove)
}

func (p *Pipeline) transformMoved(dst *image.RGBA, src image.Image, tier int, dx, dy float64, m f64.Aff3) {
	s2d := mul(m, p.tierToDisplay(tier, dx, dy))
	p.config.interpolator.Transform(dst, s2d, src, src.Bounds(), draw.Over, nil)
}

var noMove = f64.Aff3{1, 0, 0, 0, 1, 0}

// mul returns the transform applying b, then a.
func mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3], a[0]*b[1] + a[1]*b[4], a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3], a[3]*b[1] + a[4]*b[4], a[3]*b[2] + a[4]*b[5] + a[5],
	}
}

// tierToDisplay maps pixels of tier, shifted by dx, dy, to display pixels.
func (p *Pipeline) tierToDisplay(tier int, dx, dy float64) f64.Aff3 {
	t := p.pyramid.Tier(tier)
	v := p.view
	kx := v.Zoom * float64(p.pyramid.ImageWidth) / float64(t.Width)
	ky := v.Zoom * float64(p.pyramid.ImageHeight) / float64(t.Height)
	c, s := sincos(v.Rotation)
	u0 := kx*dx - v.Zoom*v.X
	w0 := ky*dy - v.Zoom*v.Y
	vc := p.viewport.Center()
	return f64.Aff3{
		c * kx, -s * ky, c*u0 - s*w0 + vc.X,
		s * kx, c * ky, s*u0 + c*w0 + vc.Y,
	}
}

// sincos is exact for multiples of 90 degrees.
func sincos(deg float64) (c, s float64) {
	switch math.Mod(deg, 360) {
	case 0:
		return 1, 0
	case 90, -270:
		return 0, 1
	case 180, -180:
		return -1, 0
	case 270, -90:
		return 0, -1
	}
	s, c = math.Sincos(deg * math.Pi / 180)
	return c, s
}

func faded(img image.Image, alpha float64) image.Image {
	if alpha >= 1 {
		return img
	}
	b := img.Bounds()
	out := image.NewRGBA(b)
	mask := image.NewUniform(color.Alpha{A: uint8(math.Round(max(0, alpha) * 0xff))})
	draw.DrawMask(out, b, img, b.Min, mask, image.Point{}, draw.Src)
	return out
}

func clearSurface(s *image.RGBA) {
	if s != nil {
		draw.Draw(s, s.Bounds(), image.Transparent, image.Point{}, draw.Src)
	}
}

// Frame composites the layers back to front and applies the preview.
// It returns nil in ModePlacement.
//
// Under a preview the oversize layer and the static backfill cover the whole image and are
// reprojected at the previewed view. The viewport-sized layers are moved as drawn.
func (p *Pipeline) Frame() *image.RGBA {
	if p.config.mode != ModeCanvas {
		return nil
	}
	if p.frame != nil {
		return p.frame
	}
	r := p.frontfill.surface.Bounds()
	composed := image.NewRGBA(r)
	draw.Draw(composed, r, image.NewUniform(p.config.background), image.Point{}, draw.Src)
	if p.preview.identity() {
		p.compose(composed, p.layers())
		p.frame = composed
		return composed
	}

	m := p.previewTransform()
	if p.oversize.tier != NoTier {
		for _, t := range p.oversize.tiles {
			p.drawTileMoved(composed, t, m)
		}
	}
	moving := []*layer{p.backfill, p.frontfill}
	if p.static != nil {
		p.transformMoved(composed, p.static, p.backfill.tier, 0, 0, m)
		moving = moving[1:]
	}
	drawn := image.NewRGBA(r)
	p.compose(drawn, moving)
	p.config.interpolator.Transform(composed, m, drawn, r, draw.Over, nil)
	p.frame = composed
	return composed
}

// compose draws layer surfaces over dst. The transition buffer stands in for the frontfill
// while the previous tier is retained.
func (p *Pipeline) compose(dst *image.RGBA, layers []*layer) {
	r := dst.Bounds()
	for _, l := range layers {
		if l.tier == NoTier {
			continue
		}
		src := l.surface
		if l == p.frontfill && p.retained != nil {
			src = p.back
		}
		draw.Draw(dst, r, src, r.Min, draw.Over)
	}
}

func (p *Pipeline) previewTransform() f64.Aff3 {
	s := p.preview.Scale
	if s == 0 {
		s = 1
	}
	vc := p.viewport.Center()
	return f64.Aff3{
		s, 0, (1-s)*vc.X + p.preview.Offset.X,
		0, s, (1-s)*vc.Y + p.preview.Offset.Y,
	}
}

// Placements returns the display rectangles of the tiles drawn in a layer, in drawing order.
// The preview is applied. Placements are available in both modes.
func (p *Pipeline) Placements(kind tile.Layer) []Placement {
	l := p.layer(kind)
	if l == nil {
		return nil
	}
	s := p.preview.Scale
	if s == 0 {
		s = 1
	}
	vc := p.viewport.Center()
	out := make([]Placement, 0, len(l.tiles))
	for _, t := range l.tiles {
		x, y, w, h := p.pyramid.TileRect(t.ID)
		tier := p.pyramid.Tier(t.ID.Tier)
		sx := float64(p.pyramid.ImageWidth) / float64(tier.Width)
		sy := float64(p.pyramid.ImageHeight) / float64(tier.Height)
		center := geom.Point{X: (float64(x) + float64(w)/2) * sx, Y: (float64(y) + float64(h)/2) * sy}
		d := geom.ImageToDisplay(p.view, p.viewport, center)
		d = d.Sub(vc).Mul(s).Add(vc).Add(p.preview.Offset)
		dw := float64(w) * sx * p.view.Zoom * s
		dh := float64(h) * sy * p.view.Zoom * s
		out = append(out, Placement{
			Name:     t.ID.Name(),
			Left:     d.X - dw/2,
			Top:      d.Y - dh/2,
			Width:    dw,
			Height:   dh,
			Rotation: p.view.Rotation,
			Alpha:    t.Alpha,
		})
	}
	return out
}
