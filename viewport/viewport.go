// Package viewport implements the viewport controller: it owns the pan, zoom and rotation of one
// image, selects the tiers to draw, requests missing tiles through the tile cache and redraws the
// render pipeline as tiles arrive.
//
// A Viewport is confined to the goroutine of its scheduler. Interactions (continuous zoom and pan,
// drag glides, animated transitions and rotations) run as scheduler tasks; starting a directed
// interaction cancels the running one.
package viewport

import (
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/eak1mov/go-deepview/geom"
	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/render"
	"github.com/eak1mov/go-deepview/sched"
	"github.com/eak1mov/go-deepview/source"
	"github.com/eak1mov/go-deepview/tile"
	"github.com/eak1mov/go-deepview/tilecache"
)

type Viewport struct {
	id       string
	sched    sched.Scheduler
	config   config
	logger   *slog.Logger
	src      source.Source
	pyramid  *pyramid.Pyramid
	cache    *tilecache.Manager
	pipeline *render.Pipeline
	image    geom.Size
	size     geom.Size

	view  geom.View
	prior geom.View
	// tier and scale are the source of the zoom: zoom = scale * TierZoom(tier).
	tier  int
	scale float64

	zoomFit  float64
	zoomFill float64
	minZoom  float64
	maxZoom  float64
	home     geom.View

	// State of the last updateView pass.
	drawn     geom.View
	drawnSize geom.Size
	hasDrawn  bool
	tiers     render.Tiers
	needed    map[tile.Layer]map[tile.ID]struct{}
	complete  bool
	updates   int

	status      Status
	interaction Interaction
	task        *sched.Task
	zoomDir     ZoomDirection
	panDir      PanDirection
	velocity    geom.Point

	watchdog    *sched.Task
	watchStart  time.Time
	watchLoaded int
	loaded      int
	retries     int
	lastWarning error

	callbacks    map[Event][]callback
	nextCallback CallbackID
}

// New creates an uninitialized viewport of the given display size showing src.
// Tiles with URLs are loaded through loader. Call Start once the host is ready.
func New(s sched.Scheduler, src source.Source, loader tilecache.ImageLoader, size geom.Size, opts ...Option) (*Viewport, error) {
	c := defaultConfig()
	for _, opt := range opts {
		opt(&c)
	}

	id := uuid.NewString()
	logger := c.logger.With(slog.String("viewport", id))
	p := src.Pyramid()
	cache, err := tilecache.New(s, src, loader, append([]tilecache.Option{tilecache.WithLogger(logger)}, c.cacheOptions...)...)
	if err != nil {
		return nil, err
	}
	pipeline := render.New(p, size, append([]render.Option{render.WithLogger(logger)}, c.renderOptions...)...)

	v := &Viewport{
		id:        id,
		sched:     s,
		config:    c,
		logger:    logger,
		src:       src,
		pyramid:   p,
		cache:     cache,
		pipeline:  pipeline,
		image:     geom.Size{W: float64(p.ImageWidth), H: float64(p.ImageHeight)},
		size:      size,
		needed:    make(map[tile.Layer]map[tile.ID]struct{}),
		status:    StatusInteractive,
		callbacks: make(map[Event][]callback),
	}
	cache.SetArrivalHandler(v.arrived)
	cache.SetFailureHandler(v.failed)
	cache.SetFadeHandler(v.faded)
	pipeline.SetWarningHandler(v.warn)
	v.ValidateXYZDefaults(true)
	return v, nil
}

// Start marks the viewport initialized and draws the initial view.
func (v *Viewport) Start() {
	if v.status.Has(StatusInitialized) {
		return
	}
	v.status |= StatusInitialized
	v.logger.Debug("viewport: initialized",
		"width", v.pyramid.ImageWidth, "height", v.pyramid.ImageHeight, "tiers", v.pyramid.TierCount())
	v.updateView(true)
	v.emit(EventInitialized)
}

// Close stops all interactions and timers and drops cached tiles.
func (v *Viewport) Close() error {
	v.cancelInteraction()
	v.watchdog.Cancel()
	v.cache.Purge()
	v.status &^= StatusInitialized
	if c, ok := v.src.(source.Closer); ok {
		return c.Close()
	}
	return nil
}

func (v *Viewport) ID() string {
	return v.id
}

func (v *Viewport) Pyramid() *pyramid.Pyramid {
	return v.pyramid
}

func (v *Viewport) Cache() *tilecache.Manager {
	return v.cache
}

func (v *Viewport) Pipeline() *render.Pipeline {
	return v.pipeline
}

// Frame returns the composited view, nil in placement mode.
func (v *Viewport) Frame() *image.RGBA {
	return v.pipeline.Frame()
}

func (v *Viewport) ImageSize() geom.Size {
	return v.image
}

func (v *Viewport) Size() geom.Size {
	return v.size
}

// View returns the current view.
func (v *Viewport) View() geom.View {
	return v.view
}

// PriorView returns the view before the last directed view change.
func (v *Viewport) PriorView() geom.View {
	return v.prior
}

// GetZoom returns the zoom derived from the frontfill tier and its scale.
func (v *Viewport) GetZoom() float64 {
	return v.scale * v.pyramid.TierZoom(v.tier)
}

func (v *Viewport) GetRotation() float64 {
	return v.view.Rotation
}

// Tiers returns the tiers of the last drawn view.
func (v *Viewport) Tiers() render.Tiers {
	return v.tiers
}

// Updates returns the number of updateView passes that redrew the view.
func (v *Viewport) Updates() int {
	return v.updates
}

// LastWarning returns the last recoverable problem reported by the viewport.
func (v *Viewport) LastWarning() error {
	return v.lastWarning
}

// ZoomLimits returns the minimum and maximum zoom for the current rotation.
func (v *Viewport) ZoomLimits() (minZoom, maxZoom float64) {
	return v.minZoom, v.maxZoom
}

func (v *Viewport) CalculateZoomToFit(rotation float64) float64 {
	return geom.ZoomToFit(v.image, v.size, geom.NormalizeRotation(rotation))
}

func (v *Viewport) CalculateZoomToFill(rotation float64) float64 {
	return geom.ZoomToFill(v.image, v.size, geom.NormalizeRotation(rotation))
}

func (v *Viewport) zoomLimits(rotation int) (lo, hi float64) {
	lo, hi = v.config.minZoom, v.config.maxZoom
	if lo <= 0 {
		lo = geom.ZoomToFit(v.image, v.size, rotation)
	}
	if hi <= 0 {
		hi = DefaultMaxZoom
	}
	return min(lo, hi), hi
}

// ValidateXYZDefaults recomputes zoom to fit and fill for the viewport size and rotation,
// clamps the zoom limits and the initial view against them and clamps the current view.
// With reset the view is set to the initial view. It does not redraw.
func (v *Viewport) ValidateXYZDefaults(reset bool) {
	rotation := geom.NormalizeRotation(v.view.Rotation)
	home := geom.View{X: v.image.W / 2, Y: v.image.H / 2}
	if v.config.initial != nil {
		home = *v.config.initial
	}
	if reset {
		rotation = geom.NormalizeRotation(home.Rotation)
	}
	v.zoomFit = geom.ZoomToFit(v.image, v.size, rotation)
	v.zoomFill = geom.ZoomToFill(v.image, v.size, rotation)
	v.minZoom, v.maxZoom = v.zoomLimits(rotation)

	if home.Zoom <= 0 {
		lo, _ := v.zoomLimits(geom.NormalizeRotation(home.Rotation))
		home.Zoom = lo
	}
	v.home = v.clamp(home)
	if reset {
		v.setView(v.home)
	} else {
		v.setView(v.clamp(v.view))
	}
}

// clamp constrains rotation to a multiple of 90, zoom to the limits of that rotation and pan.
func (v *Viewport) clamp(target geom.View) geom.View {
	rotation := geom.NormalizeRotation(target.Rotation)
	lo, hi := v.zoomLimits(rotation)
	zoom := target.Zoom
	if !(zoom >= lo) {
		zoom = lo
	}
	zoom = min(zoom, hi)
	out := geom.View{X: target.X, Y: target.Y, Zoom: zoom, Rotation: float64(rotation)}
	out.X, out.Y = geom.ConstrainPan(out, v.image, v.size, v.config.panConstraint)
	return out
}

// setView stores a view without redrawing. The stored zoom is derived from the selected tier.
func (v *Viewport) setView(nv geom.View) {
	old := v.view
	v.tier = v.pyramid.SelectTier(nv.Zoom, v.config.tierUpscaleMax)
	v.scale = nv.Zoom / v.pyramid.TierZoom(v.tier)
	nv.Zoom = v.GetZoom()
	v.view = nv

	if rotation := geom.NormalizeRotation(nv.Rotation); float64(rotation) == nv.Rotation && nv.Rotation != old.Rotation {
		v.zoomFit = geom.ZoomToFit(v.image, v.size, rotation)
		v.zoomFill = geom.ZoomToFill(v.image, v.size, rotation)
		v.minZoom, v.maxZoom = v.zoomLimits(rotation)
	}
	if nv.Zoom != old.Zoom {
		v.emit(EventViewZoomed)
	}
	if nv.X != old.X || nv.Y != old.Y {
		v.emit(EventViewPanned)
	}
	if nv.Rotation != old.Rotation {
		v.emit(EventViewRotated)
	}
}

// SetView jumps to a view, subject to the zoom, rotation and pan constraints.
func (v *Viewport) SetView(x, y, zoom, rotation float64) {
	v.cancelInteraction()
	v.prior = v.view
	v.setView(v.clamp(geom.View{X: x, Y: y, Zoom: zoom, Rotation: rotation}))
	v.updateView(false)
}

// Reset returns to the initial view.
func (v *Viewport) Reset() {
	v.SetView(v.home.X, v.home.Y, v.home.Zoom, v.home.Rotation)
}

// ResizeViewport changes the display size and redraws.
func (v *Viewport) ResizeViewport(size geom.Size) {
	v.size = size
	v.pipeline.Resize(size)
	v.ValidateXYZDefaults(false)
	v.updateView(true)
	v.emit(EventResized)
}

// DisplayBoundingBoxInPixels returns the image pixels visible in the viewport, clipped to the
// image. With buffer the pan buffer is included.
func (v *Viewport) DisplayBoundingBoxInPixels(buffer bool) geom.Rect {
	b := 0.0
	if buffer {
		b = v.config.panBuffer
	}
	imageRect := geom.Rect{Max: geom.Point{X: v.image.W, Y: v.image.H}}
	return geom.ViewBounds(v.view, v.size, b).Intersect(imageRect)
}

// DisplayBoundingBoxInTiles returns the frontfill tiles visible in the viewport.
func (v *Viewport) DisplayBoundingBoxInTiles(buffer bool) pyramid.TileRange {
	return v.pyramid.TileRange(v.tier, v.DisplayBoundingBoxInPixels(buffer))
}

func (v *Viewport) warn(err error) {
	v.lastWarning = err
	v.emit(EventWarning)
}
