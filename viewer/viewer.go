// Package viewer ties the engine together. A Viewer owns the event loop and the network
// connector, opens images in any storage format and creates one viewport per image.
//
// Loaded images live in a Context. Loading replaces the whole Context; nothing is cleared in
// place, so callbacks of an older load can never touch the new images. Except for Run, Open,
// OpenSet and Do, Viewer methods must be called on the loop.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/eak1mov/go-deepview/folder"
	"github.com/eak1mov/go-deepview/geom"
	"github.com/eak1mov/go-deepview/mb"
	"github.com/eak1mov/go-deepview/netconn"
	"github.com/eak1mov/go-deepview/packed"
	"github.com/eak1mov/go-deepview/pm"
	"github.com/eak1mov/go-deepview/raw"
	"github.com/eak1mov/go-deepview/sched"
	"github.com/eak1mov/go-deepview/source"
	"github.com/eak1mov/go-deepview/viewport"
)

var (
	ErrNoLoop     = errors.New("deepview: scheduler has no run loop")
	ErrNoImage    = errors.New("deepview: no such image")
	ErrSuperseded = errors.New("deepview: load superseded by a newer load")
)

var DefaultViewportSize = geom.Size{W: 800, H: 600}

type config struct {
	sched         sched.Scheduler
	logger        *slog.Logger
	size          geom.Size
	connOptions   []netconn.Option
	viewOptions   []viewport.Option
	onMessage     func(Message)
	folderOptions []folder.Option
}

type Option func(*config)

// WithScheduler runs the viewer on s instead of a new sched.Loop.
func WithScheduler(s sched.Scheduler) Option {
	return func(c *config) {
		c.sched = s
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithViewportSize sets the display size of new viewports.
func WithViewportSize(size geom.Size) Option {
	return func(c *config) {
		c.size = size
	}
}

func WithConnectorOptions(opts ...netconn.Option) Option {
	return func(c *config) {
		c.connOptions = append(c.connOptions, opts...)
	}
}

func WithViewportOptions(opts ...viewport.Option) Option {
	return func(c *config) {
		c.viewOptions = append(c.viewOptions, opts...)
	}
}

// WithFolderOptions sets the options of folder storage images, such as the tile extension.
func WithFolderOptions(opts ...folder.Option) Option {
	return func(c *config) {
		c.folderOptions = append(c.folderOptions, opts...)
	}
}

// WithMessageHandler sets the function receiving user-visible messages.
func WithMessageHandler(f func(Message)) Option {
	return func(c *config) {
		c.onMessage = f
	}
}

// Context holds the images of one load.
type Context struct {
	paths     []string
	format    Format
	viewports []*viewport.Viewport
	selected  int
	sync      bool
	syncing   bool
}

func (c *Context) Paths() []string {
	return slices.Clone(c.paths)
}

func (c *Context) Format() Format {
	return c.format
}

// Viewports returns the viewports of the images that loaded, in path order.
func (c *Context) Viewports() []*viewport.Viewport {
	return slices.Clone(c.viewports)
}

// Synced reports whether views are mirrored across the viewports.
func (c *Context) Synced() bool {
	return c.sync
}

type Viewer struct {
	config config
	sched  sched.Scheduler
	conn   *netconn.Connector
	logger *slog.Logger
	ctx    *Context
}

func New(opts ...Option) *Viewer {
	c := config{
		logger:    slog.New(slog.DiscardHandler),
		size:      DefaultViewportSize,
		onMessage: func(Message) {},
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.sched == nil {
		c.sched = sched.NewLoop()
	}
	connOptions := append([]netconn.Option{netconn.WithLogger(c.logger)}, c.connOptions...)
	return &Viewer{
		config: c,
		sched:  c.sched,
		conn:   netconn.New(c.sched, connOptions...),
		logger: c.logger,
		ctx:    &Context{},
	}
}

// Run runs the event loop until ctx is done.
func (v *Viewer) Run(ctx context.Context) error {
	r, ok := v.sched.(interface{ Run(context.Context) error })
	if !ok {
		return ErrNoLoop
	}
	return r.Run(ctx)
}

func (v *Viewer) Scheduler() sched.Scheduler {
	return v.sched
}

// Context returns the images of the current load.
func (v *Viewer) Context() *Context {
	return v.ctx
}

// Close aborts loads in flight and closes every viewport.
// Call it on the loop or after Run returned.
func (v *Viewer) Close() error {
	v.conn.Close()
	return v.reset(&Context{})
}

func (v *Viewer) reset(c *Context) error {
	old := v.ctx
	v.ctx = c
	var errs []error
	for _, vp := range old.viewports {
		errs = append(errs, vp.Close())
	}
	return errors.Join(errs...)
}

// Load replaces the current images with the image at path. done, if not nil, runs on the loop
// once the image is shown or failed to load.
func (v *Viewer) Load(path string, format Format, done func(*viewport.Viewport, error)) {
	v.LoadSet([]string{path}, format, func(vps []*viewport.Viewport, err error) {
		if done == nil {
			return
		}
		if len(vps) == 0 {
			done(nil, err)
			return
		}
		done(vps[0], err)
	})
}

// LoadSet replaces the current images with an image set. Images that fail to load are reported
// as fatal messages and left out; done receives the others and the joined errors.
func (v *Viewer) LoadSet(paths []string, format Format, done func([]*viewport.Viewport, error)) {
	if err := v.reset(&Context{paths: slices.Clone(paths), format: format}); err != nil {
		v.logger.Warn("viewer: closing previous images", "error", err)
	}
	c := v.ctx
	loaded := make([]*viewport.Viewport, len(paths))
	errs := make([]error, len(paths))
	remaining := len(paths)
	finish := func() {
		if c != v.ctx {
			if done != nil {
				done(nil, ErrSuperseded)
			}
			return
		}
		c.viewports = slices.DeleteFunc(loaded, func(vp *viewport.Viewport) bool { return vp == nil })
		if done != nil {
			done(c.Viewports(), errors.Join(errs...))
		}
	}
	if remaining == 0 {
		finish()
		return
	}

	for i, path := range paths {
		f := format
		if f == FormatAuto {
			f = DetectFormat(path)
		}
		v.message(MessageStatus, "loading "+path, nil)
		v.openSource(path, f, func(src source.Source, err error) {
			if c != v.ctx {
				closeSource(src)
			} else if err == nil {
				loaded[i], err = v.newViewport(c, src)
			}
			if err != nil {
				errs[i] = fmt.Errorf("%v: %w", path, err)
				v.message(MessageFatal, describe(path, err), err)
			}
			remaining--
			if remaining == 0 {
				finish()
			}
		})
	}
}

// Reload loads the images of the current context again into a new context.
func (v *Viewer) Reload(done func([]*viewport.Viewport, error)) {
	v.LoadSet(v.ctx.paths, v.ctx.format, done)
}

// Open loads an image from any goroutine and waits until it is shown or failed.
// The loop must be running.
func (v *Viewer) Open(ctx context.Context, path string, format Format) (*viewport.Viewport, error) {
	vps, err := v.OpenSet(ctx, []string{path}, format)
	if len(vps) == 0 {
		return nil, err
	}
	return vps[0], err
}

// OpenSet is the blocking form of LoadSet.
func (v *Viewer) OpenSet(ctx context.Context, paths []string, format Format) ([]*viewport.Viewport, error) {
	type result struct {
		vps []*viewport.Viewport
		err error
	}
	ch := make(chan result, 1)
	v.sched.Post(func() {
		v.LoadSet(paths, format, func(vps []*viewport.Viewport, err error) {
			ch <- result{vps, err}
		})
	})
	select {
	case r := <-ch:
		return r.vps, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do runs f with the selected viewport on the loop. It may be called from any goroutine;
// f is not called when no image is loaded.
func (v *Viewer) Do(f func(*viewport.Viewport)) {
	v.sched.Post(func() {
		if vp := v.Selected(); vp != nil {
			f(vp)
		}
	})
}

// Selected returns the selected viewport, nil if no image is loaded.
func (v *Viewer) Selected() *viewport.Viewport {
	if v.ctx.selected >= len(v.ctx.viewports) {
		return nil
	}
	return v.ctx.viewports[v.ctx.selected]
}

// Select makes the i-th viewport of the image set the selected one.
func (v *Viewer) Select(i int) error {
	if i < 0 || i >= len(v.ctx.viewports) {
		return fmt.Errorf("%w: %v of %v", ErrNoImage, i, len(v.ctx.viewports))
	}
	v.ctx.selected = i
	return nil
}

// SyncViews turns mirroring of views across the image set on or off. When turned on, every
// viewport takes the view of the selected one.
func (v *Viewer) SyncViews(on bool) {
	v.ctx.sync = on
	if vp := v.Selected(); on && vp != nil {
		v.mirror(v.ctx, vp)
	}
}

func (v *Viewer) newViewport(c *Context, src source.Source) (*viewport.Viewport, error) {
	opts := append([]viewport.Option{viewport.WithLogger(v.logger)}, v.config.viewOptions...)
	vp, err := viewport.New(v.sched, src, v.conn, v.config.size, opts...)
	if err != nil {
		closeSource(src)
		return nil, err
	}
	if w, ok := src.(interface{ Warning() error }); ok && w.Warning() != nil {
		v.message(MessageWarning, "the image is very large and may display slowly", w.Warning())
	}
	vp.SetCallback(viewport.EventWarning, func(viewport.Event) {
		v.message(MessageWarning, "rendering quality is reduced", vp.LastWarning())
	})
	vp.SetCallback(viewport.EventValidationFailed, func(viewport.Event) {
		v.message(MessageWarning, "some tiles could not be loaded", nil)
	})
	for _, e := range []viewport.Event{viewport.EventViewZoomed, viewport.EventViewPanned, viewport.EventViewRotated} {
		vp.SetCallback(e, func(viewport.Event) { v.mirror(c, vp) })
	}
	vp.Start()
	return vp, nil
}

// mirror copies the view of from to the other viewports of c, scaled to their image sizes.
func (v *Viewer) mirror(c *Context, from *viewport.Viewport) {
	if !c.sync || c.syncing {
		return
	}
	c.syncing = true
	defer func() { c.syncing = false }()

	view, img := from.View(), from.ImageSize()
	for _, to := range c.viewports {
		if to == from {
			continue
		}
		other := to.ImageSize()
		kx, ky := other.W/img.W, other.H/img.H
		to.SetView(view.X*kx, view.Y*ky, view.Zoom/kx, view.Rotation)
	}
}

func (v *Viewer) openSource(path string, format Format, done func(source.Source, error)) {
	if isRemote(path) {
		v.openRemote(path, format, done)
		return
	}
	done(v.openLocal(path, format))
}

func (v *Viewer) openRemote(path string, format Format, done func(source.Source, error)) {
	switch format {
	case FormatFolder:
		folder.Open(v.conn, path, adapt[*folder.Source](done), append([]folder.Option{folder.WithLogger(v.logger)}, v.config.folderOptions...)...)
	case FormatPacked:
		packed.Open(v.conn, path, adapt[*packed.Source](done), packed.WithLogger(v.logger))
	case FormatPM:
		pm.Open(v.conn, path, adapt[*pm.Source](done), pm.WithSourceLogger(v.logger))
	case FormatRaw:
		raw.Open(v.conn, path, adapt[*raw.Source](done), raw.WithLogger(v.logger))
	default:
		done(nil, fmt.Errorf("%w: %v cannot be loaded over the network", ErrUnsupportedFormat, format))
	}
}

// openLocal opens an image on the local file system; tiles are read and decoded on the loop.
func (v *Viewer) openLocal(path string, format Format) (source.Source, error) {
	switch format {
	case FormatFolder:
		r, err := folder.NewReader(path, append([]folder.Option{folder.WithLogger(v.logger)}, v.config.folderOptions...)...)
		if err != nil {
			return nil, err
		}
		return source.NewStore(path, r.Pyramid(), r), nil
	case FormatPacked:
		r, err := packed.NewReader(path)
		if err != nil {
			return nil, err
		}
		return source.NewStore(path, r.Pyramid(), r), nil
	case FormatPM:
		r, err := pm.NewFileReader(path)
		if err != nil {
			return nil, err
		}
		return source.NewStore(path, r.Pyramid(), r), nil
	case FormatMBTiles:
		r, err := mb.NewReader(path)
		if err != nil {
			return nil, err
		}
		return source.NewStore(path, r.Pyramid(), r), nil
	case FormatRaw:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		img, err := netconn.DecodeImage(data)
		if err != nil {
			return nil, err
		}
		s, err := raw.NewSource(img, raw.WithLogger(v.logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
}

// adapt turns the typed done callback of a format package into a source callback.
func adapt[S source.Source](done func(source.Source, error)) func(S, error) {
	return func(s S, err error) {
		if err != nil {
			done(nil, err)
			return
		}
		done(s, nil)
	}
}

func closeSource(src source.Source) {
	if c, ok := src.(source.Closer); ok {
		c.Close()
	}
}
