// Package tilecache decides which tiles of a view are available, requests the missing ones
// at most once each, and keeps decoded tiles in a bounded LRU cache.
//
// A tile moves from unrequested to requested to loaded. Requested tiles are never requested
// again until they arrive or fail; a failure returns the tile to unrequested. Skip tiles are
// cached as present without being fetched. The Manager is confined to the scheduler loop.
package tilecache

import (
	"errors"
	"image"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/eak1mov/go-deepview/netconn"
	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/sched"
	"github.com/eak1mov/go-deepview/source"
	"github.com/eak1mov/go-deepview/tile"
)

const (
	DefaultMaxTiles = 500
	DefaultFadeTick = 50 * time.Millisecond
	DefaultFadeStep = 0.2
)

// alphaEpsilon absorbs the rounding of repeated fade steps.
const alphaEpsilon = 1e-9

var ErrInvalidCapacity = errors.New("deepview: invalid tile cache capacity")

// Tile is a loaded tile. Image is nil for skip tiles.
type Tile struct {
	ID    tile.ID
	Layer tile.Layer
	Image image.Image
	Skip  bool
	// Alpha is the fade-in opacity in [0, 1].
	Alpha float64
}

// Order is the order in which a batch of tiles is requested.
type Order uint8

const (
	OrderCenterOut Order = iota
	OrderRowMajor
)

// ImageLoader loads decoded images, see netconn.Connector.
type ImageLoader interface {
	LoadImage(req netconn.ImageRequest, done func(image.Image, error))
}

type config struct {
	maxTiles int
	fadeTick time.Duration
	fadeStep float64
	logger   *slog.Logger
}

type Option func(*config)

// WithMaxTiles sets the cache capacity.
func WithMaxTiles(n int) Option {
	return func(c *config) {
		c.maxTiles = n
	}
}

// WithFade sets the fade-in tick interval and the alpha added per tick.
// A step of 1 or more shows tiles immediately.
func WithFade(tick time.Duration, step float64) Option {
	return func(c *config) {
		c.fadeTick = tick
		c.fadeStep = step
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Selection splits a tile range into cached tiles and tiles that still have to be requested.
// Tiles in flight are in neither list.
type Selection struct {
	Cached    []*Tile
	ToRequest []tile.ID
}

// Manager owns the tile cache of one image.
type Manager struct {
	sched  sched.Scheduler
	src    source.Source
	loader ImageLoader
	config config

	cache     *lru.Cache // tile.ID -> *Tile
	requested map[tile.ID]tile.Layer
	inView    map[tile.ID]struct{}
	fading    map[tile.ID]*Tile
	fadeTask  *sched.Task
	issued    int

	onArrive func(*Tile)
	onFail   func(tile.ID, error)
	onFade   func()
}

// New creates a manager loading the tiles of src through loader.
// It installs itself as the resolved handler of src.
func New(s sched.Scheduler, src source.Source, loader ImageLoader, opts ...Option) (*Manager, error) {
	c := config{
		maxTiles: DefaultMaxTiles,
		fadeTick: DefaultFadeTick,
		fadeStep: DefaultFadeStep,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.maxTiles <= 0 {
		return nil, ErrInvalidCapacity
	}

	m := &Manager{
		sched:     s,
		src:       src,
		loader:    loader,
		config:    c,
		requested: make(map[tile.ID]tile.Layer),
		inView:    make(map[tile.ID]struct{}),
		fading:    make(map[tile.ID]*Tile),
		onArrive:  func(*Tile) {},
		onFail:    func(tile.ID, error) {},
		onFade:    func() {},
	}
	cache, err := lru.NewWithEvict(c.maxTiles, m.evicted)
	if err != nil {
		return nil, err
	}
	m.cache = cache
	src.SetResolvedHandler(m.resolved)
	return m, nil
}

// SetArrivalHandler installs the function called for every tile that enters the cache.
func (m *Manager) SetArrivalHandler(f func(*Tile)) {
	m.onArrive = f
}

// SetFailureHandler installs the function called when a tile fails to load.
func (m *Manager) SetFailureHandler(f func(tile.ID, error)) {
	m.onFail = f
}

// SetFadeHandler installs the function called after every fade-in tick.
func (m *Manager) SetFadeHandler(f func()) {
	m.onFade = f
}

func (m *Manager) Pyramid() *pyramid.Pyramid {
	return m.src.Pyramid()
}

// Get returns the cached tile without changing its recency.
func (m *Manager) Get(id tile.ID) (*Tile, bool) {
	v, ok := m.cache.Peek(id)
	if !ok {
		return nil, false
	}
	return v.(*Tile), true
}

// Requested reports whether the tile is in flight.
func (m *Manager) Requested(id tile.ID) bool {
	_, ok := m.requested[id]
	return ok
}

// Len returns the number of cached tiles.
func (m *Manager) Len() int {
	return m.cache.Len()
}

// Outstanding returns the number of tiles in flight.
func (m *Manager) Outstanding() int {
	return len(m.requested)
}

// Issued returns the number of tile requests issued so far.
func (m *Manager) Issued() int {
	return m.issued
}

// Fading returns the number of tiles still fading in.
func (m *Manager) Fading() int {
	return len(m.fading)
}

// Select returns the cached tiles of r and the tiles of r that are neither cached nor in flight.
func (m *Manager) Select(r pyramid.TileRange) Selection {
	var s Selection
	for id := range r.IDs() {
		if t, ok := m.Get(id); ok {
			s.Cached = append(s.Cached, t)
		} else if !m.Requested(id) {
			s.ToRequest = append(s.ToRequest, id)
		}
	}
	return s
}

// Touch marks a tile as displayed in the current view and as most recently used.
func (m *Manager) Touch(id tile.ID) {
	if _, ok := m.cache.Get(id); ok {
		m.inView[id] = struct{}{}
	}
}

// ClearView empties the in-view set before a new view is drawn.
func (m *Manager) ClearView() {
	clear(m.inView)
}

// InView returns the number of cached tiles displayed in the current view.
func (m *Manager) InView() int {
	return len(m.inView)
}

// Request asks for every tile of ids that is neither cached nor in flight.
func (m *Manager) Request(ids []tile.ID, layer tile.Layer, order Order) {
	if order == OrderCenterOut {
		ids = append([]tile.ID(nil), ids...)
		pyramid.SortCenterOut(ids)
	}
	for _, id := range ids {
		if m.cache.Contains(id) || m.Requested(id) {
			continue
		}
		m.requested[id] = layer
		m.handle(id, layer, m.src.Resolve(id, layer))
	}
}

func (m *Manager) resolved(id tile.ID, layer tile.Layer, r source.Resolution) {
	if _, ok := m.requested[id]; !ok {
		return
	}
	m.handle(id, layer, r)
}

func (m *Manager) handle(id tile.ID, layer tile.Layer, r source.Resolution) {
	switch r.Status {
	case source.StatusPending:
	case source.StatusSkip:
		delete(m.requested, id)
		m.store(&Tile{ID: id, Layer: layer, Skip: true, Alpha: 1})
	case source.StatusFailed:
		m.fail(id, r.Err)
	case source.StatusReady:
		m.load(id, layer, r.Request)
	}
}

func (m *Manager) load(id tile.ID, layer tile.Layer, req source.Request) {
	m.issued++
	if req.Generate != nil {
		m.sched.Post(func() {
			img, err := req.Generate()
			m.arrived(id, layer, img, err)
		})
		return
	}
	purpose := netconn.PurposeTile
	if layer == tile.LayerNavigator {
		purpose = netconn.PurposeThumbnail
	}
	m.loader.LoadImage(netconn.ImageRequest{URL: req.URL, Range: req.Range, Purpose: purpose}, func(img image.Image, err error) {
		m.arrived(id, layer, img, err)
	})
}

func (m *Manager) arrived(id tile.ID, layer tile.Layer, img image.Image, err error) {
	if _, ok := m.requested[id]; !ok {
		return // purged
	}
	delete(m.requested, id)
	if err != nil {
		m.fail(id, err)
		return
	}
	if img == nil {
		m.store(&Tile{ID: id, Layer: layer, Skip: true, Alpha: 1})
		return
	}
	t := &Tile{ID: id, Layer: layer, Image: img, Alpha: 1}
	if m.config.fadeStep < 1 && m.config.fadeTick > 0 {
		t.Alpha = 0
		m.fading[id] = t
		if !m.fadeTask.Active() {
			m.fadeTask = m.sched.Every(m.config.fadeTick, m.fadeTick)
		}
	}
	m.store(t)
}

func (m *Manager) fail(id tile.ID, err error) {
	delete(m.requested, id)
	m.config.logger.Debug("tilecache: load failed", "tile", id.Name(), "error", err)
	m.onFail(id, err)
}

func (m *Manager) store(t *Tile) {
	m.cache.Add(t.ID, t)
	m.onArrive(t)
}

func (m *Manager) evicted(key, _ any) {
	id := key.(tile.ID)
	delete(m.inView, id)
	delete(m.fading, id)
}

func (m *Manager) fadeTick() {
	for id, t := range m.fading {
		t.Alpha += m.config.fadeStep
		if t.Alpha >= 1-alphaEpsilon {
			t.Alpha = 1
			delete(m.fading, id)
		}
	}
	if len(m.fading) == 0 {
		m.fadeTask.Cancel()
	}
	m.onFade()
}

// Purge drops every cached tile and forgets tiles in flight; their late arrivals are ignored.
func (m *Manager) Purge() {
	m.fadeTask.Cancel()
	clear(m.requested)
	m.cache.Purge()
	clear(m.inView)
	clear(m.fading)
}
