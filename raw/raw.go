// Package raw serves an unconverted image as a tile pyramid, generating every tile on request
// by scaling the decoded image.
package raw

import (
	"errors"
	"fmt"
	"image"
	"log/slog"

	"golang.org/x/image/draw"

	"github.com/eak1mov/go-deepview/netconn"
	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/source"
	"github.com/eak1mov/go-deepview/tile"
)

// ErrOversized reports an image larger than the configured pixel limit. The source still works,
// but every tier is generated from the full image.
var ErrOversized = errors.New("deepview: raw image exceeds pixel limit")

const (
	DefaultTileSize  = 256
	DefaultMaxPixels = 64 << 20
)

type config struct {
	tileSize  int
	maxPixels int
	scaler    draw.Scaler
	logger    *slog.Logger
}

type Option func(*config)

func WithTileSize(n int) Option {
	return func(c *config) {
		c.tileSize = n
	}
}

// WithMaxPixels sets the size above which the source reports ErrOversized.
func WithMaxPixels(n int) Option {
	return func(c *config) {
		c.maxPixels = n
	}
}

// WithScaler sets the interpolator used to generate tiles, draw.ApproxBiLinear by default.
func WithScaler(s draw.Scaler) Option {
	return func(c *config) {
		c.scaler = s
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// ImageLoader loads decoded images, see netconn.Connector.
type ImageLoader interface {
	LoadImage(req netconn.ImageRequest, done func(image.Image, error))
}

// Source implements source.Source for a decoded image. Every tile resolves as ready with a
// generator; nothing is fetched after the image itself.
type Source struct {
	img     image.Image
	pyramid *pyramid.Pyramid
	config  config
	warning error
}

// Open loads the image at url and calls done with the source.
func Open(loader ImageLoader, url string, done func(*Source, error), opts ...Option) {
	loader.LoadImage(netconn.ImageRequest{URL: url, Purpose: netconn.PurposeRawImage}, func(img image.Image, err error) {
		if err != nil {
			done(nil, err)
			return
		}
		done(NewSource(img, opts...))
	})
}

func NewSource(img image.Image, opts ...Option) (*Source, error) {
	c := config{
		tileSize:  DefaultTileSize,
		maxPixels: DefaultMaxPixels,
		scaler:    draw.ApproxBiLinear,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&c)
	}
	b := img.Bounds()
	p, err := pyramid.Build(b.Dx(), b.Dy(), c.tileSize, c.tileSize, pyramid.StrategyPrimary)
	if err != nil {
		return nil, err
	}
	s := &Source{img: img, pyramid: p, config: c}
	if pixels := b.Dx() * b.Dy(); pixels > c.maxPixels {
		s.warning = fmt.Errorf("%w: %vx%v", ErrOversized, b.Dx(), b.Dy())
		c.logger.Warn("raw: oversized image", "width", b.Dx(), "height", b.Dy(), "max_pixels", c.maxPixels)
	}
	return s, nil
}

// Warning returns a non-fatal problem with the image, or nil.
func (s *Source) Warning() error {
	return s.warning
}

func (s *Source) Pyramid() *pyramid.Pyramid {
	return s.pyramid
}

func (s *Source) SetResolvedHandler(source.ResolvedHandler) {}

func (s *Source) Resolve(id tile.ID, _ tile.Layer) source.Resolution {
	if !s.pyramid.Valid(id) {
		return source.Failed(fmt.Errorf("%w: tile %v", pyramid.ErrInvalidDimensions, id))
	}
	return source.Ready(source.Request{
		URL:      "raw:" + id.Name(),
		Generate: func() (image.Image, error) { return s.Tile(id), nil },
	})
}

// Tile scales the part of the image covered by id to tier resolution.
func (s *Source) Tile(id tile.ID) *image.RGBA {
	x, y, w, h := s.pyramid.TileRect(id)
	t := s.pyramid.Tier(id.Tier)
	b := s.img.Bounds()
	sx := float64(b.Dx()) / float64(t.Width)
	sy := float64(b.Dy()) / float64(t.Height)
	src := image.Rect(
		b.Min.X+int(float64(x)*sx),
		b.Min.Y+int(float64(y)*sy),
		b.Min.X+min(b.Dx(), int(float64(x+w)*sx+0.5)),
		b.Min.Y+min(b.Dy(), int(float64(y+h)*sy+0.5)),
	)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if id.Tier == s.pyramid.MaxTier() {
		draw.Copy(dst, image.Point{}, s.img, src, draw.Src, nil)
		return dst
	}
	s.config.scaler.Scale(dst, dst.Bounds(), s.img, src, draw.Src, nil)
	return dst
}
