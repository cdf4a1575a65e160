// Package build cuts a decoded image into tiers and tiles and writes them to a tile store.
//
// Tiers are produced top-down: the full resolution image first, then every lower tier resized
// from the one above it.
package build

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"

	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/tile"
)

const (
	DefaultFormat  = "jpg"
	DefaultQuality = 90
)

type config struct {
	format    string
	quality   int
	filter    imaging.ResampleFilter
	skipEmpty bool
	progress  func(done, total int)
	logger    *slog.Logger
}

type Option func(*config)

// WithFormat sets the tile encoding by file extension ("jpg", "png", "gif", "tif", "bmp").
func WithFormat(ext string) Option {
	return func(c *config) {
		c.format = ext
	}
}

// WithQuality sets the JPEG quality.
func WithQuality(q int) Option {
	return func(c *config) {
		c.quality = q
	}
}

// WithFilter sets the resampling filter used between tiers, imaging.Lanczos by default.
func WithFilter(f imaging.ResampleFilter) Option {
	return func(c *config) {
		c.filter = f
	}
}

// WithSkipEmpty leaves fully transparent tiles unwritten, so stores report them as skip tiles.
func WithSkipEmpty() Option {
	return func(c *config) {
		c.skipEmpty = true
	}
}

// WithProgress sets a function called after every tile.
func WithProgress(f func(done, total int)) Option {
	return func(c *config) {
		c.progress = f
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Layout returns the primary pyramid of img.
func Layout(img image.Image, tileW, tileH int) (*pyramid.Pyramid, error) {
	b := img.Bounds()
	return pyramid.Build(b.Dx(), b.Dy(), tileW, tileH, pyramid.StrategyPrimary)
}

// Pyramid writes every tile of p cut from img to w and finalizes w.
// The top tier of p must have the size of img.
func Pyramid(img image.Image, p *pyramid.Pyramid, w tile.Writer, opts ...Option) error {
	c := config{
		format:   DefaultFormat,
		quality:  DefaultQuality,
		filter:   imaging.Lanczos,
		progress: func(int, int) {},
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&c)
	}
	format, err := imaging.FormatFromExtension(c.format)
	if err != nil {
		return err
	}
	b := img.Bounds()
	if b.Dx() != p.ImageWidth || b.Dy() != p.ImageHeight {
		return fmt.Errorf("%w: image is %vx%v, pyramid is %vx%v",
			pyramid.ErrInvalidDimensions, b.Dx(), b.Dy(), p.ImageWidth, p.ImageHeight)
	}

	total := p.TotalTiles()
	done := 0
	current := imaging.Clone(img)
	for i := p.MaxTier(); i >= 0; i-- {
		t := p.Tier(i)
		if current.Bounds().Dx() != t.Width || current.Bounds().Dy() != t.Height {
			current = imaging.Resize(current, t.Width, t.Height, c.filter)
		}
		skipped := 0
		for row := range t.Rows {
			for col := range t.Cols {
				id := tile.ID{Tier: i, Col: col, Row: row}
				x, y, tw, th := p.TileRect(id)
				tileImg := imaging.Crop(current, image.Rect(x, y, x+tw, y+th))
				done++
				if c.skipEmpty && transparent(tileImg) {
					skipped++
					c.progress(done, total)
					continue
				}
				var buf bytes.Buffer
				if err := imaging.Encode(&buf, tileImg, format, imaging.JPEGQuality(c.quality)); err != nil {
					return fmt.Errorf("tile %v: %w", id, err)
				}
				if err := w.WriteTile(id, buf.Bytes()); err != nil {
					return err
				}
				c.progress(done, total)
			}
		}
		c.logger.Debug("build: tier written", "tier", i, "width", t.Width, "height", t.Height, "skipped", skipped)
	}
	return w.Finalize()
}

func transparent(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 {
			return false
		}
	}
	return true
}
