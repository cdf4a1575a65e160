package folder

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/eak1mov/go-deepview/netconn"
	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/source"
	"github.com/eak1mov/go-deepview/tile"
)

type config struct {
	ext    string
	logger *slog.Logger
}

type Option func(*config)

// WithExtension sets the tile file extension ("jpg" or "png").
func WithExtension(ext string) Option {
	return func(c *config) {
		c.ext = strings.TrimPrefix(ext, ".")
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func newConfig(opts []Option) config {
	c := config{ext: DefaultExtension, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// XMLLoader loads XML documents, see netconn.Connector.
type XMLLoader interface {
	LoadXML(url string, kind netconn.XMLKind, done func(*netconn.Element, error))
}

// Source addresses tiles of a folder-storage image served over HTTP.
// Tile addresses are computed directly, so Resolve never returns pending.
type Source struct {
	basePath   string
	ext        string
	properties Properties
	pyramid    *pyramid.Pyramid
}

// NewSource builds the pyramid from already loaded properties.
func NewSource(basePath string, props Properties, opts ...Option) (*Source, error) {
	c := newConfig(opts)
	p, err := pyramid.Reconcile(props.Width, props.Height, props.TileSize, props.TileSize, props.NumTiles, c.logger)
	if err != nil {
		return nil, err
	}
	return &Source{
		basePath:   strings.TrimSuffix(basePath, "/"),
		ext:        c.ext,
		properties: props,
		pyramid:    p,
	}, nil
}

// Open loads ImageProperties.xml from basePath and calls done with the source.
func Open(loader XMLLoader, basePath string, done func(*Source, error), opts ...Option) {
	propertiesURL := strings.TrimSuffix(basePath, "/") + "/" + PropertiesFile
	loader.LoadXML(propertiesURL, netconn.XMLImageProperties, func(root *netconn.Element, err error) {
		if err != nil {
			done(nil, err)
			return
		}
		props, err := ParseProperties(root)
		if err != nil {
			done(nil, fmt.Errorf("%v: %w", propertiesURL, err))
			return
		}
		s, err := NewSource(basePath, props, opts...)
		done(s, err)
	})
}

func (s *Source) Properties() Properties {
	return s.properties
}

func (s *Source) Pyramid() *pyramid.Pyramid {
	return s.pyramid
}

func (s *Source) Resolve(id tile.ID, _ tile.Layer) source.Resolution {
	return source.Ready(source.Request{URL: TileURL(s.basePath, s.pyramid, id, s.ext)})
}

func (s *Source) SetResolvedHandler(source.ResolvedHandler) {}
