package source

import (
	"fmt"
	"image"

	"github.com/eak1mov/go-deepview/netconn"
	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/tile"
)

// Store adapts a local tile store to Source. Tiles resolve as ready with a generator that reads
// and decodes the stored bytes; a generator returning a nil image marks a skip tile.
type Store struct {
	name    string
	pyramid *pyramid.Pyramid
	reader  tile.Reader
}

// NewStore serves the tiles of r. name prefixes the request URLs in logs.
// Stores that implement tile.LocationReader report zero-length tiles as skip tiles directly.
func NewStore(name string, p *pyramid.Pyramid, r tile.Reader) *Store {
	return &Store{name: name, pyramid: p, reader: r}
}

func (s *Store) Pyramid() *pyramid.Pyramid {
	return s.pyramid
}

func (s *Store) SetResolvedHandler(ResolvedHandler) {}

func (s *Store) Resolve(id tile.ID, _ tile.Layer) Resolution {
	if !s.pyramid.Valid(id) {
		return Failed(fmt.Errorf("%w: tile %v", pyramid.ErrInvalidDimensions, id))
	}
	if lr, ok := s.reader.(tile.LocationReader); ok {
		loc, err := lr.ReadLocation(id)
		if err != nil {
			return Failed(err)
		}
		if loc.Length == 0 {
			return Skip()
		}
	}
	return Ready(Request{
		URL: s.name + "#" + id.Name(),
		Generate: func() (image.Image, error) {
			data, err := s.reader.ReadTile(id)
			if err != nil || len(data) == 0 {
				return nil, err
			}
			return netconn.DecodeImage(data)
		},
	})
}

// Close closes the underlying store if it holds resources.
func (s *Store) Close() error {
	if c, ok := s.reader.(Closer); ok {
		return c.Close()
	}
	return nil
}
