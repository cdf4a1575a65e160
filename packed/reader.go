package packed

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/exp/mmap"

	"github.com/eak1mov/go-deepview/packed/spec"
	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/tile"
)

// ReaderAtLen is a random access file of known size, such as *mmap.ReaderAt.
type ReaderAtLen interface {
	io.ReaderAt
	Len() int
}

// Reader implements tile.Reader, tile.LocationReader and the visitor interfaces
// for a local packed file.
type Reader struct {
	r       ReaderAtLen
	closer  io.Closer
	pyramid *pyramid.Pyramid
	tiers   []tierIndex
}

// NewReader memory-maps the packed file at filePath.
// The returned Reader must be closed after use.
func NewReader(filePath string) (*Reader, error) {
	m, err := mmap.Open(filePath)
	if err != nil {
		return nil, err
	}
	r, err := NewReaderAt(m)
	if err != nil {
		m.Close()
		return nil, err
	}
	r.closer = m
	return r, nil
}

// NewReaderAt reads the directory of a packed file held by r.
func NewReaderAt(r ReaderAtLen) (*Reader, error) {
	length := min(r.Len(), spec.DefaultHeaderFetch)
	for {
		b := make([]byte, length)
		if _, err := r.ReadAt(b, 0); err != nil && err != io.EOF {
			return nil, err
		}
		ifds, err := spec.ReadDirectory(b)
		var needMore *spec.NeedMoreError
		if errors.As(err, &needMore) && length < r.Len() {
			length = min(r.Len(), int(needMore.End)+spec.DefaultHeaderFetch)
			continue
		}
		if err != nil {
			return nil, err
		}
		p, tiers, err := newIndex(ifds)
		if err != nil {
			return nil, err
		}
		return &Reader{r: r, pyramid: p, tiers: tiers}, nil
	}
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func (r *Reader) Pyramid() *pyramid.Pyramid {
	return r.pyramid
}

func (r *Reader) entry(id tile.ID, kind Table) (uint64, error) {
	tier := r.tiers[id.Tier]
	table := tier.table(kind)
	linear := uint64(LinearIndex(id, int(tier.cols)))
	if table.IsInline() {
		return table.Value(linear), nil
	}
	b := make([]byte, table.EntrySize())
	if _, err := r.r.ReadAt(b, int64(table.EntryOffset(linear))); err != nil {
		return 0, fmt.Errorf("%w: %v entry of %v: %w", spec.ErrInvalidDirectory, kind, id, err)
	}
	return spec.DecodeValue(table.Type, b), nil
}

// ReadLocation returns the tile's byte range. Skip tiles have zero length.
func (r *Reader) ReadLocation(tileID tile.ID) (tile.Location, error) {
	if !r.pyramid.Valid(tileID) {
		return tile.Location{}, nil
	}
	length, err := r.entry(tileID, TableByteCounts)
	if err != nil || length == 0 {
		return tile.Location{}, err
	}
	offset, err := r.entry(tileID, TableOffsets)
	if err != nil {
		return tile.Location{}, err
	}
	return tile.Location{Offset: offset, Length: length}, nil
}

func (r *Reader) ReadTile(tileID tile.ID) ([]byte, error) {
	loc, err := r.ReadLocation(tileID)
	if err != nil {
		return nil, err
	}
	tileData := make([]byte, loc.Length)
	if loc.Length == 0 {
		return tileData, nil
	}
	if _, err := r.r.ReadAt(tileData, int64(loc.Offset)); err != nil {
		return nil, err
	}
	return tileData, nil
}

func (r *Reader) VisitLocations(visitor func(tile.ID, tile.Location) error) error {
	for i := range r.pyramid.TierCount() {
		for id := range r.pyramid.FullRange(i).IDs() {
			loc, err := r.ReadLocation(id)
			if err != nil {
				return err
			}
			if loc.Length == 0 {
				continue
			}
			if err := visitor(id, loc); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reader) VisitTiles(visitor func(tile.ID, []byte) error) error {
	return r.VisitLocations(func(id tile.ID, loc tile.Location) error {
		tileData := make([]byte, loc.Length)
		if _, err := r.r.ReadAt(tileData, int64(loc.Offset)); err != nil {
			return err
		}
		return visitor(id, tileData)
	})
}
