package pm

import (
	"fmt"
	"log/slog"

	"github.com/eak1mov/go-deepview/netconn"
	"github.com/eak1mov/go-deepview/pm/spec"
	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/source"
	"github.com/eak1mov/go-deepview/tile"
)

// maxDirectoryDepth bounds the root-to-leaf directory chain.
const maxDirectoryDepth = 4

// ByteLoader loads byte ranges, see netconn.Connector.
type ByteLoader interface {
	LoadByteRange(url string, loc tile.Location, purpose netconn.Purpose, done func([]byte, error))
}

type sourceConfig struct {
	logger *slog.Logger
}

type Option func(*sourceConfig)

func WithSourceLogger(logger *slog.Logger) Option {
	return func(c *sourceConfig) {
		c.logger = logger
	}
}

// Source addresses tiles of a PMTiles file served over HTTP.
//
// The root directory is loaded by Open. A tile behind a leaf directory that is not loaded yet
// resolves as pending; the leaf is requested once and every waiting tile is reported through
// the resolved handler when it arrives.
type Source struct {
	loader  ByteLoader
	url     string
	logger  *slog.Logger
	header  *spec.Header
	pyramid *pyramid.Pyramid
	root    []spec.Entry

	leaves  map[uint64]*leaf // by offset in the leaf directory section
	retries map[uint64][]retryEntry
	handler source.ResolvedHandler
}

type leaf struct {
	loading bool
	entries []spec.Entry
}

type retryEntry struct {
	id    tile.ID
	layer tile.Layer
}

// Open reads the header, root directory and metadata of the file at url
// and calls done with the source.
func Open(loader ByteLoader, url string, done func(*Source, error), opts ...Option) {
	fail := func(err error) {
		done(nil, fmt.Errorf("%v: %w", url, err))
	}
	loc := tile.Location{Offset: 0, Length: spec.HeaderRootDirMaxLength}
	loader.LoadByteRange(url, loc, netconn.PurposeHeader, func(b []byte, err error) {
		if err != nil {
			done(nil, err)
			return
		}
		header, err := spec.ParseHeader(b)
		if err != nil {
			fail(err)
			return
		}
		rootEnd := header.RootOffset + header.RootLength
		if rootEnd > uint64(len(b)) {
			fail(fmt.Errorf("%w: root directory ends at %v", spec.ErrInvalidHeader, rootEnd))
			return
		}
		root, err := decodeDirectory(b[header.RootOffset:rootEnd], header.InternalCompression)
		if err != nil {
			fail(err)
			return
		}

		withMetadata := func(data []byte) {
			metadata, err := decodeMetadata(data, header.InternalCompression)
			if err != nil {
				fail(err)
				return
			}
			p, err := metadata.Pyramid()
			if err != nil {
				fail(err)
				return
			}
			done(NewSource(loader, url, header, p, root, opts...), nil)
		}
		metaLoc := tile.Location{Offset: header.MetadataOffset, Length: header.MetadataLength}
		if metaLoc.Offset+metaLoc.Length <= uint64(len(b)) {
			withMetadata(b[metaLoc.Offset : metaLoc.Offset+metaLoc.Length])
			return
		}
		loader.LoadByteRange(url, metaLoc, netconn.PurposeDirectory, func(data []byte, err error) {
			if err != nil {
				done(nil, err)
				return
			}
			withMetadata(data)
		})
	})
}

// NewSource creates a source from an already loaded header and root directory.
func NewSource(loader ByteLoader, url string, header *spec.Header, p *pyramid.Pyramid, root []spec.Entry, opts ...Option) *Source {
	config := sourceConfig{
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Source{
		loader:  loader,
		url:     url,
		logger:  config.logger,
		header:  header,
		pyramid: p,
		root:    root,
		leaves:  make(map[uint64]*leaf),
		retries: make(map[uint64][]retryEntry),
		handler: func(tile.ID, tile.Layer, source.Resolution) {},
	}
}

func decodeDirectory(data []byte, compression spec.Compression) ([]spec.Entry, error) {
	data, err := spec.Decompress(data, compression)
	if err != nil {
		return nil, err
	}
	return spec.DeserializeDirectory(data)
}

func (s *Source) Pyramid() *pyramid.Pyramid {
	return s.pyramid
}

func (s *Source) SetResolvedHandler(h source.ResolvedHandler) {
	s.handler = h
}

// PendingRetries returns the number of retry entries waiting for leaf directories.
func (s *Source) PendingRetries() int {
	n := 0
	for _, entries := range s.retries {
		n += len(entries)
	}
	return n
}

func (s *Source) Resolve(id tile.ID, layer tile.Layer) source.Resolution {
	if !s.pyramid.Valid(id) {
		return source.Failed(fmt.Errorf("%w: tile %v", pyramid.ErrInvalidDimensions, id))
	}
	tileCode, err := spec.EncodeTileID(id)
	if err != nil {
		return source.Failed(err)
	}

	entries := s.root
	for range maxDirectoryDepth {
		entry, found := spec.FindEntry(entries, tileCode)
		if !found {
			return source.Skip()
		}
		if !entry.IsLeaf() {
			if entry.Length == 0 {
				return source.Skip()
			}
			return source.Ready(source.Request{
				URL: s.url,
				Range: &tile.Location{
					Offset: s.header.TileDataOffset + entry.Offset,
					Length: uint64(entry.Length),
				},
			})
		}
		l := s.leaves[entry.Offset]
		if l == nil || l.loading {
			s.wait(entry, id, layer)
			return source.Pending()
		}
		entries = l.entries
	}
	return source.Failed(fmt.Errorf("%w: directories nested too deep", spec.ErrInvalidDirectory))
}

func (s *Source) wait(entry spec.Entry, id tile.ID, layer tile.Layer) {
	e := retryEntry{id, layer}
	waiting := s.retries[entry.Offset]
	for _, w := range waiting {
		if w == e {
			return
		}
	}
	s.retries[entry.Offset] = append(waiting, e)
	if _, ok := s.leaves[entry.Offset]; ok {
		return // loading
	}

	s.leaves[entry.Offset] = &leaf{loading: true}
	loc := tile.Location{
		Offset: s.header.LeafDirectoryOffset + entry.Offset,
		Length: uint64(entry.Length),
	}
	s.loader.LoadByteRange(s.url, loc, netconn.PurposeDirectory, func(b []byte, err error) {
		var leafEntries []spec.Entry
		if err == nil {
			leafEntries, err = decodeDirectory(b, s.header.InternalCompression)
		}
		s.leafLoaded(entry.Offset, leafEntries, err)
	})
}

func (s *Source) leafLoaded(offset uint64, entries []spec.Entry, err error) {
	waiting := s.retries[offset]
	delete(s.retries, offset)

	if err != nil {
		s.logger.Warn("pm: leaf directory load failed", "url", s.url, "offset", offset, "error", err)
		delete(s.leaves, offset)
		for _, w := range waiting {
			s.handler(w.id, w.layer, source.Failed(err))
		}
		return
	}

	s.leaves[offset] = &leaf{entries: entries}
	for _, w := range waiting {
		r := s.Resolve(w.id, w.layer)
		if r.Status != source.StatusPending {
			s.handler(w.id, w.layer, r)
		}
	}
}
