package packed

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/eak1mov/go-deepview/netconn"
	"github.com/eak1mov/go-deepview/packed/spec"
	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/source"
	"github.com/eak1mov/go-deepview/tile"
)

// maxDirectoryFetches bounds the number of growing header requests made to read the directory.
const maxDirectoryFetches = 6

// ByteLoader loads byte ranges, see netconn.Connector.
type ByteLoader interface {
	LoadByteRange(url string, loc tile.Location, purpose netconn.Purpose, done func([]byte, error))
}

type sourceConfig struct {
	chunkSize   int
	headerFetch int
	logger      *slog.Logger
}

type Option func(*sourceConfig)

// WithChunkSize sets the number of table entries loaded per request.
func WithChunkSize(n int) Option {
	return func(c *sourceConfig) {
		c.chunkSize = max(1, n)
	}
}

// WithHeaderFetch sets the size of the initial directory request.
func WithHeaderFetch(n int) Option {
	return func(c *sourceConfig) {
		c.headerFetch = max(spec.HeaderLength, n)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *sourceConfig) {
		c.logger = logger
	}
}

// Source addresses tiles of a packed file served over HTTP.
//
// Resolve answers from loaded chunks. A tile whose chunks are missing resolves as pending and
// is recorded as a retry entry under every missing chunk; each chunk is requested once no matter
// how many tiles wait for it. Offset and byte count chunks may arrive in any order.
type Source struct {
	loader  ByteLoader
	url     string
	config  sourceConfig
	pyramid *pyramid.Pyramid
	tiers   []tierIndex

	chunks  map[ChunkID]*chunk
	retries map[ChunkID][]retryEntry
	handler source.ResolvedHandler
}

type chunk struct {
	loading bool
	first   uint64 // index of the first entry
	data    []byte
}

type retryEntry struct {
	id    tile.ID
	layer tile.Layer
}

// Open reads the directory of the packed file at url and calls done with the source.
func Open(loader ByteLoader, url string, done func(*Source, error), opts ...Option) {
	config := sourceConfig{
		chunkSize:   DefaultChunkSize,
		headerFetch: spec.DefaultHeaderFetch,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&config)
	}

	var fetch func(length uint64, attempt int)
	fetch = func(length uint64, attempt int) {
		loader.LoadByteRange(url, tile.Location{Offset: 0, Length: length}, netconn.PurposeHeader, func(b []byte, err error) {
			if err != nil {
				done(nil, err)
				return
			}
			ifds, err := spec.ReadDirectory(b)
			var needMore *spec.NeedMoreError
			if errors.As(err, &needMore) && uint64(len(b)) == length && attempt < maxDirectoryFetches {
				config.logger.Debug("packed: directory exceeds header fetch", "url", url, "need", needMore.End)
				fetch(needMore.End+uint64(config.headerFetch), attempt+1)
				return
			}
			if err != nil {
				done(nil, fmt.Errorf("%v: %w", url, err))
				return
			}
			s, err := NewSource(loader, url, ifds, opts...)
			done(s, err)
		})
	}
	fetch(uint64(config.headerFetch), 1)
}

// NewSource creates a source from an already parsed directory.
func NewSource(loader ByteLoader, url string, ifds []spec.IFD, opts ...Option) (*Source, error) {
	config := sourceConfig{
		chunkSize:   DefaultChunkSize,
		headerFetch: spec.DefaultHeaderFetch,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&config)
	}
	p, tiers, err := newIndex(ifds)
	if err != nil {
		return nil, err
	}
	return &Source{
		loader:  loader,
		url:     url,
		config:  config,
		pyramid: p,
		tiers:   tiers,
		chunks:  make(map[ChunkID]*chunk),
		retries: make(map[ChunkID][]retryEntry),
		handler: func(tile.ID, tile.Layer, source.Resolution) {},
	}, nil
}

func (s *Source) Pyramid() *pyramid.Pyramid {
	return s.pyramid
}

func (s *Source) SetResolvedHandler(h source.ResolvedHandler) {
	s.handler = h
}

// PendingRetries returns the number of retry entries waiting for chunks.
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

	count, countOK, countChunk := s.lookup(id, TableByteCounts)
	if countOK && count == 0 {
		s.dropRetries(id, layer)
		return source.Skip()
	}
	offset, offsetOK, offsetChunk := s.lookup(id, TableOffsets)
	if !offsetOK || !countOK {
		if !offsetOK {
			s.wait(offsetChunk, id, layer)
		}
		if !countOK {
			s.wait(countChunk, id, layer)
		}
		return source.Pending()
	}
	return source.Ready(source.Request{
		URL:   s.url,
		Range: &tile.Location{Offset: offset, Length: count},
	})
}

// lookup returns the table entry of the tile, or the chunk that has to be loaded first.
func (s *Source) lookup(id tile.ID, kind Table) (uint64, bool, ChunkID) {
	tier := s.tiers[id.Tier]
	table := tier.table(kind)
	linear := LinearIndex(id, int(tier.cols))
	if table.IsInline() {
		return table.Value(uint64(linear)), true, ChunkID{}
	}
	cid := ChunkID{Tier: id.Tier, Table: kind, Index: ChunkIndex(linear, s.config.chunkSize)}
	c := s.chunks[cid]
	if c == nil || c.loading {
		return 0, false, cid
	}
	i := (uint64(linear) - c.first) * uint64(table.EntrySize())
	return spec.DecodeValue(table.Type, c.data[i:]), true, cid
}

func (s *Source) wait(cid ChunkID, id tile.ID, layer tile.Layer) {
	entry := retryEntry{id, layer}
	entries := s.retries[cid]
	found := false
	for _, e := range entries {
		if e == entry {
			found = true
			break
		}
	}
	if !found {
		s.retries[cid] = append(entries, entry)
	}
	if _, ok := s.chunks[cid]; ok {
		return // loading
	}
	s.loadChunk(cid)
}

func (s *Source) loadChunk(cid ChunkID) {
	table := s.tiers[cid.Tier].table(cid.Table)
	loc := ChunkLocation(table, cid.Index, s.config.chunkSize)
	s.chunks[cid] = &chunk{loading: true, first: uint64(cid.Index * s.config.chunkSize)}

	purpose := netconn.PurposeOffsetChunk
	if cid.Table == TableByteCounts {
		purpose = netconn.PurposeByteCountChunk
	}
	s.loader.LoadByteRange(s.url, loc, purpose, func(b []byte, err error) {
		if err == nil && uint64(len(b)) != loc.Length {
			err = fmt.Errorf("%w: chunk %+v has %v bytes, want %v", spec.ErrInvalidDirectory, cid, len(b), loc.Length)
		}
		s.chunkLoaded(cid, b, err)
	})
}

func (s *Source) chunkLoaded(cid ChunkID, b []byte, err error) {
	entries := s.retries[cid]
	delete(s.retries, cid)

	if err != nil {
		s.config.logger.Warn("packed: chunk load failed", "tier", cid.Tier, "table", cid.Table.String(),
			"chunk", cid.Index, "error", err)
		delete(s.chunks, cid)
		for _, e := range entries {
			s.dropRetries(e.id, e.layer)
			s.handler(e.id, e.layer, source.Failed(err))
		}
		return
	}

	c := s.chunks[cid]
	c.loading = false
	c.data = b
	for _, e := range entries {
		r := s.Resolve(e.id, e.layer)
		if r.Status != source.StatusPending {
			s.handler(e.id, e.layer, r)
		}
	}
}

// dropRetries removes all retry entries of a tile.
func (s *Source) dropRetries(id tile.ID, layer tile.Layer) {
	entry := retryEntry{id, layer}
	for cid, entries := range s.retries {
		kept := entries[:0]
		for _, e := range entries {
			if e != entry {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(s.retries, cid)
		} else {
			s.retries[cid] = kept
		}
	}
}
