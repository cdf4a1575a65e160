package packed_test

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"testing"

	"github.com/eak1mov/go-deepview/netconn"
	"github.com/eak1mov/go-deepview/packed"
	"github.com/eak1mov/go-deepview/packed/spec"
	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/source"
	"github.com/eak1mov/go-deepview/tile"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// skipped is left out of the test file and becomes a skip tile.
var skipped = tile.ID{Tier: 3, Col: 5, Row: 2}

// writeTestFile writes a 2000x1000 image (4 tiers, 32 tiles in the top tier) and returns
// its path and tiles.
func writeTestFile(t *testing.T) (string, map[tile.ID][]byte) {
	t.Helper()
	p, err := pyramid.Build(2000, 1000, 256, 256, pyramid.StrategyPrimary)
	require.NoError(t, err)

	filePath := filepath.Join(t.TempDir(), "image.zif")
	w, err := packed.NewWriter(filePath, p)
	require.NoError(t, err)
	defer w.Close()

	tiles := map[tile.ID][]byte{}
	for i := range p.TierCount() {
		for id := range p.FullRange(i).IDs() {
			if id == skipped {
				continue
			}
			tiles[id] = []byte(fmt.Sprintf("tile-%v", id))
			require.NoError(t, w.WriteTile(id, tiles[id]))
		}
	}
	require.NoError(t, w.Finalize())
	return filePath, tiles
}

func TestWriterReader(t *testing.T) {
	filePath, tiles := writeTestFile(t)

	r, err := packed.NewReader(filePath)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, 4, r.Pyramid().TierCount())
	require.Equal(t, pyramid.StrategyDeclared, r.Pyramid().Strategy)
	require.Equal(t, 32, r.Pyramid().TileCount(3))

	if got, want := maps.Collect(tile.IterTiles(r)), tiles; !cmp.Equal(got, want) {
		t.Errorf("VisitTiles data mismatch (-want+got):\n%v", cmp.Diff(want, got))
	}
	for id, want := range tiles {
		got, err := r.ReadTile(id)
		require.NoError(t, err)
		require.Equal(t, want, got, id.Name())
	}

	got, err := r.ReadTile(skipped)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestWriterSharesIdenticalTiles(t *testing.T) {
	p, err := pyramid.Build(600, 300, 256, 256, pyramid.StrategyPrimary)
	require.NoError(t, err)
	filePath := filepath.Join(t.TempDir(), "blank.zif")
	w, err := packed.NewWriter(filePath, p)
	require.NoError(t, err)
	for id := range p.FullRange(2).IDs() {
		require.NoError(t, w.WriteTile(id, []byte("blank")))
	}
	require.NoError(t, w.Finalize())

	r, err := packed.NewReader(filePath)
	require.NoError(t, err)
	defer r.Close()
	first, err := r.ReadLocation(tile.ID{Tier: 2, Col: 0, Row: 0})
	require.NoError(t, err)
	last, err := r.ReadLocation(tile.ID{Tier: 2, Col: 2, Row: 1})
	require.NoError(t, err)
	require.Equal(t, first, last)
}

func TestChunkAddressing(t *testing.T) {
	// Tier 3 is 80 tiles wide and holds 4000 tiles.
	id := tile.ID{Tier: 3, Col: 5, Row: 2}
	linear := packed.LinearIndex(id, 80)
	require.Equal(t, 165, linear)
	require.Equal(t, 0, packed.ChunkIndex(linear, 1024))
	require.Equal(t, 3, packed.ChunkIndex(3999, 1024))

	offsets := spec.Table{Type: spec.TypeLong8, Count: 4000, Offset: 1000}
	require.Equal(t, tile.Location{Offset: 1000, Length: 8192}, packed.ChunkLocation(offsets, 0, 1024))
	require.Equal(t, tile.Location{Offset: 1000 + 3072*8, Length: 928 * 8}, packed.ChunkLocation(offsets, 3, 1024))

	counts := spec.Table{Type: spec.TypeLong, Count: 4000, Offset: 50000}
	require.Equal(t, tile.Location{Offset: 50000 + 1024*4, Length: 4096}, packed.ChunkLocation(counts, 1, 1024))
}

type load struct {
	loc     tile.Location
	purpose netconn.Purpose
	done    func([]byte, error)
}

// fakeLoader serves byte ranges of data. Loads are queued until completed by the test.
type fakeLoader struct {
	data      []byte
	immediate bool
	loads     []load
	issued    int
}

func (f *fakeLoader) LoadByteRange(url string, loc tile.Location, purpose netconn.Purpose, done func([]byte, error)) {
	f.issued++
	if f.immediate {
		done(f.slice(loc), nil)
		return
	}
	f.loads = append(f.loads, load{loc, purpose, done})
}

func (f *fakeLoader) slice(loc tile.Location) []byte {
	end := min(uint64(len(f.data)), loc.Offset+loc.Length)
	return f.data[loc.Offset:end]
}

// complete finishes the first queued load with the given purpose.
func (f *fakeLoader) complete(t *testing.T, purpose netconn.Purpose, err error) {
	t.Helper()
	for i, l := range f.loads {
		if l.purpose == purpose {
			f.loads = append(f.loads[:i], f.loads[i+1:]...)
			if err != nil {
				l.done(nil, err)
			} else {
				l.done(f.slice(l.loc), nil)
			}
			return
		}
	}
	t.Fatalf("no %v load queued", purpose)
}

type resolved struct {
	id    tile.ID
	layer tile.Layer
	res   source.Resolution
}

func openSource(t *testing.T, data []byte) (*packed.Source, *fakeLoader, *[]resolved) {
	t.Helper()
	loader := &fakeLoader{data: data, immediate: true}
	var s *packed.Source
	packed.Open(loader, "http://host/image.zif", func(got *packed.Source, err error) {
		require.NoError(t, err)
		s = got
	}, packed.WithChunkSize(4), packed.WithHeaderFetch(64))
	require.NotNil(t, s)
	// The directory does not fit into 64 bytes.
	require.Greater(t, loader.issued, 1)

	loader.immediate = false
	loader.issued = 0
	var events []resolved
	s.SetResolvedHandler(func(id tile.ID, layer tile.Layer, r source.Resolution) {
		events = append(events, resolved{id, layer, r})
	})
	return s, loader, &events
}

func TestSourceChunkOrderIndependence(t *testing.T) {
	filePath, tiles := writeTestFile(t)
	data, err := os.ReadFile(filePath)
	require.NoError(t, err)
	id := tile.ID{Tier: 3, Col: 1, Row: 1}

	var results []source.Resolution
	for _, order := range [][]netconn.Purpose{
		{netconn.PurposeOffsetChunk, netconn.PurposeByteCountChunk},
		{netconn.PurposeByteCountChunk, netconn.PurposeOffsetChunk},
	} {
		s, loader, events := openSource(t, data)
		require.Equal(t, source.StatusPending, s.Resolve(id, tile.LayerFrontfill).Status)
		require.Len(t, loader.loads, 2)

		loader.complete(t, order[0], nil)
		require.Empty(t, *events)
		loader.complete(t, order[1], nil)
		require.Len(t, *events, 1)
		require.Equal(t, id, (*events)[0].id)
		require.Equal(t, tile.LayerFrontfill, (*events)[0].layer)
		require.Equal(t, 0, s.PendingRetries())
		results = append(results, (*events)[0].res)
	}
	require.Equal(t, results[0], results[1])
	require.Equal(t, source.StatusReady, results[0].Status)

	loc := results[0].Request.Range
	require.Equal(t, tiles[id], data[loc.Offset:loc.Offset+loc.Length])
}

func TestSourceDeduplicatesChunks(t *testing.T) {
	filePath, _ := writeTestFile(t)
	data, err := os.ReadFile(filePath)
	require.NoError(t, err)
	s, loader, events := openSource(t, data)

	// Linear indices 8..11 of tier 3 share chunk 2.
	a := tile.ID{Tier: 3, Col: 0, Row: 1}
	b := tile.ID{Tier: 3, Col: 3, Row: 1}
	require.Equal(t, source.StatusPending, s.Resolve(a, tile.LayerFrontfill).Status)
	require.Equal(t, source.StatusPending, s.Resolve(b, tile.LayerFrontfill).Status)
	require.Equal(t, source.StatusPending, s.Resolve(a, tile.LayerFrontfill).Status)
	require.Equal(t, source.StatusPending, s.Resolve(a, tile.LayerBackfill).Status)
	require.Equal(t, 2, loader.issued)
	require.Equal(t, 6, s.PendingRetries())

	loader.complete(t, netconn.PurposeOffsetChunk, nil)
	loader.complete(t, netconn.PurposeByteCountChunk, nil)
	require.Len(t, *events, 3)

	// Tiers with one tile keep their tables inline.
	r := s.Resolve(tile.ID{Tier: 0, Col: 0, Row: 0}, tile.LayerBackfill)
	require.Equal(t, source.StatusReady, r.Status)
	require.Equal(t, 2, loader.issued)
}

func TestSourceSkipTile(t *testing.T) {
	filePath, _ := writeTestFile(t)
	data, err := os.ReadFile(filePath)
	require.NoError(t, err)
	s, loader, events := openSource(t, data)

	require.Equal(t, source.StatusPending, s.Resolve(skipped, tile.LayerFrontfill).Status)
	loader.complete(t, netconn.PurposeByteCountChunk, nil)
	require.Len(t, *events, 1)
	require.Equal(t, source.StatusSkip, (*events)[0].res.Status)
	require.Equal(t, 0, s.PendingRetries())

	// The offsets chunk still arrives but nothing waits for it any more.
	loader.complete(t, netconn.PurposeOffsetChunk, nil)
	require.Len(t, *events, 1)

	require.Equal(t, source.StatusSkip, s.Resolve(skipped, tile.LayerFrontfill).Status)
	require.Equal(t, 2, loader.issued)
}

func TestSourceChunkFailure(t *testing.T) {
	filePath, _ := writeTestFile(t)
	data, err := os.ReadFile(filePath)
	require.NoError(t, err)
	s, loader, events := openSource(t, data)

	id := tile.ID{Tier: 3, Col: 7, Row: 3}
	require.Equal(t, source.StatusPending, s.Resolve(id, tile.LayerFrontfill).Status)
	failure := errors.New("connection reset")
	loader.complete(t, netconn.PurposeOffsetChunk, failure)
	require.Len(t, *events, 1)
	require.Equal(t, source.StatusFailed, (*events)[0].res.Status)
	require.True(t, errors.Is((*events)[0].res.Err, failure))
	require.Equal(t, 0, s.PendingRetries())

	// The byte count chunk arrives late; the tile no longer waits for it.
	loader.complete(t, netconn.PurposeByteCountChunk, nil)
	require.Len(t, *events, 1)

	// Resolving again requests the failed chunk again.
	require.Equal(t, source.StatusPending, s.Resolve(id, tile.LayerFrontfill).Status)
	require.Equal(t, 3, loader.issued)
	loader.complete(t, netconn.PurposeOffsetChunk, nil)
	require.Len(t, *events, 2)
	require.Equal(t, source.StatusReady, (*events)[1].res.Status)
}

func TestOpenInvalid(t *testing.T) {
	loader := &fakeLoader{data: []byte("GIF89a not a packed file"), immediate: true}
	var openErr error
	packed.Open(loader, "http://host/image.gif", func(_ *packed.Source, err error) { openErr = err })
	require.True(t, errors.Is(openErr, spec.ErrInvalidHeader))
}

func TestSourceInvalidTile(t *testing.T) {
	filePath, _ := writeTestFile(t)
	data, err := os.ReadFile(filePath)
	require.NoError(t, err)
	s, loader, events := openSource(t, data)

	r := s.Resolve(tile.ID{Tier: 3, Col: 99, Row: 0}, tile.LayerFrontfill)
	require.Equal(t, source.StatusFailed, r.Status)
	require.ErrorIs(t, r.Err, pyramid.ErrInvalidDimensions)
	require.Empty(t, *events)
	require.Zero(t, loader.issued)
}
