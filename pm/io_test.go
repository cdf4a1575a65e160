package pm_test

import (
	"cmp"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"testing"

	gocmp "github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/eak1mov/go-deepview/internal"
	"github.com/eak1mov/go-deepview/netconn"
	"github.com/eak1mov/go-deepview/pm"
	"github.com/eak1mov/go-deepview/pm/spec"
	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/source"
	"github.com/eak1mov/go-deepview/tile"
)

func TestWriterReader(t *testing.T) {
	for _, tc := range internal.TestCases {
		t.Run(tc.Name, func(t *testing.T) {
			t.Parallel()

			p := tc.Pyramid(t)
			tiles := internal.Tiles(p)

			filePath := filepath.Join(t.TempDir(), "tiles.pmtiles")
			writer, err := pm.NewWriter(filePath, p, pm.WithFormat("png"))
			if err != nil {
				t.Fatalf("NewWriter failed: %v", err)
			}
			defer writer.Close()
			internal.WriteAll(t, p, writer, tiles)

			reader, err := pm.NewFileReader(filePath)
			if err != nil {
				t.Fatalf("NewFileReader failed: %v", err)
			}
			defer reader.Close()

			if got, want := reader.Pyramid().Tiers(), p.Tiers(); !gocmp.Equal(got, want) {
				t.Errorf("Pyramid tiers mismatch (-want+got):\n%v", gocmp.Diff(want, got))
			}
			if got, want := reader.Metadata().Format, "png"; got != want {
				t.Errorf("Metadata().Format = %q, want = %q", got, want)
			}
			if got, want := reader.Header().TileType, spec.TileTypePng; got != want {
				t.Errorf("Header().TileType = %v, want = %v", got, want)
			}

			if got, want := maps.Collect(tile.IterTiles(reader)), tiles; !gocmp.Equal(got, want) {
				t.Errorf("VisitTiles data mismatch (-want+got):\n%v", gocmp.Diff(want, got))
			}
			for id, want := range tiles {
				got, err := reader.ReadTile(id)
				if err != nil {
					t.Fatalf("ReadTile(%v) failed: %v", id, err)
				}
				if !gocmp.Equal(got, want) {
					t.Fatalf("ReadTile(%v) = %q, want = %q", id, got, want)
				}
			}

			missing, err := reader.ReadTile(tile.ID{Tier: p.MaxTier() + 1})
			require.NoError(t, err)
			require.Empty(t, missing)
		})
	}
}

func TestWriterRejectsOversizedTier(t *testing.T) {
	// The legacy layout of a 513 pixel wide image puts 3 columns into tier 1.
	p, err := pyramid.Build(513, 100, 256, 256, pyramid.StrategyLegacy)
	require.NoError(t, err)
	_, err = pm.NewWriter(filepath.Join(t.TempDir(), "legacy.pmtiles"), p)
	require.ErrorIs(t, err, pm.ErrTierGrid)
}

// fakeLoader serves byte ranges of data. Loads are queued until completed by the test.
type fakeLoader struct {
	data      []byte
	immediate bool
	loads     []func(error)
	issued    int
}

func (f *fakeLoader) LoadByteRange(url string, loc tile.Location, purpose netconn.Purpose, done func([]byte, error)) {
	f.issued++
	serve := func(err error) {
		if err != nil {
			done(nil, err)
			return
		}
		end := min(uint64(len(f.data)), loc.Offset+loc.Length)
		done(f.data[loc.Offset:end], nil)
	}
	if f.immediate {
		serve(nil)
		return
	}
	f.loads = append(f.loads, serve)
}

func (f *fakeLoader) complete(err error) {
	serve := f.loads[0]
	f.loads = f.loads[1:]
	serve(err)
}

func TestOpenSource(t *testing.T) {
	tc := internal.TestCases[2]
	p := tc.Pyramid(t)
	tiles := internal.Tiles(p)
	delete(tiles, tile.ID{Tier: 1, Col: 1, Row: 0})

	filePath := filepath.Join(t.TempDir(), "tiles.pmtiles")
	writer, err := pm.NewWriter(filePath, p)
	require.NoError(t, err)
	internal.WriteAll(t, p, writer, tiles)
	data, err := os.ReadFile(filePath)
	require.NoError(t, err)

	loader := &fakeLoader{data: data, immediate: true}
	var s *pm.Source
	pm.Open(loader, "http://host/tiles.pmtiles", func(got *pm.Source, err error) {
		require.NoError(t, err)
		s = got
	})
	require.NotNil(t, s)
	// Header with root directory, then the metadata behind the reserved area.
	require.Equal(t, 2, loader.issued)
	require.Equal(t, p.Tiers(), s.Pyramid().Tiers())

	for id, want := range tiles {
		r := s.Resolve(id, tile.LayerFrontfill)
		require.Equal(t, source.StatusReady, r.Status, id.Name())
		loc := r.Request.Range
		require.Equal(t, want, data[loc.Offset:loc.Offset+loc.Length], id.Name())
	}
	r := s.Resolve(tile.ID{Tier: 1, Col: 1, Row: 0}, tile.LayerFrontfill)
	require.Equal(t, source.StatusSkip, r.Status)
	r = s.Resolve(tile.ID{Tier: 1, Col: 9, Row: 0}, tile.LayerFrontfill)
	require.Equal(t, source.StatusFailed, r.Status)
}

func TestOpenInvalid(t *testing.T) {
	loader := &fakeLoader{data: make([]byte, 200), immediate: true}
	var openErr error
	pm.Open(loader, "http://host/zeros.pmtiles", func(_ *pm.Source, err error) { openErr = err })
	require.ErrorIs(t, openErr, spec.ErrInvalidHeader)
}

type resolved struct {
	id  tile.ID
	res source.Resolution
}

// leafSource puts all tiles of a 600x300 image behind a single leaf directory.
func leafSource(t *testing.T) (*pm.Source, *fakeLoader, []spec.Entry, *[]resolved) {
	t.Helper()
	p, err := pyramid.Build(600, 300, 256, 256, pyramid.StrategyPrimary)
	require.NoError(t, err)

	var entries []spec.Entry
	offset := uint64(0)
	for i := range p.TierCount() {
		for id := range p.FullRange(i).IDs() {
			if id == (tile.ID{Tier: 2, Col: 2, Row: 1}) {
				continue
			}
			code, err := spec.EncodeTileID(id)
			require.NoError(t, err)
			entries = append(entries, spec.Entry{TileCode: code, Offset: offset, Length: 10, RunLength: 1})
			offset += 10
		}
	}
	slices.SortFunc(entries, func(a, b spec.Entry) int { return cmp.Compare(a.TileCode, b.TileCode) })

	leafData, err := spec.Compress(spec.SerializeDirectory(entries), spec.CompressionGzip)
	require.NoError(t, err)
	header := &spec.Header{
		HeaderMagic:         spec.HeaderMagicV3,
		InternalCompression: spec.CompressionGzip,
		LeafDirectoryOffset: 0,
		LeafDirectoryLength: uint64(len(leafData)),
		TileDataOffset:      5000,
	}
	root := []spec.Entry{{TileCode: 0, Offset: 0, Length: uint32(len(leafData))}}

	loader := &fakeLoader{data: leafData}
	s := pm.NewSource(loader, "http://host/leaf.pmtiles", header, p, root)
	var events []resolved
	s.SetResolvedHandler(func(id tile.ID, _ tile.Layer, r source.Resolution) {
		events = append(events, resolved{id, r})
	})
	return s, loader, entries, &events
}

func TestSourceLeafDirectory(t *testing.T) {
	s, loader, entries, events := leafSource(t)

	a := tile.ID{Tier: 2, Col: 0, Row: 0}
	b := tile.ID{Tier: 2, Col: 2, Row: 1}
	require.Equal(t, source.StatusPending, s.Resolve(a, tile.LayerFrontfill).Status)
	require.Equal(t, source.StatusPending, s.Resolve(b, tile.LayerFrontfill).Status)
	require.Equal(t, source.StatusPending, s.Resolve(a, tile.LayerFrontfill).Status)
	require.Equal(t, 1, loader.issued)
	require.Equal(t, 2, s.PendingRetries())

	loader.complete(nil)
	require.Len(t, *events, 2)
	require.Equal(t, 0, s.PendingRetries())

	codeA, err := spec.EncodeTileID(a)
	require.NoError(t, err)
	entryA, found := spec.FindEntry(entries, codeA)
	require.True(t, found)
	want := source.Ready(source.Request{
		URL:   "http://host/leaf.pmtiles",
		Range: &tile.Location{Offset: 5000 + entryA.Offset, Length: 10},
	})
	require.Equal(t, resolved{a, want}, (*events)[0])
	require.Equal(t, source.StatusSkip, (*events)[1].res.Status)

	// The leaf stays loaded.
	require.Equal(t, source.StatusReady, s.Resolve(tile.ID{Tier: 0}, tile.LayerBackfill).Status)
	require.Equal(t, 1, loader.issued)
}

func TestSourceLeafFailure(t *testing.T) {
	s, loader, _, events := leafSource(t)

	id := tile.ID{Tier: 1, Col: 1, Row: 0}
	require.Equal(t, source.StatusPending, s.Resolve(id, tile.LayerFrontfill).Status)
	failure := errors.New("connection reset")
	loader.complete(failure)
	require.Len(t, *events, 1)
	require.Equal(t, source.StatusFailed, (*events)[0].res.Status)
	require.ErrorIs(t, (*events)[0].res.Err, failure)

	require.Equal(t, source.StatusPending, s.Resolve(id, tile.LayerFrontfill).Status)
	require.Equal(t, 2, loader.issued)
	loader.complete(nil)
	require.Len(t, *events, 2)
	require.Equal(t, source.StatusReady, (*events)[1].res.Status)
}
