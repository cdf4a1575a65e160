package source_test

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/source"
	"github.com/eak1mov/go-deepview/tile"
)

type memStore map[tile.ID][]byte

func (m memStore) ReadTile(id tile.ID) ([]byte, error) {
	return m[id], nil
}

type locStore struct {
	memStore
}

func (l locStore) ReadLocation(id tile.ID) (tile.Location, error) {
	return tile.Location{Offset: 16, Length: uint64(len(l.memStore[id]))}, nil
}

func pngTile(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestStore(t *testing.T) {
	p, err := pyramid.Build(300, 200, 256, 256, pyramid.StrategyPrimary)
	require.NoError(t, err)
	store := memStore{{Tier: 1, Col: 1, Row: 0}: pngTile(t, 44, 200)}

	s := source.NewStore("local/image", p, store)
	r := s.Resolve(tile.ID{Tier: 1, Col: 1, Row: 0}, tile.LayerFrontfill)
	require.Equal(t, source.StatusReady, r.Status)
	require.Equal(t, "generated", r.Request.String())
	img, err := r.Request.Generate()
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 44, 200), img.Bounds())

	// Without locations, a missing tile is only noticed when generated.
	r = s.Resolve(tile.ID{Tier: 1, Col: 0, Row: 0}, tile.LayerFrontfill)
	require.Equal(t, source.StatusReady, r.Status)
	img, err = r.Request.Generate()
	require.NoError(t, err)
	require.Nil(t, img)

	require.Equal(t, source.StatusFailed, s.Resolve(tile.ID{Tier: 2}, tile.LayerFrontfill).Status)
	require.NoError(t, s.Close())
}

func TestStoreLocations(t *testing.T) {
	p, err := pyramid.Build(300, 200, 256, 256, pyramid.StrategyPrimary)
	require.NoError(t, err)
	store := locStore{memStore{{Tier: 0}: pngTile(t, 150, 100)}}

	s := source.NewStore("local/image", p, store)
	require.Equal(t, source.StatusReady, s.Resolve(tile.ID{Tier: 0}, tile.LayerBackfill).Status)
	require.Equal(t, source.StatusSkip, s.Resolve(tile.ID{Tier: 1, Col: 1}, tile.LayerFrontfill).Status)
}

func TestResolutionConstructors(t *testing.T) {
	loc := &tile.Location{Offset: 100, Length: 50}
	r := source.Ready(source.Request{URL: "http://host/image.zif", Range: loc})
	require.Equal(t, source.StatusReady, r.Status)
	require.Equal(t, "http://host/image.zif [100-149]", r.Request.String())

	failure := errors.New("timeout")
	require.ErrorIs(t, source.Failed(failure).Err, failure)
	require.Equal(t, "pending", source.Pending().Status.String())
	require.Equal(t, "skip", source.Skip().Status.String())
}
