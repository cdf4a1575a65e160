package build_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/eak1mov/go-deepview/build"
	"github.com/eak1mov/go-deepview/folder"
	"github.com/eak1mov/go-deepview/packed"
	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/tile"
)

func TestPyramidFolder(t *testing.T) {
	fill := color.NRGBA{R: 0, G: 128, B: 255, A: 255}
	img := imaging.New(600, 400, fill)
	p, err := build.Layout(img, 256, 256)
	require.NoError(t, err)
	require.Equal(t, 3, p.TierCount())

	dir := filepath.Join(t.TempDir(), "image")
	w, err := folder.NewWriter(dir, p, folder.WithExtension("png"))
	require.NoError(t, err)

	calls, last := 0, [2]int{}
	err = build.Pyramid(img, p, w, build.WithFormat("png"), build.WithProgress(func(done, total int) {
		calls++
		last = [2]int{done, total}
	}))
	require.NoError(t, err)
	require.Equal(t, 9, calls)
	require.Equal(t, [2]int{9, 9}, last)

	r, err := folder.NewReader(dir, folder.WithExtension("png"))
	require.NoError(t, err)
	if diff := cmp.Diff(p.Tiers(), r.Pyramid().Tiers()); diff != "" {
		t.Errorf("Tiers() mismatch (-want+got):\n%s", diff)
	}

	data, err := r.ReadTile(tile.ID{Tier: 2, Col: 2, Row: 1})
	require.NoError(t, err)
	got, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 88, 144), got.Bounds())
	require.Equal(t, fill, color.NRGBAModel.Convert(got.At(10, 10)))

	data, err = r.ReadTile(tile.ID{Tier: 0, Col: 0, Row: 0})
	require.NoError(t, err)
	got, err = png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 150, 100), got.Bounds())
}

func TestPyramidSkipEmpty(t *testing.T) {
	// The left half is opaque, the right half transparent.
	img := imaging.New(512, 256, color.Transparent)
	for y := range 256 {
		for x := range 256 {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, A: 255})
		}
	}
	p, err := build.Layout(img, 256, 256)
	require.NoError(t, err)
	require.Equal(t, 2, p.TierCount())

	filePath := filepath.Join(t.TempDir(), "image.zif")
	w, err := packed.NewWriter(filePath, p)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, build.Pyramid(img, p, w, build.WithSkipEmpty()))

	r, err := packed.NewReader(filePath)
	require.NoError(t, err)
	defer r.Close()

	loc, err := r.ReadLocation(tile.ID{Tier: 1, Col: 1, Row: 0})
	require.NoError(t, err)
	require.Zero(t, loc.Length)
	for _, id := range []tile.ID{{Tier: 1, Col: 0, Row: 0}, {Tier: 0, Col: 0, Row: 0}} {
		loc, err := r.ReadLocation(id)
		require.NoError(t, err)
		require.NotZero(t, loc.Length, id)
	}
}

func TestPyramidErrors(t *testing.T) {
	img := imaging.New(300, 200, color.White)
	p, err := pyramid.Build(400, 200, 256, 256, pyramid.StrategyPrimary)
	require.NoError(t, err)

	dir := t.TempDir()
	w, err := folder.NewWriter(dir, p)
	require.NoError(t, err)
	require.ErrorIs(t, build.Pyramid(img, p, w), pyramid.ErrInvalidDimensions)

	p, err = build.Layout(img, 256, 256)
	require.NoError(t, err)
	require.Error(t, build.Pyramid(img, p, w, build.WithFormat("xyz")))
}
