package render_test

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/eak1mov/go-deepview/geom"
	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/render"
	"github.com/eak1mov/go-deepview/tile"
	"github.com/eak1mov/go-deepview/tilecache"
)

var (
	red         = color.RGBA{R: 0xff, A: 0xff}
	blue        = color.RGBA{B: 0xff, A: 0xff}
	transparent = color.RGBA{}
	viewport    = geom.Size{W: 512, H: 512}
)

// newPyramid has tier 0 of 256x256 and tier 1 of 512x512 in 2x2 tiles.
func newPyramid(t *testing.T) *pyramid.Pyramid {
	p, err := pyramid.Build(512, 512, 256, 256, pyramid.StrategyPrimary)
	require.NoError(t, err)
	require.Equal(t, 2, p.TierCount())
	return p
}

func solid(c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func newTile(tier, col, row int, c color.RGBA) *tilecache.Tile {
	return &tilecache.Tile{
		ID:    tile.ID{Tier: tier, Col: col, Row: row},
		Image: solid(c),
		Alpha: 1,
	}
}

// pixelAt returns the frame pixel showing the image point (x, y).
func pixelAt(frame *image.RGBA, v geom.View, x, y float64) color.RGBA {
	d := geom.ImageToDisplay(v, viewport, geom.Point{X: x + 0.5, Y: y + 0.5})
	return frame.RGBAAt(int(math.Floor(d.X)), int(math.Floor(d.Y)))
}

func frontOnly(tier int) render.Tiers {
	return render.Tiers{Frontfill: tier, Backfill: render.NoTier, Oversize: render.NoTier}
}

func TestCanvasRotation(t *testing.T) {
	for _, rotation := range []float64{0, 90, 180, 270} {
		t.Run(fmt.Sprint(rotation), func(t *testing.T) {
			p := render.New(newPyramid(t), viewport)
			v := geom.View{X: 256, Y: 256, Zoom: 1, Rotation: rotation}
			p.Begin(v, frontOnly(1))
			require.True(t, p.Draw(tile.LayerFrontfill, newTile(1, 0, 0, red)))

			frame := p.Frame()
			require.Equal(t, image.Rect(0, 0, 512, 512), frame.Bounds())
			require.Equal(t, red, pixelAt(frame, v, 100, 100))
			require.Equal(t, red, pixelAt(frame, v, 200, 30))
			require.Equal(t, transparent, pixelAt(frame, v, 400, 400))
			require.Equal(t, transparent, pixelAt(frame, v, 300, 100))
		})
	}
}

func TestStaticBackfill(t *testing.T) {
	p := render.New(newPyramid(t), viewport)
	tiers := render.Tiers{Frontfill: 1, Backfill: 0, Oversize: render.NoTier}
	v := geom.View{X: 256, Y: 256, Zoom: 1}
	p.Begin(v, tiers)
	require.True(t, p.Draw(tile.LayerBackfill, newTile(0, 0, 0, blue)))
	require.True(t, p.Draw(tile.LayerFrontfill, newTile(1, 0, 0, red)))

	frame := p.Frame()
	require.Equal(t, red, pixelAt(frame, v, 100, 100))
	require.Equal(t, blue, pixelAt(frame, v, 400, 400))

	// The static backfill survives a new view of the same tier.
	v.X = 300
	p.Begin(v, tiers)
	require.Len(t, p.Tiles(tile.LayerBackfill), 1)
	require.Empty(t, p.Tiles(tile.LayerFrontfill))
	frame = p.Frame()
	require.Equal(t, blue, pixelAt(frame, v, 100, 100))
	require.Equal(t, blue, pixelAt(frame, v, 450, 400))

	require.False(t, p.Draw(tile.LayerBackfill, newTile(0, 0, 0, blue)))
}

func TestDynamicBackfill(t *testing.T) {
	p := render.New(newPyramid(t), viewport)
	tiers := render.Tiers{Frontfill: 1, Backfill: 0, Oversize: render.NoTier, DynamicBackfill: true}
	v := geom.View{X: 256, Y: 256, Zoom: 1}
	p.Begin(v, tiers)
	require.True(t, p.Draw(tile.LayerBackfill, newTile(0, 0, 0, blue)))
	require.Equal(t, blue, pixelAt(p.Frame(), v, 400, 400))

	p.Begin(v, tiers)
	require.Empty(t, p.Tiles(tile.LayerBackfill))
	require.Equal(t, transparent, pixelAt(p.Frame(), v, 400, 400))
}

func TestOversizedStaticBackfill(t *testing.T) {
	p := render.New(newPyramid(t), viewport, render.WithMaxSurfacePixels(1000))
	var warnings []error
	p.SetWarningHandler(func(err error) { warnings = append(warnings, err) })

	tiers := render.Tiers{Frontfill: 1, Backfill: 0, Oversize: render.NoTier}
	v := geom.View{X: 256, Y: 256, Zoom: 1}
	p.Begin(v, tiers)
	p.Begin(v, tiers)
	require.Len(t, warnings, 1)
	require.ErrorIs(t, warnings[0], render.ErrSurfaceTooLarge)

	// The backfill is still drawn, dynamically.
	require.True(t, p.Draw(tile.LayerBackfill, newTile(0, 0, 0, blue)))
	require.Equal(t, blue, pixelAt(p.Frame(), v, 400, 400))
}

func TestDrawFiltersTiles(t *testing.T) {
	p := render.New(newPyramid(t), viewport)
	p.Begin(geom.View{X: 256, Y: 256, Zoom: 1}, frontOnly(1))

	skip := &tilecache.Tile{ID: tile.ID{Tier: 1}, Skip: true, Alpha: 1}
	require.False(t, p.Draw(tile.LayerFrontfill, skip))
	require.False(t, p.Draw(tile.LayerFrontfill, newTile(0, 0, 0, red)))
	require.False(t, p.Draw(tile.LayerBackfill, newTile(0, 0, 0, red)))
	require.False(t, p.Draw(tile.LayerNavigator, newTile(0, 0, 0, red)))
	require.True(t, p.Draw(tile.LayerFrontfill, newTile(1, 1, 1, red)))
	require.False(t, p.Draw(tile.LayerFrontfill, newTile(1, 1, 1, red)))
	require.Len(t, p.Tiles(tile.LayerFrontfill), 1)
}

func TestTransitionSwap(t *testing.T) {
	p := render.New(newPyramid(t), viewport)
	v := geom.View{X: 256, Y: 256, Zoom: 0.5}
	p.Begin(v, frontOnly(0))
	p.Draw(tile.LayerFrontfill, newTile(0, 0, 0, blue))
	p.EndLoad()
	require.Equal(t, 0, p.Swaps())
	require.False(t, p.Transitioning())

	// The previous tier stays on screen, reprojected, while the next one loads.
	v.Zoom = 1
	p.Begin(v, frontOnly(1))
	require.True(t, p.Transitioning())
	frame := p.Frame()
	require.Equal(t, blue, pixelAt(frame, v, 100, 100))
	require.Equal(t, blue, pixelAt(frame, v, 400, 400))

	p.Draw(tile.LayerFrontfill, newTile(1, 0, 0, red))
	require.Equal(t, blue, pixelAt(p.Frame(), v, 100, 100))

	// A new view of the same tier keeps the previous tier until the swap.
	v.X = 300
	p.Begin(v, frontOnly(1))
	require.True(t, p.Transitioning())
	require.Equal(t, blue, pixelAt(p.Frame(), v, 400, 400))
	for _, cr := range [][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		require.True(t, p.Draw(tile.LayerFrontfill, newTile(1, cr[0], cr[1], red)))
	}
	require.Equal(t, blue, pixelAt(p.Frame(), v, 400, 400))

	p.EndLoad()
	require.Equal(t, 1, p.Swaps())
	require.False(t, p.Transitioning())
	frame = p.Frame()
	require.Equal(t, red, pixelAt(frame, v, 100, 100))
	require.Equal(t, red, pixelAt(frame, v, 400, 400))

	// Without a tier change tiles are drawn straight into the display.
	p.Begin(v, frontOnly(1))
	require.False(t, p.Transitioning())
	p.Draw(tile.LayerFrontfill, newTile(1, 0, 1, red))
	require.Equal(t, red, pixelAt(p.Frame(), v, 100, 400))
	p.EndLoad()
	require.Equal(t, 1, p.Swaps())
}

func TestTransitionBackToRetainedTier(t *testing.T) {
	p := render.New(newPyramid(t), viewport)
	v := geom.View{X: 256, Y: 256, Zoom: 0.5}
	p.Begin(v, frontOnly(0))
	p.Draw(tile.LayerFrontfill, newTile(0, 0, 0, blue))
	p.EndLoad()

	p.Begin(geom.View{X: 256, Y: 256, Zoom: 1}, frontOnly(1))
	require.True(t, p.Transitioning())
	p.Begin(v, frontOnly(0))
	require.False(t, p.Transitioning())
	require.Equal(t, 0, p.Swaps())
}

func TestFadeAndRefresh(t *testing.T) {
	p := render.New(newPyramid(t), viewport)
	v := geom.View{X: 256, Y: 256, Zoom: 1}
	p.Begin(v, frontOnly(1))
	tl := newTile(1, 0, 0, red)
	tl.Alpha = 0.5
	p.Draw(tile.LayerFrontfill, tl)

	got := pixelAt(p.Frame(), v, 100, 100)
	require.InDelta(t, 0x80, int(got.A), 1)
	require.InDelta(t, 0x80, int(got.R), 1)

	tl.Alpha = 1
	p.Refresh()
	require.Equal(t, red, pixelAt(p.Frame(), v, 100, 100))
}

func TestCanvasPreview(t *testing.T) {
	p := render.New(newPyramid(t), viewport)
	v := geom.View{X: 256, Y: 256, Zoom: 1}
	p.Begin(v, frontOnly(1))
	p.Draw(tile.LayerFrontfill, newTile(1, 0, 0, red))

	p.SetPreview(render.Preview{Offset: geom.Point{X: 300}, Scale: 1})
	frame := p.Frame()
	require.Equal(t, transparent, frame.RGBAAt(100, 100))
	require.Equal(t, red, frame.RGBAAt(400, 100))

	// Begin drops the preview.
	p.Begin(v, frontOnly(1))
	require.Equal(t, render.Preview{}, p.Preview())
}

func TestPreviewReprojectsStaticBackfill(t *testing.T) {
	p := render.New(newPyramid(t), viewport)
	tiers := render.Tiers{Frontfill: 1, Backfill: 0, Oversize: render.NoTier}
	p.Begin(geom.View{X: 128, Y: 128, Zoom: 2}, tiers)
	require.True(t, p.Draw(tile.LayerBackfill, newTile(0, 0, 0, blue)))
	require.True(t, p.Draw(tile.LayerFrontfill, newTile(1, 0, 0, red)))
	require.Equal(t, red, p.Frame().RGBAAt(400, 100))

	// Display (400, 100) moves past the drawn area; the backfill still covers it.
	p.SetPreview(render.Preview{Offset: geom.Point{X: -300}, Scale: 1})
	frame := p.Frame()
	require.Equal(t, red, frame.RGBAAt(100, 100))
	require.Equal(t, blue, frame.RGBAAt(400, 100))
}

func TestPlacements(t *testing.T) {
	tests := []struct {
		name    string
		view    geom.View
		preview render.Preview
		want    render.Placement
	}{
		{
			name: "plain",
			view: geom.View{X: 256, Y: 256, Zoom: 0.5},
			want: render.Placement{Name: "1-0-1", Left: 128, Top: 256, Width: 128, Height: 128, Alpha: 1},
		},
		{
			name: "rotated",
			view: geom.View{X: 256, Y: 256, Zoom: 0.5, Rotation: 90},
			want: render.Placement{Name: "1-0-1", Left: 128, Top: 128, Width: 128, Height: 128, Rotation: 90, Alpha: 1},
		},
		{
			name:    "preview",
			view:    geom.View{X: 256, Y: 256, Zoom: 0.5},
			preview: render.Preview{Offset: geom.Point{X: 10}, Scale: 2},
			want:    render.Placement{Name: "1-0-1", Left: 10, Top: 256, Width: 256, Height: 256, Alpha: 1},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := render.New(newPyramid(t), viewport, render.WithMode(render.ModePlacement))
			p.Begin(tc.view, frontOnly(1))
			require.True(t, p.Draw(tile.LayerFrontfill, newTile(1, 0, 1, red)))
			p.SetPreview(tc.preview)
			require.Nil(t, p.Frame())

			got := p.Placements(tile.LayerFrontfill)
			if diff := cmp.Diff([]render.Placement{tc.want}, got); diff != "" {
				t.Errorf("Placements mismatch (-want+got):\n%v", diff)
			}
		})
	}
}
