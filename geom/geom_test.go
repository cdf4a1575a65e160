package geom_test

import (
	"math"
	"testing"

	"github.com/eak1mov/go-deepview/geom"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestNormalizeRotation(t *testing.T) {
	for _, tc := range []struct {
		in   float64
		want int
	}{
		{0, 0}, {90, 90}, {44, 0}, {46, 90}, {-90, 270}, {360, 0}, {450, 90}, {-450, 270}, {181, 180},
	} {
		if got := geom.NormalizeRotation(tc.in); got != tc.want {
			t.Errorf("NormalizeRotation(%v) = %v, want = %v", tc.in, got, tc.want)
		}
	}
}

func TestRotate(t *testing.T) {
	p := geom.Point{X: 1, Y: 0}
	for _, tc := range []struct {
		deg  float64
		want geom.Point
	}{
		{0, geom.Point{X: 1, Y: 0}},
		{90, geom.Point{X: 0, Y: 1}},
		{180, geom.Point{X: -1, Y: 0}},
		{270, geom.Point{X: 0, Y: -1}},
		{45, geom.Point{X: math.Sqrt2 / 2, Y: math.Sqrt2 / 2}},
	} {
		if diff := cmp.Diff(tc.want, geom.Rotate(p, tc.deg), approx); diff != "" {
			t.Errorf("Rotate(%v) mismatch (-want+got):\n%v", tc.deg, diff)
		}
	}
}

func TestImageDisplayRoundTrip(t *testing.T) {
	viewport := geom.Size{W: 800, H: 600}
	for _, rotation := range []float64{0, 90, 180, 270, 30} {
		v := geom.View{X: 1200, Y: 900, Zoom: 0.37, Rotation: rotation}
		p := geom.Point{X: 1500, Y: 700}
		got := geom.DisplayToImage(v, viewport, geom.ImageToDisplay(v, viewport, p))
		if diff := cmp.Diff(p, got, approx); diff != "" {
			t.Errorf("rotation %v: round trip mismatch (-want+got):\n%v", rotation, diff)
		}
	}
}

func TestImageToDisplayCenter(t *testing.T) {
	viewport := geom.Size{W: 800, H: 600}
	v := geom.View{X: 100, Y: 50, Zoom: 2, Rotation: 90}
	if diff := cmp.Diff(geom.Point{X: 400, Y: 300}, geom.ImageToDisplay(v, viewport, v.Center()), approx); diff != "" {
		t.Errorf("center mismatch (-want+got):\n%v", diff)
	}
	// One image pixel right of center lands one zoomed step below center at 90 degrees.
	got := geom.ImageToDisplay(v, viewport, geom.Point{X: 101, Y: 50})
	if diff := cmp.Diff(geom.Point{X: 400, Y: 302}, got, approx); diff != "" {
		t.Errorf("rotated mismatch (-want+got):\n%v", diff)
	}
}

func TestZoomToFitFill(t *testing.T) {
	image := geom.Size{W: 8000, H: 6000}
	viewport := geom.Size{W: 800, H: 400}
	if got, want := geom.ZoomToFit(image, viewport, 0), 400.0/6000; math.Abs(got-want) > 1e-12 {
		t.Errorf("ZoomToFit = %v, want = %v", got, want)
	}
	if got, want := geom.ZoomToFill(image, viewport, 0), 800.0/8000; math.Abs(got-want) > 1e-12 {
		t.Errorf("ZoomToFill = %v, want = %v", got, want)
	}
	if got, want := geom.ZoomToFit(image, viewport, 90), 400.0/8000; math.Abs(got-want) > 1e-12 {
		t.Errorf("ZoomToFit(90) = %v, want = %v", got, want)
	}
}

func TestConstrainPan(t *testing.T) {
	image := geom.Size{W: 8000, H: 6000}
	viewport := geom.Size{W: 800, H: 600}
	for _, tc := range []struct {
		name string
		view geom.View
		mode geom.PanConstraint
	}{
		{"StrictFarOut", geom.View{X: -5000, Y: 99999, Zoom: 0.5}, geom.PanConstrainStrict},
		{"StrictSmallImage", geom.View{X: 9000, Y: -20, Zoom: 0.05}, geom.PanConstrainStrict},
		{"StrictRotated", geom.View{X: 7990, Y: 10, Zoom: 0.25, Rotation: 90}, geom.PanConstrainStrict},
		{"Loose", geom.View{X: -1, Y: 6001, Zoom: 1}, geom.PanConstrainLoose},
		{"Inside", geom.View{X: 4000, Y: 3000, Zoom: 1}, geom.PanConstrainStrict},
	} {
		t.Run(tc.name, func(t *testing.T) {
			x, y := geom.ConstrainPan(tc.view, image, viewport, tc.mode)
			if x < -viewport.W || x > image.W+viewport.W || y < -viewport.H || y > image.H+viewport.H {
				t.Fatalf("constrained center (%v, %v) out of bounds", x, y)
			}
			again := tc.view
			again.X, again.Y = x, y
			x2, y2 := geom.ConstrainPan(again, image, viewport, tc.mode)
			if x2 != x || y2 != y {
				t.Errorf("ConstrainPan not idempotent: (%v, %v) -> (%v, %v)", x, y, x2, y2)
			}
		})
	}
}

func TestConstrainPanStrictKeepsImageCovering(t *testing.T) {
	image := geom.Size{W: 8000, H: 6000}
	viewport := geom.Size{W: 800, H: 600}
	v := geom.View{X: -100, Y: -100, Zoom: 1}
	x, y := geom.ConstrainPan(v, image, viewport, geom.PanConstrainStrict)
	if x != 400 || y != 300 {
		t.Errorf("ConstrainPan = (%v, %v), want = (400, 300)", x, y)
	}
}

func TestViewBounds(t *testing.T) {
	viewport := geom.Size{W: 800, H: 600}
	v := geom.View{X: 1000, Y: 1000, Zoom: 0.5}
	got := geom.ViewBounds(v, viewport, 0)
	want := geom.Rect{Min: geom.Point{X: 200, Y: 400}, Max: geom.Point{X: 1800, Y: 1600}}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("ViewBounds mismatch (-want+got):\n%v", diff)
	}
	v.Rotation = 90
	got = geom.ViewBounds(v, viewport, 0)
	want = geom.Rect{Min: geom.Point{X: 400, Y: 200}, Max: geom.Point{X: 1600, Y: 1800}}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("ViewBounds(90) mismatch (-want+got):\n%v", diff)
	}
}
