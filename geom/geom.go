// Package geom converts between image-pixel space, tier space and viewport display space.
//
// Image space has its origin at the top-left corner of the full resolution image.
// Display space has its origin at the top-left corner of the viewport, y pointing down.
// Rotations are clockwise as seen on screen.
package geom

import "math"

type Point struct {
	X, Y float64
}

func (p Point) Add(q Point) Point   { return Point{p.X + q.X, p.Y + q.Y} }
func (p Point) Sub(q Point) Point   { return Point{p.X - q.X, p.Y - q.Y} }
func (p Point) Mul(k float64) Point { return Point{p.X * k, p.Y * k} }

type Size struct {
	W, H float64
}

func (s Size) Center() Point { return Point{s.W / 2, s.H / 2} }

// Rect is an axis-aligned rectangle, Min inclusive, Max exclusive.
type Rect struct {
	Min, Max Point
}

func (r Rect) Dx() float64 { return r.Max.X - r.Min.X }
func (r Rect) Dy() float64 { return r.Max.Y - r.Min.Y }

func (r Rect) Empty() bool { return r.Min.X >= r.Max.X || r.Min.Y >= r.Max.Y }

func (r Rect) Intersect(s Rect) Rect {
	r.Min.X = max(r.Min.X, s.Min.X)
	r.Min.Y = max(r.Min.Y, s.Min.Y)
	r.Max.X = min(r.Max.X, s.Max.X)
	r.Max.Y = min(r.Max.Y, s.Max.Y)
	if r.Empty() {
		return Rect{}
	}
	return r
}

// Bound returns the smallest rectangle containing all points.
func Bound(points ...Point) Rect {
	if len(points) == 0 {
		return Rect{}
	}
	r := Rect{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		r.Min.X = min(r.Min.X, p.X)
		r.Min.Y = min(r.Min.Y, p.Y)
		r.Max.X = max(r.Max.X, p.X)
		r.Max.Y = max(r.Max.Y, p.Y)
	}
	return r
}

// View is a pan/zoom/rotation state: X, Y is the image point shown at the viewport center,
// Zoom is display pixels per image pixel, Rotation is in degrees.
type View struct {
	X, Y     float64
	Zoom     float64
	Rotation float64
}

func (v View) Center() Point { return Point{v.X, v.Y} }

// NormalizeRotation rounds deg to the nearest multiple of 90 in [0, 360).
func NormalizeRotation(deg float64) int {
	r := int(math.Round(deg/90)) * 90
	r %= 360
	if r < 0 {
		r += 360
	}
	return r
}

// Rotate rotates p around the origin by deg degrees clockwise.
func Rotate(p Point, deg float64) Point {
	switch math.Mod(deg, 360) {
	case 0:
		return p
	case 90, -270:
		return Point{-p.Y, p.X}
	case 180, -180:
		return Point{-p.X, -p.Y}
	case 270, -90:
		return Point{p.Y, -p.X}
	}
	s, c := math.Sincos(deg * math.Pi / 180)
	return Point{p.X*c - p.Y*s, p.X*s + p.Y*c}
}

// RotatedSize returns the display extent of a w*h rectangle rotated by a multiple of 90.
func RotatedSize(s Size, rotation int) Size {
	if rotation == 90 || rotation == 270 {
		return Size{s.H, s.W}
	}
	return s
}

// ImageToDisplay maps an image point to viewport display coordinates.
func ImageToDisplay(v View, viewport Size, p Point) Point {
	return Rotate(p.Sub(v.Center()).Mul(v.Zoom), v.Rotation).Add(viewport.Center())
}

// DisplayToImage maps a viewport display point to image coordinates.
func DisplayToImage(v View, viewport Size, d Point) Point {
	return Rotate(d.Sub(viewport.Center()), -v.Rotation).Mul(1 / v.Zoom).Add(v.Center())
}

// ZoomToFit returns the zoom at which the whole rotated image fits the viewport.
func ZoomToFit(image, viewport Size, rotation int) float64 {
	r := RotatedSize(image, rotation)
	if r.W <= 0 || r.H <= 0 {
		return 1
	}
	return min(viewport.W/r.W, viewport.H/r.H)
}

// ZoomToFill returns the zoom at which the rotated image covers the whole viewport.
func ZoomToFill(image, viewport Size, rotation int) float64 {
	r := RotatedSize(image, rotation)
	if r.W <= 0 || r.H <= 0 {
		return 1
	}
	return max(viewport.W/r.W, viewport.H/r.H)
}

// ViewBounds returns the image-space bounding box of the viewport expanded by buffer
// (a fraction of the viewport size added on each side). The box is not clipped to the image.
func ViewBounds(v View, viewport Size, buffer float64) Rect {
	bx, by := viewport.W*buffer, viewport.H*buffer
	corners := []Point{
		{-bx, -by},
		{viewport.W + bx, -by},
		{-bx, viewport.H + by},
		{viewport.W + bx, viewport.H + by},
	}
	for i, c := range corners {
		corners[i] = DisplayToImage(v, viewport, c)
	}
	return Bound(corners...)
}
