package geom

// PanConstraint selects how far the image may be dragged away from the viewport.
type PanConstraint uint8

const (
	// PanConstrainStrict keeps a larger-than-viewport image covering the viewport
	// and a smaller image entirely inside it.
	PanConstrainStrict PanConstraint = iota
	// PanConstrainLoose keeps the viewport center over the image.
	PanConstrainLoose
	PanConstrainNone
)

// ConstrainPan returns the view center nearest to (v.X, v.Y) allowed by mode.
// Applying it to its own result returns the same coordinates.
func ConstrainPan(v View, image, viewport Size, mode PanConstraint) (x, y float64) {
	switch mode {
	case PanConstrainNone:
		return v.X, v.Y
	case PanConstrainLoose:
		return clamp(v.X, 0, image.W), clamp(v.Y, 0, image.H)
	}
	if v.Zoom <= 0 {
		return v.X, v.Y
	}
	// Half of the viewport, measured along the image axes.
	half := RotatedSize(Size{viewport.W / (2 * v.Zoom), viewport.H / (2 * v.Zoom)}, NormalizeRotation(v.Rotation))
	x = clampSpan(v.X, half.W, image.W)
	y = clampSpan(v.Y, half.H, image.H)
	return x, y
}

func clampSpan(c, half, extent float64) float64 {
	lo, hi := half, extent-half
	if lo > hi {
		lo, hi = hi, lo
	}
	return clamp(c, lo, hi)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
