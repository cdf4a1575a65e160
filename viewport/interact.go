package viewport

import (
	"math"
	"time"

	"github.com/eak1mov/go-deepview/geom"
	"github.com/eak1mov/go-deepview/render"
	"github.com/eak1mov/go-deepview/sched"
)

type ZoomDirection int8

const (
	ZoomOut  ZoomDirection = -1
	ZoomStop ZoomDirection = 0
	ZoomIn   ZoomDirection = 1
)

type PanDirection uint8

const (
	PanStop PanDirection = iota
	PanLeft
	PanRight
	PanUp
	PanDown
)

// vector returns the display-space movement of the view for one pan step.
func (d PanDirection) vector() geom.Point {
	switch d {
	case PanLeft:
		return geom.Point{X: -1}
	case PanRight:
		return geom.Point{X: 1}
	case PanUp:
		return geom.Point{Y: -1}
	case PanDown:
		return geom.Point{Y: 1}
	}
	return geom.Point{}
}

func (v *Viewport) interactive() bool {
	return v.status.Has(StatusInteractive)
}

// cancelInteraction stops the running interaction without redrawing.
func (v *Viewport) cancelInteraction() {
	v.task.Cancel()
	v.task = nil
	if v.interaction == InteractionRotating {
		v.status |= StatusInteractive
	}
	v.interaction = InteractionIdle
}

// moveTo applies an interactive view change. While the frontfill tier and rotation stay the same
// the drawn frame is only previewed at the new position; the next updateView redraws it.
func (v *Viewport) moveTo(target geom.View) {
	nv := v.clamp(target)
	if nv == v.view {
		return
	}
	v.setView(nv)
	if v.hasDrawn && v.tier == v.tiers.Frontfill && v.view.Rotation == v.drawn.Rotation {
		v.pipeline.SetPreview(v.previewOf(v.drawn, v.view))
		v.emit(EventRedraw)
		return
	}
	v.updateView(false)
}

// moveBy moves the view center by a display-space delta.
func (v *Viewport) moveBy(d geom.Point) {
	delta := geom.Rotate(d, -v.view.Rotation).Mul(1 / v.view.Zoom)
	target := v.view
	target.X += delta.X
	target.Y += delta.Y
	v.moveTo(target)
}

// previewOf returns the preview that shows the frame drawn for drawn as seen from cur.
// Both views have the same rotation.
func (v *Viewport) previewOf(drawn, cur geom.View) render.Preview {
	c := geom.ImageToDisplay(cur, v.size, drawn.Center())
	return render.Preview{
		Offset: c.Sub(v.size.Center()),
		Scale:  cur.Zoom / drawn.Zoom,
	}
}

// Zoom starts or stops continuous zooming. Stopping redraws the view once; stopping when not
// zooming does nothing.
func (v *Viewport) Zoom(dir ZoomDirection) {
	if dir == ZoomStop {
		if v.interaction != InteractionZooming {
			return
		}
		v.cancelInteraction()
		v.updateView(true)
		return
	}
	if !v.interactive() || (v.interaction == InteractionZooming && v.zoomDir == dir) {
		return
	}
	v.cancelInteraction()
	v.interaction = InteractionZooming
	v.zoomDir = dir
	v.task = v.sched.Every(v.config.stepInterval, v.zoomStep)
}

func (v *Viewport) zoomStep() {
	target := v.view
	target.Zoom *= 1 + float64(v.zoomDir)*v.config.zoomSpeed
	v.moveTo(target)
}

// Pan starts or stops continuous panning.
func (v *Viewport) Pan(dir PanDirection) {
	if dir == PanStop {
		if v.interaction != InteractionPanning {
			return
		}
		v.cancelInteraction()
		v.updateView(true)
		return
	}
	if !v.interactive() || (v.interaction == InteractionPanning && v.panDir == dir) {
		return
	}
	v.cancelInteraction()
	v.interaction = InteractionPanning
	v.panDir = dir
	v.task = v.sched.Every(v.config.stepInterval, func() {
		v.moveBy(v.panDir.vector().Mul(v.config.panSpeed))
	})
}

// Drag moves the image with a pointer by a display-space delta.
func (v *Viewport) Drag(dx, dy float64) {
	if !v.interactive() {
		return
	}
	if v.interaction != InteractionDragging {
		v.cancelInteraction()
		v.interaction = InteractionDragging
	}
	v.moveBy(geom.Point{X: -dx, Y: -dy})
}

// DragEnd ends a drag and redraws the view at its final position.
func (v *Viewport) DragEnd() {
	if v.interaction != InteractionDragging {
		return
	}
	v.interaction = InteractionIdle
	v.updateView(false)
}

// Glide continues a drag with velocity vx, vy in display pixels per step, slowing down by the
// glide friction every step.
func (v *Viewport) Glide(vx, vy float64) {
	if !v.interactive() {
		return
	}
	v.cancelInteraction()
	v.interaction = InteractionGliding
	v.velocity = geom.Point{X: vx, Y: vy}
	v.task = v.sched.Every(v.config.stepInterval, v.glideStep)
}

func (v *Viewport) glideStep() {
	v.moveBy(v.velocity.Mul(-1))
	v.velocity = v.velocity.Mul(v.config.glideFriction)
	if math.Hypot(v.velocity.X, v.velocity.Y) < glideStop {
		v.cancelInteraction()
		v.updateView(false)
	}
}

func easeInOutQuint(t float64) float64 {
	if t < 0.5 {
		return 16 * t * t * t * t * t
	}
	u := -2*t + 2
	return 1 - u*u*u*u*u/2
}

// shortestTurn returns the rotation from one angle to another in (-180, 180].
func shortestTurn(from, to float64) float64 {
	d := math.Mod(to-from, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}

// stepPeriod spreads steps over duration, at least sched.MinPeriod apart.
func stepPeriod(duration time.Duration, steps int) time.Duration {
	return max(duration/time.Duration(steps), sched.MinPeriod)
}

// ZoomAndPanToView animates to a view in steps eased in and out. A zero duration or step count
// uses the configured default. onComplete, if not nil, runs once after the last step, which
// lands exactly on the constrained target.
func (v *Viewport) ZoomAndPanToView(target geom.View, duration time.Duration, steps int, onComplete func()) {
	v.cancelInteraction()
	if duration <= 0 {
		duration = v.config.transitionDuration
	}
	if steps <= 0 {
		steps = v.config.transitionSteps
	}
	start := v.view
	end := v.clamp(target)
	turn := shortestTurn(start.Rotation, end.Rotation)
	v.prior = start

	step := 0
	v.interaction = InteractionAnimating
	v.task = v.sched.Every(stepPeriod(duration, steps), func() {
		step++
		if step >= steps {
			v.cancelInteraction()
			v.setView(end)
			v.updateView(false)
			v.emit(EventTransitionComplete)
			if onComplete != nil {
				onComplete()
			}
			return
		}
		e := easeInOutQuint(float64(step) / float64(steps))
		v.setView(geom.View{
			X:        start.X + (end.X-start.X)*e,
			Y:        start.Y + (end.Y-start.Y)*e,
			Zoom:     start.Zoom + (end.Zoom-start.Zoom)*e,
			Rotation: start.Rotation + turn*e,
		})
		v.updateView(false)
	})
}

// Rotate turns the view by delta degrees rounded to a multiple of 90. An animated rotation
// disables interaction until it completes.
func (v *Viewport) Rotate(delta float64, animated bool) {
	turn := math.Round(delta/90) * 90
	if turn == 0 || !v.interactive() {
		return
	}
	end := v.view
	end.Rotation = float64(geom.NormalizeRotation(v.view.Rotation + turn))
	if !animated {
		v.SetView(end.X, end.Y, end.Zoom, end.Rotation)
		return
	}

	v.cancelInteraction()
	v.prior = v.view
	v.interaction = InteractionRotating
	v.status &^= StatusInteractive
	start := v.view.Rotation
	steps := max(1, v.config.rotationSteps)
	step := 0
	v.task = v.sched.Every(stepPeriod(v.config.rotationDuration, steps), func() {
		step++
		if step >= steps {
			v.cancelInteraction()
			v.setView(v.clamp(end))
			v.updateView(false)
			return
		}
		nv := v.view
		nv.Rotation = start + turn*float64(step)/float64(steps)
		v.setView(nv)
		v.updateView(false)
	})
}
