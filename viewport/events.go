package viewport

import (
	"fmt"
	"strings"
)

// Event is a viewport lifecycle event delivered to callbacks.
type Event uint8

const (
	EventInitialized Event = iota
	// EventRedraw reports new content in the render pipeline.
	EventRedraw
	// EventViewUpdateComplete reports that every tile of the current view has arrived.
	EventViewUpdateComplete
	EventViewZoomed
	EventViewPanned
	EventViewRotated
	EventTransitionComplete
	EventResized
	EventTileFailed
	EventValidationFailed
	EventWarning
)

var eventNames = [...]string{
	EventInitialized:        "initializedViewport",
	EventRedraw:             "redraw",
	EventViewUpdateComplete: "viewUpdateComplete",
	EventViewZoomed:         "viewZoomed",
	EventViewPanned:         "viewPanned",
	EventViewRotated:        "viewRotated",
	EventTransitionComplete: "transitionComplete",
	EventResized:            "viewportResized",
	EventTileFailed:         "tileFailed",
	EventValidationFailed:   "validationFailed",
	EventWarning:            "warning",
}

func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("Event(%d)", uint8(e))
}

// Status is a set of readiness flags.
type Status uint16

const (
	StatusInitialized Status = 1 << iota
	StatusInteractive
	StatusBackfillDrawn
	StatusBackfillLoaded
	StatusDisplayLoaded
	StatusValidationFailed
)

var statusNames = []string{
	"initialized",
	"interactive",
	"backfillDrawn",
	"backfillLoaded",
	"displayLoaded",
	"validationFailed",
}

func (s Status) Has(flags Status) bool {
	return s&flags == flags
}

func (s Status) String() string {
	var names []string
	for i, name := range statusNames {
		if s&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}

// Interaction is the interaction in progress. At most one runs at a time.
type Interaction uint8

const (
	InteractionIdle Interaction = iota
	InteractionZooming
	InteractionPanning
	InteractionDragging
	InteractionGliding
	InteractionAnimating
	InteractionRotating
)

func (i Interaction) String() string {
	switch i {
	case InteractionIdle:
		return "idle"
	case InteractionZooming:
		return "zooming"
	case InteractionPanning:
		return "panning"
	case InteractionDragging:
		return "dragging"
	case InteractionGliding:
		return "gliding"
	case InteractionAnimating:
		return "animating"
	case InteractionRotating:
		return "rotating"
	}
	return fmt.Sprintf("Interaction(%d)", uint8(i))
}

type CallbackID int

type callback struct {
	id CallbackID
	f  func(Event)
}

// SetCallback registers f for event e and returns its handle for ClearCallback.
func (v *Viewport) SetCallback(e Event, f func(Event)) CallbackID {
	v.nextCallback++
	v.callbacks[e] = append(v.callbacks[e], callback{v.nextCallback, f})
	return v.nextCallback
}

// ClearCallback removes a callback registered by SetCallback.
func (v *Viewport) ClearCallback(id CallbackID) {
	for e, cbs := range v.callbacks {
		for i, cb := range cbs {
			if cb.id == id {
				v.callbacks[e] = append(cbs[:i:i], cbs[i+1:]...)
				return
			}
		}
	}
}

func (v *Viewport) emit(e Event) {
	for _, cb := range v.callbacks[e] {
		cb.f(e)
	}
}

// Status returns the readiness flags.
func (v *Viewport) Status() Status {
	return v.status
}

// SetStatus sets or clears flags, for hosts signalling their own readiness.
func (v *Viewport) SetStatus(flags Status, on bool) {
	if on {
		v.status |= flags
	} else {
		v.status &^= flags
	}
}

func (v *Viewport) Interaction() Interaction {
	return v.interaction
}
