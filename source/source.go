// Package source defines how the viewer turns a tile ID into something it can load.
//
// Each storage format implements Source. Resolution is synchronous when the format can compute
// the address directly (folder storage) and asynchronous when lookup tables have to be fetched
// first (packed storage): Resolve then returns StatusPending, and the source reports the final
// resolution through the handler installed with SetResolvedHandler once the tables arrive.
package source

import (
	"fmt"
	"image"

	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/tile"
)

// Status is the outcome of resolving a tile.
type Status uint8

const (
	// StatusReady means Request describes how to load the tile.
	StatusReady Status = iota
	// StatusPending means the tile waits for lookup data; it is reported later.
	StatusPending
	// StatusSkip means the tile intentionally has no data.
	StatusSkip
	// StatusFailed means the lookup data could not be loaded. Resolving again retries.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusPending:
		return "pending"
	case StatusSkip:
		return "skip"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Request describes how to obtain a tile image: a URL, optionally restricted to a byte range,
// or a generator producing the image locally.
type Request struct {
	URL      string
	Range    *tile.Location
	Generate func() (image.Image, error)
}

func (r Request) String() string {
	switch {
	case r.Generate != nil:
		return "generated"
	case r.Range != nil:
		return fmt.Sprintf("%v [%v-%v]", r.URL, r.Range.Offset, r.Range.End())
	default:
		return r.URL
	}
}

// Resolution is the result of Source.Resolve.
type Resolution struct {
	Status  Status
	Request Request
	Err     error
}

func Ready(req Request) Resolution {
	return Resolution{Status: StatusReady, Request: req}
}

func Pending() Resolution {
	return Resolution{Status: StatusPending}
}

func Skip() Resolution {
	return Resolution{Status: StatusSkip}
}

func Failed(err error) Resolution {
	return Resolution{Status: StatusFailed, Err: err}
}

// ResolvedHandler receives the final resolution of a tile that previously resolved as pending.
type ResolvedHandler func(id tile.ID, layer tile.Layer, r Resolution)

// Source addresses the tiles of one image.
// All methods are called on the scheduler loop.
type Source interface {
	// Pyramid returns the tier model of the image.
	Pyramid() *pyramid.Pyramid
	// Resolve translates a tile ID into a load request. IDs outside the pyramid and lookups
	// that fail at once return StatusFailed. Lookups that fail after returning StatusPending are
	// reported to the resolved handler as StatusFailed.
	Resolve(id tile.ID, layer tile.Layer) Resolution
	// SetResolvedHandler installs the handler for pending resolutions.
	SetResolvedHandler(h ResolvedHandler)
}

// Closer is implemented by sources holding resources such as open files.
type Closer interface {
	Close() error
}
