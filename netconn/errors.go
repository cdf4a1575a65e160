package netconn

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout     = errors.New("deepview: request timed out")
	ErrHTTPStatus  = errors.New("deepview: unexpected http status")
	ErrLocalAccess = errors.New("deepview: byte range access needs a web server, not a local file")
	ErrDecode      = errors.New("deepview: cannot decode response")
)

// ErrorKind tells network-level failures from application-level ones.
// Callers treat every kind as "failed"; the kind only shapes diagnostics.
type ErrorKind uint8

const (
	KindNetwork ErrorKind = iota
	KindHTTP
	KindTimeout
	KindDecode
	KindEnvironment
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindHTTP:
		return "http"
	case KindTimeout:
		return "timeout"
	case KindDecode:
		return "decode"
	case KindEnvironment:
		return "environment"
	default:
		return "unknown"
	}
}

// Error describes a failed load.
type Error struct {
	Kind    ErrorKind
	Purpose string
	URL     string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Kind == KindHTTP {
		return fmt.Sprintf("deepview: %v load failed: %v: http status %v", e.Purpose, e.URL, e.Status)
	}
	return fmt.Sprintf("deepview: %v load failed (%v): %v: %v", e.Purpose, e.Kind, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether a failed XML load of this kind should stop the viewer.
func (k XMLKind) Fatal() bool {
	return k == XMLImageProperties
}
