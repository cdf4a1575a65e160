package viewer

import (
	"errors"
	"fmt"
	"os"

	"github.com/eak1mov/go-deepview/netconn"
	"github.com/eak1mov/go-deepview/pyramid"
)

// MessageKind is the class of a user-visible message.
type MessageKind uint8

const (
	// MessageFatal reports an image that cannot be shown. It stays until dismissed.
	MessageFatal MessageKind = iota
	// MessageWarning reports a degraded feature; the image is still usable.
	MessageWarning
	// MessageStatus is a transient progress note.
	MessageStatus
)

func (k MessageKind) String() string {
	switch k {
	case MessageFatal:
		return "fatal"
	case MessageWarning:
		return "warning"
	case MessageStatus:
		return "status"
	}
	return fmt.Sprintf("MessageKind(%d)", uint8(k))
}

// Message is a note for the user. Per-tile problems are never reported as messages.
type Message struct {
	Kind MessageKind
	Text string
	Err  error
}

func (v *Viewer) message(kind MessageKind, text string, err error) {
	switch kind {
	case MessageFatal:
		v.logger.Error("viewer: "+text, "error", err)
	case MessageWarning:
		v.logger.Warn("viewer: "+text, "error", err)
	default:
		v.logger.Debug("viewer: " + text)
	}
	v.config.onMessage(Message{Kind: kind, Text: text, Err: err})
}

// describe explains a load failure in user terms.
func describe(path string, err error) string {
	switch {
	case errors.Is(err, netconn.ErrLocalAccess):
		return fmt.Sprintf("%v needs a web server; open the file by its local path instead", path)
	case errors.Is(err, pyramid.ErrTileCountMismatch):
		return fmt.Sprintf("%v is damaged: its tile count does not match its size", path)
	case errors.Is(err, os.ErrNotExist):
		return fmt.Sprintf("%v does not exist", path)
	case errors.Is(err, ErrUnsupportedFormat):
		return fmt.Sprintf("%v has an unsupported storage format", path)
	case errors.Is(err, netconn.ErrTimeout):
		return fmt.Sprintf("%v did not respond in time", path)
	}
	return fmt.Sprintf("%v cannot be loaded", path)
}
