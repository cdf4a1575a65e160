package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/eak1mov/go-deepview/folder"
	"github.com/eak1mov/go-deepview/mb"
	"github.com/eak1mov/go-deepview/packed"
	"github.com/eak1mov/go-deepview/pattern"
	"github.com/eak1mov/go-deepview/pm"
	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/tile"
	"github.com/eak1mov/go-deepview/viewer"
)

// store is a local tile store opened for reading.
type store interface {
	tile.Reader
	tile.Visitor
	Pyramid() *pyramid.Pyramid
}

// deduceFormat returns the format named by the flag, or the one detected from the path.
// The pattern format has no extension and must be named explicitly.
func deduceFormat(format, filePath string) (string, error) {
	if format == "pattern" {
		return format, nil
	}
	f, err := viewer.ParseFormat(format)
	if err != nil {
		return "", err
	}
	if f == viewer.FormatAuto {
		f = viewer.DetectFormat(filePath)
	}
	return f.String(), nil
}

func openStore(format, filePath, ext string, logger *slog.Logger) (store, error) {
	var s store
	var err error
	switch format {
	case "folder":
		s, err = folder.NewReader(filePath, folder.WithExtension(ext), folder.WithLogger(logger))
	case "packed":
		s, err = packed.NewReader(filePath)
	case "pmtiles":
		s, err = pm.NewFileReader(filePath)
	case "mbtiles":
		s, err = mb.NewReader(filePath)
	default:
		return nil, fmt.Errorf("%w: %q cannot be read as a tile store", viewer.ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// storeExtension returns the tile extension recorded in s, or fallback if s does not record one.
func storeExtension(s store, fallback string) string {
	switch r := s.(type) {
	case *mb.Reader:
		if f := r.Format(); f != "" {
			return f
		}
	case *pm.Reader:
		if f := r.Metadata().Format; f != "" {
			return f
		}
	}
	return fallback
}

func newWriter(format, filePath, ext string, p *pyramid.Pyramid, logger *slog.Logger) (tile.Writer, error) {
	var w tile.Writer
	var err error
	switch format {
	case "folder":
		w, err = folder.NewWriter(filePath, p, folder.WithExtension(ext), folder.WithLogger(logger))
	case "packed":
		w, err = packed.NewWriter(filePath, p, packed.WithWriterLogger(logger))
	case "pmtiles":
		w, err = pm.NewWriter(filePath, p, pm.WithFormat(ext), pm.WithLogger(logger))
	case "mbtiles":
		w, err = mb.NewWriter(filePath, p, mb.WithFormat(ext), mb.WithLogger(logger))
	case "pattern":
		w, err = pattern.NewWriter(filePath)
	default:
		return nil, fmt.Errorf("%w: %q cannot be written", viewer.ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func closeAll(values ...any) {
	for _, v := range values {
		if closer, ok := v.(io.Closer); ok {
			closer.Close()
		}
	}
}
