package viewer

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

var ErrUnsupportedFormat = errors.New("deepview: unsupported storage format")

// Format is the storage format of an image.
type Format uint8

const (
	// FormatAuto detects the format from the path, see DetectFormat.
	FormatAuto Format = iota
	FormatFolder
	FormatPacked
	FormatPM
	FormatMBTiles
	FormatRaw
)

var formatNames = [...]string{
	FormatAuto:    "auto",
	FormatFolder:  "folder",
	FormatPacked:  "packed",
	FormatPM:      "pmtiles",
	FormatMBTiles: "mbtiles",
	FormatRaw:     "raw",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

// ParseFormat is the inverse of Format.String. The empty string is FormatAuto.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return FormatAuto, nil
	}
	for f, name := range formatNames {
		if s == name {
			return Format(f), nil
		}
	}
	return FormatAuto, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// DetectFormat guesses the storage format from the file extension of p.
// Paths without a known extension are image folders.
func DetectFormat(p string) Format {
	if i := strings.IndexAny(p, "?#"); i >= 0 && isRemote(p) {
		p = p[:i]
	}
	switch strings.ToLower(path.Ext(strings.TrimSuffix(p, "/"))) {
	case ".zif":
		return FormatPacked
	case ".pmtiles":
		return FormatPM
	case ".mbtiles":
		return FormatMBTiles
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".tif", ".tiff":
		return FormatRaw
	}
	return FormatFolder
}

func isRemote(p string) bool {
	return strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") || strings.HasPrefix(p, "file:")
}
