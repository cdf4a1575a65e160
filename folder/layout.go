package folder

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/tile"
)

var ErrInvalidPath = errors.New("deepview: invalid tile path")

// DefaultExtension is the tile file extension used when none is configured.
const DefaultExtension = "jpg"

// TilePath returns the slash-separated path of a tile relative to the image folder,
// "TileGroup{N}/{tier}-{col}-{row}.{ext}".
func TilePath(p *pyramid.Pyramid, id tile.ID, ext string) string {
	return "TileGroup" + strconv.Itoa(p.TileGroup(id)) + "/" + id.Name() + "." + ext
}

// TileURL joins the image base path and the tile path.
func TileURL(basePath string, p *pyramid.Pyramid, id tile.ID, ext string) string {
	return strings.TrimSuffix(basePath, "/") + "/" + TilePath(p, id, ext)
}

var tilePathRegexp = regexp.MustCompile(`(?:^|/)TileGroup(\d+)/(\d+-\d+-\d+)\.(\w+)$`)

// ParseTilePath is the inverse of TilePath. It also checks that the TileGroup folder matches
// the tile's position in p.
func ParseTilePath(p *pyramid.Pyramid, path string) (tile.ID, string, error) {
	m := tilePathRegexp.FindStringSubmatch(path)
	if m == nil {
		return tile.ID{}, "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	id, err := tile.ParseName(m[2])
	if err != nil {
		return tile.ID{}, "", err
	}
	group, _ := strconv.Atoi(m[1])
	if !p.Valid(id) || p.TileGroup(id) != group {
		return tile.ID{}, "", fmt.Errorf("%w: %q is not in the pyramid", ErrInvalidPath, path)
	}
	return id, m[3], nil
}
