package pattern

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/eak1mov/go-deepview/tile"
)

// Reader implements tile.Reader and tile.Visitor for tiles stored by pattern.
type Reader struct {
	filePattern string
	rootDir     string
	pathRegexp  *regexp.Regexp
}

// NewReader creates a new Reader for the given file pattern (e.g. "/home/user/tiles/{tier}/{col}_{row}.png").
func NewReader(filePattern string) (*Reader, error) {
	if err := validatePattern(filePattern); err != nil {
		return nil, err
	}

	regexPattern := regexp.QuoteMeta(filepath.Clean(filePattern))
	regexPattern = strings.ReplaceAll(regexPattern, `\{tier\}`, `(?P<tier>\d+)`)
	regexPattern = strings.ReplaceAll(regexPattern, `\{col\}`, `(?P<col>\d+)`)
	regexPattern = strings.ReplaceAll(regexPattern, `\{row\}`, `(?P<row>\d+)`)
	pathRegex, err := regexp.Compile("^" + regexPattern + "$")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}

	path0 := Format(filePattern, tile.ID{Tier: 0, Col: 0, Row: 0})
	path1 := Format(filePattern, tile.ID{Tier: 1, Col: 1, Row: 1})
	for path0 != path1 {
		path0 = filepath.Dir(path0)
		path1 = filepath.Dir(path1)
	}

	return &Reader{filePattern, path0, pathRegex}, nil
}

func (r *Reader) ReadTile(tileID tile.ID) ([]byte, error) {
	tileData, err := os.ReadFile(Format(r.filePattern, tileID))
	if os.IsNotExist(err) {
		return make([]byte, 0), nil
	}
	if err != nil {
		return nil, err
	}
	return tileData, nil
}

// VisitTiles walks the directory tree and visits every file matching the pattern.
func (r *Reader) VisitTiles(visitor func(tile.ID, []byte) error) error {
	return filepath.WalkDir(r.rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		matches := r.pathRegexp.FindStringSubmatch(path)
		if matches == nil {
			return nil
		}
		var id tile.ID
		id.Tier, _ = strconv.Atoi(matches[r.pathRegexp.SubexpIndex("tier")])
		id.Col, _ = strconv.Atoi(matches[r.pathRegexp.SubexpIndex("col")])
		id.Row, _ = strconv.Atoi(matches[r.pathRegexp.SubexpIndex("row")])

		tileData, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return visitor(id, tileData)
	})
}
