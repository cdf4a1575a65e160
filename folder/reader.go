package folder

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/tile"
)

// Reader implements tile.Reader and tile.Visitor for a folder-storage image on disk.
type Reader struct {
	rootDir    string
	ext        string
	properties Properties
	pyramid    *pyramid.Pyramid
}

// NewReader opens the image folder rootDir (the directory holding ImageProperties.xml).
func NewReader(rootDir string, opts ...Option) (*Reader, error) {
	c := newConfig(opts)
	file, err := os.Open(filepath.Join(rootDir, PropertiesFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	props, err := ReadProperties(file)
	if err != nil {
		return nil, err
	}
	p, err := pyramid.Reconcile(props.Width, props.Height, props.TileSize, props.TileSize, props.NumTiles, c.logger)
	if err != nil {
		return nil, err
	}
	return &Reader{rootDir: rootDir, ext: c.ext, properties: props, pyramid: p}, nil
}

func (r *Reader) Properties() Properties {
	return r.properties
}

func (r *Reader) Pyramid() *pyramid.Pyramid {
	return r.pyramid
}

func (r *Reader) ReadTile(tileID tile.ID) ([]byte, error) {
	if !r.pyramid.Valid(tileID) {
		return make([]byte, 0), nil
	}
	filePath := filepath.Join(r.rootDir, filepath.FromSlash(TilePath(r.pyramid, tileID, r.ext)))
	tileData, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return make([]byte, 0), nil
	}
	if err != nil {
		return nil, err
	}
	return tileData, nil
}

func (r *Reader) VisitTiles(visitor func(tile.ID, []byte) error) error {
	return filepath.WalkDir(r.rootDir, func(filePath string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(filePath, "."+r.ext) {
			return nil
		}

		tileID, _, err := ParseTilePath(r.pyramid, filepath.ToSlash(filePath))
		if err != nil {
			return nil // not a tile of this image
		}

		tileData, err := os.ReadFile(filePath)
		if err != nil {
			return err
		}
		return visitor(tileID, tileData)
	})
}
