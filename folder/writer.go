package folder

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/tile"
)

// Writer implements tile.Writer for folder storage.
// Finalize writes ImageProperties.xml, so a folder without it is an unfinished image.
type Writer struct {
	rootDir string
	ext     string
	pyramid *pyramid.Pyramid
	logger  *slog.Logger
	written int
}

// NewWriter creates the image folder rootDir for tiles of p.
func NewWriter(rootDir string, p *pyramid.Pyramid, opts ...Option) (*Writer, error) {
	c := newConfig(opts)
	if p.TileWidth != p.TileHeight {
		return nil, fmt.Errorf("%w: folder storage needs square tiles, got %vx%v",
			ErrInvalidProperties, p.TileWidth, p.TileHeight)
	}
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, err
	}
	return &Writer{rootDir: rootDir, ext: c.ext, pyramid: p, logger: c.logger}, nil
}

func (w *Writer) WriteTile(tileID tile.ID, tileData []byte) error {
	if !w.pyramid.Valid(tileID) {
		return fmt.Errorf("%w: %v", ErrInvalidPath, tileID)
	}
	filePath := filepath.Join(w.rootDir, filepath.FromSlash(TilePath(w.pyramid, tileID, w.ext)))
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}
	w.written++
	return os.WriteFile(filePath, tileData, 0644)
}

func (w *Writer) Finalize() error {
	file, err := os.Create(filepath.Join(w.rootDir, PropertiesFile))
	if err != nil {
		return err
	}
	defer file.Close()

	props := Properties{
		Width:     w.pyramid.ImageWidth,
		Height:    w.pyramid.ImageHeight,
		TileSize:  w.pyramid.TileWidth,
		NumTiles:  w.pyramid.TotalTiles(),
		NumImages: 1,
	}
	if err := EncodeProperties(file, props); err != nil {
		return err
	}
	w.logger.Debug("folder: done", "tiles", w.written, "declared", props.NumTiles)
	return file.Close()
}
