package mb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/tile"
)

// Writer implements tile.Writer interface for MBTiles databases.
type Writer struct {
	db     *sql.DB
	stmt   *sql.Stmt
	logger *slog.Logger
}

type writerConfig struct {
	Format   string
	Metadata map[string]string
	Logger   *slog.Logger
}

type WriterOption func(*writerConfig)

// WithFormat sets the tile file extension, "jpg" by default.
func WithFormat(format string) WriterOption {
	return func(c *writerConfig) { c.Format = format }
}

// WithMetadata adds entries to the metadata table. Layout keys are always overwritten.
func WithMetadata(metadata map[string]string) WriterOption {
	return func(c *writerConfig) { c.Metadata = metadata }
}

func WithLogger(logger *slog.Logger) WriterOption {
	return func(c *writerConfig) { c.Logger = logger }
}

// NewWriter creates a database at filePath for the tiles of p.
func NewWriter(filePath string, p *pyramid.Pyramid, opts ...WriterOption) (*Writer, error) {
	config := writerConfig{
		Format: "jpg",
		Logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&config)
	}

	var err error
	db, err := sql.Open("sqlite3", filePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	_, err = db.Exec(`
		CREATE TABLE metadata (name TEXT, value TEXT);
		CREATE TABLE tiles (
			zoom_level INTEGER,
			tile_column INTEGER,
			tile_row INTEGER,
			tile_data BLOB
		);
	`)
	if err != nil {
		return nil, err
	}

	metadata, err := layoutMetadata(p, config.Format)
	if err != nil {
		return nil, err
	}
	for k, v := range config.Metadata {
		if _, ok := metadata[k]; !ok {
			metadata[k] = v
		}
	}
	for k, v := range metadata {
		_, err = db.Exec("INSERT INTO metadata (name, value) VALUES (?, ?)", k, v)
		if err != nil {
			return nil, err
		}
	}

	stmt, err := db.Prepare("INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)")
	if err != nil {
		return nil, err
	}

	return &Writer{db, stmt, config.Logger}, nil
}

func layoutMetadata(p *pyramid.Pyramid, format string) (map[string]string, error) {
	var tiers [][2]int
	for _, t := range p.Tiers() {
		tiers = append(tiers, [2]int{t.Width, t.Height})
	}
	tiersJSON, err := json.Marshal(tiers)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		KeyFormat:     format,
		KeyWidth:      strconv.Itoa(p.ImageWidth),
		KeyHeight:     strconv.Itoa(p.ImageHeight),
		KeyTileWidth:  strconv.Itoa(p.TileWidth),
		KeyTileHeight: strconv.Itoa(p.TileHeight),
		KeyTiers:      string(tiersJSON),
	}, nil
}

func (w *Writer) Close() error {
	return errors.Join(w.stmt.Close(), w.db.Close())
}

func (w *Writer) WriteTile(tileID tile.ID, tileData []byte) error {
	_, err := w.stmt.Exec(tileID.Tier, tileID.Col, tileID.Row, tileData)
	return err
}

func (w *Writer) Finalize() error {
	w.logger.Debug("mb: creating index")
	_, err := w.db.Exec("CREATE UNIQUE INDEX tile_index ON tiles (zoom_level, tile_column, tile_row)")
	w.logger.Debug("mb: done")
	return err
}
