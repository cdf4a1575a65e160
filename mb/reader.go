// Package mb stores image pyramids in MBTiles-style sqlite databases.
//
// Tiles are keyed by tier, column and row with row 0 at the top of the image; zoom_level holds
// the tier. The pyramid layout is kept in the metadata table.
//
// Note: User must properly initialize the sqlite3 library generic driver
// (e.g. import _ "github.com/mattn/go-sqlite3") before using this package.
package mb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/tile"
)

var ErrInvalidMetadata = errors.New("deepview: invalid mbtiles metadata")

// Metadata keys written by Writer.
const (
	KeyFormat     = "format"
	KeyWidth      = "width"
	KeyHeight     = "height"
	KeyTileWidth  = "tile_width"
	KeyTileHeight = "tile_height"
	KeyTiers      = "tiers"
)

// Reader implements tile.Reader and tile.Visitor for MBTiles databases.
type Reader struct {
	db       *sql.DB
	stmt     *sql.Stmt
	metadata map[string]string
	pyramid  *pyramid.Pyramid
}

// NewReader opens the database at filePath read-only and loads its pyramid layout.
//
// The returned Reader must be closed after use to release database resources.
func NewReader(filePath string) (r *Reader, err error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", filePath))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	metadata, err := readMetadata(db)
	if err != nil {
		return nil, err
	}
	p, err := parsePyramid(metadata)
	if err != nil {
		return nil, err
	}

	stmt, err := db.Prepare("SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?")
	if err != nil {
		return nil, err
	}
	return &Reader{db: db, stmt: stmt, metadata: metadata, pyramid: p}, nil
}

func (r *Reader) Close() error {
	return errors.Join(r.stmt.Close(), r.db.Close())
}

// Metadata returns a copy of the metadata table.
func (r *Reader) Metadata() map[string]string {
	result := make(map[string]string, len(r.metadata))
	for k, v := range r.metadata {
		result[k] = v
	}
	return result
}

// Format returns the tile file extension.
func (r *Reader) Format() string {
	return r.metadata[KeyFormat]
}

func (r *Reader) Pyramid() *pyramid.Pyramid {
	return r.pyramid
}

func readMetadata(db *sql.DB) (map[string]string, error) {
	metadata := make(map[string]string)

	rows, err := db.Query("SELECT name, value FROM metadata")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		metadata[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return metadata, nil
}

func parsePyramid(metadata map[string]string) (*pyramid.Pyramid, error) {
	tileW, errW := strconv.Atoi(metadata[KeyTileWidth])
	tileH, errH := strconv.Atoi(metadata[KeyTileHeight])
	if err := errors.Join(errW, errH); err != nil {
		return nil, fmt.Errorf("%w: tile size: %w", ErrInvalidMetadata, err)
	}
	var tiers [][2]int
	if err := json.Unmarshal([]byte(metadata[KeyTiers]), &tiers); err != nil {
		return nil, fmt.Errorf("%w: tiers: %w", ErrInvalidMetadata, err)
	}
	return pyramid.FromTiers(tileW, tileH, tiers)
}

func (r *Reader) ReadTile(tileID tile.ID) ([]byte, error) {
	var tileData []byte
	if err := r.stmt.QueryRow(tileID.Tier, tileID.Col, tileID.Row).Scan(&tileData); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return make([]byte, 0), nil
		}
		return nil, err
	}
	return tileData, nil
}

func (r *Reader) VisitTiles(visitor func(tile.ID, []byte) error) error {
	rows, err := r.db.Query("SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id tile.ID
		var tileData []byte
		if err := rows.Scan(&id.Tier, &id.Col, &id.Row, &tileData); err != nil {
			return err
		}
		if err := visitor(id, tileData); err != nil {
			return err
		}
	}
	return rows.Err()
}
