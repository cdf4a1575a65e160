package packed

import (
	"bufio"
	"crypto/md5"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/eak1mov/go-deepview/packed/spec"
	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/tile"
)

// Writer implements tile.Writer for packed files.
//
// Tiles are appended after space reserved for the header and the IFDs; Finalize appends the
// lookup tables and fills in the directory. Tiles never written become skip tiles.
// Identical tiles share their data.
type Writer struct {
	logger  *slog.Logger
	file    *os.File
	pyramid *pyramid.Pyramid

	tileWriter *bufio.Writer
	tileOffset uint64

	locations [][]tile.Location        // per tier, row-major
	written   map[[16]byte]tile.Location // hash -> shared data
}

type writerConfig struct {
	logger *slog.Logger
}

type WriterOption func(*writerConfig)

func WithWriterLogger(logger *slog.Logger) WriterOption {
	return func(c *writerConfig) {
		c.logger = logger
	}
}

// NewWriter creates a packed file for the tiles of p.
func NewWriter(filePath string, p *pyramid.Pyramid, opts ...WriterOption) (w *Writer, err error) {
	config := writerConfig{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&config)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			file.Close()
		}
	}()

	offset := uint64(spec.HeaderLength + p.TierCount()*spec.IFDLength)
	if _, err = file.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, err
	}

	locations := make([][]tile.Location, p.TierCount())
	for i := range locations {
		locations[i] = make([]tile.Location, p.TileCount(i))
	}
	return &Writer{
		logger:     config.logger,
		file:       file,
		pyramid:    p,
		tileWriter: bufio.NewWriter(file),
		tileOffset: offset,
		locations:  locations,
		written:    make(map[[16]byte]tile.Location),
	}, nil
}

func (w *Writer) WriteTile(tileID tile.ID, tileData []byte) error {
	if !w.pyramid.Valid(tileID) {
		return fmt.Errorf("%w: tile %v", pyramid.ErrInvalidDimensions, tileID)
	}
	if len(tileData) == 0 {
		return nil
	}
	cols, _ := w.pyramid.TierDimensionsInTiles(tileID.Tier)
	linear := LinearIndex(tileID, cols)

	digest := md5.Sum(tileData)
	if loc, exists := w.written[digest]; exists {
		w.locations[tileID.Tier][linear] = loc
		return nil
	}

	if _, err := w.tileWriter.Write(tileData); err != nil {
		return err
	}
	loc := tile.Location{Offset: w.tileOffset, Length: uint64(len(tileData))}
	w.tileOffset += loc.Length
	w.written[digest] = loc
	w.locations[tileID.Tier][linear] = loc
	return nil
}

func (w *Writer) Finalize() error {
	if w.tileWriter == nil {
		panic("deepview: finalize called twice")
	}

	w.logger.Debug("packed: write tables")
	// IFDs are stored full resolution first.
	n := w.pyramid.TierCount()
	ifds := make([]spec.IFD, n)
	for i := range n {
		tier := w.pyramid.Tier(n - 1 - i)
		locations := w.locations[n-1-i]
		offsets := make([]uint64, len(locations))
		counts := make([]uint64, len(locations))
		for j, loc := range locations {
			offsets[j], counts[j] = loc.Offset, loc.Length
		}

		ifd := spec.IFD{
			Width:      uint64(tier.Width),
			Height:     uint64(tier.Height),
			TileWidth:  uint64(w.pyramid.TileWidth),
			TileHeight: uint64(w.pyramid.TileHeight),
		}
		var err error
		if ifd.Offsets, err = w.writeTable(spec.TypeLong8, offsets); err != nil {
			return err
		}
		if ifd.ByteCounts, err = w.writeTable(spec.TypeLong, counts); err != nil {
			return err
		}
		ifds[i] = ifd
	}
	if err := w.tileWriter.Flush(); err != nil {
		return err
	}
	w.tileWriter = nil

	w.logger.Debug("packed: write directory")
	directory := spec.AppendHeader(nil, spec.HeaderLength)
	for i, ifd := range ifds {
		next := uint64(0)
		if i+1 < len(ifds) {
			next = uint64(spec.HeaderLength + (i+1)*spec.IFDLength)
		}
		directory = append(directory, spec.EncodeIFD(ifd, next)...)
	}
	if _, err := w.file.WriteAt(directory, 0); err != nil {
		return err
	}

	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil
	w.logger.Debug("packed: done", "tiers", n, "bytes", w.tileOffset)
	return nil
}

func (w *Writer) writeTable(typ uint16, values []uint64) (spec.Table, error) {
	table := spec.NewTable(typ, values, w.tileOffset)
	if table.IsInline() {
		return table, nil
	}
	data := spec.EncodeTable(typ, values)
	if _, err := w.tileWriter.Write(data); err != nil {
		return spec.Table{}, err
	}
	w.tileOffset += uint64(len(data))
	return table, nil
}

func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}
