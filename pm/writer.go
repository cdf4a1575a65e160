package pm

import (
	"bufio"
	"cmp"
	"crypto/md5"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/eak1mov/go-deepview/pm/spec"
	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/tile"
)

// Writer implements tile.Writer for PMTiles files.
type Writer struct {
	logger *slog.Logger
	file   *os.File
	header spec.Header

	tileWriter *bufio.Writer
	tileOffset uint64

	entries   []spec.Entry
	locations map[[16]byte]uint32 // hash -> entry index
}

type writerConfig struct {
	format string
	logger *slog.Logger
}

type WriterOption func(*writerConfig)

// WithFormat sets the tile file extension recorded in the header and metadata.
func WithFormat(format string) WriterOption {
	return func(c *writerConfig) {
		c.format = format
	}
}

func WithLogger(logger *slog.Logger) WriterOption {
	return func(c *writerConfig) {
		c.logger = logger
	}
}

// NewWriter creates a PMTiles file for the tiles of p.
func NewWriter(filePath string, p *pyramid.Pyramid, opts ...WriterOption) (w *Writer, err error) {
	config := writerConfig{
		format: "jpg",
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&config)
	}
	if err := checkTierGrid(p); err != nil {
		return nil, err
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

	header := spec.Header{
		HeaderMagic:         spec.HeaderMagicV3,
		Clustered:           true,
		InternalCompression: spec.CompressionGzip,
		TileCompression:     spec.CompressionNone,
		TileType:            spec.TileTypeFromExtension(config.format),
		MinZoom:             0,
		MaxZoom:             uint8(p.MaxTier()),
		CenterZoom:          0,
	}
	offset := uint64(spec.HeaderRootDirMaxLength)
	if _, err = file.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, err
	}

	metadata, err := encodeMetadata(NewMetadata(p, config.format), header.InternalCompression)
	if err != nil {
		return nil, err
	}
	if _, err = file.Write(metadata); err != nil {
		return nil, err
	}
	header.MetadataOffset = offset
	header.MetadataLength = uint64(len(metadata))
	header.TileDataOffset = offset + header.MetadataLength

	return &Writer{
		logger:     config.logger,
		file:       file,
		header:     header,
		tileWriter: bufio.NewWriter(file),
		locations:  make(map[[16]byte]uint32),
	}, nil
}

func (w *Writer) WriteTile(tileID tile.ID, tileData []byte) error {
	if len(tileData) == 0 {
		return nil
	}
	tileCode, err := spec.EncodeTileID(tileID)
	if err != nil {
		return err
	}

	digest := md5.Sum(tileData)
	if entryIdx, exists := w.locations[digest]; exists {
		w.entries = append(w.entries, spec.Entry{
			TileCode:  tileCode,
			Offset:    w.entries[entryIdx].Offset,
			Length:    w.entries[entryIdx].Length,
			RunLength: 1,
		})
		return nil
	}

	if _, err := w.tileWriter.Write(tileData); err != nil {
		return err
	}
	w.locations[digest] = uint32(len(w.entries))
	w.entries = append(w.entries, spec.Entry{
		TileCode:  tileCode,
		Offset:    w.tileOffset,
		Length:    uint32(len(tileData)),
		RunLength: 1,
	})
	w.tileOffset += uint64(len(tileData))
	return nil
}

func (w *Writer) Finalize() error {
	if w.tileWriter == nil {
		panic("deepview: finalize called twice")
	}

	if err := w.tileWriter.Flush(); err != nil {
		return err
	}
	w.tileWriter = nil
	w.header.TileDataLength = w.tileOffset
	w.header.AddressedTilesCount = uint64(len(w.entries))
	w.header.TileContentsCount = uint64(len(w.locations))

	w.logger.Debug("pm: sort and compact", "entries", len(w.entries))
	slices.SortFunc(w.entries, func(a, b spec.Entry) int {
		return cmp.Compare(a.TileCode, b.TileCode)
	})
	w.entries = spec.CompactEntries(w.entries)
	w.header.TileEntriesCount = uint64(len(w.entries))

	rootBytes, leavesBytes := spec.SerializeAll(w.entries, w.header.InternalCompression)

	leavesOffset, err := w.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := w.file.Write(leavesBytes); err != nil {
		return err
	}
	w.header.LeafDirectoryOffset = uint64(leavesOffset)
	w.header.LeafDirectoryLength = uint64(len(leavesBytes))

	if _, err := w.file.WriteAt(rootBytes, spec.RootDirOffset); err != nil {
		return err
	}
	w.header.RootOffset = spec.RootDirOffset
	w.header.RootLength = uint64(len(rootBytes))

	if _, err := w.file.WriteAt(spec.AppendHeader(nil, &w.header), 0); err != nil {
		return err
	}

	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil
	w.logger.Debug("pm: done", "tiles", w.header.AddressedTilesCount, "contents", w.header.TileContentsCount)
	return nil
}

func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}
