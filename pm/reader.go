package pm

import (
	"os"

	"github.com/eak1mov/go-deepview/pm/spec"
	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/tile"
)

// FileAccessFunc reads length bytes at offset.
type FileAccessFunc = func(offset, length uint64) ([]byte, error)

// Reader implements tile.Reader, tile.LocationReader and the visitor interfaces for PMTiles files.
type Reader struct {
	fileAccess FileAccessFunc
	fileCloser func() error
	header     *spec.Header
	metadata   Metadata
	pyramid    *pyramid.Pyramid
}

func NewFileReader(filePath string) (*Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	fileAccess := func(offset uint64, length uint64) ([]byte, error) {
		buffer := make([]byte, length)
		if _, err := file.ReadAt(buffer, int64(offset)); err != nil {
			return nil, err
		}
		return buffer, nil
	}
	r, err := NewReader(fileAccess)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.fileCloser = file.Close
	return r, nil
}

func NewReader(fileAccess FileAccessFunc) (*Reader, error) {
	headerData, err := fileAccess(0, spec.HeaderLength)
	if err != nil {
		return nil, err
	}
	header, err := spec.ParseHeader(headerData)
	if err != nil {
		return nil, err
	}
	metadataData, err := fileAccess(header.MetadataOffset, header.MetadataLength)
	if err != nil {
		return nil, err
	}
	metadata, err := decodeMetadata(metadataData, header.InternalCompression)
	if err != nil {
		return nil, err
	}
	p, err := metadata.Pyramid()
	if err != nil {
		return nil, err
	}
	return &Reader{
		fileAccess: fileAccess,
		fileCloser: func() error { return nil },
		header:     header,
		metadata:   metadata,
		pyramid:    p,
	}, nil
}

func (r *Reader) Close() error {
	return r.fileCloser()
}

func (r *Reader) Header() spec.Header {
	return *r.header
}

func (r *Reader) Metadata() Metadata {
	return r.metadata
}

func (r *Reader) Pyramid() *pyramid.Pyramid {
	return r.pyramid
}

func (r *Reader) readDirectory(dirOffset, dirLength uint64) ([]spec.Entry, error) {
	dirCompressed, err := r.fileAccess(dirOffset, dirLength)
	if err != nil {
		return nil, err
	}
	dirData, err := spec.Decompress(dirCompressed, r.header.InternalCompression)
	if err != nil {
		return nil, err
	}
	return spec.DeserializeDirectory(dirData)
}

// ReadLocation returns the tile's byte range. Missing tiles have zero length.
func (r *Reader) ReadLocation(tileID tile.ID) (tile.Location, error) {
	tileCode, err := spec.EncodeTileID(tileID)
	if err != nil {
		return tile.Location{}, nil
	}
	dirOffset := r.header.RootOffset
	dirLength := r.header.RootLength
	for range maxDirectoryDepth {
		dirEntries, err := r.readDirectory(dirOffset, dirLength)
		if err != nil {
			return tile.Location{}, err
		}
		entry, found := spec.FindEntry(dirEntries, tileCode)
		if !found {
			return tile.Location{}, nil
		}
		if !entry.IsLeaf() {
			return tile.Location{
				Offset: r.header.TileDataOffset + entry.Offset,
				Length: uint64(entry.Length),
			}, nil
		}
		dirOffset = r.header.LeafDirectoryOffset + entry.Offset
		dirLength = uint64(entry.Length)
	}
	return tile.Location{}, spec.ErrInvalidDirectory
}

func (r *Reader) ReadTile(tileID tile.ID) ([]byte, error) {
	location, err := r.ReadLocation(tileID)
	if err != nil {
		return nil, err
	}
	if location.Length == 0 {
		return []byte{}, nil
	}
	return r.fileAccess(location.Offset, location.Length)
}

func (r *Reader) VisitLocations(visitor func(tile.ID, tile.Location) error) error {
	var traverse func(uint64, uint64, int) error
	traverse = func(dirOffset, dirLength uint64, depth int) error {
		if depth >= maxDirectoryDepth {
			return spec.ErrInvalidDirectory
		}
		dirEntries, err := r.readDirectory(dirOffset, dirLength)
		if err != nil {
			return err
		}
		for _, entry := range dirEntries {
			if entry.IsLeaf() {
				err := traverse(r.header.LeafDirectoryOffset+entry.Offset, uint64(entry.Length), depth+1)
				if err != nil {
					return err
				}
				continue
			}
			location := tile.Location{
				Offset: r.header.TileDataOffset + entry.Offset,
				Length: uint64(entry.Length),
			}
			for i := range entry.RunLength {
				if err := visitor(spec.DecodeTileID(entry.TileCode+uint64(i)), location); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return traverse(r.header.RootOffset, r.header.RootLength, 0)
}

func (r *Reader) VisitTiles(visitor func(tile.ID, []byte) error) error {
	return r.VisitLocations(func(tileID tile.ID, location tile.Location) error {
		tileData, err := r.fileAccess(location.Offset, location.Length)
		if err != nil {
			return err
		}
		return visitor(tileID, tileData)
	})
}
