package spec

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
)

var ErrUnsupportedCompression = errors.New("deepview: compression not supported")

var compressionNames = [...]string{
	CompressionUnknown: "unknown",
	CompressionNone:    "none",
	CompressionGzip:    "gzip",
	CompressionBrotli:  "brotli",
	CompressionZstd:    "zstd",
}

func (c Compression) String() string {
	if int(c) < len(compressionNames) {
		return compressionNames[c]
	}
	return fmt.Sprintf("Compression(%d)", uint8(c))
}

type codec struct {
	encode func([]byte) ([]byte, error)
	decode func([]byte) ([]byte, error)
}

func identity(b []byte) ([]byte, error) { return b, nil }

// Only the codecs deepview writes are supported; tiles are stored uncompressed.
var codecs = map[Compression]codec{
	CompressionNone: {identity, identity},
	CompressionGzip: {gzipEncode, gzipDecode},
}

func lookup(c Compression) (codec, error) {
	cd, ok := codecs[c]
	if !ok {
		return codec{}, fmt.Errorf("%w: %v", ErrUnsupportedCompression, c)
	}
	return cd, nil
}

func Compress(data []byte, c Compression) ([]byte, error) {
	cd, err := lookup(c)
	if err != nil {
		return nil, err
	}
	return cd.encode(data)
}

func Decompress(data []byte, c Compression) ([]byte, error) {
	cd, err := lookup(c)
	if err != nil {
		return nil, err
	}
	return cd.decode(data)
}

func gzipEncode(data []byte) ([]byte, error) {
	var b bytes.Buffer
	w, _ := gzip.NewWriterLevel(&b, gzip.BestCompression)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return b.Bytes(), nil
}

func gzipDecode(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	return out, nil
}
