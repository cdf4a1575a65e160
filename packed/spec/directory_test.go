package spec_test

import (
	"errors"
	"testing"

	"github.com/eak1mov/go-deepview/packed/spec"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestHeader(t *testing.T) {
	b := spec.AppendHeader(nil, 1234)
	require.Len(t, b, spec.HeaderLength)
	first, err := spec.ReadHeader(b)
	require.NoError(t, err)
	require.Equal(t, uint64(1234), first)
}

func TestHeaderErrors(t *testing.T) {
	_, err := spec.ReadHeader([]byte("II"))
	require.Truef(t, errors.Is(err, spec.ErrInvalidHeader), "%v", err)

	b := spec.AppendHeader(nil, 16)
	b[0], b[1] = 'M', 'M'
	_, err = spec.ReadHeader(b)
	require.Truef(t, errors.Is(err, spec.ErrInvalidHeader), "%v", err)

	b = spec.AppendHeader(nil, 16)
	b[2] = 42 // classic TIFF
	_, err = spec.ReadHeader(b)
	require.Truef(t, errors.Is(err, spec.ErrUnsupportedVersion), "%v", err)
}

// buildDirectory encodes a two-tier directory: a 1-tile thumbnail with inline tables and a
// 3x2 tier with tables stored after the IFDs.
func buildDirectory() ([]byte, []spec.IFD) {
	first := uint64(spec.HeaderLength)
	second := first + uint64(spec.IFDLength)
	tables := second + uint64(spec.IFDLength)

	top := spec.IFD{
		Width: 600, Height: 300, TileWidth: 256, TileHeight: 256,
		Offsets:    spec.NewTable(spec.TypeLong8, []uint64{1, 2, 3, 4, 5, 6}, tables),
		ByteCounts: spec.NewTable(spec.TypeLong, []uint64{10, 20, 0, 40, 50, 60}, tables+48),
	}
	thumb := spec.IFD{
		Width: 150, Height: 75, TileWidth: 256, TileHeight: 256,
		Offsets:    spec.NewTable(spec.TypeLong8, []uint64{7}, 0),
		ByteCounts: spec.NewTable(spec.TypeLong, []uint64{70}, 0),
	}

	b := spec.AppendHeader(nil, first)
	b = append(b, spec.EncodeIFD(top, second)...)
	b = append(b, spec.EncodeIFD(thumb, 0)...)
	b = append(b, spec.EncodeTable(spec.TypeLong8, []uint64{1, 2, 3, 4, 5, 6})...)
	b = append(b, spec.EncodeTable(spec.TypeLong, []uint64{10, 20, 0, 40, 50, 60})...)
	return b, []spec.IFD{top, thumb}
}

func TestReadDirectory(t *testing.T) {
	b, want := buildDirectory()
	got, err := spec.ReadDirectory(b)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ReadDirectory mismatch (-want+got):\n%v", diff)
	}

	require.False(t, got[0].Offsets.IsInline())
	require.True(t, got[1].Offsets.IsInline())
	require.True(t, got[1].ByteCounts.IsInline())
	require.Equal(t, uint64(7), got[1].Offsets.Value(0))
	require.Equal(t, uint64(70), got[1].ByteCounts.Value(0))
	require.Equal(t, got[0].Offsets.Offset+5*8, got[0].Offsets.EntryOffset(5))
}

func TestReadDirectoryNeedMore(t *testing.T) {
	b, _ := buildDirectory()
	_, err := spec.ReadDirectory(b[:spec.HeaderLength+10])
	var needMore *spec.NeedMoreError
	require.Truef(t, errors.As(err, &needMore), "%v", err)
	require.True(t, errors.Is(err, spec.ErrShortBuffer))
	require.Equal(t, uint64(spec.HeaderLength+spec.IFDLength), needMore.End)

	// The entry count of the second IFD comes first, then its entries.
	_, err = spec.ReadDirectory(b[:needMore.End])
	require.True(t, errors.As(err, &needMore))
	require.Equal(t, uint64(spec.HeaderLength+spec.IFDLength+8), needMore.End)

	_, err = spec.ReadDirectory(b[:needMore.End])
	require.True(t, errors.As(err, &needMore))
	require.Equal(t, uint64(spec.HeaderLength+2*spec.IFDLength), needMore.End)

	_, err = spec.ReadDirectory(b[:needMore.End])
	require.NoError(t, err)
}

func TestReadDirectoryCountMismatch(t *testing.T) {
	bad := spec.IFD{
		Width: 600, Height: 300, TileWidth: 256, TileHeight: 256,
		Offsets:    spec.NewTable(spec.TypeLong8, []uint64{1}, 0),
		ByteCounts: spec.NewTable(spec.TypeLong, []uint64{1}, 0),
	}
	b := spec.AppendHeader(nil, spec.HeaderLength)
	b = append(b, spec.EncodeIFD(bad, 0)...)
	_, err := spec.ReadDirectory(b)
	require.Truef(t, errors.Is(err, spec.ErrInvalidDirectory), "%v", err)
}

func TestReadDirectoryOffsetOutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		first uint64
	}{
		{"near max uint64", 0xFFFFFFFFFFFFFFFC},
		{"past max offset", spec.MaxFileOffset + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := spec.AppendHeader(nil, tt.first)
			b = append(b, make([]byte, 64)...)
			_, err := spec.ReadDirectory(b)
			require.Truef(t, errors.Is(err, spec.ErrInvalidDirectory), "%v", err)
		})
	}
}

func TestReadDirectoryHugeNextIFD(t *testing.T) {
	thumb := spec.IFD{
		Width: 150, Height: 75, TileWidth: 256, TileHeight: 256,
		Offsets:    spec.NewTable(spec.TypeLong8, []uint64{7}, 0),
		ByteCounts: spec.NewTable(spec.TypeLong, []uint64{70}, 0),
	}
	b := spec.AppendHeader(nil, spec.HeaderLength)
	b = append(b, spec.EncodeIFD(thumb, 0xFFFFFFFFFFFFFFF0)...)
	_, err := spec.ReadDirectory(b)
	require.Truef(t, errors.Is(err, spec.ErrInvalidDirectory), "%v", err)

	// An IFD just past the loaded bytes is still requested.
	b = spec.AppendHeader(nil, spec.HeaderLength)
	b = append(b, spec.EncodeIFD(thumb, 1<<20)...)
	_, err = spec.ReadDirectory(b)
	var needMore *spec.NeedMoreError
	require.Truef(t, errors.As(err, &needMore), "%v", err)
	require.Equal(t, uint64(1<<20+8), needMore.End)
}
