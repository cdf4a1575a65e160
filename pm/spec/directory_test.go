package spec_test

import (
	"errors"
	"testing"

	"github.com/eak1mov/go-deepview/pm/spec"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// fullTiers returns one entry per tile of tiers 0..maxTier, sorted by tile code.
func fullTiers(maxTier int) []spec.Entry {
	var entries []spec.Entry
	offset := uint64(0)
	for code := uint64(0); ; code++ {
		id := spec.DecodeTileID(code)
		if id.Tier > maxTier {
			break
		}
		length := uint32(100 + id.Col + id.Row)
		entries = append(entries, spec.Entry{TileCode: code, Offset: offset, Length: length, RunLength: 1})
		offset += uint64(length)
	}
	return entries
}

func TestDirectorySerializer(t *testing.T) {
	for _, tc := range []struct {
		name    string
		entries []spec.Entry
	}{
		{"empty", []spec.Entry{}},
		{"single", []spec.Entry{{TileCode: 5, Offset: 0, Length: 10, RunLength: 1}}},
		{"shared", []spec.Entry{
			{TileCode: 1, Offset: 0, Length: 10, RunLength: 3},
			{TileCode: 4, Offset: 0, Length: 10, RunLength: 1},
			{TileCode: 9, Offset: 10, Length: 7, RunLength: 1},
		}},
		{"full5", fullTiers(5)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := spec.DeserializeDirectory(spec.SerializeDirectory(tc.entries))
			require.NoError(t, err)
			if diff := cmp.Diff(tc.entries, got); diff != "" {
				t.Errorf("DeserializeDirectory(SerializeDirectory(input)) mismatch (-want+got):\n%v", diff)
			}
		})
	}
}

func TestDeserializeDirectoryErrors(t *testing.T) {
	_, err := spec.DeserializeDirectory([]byte{0xff})
	require.Truef(t, errors.Is(err, spec.ErrInvalidDirectory), "%v", err)
	_, err = spec.DeserializeDirectory([]byte{100, 1, 2})
	require.Truef(t, errors.Is(err, spec.ErrInvalidDirectory), "%v", err)
}

func TestCompactAndFind(t *testing.T) {
	entries := spec.CompactEntries([]spec.Entry{
		{TileCode: 1, Offset: 0, Length: 10, RunLength: 1},
		{TileCode: 2, Offset: 0, Length: 10, RunLength: 1},
		{TileCode: 3, Offset: 0, Length: 10, RunLength: 1},
		{TileCode: 4, Offset: 10, Length: 5, RunLength: 1},
		{TileCode: 6, Offset: 10, Length: 5, RunLength: 1},
	})
	want := []spec.Entry{
		{TileCode: 1, Offset: 0, Length: 10, RunLength: 3},
		{TileCode: 4, Offset: 10, Length: 5, RunLength: 1},
		{TileCode: 6, Offset: 10, Length: 5, RunLength: 1},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("CompactEntries mismatch (-want+got):\n%v", diff)
	}

	for _, tc := range []struct {
		code  uint64
		found bool
		entry spec.Entry
	}{
		{0, false, spec.Entry{}},
		{2, true, want[0]},
		{4, true, want[1]},
		{5, false, spec.Entry{}},
		{6, true, want[2]},
		{100, false, spec.Entry{}},
	} {
		entry, found := spec.FindEntry(entries, tc.code)
		require.Equal(t, tc.found, found, "code %v", tc.code)
		require.Equal(t, tc.entry, entry, "code %v", tc.code)
	}

	leaves := []spec.Entry{{TileCode: 0, Offset: 0, Length: 40}, {TileCode: 50, Offset: 40, Length: 30}}
	entry, found := spec.FindEntry(leaves, 70)
	require.True(t, found)
	require.True(t, entry.IsLeaf())
	require.Equal(t, uint64(40), entry.Offset)
}

func TestSerializeAllLeaves(t *testing.T) {
	entries := fullTiers(8)
	root, leaves := spec.SerializeAll(entries, spec.CompressionNone)
	require.LessOrEqual(t, len(root), spec.RootDirMaxLength)
	require.NotEmpty(t, leaves)

	rootEntries, err := spec.DeserializeDirectory(root)
	require.NoError(t, err)
	var got []spec.Entry
	for _, leaf := range rootEntries {
		require.True(t, leaf.IsLeaf())
		leafEntries, err := spec.DeserializeDirectory(leaves[leaf.Offset : leaf.Offset+uint64(leaf.Length)])
		require.NoError(t, err)
		got = append(got, leafEntries...)
	}
	if diff := cmp.Diff(entries, got); diff != "" {
		t.Errorf("leaf entries mismatch (-want+got):\n%v", diff)
	}
}
