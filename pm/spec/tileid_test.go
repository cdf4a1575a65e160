package spec_test

import (
	"errors"
	"testing"

	"github.com/eak1mov/go-deepview/pm/spec"
	"github.com/eak1mov/go-deepview/tile"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeTileID(t *testing.T) {
	for tier := range 8 {
		for col := range 1 << tier {
			for row := range 1 << tier {
				id := tile.ID{Tier: tier, Col: col, Row: row}
				code, err := spec.EncodeTileID(id)
				require.NoError(t, err)
				if diff := cmp.Diff(id, spec.DecodeTileID(code)); diff != "" {
					t.Errorf("DecodeTileID(EncodeTileID(%v)) mismatch (-want+got):\n%v", id, diff)
				}
			}
		}
	}
	for tier := range 31 {
		id := tile.ID{Tier: tier, Col: 1<<tier - 1, Row: 1<<tier - 1}
		code, err := spec.EncodeTileID(id)
		require.NoError(t, err)
		if diff := cmp.Diff(id, spec.DecodeTileID(code)); diff != "" {
			t.Errorf("DecodeTileID(EncodeTileID(%v)) mismatch (-want+got):\n%v", id, diff)
		}
	}
}

func TestEncodeTileIDOrder(t *testing.T) {
	for _, tc := range []struct {
		id   tile.ID
		code uint64
	}{
		{tile.ID{Tier: 0, Col: 0, Row: 0}, 0},
		{tile.ID{Tier: 1, Col: 0, Row: 0}, 1},
		{tile.ID{Tier: 2, Col: 0, Row: 0}, 5},
		{tile.ID{Tier: 3, Col: 0, Row: 0}, 21},
	} {
		code, err := spec.EncodeTileID(tc.id)
		require.NoError(t, err)
		require.Equal(t, tc.code, code, tc.id.Name())
	}

	_, err := spec.EncodeTileID(tile.ID{Tier: 1, Col: 2, Row: 0})
	require.True(t, errors.Is(err, spec.ErrTileOutOfRange))
}
