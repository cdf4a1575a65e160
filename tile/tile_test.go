package tile_test

import (
	"errors"
	"testing"

	"github.com/eak1mov/go-deepview/tile"
	"github.com/google/go-cmp/cmp"
)

func TestName(t *testing.T) {
	id := tile.ID{Tier: 3, Col: 5, Row: 2}
	if got, want := id.Name(), "3-5-2"; got != want {
		t.Errorf("Name() = %q, want = %q", got, want)
	}
	parsed, err := tile.ParseName(id.Name())
	if err != nil {
		t.Fatalf("ParseName failed: %v", err)
	}
	if diff := cmp.Diff(id, parsed); diff != "" {
		t.Errorf("ParseName mismatch (-want+got):\n%v", diff)
	}
}

func TestParseNameErrors(t *testing.T) {
	for _, name := range []string{"", "1-2", "a-b-c", "1-2-3-4", "1--2"} {
		if _, err := tile.ParseName(name); !errors.Is(err, tile.ErrInvalidName) {
			t.Errorf("ParseName(%q) error = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestOffset(t *testing.T) {
	x, y := tile.ID{Tier: 1, Col: 3, Row: 4}.Offset(256, 128)
	if x != 768 || y != 512 {
		t.Errorf("Offset = (%v, %v), want = (768, 512)", x, y)
	}
}

func TestLocationEnd(t *testing.T) {
	if got, want := (tile.Location{Offset: 100, Length: 50}).End(), uint64(149); got != want {
		t.Errorf("End() = %v, want = %v", got, want)
	}
}
