package pattern_test

import (
	"maps"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/eak1mov/go-deepview/pattern"
	"github.com/eak1mov/go-deepview/tile"
)

func TestWriterReader(t *testing.T) {
	rootDir := t.TempDir()
	filePattern := filepath.Join(rootDir, "image_files", "{tier}", "{col}_{row}.jpg")

	tiles := map[tile.ID][]byte{
		{Tier: 0, Col: 0, Row: 0}:  []byte("tile000"),
		{Tier: 1, Col: 1, Row: 1}:  []byte("tile111"),
		{Tier: 6, Col: 0, Row: 0}:  []byte("tile600"),
		{Tier: 6, Col: 12, Row: 6}: []byte("tile6126"),
	}

	writer, err := pattern.NewWriter(filePattern)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	for tileID, tileData := range tiles {
		if err := writer.WriteTile(tileID, tileData); err != nil {
			t.Errorf("WriteTile(%v) failed: %v", tileID, err)
		}
	}
	if err := writer.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	// Files not matching the pattern are ignored.
	if err := os.WriteFile(filepath.Join(rootDir, "image_files", "6", "notes.txt"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	reader, err := pattern.NewReader(filePattern)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}

	if got, want := maps.Collect(tile.IterTiles(reader)), tiles; !cmp.Equal(got, want) {
		t.Errorf("VisitTiles data mismatch (-want+got):\n%v", cmp.Diff(want, got))
	}
	for tileID, want := range tiles {
		got, err := reader.ReadTile(tileID)
		if err != nil {
			t.Errorf("ReadTile(%v) failed: %v", tileID, err)
			continue
		}
		if !cmp.Equal(got, want) {
			t.Errorf("ReadTile(%v) = %q, want = %q", tileID, got, want)
		}
	}

	tileData, err := reader.ReadTile(tile.ID{Tier: 9, Col: 9, Row: 9})
	if err != nil {
		t.Errorf("ReadTile(missing tile) failed: %v", err)
	}
	if len(tileData) != 0 {
		t.Errorf("ReadTile(missing tile) expected empty tile, got: %v bytes", len(tileData))
	}
}

func TestInvalidPattern(t *testing.T) {
	for _, p := range []string{"", "{tier}/{col}.jpg", "{col}/{row}.jpg"} {
		if _, err := pattern.NewWriter(p); err == nil {
			t.Errorf("NewWriter(%q) succeeded, want error", p)
		}
		if _, err := pattern.NewReader(p); err == nil {
			t.Errorf("NewReader(%q) succeeded, want error", p)
		}
	}
}

func TestFormat(t *testing.T) {
	got := pattern.Format("out/TileGroup0/{tier}-{col}-{row}.jpg", tile.ID{Tier: 3, Col: 5, Row: 2})
	if want := "out/TileGroup0/3-5-2.jpg"; got != want {
		t.Errorf("Format() = %q, want = %q", got, want)
	}
}
