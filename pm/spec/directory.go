package spec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
)

var ErrInvalidDirectory = errors.New("deepview: invalid pmtiles directory")

// Entry is one directory entry. RunLength 0 marks a pointer to a leaf directory;
// Offset is then relative to the leaf directory section.
type Entry struct {
	TileCode  uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// IsLeaf reports whether the entry points to a leaf directory.
func (e Entry) IsLeaf() bool {
	return e.RunLength == 0
}

// SerializeDirectory encodes entries sorted by tile code as four varint columns:
// delta-coded tile codes, run lengths, lengths and offsets (0 for contiguous data).
func SerializeDirectory(entries []Entry) []byte {
	buffer := binary.AppendUvarint(nil, uint64(len(entries)))

	lastCode := uint64(0)
	for _, entry := range entries {
		buffer = binary.AppendUvarint(buffer, entry.TileCode-lastCode)
		lastCode = entry.TileCode
	}
	for _, entry := range entries {
		buffer = binary.AppendUvarint(buffer, uint64(entry.RunLength))
	}
	for _, entry := range entries {
		buffer = binary.AppendUvarint(buffer, uint64(entry.Length))
	}

	nextOffset := uint64(0)
	for i, entry := range entries {
		if i > 0 && entry.Offset == nextOffset {
			buffer = binary.AppendUvarint(buffer, 0)
		} else {
			buffer = binary.AppendUvarint(buffer, entry.Offset+1)
		}
		nextOffset = entry.Offset + uint64(entry.Length)
	}
	return buffer
}

func DeserializeDirectory(data []byte) ([]Entry, error) {
	byteReader := bytes.NewReader(data)

	var err error
	readUvarint := func() uint64 {
		if err != nil {
			return 0
		}
		var value uint64
		value, err = binary.ReadUvarint(byteReader)
		return value
	}

	numEntries := readUvarint()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDirectory, err)
	}
	// Every entry takes at least four bytes.
	if numEntries > uint64(len(data))/4 {
		return nil, fmt.Errorf("%w: %v entries in %v bytes", ErrInvalidDirectory, numEntries, len(data))
	}
	entries := make([]Entry, numEntries)

	lastCode := uint64(0)
	for i := range entries {
		lastCode += readUvarint()
		entries[i].TileCode = lastCode
	}
	for i := range entries {
		entries[i].RunLength = uint32(readUvarint())
	}
	for i := range entries {
		entries[i].Length = uint32(readUvarint())
	}
	for i := range entries {
		value := readUvarint()
		if value == 0 && i > 0 {
			entries[i].Offset = entries[i-1].Offset + uint64(entries[i-1].Length)
		} else {
			entries[i].Offset = value - 1
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDirectory, err)
	}
	return entries, nil
}

// CompactEntries merges consecutive entries sharing data into runs.
func CompactEntries(entries []Entry) []Entry {
	if len(entries) == 0 {
		return entries
	}
	wi := 0
	for ri := 1; ri < len(entries); ri++ {
		if entries[ri].Offset == entries[wi].Offset &&
			entries[ri].TileCode == entries[wi].TileCode+uint64(entries[wi].RunLength) {
			entries[wi].RunLength++
		} else {
			wi++
			entries[wi] = entries[ri]
		}
	}
	return entries[:wi+1]
}

// FindEntry returns the entry covering tileCode: a tile run, or the leaf directory that
// has to be searched next.
func FindEntry(entries []Entry, tileCode uint64) (Entry, bool) {
	idx := sort.Search(len(entries), func(i int) bool {
		return entries[i].TileCode > tileCode
	})
	if idx == 0 {
		return Entry{}, false
	}
	entry := entries[idx-1]
	if entry.IsLeaf() || tileCode < entry.TileCode+uint64(entry.RunLength) {
		return entry, true
	}
	return Entry{}, false
}

// SerializeAll encodes the root directory and, when the root alone would not fit into
// RootDirMaxLength, the leaf directories it points to.
func SerializeAll(entries []Entry, compression Compression) ([]byte, []byte) {
	rootCompressed, _ := Compress(SerializeDirectory(entries), compression)
	leavesCompressed := make([]byte, 0)
	if len(entries) == 0 || len(rootCompressed) <= RootDirMaxLength {
		return rootCompressed, leavesCompressed
	}

	entriesCount := float64(len(entries))
	entrySize := float64(len(rootCompressed)) / entriesCount
	maxRootEntries := float64(RootDirMaxLength) * 0.9 / entrySize
	leafNumEntries := max(entriesCount/maxRootEntries, 4096, math.Sqrt(entriesCount))

	for len(rootCompressed) > RootDirMaxLength {
		rootEntries := make([]Entry, 0)
		leavesCompressed = leavesCompressed[:0]

		for leafEntries := range slices.Chunk(entries, int(leafNumEntries)) {
			leafCompressed, _ := Compress(SerializeDirectory(leafEntries), compression)
			rootEntries = append(rootEntries, Entry{
				TileCode: leafEntries[0].TileCode,
				Offset:   uint64(len(leavesCompressed)),
				Length:   uint32(len(leafCompressed)),
			})
			leavesCompressed = append(leavesCompressed, leafCompressed...)
		}

		rootCompressed, _ = Compress(SerializeDirectory(rootEntries), compression)
		leafNumEntries *= 1.1
	}
	return rootCompressed, leavesCompressed
}
