// Package pattern reads and writes tiles stored as individual files whose paths follow a
// pattern such as "/data/tiles/{tier}/{col}_{row}.jpg".
package pattern

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/eak1mov/go-deepview/tile"
)

var ErrInvalidPattern = errors.New("deepview: invalid file pattern")

var placeholders = []string{"{tier}", "{col}", "{row}"}

func validatePattern(pattern string) error {
	for _, p := range placeholders {
		if !strings.Contains(pattern, p) {
			return fmt.Errorf("%w: placeholder %v not found", ErrInvalidPattern, p)
		}
	}
	return nil
}

// Format returns the file path of the tile.
func Format(pattern string, tileID tile.ID) string {
	return strings.NewReplacer(
		"{tier}", strconv.Itoa(tileID.Tier),
		"{col}", strconv.Itoa(tileID.Col),
		"{row}", strconv.Itoa(tileID.Row),
	).Replace(pattern)
}
