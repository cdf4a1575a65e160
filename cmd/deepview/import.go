package main

import (
	"cmp"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"

	"github.com/eak1mov/go-deepview/index"
	"github.com/eak1mov/go-deepview/pyramid"
)

type importCmd struct {
	inputIndexPath string
	inputTilesPath string
	outputFormat   string
	outputPath     string
	width          int
	height         int
	tileSize       int
	ext            string
}

func (c *importCmd) Name() string     { return "import-index" }
func (c *importCmd) Synopsis() string { return "create a tile store from an exported tile index and data" }
func (c *importCmd) Usage() string {
	return "deepview import-index -i <path> -t <path> -o <path> -width <px> -height <px> [-of <format>]\n"
}
func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.inputIndexPath, "i", "", "Input index file path")
	f.StringVar(&c.inputTilesPath, "t", "", "Input tiles file path")
	f.StringVar(&c.outputPath, "o", "", "Output path")
	f.StringVar(&c.outputFormat, "of", "", "Output format (folder, packed, pmtiles, mbtiles, pattern)")
	f.IntVar(&c.width, "width", 0, "Image width in pixels")
	f.IntVar(&c.height, "height", 0, "Image height in pixels")
	f.IntVar(&c.tileSize, "tile", 256, "Tile size in pixels")
	f.StringVar(&c.ext, "ext", "jpg", "Tile file extension")
}

func (c *importCmd) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	logger := loggerArg(args)
	format, err := deduceFormat(c.outputFormat, c.outputPath)
	if err != nil {
		logger.Error("import-index", "error", err)
		return subcommands.ExitUsageError
	}
	p, err := pyramid.Build(c.width, c.height, c.tileSize, c.tileSize, pyramid.StrategyPrimary)
	if err != nil {
		logger.Error("import-index", "error", err)
		return subcommands.ExitUsageError
	}

	indexData, err := os.ReadFile(c.inputIndexPath)
	if err != nil {
		logger.Error("import-index", "error", err)
		return subcommands.ExitFailure
	}
	items, err := index.ReadAll(indexData)
	if err != nil {
		logger.Error("import-index", "error", err)
		return subcommands.ExitFailure
	}
	if len(items) == 0 {
		logger.Error("import-index: empty index", "path", c.inputIndexPath)
		return subcommands.ExitFailure
	}

	tilesFile, err := os.Open(c.inputTilesPath)
	if err != nil {
		logger.Error("import-index", "error", err)
		return subcommands.ExitFailure
	}
	defer tilesFile.Close()

	writer, err := newWriter(format, c.outputPath, c.ext, p, logger)
	if err != nil {
		logger.Error("import-index: create output", "path", c.outputPath, "error", err)
		return subcommands.ExitFailure
	}
	if closer, ok := writer.(io.Closer); ok {
		defer closer.Close()
	}

	maxLength := slices.MaxFunc(items, func(a, b index.Item) int {
		return cmp.Compare(a.Length, b.Length)
	}).Length
	buffer := make([]byte, maxLength)

	slices.SortFunc(items, func(a, b index.Item) int {
		return cmp.Compare(a.Offset, b.Offset)
	})

	bar := progressbar.New(len(items))
	for _, item := range items {
		tileData := buffer[:item.Length]
		if _, err := tilesFile.ReadAt(tileData, int64(item.Offset)); err != nil {
			logger.Error("import-index", "tile", item.TileID(), "error", err)
			return subcommands.ExitFailure
		}
		if err := writer.WriteTile(item.TileID(), tileData); err != nil {
			logger.Error("import-index", "tile", item.TileID(), "error", err)
			return subcommands.ExitFailure
		}
		bar.Add(1)
	}
	bar.Finish()
	fmt.Println()

	if err := writer.Finalize(); err != nil {
		logger.Error("import-index", "error", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
