package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"

	"github.com/eak1mov/go-deepview/index"
	"github.com/eak1mov/go-deepview/tile"
)

type exportCmd struct {
	inputFormat     string
	inputPath       string
	outputIndexPath string
	outputTilesPath string
	ext             string
}

func (c *exportCmd) Name() string     { return "export-index" }
func (c *exportCmd) Synopsis() string { return "export tile index and data from a tile store" }
func (c *exportCmd) Usage() string {
	return "deepview export-index -i <path> -o <path> [-t <path> -if <format>]\n"
}
func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.inputPath, "i", "", "Input path")
	f.StringVar(&c.inputFormat, "if", "", "Input format (folder, packed, pmtiles, mbtiles)")
	f.StringVar(&c.outputIndexPath, "o", "", "Output index file path")
	f.StringVar(&c.outputTilesPath, "t", "", "Output tiles file path, for stores without byte locations")
	f.StringVar(&c.ext, "ext", "jpg", "Tile file extension of folder storage")
}

// exportTiles concatenates every tile into the tiles file and indexes them by their offsets there.
func (c *exportCmd) exportTiles(reader tile.Visitor) error {
	if c.outputTilesPath == "" {
		return fmt.Errorf("the input has no byte locations, -t is required")
	}
	indexFile, err := os.Create(c.outputIndexPath)
	if err != nil {
		return err
	}
	defer indexFile.Close()
	indexWriter := bufio.NewWriter(indexFile)

	tilesFile, err := os.Create(c.outputTilesPath)
	if err != nil {
		return err
	}
	defer tilesFile.Close()
	tilesWriter := bufio.NewWriter(tilesFile)
	tilesOffset := uint64(0)

	bar := progressbar.NewOptions(-1, progressbar.OptionShowIts(), progressbar.OptionShowCount())

	err = reader.VisitTiles(func(tileID tile.ID, tileData []byte) error {
		item := index.NewItem(tileID, tile.Location{Offset: tilesOffset, Length: uint64(len(tileData))})
		if err := binary.Write(indexWriter, binary.LittleEndian, item); err != nil {
			return err
		}
		if _, err := tilesWriter.Write(tileData); err != nil {
			return err
		}
		tilesOffset += uint64(len(tileData))
		bar.Add(1)
		return nil
	})

	bar.Finish()
	fmt.Println()

	if err != nil {
		return err
	}
	if err := tilesWriter.Flush(); err != nil {
		return err
	}
	return indexWriter.Flush()
}

// exportLocations indexes the tiles in place, by their byte ranges in the input file.
func (c *exportCmd) exportLocations(reader tile.LocationVisitor) error {
	items, err := index.Collect(reader)
	if err != nil {
		return err
	}
	file, err := os.Create(c.outputIndexPath)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := index.WriteAll(items, file); err != nil {
		return err
	}
	return file.Close()
}

func (c *exportCmd) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	logger := loggerArg(args)
	format, err := deduceFormat(c.inputFormat, c.inputPath)
	if err != nil {
		logger.Error("export-index", "error", err)
		return subcommands.ExitUsageError
	}
	reader, err := openStore(format, c.inputPath, c.ext, logger)
	if err != nil {
		logger.Error("export-index: open input", "path", c.inputPath, "error", err)
		return subcommands.ExitFailure
	}
	defer closeAll(reader)

	if visitor, ok := reader.(tile.LocationVisitor); ok && c.outputTilesPath == "" {
		err = c.exportLocations(visitor)
	} else {
		err = c.exportTiles(reader)
	}
	if err != nil {
		logger.Error("export-index", "error", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
