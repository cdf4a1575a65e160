package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"

	"github.com/eak1mov/go-deepview/tile"
)

type convertCmd struct {
	inputFormat  string
	inputPath    string
	outputFormat string
	outputPath   string
	ext          string
}

func (c *convertCmd) Name() string     { return "convert" }
func (c *convertCmd) Synopsis() string { return "convert between tile storage formats" }
func (c *convertCmd) Usage() string {
	return "deepview convert -i <path> -o <path> [-if <format> | -of <format>]\n"
}
func (c *convertCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.inputPath, "i", "", "Input path")
	f.StringVar(&c.inputFormat, "if", "", "Input format (folder, packed, pmtiles, mbtiles)")
	f.StringVar(&c.outputPath, "o", "", "Output path")
	f.StringVar(&c.outputFormat, "of", "", "Output format (folder, packed, pmtiles, mbtiles, pattern)")
	f.StringVar(&c.ext, "ext", "jpg", "Tile file extension, when the input does not record one")
}

func (c *convertCmd) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	logger := loggerArg(args)
	inputFormat, err := deduceFormat(c.inputFormat, c.inputPath)
	if err != nil {
		logger.Error("convert", "error", err)
		return subcommands.ExitUsageError
	}
	outputFormat, err := deduceFormat(c.outputFormat, c.outputPath)
	if err != nil {
		logger.Error("convert", "error", err)
		return subcommands.ExitUsageError
	}

	reader, err := openStore(inputFormat, c.inputPath, c.ext, logger)
	if err != nil {
		logger.Error("convert: open input", "path", c.inputPath, "error", err)
		return subcommands.ExitFailure
	}
	defer closeAll(reader)

	writer, err := newWriter(outputFormat, c.outputPath, storeExtension(reader, c.ext), reader.Pyramid(), logger)
	if err != nil {
		logger.Error("convert: create output", "path", c.outputPath, "error", err)
		return subcommands.ExitFailure
	}
	if closer, ok := writer.(io.Closer); ok {
		defer closer.Close()
	}

	bar := progressbar.NewOptions(reader.Pyramid().TotalTiles(), progressbar.OptionShowIts(), progressbar.OptionShowCount())
	err = copyTiles(reader, writer, func() { bar.Add(1) })
	bar.Finish()
	fmt.Println()

	if err != nil {
		logger.Error("convert", "error", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// copyTiles writes every tile of reader to writer and finalizes it.
func copyTiles(reader tile.Visitor, writer tile.Writer, progress func()) error {
	err := reader.VisitTiles(func(tileID tile.ID, tileData []byte) error {
		defer progress()
		return writer.WriteTile(tileID, tileData)
	})
	if err != nil {
		return err
	}
	return writer.Finalize()
}
