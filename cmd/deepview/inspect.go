package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
)

type inspectCmd struct {
	inputFormat string
	ext         string
}

func (c *inspectCmd) Name() string     { return "inspect" }
func (c *inspectCmd) Synopsis() string { return "print the tiers of a tile store" }
func (c *inspectCmd) Usage() string {
	return "deepview inspect [-if <format>] <path>\n"
}
func (c *inspectCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.inputFormat, "if", "", "Input format (folder, packed, pmtiles, mbtiles)")
	f.StringVar(&c.ext, "ext", "jpg", "Tile file extension of folder storage")
}

func (c *inspectCmd) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	logger := loggerArg(args)
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	inputPath := f.Arg(0)
	format, err := deduceFormat(c.inputFormat, inputPath)
	if err != nil {
		logger.Error("inspect", "error", err)
		return subcommands.ExitUsageError
	}
	s, err := openStore(format, inputPath, c.ext, logger)
	if err != nil {
		logger.Error("inspect: open", "path", inputPath, "error", err)
		return subcommands.ExitFailure
	}
	defer closeAll(s)

	if err := describeStore(os.Stdout, format, s); err != nil {
		logger.Error("inspect", "error", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func describeStore(w io.Writer, format string, s store) error {
	p := s.Pyramid()
	if _, err := fmt.Fprintf(w, "format: %v\nimage: %vx%v\ntile: %vx%v\ntiles: %v\n",
		format, p.ImageWidth, p.ImageHeight, p.TileWidth, p.TileHeight, p.TotalTiles()); err != nil {
		return err
	}
	for i, t := range p.Tiers() {
		cols, rows := p.TierDimensionsInTiles(i)
		if _, err := fmt.Fprintf(w, "tier %v: %vx%v, %vx%v tiles, zoom %g\n",
			i, t.Width, t.Height, cols, rows, p.TierZoom(i)); err != nil {
			return err
		}
	}
	return nil
}
