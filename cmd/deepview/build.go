package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/disintegration/imaging"
	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"

	"github.com/eak1mov/go-deepview/build"
)

type buildCmd struct {
	inputPath    string
	outputFormat string
	outputPath   string
	tileSize     int
	ext          string
	quality      int
	skipEmpty    bool
}

func (c *buildCmd) Name() string     { return "build" }
func (c *buildCmd) Synopsis() string { return "cut an image into a tile pyramid" }
func (c *buildCmd) Usage() string {
	return "deepview build -i <image> -o <path> [-of <format>]\n"
}
func (c *buildCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.inputPath, "i", "", "Input image path")
	f.StringVar(&c.outputPath, "o", "", "Output path")
	f.StringVar(&c.outputFormat, "of", "", "Output format (folder, packed, pmtiles, mbtiles, pattern)")
	f.IntVar(&c.tileSize, "tile", 256, "Tile size in pixels")
	f.StringVar(&c.ext, "ext", build.DefaultFormat, "Tile encoding (jpg, png)")
	f.IntVar(&c.quality, "q", build.DefaultQuality, "JPEG quality")
	f.BoolVar(&c.skipEmpty, "skip-empty", false, "Do not write fully transparent tiles")
}

func (c *buildCmd) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	logger := loggerArg(args)
	if c.inputPath == "" || c.outputPath == "" {
		logger.Error("build: -i and -o are required")
		return subcommands.ExitUsageError
	}
	outputFormat, err := deduceFormat(c.outputFormat, c.outputPath)
	if err != nil {
		logger.Error("build", "error", err)
		return subcommands.ExitUsageError
	}

	img, err := imaging.Open(c.inputPath, imaging.AutoOrientation(true))
	if err != nil {
		logger.Error("build: open image", "path", c.inputPath, "error", err)
		return subcommands.ExitFailure
	}
	p, err := build.Layout(img, c.tileSize, c.tileSize)
	if err != nil {
		logger.Error("build", "error", err)
		return subcommands.ExitFailure
	}
	logger.Info("build: layout", "width", p.ImageWidth, "height", p.ImageHeight, "tiers", p.TierCount(), "tiles", p.TotalTiles())

	writer, err := newWriter(outputFormat, c.outputPath, c.ext, p, logger)
	if err != nil {
		logger.Error("build: create output", "path", c.outputPath, "error", err)
		return subcommands.ExitFailure
	}
	if closer, ok := writer.(io.Closer); ok {
		defer closer.Close()
	}

	opts := []build.Option{
		build.WithFormat(c.ext),
		build.WithQuality(c.quality),
		build.WithLogger(logger),
	}
	if c.skipEmpty {
		opts = append(opts, build.WithSkipEmpty())
	}
	bar := progressbar.NewOptions(p.TotalTiles(), progressbar.OptionShowIts(), progressbar.OptionShowCount())
	opts = append(opts, build.WithProgress(func(done, _ int) {
		bar.Set(done)
	}))
	err = build.Pyramid(img, p, writer, opts...)
	bar.Finish()
	fmt.Println()

	if err != nil {
		logger.Error("build", "error", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
