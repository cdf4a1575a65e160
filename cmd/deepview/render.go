package main

import (
	"context"
	"errors"
	"flag"
	"image"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/subcommands"

	"github.com/eak1mov/go-deepview/geom"
	"github.com/eak1mov/go-deepview/render"
	"github.com/eak1mov/go-deepview/tilecache"
	"github.com/eak1mov/go-deepview/viewer"
	"github.com/eak1mov/go-deepview/viewport"
)

type renderCmd struct {
	src        string
	format     string
	x, y       float64
	zoom       float64
	rotation   float64
	width      int
	height     int
	outputPath string
	timeout    time.Duration
}

func (c *renderCmd) Name() string     { return "render" }
func (c *renderCmd) Synopsis() string { return "render a view of an image to a PNG file" }
func (c *renderCmd) Usage() string {
	return `deepview render -src <path|url> -o <png> [-x <px> -y <px> -zoom <z> -r <deg>] [-w <px> -h <px>]
  Without -zoom the whole image is rendered to fit.
`
}
func (c *renderCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.src, "src", "", "Image path or URL")
	f.StringVar(&c.format, "if", "", "Storage format (folder, packed, pmtiles, mbtiles, raw)")
	f.Float64Var(&c.x, "x", 0, "View center x in image pixels")
	f.Float64Var(&c.y, "y", 0, "View center y in image pixels")
	f.Float64Var(&c.zoom, "zoom", 0, "Zoom, 1 is full resolution")
	f.Float64Var(&c.rotation, "r", 0, "Rotation in degrees, a multiple of 90")
	f.IntVar(&c.width, "w", 800, "Output width")
	f.IntVar(&c.height, "h", 600, "Output height")
	f.StringVar(&c.outputPath, "o", "", "Output PNG path")
	f.DurationVar(&c.timeout, "timeout", time.Minute, "Give up after this long")
}

func (c *renderCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	logger := loggerArg(args)
	if c.src == "" || c.outputPath == "" {
		logger.Error("render: -src and -o are required")
		return subcommands.ExitUsageError
	}
	format, err := viewer.ParseFormat(c.format)
	if err != nil {
		logger.Error("render", "error", err)
		return subcommands.ExitUsageError
	}

	img, err := c.render(ctx, format, logger)
	if err != nil {
		logger.Error("render", "src", c.src, "error", err)
		return subcommands.ExitFailure
	}
	if err := imaging.Save(img, c.outputPath); err != nil {
		logger.Error("render: save", "path", c.outputPath, "error", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// render runs a viewer until the requested view is fully loaded and returns a copy of its frame.
func (c *renderCmd) render(ctx context.Context, format viewer.Format, logger *slog.Logger) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	v := viewer.New(
		viewer.WithLogger(logger),
		viewer.WithViewportSize(geom.Size{W: float64(c.width), H: float64(c.height)}),
		viewer.WithViewportOptions(
			viewport.WithCacheOptions(tilecache.WithFade(0, 1)),
			viewport.WithRenderOptions(render.WithMode(render.ModeCanvas)),
		),
		viewer.WithMessageHandler(func(m viewer.Message) {
			if m.Kind == viewer.MessageWarning {
				logger.Warn("render: "+m.Text, "error", m.Err)
			}
		}),
	)
	stopped := make(chan error, 1)
	go func() { stopped <- v.Run(ctx) }()
	defer func() {
		cancel()
		<-stopped
		v.Close()
	}()

	if _, err := v.Open(ctx, c.src, format); err != nil {
		return nil, err
	}

	frames := make(chan image.Image, 1)
	v.Do(func(vp *viewport.Viewport) {
		capture := func() {
			select {
			case frames <- imaging.Clone(vp.Frame()):
			default:
			}
		}
		vp.SetCallback(viewport.EventViewUpdateComplete, func(viewport.Event) { capture() })
		vp.SetCallback(viewport.EventValidationFailed, func(viewport.Event) {
			logger.Warn("render: some tiles could not be loaded")
			capture()
		})
		if c.zoom > 0 {
			vp.SetView(c.x, c.y, c.zoom, c.rotation)
		} else if c.rotation != 0 {
			vp.Rotate(c.rotation, false)
		}
		if vp.Status().Has(viewport.StatusDisplayLoaded) {
			capture()
		}
	})

	select {
	case img := <-frames:
		return img, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.New("timed out waiting for tiles")
		}
		return nil, ctx.Err()
	}
}
