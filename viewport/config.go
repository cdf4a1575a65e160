package viewport

import (
	"log/slog"
	"time"

	"github.com/eak1mov/go-deepview/geom"
	"github.com/eak1mov/go-deepview/render"
	"github.com/eak1mov/go-deepview/tilecache"
)

const (
	DefaultMaxZoom        = 1.0
	DefaultTierUpscaleMax = 1.15

	// Backfill uses tier 0 while the frontfill tier is at most DefaultBackfillNearApex,
	// DefaultBackfillOffset tiers below the frontfill otherwise. Above DefaultDynamicBackfillTier
	// the backfill is redrawn for every view.
	DefaultBackfillNearApex    = 3
	DefaultBackfillOffset      = 2
	DefaultDynamicBackfillTier = 6
	DefaultOversizeTier        = 2

	// DefaultPanBuffer is the fraction of the viewport loaded beyond each edge.
	DefaultPanBuffer = 0.5

	DefaultStepInterval       = 30 * time.Millisecond
	DefaultZoomSpeed          = 0.04
	DefaultPanSpeed           = 10.0
	DefaultGlideFriction      = 0.85
	DefaultRotationSteps      = 12
	DefaultRotationDuration   = 600 * time.Millisecond
	DefaultTransitionSteps    = 20
	DefaultTransitionDuration = time.Second

	DefaultWatchdogDelay   = time.Second
	DefaultWatchdogRetries = 3
	// DefaultWatchdogMinRate is the loading rate in tiles per second below which a view counts as stalled.
	DefaultWatchdogMinRate = 1.0
)

// glideStop is the glide velocity in display pixels per step at which a glide ends.
const glideStop = 0.5

type config struct {
	logger        *slog.Logger
	panConstraint geom.PanConstraint
	minZoom       float64
	maxZoom       float64
	initial       *geom.View

	tierUpscaleMax      float64
	backfillNearApex    int
	backfillOffset      int
	dynamicBackfillTier int
	oversizeTier        int
	panBuffer           float64

	stepInterval       time.Duration
	zoomSpeed          float64
	panSpeed           float64
	glideFriction      float64
	rotationSteps      int
	rotationDuration   time.Duration
	transitionSteps    int
	transitionDuration time.Duration

	watchdogDelay   time.Duration
	watchdogRetries int
	watchdogMinRate float64

	cacheOptions  []tilecache.Option
	renderOptions []render.Option
}

func defaultConfig() config {
	return config{
		logger:              slog.New(slog.DiscardHandler),
		panConstraint:       geom.PanConstrainStrict,
		maxZoom:             DefaultMaxZoom,
		tierUpscaleMax:      DefaultTierUpscaleMax,
		backfillNearApex:    DefaultBackfillNearApex,
		backfillOffset:      DefaultBackfillOffset,
		dynamicBackfillTier: DefaultDynamicBackfillTier,
		oversizeTier:        DefaultOversizeTier,
		panBuffer:           DefaultPanBuffer,
		stepInterval:        DefaultStepInterval,
		zoomSpeed:           DefaultZoomSpeed,
		panSpeed:            DefaultPanSpeed,
		glideFriction:       DefaultGlideFriction,
		rotationSteps:       DefaultRotationSteps,
		rotationDuration:    DefaultRotationDuration,
		transitionSteps:     DefaultTransitionSteps,
		transitionDuration:  DefaultTransitionDuration,
		watchdogDelay:       DefaultWatchdogDelay,
		watchdogRetries:     DefaultWatchdogRetries,
		watchdogMinRate:     DefaultWatchdogMinRate,
	}
}

type Option func(*config)

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func WithPanConstraint(mode geom.PanConstraint) Option {
	return func(c *config) {
		c.panConstraint = mode
	}
}

// WithZoomRange sets the zoom limits. A minimum of zero or less means zoom to fit.
func WithZoomRange(minZoom, maxZoom float64) Option {
	return func(c *config) {
		c.minZoom = minZoom
		c.maxZoom = maxZoom
	}
}

// WithInitialView sets the view shown by Reset. A zoom of zero or less means zoom to fit.
func WithInitialView(v geom.View) Option {
	return func(c *config) {
		c.initial = &v
	}
}

func WithTierUpscaleMax(f float64) Option {
	return func(c *config) {
		c.tierUpscaleMax = f
	}
}

// WithBackfill sets the backfill tier selection, see DefaultBackfillNearApex.
func WithBackfill(nearApex, offset, dynamicTier int) Option {
	return func(c *config) {
		c.backfillNearApex = nearApex
		c.backfillOffset = offset
		c.dynamicBackfillTier = dynamicTier
	}
}

// WithOversizeTier sets the tier drawn behind a dynamic backfill; render.NoTier disables it.
func WithOversizeTier(tier int) Option {
	return func(c *config) {
		c.oversizeTier = tier
	}
}

func WithPanBuffer(fraction float64) Option {
	return func(c *config) {
		c.panBuffer = fraction
	}
}

// WithStepping sets the interval and per-step increments of continuous zoom, pan and glide.
func WithStepping(interval time.Duration, zoomSpeed, panSpeed float64) Option {
	return func(c *config) {
		c.stepInterval = interval
		c.zoomSpeed = zoomSpeed
		c.panSpeed = panSpeed
	}
}

func WithGlideFriction(f float64) Option {
	return func(c *config) {
		c.glideFriction = f
	}
}

func WithRotation(steps int, duration time.Duration) Option {
	return func(c *config) {
		c.rotationSteps = steps
		c.rotationDuration = duration
	}
}

// WithTransition sets the defaults of ZoomAndPanToView.
func WithTransition(steps int, duration time.Duration) Option {
	return func(c *config) {
		c.transitionSteps = steps
		c.transitionDuration = duration
	}
}

// WithWatchdog sets the view validation delay, retry limit and minimum loading rate.
func WithWatchdog(delay time.Duration, retries int, minRate float64) Option {
	return func(c *config) {
		c.watchdogDelay = delay
		c.watchdogRetries = retries
		c.watchdogMinRate = minRate
	}
}

func WithCacheOptions(opts ...tilecache.Option) Option {
	return func(c *config) {
		c.cacheOptions = append(c.cacheOptions, opts...)
	}
}

func WithRenderOptions(opts ...render.Option) Option {
	return func(c *config) {
		c.renderOptions = append(c.renderOptions, opts...)
	}
}
