// Package netconn loads XML documents, byte ranges and images asynchronously.
//
// Loads run on their own goroutines; completions are posted back to the scheduler loop, so done
// callbacks run on the loop like every other engine callback. Connector methods must be called
// on the loop.
package netconn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/eak1mov/go-deepview/sched"
	"github.com/eak1mov/go-deepview/tile"
)

// Purpose tags a load so the caller's dispatcher can route the result.
type Purpose uint8

const (
	PurposeHeader Purpose = iota
	PurposeOffsetChunk
	PurposeByteCountChunk
	PurposeDirectory
	PurposeTile
	PurposeThumbnail
	PurposeWatermark
	PurposeRawImage
)

func (p Purpose) String() string {
	switch p {
	case PurposeHeader:
		return "header"
	case PurposeOffsetChunk:
		return "offset chunk"
	case PurposeByteCountChunk:
		return "byte count chunk"
	case PurposeDirectory:
		return "directory"
	case PurposeTile:
		return "tile"
	case PurposeThumbnail:
		return "thumbnail"
	case PurposeWatermark:
		return "watermark"
	case PurposeRawImage:
		return "raw image"
	default:
		return "unknown"
	}
}

// XMLKind tells which subsystem an XML document belongs to.
type XMLKind uint8

const (
	XMLImageProperties XMLKind = iota
	XMLSkin
	XMLHotspots
	XMLSlides
)

func (k XMLKind) String() string {
	switch k {
	case XMLImageProperties:
		return "image properties"
	case XMLSkin:
		return "skin"
	case XMLHotspots:
		return "hotspots"
	case XMLSlides:
		return "slides"
	default:
		return "unknown"
	}
}

// ImageRequest describes one image load. Range is nil for whole-resource loads.
type ImageRequest struct {
	URL     string
	Range   *tile.Location
	Purpose Purpose
}

const (
	DefaultMaxImages    = 8
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

type connConfig struct {
	client       *http.Client
	logger       *slog.Logger
	maxImages    int
	timeout      time.Duration
	pollInterval time.Duration
}

type Option func(*connConfig)

// WithHTTPClient sets the client used for all requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *connConfig) {
		c.client = client
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *connConfig) {
		c.logger = logger
	}
}

// WithMaxImages bounds the number of image loads in flight. Extra loads wait in a FIFO queue.
func WithMaxImages(n int) Option {
	return func(c *connConfig) {
		c.maxImages = max(1, n)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *connConfig) {
		c.timeout = d
	}
}

// WithPollInterval sets how often the image queue is polled while it is not empty.
func WithPollInterval(d time.Duration) Option {
	return func(c *connConfig) {
		c.pollInterval = d
	}
}

// Connector issues loads and posts their completions to a scheduler.
type Connector struct {
	sched  sched.Scheduler
	config connConfig
	ctx    context.Context
	cancel context.CancelFunc

	// Loop-confined admission state.
	inFlight int
	queue    []queuedImage
	poll     *sched.Task
}

type queuedImage struct {
	req  ImageRequest
	done func(image.Image, error)
}

func New(s sched.Scheduler, opts ...Option) *Connector {
	config := connConfig{
		client:       http.DefaultClient,
		logger:       slog.New(slog.DiscardHandler),
		maxImages:    DefaultMaxImages,
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(&config)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Connector{
		sched:  s,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Close aborts all loads in flight. Their done callbacks still run, with an error.
func (c *Connector) Close() {
	c.cancel()
	c.poll.Cancel()
}

// InFlight returns the number of image loads currently issued.
func (c *Connector) InFlight() int {
	return c.inFlight
}

// Queued returns the number of image loads waiting for admission.
func (c *Connector) Queued() int {
	return len(c.queue)
}

// LoadXML fetches and parses an XML document.
func (c *Connector) LoadXML(rawURL string, kind XMLKind, done func(*Element, error)) {
	go func() {
		data, err := c.fetch(rawURL, nil, kind.String())
		var doc *Element
		if err == nil {
			doc, err = ParseXML(bytes.NewReader(data))
			if err != nil {
				err = &Error{Kind: KindDecode, Purpose: kind.String(), URL: rawURL, Err: err}
			}
		}
		c.complete(kind.String(), rawURL, err, func() { done(doc, err) })
	}()
}

// LoadByteRange fetches loc.Length bytes starting at loc.Offset.
func (c *Connector) LoadByteRange(rawURL string, loc tile.Location, purpose Purpose, done func([]byte, error)) {
	go func() {
		data, err := c.fetch(rawURL, &loc, purpose.String())
		c.complete(purpose.String(), rawURL, err, func() { done(data, err) })
	}()
}

// LoadImage fetches and decodes an image. At most the configured number of image loads run at
// once; others are queued in arrival order.
func (c *Connector) LoadImage(req ImageRequest, done func(image.Image, error)) {
	if c.inFlight >= c.config.maxImages {
		c.queue = append(c.queue, queuedImage{req, done})
		if !c.poll.Active() {
			c.poll = c.sched.Every(c.config.pollInterval, c.drain)
		}
		return
	}
	c.startImage(req, done)
}

func (c *Connector) startImage(req ImageRequest, done func(image.Image, error)) {
	c.inFlight++
	go func() {
		data, err := c.fetch(req.URL, req.Range, req.Purpose.String())
		var img image.Image
		if err == nil {
			img, err = DecodeImage(data)
			if err != nil {
				err = &Error{Kind: KindDecode, Purpose: req.Purpose.String(), URL: req.URL, Err: err}
			}
		}
		c.complete(req.Purpose.String(), req.URL, err, func() {
			c.inFlight--
			c.drain()
			done(img, err)
		})
	}()
}

func (c *Connector) drain() {
	for c.inFlight < c.config.maxImages && len(c.queue) > 0 {
		next := c.queue[0]
		c.queue[0] = queuedImage{}
		c.queue = c.queue[1:]
		c.startImage(next.req, next.done)
	}
	if len(c.queue) == 0 {
		c.poll.Cancel()
	}
}

func (c *Connector) complete(purpose, rawURL string, err error, f func()) {
	if err != nil {
		c.config.logger.Debug("netconn: load failed", "purpose", purpose, "url", rawURL, "error", err)
	}
	c.sched.Post(f)
}

// DecodeImage decodes an image in any registered format.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, nil
}

func (c *Connector) fetch(rawURL string, loc *tile.Location, purpose string) ([]byte, error) {
	if path, ok := localPath(rawURL); ok {
		if loc != nil {
			return nil, &Error{Kind: KindEnvironment, Purpose: purpose, URL: rawURL, Err: ErrLocalAccess}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &Error{Kind: KindNetwork, Purpose: purpose, URL: rawURL, Err: err}
		}
		return data, nil
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.config.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Purpose: purpose, URL: rawURL, Err: err}
	}
	if loc != nil {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", loc.Offset, loc.End()))
	}

	resp, err := c.config.client.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, purpose, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, &Error{Kind: KindHTTP, Purpose: purpose, URL: rawURL, Status: resp.StatusCode, Err: ErrHTTPStatus}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, purpose, rawURL, err)
	}
	if loc != nil && resp.StatusCode == http.StatusOK {
		// The server ignored the Range header and sent the whole resource.
		if uint64(len(data)) < loc.Offset {
			return []byte{}, nil
		}
		end := min(uint64(len(data)), loc.Offset+loc.Length)
		data = data[loc.Offset:end]
	}
	return data, nil
}

func (c *Connector) transportError(ctx context.Context, purpose, rawURL string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Purpose: purpose, URL: rawURL, Err: fmt.Errorf("%w: %w", ErrTimeout, err)}
	}
	return &Error{Kind: KindNetwork, Purpose: purpose, URL: rawURL, Err: err}
}

func localPath(rawURL string) (string, bool) {
	if !strings.HasPrefix(rawURL, "file:") {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.TrimPrefix(rawURL, "file://"), true
	}
	return u.Path, true
}
