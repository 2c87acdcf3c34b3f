// CLAUDE:SUMMARY Incremental page loader: one producer goroutine per run streams rendered pages over a channel, tagged with a generation counter, cooperative cancel.
// Package loader streams the pages of a document from a raster.Source to a
// single consumer, one page at a time, without the consumer ever waiting
// for the whole document.
//
// Every Start opens a new run tagged with a monotonically increasing
// generation. Starting a run first requests the previous run to stop; the
// request is a flag, not a join. A stopped producer may still be finishing
// the page it was rendering, so consumers must compare each Delivery's
// Generation with the one they are waiting for and drop the rest.
//
// Run lifecycle:
//
//	Idle → Loading → Completed | Cancelled | Failed
//
// Usage:
//
//	c := loader.New(src, loader.Config{})
//	run := c.Start(ctx, doc, loader.Zoom{Level: 1, Mode: loader.FitWidth}, 1200)
//	for d := range c.Deliveries() {
//		if d.Generation != run.Generation {
//			continue // stale
//		}
//		...
//	}
package loader

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/docview/geometry"
	"github.com/hazyhaar/docview/raster"
)

var (
	// ErrDocument means the document could not be opened or measured, or has
	// no pages. Nothing from the run was delivered.
	ErrDocument = errors.New("loader: document error")

	// ErrRasterization means one page failed to render. Pages delivered
	// before it stay valid.
	ErrRasterization = errors.New("loader: rasterization error")

	// ErrCancelled is the internal outcome of a superseded run. It is never
	// delivered as a failure.
	ErrCancelled = errors.New("loader: cancelled")
)

// PageError reports the page whose rendering failed. It matches both
// ErrRasterization and the underlying error under errors.Is.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("loader: page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() []error { return []error{ErrRasterization, e.Err} }

// State is the lifecycle state of a run.
type State int32

const (
	Idle State = iota
	Loading
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no more deliveries will be produced.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// ZoomMode selects how the zoom level is chosen.
type ZoomMode int

const (
	// Fixed keeps the level the caller asked for.
	Fixed ZoomMode = iota
	// FitWidth derives the level from the available width and the width of
	// the first page.
	FitWidth
)

func (m ZoomMode) String() string {
	if m == FitWidth {
		return "fit_width"
	}
	return "fixed"
}

func (m ZoomMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *ZoomMode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "fixed", "":
		*m = Fixed
	case "fit_width":
		*m = FitWidth
	default:
		return fmt.Errorf("loader: unknown zoom mode %q", b)
	}
	return nil
}

// Zoom is a value-typed zoom state. Level multiplies Config.BaseDPI.
type Zoom struct {
	Level float64  `json:"level"`
	Mode  ZoomMode `json:"mode"`
}

// Page is a rendered page handed from the producer to the consumer. The
// consumer takes ownership; the producer keeps no reference to it.
type Page struct {
	Number int
	Raster image.Image
	Dims   geometry.Dims
}

// Kind discriminates deliveries.
type Kind int

const (
	// KindOpened carries the page count, the first page size and the
	// effective zoom once the document opened. Sent before any page.
	KindOpened Kind = iota
	// KindPage carries one rendered page.
	KindPage
	// KindCompleted is sent after the last page.
	KindCompleted
	// KindFailed carries the error that stopped the run.
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindOpened:
		return "opened"
	case KindPage:
		return "page"
	case KindCompleted:
		return "completed"
	case KindFailed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Delivery is one message from a producer to the consumer.
type Delivery struct {
	Generation uint64
	Kind       Kind
	Total      int
	Zoom       Zoom
	FirstPage  geometry.DocSize
	Page       *Page
	Err        error
}

// Config tunes a Controller.
type Config struct {
	// BaseDPI is the resolution at zoom level 1. Default: 144 (2 px per point).
	BaseDPI float64 `yaml:"base_dpi"`
	// Margin is subtracted from the available width before fitting. Default: 80.
	Margin float64 `yaml:"margin"`
	// FallbackLevel is used when the available width is too small to fit
	// against. Default: 0.8.
	FallbackLevel float64 `yaml:"fallback_level"`
	// MinUsableWidth is the available width at or below which FallbackLevel
	// applies. Default: 100.
	MinUsableWidth float64 `yaml:"min_usable_width"`
	// Buffer is the capacity of the hand-off channel. Default: 4.
	Buffer int `yaml:"buffer"`
	// Logger overrides the default slog logger.
	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.BaseDPI <= 0 {
		c.BaseDPI = 144
	}
	if c.Margin <= 0 {
		c.Margin = 80
	}
	if c.FallbackLevel <= 0 {
		c.FallbackLevel = 0.8
	}
	if c.MinUsableWidth <= 0 {
		c.MinUsableWidth = 100
	}
	if c.Buffer <= 0 {
		c.Buffer = 4
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Defaults returns c with every unset field filled in.
func (c Config) Defaults() Config {
	c.defaults()
	return c
}

// FitWidthLevel returns the zoom level at which a page docWidth points wide
// fills availableWidth pixels minus the margin.
func (c Config) FitWidthLevel(availableWidth, docWidth float64) float64 {
	c.defaults()
	if availableWidth <= c.MinUsableWidth || docWidth <= 0 {
		return c.FallbackLevel
	}
	level := (availableWidth - c.Margin) / (docWidth * geometry.PixelsPerPoint(c.BaseDPI))
	if level <= 0 {
		return c.FallbackLevel
	}
	return level
}

// Run is one production run.
type Run struct {
	Generation uint64
	Document   raster.Document

	state     atomic.Int32
	cancelled atomic.Bool
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func newRun(gen uint64, doc raster.Document) *Run {
	r := &Run{
		Generation: gen,
		Document:   doc,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	r.state.Store(int32(Loading))
	return r
}

// Cancel requests the producer to stop. It returns immediately. Idempotent.
func (r *Run) Cancel() {
	r.stopOnce.Do(func() {
		r.cancelled.Store(true)
		close(r.stop)
	})
}

// Cancelled reports whether Cancel was called.
func (r *Run) Cancelled() bool { return r.cancelled.Load() }

// State returns the current lifecycle state.
func (r *Run) State() State { return State(r.state.Load()) }

// Done is closed when the producer goroutine has returned.
func (r *Run) Done() <-chan struct{} { return r.done }

// Controller owns the producer side of the pipeline. At most one run is
// active at a time.
type Controller struct {
	cfg Config
	src raster.Source
	out chan Delivery

	generation atomic.Uint64

	mu  sync.Mutex
	run *Run
}

// New creates a Controller reading pages from src.
func New(src raster.Source, cfg Config) *Controller {
	cfg.defaults()
	return &Controller{
		cfg: cfg,
		src: src,
		out: make(chan Delivery, cfg.Buffer),
	}
}

// Config returns the effective configuration.
func (c *Controller) Config() Config { return c.cfg }

// Deliveries is the hand-off channel shared by all runs. It is never closed.
func (c *Controller) Deliveries() <-chan Delivery { return c.out }

// Generation returns the generation of the most recent run (0 before any).
func (c *Controller) Generation() uint64 { return c.generation.Load() }

// Current returns the most recent run, or nil.
func (c *Controller) Current() *Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run
}

// State returns the state of the most recent run, or Idle.
func (c *Controller) State() State {
	if r := c.Current(); r != nil {
		return r.State()
	}
	return Idle
}

// Start cancels the current run, if any, and starts producing doc at zoom.
// availableWidth is only used in FitWidth mode. Opening happens on the
// producer goroutine: document errors arrive as a KindFailed delivery.
func (c *Controller) Start(ctx context.Context, doc raster.Document, zoom Zoom, availableWidth float64) *Run {
	c.mu.Lock()
	if c.run != nil {
		c.run.Cancel()
	}
	run := newRun(c.generation.Add(1), doc)
	c.run = run
	c.mu.Unlock()

	go c.produce(ctx, run, zoom, availableWidth)
	return run
}

// Cancel requests the current run to stop.
func (c *Controller) Cancel() {
	if r := c.Current(); r != nil {
		r.Cancel()
	}
}

func (c *Controller) stopped(ctx context.Context, run *Run) bool {
	return run.Cancelled() || ctx.Err() != nil
}

// send hands d to the consumer unless the run is stopped first.
func (c *Controller) send(ctx context.Context, run *Run, d Delivery) bool {
	d.Generation = run.Generation
	select {
	case c.out <- d:
		return true
	case <-run.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Controller) finish(run *Run, s State) {
	run.state.Store(int32(s))
}

func (c *Controller) fail(ctx context.Context, run *Run, log *slog.Logger, err error) {
	if c.stopped(ctx, run) {
		c.finish(run, Cancelled)
		log.Debug("loader: error after cancel ignored", "error", err)
		return
	}
	c.finish(run, Failed)
	log.Error("loader: run failed", "error", err)
	c.send(ctx, run, Delivery{Kind: KindFailed, Err: err})
}

func (c *Controller) produce(ctx context.Context, run *Run, zoom Zoom, availableWidth float64) {
	defer close(run.done)
	log := c.cfg.Logger.With("generation", run.Generation, "path", run.Document.Path)
	start := time.Now()

	total, err := c.src.PageCount(ctx, run.Document)
	if err != nil {
		c.fail(ctx, run, log, fmt.Errorf("%w: page count: %w", ErrDocument, err))
		return
	}
	if total <= 0 {
		c.fail(ctx, run, log, fmt.Errorf("%w: document has no pages", ErrDocument))
		return
	}

	first := c.pageSize(ctx, run, log, 1)
	if zoom.Mode == FitWidth {
		zoom.Level = c.cfg.FitWidthLevel(availableWidth, first.Width)
	}
	if zoom.Level <= 0 {
		zoom.Level = 1
	}
	dpi := c.cfg.BaseDPI * zoom.Level

	log.Info("loader: started", "pages", total, "zoom", zoom.Level, "mode", zoom.Mode.String(), "dpi", dpi)
	if c.stopped(ctx, run) || !c.send(ctx, run, Delivery{Kind: KindOpened, Total: total, Zoom: zoom, FirstPage: first}) {
		c.finish(run, Cancelled)
		return
	}

	for n := 1; n <= total; n++ {
		if c.stopped(ctx, run) {
			c.finish(run, Cancelled)
			log.Info("loader: cancelled", "next_page", n)
			return
		}

		size := first
		if n > 1 {
			size = c.pageSize(ctx, run, log, n)
		}

		img, err := c.src.Rasterize(ctx, run.Document, n, dpi)
		if err != nil {
			c.fail(ctx, run, log, &PageError{Page: n, Err: err})
			return
		}

		// A page rendered after the stop request is never handed off.
		if c.stopped(ctx, run) {
			c.finish(run, Cancelled)
			log.Info("loader: cancelled", "dropped_page", n)
			return
		}

		b := img.Bounds()
		page := &Page{
			Number: n,
			Raster: img,
			Dims: geometry.Dims{
				PixelWidth:  b.Dx(),
				PixelHeight: b.Dy(),
				DocWidth:    size.Width,
				DocHeight:   size.Height,
			},
		}
		if !c.send(ctx, run, Delivery{Kind: KindPage, Total: total, Zoom: zoom, Page: page}) {
			c.finish(run, Cancelled)
			return
		}
		log.Debug("loader: page delivered", "page", n, "total", total)
	}

	c.finish(run, Completed)
	log.Info("loader: completed", "pages", total, "duration", time.Since(start))
	c.send(ctx, run, Delivery{Kind: KindCompleted, Total: total, Zoom: zoom})
}

// pageSize measures one page, falling back to letter size.
func (c *Controller) pageSize(ctx context.Context, run *Run, log *slog.Logger, page int) geometry.DocSize {
	w, h, err := c.src.PageSize(ctx, run.Document, page)
	if err != nil || w <= 0 || h <= 0 {
		log.Warn("loader: page size unavailable, using letter", "page", page, "error", err)
		return geometry.DocSize{Width: raster.LetterWidth, Height: raster.LetterHeight}
	}
	return geometry.DocSize{Width: w, Height: h}
}
