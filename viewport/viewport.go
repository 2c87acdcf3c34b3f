// CLAUDE:SUMMARY Viewport composition root: foreground actor loop owning page slots, zoom state, overlays and the loader; public methods post closures to it.
// Package viewport is the composition root of the viewer engine.
//
// A Viewport owns one loader.Controller, one overlay.Registry, the zoom
// state, the sorted arena of rendered page slots and the resize debouncer.
// All of that state is mutated on a single goroutine, the one executing Run.
// Public methods post a closure to that goroutine and wait for it; loader
// deliveries arrive on the same select and are applied only when their
// generation is the active one.
//
//	v := viewport.New(src, viewport.Config{Handler: onEvent})
//	go v.Run(ctx)
//	v.Load(ctx, doc)
package viewport

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/hazyhaar/docview/debounce"
	"github.com/hazyhaar/docview/geometry"
	"github.com/hazyhaar/docview/idgen"
	"github.com/hazyhaar/docview/loader"
	"github.com/hazyhaar/docview/overlay"
	"github.com/hazyhaar/docview/raster"
)

var (
	// ErrStopped is returned once Run has returned.
	ErrStopped = errors.New("viewport: stopped")
	// ErrRunning is returned by a second call to Run.
	ErrRunning = errors.New("viewport: already running")
	// ErrNoDocument is returned by operations that need a loaded document.
	ErrNoDocument = errors.New("viewport: no document loaded")
	// ErrNoPage is returned when a page has no rendered slot.
	ErrNoPage = errors.New("viewport: page not rendered")
	// ErrInvalidMode is returned for unknown interaction modes.
	ErrInvalidMode = errors.New("viewport: invalid interaction mode")
	// ErrNoSearcher is returned by Search without a configured Searcher.
	ErrNoSearcher = errors.New("viewport: no search collaborator")
)

// Searcher finds text in a document. Rects are in document space with the
// lower-left anchor convention.
type Searcher interface {
	Search(ctx context.Context, path, query string) ([]geometry.PageRect, error)
}

// Config tunes a Viewport.
type Config struct {
	Loader loader.Config   `yaml:"loader"`
	Resize debounce.Config `yaml:"resize"`

	// ZoomTolerance is the minimum fit-width level change that triggers a
	// reload after a resize settles. Default: 0.05.
	ZoomTolerance float64 `yaml:"zoom_tolerance"`
	// ZoomMin and ZoomMax clamp explicit zoom changes. Defaults: 0.1, 5.0.
	ZoomMin float64 `yaml:"zoom_min"`
	ZoomMax float64 `yaml:"zoom_max"`
	// DefaultZoom is used initially and after Clear. Default: fit width.
	DefaultZoom loader.Zoom `yaml:"default_zoom"`
	// InitialWidth is the container width before the first Resize.
	InitialWidth int `yaml:"initial_width"`

	Handler  Handler         `yaml:"-"`
	Searcher Searcher        `yaml:"-"`
	MarkIDs  idgen.Generator `yaml:"-"`
	Logger   *slog.Logger    `yaml:"-"`
}

func (c *Config) defaults() {
	if c.ZoomTolerance <= 0 {
		c.ZoomTolerance = 0.05
	}
	if c.ZoomMin <= 0 {
		c.ZoomMin = 0.1
	}
	if c.ZoomMax <= 0 {
		c.ZoomMax = 5.0
	}
	if c.DefaultZoom.Level <= 0 {
		c.DefaultZoom = loader.Zoom{Level: 1, Mode: loader.FitWidth}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Loader.Logger == nil {
		c.Loader.Logger = c.Logger
	}
	if c.Resize.Logger == nil {
		c.Resize.Logger = c.Logger
	}
}

// PageSlot is one rendered page in the arena.
type PageSlot struct {
	Page    loader.Page
	Surface *overlay.Surface
}

// Viewport is safe for concurrent use once Run is executing.
type Viewport struct {
	cfg      Config
	log      *slog.Logger
	loader   *loader.Controller
	overlays *overlay.Registry
	resize   *debounce.Debouncer

	cmds    chan func()
	started atomic.Bool
	stopped chan struct{}

	// Owned by the Run goroutine.
	lifetime  context.Context
	doc       *raster.Document
	zoom      loader.Zoom
	firstPage geometry.DocSize
	total     int
	slots     []PageSlot
	mode      InteractionMode
	active    uint64
	status    loader.State
	width     int
	lastErr   error
	dropped   uint64
}

// New creates a Viewport rendering pages from src. Call Run to start it.
func New(src raster.Source, cfg Config) *Viewport {
	cfg.defaults()
	v := &Viewport{
		cfg:      cfg,
		log:      cfg.Logger,
		loader:   loader.New(src, cfg.Loader),
		overlays: overlay.NewRegistry(cfg.Logger, cfg.MarkIDs),
		cmds:     make(chan func()),
		stopped:  make(chan struct{}),
		lifetime: context.Background(),
		zoom:     cfg.DefaultZoom,
		mode:     ModeView,
		status:   loader.Idle,
		width:    cfg.InitialWidth,
	}
	v.resize = debounce.New(cfg.Resize, func() { v.post(v.settle) })
	if cfg.InitialWidth > 0 {
		v.resize.SetBaseline(cfg.InitialWidth)
	}
	return v
}

// Run executes the foreground loop until ctx ends. Producer runs are bound
// to ctx as well.
func (v *Viewport) Run(ctx context.Context) error {
	if !v.started.CompareAndSwap(false, true) {
		return ErrRunning
	}
	v.lifetime = ctx
	defer close(v.stopped)
	defer v.resize.Stop()
	defer v.loader.Cancel()

	v.log.Info("viewport: running")
	for {
		select {
		case <-ctx.Done():
			v.log.Info("viewport: stopped", "reason", ctx.Err())
			return ctx.Err()
		case fn := <-v.cmds:
			fn()
		case d := <-v.loader.Deliveries():
			v.deliver(d)
		}
	}
}

// Done is closed when Run has returned.
func (v *Viewport) Done() <-chan struct{} { return v.stopped }

// do runs fn on the foreground goroutine and waits for it.
func (v *Viewport) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case v.cmds <- func() { fn(); close(done) }:
	case <-v.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-v.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting for it to run. Used from timer goroutines.
func (v *Viewport) post(fn func()) {
	select {
	case v.cmds <- fn:
	case <-v.stopped:
	}
}

func (v *Viewport) emit(e Event) {
	if e.Document == "" && v.doc != nil {
		e.Document = v.doc.Path
	}
	v.log.Debug("viewport: event", "event", e.String())
	if v.cfg.Handler != nil {
		v.cfg.Handler(e)
	}
}
