// CLAUDE:SUMMARY Public Viewport operations: load, reload, clear, zoom, resize, clicks, marks, selection, search, snapshots and composited page images.
package viewport

import (
	"context"
	"fmt"
	"image"

	"github.com/hazyhaar/docview/geometry"
	"github.com/hazyhaar/docview/loader"
	"github.com/hazyhaar/docview/overlay"
	"github.com/hazyhaar/docview/raster"
)

// Load replaces the current document with doc and starts rendering it at
// the current zoom policy. Slots and selection are cleared; marks are kept
// only when doc is the document already loaded. Document errors arrive
// later as an EventLoadFailed.
func (v *Viewport) Load(ctx context.Context, doc raster.Document) error {
	return v.do(ctx, func() { v.load(doc) })
}

// Reload re-renders the current document at zoom, preserving marks and
// selection.
func (v *Viewport) Reload(ctx context.Context, zoom loader.Zoom) error {
	var err error
	if zoom.Mode == loader.Fixed {
		zoom.Level = v.clampZoom(zoom.Level)
	}
	if e := v.do(ctx, func() {
		if v.doc == nil {
			err = ErrNoDocument
			return
		}
		v.setZoom(zoom)
		err = v.reload(zoom)
	}); e != nil {
		return e
	}
	return err
}

// Clear cancels any load and forgets the document, slots, marks and
// selection. Zoom returns to the default.
func (v *Viewport) Clear(ctx context.Context) error {
	return v.do(ctx, v.clear)
}

// SetZoom switches to a fixed zoom level, clamped to [ZoomMin, ZoomMax],
// and reloads if a document is open.
func (v *Viewport) SetZoom(ctx context.Context, level float64) (loader.Zoom, error) {
	var z loader.Zoom
	err := v.do(ctx, func() {
		z = loader.Zoom{Level: v.clampZoom(level), Mode: loader.Fixed}
		v.applyZoom(z)
	})
	return z, err
}

// AdjustZoom adds delta to the current level and switches to fixed zoom.
func (v *Viewport) AdjustZoom(ctx context.Context, delta float64) (loader.Zoom, error) {
	var z loader.Zoom
	err := v.do(ctx, func() {
		z = loader.Zoom{Level: v.clampZoom(v.zoom.Level + delta), Mode: loader.Fixed}
		v.applyZoom(z)
	})
	return z, err
}

// SetFitWidth switches to fit-width zoom and reloads if a document is open.
func (v *Viewport) SetFitWidth(ctx context.Context) error {
	return v.do(ctx, func() {
		v.applyZoom(loader.Zoom{Level: v.zoom.Level, Mode: loader.FitWidth})
	})
}

func (v *Viewport) applyZoom(z loader.Zoom) {
	if z == v.zoom && v.status != loader.Failed {
		return
	}
	v.setZoom(z)
	if v.doc != nil {
		v.reload(z)
	}
}

// Zoom returns the current zoom state.
func (v *Viewport) Zoom(ctx context.Context) (loader.Zoom, error) {
	var z loader.Zoom
	err := v.do(ctx, func() { z = v.zoom })
	return z, err
}

// Resize reports the container width. Significant changes are debounced
// and may trigger a fit-width reload once the width settles.
func (v *Viewport) Resize(ctx context.Context, width int) error {
	return v.do(ctx, func() {
		v.width = width
		v.resize.Observe(width)
	})
}

// SetInteractionMode changes how clicks are reported.
func (v *Viewport) SetInteractionMode(ctx context.Context, mode InteractionMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	return v.do(ctx, func() { v.mode = mode })
}

// OnPageClick maps a pixel position on a rendered page to document space,
// emits EventClick and returns the click.
func (v *Viewport) OnPageClick(ctx context.Context, page int, px, py float64) (Click, error) {
	var (
		c   Click
		err error
	)
	if e := v.do(ctx, func() {
		s, ok := v.slot(page)
		if !ok {
			err = fmt.Errorf("%w: %d", ErrNoPage, page)
			return
		}
		var p geometry.DocPoint
		p, err = geometry.PixelToDoc(px, py, s.Page.Dims)
		if err != nil {
			return
		}
		c = Click{Page: page, Point: p, Mode: v.mode}
		v.emit(Event{Type: EventClick, Generation: v.active, Page: page, Point: p, Mode: v.mode})
	}); e != nil {
		return Click{}, e
	}
	return c, err
}

// AddMark records a mark and draws it if its page is on screen.
func (v *Viewport) AddMark(ctx context.Context, m overlay.Mark) (overlay.Mark, error) {
	var (
		out overlay.Mark
		err error
	)
	if e := v.do(ctx, func() {
		if v.doc == nil {
			err = ErrNoDocument
			return
		}
		out, err = v.overlays.Add(m)
	}); e != nil {
		return overlay.Mark{}, e
	}
	return out, err
}

// RemoveMark deletes one mark by ID.
func (v *Viewport) RemoveMark(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := v.do(ctx, func() { ok = v.overlays.Remove(id) })
	return ok, err
}

// ClearMarks removes every pending mark. Selection is kept.
func (v *Viewport) ClearMarks(ctx context.Context) error {
	return v.do(ctx, v.overlays.ClearMarks)
}

// ClearKind removes the pending marks of one kind.
func (v *Viewport) ClearKind(ctx context.Context, kind overlay.Kind) (int, error) {
	var n int
	err := v.do(ctx, func() { n = v.overlays.ClearKind(kind) })
	return n, err
}

// Marks returns every pending mark ordered by page.
func (v *Viewport) Marks(ctx context.Context) ([]overlay.Mark, error) {
	var out []overlay.Mark
	err := v.do(ctx, func() { out = v.overlays.All() })
	return out, err
}

// ToggleSelection flips page in the selection set and returns its new state.
func (v *Viewport) ToggleSelection(ctx context.Context, page int) (bool, error) {
	var (
		on  bool
		err error
	)
	if e := v.do(ctx, func() {
		if v.doc == nil {
			err = ErrNoDocument
			return
		}
		if page < 1 || (v.total > 0 && page > v.total) {
			err = fmt.Errorf("%w: %d", ErrNoPage, page)
			return
		}
		on = v.overlays.ToggleSelection(page)
	}); e != nil {
		return false, e
	}
	return on, err
}

// Selection returns the selected pages in ascending order.
func (v *Viewport) Selection(ctx context.Context) ([]int, error) {
	var out []int
	err := v.do(ctx, func() { out = v.overlays.Selection() })
	return out, err
}

// Search runs the search collaborator on the current document and replaces
// the search highlights with its matches. An empty query only clears them.
func (v *Viewport) Search(ctx context.Context, query string) ([]geometry.PageRect, error) {
	var path string
	if err := v.do(ctx, func() {
		if v.doc != nil {
			path = v.doc.Path
		}
	}); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, ErrNoDocument
	}

	var matches []geometry.PageRect
	if query != "" {
		if v.cfg.Searcher == nil {
			return nil, ErrNoSearcher
		}
		var err error
		// Runs outside the foreground goroutine.
		matches, err = v.cfg.Searcher.Search(ctx, path, query)
		if err != nil {
			return nil, fmt.Errorf("viewport: search: %w", err)
		}
	}

	var err error
	if e := v.do(ctx, func() {
		if v.doc == nil || v.doc.Path != path {
			err = ErrNoDocument
			return
		}
		v.overlays.ClearKind(overlay.SearchHighlight)
		for _, m := range matches {
			r := m.Rect
			if _, aerr := v.overlays.Add(overlay.Mark{
				Page:      m.Page,
				Kind:      overlay.SearchHighlight,
				Anchor:    geometry.DocPoint{X: r.X, Y: r.Y},
				Extent:    &geometry.DocSize{Width: r.Width, Height: r.Height},
				Highlight: &overlay.HighlightPayload{Query: query},
			}); aerr != nil {
				v.log.Warn("viewport: search match skipped", "page", m.Page, "error", aerr)
			}
		}
	}); e != nil {
		return nil, e
	}
	return matches, err
}

// PageImage returns the raster of page with its overlays composited.
func (v *Viewport) PageImage(ctx context.Context, page int) (image.Image, error) {
	var (
		img image.Image
		err error
	)
	if e := v.do(ctx, func() {
		s, ok := v.slot(page)
		if !ok {
			err = fmt.Errorf("%w: %d", ErrNoPage, page)
			return
		}
		img = s.Surface.Composite(s.Page.Raster)
	}); e != nil {
		return nil, e
	}
	return img, err
}

// PageInfo describes one rendered page.
type PageInfo struct {
	Page     int           `json:"page"`
	Dims     geometry.Dims `json:"dims"`
	Selected bool          `json:"selected"`
	Marks    int           `json:"marks"`
}

// Snapshot is a consistent copy of the viewport state.
type Snapshot struct {
	Document   string          `json:"document,omitempty"`
	Generation uint64          `json:"generation"`
	State      string          `json:"state"`
	Zoom       loader.Zoom     `json:"zoom"`
	ZoomMode   string          `json:"zoom_mode"`
	Mode       InteractionMode `json:"mode"`
	Width      int             `json:"width"`
	Total      int             `json:"total"`
	Pages      []PageInfo      `json:"pages"`
	Selection  []int           `json:"selection"`
	Marks      int             `json:"marks"`
	Dropped    uint64          `json:"dropped"`
	Error      string          `json:"error,omitempty"`
}

// Snapshot returns the current state.
func (v *Viewport) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := v.do(ctx, func() { s = v.snapshot() })
	return s, err
}

func (v *Viewport) snapshot() Snapshot {
	s := Snapshot{
		Generation: v.active,
		State:      v.status.String(),
		Zoom:       v.zoom,
		ZoomMode:   v.zoom.Mode.String(),
		Mode:       v.mode,
		Width:      v.width,
		Total:      v.total,
		Pages:      make([]PageInfo, 0, len(v.slots)),
		Selection:  v.overlays.Selection(),
		Marks:      v.overlays.Len(),
		Dropped:    v.dropped,
	}
	if v.doc != nil {
		s.Document = v.doc.Path
	}
	if v.lastErr != nil {
		s.Error = v.lastErr.Error()
	}
	for _, slot := range v.slots {
		s.Pages = append(s.Pages, PageInfo{
			Page:     slot.Page.Number,
			Dims:     slot.Page.Dims,
			Selected: slot.Surface.Selected(),
			Marks:    slot.Surface.MarkCount(),
		})
	}
	return s
}
