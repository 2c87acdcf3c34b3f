// CLAUDE:SUMMARY Foreground side of the load pipeline: stop-then-clear run switching, generation filtering, sorted slot insertion, overlay replay, resize settling.
package viewport

import (
	"cmp"
	"errors"
	"math"
	"slices"

	"github.com/hazyhaar/docview/geometry"
	"github.com/hazyhaar/docview/loader"
	"github.com/hazyhaar/docview/overlay"
	"github.com/hazyhaar/docview/raster"
)

// supersede requests the active run to stop and forgets its generation.
// Anything it still delivers is dropped as stale.
func (v *Viewport) supersede() {
	if v.active == 0 {
		return
	}
	old := v.active
	v.loader.Cancel()
	v.active = 0
	if v.status == loader.Loading {
		v.status = loader.Cancelled
		v.emit(Event{Type: EventLoadCancelled, Generation: old})
	}
}

// clearSlots drops every rendered page. Overlay state is kept.
func (v *Viewport) clearSlots() {
	v.overlays.DetachAll()
	v.slots = nil
}

func (v *Viewport) load(doc raster.Document) {
	sameDoc := v.doc != nil && v.doc.Path == doc.Path
	v.supersede()
	v.clearSlots()
	v.overlays.ClearSelection()
	if !sameDoc {
		v.overlays.ClearMarks()
	}
	v.doc = &doc
	v.total = 0
	v.firstPage = geometry.DocSize{}
	v.lastErr = nil
	v.start(v.zoom)
}

func (v *Viewport) reload(zoom loader.Zoom) error {
	if v.doc == nil {
		return ErrNoDocument
	}
	v.supersede()
	v.clearSlots()
	v.lastErr = nil
	v.start(zoom)
	return nil
}

func (v *Viewport) start(zoom loader.Zoom) {
	run := v.loader.Start(v.lifetime, *v.doc, zoom, float64(v.width))
	v.active = run.Generation
	v.status = loader.Loading
	v.log.Info("viewport: load started", "generation", run.Generation, "path", v.doc.Path, "zoom", zoom.Level, "mode", zoom.Mode.String(), "width", v.width)
	v.emit(Event{Type: EventLoadStarted, Generation: run.Generation, Zoom: zoom})
}

func (v *Viewport) clear() {
	v.supersede()
	v.resize.Cancel()
	v.clearSlots()
	v.overlays.Reset()
	v.doc = nil
	v.total = 0
	v.firstPage = geometry.DocSize{}
	v.lastErr = nil
	v.status = loader.Idle
	v.setZoom(v.cfg.DefaultZoom)
}

// setZoom records the zoom policy and signals a change.
func (v *Viewport) setZoom(z loader.Zoom) {
	if z == v.zoom {
		return
	}
	v.zoom = z
	v.emit(Event{Type: EventZoomChanged, Generation: v.active, Zoom: z})
}

// deliver applies one message from a producer.
func (v *Viewport) deliver(d loader.Delivery) {
	if v.active == 0 || d.Generation != v.active {
		v.dropped++
		v.log.Debug("viewport: stale delivery dropped", "generation", d.Generation, "active", v.active, "kind", d.Kind.String())
		return
	}

	switch d.Kind {
	case loader.KindOpened:
		v.total = d.Total
		v.firstPage = d.FirstPage
		v.setZoom(d.Zoom)

	case loader.KindPage:
		if d.Page == nil {
			return
		}
		v.insert(*d.Page)
		v.emit(Event{Type: EventPageAvailable, Generation: d.Generation, Page: d.Page.Number, Total: d.Total})

	case loader.KindCompleted:
		v.status = loader.Completed
		v.log.Info("viewport: load completed", "generation", d.Generation, "pages", len(v.slots))
		v.emit(Event{Type: EventLoadCompleted, Generation: d.Generation, Total: d.Total})

	case loader.KindFailed:
		v.status = loader.Failed
		v.lastErr = d.Err
		gen := d.Generation
		if errors.Is(d.Err, loader.ErrDocument) {
			// Nothing of this document can be shown.
			path := v.doc.Path
			v.clearSlots()
			v.overlays.Reset()
			v.doc = nil
			v.total = 0
			v.log.Warn("viewport: document error", "generation", gen, "path", path, "error", d.Err)
			v.emit(Event{Type: EventLoadFailed, Generation: gen, Document: path, Err: d.Err})
			return
		}
		v.log.Warn("viewport: load failed, keeping rendered pages", "generation", gen, "pages", len(v.slots), "error", d.Err)
		v.emit(Event{Type: EventLoadFailed, Generation: gen, Err: d.Err})
	}
}

// insert places page in the arena by page number, replacing a duplicate,
// and replays its overlays.
func (v *Viewport) insert(page loader.Page) {
	slot := PageSlot{Page: page, Surface: overlay.NewSurface(page.Dims)}
	i, found := slices.BinarySearchFunc(v.slots, page.Number, func(s PageSlot, n int) int {
		return cmp.Compare(s.Page.Number, n)
	})
	if found {
		v.slots[i] = slot
	} else {
		v.slots = slices.Insert(v.slots, i, slot)
	}
	v.overlays.Attach(page.Number, slot.Surface)
}

func (v *Viewport) slot(page int) (PageSlot, bool) {
	i, found := slices.BinarySearchFunc(v.slots, page, func(s PageSlot, n int) int {
		return cmp.Compare(s.Page.Number, n)
	})
	if !found {
		return PageSlot{}, false
	}
	return v.slots[i], true
}

// settle runs when a resize burst is over. It refits against the current
// width and reloads only if the level moved by more than the tolerance.
func (v *Viewport) settle() {
	if v.doc == nil || v.zoom.Mode != loader.FitWidth || v.firstPage.Width <= 0 {
		return
	}
	lc := v.loader.Config()
	if float64(v.width) <= lc.MinUsableWidth {
		return
	}
	level := lc.FitWidthLevel(float64(v.width), v.firstPage.Width)
	if math.Abs(level-v.zoom.Level) <= v.cfg.ZoomTolerance {
		v.log.Debug("viewport: resize within tolerance", "width", v.width, "level", level, "current", v.zoom.Level)
		return
	}
	v.log.Info("viewport: refit after resize", "width", v.width, "from", v.zoom.Level, "to", level)
	v.setZoom(loader.Zoom{Level: level, Mode: loader.FitWidth})
	v.reload(v.zoom)
}

func (v *Viewport) clampZoom(level float64) float64 {
	return math.Max(v.cfg.ZoomMin, math.Min(v.cfg.ZoomMax, level))
}
