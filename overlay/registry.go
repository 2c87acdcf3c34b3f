// CLAUDE:SUMMARY Overlay registry: pending marks per page, page selection set, live surfaces; replays everything onto a page when its surface is (re)attached.
// Package overlay keeps user annotations in document space and draws them
// onto whatever page surfaces are currently displayed.
//
// Marks and the selection set belong to the document, not to a rendering:
// a reload detaches every surface, and as pages re-render they are attached
// again and everything recorded for that page is replayed. A mark added for
// a page that has no surface yet is stored and drawn on attach.
//
// The Registry is not safe for concurrent use; it is owned by the viewport's
// foreground goroutine.
package overlay

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/hazyhaar/docview/idgen"
)

// Registry holds marks, the selection and live surfaces.
type Registry struct {
	log      *slog.Logger
	ids      idgen.Generator
	marks    map[int][]Mark
	selected map[int]struct{}
	surfaces map[int]*Surface
}

// NewRegistry creates an empty registry. ids mints mark IDs; nil uses
// prefixed UUIDv7.
func NewRegistry(logger *slog.Logger, ids idgen.Generator) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if ids == nil {
		ids = idgen.Prefixed("mk_", idgen.UUIDv7())
	}
	r := &Registry{log: logger, ids: ids}
	r.Reset()
	return r
}

// Add stores m and draws it at once if its page has a surface. The stored
// mark, with its assigned ID, is returned.
func (r *Registry) Add(m Mark) (Mark, error) {
	if err := m.Validate(); err != nil {
		return Mark{}, err
	}
	if m.ID == "" {
		m.ID = r.ids()
	}
	if m.Extent != nil {
		e := *m.Extent
		m.Extent = &e
	}
	r.marks[m.Page] = append(r.marks[m.Page], m)
	if s, ok := r.surfaces[m.Page]; ok {
		r.draw(s, m)
	}
	return m, nil
}

// Remove deletes the mark with id and redraws its page. It reports whether
// the mark existed.
func (r *Registry) Remove(id string) bool {
	for page, list := range r.marks {
		i := slices.IndexFunc(list, func(m Mark) bool { return m.ID == id })
		if i < 0 {
			continue
		}
		r.marks[page] = slices.Delete(list, i, i+1)
		if len(r.marks[page]) == 0 {
			delete(r.marks, page)
		}
		r.redraw(page)
		return true
	}
	return false
}

// Attach binds s to page and replays every mark and the selection state of
// that page onto it. Attaching again is idempotent: the surface is cleared
// first.
func (r *Registry) Attach(page int, s *Surface) {
	r.surfaces[page] = s
	r.redraw(page)
}

// Detach drops the surface of page. Marks and selection are kept.
func (r *Registry) Detach(page int) {
	delete(r.surfaces, page)
}

// DetachAll drops every surface. Marks and selection are kept.
func (r *Registry) DetachAll() {
	clear(r.surfaces)
}

// Surface returns the live surface of page.
func (r *Registry) Surface(page int) (*Surface, bool) {
	s, ok := r.surfaces[page]
	return s, ok
}

// ClearMarks removes every mark and erases them from live surfaces. The
// selection is unaffected.
func (r *Registry) ClearMarks() {
	clear(r.marks)
	for _, s := range r.surfaces {
		s.Clear()
	}
}

// ClearKind removes the marks of one kind and redraws the affected pages.
// It returns the number of marks removed.
func (r *Registry) ClearKind(k Kind) int {
	n := 0
	for page, list := range r.marks {
		kept := slices.DeleteFunc(list, func(m Mark) bool { return m.Kind == k })
		removed := len(list) - len(kept)
		if removed == 0 {
			continue
		}
		n += removed
		if len(kept) == 0 {
			delete(r.marks, page)
		} else {
			r.marks[page] = kept
		}
		r.redraw(page)
	}
	return n
}

// ToggleSelection flips the membership of page and returns the new state.
func (r *Registry) ToggleSelection(page int) bool {
	_, on := r.selected[page]
	if on {
		delete(r.selected, page)
	} else {
		r.selected[page] = struct{}{}
	}
	if s, ok := r.surfaces[page]; ok {
		s.SetSelected(!on)
	}
	return !on
}

// ClearSelection empties the selection set.
func (r *Registry) ClearSelection() {
	clear(r.selected)
	for _, s := range r.surfaces {
		s.SetSelected(false)
	}
}

// IsSelected reports whether page is in the selection set.
func (r *Registry) IsSelected(page int) bool {
	_, ok := r.selected[page]
	return ok
}

// Selection returns the selected pages in ascending order.
func (r *Registry) Selection() []int {
	out := make([]int, 0, len(r.selected))
	for p := range r.selected {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Marks returns a copy of the marks of page in insertion order.
func (r *Registry) Marks(page int) []Mark {
	return slices.Clone(r.marks[page])
}

// All returns every mark ordered by page, then insertion.
func (r *Registry) All() []Mark {
	pages := make([]int, 0, len(r.marks))
	for p := range r.marks {
		pages = append(pages, p)
	}
	slices.Sort(pages)
	var out []Mark
	for _, p := range pages {
		out = append(out, r.marks[p]...)
	}
	return out
}

// Len returns the number of stored marks.
func (r *Registry) Len() int {
	n := 0
	for _, list := range r.marks {
		n += len(list)
	}
	return n
}

// Reset forgets marks, selection and surfaces.
func (r *Registry) Reset() {
	r.marks = make(map[int][]Mark)
	r.selected = make(map[int]struct{})
	r.surfaces = make(map[int]*Surface)
}

func (r *Registry) redraw(page int) {
	s, ok := r.surfaces[page]
	if !ok {
		return
	}
	s.Clear()
	for _, m := range r.marks[page] {
		r.draw(s, m)
	}
	s.SetSelected(r.IsSelected(page))
}

func (r *Registry) draw(s *Surface, m Mark) {
	if err := s.Draw(m); err != nil {
		r.log.Warn("overlay: draw failed", "page", m.Page, "mark", m.ID, "kind", string(m.Kind), "error", fmt.Errorf("overlay: %w", err))
	}
}
