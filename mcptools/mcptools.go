// CLAUDE:SUMMARY Viewer operations shared by the MCP and HTTP shells: load, zoom, resize, clicks, marks, selection, search, commit; every client path confined to a root.
// Package mcptools exposes a running viewport.Viewport to clients. Tools
// holds one typed method per operation; RegisterMCP binds each of them to
// an MCP tool through kit, and cmd/docview binds the same methods to HTTP
// routes.
//
// Client paths (documents, stamp images, commit outputs) are resolved
// under Config.Root with horosafe.SafePath.
package mcptools

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/hazyhaar/docview/docsvc"
	"github.com/hazyhaar/docview/geometry"
	"github.com/hazyhaar/docview/horosafe"
	"github.com/hazyhaar/docview/loader"
	"github.com/hazyhaar/docview/overlay"
	"github.com/hazyhaar/docview/raster"
	"github.com/hazyhaar/docview/viewport"
)

// ErrBadRequest wraps argument errors detected before reaching the viewport.
var ErrBadRequest = errors.New("mcptools: bad request")

// Config tunes Tools.
type Config struct {
	// Root confines every client path. Default: ".".
	Root string `yaml:"root"`
	// DefaultFontSize applies to text stamps sent without a size. Default: 12.
	DefaultFontSize float64 `yaml:"default_font_size"`
	// ZoomStep is the level change of one zoom step. Default: 0.1.
	ZoomStep float64 `yaml:"zoom_step"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Root == "" {
		c.Root = "."
	}
	if c.DefaultFontSize <= 0 {
		c.DefaultFontSize = 12
	}
	if c.ZoomStep <= 0 {
		c.ZoomStep = 0.1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Tools binds a viewport to the document service.
type Tools struct {
	vp   *viewport.Viewport
	docs *docsvc.Service
	cfg  Config
	log  *slog.Logger
}

// New creates Tools over vp. docs may be nil, in which case commit and
// page deletion fail with docsvc.ErrUnsupported.
func New(vp *viewport.Viewport, docs *docsvc.Service, cfg Config) *Tools {
	cfg.defaults()
	return &Tools{vp: vp, docs: docs, cfg: cfg, log: cfg.Logger}
}

// Root returns the directory client paths are resolved under.
func (t *Tools) Root() string { return t.cfg.Root }

func (t *Tools) path(p string) (string, error) {
	full, err := horosafe.SafePath(t.cfg.Root, p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return full, nil
}

// --- document ---

// LoadReq names a document under the root.
type LoadReq struct {
	Path string `json:"path"`
}

// Load opens the document and starts rendering it.
func (t *Tools) Load(ctx context.Context, r LoadReq) (viewport.Snapshot, error) {
	full, err := t.path(r.Path)
	if err != nil {
		return viewport.Snapshot{}, err
	}
	return t.open(ctx, full)
}

func (t *Tools) open(ctx context.Context, full string) (viewport.Snapshot, error) {
	doc, err := raster.Open(full)
	if err != nil {
		return viewport.Snapshot{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if err := t.vp.Load(ctx, doc); err != nil {
		return viewport.Snapshot{}, err
	}
	return t.vp.Snapshot(ctx)
}

// Reload re-renders the current document at the current zoom.
func (t *Tools) Reload(ctx context.Context) (viewport.Snapshot, error) {
	z, err := t.vp.Zoom(ctx)
	if err != nil {
		return viewport.Snapshot{}, err
	}
	if err := t.vp.Reload(ctx, z); err != nil {
		return viewport.Snapshot{}, err
	}
	return t.vp.Snapshot(ctx)
}

// Clear forgets the document.
func (t *Tools) Clear(ctx context.Context) (viewport.Snapshot, error) {
	if err := t.vp.Clear(ctx); err != nil {
		return viewport.Snapshot{}, err
	}
	return t.vp.Snapshot(ctx)
}

// State returns the viewport snapshot.
func (t *Tools) State(ctx context.Context) (viewport.Snapshot, error) {
	return t.vp.Snapshot(ctx)
}

// PageImage returns a rendered page with its overlays composited.
func (t *Tools) PageImage(ctx context.Context, page int) (image.Image, error) {
	return t.vp.PageImage(ctx, page)
}

// --- zoom, resize, mode ---

// ZoomReq sets exactly one of Level, Delta, Steps or FitWidth. Steps counts
// zoom steps; negative values zoom out.
type ZoomReq struct {
	Level    *float64 `json:"level,omitempty"`
	Delta    *float64 `json:"delta,omitempty"`
	Steps    *int     `json:"steps,omitempty"`
	FitWidth bool     `json:"fit_width,omitempty"`
}

// Zoom applies a fixed level, a relative change or fit-width.
func (t *Tools) Zoom(ctx context.Context, r ZoomReq) (loader.Zoom, error) {
	n := 0
	if r.Level != nil {
		n++
	}
	if r.Delta != nil {
		n++
	}
	if r.Steps != nil {
		n++
	}
	if r.FitWidth {
		n++
	}
	if n != 1 {
		return loader.Zoom{}, fmt.Errorf("%w: set exactly one of level, delta, steps, fit_width", ErrBadRequest)
	}
	switch {
	case r.Level != nil:
		if *r.Level <= 0 {
			return loader.Zoom{}, fmt.Errorf("%w: level must be positive", ErrBadRequest)
		}
		return t.vp.SetZoom(ctx, *r.Level)
	case r.Delta != nil:
		return t.vp.AdjustZoom(ctx, *r.Delta)
	case r.Steps != nil:
		return t.vp.AdjustZoom(ctx, float64(*r.Steps)*t.cfg.ZoomStep)
	default:
		if err := t.vp.SetFitWidth(ctx); err != nil {
			return loader.Zoom{}, err
		}
		return t.vp.Zoom(ctx)
	}
}

// ResizeReq reports the container width in pixels.
type ResizeReq struct {
	Width int `json:"width"`
}

// Resize forwards the width to the debounced resize handling.
func (t *Tools) Resize(ctx context.Context, r ResizeReq) (map[string]int, error) {
	if r.Width < 0 {
		return nil, fmt.Errorf("%w: negative width", ErrBadRequest)
	}
	if err := t.vp.Resize(ctx, r.Width); err != nil {
		return nil, err
	}
	return map[string]int{"width": r.Width}, nil
}

// ModeReq selects an interaction mode.
type ModeReq struct {
	Mode string `json:"mode"`
}

func (t *Tools) Mode(ctx context.Context, r ModeReq) (map[string]string, error) {
	if err := t.vp.SetInteractionMode(ctx, viewport.InteractionMode(r.Mode)); err != nil {
		return nil, err
	}
	return map[string]string{"mode": r.Mode}, nil
}

// ClickReq is a pixel position on a rendered page.
type ClickReq struct {
	Page int     `json:"page"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// Click maps the pixel position to document space.
func (t *Tools) Click(ctx context.Context, r ClickReq) (viewport.Click, error) {
	return t.vp.OnPageClick(ctx, r.Page, r.X, r.Y)
}

// --- marks ---

// TextReq places a text stamp with its baseline-left corner at (X, Y) in
// document space.
type TextReq struct {
	Page     int          `json:"page"`
	X        float64      `json:"x"`
	Y        float64      `json:"y"`
	Text     string       `json:"text"`
	FontSize float64      `json:"font_size,omitempty"`
	Color    *overlay.RGB `json:"color,omitempty"`
}

func (t *Tools) AddText(ctx context.Context, r TextReq) (overlay.Mark, error) {
	size := r.FontSize
	if size <= 0 {
		size = t.cfg.DefaultFontSize
	}
	col := overlay.Blue
	if r.Color != nil {
		col = *r.Color
	}
	return t.vp.AddMark(ctx, overlay.Mark{
		Page:   r.Page,
		Kind:   overlay.TextStamp,
		Anchor: geometry.DocPoint{X: r.X, Y: r.Y},
		Text:   &overlay.TextPayload{Text: r.Text, FontSize: size, Color: col},
	})
}

// BoxReq places a rectangular stamp whose lower-left corner is (X, Y).
type BoxReq struct {
	Page   int     `json:"page"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Path   string  `json:"path,omitempty"`
	URL    string  `json:"url,omitempty"`
}

func (r BoxReq) mark(kind overlay.Kind) overlay.Mark {
	return overlay.Mark{
		Page:   r.Page,
		Kind:   kind,
		Anchor: geometry.DocPoint{X: r.X, Y: r.Y},
		Extent: &geometry.DocSize{Width: r.Width, Height: r.Height},
	}
}

// AddImage places an image stamp. Path is resolved under the root.
func (t *Tools) AddImage(ctx context.Context, r BoxReq) (overlay.Mark, error) {
	full, err := t.path(r.Path)
	if err != nil {
		return overlay.Mark{}, err
	}
	m := r.mark(overlay.ImageStamp)
	m.Image = &overlay.ImagePayload{Path: full}
	return t.vp.AddMark(ctx, m)
}

// AddLink places a link region, written as a URI annotation on commit.
func (t *Tools) AddLink(ctx context.Context, r BoxReq) (overlay.Mark, error) {
	m := r.mark(overlay.LinkStamp)
	m.Link = &overlay.LinkPayload{URL: r.URL}
	return t.vp.AddMark(ctx, m)
}

// MarksResp lists pending marks.
type MarksResp struct {
	Marks []overlay.Mark `json:"marks"`
}

func (t *Tools) Marks(ctx context.Context) (MarksResp, error) {
	ms, err := t.vp.Marks(ctx)
	if ms == nil {
		ms = []overlay.Mark{}
	}
	return MarksResp{Marks: ms}, err
}

// RemoveMarkReq names one mark.
type RemoveMarkReq struct {
	ID string `json:"id"`
}

func (t *Tools) RemoveMark(ctx context.Context, r RemoveMarkReq) (map[string]bool, error) {
	ok, err := t.vp.RemoveMark(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"removed": ok}, nil
}

// ClearMarksReq optionally restricts clearing to one kind.
type ClearMarksReq struct {
	Kind string `json:"kind,omitempty"`
}

func (t *Tools) ClearMarks(ctx context.Context, r ClearMarksReq) (map[string]int, error) {
	if r.Kind == "" {
		ms, err := t.vp.Marks(ctx)
		if err != nil {
			return nil, err
		}
		if err := t.vp.ClearMarks(ctx); err != nil {
			return nil, err
		}
		return map[string]int{"removed": len(ms)}, nil
	}
	k := overlay.Kind(r.Kind)
	if !k.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrBadRequest, r.Kind)
	}
	n, err := t.vp.ClearKind(ctx, k)
	if err != nil {
		return nil, err
	}
	return map[string]int{"removed": n}, nil
}

// --- selection, search ---

// PageReq names one page.
type PageReq struct {
	Page int `json:"page"`
}

// SelectionResp reports the selection after a toggle.
type SelectionResp struct {
	Page      int   `json:"page"`
	Selected  bool  `json:"selected"`
	Selection []int `json:"selection"`
}

func (t *Tools) ToggleSelection(ctx context.Context, r PageReq) (SelectionResp, error) {
	on, err := t.vp.ToggleSelection(ctx, r.Page)
	if err != nil {
		return SelectionResp{}, err
	}
	sel, err := t.vp.Selection(ctx)
	if sel == nil {
		sel = []int{}
	}
	return SelectionResp{Page: r.Page, Selected: on, Selection: sel}, err
}

// SearchReq is a text query; empty clears the highlights.
type SearchReq struct {
	Query string `json:"query"`
}

// SearchResp lists matches in document space.
type SearchResp struct {
	Query   string              `json:"query"`
	Matches []geometry.PageRect `json:"matches"`
}

func (t *Tools) Search(ctx context.Context, r SearchReq) (SearchResp, error) {
	ms, err := t.vp.Search(ctx, r.Query)
	if err != nil {
		return SearchResp{}, err
	}
	if ms == nil {
		ms = []geometry.PageRect{}
	}
	return SearchResp{Query: r.Query, Matches: ms}, nil
}

// --- document mutation ---

// OutputReq names the file a mutation writes, under the root.
type OutputReq struct {
	Output string `json:"output"`
}

// CommitResp reports a written document.
type CommitResp struct {
	Output string `json:"output"`
	docsvc.CommitResult
	State viewport.Snapshot `json:"state"`
}

func (t *Tools) current(ctx context.Context) (string, error) {
	s, err := t.vp.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	if s.Document == "" {
		return "", viewport.ErrNoDocument
	}
	return s.Document, nil
}

// Commit writes the current document with its text, image and link marks
// to Output, drops the applied marks and opens Output in the viewer.
func (t *Tools) Commit(ctx context.Context, r OutputReq) (CommitResp, error) {
	if t.docs == nil {
		return CommitResp{}, docsvc.ErrUnsupported
	}
	out, err := t.path(r.Output)
	if err != nil {
		return CommitResp{}, err
	}
	in, err := t.current(ctx)
	if err != nil {
		return CommitResp{}, err
	}
	marks, err := t.vp.Marks(ctx)
	if err != nil {
		return CommitResp{}, err
	}
	res, err := docsvc.Commit(ctx, t.docs, in, out, marks)
	if err != nil {
		return CommitResp{}, err
	}
	t.log.Info("mcptools: committed", "document", in, "output", out, "applied", len(res.Applied), "skipped", len(res.Skipped))
	for _, id := range res.Applied {
		if _, err := t.vp.RemoveMark(ctx, id); err != nil {
			return CommitResp{}, err
		}
	}
	snap, err := t.open(ctx, out)
	if err != nil {
		return CommitResp{}, fmt.Errorf("mcptools: open committed %s: %w", out, err)
	}
	return CommitResp{Output: out, CommitResult: res, State: snap}, nil
}

// DeleteResp reports a page deletion.
type DeleteResp struct {
	Output  string            `json:"output"`
	Deleted []int             `json:"deleted"`
	State   viewport.Snapshot `json:"state"`
}

// DeleteSelected writes the current document without its selected pages
// and opens the result, which clears the selection.
func (t *Tools) DeleteSelected(ctx context.Context, r OutputReq) (DeleteResp, error) {
	if t.docs == nil {
		return DeleteResp{}, docsvc.ErrUnsupported
	}
	out, err := t.path(r.Output)
	if err != nil {
		return DeleteResp{}, err
	}
	in, err := t.current(ctx)
	if err != nil {
		return DeleteResp{}, err
	}
	sel, err := t.vp.Selection(ctx)
	if err != nil {
		return DeleteResp{}, err
	}
	if len(sel) == 0 {
		return DeleteResp{}, fmt.Errorf("%w: no page selected", ErrBadRequest)
	}
	if in == out {
		return DeleteResp{}, fmt.Errorf("%w: output must differ from the open document", ErrBadRequest)
	}
	if err := t.docs.DeletePages(ctx, in, out, sel); err != nil {
		return DeleteResp{}, err
	}
	snap, err := t.open(ctx, out)
	if err != nil {
		return DeleteResp{}, fmt.Errorf("mcptools: open trimmed %s: %w", out, err)
	}
	return DeleteResp{Output: out, Deleted: sel, State: snap}, nil
}
