package overlay

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/docview/geometry"
	"github.com/hazyhaar/docview/idgen"
)

// letter at 144 DPI: 2 px per point.
var letter = geometry.Dims{PixelWidth: 1224, PixelHeight: 1584, DocWidth: 612, DocHeight: 792}

func newTestRegistry() *Registry {
	return NewRegistry(nil, idgen.Prefixed("mk_", idgen.Sequence()))
}

func textMark(page int, x, y float64, text string) Mark {
	return Mark{
		Page:   page,
		Kind:   TextStamp,
		Anchor: geometry.DocPoint{X: x, Y: y},
		Text:   &TextPayload{Text: text, FontSize: 24, Color: Blue},
	}
}

func highlight(page int, r geometry.DocRect) Mark {
	return Mark{
		Page:      page,
		Kind:      SearchHighlight,
		Anchor:    geometry.DocPoint{X: r.X, Y: r.Y},
		Extent:    &geometry.DocSize{Width: r.Width, Height: r.Height},
		Highlight: &HighlightPayload{Query: "q"},
	}
}

func TestValidate(t *testing.T) {
	bad := []Mark{
		{Page: 0, Kind: TextStamp, Text: &TextPayload{Text: "x"}},
		{Page: 1, Kind: TextStamp},
		{Page: 1, Kind: ImageStamp, Image: &ImagePayload{Path: "a.png"}},
		{Page: 1, Kind: LinkStamp, Extent: &geometry.DocSize{Width: 1, Height: 1}},
		{Page: 1, Kind: LinkStamp, Extent: &geometry.DocSize{Width: 1, Height: 1}, Link: &LinkPayload{URL: "javascript:alert(1)"}},
		{Page: 1, Kind: "scribble"},
		{Page: 1, Kind: SearchHighlight, Extent: &geometry.DocSize{Width: -1, Height: 1}},
		{Page: 1, Kind: SearchHighlight, Extent: &geometry.DocSize{Width: math.NaN(), Height: 1}},
		{Page: 1, Kind: LinkStamp, Extent: &geometry.DocSize{Width: 1e9, Height: 1e9}, Link: &LinkPayload{URL: "https://example.com"}},
		{Page: 1, Kind: TextStamp, Anchor: geometry.DocPoint{X: math.Inf(1)}, Text: &TextPayload{Text: "x"}},
	}
	for i, m := range bad {
		if err := m.Validate(); !errors.Is(err, ErrInvalidMark) {
			t.Errorf("case %d: got %v, want ErrInvalidMark", i, err)
		}
	}
	if err := textMark(1, 0, 0, "ok").Validate(); err != nil {
		t.Errorf("valid text mark: %v", err)
	}
	link := Mark{Page: 1, Kind: LinkStamp, Extent: &geometry.DocSize{Width: 50, Height: 12}, Link: &LinkPayload{URL: "https://example.com"}}
	if err := link.Validate(); err != nil {
		t.Errorf("valid link mark: %v", err)
	}
}

func TestAdd_DeferredUntilAttach(t *testing.T) {
	r := newTestRegistry()
	m, err := r.Add(textMark(2, 100, 692, "Hi"))
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != "mk_1" {
		t.Errorf("ID: got %q", m.ID)
	}

	s := NewSurface(letter)
	r.Attach(2, s)
	if s.MarkCount() != 1 {
		t.Fatalf("replayed marks: got %d, want 1", s.MarkCount())
	}

	// Re-attaching does not duplicate.
	r.Attach(2, s)
	if s.MarkCount() != 1 {
		t.Fatalf("after re-attach: got %d, want 1", s.MarkCount())
	}
}

func TestAdd_LiveSurfaceDrawsImmediately(t *testing.T) {
	r := newTestRegistry()
	s := NewSurface(letter)
	r.Attach(1, s)
	if _, err := r.Add(textMark(1, 100, 692, "Hi")); err != nil {
		t.Fatal(err)
	}
	if s.MarkCount() != 1 {
		t.Fatalf("mark count: %d", s.MarkCount())
	}
	if _, err := r.Add(textMark(3, 1, 1, "elsewhere")); err != nil {
		t.Fatal(err)
	}
	if s.MarkCount() != 1 {
		t.Fatal("mark for another page drawn on page 1")
	}
}

func TestAdd_Invalid(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Add(Mark{Page: 1, Kind: TextStamp}); !errors.Is(err, ErrInvalidMark) {
		t.Fatalf("got %v", err)
	}
	if r.Len() != 0 {
		t.Fatal("invalid mark stored")
	}
}

func TestDetachKeepsMarks(t *testing.T) {
	r := newTestRegistry()
	r.Attach(1, NewSurface(letter))
	r.Add(textMark(1, 10, 10, "a"))
	r.ToggleSelection(1)

	r.DetachAll()
	if _, ok := r.Surface(1); ok {
		t.Fatal("surface still attached")
	}
	if r.Len() != 1 || !r.IsSelected(1) {
		t.Fatal("detach dropped marks or selection")
	}

	// Reload: a fresh surface at a different resolution gets everything back.
	half := geometry.Dims{PixelWidth: 612, PixelHeight: 792, DocWidth: 612, DocHeight: 792}
	s := NewSurface(half)
	r.Attach(1, s)
	if s.MarkCount() != 1 || !s.Selected() {
		t.Fatalf("replay: marks=%d selected=%v", s.MarkCount(), s.Selected())
	}
}

func TestClearMarksKeepsSelection(t *testing.T) {
	r := newTestRegistry()
	s := NewSurface(letter)
	r.Attach(1, s)
	r.Add(textMark(1, 10, 10, "a"))
	r.ToggleSelection(1)

	r.ClearMarks()
	if r.Len() != 0 || s.MarkCount() != 0 {
		t.Fatal("marks not cleared")
	}
	if !s.Selected() || !r.IsSelected(1) {
		t.Fatal("selection lost")
	}
}

func TestClearKind(t *testing.T) {
	r := newTestRegistry()
	s := NewSurface(letter)
	r.Attach(1, s)
	r.Add(textMark(1, 10, 10, "keep"))
	r.Add(highlight(1, geometry.DocRect{X: 50, Y: 700, Width: 100, Height: 20}))
	r.Add(highlight(2, geometry.DocRect{X: 50, Y: 700, Width: 100, Height: 20}))

	if n := r.ClearKind(SearchHighlight); n != 2 {
		t.Fatalf("removed %d, want 2", n)
	}
	if s.MarkCount() != 1 {
		t.Fatalf("surface marks after redraw: %d", s.MarkCount())
	}
	all := r.All()
	if len(all) != 1 || all[0].Kind != TextStamp {
		t.Fatalf("remaining: %+v", all)
	}
}

func TestRemove(t *testing.T) {
	r := newTestRegistry()
	a, _ := r.Add(textMark(1, 10, 10, "a"))
	r.Add(textMark(1, 20, 20, "b"))
	if !r.Remove(a.ID) {
		t.Fatal("Remove returned false")
	}
	if r.Remove(a.ID) {
		t.Fatal("second Remove returned true")
	}
	if got := r.Marks(1); len(got) != 1 || got[0].Text.Text != "b" {
		t.Fatalf("marks: %+v", got)
	}
}

func TestSelection(t *testing.T) {
	r := newTestRegistry()
	for _, p := range []int{5, 2, 9, 2, 7} {
		r.ToggleSelection(p)
	}
	if diff := cmp.Diff([]int{5, 7, 9}, r.Selection()); diff != "" {
		t.Fatalf("selection (-want +got):\n%s", diff)
	}
	r.ClearSelection()
	if len(r.Selection()) != 0 {
		t.Fatal("ClearSelection left pages")
	}
}

func TestAllOrdering(t *testing.T) {
	r := newTestRegistry()
	r.Add(textMark(3, 1, 1, "c1"))
	r.Add(textMark(1, 1, 1, "a1"))
	r.Add(textMark(3, 1, 1, "c2"))
	var got []string
	for _, m := range r.All() {
		got = append(got, m.Text.Text)
	}
	if diff := cmp.Diff([]string{"a1", "c1", "c2"}, got); diff != "" {
		t.Fatalf("order (-want +got):\n%s", diff)
	}
}

func TestReset(t *testing.T) {
	r := newTestRegistry()
	r.Attach(1, NewSurface(letter))
	r.Add(textMark(1, 1, 1, "a"))
	r.ToggleSelection(1)
	r.Reset()
	if r.Len() != 0 || len(r.Selection()) != 0 {
		t.Fatal("reset left state")
	}
	if _, ok := r.Surface(1); ok {
		t.Fatal("reset left surfaces")
	}
}

func TestSurface_TextCrossAtAnchor(t *testing.T) {
	s := NewSurface(letter)
	// (100, 692) in document space is pixel (200, 200).
	if err := s.Draw(textMark(1, 100, 692, "Hi")); err != nil {
		t.Fatal(err)
	}
	for _, p := range []image.Point{{194, 200}, {196, 200}} {
		if got := s.layer.RGBAAt(p.X, p.Y); got != markRed {
			t.Errorf("cross pixel %v: got %v", p, got)
		}
	}
	blue := 0
	for y := 150; y < 200; y++ {
		for x := 200; x < 260; x++ {
			if c := s.layer.RGBAAt(x, y); c.B > 0 && c.R == 0 {
				blue++
			}
		}
	}
	if blue == 0 {
		t.Error("no text pixels above the baseline")
	}
}

func TestSurface_Highlight(t *testing.T) {
	s := NewSurface(letter)
	// Pixel rect: x=100, y=(792-720)*2=144, 200x40.
	if err := s.Draw(highlight(1, geometry.DocRect{X: 50, Y: 700, Width: 100, Height: 20})); err != nil {
		t.Fatal(err)
	}
	if c := s.layer.RGBAAt(150, 160); c.A == 0 || c.B != 0 {
		t.Errorf("inside highlight: %v", c)
	}
	if c := s.layer.RGBAAt(150, 190); c.A != 0 {
		t.Errorf("below highlight: %v", c)
	}
}

func TestSurface_OversizedRectsClipped(t *testing.T) {
	// WHAT: Image and link outlines far larger than the page draw in bounded time.
	// WHY: Drawing runs on the viewport goroutine; an unclipped walk stalls every request.
	s := NewSurface(geometry.Dims{PixelWidth: 850, PixelHeight: 1100, DocWidth: 612, DocHeight: 792})
	huge := &geometry.DocSize{Width: 1e9, Height: 1e9}
	marks := []Mark{
		{Page: 1, Kind: LinkStamp, Anchor: geometry.DocPoint{X: 10, Y: 10}, Extent: huge, Link: &LinkPayload{URL: "https://example.com"}},
		{Page: 1, Kind: ImageStamp, Anchor: geometry.DocPoint{X: -1e9, Y: -1e9}, Extent: huge, Image: &ImagePayload{Path: "a.png"}},
	}

	done := make(chan error, 1)
	go func() {
		for _, m := range marks {
			if err := s.Draw(m); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("drawing oversized marks did not finish")
	}
	if s.MarkCount() != 2 {
		t.Errorf("mark count: %d", s.MarkCount())
	}
	// The link's left edge starts at x = 10pt, inside the page.
	x := int(math.Round(10 * 850.0 / 612))
	if c := s.layer.RGBAAt(x, 500); c != linkBlue {
		t.Errorf("link edge at (%d, 500): %v", x, c)
	}
}

func TestSurface_DegenerateDims(t *testing.T) {
	s := NewSurface(geometry.Dims{})
	if err := s.Draw(textMark(1, 1, 1, "a")); !errors.Is(err, geometry.ErrGeometry) {
		t.Fatalf("got %v, want ErrGeometry", err)
	}
	if s.MarkCount() != 0 {
		t.Fatal("failed draw counted")
	}
}

func TestSurface_Composite(t *testing.T) {
	raster := image.NewRGBA(image.Rect(0, 0, 400, 300))
	draw.Draw(raster, raster.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	dims := geometry.Dims{PixelWidth: 400, PixelHeight: 300, DocWidth: 400, DocHeight: 300}

	s := NewSurface(dims)
	out := s.Composite(raster)
	if out == raster {
		t.Fatal("Composite must not return the input")
	}
	if c := out.RGBAAt(200, 150); c != (color.RGBA{0xff, 0xff, 0xff, 0xff}) {
		t.Fatalf("plain composite changed pixels: %v", c)
	}

	s.SetSelected(true)
	out = s.Composite(raster)
	red := 0
	for y := 0; y < 300; y++ {
		for x := 0; x < 400; x++ {
			if c := out.RGBAAt(x, y); c.R > 200 && c.G < 60 && c.B < 60 {
				red++
			}
		}
	}
	if red == 0 {
		t.Fatal("selected composite has no DELETE label")
	}
	if c := raster.RGBAAt(0, 0); c != (color.RGBA{0xff, 0xff, 0xff, 0xff}) {
		t.Fatal("raster was modified")
	}
}
