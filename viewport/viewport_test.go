package viewport

import (
	"context"
	"errors"
	"image"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/docview/debounce"
	"github.com/hazyhaar/docview/debounce/debouncetest"
	"github.com/hazyhaar/docview/geometry"
	"github.com/hazyhaar/docview/loader"
	"github.com/hazyhaar/docview/overlay"
	"github.com/hazyhaar/docview/raster"
	"github.com/hazyhaar/docview/raster/rastertest"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Event, 1024)}
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	select {
	case r.ch <- e:
	default:
	}
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) count(typ EventType) int {
	n := 0
	for _, e := range r.all() {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// wait consumes events until one matches.
func (r *recorder) wait(t *testing.T, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-r.ch:
			if match(e) {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event; seen: %v", r.all())
			return Event{}
		}
	}
}

func is(typ EventType) func(Event) bool {
	return func(e Event) bool { return e.Type == typ }
}

func pageAvailable(page int) func(Event) bool {
	return func(e Event) bool { return e.Type == EventPageAvailable && e.Page == page }
}

func startViewport(t *testing.T, src raster.Source, cfg Config) (*Viewport, *recorder, context.Context) {
	t.Helper()
	rec := newRecorder()
	cfg.Handler = rec.handle
	v := New(src, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go v.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-v.Done()
	})
	return v, rec, ctx
}

func snapshot(t *testing.T, v *Viewport, ctx context.Context) Snapshot {
	t.Helper()
	s, err := v.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return s
}

func pageNumbers(s Snapshot) []int {
	out := []int{}
	for _, p := range s.Pages {
		out = append(out, p.Page)
	}
	return out
}

func fixedZoom() Config {
	return Config{DefaultZoom: loader.Zoom{Level: 1, Mode: loader.Fixed}}
}

func TestClickMapsToDocumentSpace(t *testing.T) {
	src := rastertest.New()
	doc := src.AddDocument("three.pdf", rastertest.Letter, rastertest.Letter, rastertest.Letter)
	cfg := fixedZoom()
	cfg.Loader.BaseDPI = 100 // 612x792 pt renders at 850x1100 px
	v, rec, ctx := startViewport(t, src, cfg)

	if err := v.Load(ctx, doc); err != nil {
		t.Fatal(err)
	}
	rec.wait(t, is(EventLoadCompleted))

	s := snapshot(t, v, ctx)
	if d := s.Pages[0].Dims; d.PixelWidth != 850 || d.PixelHeight != 1100 {
		t.Fatalf("page 1 pixel size: %dx%d", d.PixelWidth, d.PixelHeight)
	}

	if err := v.SetInteractionMode(ctx, ModeAddText); err != nil {
		t.Fatal(err)
	}
	c, err := v.OnPageClick(ctx, 1, 425, 550)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(c.Point.X-306) > 1e-9 || math.Abs(c.Point.Y-396) > 1e-9 {
		t.Fatalf("click: got (%g, %g), want (306, 396)", c.Point.X, c.Point.Y)
	}
	if c.Mode != ModeAddText {
		t.Errorf("mode: %s", c.Mode)
	}
	e := rec.wait(t, is(EventClick))
	if e.Page != 1 || e.Point != c.Point || e.Mode != ModeAddText {
		t.Errorf("click event: %+v", e)
	}

	if _, err := v.OnPageClick(ctx, 9, 1, 1); !errors.Is(err, ErrNoPage) {
		t.Errorf("click on missing page: %v", err)
	}
}

func TestSlotsStaySortedOnOutOfOrderDelivery(t *testing.T) {
	src := rastertest.New()
	doc := src.AddDocument("a.pdf", rastertest.Letter, rastertest.Letter, rastertest.Letter)
	src.Gate("a.pdf") // the real producer never gets past page 1
	v, _, ctx := startViewport(t, src, fixedZoom())

	if err := v.Load(ctx, doc); err != nil {
		t.Fatal(err)
	}
	dims := geometry.Dims{PixelWidth: 1224, PixelHeight: 1584, DocWidth: 612, DocHeight: 792}
	for _, n := range []int{3, 1, 2, 1} {
		err := v.do(ctx, func() {
			v.deliver(loader.Delivery{
				Generation: v.active,
				Kind:       loader.KindPage,
				Total:      3,
				Page:       &loader.Page{Number: n, Raster: image.NewRGBA(image.Rect(0, 0, 1224, 1584)), Dims: dims},
			})
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	if diff := cmp.Diff([]int{1, 2, 3}, pageNumbers(snapshot(t, v, ctx))); diff != "" {
		t.Fatalf("slots (-want +got):\n%s", diff)
	}
}

func TestStaleDeliveryDropped(t *testing.T) {
	src := rastertest.New()
	doc := src.AddDocument("a.pdf", rastertest.Letter)
	src.Gate("a.pdf")
	v, _, ctx := startViewport(t, src, fixedZoom())

	v.Load(ctx, doc)
	v.Load(ctx, doc) // generation 2 is active

	err := v.do(ctx, func() {
		v.deliver(loader.Delivery{
			Generation: v.active - 1,
			Kind:       loader.KindPage,
			Page:       &loader.Page{Number: 1, Raster: image.NewRGBA(image.Rect(0, 0, 10, 10)), Dims: geometry.Dims{PixelWidth: 10, PixelHeight: 10, DocWidth: 5, DocHeight: 5}},
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	s := snapshot(t, v, ctx)
	if len(s.Pages) != 0 {
		t.Fatalf("stale page in slots: %v", pageNumbers(s))
	}
	if s.Dropped == 0 {
		t.Error("dropped counter not incremented")
	}
	if s.Generation != 2 {
		t.Errorf("generation: %d", s.Generation)
	}
}

func TestMarkReplayedWhenPageArrives(t *testing.T) {
	src := rastertest.New()
	doc := src.AddDocument("five.pdf", rastertest.Letter, rastertest.Letter, rastertest.Letter, rastertest.Letter, rastertest.Letter)
	gate := src.Gate("five.pdf")
	v, rec, ctx := startViewport(t, src, fixedZoom())

	v.Load(ctx, doc)
	m, err := v.AddMark(ctx, overlay.Mark{
		Page:   5,
		Kind:   overlay.TextStamp,
		Anchor: geometry.DocPoint{X: 72, Y: 720},
		Text:   &overlay.TextPayload{Text: "Approved", FontSize: 12},
	})
	if err != nil {
		t.Fatal(err)
	}
	if m.ID == "" {
		t.Fatal("mark has no ID")
	}

	for i := 0; i < 5; i++ {
		gate <- struct{}{}
	}
	rec.wait(t, pageAvailable(5))

	s := snapshot(t, v, ctx)
	if len(s.Pages) != 5 {
		t.Fatalf("pages: %v", pageNumbers(s))
	}
	if s.Pages[4].Marks != 1 {
		t.Fatalf("page 5 marks drawn: %d, want 1", s.Pages[4].Marks)
	}
	for _, p := range s.Pages[:4] {
		if p.Marks != 0 {
			t.Errorf("page %d has %d marks", p.Page, p.Marks)
		}
	}
}

func TestSelectionSurvivesFitWidthReload(t *testing.T) {
	src := rastertest.New()
	doc := src.AddDocument("four.pdf", rastertest.Letter, rastertest.Letter, rastertest.Letter, rastertest.Letter)
	v, rec, ctx := startViewport(t, src, Config{InitialWidth: 1304})

	v.Load(ctx, doc)
	rec.wait(t, is(EventLoadCompleted))

	for _, p := range []int{2, 4} {
		if on, err := v.ToggleSelection(ctx, p); err != nil || !on {
			t.Fatalf("toggle %d: %v %v", p, on, err)
		}
	}
	if _, err := v.AddMark(ctx, overlay.Mark{Page: 2, Kind: overlay.TextStamp, Text: &overlay.TextPayload{Text: "x"}}); err != nil {
		t.Fatal(err)
	}

	if err := v.Reload(ctx, loader.Zoom{Level: 1, Mode: loader.FitWidth}); err != nil {
		t.Fatal(err)
	}
	gen := snapshot(t, v, ctx).Generation
	rec.wait(t, func(e Event) bool { return e.Type == EventLoadCompleted && e.Generation == gen })

	s := snapshot(t, v, ctx)
	if diff := cmp.Diff([]int{2, 4}, s.Selection); diff != "" {
		t.Fatalf("selection (-want +got):\n%s", diff)
	}
	for _, p := range s.Pages {
		want := p.Page == 2 || p.Page == 4
		if p.Selected != want {
			t.Errorf("page %d selected=%v", p.Page, p.Selected)
		}
	}
	if s.Marks != 1 || s.Pages[1].Marks != 1 {
		t.Errorf("marks after reload: total=%d page2=%d", s.Marks, s.Pages[1].Marks)
	}
}

func TestLoadWhileLoadingSupersedes(t *testing.T) {
	src := rastertest.New()
	docA := src.AddDocument("a.pdf", rastertest.Letter, rastertest.Letter, rastertest.Letter)
	docB := src.AddDocument("b.pdf", rastertest.Size{Width: 595, Height: 842}, rastertest.Size{Width: 595, Height: 842})
	gateA := src.Gate("a.pdf")
	v, rec, ctx := startViewport(t, src, fixedZoom())

	v.Load(ctx, docA)
	gateA <- struct{}{}
	rec.wait(t, pageAvailable(1))

	if err := v.Load(ctx, docB); err != nil {
		t.Fatal(err)
	}
	cancelled := rec.wait(t, is(EventLoadCancelled))
	if cancelled.Generation != 1 {
		t.Errorf("cancelled generation: %d", cancelled.Generation)
	}

	// Let A's in-flight page finish; it must never show up.
	select {
	case gateA <- struct{}{}:
	case <-time.After(50 * time.Millisecond):
	}
	rec.wait(t, is(EventLoadCompleted))

	s := snapshot(t, v, ctx)
	if s.Document != "b.pdf" {
		t.Fatalf("document: %q", s.Document)
	}
	if diff := cmp.Diff([]int{1, 2}, pageNumbers(s)); diff != "" {
		t.Fatalf("slots (-want +got):\n%s", diff)
	}
	for _, p := range s.Pages {
		if p.Dims.DocWidth != 595 {
			t.Errorf("page %d comes from the superseded document: %+v", p.Page, p.Dims)
		}
	}
	for _, e := range rec.all() {
		if e.Type == EventPageAvailable && e.Generation == 1 && e.Page > 1 {
			t.Errorf("stale page event: %v", e)
		}
	}
}

func TestResizeBurstTriggersOneReload(t *testing.T) {
	src := rastertest.New()
	doc := src.AddDocument("a.pdf", rastertest.Letter)
	sched := debouncetest.New()
	cfg := Config{InitialWidth: 1304, Resize: debounce.Config{Scheduler: sched}}
	v, rec, ctx := startViewport(t, src, cfg)

	v.Load(ctx, doc)
	rec.wait(t, is(EventLoadCompleted))
	if z, _ := v.Zoom(ctx); math.Abs(z.Level-1) > 1e-9 || z.Mode != loader.FitWidth {
		t.Fatalf("initial zoom: %+v", z)
	}

	for _, w := range []int{800, 805, 760, 770} {
		if err := v.Resize(ctx, w); err != nil {
			t.Fatal(err)
		}
		sched.Advance(100 * time.Millisecond)
	}
	if n := rec.count(EventLoadStarted); n != 1 {
		t.Fatalf("reload during the burst: %d load starts", n)
	}

	sched.Advance(600 * time.Millisecond)
	started := rec.wait(t, func(e Event) bool { return e.Type == EventLoadStarted && e.Generation == 2 })
	want := (770.0 - 80) / (612 * 2)
	if math.Abs(started.Zoom.Level-want) > 1e-9 {
		t.Fatalf("reload zoom: got %g, want %g (width 770)", started.Zoom.Level, want)
	}
	rec.wait(t, func(e Event) bool { return e.Type == EventLoadCompleted && e.Generation == 2 })

	if n := rec.count(EventLoadStarted); n != 2 {
		t.Fatalf("load starts: got %d, want 2", n)
	}
	if n := rec.count(EventZoomChanged); n != 1 {
		t.Errorf("zoom changes: got %d, want 1", n)
	}
}

func TestResizeWithinToleranceIsNoop(t *testing.T) {
	src := rastertest.New()
	doc := src.AddDocument("a.pdf", rastertest.Letter)
	sched := debouncetest.New()
	v, rec, ctx := startViewport(t, src, Config{InitialWidth: 1304, Resize: debounce.Config{Scheduler: sched}})

	v.Load(ctx, doc)
	rec.wait(t, is(EventLoadCompleted))

	// 1340px fits at 1.029, within 0.05 of 1.0.
	v.Resize(ctx, 1340)
	sched.Advance(time.Second)
	if s := snapshot(t, v, ctx); s.Generation != 1 {
		t.Fatalf("reloaded within tolerance: generation %d", s.Generation)
	}

	// Too narrow to fit against: ignored.
	v.Resize(ctx, 60)
	sched.Advance(time.Second)
	if s := snapshot(t, v, ctx); s.Generation != 1 {
		t.Fatalf("reloaded for an unusable width: generation %d", s.Generation)
	}
}

func TestClearResetsEverything(t *testing.T) {
	src := rastertest.New()
	doc := src.AddDocument("a.pdf", rastertest.Letter, rastertest.Letter)
	v, rec, ctx := startViewport(t, src, Config{})

	v.Load(ctx, doc)
	rec.wait(t, is(EventLoadCompleted))
	v.ToggleSelection(ctx, 1)
	v.AddMark(ctx, overlay.Mark{Page: 1, Kind: overlay.TextStamp, Text: &overlay.TextPayload{Text: "x"}})
	v.SetZoom(ctx, 2)

	if err := v.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	s := snapshot(t, v, ctx)
	if s.Document != "" || len(s.Pages) != 0 || len(s.Selection) != 0 || s.Marks != 0 {
		t.Fatalf("state after clear: %+v", s)
	}
	if s.Zoom != (loader.Zoom{Level: 1, Mode: loader.FitWidth}) {
		t.Errorf("zoom after clear: %+v", s.Zoom)
	}
	if s.State != loader.Idle.String() {
		t.Errorf("state: %s", s.State)
	}
	if _, err := v.AddMark(ctx, overlay.Mark{Page: 1, Kind: overlay.TextStamp, Text: &overlay.TextPayload{Text: "x"}}); !errors.Is(err, ErrNoDocument) {
		t.Errorf("AddMark without document: %v", err)
	}
}

func TestAdjustZoomClamps(t *testing.T) {
	v, rec, ctx := startViewport(t, rastertest.New(), fixedZoom())

	z, err := v.AdjustZoom(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if z.Level != 5.0 || z.Mode != loader.Fixed {
		t.Fatalf("upper clamp: %+v", z)
	}
	z, _ = v.AdjustZoom(ctx, -10)
	if z.Level != 0.1 {
		t.Fatalf("lower clamp: %+v", z)
	}
	z, _ = v.SetZoom(ctx, 0)
	if z.Level != 0.1 {
		t.Fatalf("SetZoom(0): %+v", z)
	}
	if n := rec.count(EventZoomChanged); n != 2 {
		t.Errorf("zoom change events: got %d, want 2", n)
	}
}

func TestSetZoomReloads(t *testing.T) {
	src := rastertest.New()
	doc := src.AddDocument("a.pdf", rastertest.Letter)
	v, rec, ctx := startViewport(t, src, fixedZoom())

	v.Load(ctx, doc)
	rec.wait(t, is(EventLoadCompleted))
	if _, err := v.AdjustZoom(ctx, 0.5); err != nil {
		t.Fatal(err)
	}
	rec.wait(t, func(e Event) bool { return e.Type == EventLoadCompleted && e.Generation == 2 })

	s := snapshot(t, v, ctx)
	// Letter at 1.5 x 144 DPI.
	if d := s.Pages[0].Dims; d.PixelWidth != 1836 || d.PixelHeight != 2376 {
		t.Fatalf("pixel size after zoom: %dx%d", d.PixelWidth, d.PixelHeight)
	}
}

func TestDocumentErrorLeavesViewportEmpty(t *testing.T) {
	src := rastertest.New()
	doc := src.AddDocument("empty.pdf")
	v, rec, ctx := startViewport(t, src, Config{})

	v.Load(ctx, doc)
	e := rec.wait(t, is(EventLoadFailed))
	if !errors.Is(e.Err, loader.ErrDocument) {
		t.Fatalf("error: %v", e.Err)
	}
	if e.Document != "empty.pdf" {
		t.Errorf("event document: %q", e.Document)
	}
	s := snapshot(t, v, ctx)
	if s.Document != "" || len(s.Pages) != 0 || s.State != "failed" || s.Error == "" {
		t.Fatalf("state: %+v", s)
	}
	if err := v.Reload(ctx, loader.Zoom{Level: 1}); !errors.Is(err, ErrNoDocument) {
		t.Errorf("Reload after document error: %v", err)
	}
}

func TestRasterizationErrorKeepsRenderedPages(t *testing.T) {
	src := rastertest.New()
	doc := src.AddDocument("a.pdf", rastertest.Letter, rastertest.Letter, rastertest.Letter)
	src.FailRasterize("a.pdf", 3, errors.New("corrupt stream"))
	v, rec, ctx := startViewport(t, src, fixedZoom())

	v.Load(ctx, doc)
	e := rec.wait(t, is(EventLoadFailed))
	if !errors.Is(e.Err, loader.ErrRasterization) {
		t.Fatalf("error: %v", e.Err)
	}
	s := snapshot(t, v, ctx)
	if diff := cmp.Diff([]int{1, 2}, pageNumbers(s)); diff != "" {
		t.Fatalf("pages (-want +got):\n%s", diff)
	}
	if s.Document != "a.pdf" || s.Error == "" {
		t.Errorf("state: %+v", s)
	}
}

func TestLoadKeepsMarksOnlyForSameDocument(t *testing.T) {
	src := rastertest.New()
	a := src.AddDocument("a.pdf", rastertest.Letter)
	b := src.AddDocument("b.pdf", rastertest.Letter)
	v, rec, ctx := startViewport(t, src, fixedZoom())

	mark := overlay.Mark{Page: 1, Kind: overlay.TextStamp, Text: &overlay.TextPayload{Text: "x"}}
	v.Load(ctx, a)
	v.AddMark(ctx, mark)
	v.ToggleSelection(ctx, 1)

	v.Load(ctx, a)
	if s := snapshot(t, v, ctx); s.Marks != 1 || len(s.Selection) != 0 {
		t.Fatalf("reopen same document: marks=%d selection=%v", s.Marks, s.Selection)
	}

	v.Load(ctx, b)
	if s := snapshot(t, v, ctx); s.Marks != 0 {
		t.Fatalf("other document kept %d marks", s.Marks)
	}
	rec.wait(t, is(EventLoadCompleted))
}

type fakeSearcher struct {
	matches []geometry.PageRect
	err     error
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, path, query string) ([]geometry.PageRect, error) {
	f.queries = append(f.queries, path+":"+query)
	return f.matches, f.err
}

func TestSearchDrivesHighlights(t *testing.T) {
	src := rastertest.New()
	doc := src.AddDocument("a.pdf", rastertest.Letter, rastertest.Letter)
	search := &fakeSearcher{matches: []geometry.PageRect{
		{Page: 1, Rect: geometry.DocRect{X: 72, Y: 700, Width: 60, Height: 12}},
		{Page: 2, Rect: geometry.DocRect{X: 72, Y: 500, Width: 60, Height: 12}},
	}}
	cfg := fixedZoom()
	cfg.Searcher = search
	v, rec, ctx := startViewport(t, src, cfg)

	if _, err := v.Search(ctx, "total"); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("search without document: %v", err)
	}

	v.Load(ctx, doc)
	rec.wait(t, is(EventLoadCompleted))
	v.AddMark(ctx, overlay.Mark{Page: 1, Kind: overlay.TextStamp, Text: &overlay.TextPayload{Text: "keep"}})

	got, err := v.Search(ctx, "total")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("matches: %v", got)
	}
	marks, _ := v.Marks(ctx)
	if len(marks) != 3 {
		t.Fatalf("marks after search: %d", len(marks))
	}

	// A new search replaces highlights; the text stamp stays.
	search.matches = search.matches[:1]
	v.Search(ctx, "other")
	marks, _ = v.Marks(ctx)
	if len(marks) != 2 {
		t.Fatalf("marks after second search: %d", len(marks))
	}

	v.Search(ctx, "")
	marks, _ = v.Marks(ctx)
	if len(marks) != 1 || marks[0].Kind != overlay.TextStamp {
		t.Fatalf("marks after clearing search: %+v", marks)
	}
	if diff := cmp.Diff([]string{"a.pdf:total", "a.pdf:other"}, search.queries); diff != "" {
		t.Errorf("queries (-want +got):\n%s", diff)
	}

	search.err = errors.New("index broken")
	if _, err := v.Search(ctx, "x"); err == nil {
		t.Error("expected search error")
	}
}

func TestPageImage(t *testing.T) {
	src := rastertest.New()
	doc := src.AddDocument("a.pdf", rastertest.Letter)
	v, rec, ctx := startViewport(t, src, fixedZoom())

	v.Load(ctx, doc)
	rec.wait(t, is(EventLoadCompleted))
	img, err := v.PageImage(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 1224 || b.Dy() != 1584 {
		t.Fatalf("image size: %v", b)
	}
	if _, err := v.PageImage(ctx, 2); !errors.Is(err, ErrNoPage) {
		t.Fatalf("missing page: %v", err)
	}
}

func TestInvalidInteractionMode(t *testing.T) {
	v, _, ctx := startViewport(t, rastertest.New(), Config{})
	if err := v.SetInteractionMode(ctx, "erase"); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("got %v", err)
	}
	if s := snapshot(t, v, ctx); s.Mode != ModeView {
		t.Errorf("mode changed: %s", s.Mode)
	}
}

func TestStoppedAndRunTwice(t *testing.T) {
	v := New(rastertest.New(), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- v.Run(ctx) }()

	// Wait until the loop serves requests.
	if _, err := v.Zoom(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := v.Run(ctx); !errors.Is(err, ErrRunning) {
		t.Fatalf("second Run: %v", err)
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
	if _, err := v.Snapshot(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("after stop: %v", err)
	}
}
