package debounce_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/docview/debounce"
	"github.com/hazyhaar/docview/debounce/debouncetest"
)

func newManual(fire func()) (*debounce.Debouncer, *debouncetest.Scheduler) {
	s := debouncetest.New()
	d := debounce.New(debounce.Config{Scheduler: s}, fire)
	return d, s
}

func TestObserve_BurstFiresOnceWithCurrentWidth(t *testing.T) {
	current := 0
	var widths []int
	d, s := newManual(func() { widths = append(widths, current) })

	for _, w := range []int{800, 805, 760, 770} {
		current = w
		d.Observe(w)
		s.Advance(100 * time.Millisecond)
	}
	if len(widths) != 0 {
		t.Fatalf("fired during burst: %v", widths)
	}
	if s.Pending() != 1 {
		t.Fatalf("pending callbacks: got %d, want 1", s.Pending())
	}

	s.Advance(600 * time.Millisecond)
	if len(widths) != 1 || widths[0] != 770 {
		t.Fatalf("callbacks: got %v, want [770]", widths)
	}
	if d.Pending() {
		t.Error("nothing should be pending after firing")
	}
}

func TestObserve_Threshold(t *testing.T) {
	d, _ := newManual(func() {})
	d.SetBaseline(1000)

	if d.Observe(1019) {
		t.Error("19px change should be ignored")
	}
	if d.LastWidth() != 1000 {
		t.Errorf("LastWidth: got %d, want 1000", d.LastWidth())
	}
	if !d.Observe(980) {
		t.Error("20px change should schedule")
	}
	if d.LastWidth() != 980 {
		t.Errorf("LastWidth: got %d, want 980", d.LastWidth())
	}
}

func TestObserve_FirstWidthAlwaysCounts(t *testing.T) {
	d, s := newManual(func() {})
	if !d.Observe(5) {
		t.Fatal("first observation should schedule")
	}
	if s.Pending() != 1 {
		t.Fatalf("pending: %d", s.Pending())
	}
}

func TestObserve_SettleRestarts(t *testing.T) {
	var fired atomic.Int32
	d, s := newManual(func() { fired.Add(1) })

	d.Observe(800)
	s.Advance(500 * time.Millisecond)
	d.Observe(900)
	s.Advance(500 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("fired before the second settle elapsed")
	}
	s.Advance(100 * time.Millisecond)
	if fired.Load() != 1 {
		t.Fatalf("fired %d times, want 1", fired.Load())
	}
}

func TestCancelAndStop(t *testing.T) {
	var fired atomic.Int32
	d, s := newManual(func() { fired.Add(1) })

	d.Observe(800)
	d.Cancel()
	s.Advance(time.Second)
	if fired.Load() != 0 || d.Pending() {
		t.Fatal("cancelled callback ran")
	}

	d.Observe(1000)
	d.Stop()
	s.Advance(time.Second)
	if fired.Load() != 0 {
		t.Fatal("stopped callback ran")
	}
	if d.Observe(2000) {
		t.Fatal("Observe after Stop should be ignored")
	}
}

func TestRealScheduler(t *testing.T) {
	done := make(chan struct{})
	d := debounce.New(debounce.Config{Settle: 5 * time.Millisecond}, func() { close(done) })
	d.Observe(640)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("real scheduler never fired")
	}
}
