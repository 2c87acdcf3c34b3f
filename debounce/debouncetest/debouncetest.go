// CLAUDE:SUMMARY Manual debounce.Scheduler for tests: virtual clock advanced explicitly, due callbacks run on the caller goroutine.
// Package debouncetest provides a deterministic debounce.Scheduler.
package debouncetest

import (
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/docview/debounce"
)

// Scheduler keeps a virtual clock. Callbacks run synchronously inside
// Advance, in due order.
type Scheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*timer
}

var _ debounce.Scheduler = (*Scheduler)(nil)

type timer struct {
	s       *Scheduler
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *timer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// New creates a Scheduler at virtual time zero.
func New() *Scheduler { return &Scheduler{} }

func (s *Scheduler) AfterFunc(d time.Duration, f func()) debounce.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &timer{s: s, at: s.now + d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves the clock forward by d and runs every callback that came due.
func (s *Scheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	var due []*timer
	live := s.timers[:0]
	for _, t := range s.timers {
		switch {
		case t.stopped || t.fired:
		case t.at <= s.now:
			t.fired = true
			due = append(due, t)
		default:
			live = append(live, t)
		}
	}
	s.timers = live
	s.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

// Pending returns the number of scheduled callbacks not yet fired or stopped.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
