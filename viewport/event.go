// CLAUDE:SUMMARY Viewport events (load lifecycle, zoom changes, clicks) and interaction modes exposed to the application shell.
package viewport

import (
	"fmt"

	"github.com/hazyhaar/docview/geometry"
	"github.com/hazyhaar/docview/loader"
)

// InteractionMode tells the application how to interpret page clicks.
type InteractionMode string

const (
	ModeView        InteractionMode = "view"
	ModeAddText     InteractionMode = "add_text"
	ModeAddImage    InteractionMode = "add_image"
	ModeAddLink     InteractionMode = "add_link"
	ModeSelectPages InteractionMode = "select_pages"
)

// Valid reports whether m is a known mode.
func (m InteractionMode) Valid() bool {
	switch m {
	case ModeView, ModeAddText, ModeAddImage, ModeAddLink, ModeSelectPages:
		return true
	}
	return false
}

// EventType discriminates events.
type EventType string

const (
	EventLoadStarted   EventType = "load_started"
	EventPageAvailable EventType = "page_available"
	EventLoadCompleted EventType = "load_completed"
	EventLoadFailed    EventType = "load_failed"
	EventLoadCancelled EventType = "load_cancelled"
	EventZoomChanged   EventType = "zoom_changed"
	EventClick         EventType = "click"
)

// Event is delivered to the Handler on the viewport goroutine.
type Event struct {
	Type       EventType
	Generation uint64
	Document   string

	// page_available, click
	Page  int
	Total int

	// click
	Point geometry.DocPoint
	Mode  InteractionMode

	// zoom_changed, load_started
	Zoom loader.Zoom

	// load_failed
	Err error
}

func (e Event) String() string {
	switch e.Type {
	case EventPageAvailable:
		return fmt.Sprintf("%s gen=%d page=%d/%d", e.Type, e.Generation, e.Page, e.Total)
	case EventClick:
		return fmt.Sprintf("%s page=%d (%.1f, %.1f) mode=%s", e.Type, e.Page, e.Point.X, e.Point.Y, e.Mode)
	case EventZoomChanged:
		return fmt.Sprintf("%s level=%.3f mode=%s", e.Type, e.Zoom.Level, e.Zoom.Mode)
	case EventLoadFailed:
		return fmt.Sprintf("%s gen=%d: %v", e.Type, e.Generation, e.Err)
	default:
		return fmt.Sprintf("%s gen=%d", e.Type, e.Generation)
	}
}

// Handler receives events. It runs on the viewport goroutine and must not
// call blocking Viewport methods.
type Handler func(Event)

// Click is the document-space result of a page click.
type Click struct {
	Page  int               `json:"page"`
	Point geometry.DocPoint `json:"point"`
	Mode  InteractionMode   `json:"mode"`
}
