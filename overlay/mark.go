// CLAUDE:SUMMARY Overlay mark model: kinds (text, image, link, highlight), payloads and validation, all positions in document space.
package overlay

import (
	"errors"
	"fmt"
	"image/color"
	"math"

	"github.com/hazyhaar/docview/geometry"
	"github.com/hazyhaar/docview/horosafe"
)

// ErrInvalidMark is returned by Add for marks that cannot be rendered.
var ErrInvalidMark = errors.New("overlay: invalid mark")

// MaxExtent is the largest mark width or height in points, the PDF page
// size limit of 200 inches.
const MaxExtent = 14400

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Kind names what a mark represents.
type Kind string

const (
	TextStamp       Kind = "text"
	ImageStamp      Kind = "image"
	LinkStamp       Kind = "link"
	SearchHighlight Kind = "highlight"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case TextStamp, ImageStamp, LinkStamp, SearchHighlight:
		return true
	}
	return false
}

// RGB is an opaque colour.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Color converts c for drawing.
func (c RGB) Color() color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff}
}

// Blue is the default text stamp colour.
var Blue = RGB{B: 0xff}

// TextPayload is the content of a TextStamp.
type TextPayload struct {
	Text     string  `json:"text"`
	FontSize float64 `json:"font_size"`
	Color    RGB     `json:"color"`
}

// ImagePayload is the content of an ImageStamp.
type ImagePayload struct {
	Path string `json:"path"`
}

// LinkPayload is the content of a LinkStamp.
type LinkPayload struct {
	URL string `json:"url"`
}

// HighlightPayload is the content of a SearchHighlight.
type HighlightPayload struct {
	Query string `json:"query"`
}

// Mark is one pending annotation. Anchor and Extent are in document units;
// the anchor of a stamp is its lower-left corner and the extent grows up and
// to the right.
type Mark struct {
	ID     string            `json:"id"`
	Page   int               `json:"page"`
	Kind   Kind              `json:"kind"`
	Anchor geometry.DocPoint `json:"anchor"`
	Extent *geometry.DocSize `json:"extent,omitempty"`

	Text      *TextPayload      `json:"text,omitempty"`
	Image     *ImagePayload     `json:"image,omitempty"`
	Link      *LinkPayload      `json:"link,omitempty"`
	Highlight *HighlightPayload `json:"highlight,omitempty"`
}

// Rect returns the document rectangle covered by m. Marks without an extent
// cover a zero-size rectangle at the anchor.
func (m Mark) Rect() geometry.DocRect {
	r := geometry.DocRect{X: m.Anchor.X, Y: m.Anchor.Y}
	if m.Extent != nil {
		r.Width, r.Height = m.Extent.Width, m.Extent.Height
	}
	return r
}

// Validate checks that the payload matches the kind.
func (m Mark) Validate() error {
	if m.Page < 1 {
		return fmt.Errorf("%w: page %d", ErrInvalidMark, m.Page)
	}
	if !finite(m.Anchor.X, m.Anchor.Y) {
		return fmt.Errorf("%w: anchor not finite", ErrInvalidMark)
	}
	if m.Extent != nil {
		if !finite(m.Extent.Width, m.Extent.Height) || m.Extent.Width < 0 || m.Extent.Height < 0 {
			return fmt.Errorf("%w: extent %gx%g", ErrInvalidMark, m.Extent.Width, m.Extent.Height)
		}
		if m.Extent.Width > MaxExtent || m.Extent.Height > MaxExtent {
			return fmt.Errorf("%w: extent %gx%g exceeds %g points", ErrInvalidMark, m.Extent.Width, m.Extent.Height, float64(MaxExtent))
		}
	}
	switch m.Kind {
	case TextStamp:
		if m.Text == nil || m.Text.Text == "" {
			return fmt.Errorf("%w: text stamp without text", ErrInvalidMark)
		}
	case ImageStamp:
		if m.Image == nil || m.Image.Path == "" {
			return fmt.Errorf("%w: image stamp without path", ErrInvalidMark)
		}
		if m.Extent == nil {
			return fmt.Errorf("%w: image stamp without extent", ErrInvalidMark)
		}
	case LinkStamp:
		if m.Link == nil || m.Link.URL == "" {
			return fmt.Errorf("%w: link stamp without url", ErrInvalidMark)
		}
		if err := horosafe.ValidateLinkURL(m.Link.URL); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMark, err)
		}
		if m.Extent == nil {
			return fmt.Errorf("%w: link stamp without extent", ErrInvalidMark)
		}
	case SearchHighlight:
		if m.Extent == nil {
			return fmt.Errorf("%w: highlight without extent", ErrInvalidMark)
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidMark, m.Kind)
	}
	return nil
}
