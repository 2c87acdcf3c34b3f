// CLAUDE:SUMMARY Pure pixel-space <-> document-space conversion for rendered pages (per-axis scale + y-axis flip).
// Package geometry converts coordinates between the pixel space of a rendered
// page and the document space of the page it was rendered from.
//
// Pixel space has its origin at the top-left corner and y grows downward.
// Document space has its origin at the bottom-left corner, y grows upward and
// units are document points (1/72 inch).
//
// Every function is pure. A page whose pixel size is zero has not been
// rendered yet; converting against it is a caller bug and fails with
// ErrGeometry.
package geometry

import (
	"errors"
	"fmt"
)

// ErrGeometry reports degenerate mapping input (a zero-sized page).
var ErrGeometry = errors.New("geometry: degenerate page dimensions")

// PointsPerInch is the document unit density.
const PointsPerInch = 72.0

// DocPoint is a position in document space.
type DocPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DocSize is an extent in document units.
type DocSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DocRect is a rectangle in document space anchored at its lower-left corner.
type DocRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PageRect ties a document-space rectangle to a 1-indexed page.
type PageRect struct {
	Page int     `json:"page"`
	Rect DocRect `json:"rect"`
}

// PixelRect is a rectangle in pixel space anchored at its top-left corner.
type PixelRect struct {
	X, Y, Width, Height float64
}

// Dims describes one rendered page: the raster size and the size of the
// document page it was produced from.
type Dims struct {
	PixelWidth  int     `json:"pixel_width"`
	PixelHeight int     `json:"pixel_height"`
	DocWidth    float64 `json:"doc_width"`
	DocHeight   float64 `json:"doc_height"`
}

func (d Dims) check() error {
	if d.PixelWidth <= 0 || d.PixelHeight <= 0 {
		return fmt.Errorf("%w: pixel size %dx%d", ErrGeometry, d.PixelWidth, d.PixelHeight)
	}
	if d.DocWidth <= 0 || d.DocHeight <= 0 {
		return fmt.Errorf("%w: document size %gx%g", ErrGeometry, d.DocWidth, d.DocHeight)
	}
	return nil
}

// PixelToDoc maps a pixel position on a rendered page to document space.
func PixelToDoc(px, py float64, d Dims) (DocPoint, error) {
	if err := d.check(); err != nil {
		return DocPoint{}, err
	}
	scaleX := d.DocWidth / float64(d.PixelWidth)
	scaleY := d.DocHeight / float64(d.PixelHeight)
	return DocPoint{
		X: px * scaleX,
		Y: d.DocHeight - py*scaleY,
	}, nil
}

// DocToPixel is the exact inverse of PixelToDoc.
func DocToPixel(p DocPoint, d Dims) (px, py float64, err error) {
	if err := d.check(); err != nil {
		return 0, 0, err
	}
	px = p.X * (float64(d.PixelWidth) / d.DocWidth)
	py = (d.DocHeight - p.Y) * (float64(d.PixelHeight) / d.DocHeight)
	return px, py, nil
}

// SizeToPixel scales a document extent to pixels. No axis flip applies to
// extents.
func SizeToPixel(s DocSize, d Dims) (w, h float64, err error) {
	if err := d.check(); err != nil {
		return 0, 0, err
	}
	return s.Width * float64(d.PixelWidth) / d.DocWidth,
		s.Height * float64(d.PixelHeight) / d.DocHeight, nil
}

// RectToPixel maps a lower-left anchored document rectangle to a top-left
// anchored pixel rectangle. The top edge in pixel space is the document
// rectangle's upper edge (Y+Height).
func RectToPixel(r DocRect, d Dims) (PixelRect, error) {
	x, y, err := DocToPixel(DocPoint{X: r.X, Y: r.Y + r.Height}, d)
	if err != nil {
		return PixelRect{}, err
	}
	w, h, err := SizeToPixel(DocSize{Width: r.Width, Height: r.Height}, d)
	if err != nil {
		return PixelRect{}, err
	}
	return PixelRect{X: x, Y: y, Width: w, Height: h}, nil
}

// BaselineRect converts a text match reported as [x, baseline, width, height]
// into a DocRect. Glyphs sit on the baseline and extend upward by height, so
// the baseline is the rectangle's lower edge.
func BaselineRect(x, baseline, width, height float64) DocRect {
	if height < 0 {
		baseline += height
		height = -height
	}
	return DocRect{X: x, Y: baseline, Width: width, Height: height}
}

// PixelsPerPoint returns the raster density for a rendering resolution.
func PixelsPerPoint(dpi float64) float64 {
	return dpi / PointsPerInch
}
