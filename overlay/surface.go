// CLAUDE:SUMMARY Per-page overlay surface: an RGBA mark layer the size of the raster, selection stipple, compositing over the page raster with x/image.
package overlay

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/hazyhaar/docview/geometry"
)

var (
	markRed       = color.RGBA{R: 0xff, A: 0xff}
	stampGreen    = color.RGBA{G: 0xa0, A: 0xff}
	linkBlue      = color.RGBA{R: 0x20, G: 0x40, B: 0xff, A: 0xff}
	highlightFill = color.RGBA{R: 0x60, G: 0x60, A: 0x60}
	stippleRed    = color.RGBA{R: 0x80, A: 0x80}
)

const (
	crossArm     = 6
	dashOn       = 6
	dashOff      = 4
	stippleStep  = 4
	deleteScale  = 3
	defaultPoint = 12
)

// Surface is the drawable overlay of one displayed page. Marks are drawn
// onto a transparent layer; Composite merges it over the page raster.
// A Surface is owned by one goroutine.
type Surface struct {
	dims     geometry.Dims
	layer    *image.RGBA
	count    int
	selected bool
}

// NewSurface creates an empty surface for a page rendered at dims.
func NewSurface(dims geometry.Dims) *Surface {
	return &Surface{dims: dims}
}

// Dims returns the page dimensions the surface maps against.
func (s *Surface) Dims() geometry.Dims { return s.dims }

// MarkCount returns the number of marks drawn since the last Clear.
func (s *Surface) MarkCount() int { return s.count }

// Selected reports whether the selection indicator is shown.
func (s *Surface) Selected() bool { return s.selected }

// SetSelected shows or hides the selection indicator.
func (s *Surface) SetSelected(on bool) { s.selected = on }

// Clear erases every drawn mark. The selection indicator is unaffected.
func (s *Surface) Clear() {
	s.layer = nil
	s.count = 0
}

func (s *Surface) canvas() *image.RGBA {
	if s.layer == nil {
		s.layer = image.NewRGBA(image.Rect(0, 0, s.dims.PixelWidth, s.dims.PixelHeight))
	}
	return s.layer
}

// Draw renders m onto the mark layer.
func (s *Surface) Draw(m Mark) error {
	switch m.Kind {
	case TextStamp:
		if err := s.drawText(m); err != nil {
			return err
		}
	case ImageStamp:
		r, err := geometry.RectToPixel(m.Rect(), s.dims)
		if err != nil {
			return err
		}
		dashedRect(s.canvas(), pixelBounds(r), stampGreen)
	case LinkStamp:
		r, err := geometry.RectToPixel(m.Rect(), s.dims)
		if err != nil {
			return err
		}
		outline(s.canvas(), pixelBounds(r), linkBlue)
	case SearchHighlight:
		r, err := geometry.RectToPixel(m.Rect(), s.dims)
		if err != nil {
			return err
		}
		draw.Draw(s.canvas(), pixelBounds(r), image.NewUniform(highlightFill), image.Point{}, draw.Over)
	default:
		return ErrInvalidMark
	}
	s.count++
	return nil
}

// drawText draws a red cross at the anchor and the text on its baseline,
// scaled from the 13px bitmap face to the stamp's font size.
func (s *Surface) drawText(m Mark) error {
	px, py, err := geometry.DocToPixel(m.Anchor, s.dims)
	if err != nil {
		return err
	}
	size := float64(defaultPoint)
	col := Blue.Color()
	if m.Text != nil {
		if m.Text.FontSize > 0 {
			size = m.Text.FontSize
		}
		col = m.Text.Color.Color()
	}
	_, h, err := geometry.SizeToPixel(geometry.DocSize{Height: size}, s.dims)
	if err != nil {
		return err
	}

	dst := s.canvas()
	x, y := int(math.Round(px)), int(math.Round(py))
	cross(dst, x, y, markRed)
	if m.Text != nil {
		drawLabel(dst, m.Text.Text, x, y, h, col)
	}
	return nil
}

// Composite returns raster with the overlay merged on top. raster is not
// modified.
func (s *Surface) Composite(raster image.Image) *image.RGBA {
	b := raster.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), raster, b.Min, draw.Src)
	if s.layer != nil {
		draw.Draw(out, out.Bounds(), s.layer, image.Point{}, draw.Over)
	}
	if s.selected {
		stipple(out, stippleRed)
		face := basicfont.Face7x13
		w := font.MeasureString(face, "DELETE").Ceil() * deleteScale
		h := face.Height * deleteScale
		drawLabel(out, "DELETE", (b.Dx()-w)/2, (b.Dy()+h)/2, float64(h), markRed)
	}
	return out
}

// maxPixel bounds pixel coordinates before the float to int conversion.
const maxPixel = 1 << 24

func pixelBounds(r geometry.PixelRect) image.Rectangle {
	return image.Rect(
		toPixel(r.X), toPixel(r.Y),
		toPixel(r.X+r.Width), toPixel(r.Y+r.Height),
	)
}

func toPixel(v float64) int {
	switch {
	case math.IsNaN(v):
		return 0
	case v > maxPixel:
		return maxPixel
	case v < -maxPixel:
		return -maxPixel
	}
	return int(math.Round(v))
}

// drawLabel renders text with its baseline at (x, y), scaled so the face
// height becomes height pixels.
func drawLabel(dst draw.Image, text string, x, y int, height float64, col color.Color) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil()
	if w <= 0 || height <= 0 {
		return
	}
	tmp := image.NewRGBA(image.Rect(0, 0, w, face.Height))
	d := font.Drawer{
		Dst:  tmp,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(text)

	scale := height / float64(face.Height)
	top := y - int(math.Round(float64(face.Ascent)*scale))
	r := image.Rect(x, top, x+int(math.Round(float64(w)*scale)), top+int(math.Round(height)))
	draw.BiLinear.Scale(dst, r, tmp, tmp.Bounds(), draw.Over, nil)
}

func cross(dst *image.RGBA, x, y int, c color.RGBA) {
	for d := -crossArm; d <= crossArm; d++ {
		setIn(dst, x+d, y, c)
		setIn(dst, x, y+d, c)
	}
}

func outline(dst *image.RGBA, r image.Rectangle, c color.RGBA) {
	dashedEdges(dst, r, c, func(int) bool { return true })
}

func dashedRect(dst *image.RGBA, r image.Rectangle, c color.RGBA) {
	dashedEdges(dst, r, c, func(i int) bool { return i%(dashOn+dashOff) < dashOn })
}

// dashedEdges strokes the edges of r where on(offset) holds. Only the part
// of r inside dst is walked; the dash phase stays anchored at r.Min.
func dashedEdges(dst *image.RGBA, r image.Rectangle, c color.RGBA, on func(int) bool) {
	clip := r.Intersect(dst.Rect)
	if clip.Empty() {
		return
	}
	for x := clip.Min.X; x < clip.Max.X; x++ {
		if on(x - r.Min.X) {
			setIn(dst, x, r.Min.Y, c)
			setIn(dst, x, r.Max.Y-1, c)
		}
	}
	for y := clip.Min.Y; y < clip.Max.Y; y++ {
		if on(y - r.Min.Y) {
			setIn(dst, r.Min.X, y, c)
			setIn(dst, r.Max.X-1, y, c)
		}
	}
}

func stipple(dst *image.RGBA, c color.RGBA) {
	src := image.NewUniform(c)
	b := dst.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y += stippleStep {
		off := (y / stippleStep % 2) * stippleStep / 2
		for x := b.Min.X + off; x < b.Max.X; x += stippleStep {
			draw.Draw(dst, image.Rect(x, y, x+1, y+1), src, image.Point{}, draw.Over)
		}
	}
}

func setIn(dst *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(dst.Rect) {
		dst.SetRGBA(x, y, c)
	}
}
