// CLAUDE:SUMMARY MuPDF-backed raster source via go-fitz with a per-file-version document cache.
package raster

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"

	fitz "github.com/gen2brain/go-fitz"
)

// FitzSource renders pages with MuPDF. Opened documents are cached per file
// version and shared between producers; go-fitz serialises calls on a
// document internally.
type FitzSource struct {
	logger *slog.Logger

	mu   sync.Mutex
	docs map[string]*fitzEntry
}

type fitzEntry struct {
	key fileKey
	doc *fitz.Document
}

// NewFitzSource creates a FitzSource. A nil logger uses slog.Default().
func NewFitzSource(logger *slog.Logger) *FitzSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FitzSource{logger: logger, docs: make(map[string]*fitzEntry)}
}

func (s *FitzSource) open(doc Document) (*fitz.Document, error) {
	key, err := keyFor(doc.Path)
	if err != nil {
		return nil, fmt.Errorf("raster: fitz: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.docs[doc.Path]; ok {
		if e.key == key {
			return e.doc, nil
		}
		// File rewritten since it was opened.
		e.doc.Close()
		delete(s.docs, doc.Path)
	}

	d, err := fitz.New(doc.Path)
	if err != nil {
		return nil, fmt.Errorf("raster: fitz open %s: %w", doc.Path, err)
	}
	s.docs[doc.Path] = &fitzEntry{key: key, doc: d}
	s.logger.Debug("raster: fitz document opened", "path", doc.Path, "pages", d.NumPage())
	return d, nil
}

func (s *FitzSource) PageCount(ctx context.Context, doc Document) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d, err := s.open(doc)
	if err != nil {
		return 0, err
	}
	return d.NumPage(), nil
}

// PageSize reports the MuPDF page bound, which go-fitz expresses in points
// rounded to integers. Use PdfcpuInspector when fractional sizes matter.
func (s *FitzSource) PageSize(ctx context.Context, doc Document, page int) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	d, err := s.open(doc)
	if err != nil {
		return 0, 0, err
	}
	if err := checkPage(page, d.NumPage()); err != nil {
		return 0, 0, err
	}
	b, err := d.Bound(page - 1)
	if err != nil {
		return 0, 0, fmt.Errorf("raster: fitz bound page %d: %w", page, err)
	}
	return float64(b.Dx()), float64(b.Dy()), nil
}

func (s *FitzSource) Rasterize(ctx context.Context, doc Document, page int, dpi float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if dpi <= 0 {
		return nil, fmt.Errorf("raster: invalid dpi %g", dpi)
	}
	d, err := s.open(doc)
	if err != nil {
		return nil, err
	}
	if err := checkPage(page, d.NumPage()); err != nil {
		return nil, err
	}
	img, err := d.ImageDPI(page-1, dpi)
	if err != nil {
		return nil, fmt.Errorf("raster: fitz render page %d at %.0f dpi: %w", page, dpi, err)
	}
	return img, nil
}

// Close releases every cached MuPDF document.
func (s *FitzSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for path, e := range s.docs {
		if err := e.doc.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.docs, path)
	}
	return first
}
