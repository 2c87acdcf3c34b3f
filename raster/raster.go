// CLAUDE:SUMMARY Page raster source contract (page count, page size, rasterize at DPI) plus document handle and letter-size fallback.
// Package raster defines the page rasterization collaborator used by the
// viewport: page count, page size in document points, and rendering a page
// to an image at a given resolution.
//
// Implementations:
//   - FitzSource: MuPDF via github.com/gen2brain/go-fitz (count, size, raster)
//   - PdfcpuInspector: page count and exact page boxes via pdfcpu (no raster)
//   - Composite: structure from one source, pixels from another
//   - WithLetterFallback: 612x792 when page size lookup fails
package raster

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
)

// Letter page size in points, used when a page size cannot be read.
const (
	LetterWidth  = 612.0
	LetterHeight = 792.0
)

// Document is an opaque handle on a document file.
type Document struct {
	Path string `json:"path"`
}

// Name returns the base name of the document file.
func (d Document) Name() string { return filepath.Base(d.Path) }

// Open validates that path is a readable regular file and returns its handle.
func Open(path string) (Document, error) {
	if path == "" {
		return Document{}, fmt.Errorf("raster: empty document path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Document{}, fmt.Errorf("raster: stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return Document{}, fmt.Errorf("raster: %s is not a regular file", path)
	}
	return Document{Path: path}, nil
}

// Inspector reports document structure.
type Inspector interface {
	PageCount(ctx context.Context, doc Document) (int, error)
	// PageSize returns the size of a 1-indexed page in document points.
	PageSize(ctx context.Context, doc Document, page int) (width, height float64, err error)
}

// Rasterizer renders a 1-indexed page at dpi.
type Rasterizer interface {
	Rasterize(ctx context.Context, doc Document, page int, dpi float64) (image.Image, error)
}

// Source is the full page raster collaborator.
type Source interface {
	Inspector
	Rasterizer
}

// Composite takes structure from Inspector and pixels from Rasterizer.
type Composite struct {
	Inspector  Inspector
	Rasterizer Rasterizer
}

func (c Composite) PageCount(ctx context.Context, doc Document) (int, error) {
	return c.Inspector.PageCount(ctx, doc)
}

func (c Composite) PageSize(ctx context.Context, doc Document, page int) (float64, float64, error) {
	return c.Inspector.PageSize(ctx, doc, page)
}

func (c Composite) Rasterize(ctx context.Context, doc Document, page int, dpi float64) (image.Image, error) {
	return c.Rasterizer.Rasterize(ctx, doc, page, dpi)
}

type letterFallback struct {
	Source
	logger *slog.Logger
}

// WithLetterFallback wraps src so that a failing PageSize reports a letter
// page instead of an error. PageCount and Rasterize errors pass through.
func WithLetterFallback(src Source, logger *slog.Logger) Source {
	if logger == nil {
		logger = slog.Default()
	}
	return letterFallback{Source: src, logger: logger}
}

func (l letterFallback) PageSize(ctx context.Context, doc Document, page int) (float64, float64, error) {
	w, h, err := l.Source.PageSize(ctx, doc, page)
	if err != nil || w <= 0 || h <= 0 {
		l.logger.Warn("raster: page size lookup failed, using letter size",
			"path", doc.Path, "page", page, "error", err)
		return LetterWidth, LetterHeight, nil
	}
	return w, h, nil
}

// fileKey identifies one version of a file on disk so caches notice a
// document rewritten in place by a mutation.
type fileKey struct {
	path  string
	size  int64
	mtime int64
}

func keyFor(path string) (fileKey, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileKey{}, err
	}
	return fileKey{path: path, size: info.Size(), mtime: info.ModTime().UnixNano()}, nil
}

func checkPage(page, total int) error {
	if page < 1 || page > total {
		return fmt.Errorf("raster: page %d out of range [1, %d]", page, total)
	}
	return nil
}
