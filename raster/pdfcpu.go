// CLAUDE:SUMMARY pdfcpu-backed inspector: page count and exact media box sizes, cached per file version.
package raster

import (
	"context"
	"fmt"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// PdfcpuInspector reads page count and page dimensions with pdfcpu. It does not
// render; pair it with a Rasterizer in a Composite.
type PdfcpuInspector struct {
	mu    sync.Mutex
	cache map[string]dimsEntry
}

type dimsEntry struct {
	key  fileKey
	dims []types.Dim
}

// NewPdfcpuInspector creates an empty inspector.
func NewPdfcpuInspector() *PdfcpuInspector {
	return &PdfcpuInspector{cache: make(map[string]dimsEntry)}
}

func (p *PdfcpuInspector) dims(doc Document) ([]types.Dim, error) {
	key, err := keyFor(doc.Path)
	if err != nil {
		return nil, fmt.Errorf("raster: pdfcpu: %w", err)
	}

	p.mu.Lock()
	e, ok := p.cache[doc.Path]
	p.mu.Unlock()
	if ok && e.key == key {
		return e.dims, nil
	}

	dims, err := api.PageDimsFile(doc.Path)
	if err != nil {
		return nil, fmt.Errorf("raster: pdfcpu page dims %s: %w", doc.Path, err)
	}

	p.mu.Lock()
	p.cache[doc.Path] = dimsEntry{key: key, dims: dims}
	p.mu.Unlock()
	return dims, nil
}

func (p *PdfcpuInspector) PageCount(ctx context.Context, doc Document) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := api.PageCountFile(doc.Path)
	if err != nil {
		return 0, fmt.Errorf("raster: pdfcpu page count %s: %w", doc.Path, err)
	}
	return n, nil
}

func (p *PdfcpuInspector) PageSize(ctx context.Context, doc Document, page int) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	dims, err := p.dims(doc)
	if err != nil {
		return 0, 0, err
	}
	if err := checkPage(page, len(dims)); err != nil {
		return 0, 0, err
	}
	d := dims[page-1]
	return d.Width, d.Height, nil
}
