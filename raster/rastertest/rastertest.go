// CLAUDE:SUMMARY In-memory raster.Source for tests: scripted page sizes, per-document gates, injected open/render failures.
// Package rastertest provides an in-memory raster.Source for tests.
//
// Documents are registered by path with their page sizes. Rasterize returns
// a blank RGBA image sized page*dpi/72. A gate can be installed per document
// so a test releases pages one at a time:
//
//	src := rastertest.New()
//	src.AddDocument("a.pdf", rastertest.Letter, rastertest.Letter)
//	gate := src.Gate("a.pdf")
//	gate <- struct{}{} // let page 1 render
package rastertest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/hazyhaar/docview/raster"
)

// Size is a page size in points.
type Size struct {
	Width, Height float64
}

// Letter is a US letter page.
var Letter = Size{Width: raster.LetterWidth, Height: raster.LetterHeight}

// ErrUnknownDocument is returned for paths never registered.
var ErrUnknownDocument = errors.New("rastertest: unknown document")

// Call records one Rasterize invocation.
type Call struct {
	Path string
	Page int
	DPI  float64
}

// Source is a scripted raster.Source. Safe for concurrent use.
type Source struct {
	mu        sync.Mutex
	docs      map[string][]Size
	gates     map[string]chan struct{}
	openErr  map[string]error
	sizeErr   map[string]error
	rasterErr map[string]map[int]error
	calls     []Call
}

var _ raster.Source = (*Source)(nil)

// New creates an empty Source.
func New() *Source {
	return &Source{
		docs:      make(map[string][]Size),
		gates:     make(map[string]chan struct{}),
		openErr:  make(map[string]error),
		sizeErr:   make(map[string]error),
		rasterErr: make(map[string]map[int]error),
	}
}

// AddDocument registers path with one size per page.
func (s *Source) AddDocument(path string, pages ...Size) raster.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[path] = append([]Size(nil), pages...)
	return raster.Document{Path: path}
}

// Gate installs and returns an unbuffered gate for path. Each Rasterize call
// on path waits for one receive from the gate or for ctx to end.
func (s *Source) Gate(path string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := make(chan struct{})
	s.gates[path] = g
	return g
}

// FailOpen makes PageCount fail for path.
func (s *Source) FailOpen(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openErr[path] = err
}

// FailPageSize makes PageSize fail for path.
func (s *Source) FailPageSize(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sizeErr[path] = err
}

// FailRasterize makes Rasterize fail for one page of path.
func (s *Source) FailRasterize(path string, page int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rasterErr[path] == nil {
		s.rasterErr[path] = make(map[int]error)
	}
	s.rasterErr[path][page] = err
}

// Calls returns the Rasterize calls made so far.
func (s *Source) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Source) pages(path string) ([]Size, error) {
	pages, ok := s.docs[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, path)
	}
	return pages, nil
}

func (s *Source) PageCount(ctx context.Context, doc raster.Document) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openErr[doc.Path]; err != nil {
		return 0, err
	}
	pages, err := s.pages(doc.Path)
	if err != nil {
		return 0, err
	}
	return len(pages), nil
}

func (s *Source) PageSize(ctx context.Context, doc raster.Document, page int) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sizeErr[doc.Path]; err != nil {
		return 0, 0, err
	}
	pages, err := s.pages(doc.Path)
	if err != nil {
		return 0, 0, err
	}
	if page < 1 || page > len(pages) {
		return 0, 0, fmt.Errorf("rastertest: page %d out of range", page)
	}
	p := pages[page-1]
	return p.Width, p.Height, nil
}

func (s *Source) Rasterize(ctx context.Context, doc raster.Document, page int, dpi float64) (image.Image, error) {
	s.mu.Lock()
	gate := s.gates[doc.Path]
	s.calls = append(s.calls, Call{Path: doc.Path, Page: page, DPI: dpi})
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rasterErr[doc.Path][page]; err != nil {
		return nil, err
	}
	pages, err := s.pages(doc.Path)
	if err != nil {
		return nil, err
	}
	if page < 1 || page > len(pages) {
		return nil, fmt.Errorf("rastertest: page %d out of range", page)
	}
	p := pages[page-1]
	w := int(math.Round(p.Width * dpi / 72))
	h := int(math.Round(p.Height * dpi / 72))
	return image.NewRGBA(image.Rect(0, 0, w, h)), nil
}
