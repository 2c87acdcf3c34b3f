// CLAUDE:SUMMARY pdfcpu-backed document service: merge, split, extract, rotate, delete, reorder, text/image stamps, link annotations, page-range parsing. One-shot file-to-file calls.
// Package docsvc is the document-mutation collaborator of the viewer. Every
// call is synchronous and stateless: it reads input files and writes a new
// output file. Coordinates are in document space (points, origin
// bottom-left), as produced by the geometry package.
package docsvc

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

var (
	// ErrUnsupported is returned for operations this service cannot perform.
	ErrUnsupported = errors.New("docsvc: operation not supported")
	// ErrInvalidArgument is returned for bad pages, angles or empty inputs.
	ErrInvalidArgument = errors.New("docsvc: invalid argument")
)

// Config tunes a Service.
type Config struct {
	// Font is the standard font used for text stamps. Default: Helvetica.
	Font string `yaml:"font"`
	// Logger overrides the default slog logger.
	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Font == "" {
		c.Font = "Helvetica"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Service performs document mutations with pdfcpu.
type Service struct {
	cfg Config
	log *slog.Logger
}

// New creates a Service.
func New(cfg Config) *Service {
	cfg.defaults()
	return &Service{cfg: cfg, log: cfg.Logger}
}

func conf() *model.Configuration {
	return model.NewDefaultConfiguration()
}

// ParsePageRange turns "1,3,5-8" into sorted, deduplicated 1-indexed pages
// no greater than total. Range bounds are clamped to [1, total]; single pages
// out of range and malformed parts are skipped. A blank string selects
// every page.
func ParsePageRange(s string, total int) []int {
	if total <= 0 {
		return nil
	}
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		out := make([]int, total)
		for i := range out {
			out[i] = i + 1
		}
		return out
	}

	clamp := func(n int) int { return min(total, max(1, n)) }
	seen := make(map[int]struct{})
	for _, part := range strings.Split(s, ",") {
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			a, err1 := strconv.Atoi(lo)
			b, err2 := strconv.Atoi(hi)
			if err1 != nil || err2 != nil {
				continue
			}
			a, b = clamp(a), clamp(b)
			if a > b {
				a, b = b, a
			}
			for p := a; p <= b; p++ {
				seen[p] = struct{}{}
			}
			continue
		}
		p, err := strconv.Atoi(part)
		if err != nil || p < 1 || p > total {
			continue
		}
		seen[p] = struct{}{}
	}

	out := make([]int, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// selection renders pages in pdfcpu's page selection syntax.
func selection(pages []int) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = strconv.Itoa(p)
	}
	return out
}

// PageCount returns the number of pages of path.
func (s *Service) PageCount(ctx context.Context, path string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("docsvc: page count %s: %w", path, err)
	}
	return n, nil
}

func (s *Service) checkPages(ctx context.Context, path string, pages []int) error {
	if len(pages) == 0 {
		return fmt.Errorf("%w: no pages selected", ErrInvalidArgument)
	}
	n, err := s.PageCount(ctx, path)
	if err != nil {
		return err
	}
	for _, p := range pages {
		if p < 1 || p > n {
			return fmt.Errorf("%w: page %d of %d", ErrInvalidArgument, p, n)
		}
	}
	return nil
}

// Merge concatenates inputs into out.
func (s *Service) Merge(ctx context.Context, inputs []string, out string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("%w: nothing to merge", ErrInvalidArgument)
	}
	if err := api.MergeCreateFile(inputs, out, false, conf()); err != nil {
		return fmt.Errorf("docsvc: merge: %w", err)
	}
	s.log.Info("docsvc: merged", "inputs", len(inputs), "out", out)
	return nil
}

// Split writes each selected page of in to its own file in outDir and
// returns the file names in page order. No pages selects every page.
func (s *Service) Split(ctx context.Context, in, outDir string, pages []int) ([]string, error) {
	n, err := s.PageCount(ctx, in)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		pages = ParsePageRange("", n)
	}
	if err := s.checkPages(ctx, in, pages); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("docsvc: split: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
	files := make([]string, 0, len(pages))
	for _, p := range pages {
		out := filepath.Join(outDir, fmt.Sprintf("%s_page_%d.pdf", base, p))
		if err := api.TrimFile(in, out, selection([]int{p}), conf()); err != nil {
			return files, fmt.Errorf("docsvc: split page %d: %w", p, err)
		}
		files = append(files, out)
	}
	s.log.Info("docsvc: split", "in", in, "files", len(files))
	return files, nil
}

// ExtractPages writes the selected pages of in, in order, to out.
func (s *Service) ExtractPages(ctx context.Context, in, out string, pages []int) error {
	if err := s.checkPages(ctx, in, pages); err != nil {
		return err
	}
	if err := api.TrimFile(in, out, selection(pages), conf()); err != nil {
		return fmt.Errorf("docsvc: extract pages: %w", err)
	}
	return nil
}

// Rotate rotates every page of in by degrees, a multiple of 90.
func (s *Service) Rotate(ctx context.Context, in, out string, degrees int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if degrees%90 != 0 {
		return fmt.Errorf("%w: rotation %d is not a multiple of 90", ErrInvalidArgument, degrees)
	}
	if err := api.RotateFile(in, out, degrees, nil, conf()); err != nil {
		return fmt.Errorf("docsvc: rotate: %w", err)
	}
	return nil
}

// DeletePages removes the given pages. Removing every page is refused.
func (s *Service) DeletePages(ctx context.Context, in, out string, pages []int) error {
	if err := s.checkPages(ctx, in, pages); err != nil {
		return err
	}
	n, _ := s.PageCount(ctx, in)
	uniq := ParsePageRange(strings.Join(selection(pages), ","), n)
	if len(uniq) >= n {
		return fmt.Errorf("%w: cannot delete every page", ErrInvalidArgument)
	}
	if err := api.RemovePagesFile(in, out, selection(uniq), conf()); err != nil {
		return fmt.Errorf("docsvc: delete pages: %w", err)
	}
	s.log.Info("docsvc: pages deleted", "in", in, "pages", uniq)
	return nil
}

// Reorder writes the pages of in in the given order. Pages may repeat or be
// omitted.
func (s *Service) Reorder(ctx context.Context, in, out string, order []int) error {
	if err := s.checkPages(ctx, in, order); err != nil {
		return err
	}
	if err := api.CollectFile(in, out, selection(order), conf()); err != nil {
		return fmt.Errorf("docsvc: reorder: %w", err)
	}
	return nil
}

// TextStamp describes text drawn onto a page.
type TextStamp struct {
	Page     int
	X, Y     float64
	Text     string
	FontSize float64
	R, G, B  uint8
}

// AddText draws st.Text with its baseline starting at (X, Y).
func (s *Service) AddText(ctx context.Context, in, out string, st TextStamp) error {
	if err := s.checkPages(ctx, in, []int{st.Page}); err != nil {
		return err
	}
	if st.Text == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidArgument)
	}
	size := st.FontSize
	if size <= 0 {
		size = 12
	}
	desc := fmt.Sprintf("font:%s, points:%d, pos:bl, scale:1 abs, rot:0, fillcolor:#%02x%02x%02x, op:1",
		s.cfg.Font, int(size+0.5), st.R, st.G, st.B)
	wm, err := pdfcpu.ParseTextWatermarkDetails(st.Text, desc, true, types.POINTS)
	if err != nil {
		return fmt.Errorf("docsvc: text stamp: %w", err)
	}
	wm.Dx, wm.Dy = st.X, st.Y
	if err := api.AddWatermarksFile(in, out, selection([]int{st.Page}), wm, conf()); err != nil {
		return fmt.Errorf("docsvc: add text: %w", err)
	}
	return nil
}

// ImageStamp describes an image drawn onto a page. (X, Y) is the lower-left
// corner; Width and Height are in points.
type ImageStamp struct {
	Page          int
	X, Y          float64
	Width, Height float64
	Path          string
}

// AddImage draws the image at st.Path scaled to fit Width x Height,
// preserving its aspect ratio.
func (s *Service) AddImage(ctx context.Context, in, out string, st ImageStamp) error {
	if err := s.checkPages(ctx, in, []int{st.Page}); err != nil {
		return err
	}
	if st.Width <= 0 || st.Height <= 0 {
		return fmt.Errorf("%w: image extent %gx%g", ErrInvalidArgument, st.Width, st.Height)
	}
	w, h, err := imageSize(st.Path)
	if err != nil {
		return err
	}
	scale := min(st.Width/float64(w), st.Height/float64(h))
	desc := fmt.Sprintf("scale:%.4f abs, pos:bl, rot:0, op:1", scale)
	wm, err := pdfcpu.ParseImageWatermarkDetails(st.Path, desc, true, types.POINTS)
	if err != nil {
		return fmt.Errorf("docsvc: image stamp: %w", err)
	}
	wm.Dx, wm.Dy = st.X, st.Y
	if err := api.AddWatermarksFile(in, out, selection([]int{st.Page}), wm, conf()); err != nil {
		return fmt.Errorf("docsvc: add image: %w", err)
	}
	return nil
}

func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("docsvc: image: %w", err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("docsvc: image %s: %w", path, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, fmt.Errorf("%w: empty image %s", ErrInvalidArgument, path)
	}
	return cfg.Width, cfg.Height, nil
}

// LinkStamp describes a clickable URI region. (X, Y) is the lower-left
// corner; Width and Height are in points.
type LinkStamp struct {
	Page          int
	X, Y          float64
	Width, Height float64
	URL           string
}

// AddLink attaches a borderless URI link annotation covering the stamp.
func (s *Service) AddLink(ctx context.Context, in, out string, st LinkStamp) error {
	if err := s.checkPages(ctx, in, []int{st.Page}); err != nil {
		return err
	}
	if st.Width <= 0 || st.Height <= 0 {
		return fmt.Errorf("%w: link extent %gx%g", ErrInvalidArgument, st.Width, st.Height)
	}
	if st.URL == "" {
		return fmt.Errorf("%w: empty link url", ErrInvalidArgument)
	}
	rect := types.NewRectangle(st.X, st.Y, st.X+st.Width, st.Y+st.Height)
	ann := model.NewLinkAnnotation(*rect, 0, "", "", "", 0, nil, nil, st.URL, nil, false, 0, model.BSSolid)
	if err := api.AddAnnotationsFile(in, out, selection([]int{st.Page}), ann, conf(), false); err != nil {
		return fmt.Errorf("docsvc: add link: %w", err)
	}
	return nil
}

// Links returns the URI link targets of page, in document order.
func (s *Service) Links(ctx context.Context, path string, page int) ([]string, error) {
	if err := s.checkPages(ctx, path, []int{page}); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("docsvc: links: %w", err)
	}
	defer f.Close()
	annots, err := api.Annotations(f, selection([]int{page}), conf())
	if err != nil {
		return nil, fmt.Errorf("docsvc: links %s: %w", path, err)
	}
	links, ok := annots[page][model.AnnLink]
	if !ok {
		return nil, nil
	}
	nrs := make([]int, 0, len(links.Map))
	for nr := range links.Map {
		nrs = append(nrs, nr)
	}
	sort.Ints(nrs)
	var urls []string
	for _, nr := range nrs {
		if l, ok := links.Map[nr].(model.LinkAnnotation); ok && l.URI != "" {
			urls = append(urls, l.URI)
		}
	}
	return urls, nil
}

// Sign would apply a digital signature. Not supported.
func (s *Service) Sign(ctx context.Context, in, out, certificate, password string) error {
	return fmt.Errorf("%w: digital signatures", ErrUnsupported)
}

// Convert would export to another format. Not supported.
func (s *Service) Convert(ctx context.Context, in, out, format string) error {
	return fmt.Errorf("%w: conversion to %q", ErrUnsupported, format)
}
