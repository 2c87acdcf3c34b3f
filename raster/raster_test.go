package raster

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
)

type stubSource struct {
	w, h    float64
	sizeErr error
}

func (s stubSource) PageCount(context.Context, Document) (int, error) { return 1, nil }

func (s stubSource) PageSize(context.Context, Document, int) (float64, float64, error) {
	return s.w, s.h, s.sizeErr
}

func (s stubSource) Rasterize(context.Context, Document, int, float64) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
}

func TestWithLetterFallback(t *testing.T) {
	ctx := context.Background()

	src := WithLetterFallback(stubSource{sizeErr: errors.New("broken box")}, nil)
	w, h, err := src.PageSize(ctx, Document{Path: "x.pdf"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if w != LetterWidth || h != LetterHeight {
		t.Fatalf("fallback: got %gx%g, want %gx%g", w, h, LetterWidth, LetterHeight)
	}

	src = WithLetterFallback(stubSource{w: 595, h: 842}, nil)
	w, h, err = src.PageSize(ctx, Document{Path: "x.pdf"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if w != 595 || h != 842 {
		t.Fatalf("passthrough: got %gx%g", w, h)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.7"), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Name() != "doc.pdf" {
		t.Errorf("Name: got %q", doc.Name())
	}

	if _, err := Open(filepath.Join(dir, "missing.pdf")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Open(dir); err == nil {
		t.Error("expected error for directory")
	}
	if _, err := Open(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestComposite(t *testing.T) {
	c := Composite{Inspector: stubSource{w: 100, h: 200}, Rasterizer: stubSource{}}
	ctx := context.Background()
	n, err := c.PageCount(ctx, Document{})
	if err != nil || n != 1 {
		t.Fatalf("PageCount: %d, %v", n, err)
	}
	w, h, err := c.PageSize(ctx, Document{}, 1)
	if err != nil || w != 100 || h != 200 {
		t.Fatalf("PageSize: %gx%g, %v", w, h, err)
	}
	img, err := c.Rasterize(ctx, Document{}, 1, 72)
	if err != nil || img.Bounds().Dx() != 1 {
		t.Fatalf("Rasterize: %v, %v", img, err)
	}
}

func TestKeyFor_ChangesOnRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(path, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	k1, err := keyFor(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("longer"), 0o644); err != nil {
		t.Fatal(err)
	}
	k2, err := keyFor(path)
	if err != nil {
		t.Fatal(err)
	}
	if k1 == k2 {
		t.Fatal("file key should change after rewrite")
	}
}
