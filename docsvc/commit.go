// CLAUDE:SUMMARY Commits pending overlay marks into a new document: text, image and link stamps applied in order through intermediate files, highlights skipped.
package docsvc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hazyhaar/docview/overlay"
)

// Stamper draws stamps into a document. *Service implements it.
type Stamper interface {
	AddText(ctx context.Context, in, out string, st TextStamp) error
	AddImage(ctx context.Context, in, out string, st ImageStamp) error
	AddLink(ctx context.Context, in, out string, st LinkStamp) error
}

// CommitResult reports what Commit did with each mark.
type CommitResult struct {
	Applied []string `json:"applied"`
	Skipped []string `json:"skipped"`
}

// Commit writes in plus every text, image and link mark to out. Marks are
// applied in order; the first failure aborts and leaves out untouched.
// Search highlights are not document content and are skipped.
func Commit(ctx context.Context, st Stamper, in, out string, marks []overlay.Mark) (CommitResult, error) {
	var res CommitResult
	if in == out {
		return res, fmt.Errorf("%w: commit output must differ from input", ErrInvalidArgument)
	}

	tmp, err := os.MkdirTemp(filepath.Dir(out), ".commit-")
	if err != nil {
		return res, fmt.Errorf("docsvc: commit: %w", err)
	}
	defer os.RemoveAll(tmp)

	cur := in
	for i, m := range marks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		next := filepath.Join(tmp, fmt.Sprintf("step-%d.pdf", i))
		switch {
		case m.Kind == overlay.TextStamp && m.Text != nil:
			err = st.AddText(ctx, cur, next, TextStamp{
				Page:     m.Page,
				X:        m.Anchor.X,
				Y:        m.Anchor.Y,
				Text:     m.Text.Text,
				FontSize: m.Text.FontSize,
				R:        m.Text.Color.R,
				G:        m.Text.Color.G,
				B:        m.Text.Color.B,
			})
		case m.Kind == overlay.ImageStamp && m.Image != nil && m.Extent != nil:
			err = st.AddImage(ctx, cur, next, ImageStamp{
				Page:   m.Page,
				X:      m.Anchor.X,
				Y:      m.Anchor.Y,
				Width:  m.Extent.Width,
				Height: m.Extent.Height,
				Path:   m.Image.Path,
			})
		case m.Kind == overlay.LinkStamp && m.Link != nil && m.Extent != nil:
			err = st.AddLink(ctx, cur, next, LinkStamp{
				Page:   m.Page,
				X:      m.Anchor.X,
				Y:      m.Anchor.Y,
				Width:  m.Extent.Width,
				Height: m.Extent.Height,
				URL:    m.Link.URL,
			})
		default:
			res.Skipped = append(res.Skipped, m.ID)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("docsvc: commit mark %s: %w", m.ID, err)
		}
		res.Applied = append(res.Applied, m.ID)
		cur = next
	}

	if cur == in {
		return res, errors.Join(ErrInvalidArgument, errors.New("docsvc: no mark could be committed"))
	}
	if err := os.Rename(cur, out); err != nil {
		return res, fmt.Errorf("docsvc: commit: %w", err)
	}
	return res, nil
}
