package main

import (
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/docview/docsvc"
	"github.com/hazyhaar/docview/geometry"
	"github.com/hazyhaar/docview/journal"
	"github.com/hazyhaar/docview/mcptools"
	"github.com/hazyhaar/docview/overlay"
	"github.com/hazyhaar/docview/shield"
	"github.com/hazyhaar/docview/viewport"
)

// newRouter binds the viewer operations to HTTP. jrnl may be nil.
func newRouter(tools *mcptools.Tools, jrnl *journal.Journal, opts shield.Options) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(opts) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", handle(func(ctx context.Context, _ struct{}) (viewport.Snapshot, error) {
			return tools.State(ctx)
		}))
		r.Post("/load", handle(tools.Load))
		r.Post("/reload", handle(func(ctx context.Context, _ struct{}) (viewport.Snapshot, error) {
			return tools.Reload(ctx)
		}))
		r.Post("/clear", handle(func(ctx context.Context, _ struct{}) (viewport.Snapshot, error) {
			return tools.Clear(ctx)
		}))
		r.Post("/zoom", handle(tools.Zoom))
		r.Post("/resize", handle(tools.Resize))
		r.Post("/mode", handle(tools.Mode))
		r.Post("/click", handle(tools.Click))

		r.Route("/marks", func(r chi.Router) {
			r.Get("/", handle(func(ctx context.Context, _ struct{}) (mcptools.MarksResp, error) {
				return tools.Marks(ctx)
			}))
			r.Post("/text", handle(tools.AddText))
			r.Post("/image", handle(tools.AddImage))
			r.Post("/link", handle(tools.AddLink))
			r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				res, err := tools.ClearMarks(r.Context(), mcptools.ClearMarksReq{Kind: r.URL.Query().Get("kind")})
				respond(w, r, res, err)
			})
			r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
				res, err := tools.RemoveMark(r.Context(), mcptools.RemoveMarkReq{ID: chi.URLParam(r, "id")})
				if err == nil && !res["removed"] {
					writeJSON(w, 404, map[string]string{"error": "mark not found"})
					return
				}
				respond(w, r, res, err)
			})
		})

		r.Post("/selection/{page}", func(w http.ResponseWriter, r *http.Request) {
			page, err := strconv.Atoi(chi.URLParam(r, "page"))
			if err != nil {
				writeError(w, 400, err)
				return
			}
			res, err := tools.ToggleSelection(r.Context(), mcptools.PageReq{Page: page})
			respond(w, r, res, err)
		})
		r.Post("/search", handle(tools.Search))
		r.Post("/commit", handle(tools.Commit))
		r.Post("/delete-selected", handle(tools.DeleteSelected))

		r.Get("/pages/{page}.png", func(w http.ResponseWriter, r *http.Request) {
			page, err := strconv.Atoi(chi.URLParam(r, "page"))
			if err != nil {
				writeError(w, 400, err)
				return
			}
			img, err := tools.PageImage(r.Context(), page)
			if err != nil {
				respond(w, r, nil, err)
				return
			}
			w.Header().Set("Content-Type", "image/png")
			if err := png.Encode(w, img); err != nil {
				shield.GetLogger(r.Context()).Warn("docview: encode page", "page", page, "error", err)
			}
		})

		r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
			if jrnl == nil {
				writeJSON(w, 404, map[string]string{"error": "journal disabled"})
				return
			}
			entries, err := jrnl.Recent(r.Context(), journal.Filter{
				Type:     r.URL.Query().Get("type"),
				Document: r.URL.Query().Get("document"),
				Limit:    queryInt(r, "limit", 100),
			})
			if entries == nil {
				entries = []journal.Entry{}
			}
			respond(w, r, entries, err)
		})
	})
	return r
}

// handle decodes a JSON body into R, calls fn and writes its result. An
// empty body decodes to the zero R.
func handle[R, S any](fn func(context.Context, R) (S, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req R
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			code := http.StatusBadRequest
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				code = http.StatusRequestEntityTooLarge
			}
			writeError(w, code, err)
			return
		}
		res, err := fn(r.Context(), req)
		respond(w, r, res, err)
	}
}

func respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		code := statusFor(err)
		if code >= 500 {
			shield.GetLogger(r.Context()).Error("docview: request failed", "path", r.URL.Path, "error", err)
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, 200, v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, mcptools.ErrBadRequest),
		errors.Is(err, overlay.ErrInvalidMark),
		errors.Is(err, viewport.ErrInvalidMode),
		errors.Is(err, docsvc.ErrInvalidArgument),
		errors.Is(err, geometry.ErrGeometry):
		return http.StatusBadRequest
	case errors.Is(err, viewport.ErrNoDocument),
		errors.Is(err, viewport.ErrNoPage):
		return http.StatusNotFound
	case errors.Is(err, docsvc.ErrUnsupported),
		errors.Is(err, viewport.ErrNoSearcher):
		return http.StatusNotImplemented
	case errors.Is(err, viewport.ErrStopped),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
