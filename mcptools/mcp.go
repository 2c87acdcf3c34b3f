package mcptools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docview/kit"
)

// RegisterMCP registers the viewer tools on an MCP server.
func (t *Tools) RegisterMCP(srv *mcp.Server) {
	t.registerDocumentTools(srv)
	t.registerViewTools(srv)
	t.registerMarkTools(srv)
	t.registerPageTools(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

// register binds fn to a tool whose arguments decode into R.
func register[R, S any](t *Tools, srv *mcp.Server, tool *mcp.Tool, fn func(context.Context, R) (S, error)) {
	endpoint := func(ctx context.Context, req any) (any, error) {
		return fn(ctx, *req.(*R))
	}
	chained := kit.Chain(kit.Logging(t.log, tool.Name))(endpoint)
	kit.RegisterMCPTool(srv, tool, chained, kit.DecodeJSON[R]())
}

type noArgs struct{}

func bare[S any](fn func(context.Context) (S, error)) func(context.Context, noArgs) (S, error) {
	return func(ctx context.Context, _ noArgs) (S, error) { return fn(ctx) }
}

// --- document ---

func (t *Tools) registerDocumentTools(srv *mcp.Server) {
	register(t, srv, &mcp.Tool{
		Name:        "viewer_load",
		Description: "Open a PDF document in the viewer and start rendering it page by page.",
		InputSchema: inputSchema(map[string]any{
			"path": prop("string", "Document path relative to the viewer root"),
		}, []string{"path"}),
	}, t.Load)

	register(t, srv, &mcp.Tool{
		Name:        "viewer_reload",
		Description: "Re-render the open document at the current zoom, keeping marks and selection.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, bare(t.Reload))

	register(t, srv, &mcp.Tool{
		Name:        "viewer_clear",
		Description: "Close the open document and forget its pages, marks and selection.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, bare(t.Clear))

	register(t, srv, &mcp.Tool{
		Name:        "viewer_state",
		Description: "Return the viewer state: document, load state, zoom, rendered pages, selection and mark count.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, bare(t.State))
}

// --- zoom, resize, mode, click ---

func (t *Tools) registerViewTools(srv *mcp.Server) {
	register(t, srv, &mcp.Tool{
		Name:        "viewer_zoom",
		Description: "Change the zoom: a fixed level, a relative delta, a number of zoom steps, or fit_width. Set exactly one.",
		InputSchema: inputSchema(map[string]any{
			"level":     prop("number", "Fixed zoom level, 1.0 = 100%"),
			"delta":     prop("number", "Relative change added to the current level"),
			"steps":     prop("integer", "Zoom steps, negative to zoom out"),
			"fit_width": prop("boolean", "Fit pages to the container width"),
		}, nil),
	}, t.Zoom)

	register(t, srv, &mcp.Tool{
		Name:        "viewer_resize",
		Description: "Report the container width in pixels. Large changes trigger a debounced fit-width reload.",
		InputSchema: inputSchema(map[string]any{
			"width": prop("integer", "Container width in pixels"),
		}, []string{"width"}),
	}, t.Resize)

	register(t, srv, &mcp.Tool{
		Name:        "viewer_mode",
		Description: "Set the interaction mode: view, add_text, add_image, add_link or select_pages.",
		InputSchema: inputSchema(map[string]any{
			"mode": map[string]any{
				"type": "string",
				"enum": []string{"view", "add_text", "add_image", "add_link", "select_pages"},
			},
		}, []string{"mode"}),
	}, t.Mode)

	register(t, srv, &mcp.Tool{
		Name:        "viewer_click",
		Description: "Map a pixel position on a rendered page (origin top-left) to document coordinates.",
		InputSchema: inputSchema(map[string]any{
			"page": prop("integer", "1-indexed page"),
			"x":    prop("number", "Pixels from the left edge"),
			"y":    prop("number", "Pixels from the top edge"),
		}, []string{"page", "x", "y"}),
	}, t.Click)
}

// --- marks ---

func (t *Tools) registerMarkTools(srv *mcp.Server) {
	register(t, srv, &mcp.Tool{
		Name:        "viewer_add_text",
		Description: "Add a pending text stamp at a document position (points, origin bottom-left).",
		InputSchema: inputSchema(map[string]any{
			"page":      prop("integer", "1-indexed page"),
			"x":         prop("number", "Baseline start, points from the left"),
			"y":         prop("number", "Baseline, points from the bottom"),
			"text":      prop("string", "Stamp text"),
			"font_size": prop("number", "Font size in points"),
			"color":     prop("object", "Colour as {r,g,b} bytes, default blue"),
		}, []string{"page", "x", "y", "text"}),
	}, t.AddText)

	box := map[string]any{
		"page":   prop("integer", "1-indexed page"),
		"x":      prop("number", "Lower-left corner, points from the left"),
		"y":      prop("number", "Lower-left corner, points from the bottom"),
		"width":  prop("number", "Width in points"),
		"height": prop("number", "Height in points"),
	}
	with := func(name string, p map[string]any) map[string]any {
		out := map[string]any{name: p}
		for k, v := range box {
			out[k] = v
		}
		return out
	}

	register(t, srv, &mcp.Tool{
		Name:        "viewer_add_image",
		Description: "Add a pending image stamp scaled into a document rectangle.",
		InputSchema: inputSchema(with("path", prop("string", "PNG or JPEG path relative to the viewer root")),
			[]string{"page", "x", "y", "width", "height", "path"}),
	}, t.AddImage)

	register(t, srv, &mcp.Tool{
		Name:        "viewer_add_link",
		Description: "Add a link region (http, https or mailto), written as a link annotation on commit.",
		InputSchema: inputSchema(with("url", prop("string", "Link target")),
			[]string{"page", "x", "y", "width", "height", "url"}),
	}, t.AddLink)

	register(t, srv, &mcp.Tool{
		Name:        "viewer_marks",
		Description: "List pending marks ordered by page.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, bare(t.Marks))

	register(t, srv, &mcp.Tool{
		Name:        "viewer_remove_mark",
		Description: "Remove one pending mark by ID.",
		InputSchema: inputSchema(map[string]any{
			"id": prop("string", "Mark ID"),
		}, []string{"id"}),
	}, t.RemoveMark)

	register(t, srv, &mcp.Tool{
		Name:        "viewer_clear_marks",
		Description: "Remove pending marks, optionally only those of one kind (text, image, link, highlight).",
		InputSchema: inputSchema(map[string]any{
			"kind": prop("string", "Restrict to one mark kind"),
		}, nil),
	}, t.ClearMarks)
}

// --- selection, search, mutation ---

func (t *Tools) registerPageTools(srv *mcp.Server) {
	register(t, srv, &mcp.Tool{
		Name:        "viewer_toggle_selection",
		Description: "Toggle a page in the selection set.",
		InputSchema: inputSchema(map[string]any{
			"page": prop("integer", "1-indexed page"),
		}, []string{"page"}),
	}, t.ToggleSelection)

	register(t, srv, &mcp.Tool{
		Name:        "viewer_search",
		Description: "Search the open document and highlight matches. An empty query clears highlights.",
		InputSchema: inputSchema(map[string]any{
			"query": prop("string", "Text to find, case-insensitive"),
		}, []string{"query"}),
	}, t.Search)

	register(t, srv, &mcp.Tool{
		Name:        "viewer_commit",
		Description: "Write the open document with its pending text, image and link stamps to a new file, then open that file.",
		InputSchema: inputSchema(map[string]any{
			"output": prop("string", "Output path relative to the viewer root"),
		}, []string{"output"}),
	}, t.Commit)

	register(t, srv, &mcp.Tool{
		Name:        "viewer_delete_selected",
		Description: "Write the open document without its selected pages to a new file, then open that file.",
		InputSchema: inputSchema(map[string]any{
			"output": prop("string", "Output path relative to the viewer root"),
		}, []string{"output"}),
	}, t.DeleteSelected)
}
