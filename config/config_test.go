package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/docview/loader"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Viewer.BaseDPI != 144 || c.Viewer.Margin != 80 || c.Viewer.FallbackLevel != 0.8 {
		t.Errorf("viewer defaults: %+v", c.Viewer)
	}
	if c.Resize.Threshold != 20 || c.Resize.Settle != 600*time.Millisecond || c.Resize.Tolerance != 0.05 {
		t.Errorf("resize defaults: %+v", c.Resize)
	}
	if c.Viewer.ZoomMin != 0.1 || c.Viewer.ZoomMax != 5 || c.Viewer.DefaultZoom != "fit_width" {
		t.Errorf("zoom defaults: %+v", c.Viewer)
	}
	if c.Server.Addr != ":8090" || c.Journal.RetentionDays != 30 || c.MCP.Name != "docview" {
		t.Errorf("shell defaults: %+v %+v %+v", c.Server, c.Journal, c.MCP)
	}
}

func TestLoadFile(t *testing.T) {
	yml := `
viewer:
  base_dpi: 96
  default_zoom: "150%"
  zoom_max: 3
resize:
  threshold: 40
  settle: 250ms
server:
  addr: "127.0.0.1:9000"
  root: /srv/docs
journal:
  path: /var/lib/docview/journal.db
  flush_interval: 5s
mcp:
  enabled: true
documents:
  font: Courier
`
	path := filepath.Join(t.TempDir(), "docview.yaml")
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Viewer.BaseDPI != 96 || c.Viewer.ZoomMax != 3 || c.Viewer.Margin != 80 {
		t.Errorf("viewer: %+v", c.Viewer)
	}
	if c.Resize.Threshold != 40 || c.Resize.Settle != 250*time.Millisecond {
		t.Errorf("resize: %+v", c.Resize)
	}
	if c.Server.Addr != "127.0.0.1:9000" || c.Server.Root != "/srv/docs" {
		t.Errorf("server: %+v", c.Server)
	}
	if c.Journal.Path != "/var/lib/docview/journal.db" || c.Journal.FlushInterval != 5*time.Second {
		t.Errorf("journal: %+v", c.Journal)
	}
	if !c.MCP.Enabled || c.Documents.Font != "Courier" {
		t.Errorf("mcp/documents: %+v %+v", c.MCP, c.Documents)
	}

	vc := c.ViewportConfig(nil)
	if diff := cmp.Diff(loader.Zoom{Level: 1.5, Mode: loader.Fixed}, vc.DefaultZoom); diff != "" {
		t.Errorf("default zoom mismatch (-want +got):\n%s", diff)
	}
	if vc.Loader.BaseDPI != 96 || vc.Resize.Threshold != 40 || vc.ZoomTolerance != 0.05 {
		t.Errorf("viewport config: %+v", vc)
	}
	if jc := c.JournalOptions(nil); jc.FlushInterval != 5*time.Second {
		t.Errorf("journal options: %+v", jc)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); !os.IsNotExist(err) {
		t.Fatalf("got %v, want not-exist", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := []string{
		"viewer: [",
		"viewer:\n  default_zoom: huge\n",
		"viewer:\n  default_zoom: \"-1\"\n",
		"viewer:\n  zoom_min: 4\n  zoom_max: 2\n",
	}
	for _, c := range cases {
		if _, err := Parse([]byte(c)); err == nil {
			t.Errorf("Parse(%q): expected error", c)
		}
	}
}

func TestParseZoom(t *testing.T) {
	tests := []struct {
		in   string
		want loader.Zoom
	}{
		{"fit_width", loader.Zoom{Level: 1, Mode: loader.FitWidth}},
		{"Fit-Width", loader.Zoom{Level: 1, Mode: loader.FitWidth}},
		{"1.25", loader.Zoom{Level: 1.25, Mode: loader.Fixed}},
		{"80%", loader.Zoom{Level: 0.8, Mode: loader.Fixed}},
	}
	for _, tt := range tests {
		got, err := ParseZoom(tt.in)
		if err != nil {
			t.Errorf("ParseZoom(%q): %v", tt.in, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("ParseZoom(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}
