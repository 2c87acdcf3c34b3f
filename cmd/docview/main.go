// CLAUDE:SUMMARY Entry point for the docview viewer service: YAML config, SQLite event journal, go-fitz/pdfcpu raster source, viewport loop, chi JSON API and optional MCP over stdio.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docview/config"
	"github.com/hazyhaar/docview/dbopen"
	"github.com/hazyhaar/docview/docsvc"
	"github.com/hazyhaar/docview/journal"
	"github.com/hazyhaar/docview/mcptools"
	"github.com/hazyhaar/docview/raster"
	"github.com/hazyhaar/docview/shield"
	"github.com/hazyhaar/docview/viewport"
)

var version = "dev"

func main() {
	configPath := flag.String("config", env("DOCVIEW_CONFIG", ""), "YAML configuration file")
	openPath := flag.String("open", "", "document to load at startup, relative to the server root")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			slog.Error("config", "path", *configPath, "error", err)
			os.Exit(1)
		}
	}
	stdio := env("MCP_TRANSPORT", "") == "stdio" || cfg.MCP.Enabled

	// Logging. Stdout carries the MCP stream in stdio mode.
	var lvl slog.Level
	switch env("LOG_LEVEL", "info") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	out := os.Stdout
	if stdio {
		out = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	if addr := os.Getenv("PORT"); addr != "" {
		cfg.Server.Addr = ":" + addr
	}

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Event journal.
	var jrnl *journal.Journal
	if cfg.Journal.Path != "" {
		db, err := dbopen.Open(cfg.Journal.Path, dbopen.WithMkdirAll(), dbopen.WithSchema(journal.Schema))
		if err != nil {
			slog.Error("journal db", "path", cfg.Journal.Path, "error", err)
			os.Exit(1)
		}
		defer db.Close()
		jrnl = journal.New(db, cfg.JournalOptions(logger))
		defer jrnl.Close()
		go retention(ctx, jrnl, cfg.Journal.RetentionDays)
	}

	// Raster source: exact page boxes from pdfcpu, pixels from MuPDF.
	fitz := raster.NewFitzSource(logger)
	defer fitz.Close()
	src := raster.WithLetterFallback(raster.Composite{
		Inspector:  raster.NewPdfcpuInspector(),
		Rasterizer: fitz,
	}, logger)

	docs := docsvc.New(cfg.Documents)

	vcfg := cfg.ViewportConfig(logger)
	vcfg.Searcher = docs
	if jrnl != nil {
		vcfg.Handler = jrnl.Handler()
	}
	vp := viewport.New(src, vcfg)
	go func() {
		if err := vp.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("viewport", "error", err)
		}
	}()

	tools := mcptools.New(vp, docs, mcptools.Config{
		Root:     cfg.Server.Root,
		ZoomStep: cfg.Viewer.ZoomStep,
		Logger:   logger,
	})

	if *openPath != "" {
		if _, err := tools.Load(ctx, mcptools.LoadReq{Path: *openPath}); err != nil {
			slog.Error("open", "path", *openPath, "error", err)
			os.Exit(1)
		}
	}

	// MCP over stdio replaces the HTTP server.
	if stdio {
		srv := mcp.NewServer(&mcp.Implementation{Name: cfg.MCP.Name, Version: version}, nil)
		tools.RegisterMCP(srv)
		slog.Info("MCP stdio starting", "root", cfg.Server.Root)
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			slog.Error("MCP stdio", "error", err)
			os.Exit(1)
		}
		return
	}

	router := newRouter(tools, jrnl, shield.Options{
		MaxBody: cfg.Server.MaxBody,
		Limits:  shield.DefaultLimits(),
		Logger:  logger,
	})
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
	}

	go func() {
		<-ctx.Done()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		httpSrv.Shutdown(shutCtx)
	}()

	slog.Info("docview starting", "addr", cfg.Server.Addr, "root", cfg.Server.Root, "version", version)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server", "error", err)
		os.Exit(1)
	}
	slog.Info("docview stopped")
}

// retention prunes journal entries older than days, once at startup and
// then daily.
func retention(ctx context.Context, j *journal.Journal, days int) {
	prune := func() {
		n, err := j.Cleanup(ctx, days)
		if err != nil {
			slog.Warn("journal cleanup", "error", err)
			return
		}
		if n > 0 {
			slog.Info("journal cleanup", "deleted", n, "retention_days", days)
		}
	}
	prune()
	t := time.NewTicker(24 * time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			prune()
		}
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
