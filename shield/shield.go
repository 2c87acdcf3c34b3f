// CLAUDE:SUMMARY HTTP middleware for the docview API: security headers, HEAD handling, JSON body limits, per-request trace IDs and per-IP rate limits.
// Package shield provides the HTTP middleware stack of the docview API.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(shield.Options{MaxBody: 1 << 20}) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
	"time"
)

type contextKey string

const (
	// LoggerKey is the context key for the per-request structured logger.
	LoggerKey contextKey = "shield_logger"
)

// Options tunes APIStack.
type Options struct {
	// MaxBody caps JSON request bodies. Default: 1 MiB.
	MaxBody int64
	// Limits are per-IP rate limits by route prefix. Nil disables limiting.
	Limits map[string]Rule
	// Logger is the base of per-request loggers.
	Logger *slog.Logger
}

// APIStack returns the middleware for the JSON API, outermost first:
// HeadToGet, SecurityHeaders, MaxBody, TraceID, then the rate limiter.
func APIStack(opts Options) []func(http.Handler) http.Handler {
	if opts.MaxBody <= 0 {
		opts.MaxBody = 1 << 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(opts.MaxBody),
		TraceIDWith(opts.Logger),
	}
	if len(opts.Limits) > 0 {
		stack = append(stack, NewRateLimiter(opts.Limits).Middleware)
	}
	return stack
}

// DefaultLimits throttles the CPU-heavy endpoints: page rendering, search
// and commit.
func DefaultLimits() map[string]Rule {
	return map[string]Rule{
		"/api/pages/": {MaxRequests: 120, Window: time.Minute},
		"/api/search": {MaxRequests: 30, Window: time.Minute},
		"/api/commit": {MaxRequests: 10, Window: time.Minute},
	}
}
