package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/docview/idgen"
	"github.com/hazyhaar/docview/kit"
)

var newTraceID = idgen.NanoID(8)

// TraceID is TraceIDWith(slog.Default()).
func TraceID(next http.Handler) http.Handler {
	return TraceIDWith(slog.Default())(next)
}

// TraceIDWith tags each request with a short random trace ID, echoed in
// X-Trace-ID, and attaches a request-scoped logger derived from base.
// An incoming X-Trace-ID is kept.
func TraceIDWith(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get("X-Trace-ID")
			if traceID == "" || len(traceID) > 64 {
				traceID = newTraceID()
			}
			w.Header().Set("X-Trace-ID", traceID)

			logger := base.With(
				"trace_id", traceID,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx := kit.WithTraceID(r.Context(), traceID)
			ctx = context.WithValue(ctx, LoggerKey, logger)
			logger.Debug("request")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetLogger returns the request logger, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// GetTraceID returns the request trace ID, or "". It is stored with
// kit.WithTraceID so endpoint middleware sees the same ID.
func GetTraceID(ctx context.Context) string {
	return kit.GetTraceID(ctx)
}
