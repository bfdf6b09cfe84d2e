package httpserver

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// LoggerConfig configures request logging.
type LoggerConfig struct {
	Logger zerolog.Logger

	// serviceName is set by the server.
	serviceName string

	// SkipPaths are never logged. Probe and scrape routes belong here.
	SkipPaths []string
}

// Logger returns middleware that logs one line per request. Successful
// requests log at debug so a benchmark at full rate does not flood the
// output; client errors log at info and server errors at warn.
func Logger(cfg LoggerConfig) Middleware {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := wrapResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			status := wrapped.Status()
			var event *zerolog.Event
			switch {
			case status >= 500:
				event = cfg.Logger.Warn()
			case status >= 400:
				event = cfg.Logger.Info()
			default:
				event = cfg.Logger.Debug()
			}

			event.
				Str("service", cfg.serviceName).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Int("bytes", wrapped.BytesWritten()).
				Str("remote_addr", r.RemoteAddr)
			if id := RequestIDFromContext(r.Context()); id != "" {
				event.Str("request_id", id)
			}
			event.Msg("request completed")
		})
	}
}
