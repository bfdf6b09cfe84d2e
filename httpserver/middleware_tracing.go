package httpserver

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/hedgebench/rpc"
)

const scope = "github.com/kroma-labs/hedgebench/httpserver"

// TracingConfig configures the tracing middleware.
type TracingConfig struct {
	// TracerProvider defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider

	// Propagator defaults to otel.GetTextMapPropagator().
	Propagator propagation.TextMapPropagator

	// serviceName is set by the server.
	serviceName string

	// SkipPaths are never traced.
	SkipPaths []string
}

// Tracing returns middleware that continues the caller's trace and opens a
// server span named "HTTP <method> <path>". The span carries the failure
// category of the response; 500 and above mark it as failed.
func Tracing(cfg TracingConfig) Middleware {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.Propagator == nil {
		cfg.Propagator = otel.GetTextMapPropagator()
	}
	tracer := cfg.TracerProvider.Tracer(scope)

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

			ctx := cfg.Propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, "HTTP "+r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.ServiceName(cfg.serviceName),
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.ClientAddress(r.RemoteAddr),
				),
			)
			defer span.End()

			if id := RequestIDFromContext(ctx); id != "" {
				span.SetAttributes(attribute.String("request.id", id))
			}

			wrapped := wrapResponseWriter(w)
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			status := wrapped.Status()
			category := rpc.CategoryFromHTTPStatus(status)
			span.SetAttributes(
				semconv.HTTPResponseStatusCode(status),
				attribute.String("rpc.category", category.String()),
			)
			if status >= 500 {
				span.SetStatus(codes.Error, category.String())
			}
		})
	}
}
