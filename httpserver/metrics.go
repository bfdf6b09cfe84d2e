package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kroma-labs/hedgebench/rpc"
)

// MetricsConfig configures the metrics middleware.
type MetricsConfig struct {
	// MeterProvider defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider

	// serviceName is set by the server.
	serviceName string

	// SkipPaths are never recorded.
	SkipPaths []string

	// DurationBuckets are histogram boundaries in seconds. The defaults
	// cover sub-millisecond probes up to multi-second exponential tails.
	DurationBuckets []float64
}

var defaultDurationBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.4, 0.8, 1.6, 3.2, 6.4,
}

// Metrics records server-side request metrics.
type Metrics struct {
	serviceName     string
	skip            map[string]struct{}
	requestDuration metric.Float64Histogram
	activeRequests  metric.Int64UpDownCounter
	requestTotal    metric.Int64Counter
}

// NewMetrics creates the instruments. It fails only if the meter rejects an
// instrument definition.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = defaultDurationBuckets
	}
	meter := cfg.MeterProvider.Meter(scope)

	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("Duration of HTTP requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(cfg.DurationBuckets...),
	)
	if err != nil {
		return nil, err
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"http.server.active_requests",
		metric.WithDescription("Number of in-flight HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	requestTotal, err := meter.Int64Counter(
		"http.server.request.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return &Metrics{
		serviceName:     cfg.serviceName,
		skip:            skip,
		requestDuration: requestDuration,
		activeRequests:  activeRequests,
		requestTotal:    requestTotal,
	}, nil
}

// Middleware returns middleware recording http.server.request.duration,
// http.server.active_requests and http.server.request.total. Finished
// requests carry the failure category their status maps to, so shed and
// interrupted calls can be told apart on /metrics.
func (m *Metrics) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := m.skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			base := []attribute.KeyValue{
				attribute.String("service.name", m.serviceName),
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			}
			m.activeRequests.Add(ctx, 1, metric.WithAttributes(base...))
			defer m.activeRequests.Add(ctx, -1, metric.WithAttributes(base...))

			start := time.Now()
			wrapped := wrapResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			attrs := metric.WithAttributes(append(base,
				attribute.String("http.response.status_code", strconv.Itoa(wrapped.Status())),
				attribute.String("rpc.category", rpc.CategoryFromHTTPStatus(wrapped.Status()).String()),
			)...)
			m.requestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
			m.requestTotal.Add(ctx, 1, attrs)
		})
	}
}
