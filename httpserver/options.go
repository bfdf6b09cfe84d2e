package httpserver

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Option configures the server.
type Option func(*Config)

// WithConfig replaces the whole configuration. Apply it before other options.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(c *Config) {
		c.Addr = addr
	}
}

// WithServiceName sets the service name. The server hands it to tracing,
// metrics, request logging and health responses.
func WithServiceName(name string) Option {
	return func(c *Config) {
		c.ServiceName = name
	}
}

// WithHandler sets the handler to serve.
func WithHandler(h http.Handler) Option {
	return func(c *Config) {
		c.Handler = h
	}
}

// WithLogger sets the logger for server lifecycle events.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithRequestTimeout attaches a deadline to every request context.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.RequestTimeout = d
	}
}

// WithTracing enables request spans.
//
// Example:
//
//	httpserver.WithTracing(httpserver.TracingConfig{
//	    TracerProvider: tp,
//	    SkipPaths:      []string{"/livez", "/readyz", "/ping", "/metrics"},
//	})
func WithTracing(cfg TracingConfig) Option {
	return func(c *Config) {
		c.TracingConfig = &cfg
	}
}

// WithMetrics enables request metrics.
func WithMetrics(cfg MetricsConfig) Option {
	return func(c *Config) {
		c.MetricsConfig = &cfg
	}
}

// WithLogging enables request logging.
func WithLogging(cfg LoggerConfig) Option {
	return func(c *Config) {
		c.LoggerConfig = &cfg
	}
}

// WithHealth builds a HealthHandler carrying the server's name and version
// and stores it in *handler once New returns.
//
// Example:
//
//	var health *httpserver.HealthHandler
//	server := httpserver.New(httpserver.WithHealth(&health, "1.0.0"), ...)
//	health.AddReadinessCheck("grpc", grpcServing)
//	health.Register(mux)
func WithHealth(handler **HealthHandler, version string) Option {
	return func(c *Config) {
		c.HealthHandler = handler
		c.HealthVersion = version
	}
}
