package httpserver

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the HTTP server configuration.
//
// Start from DefaultConfig and override fields as needed:
//
//	cfg := httpserver.DefaultConfig()
//	cfg.Addr = ":9090"
//	server := httpserver.New(httpserver.WithConfig(cfg), httpserver.WithHandler(mux))
type Config struct {
	// Addr is the TCP address to listen on.
	//
	// Default: ":8080"
	Addr string

	// ServiceName identifies the server in logs, spans, metrics and health
	// responses.
	//
	// Default: "hedgebench"
	ServiceName string

	// ReadHeaderTimeout bounds how long reading request headers may take.
	//
	// Default: 5s
	ReadHeaderTimeout time.Duration

	// ReadTimeout bounds reading the whole request.
	//
	// Default: 15s
	ReadTimeout time.Duration

	// WriteTimeout bounds writing the response. It must exceed the longest
	// processing delay the endpoint is expected to draw; exponential tails
	// are long.
	//
	// Default: 30s
	WriteTimeout time.Duration

	// IdleTimeout bounds keep-alive idle time.
	//
	// Default: 90s
	IdleTimeout time.Duration

	// MaxHeaderBytes caps request header size.
	//
	// Default: 1 MB
	MaxHeaderBytes int

	// RequestTimeout, when positive, is attached to every request context.
	//
	// Default: 0 (none)
	RequestTimeout time.Duration

	// ShutdownTimeout is how long in-flight requests get to finish once the
	// server is told to stop.
	//
	// Default: 10s
	ShutdownTimeout time.Duration

	// Logger receives lifecycle events. Request logging is configured
	// separately through LoggerConfig.
	Logger zerolog.Logger

	// Handler serves requests. Required.
	Handler http.Handler

	// TracingConfig enables request spans.
	TracingConfig *TracingConfig

	// MetricsConfig enables request metrics.
	MetricsConfig *MetricsConfig

	// LoggerConfig enables request logging.
	LoggerConfig *LoggerConfig

	// HealthHandler receives the handler built by WithHealth.
	HealthHandler **HealthHandler

	// HealthVersion is reported by health responses.
	HealthVersion string
}

// DefaultConfig returns timeouts suited to a benchmark host.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		ServiceName:       "hedgebench",
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   10 * time.Second,
		Logger:            zerolog.Nop(),
	}
}
