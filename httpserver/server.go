package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"
)

// ErrNoHandler is returned when a server is started without a handler.
var ErrNoHandler = errors.New("httpserver: handler is required (use WithHandler)")

// Server wraps http.Server with a middleware stack and graceful shutdown.
type Server struct {
	httpServer *http.Server
	config     Config
	logger     zerolog.Logger
}

// New creates a server. DefaultConfig is the starting point; options are
// applied in order.
func New(opts ...Option) *Server {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "hedgebench"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	if cfg.HealthHandler != nil {
		*cfg.HealthHandler = NewHealthHandler(
			withHealthServiceName(cfg.ServiceName),
			WithVersion(cfg.HealthVersion),
		)
	}

	handler := cfg.Handler
	if handler != nil {
		handler = Chain(buildStack(cfg)...)(handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		},
		config: cfg,
		logger: cfg.Logger,
	}
}

func buildStack(cfg Config) []Middleware {
	stack := []Middleware{Recovery(cfg.Logger), RequestID()}

	if cfg.TracingConfig != nil {
		tracingCfg := *cfg.TracingConfig
		tracingCfg.serviceName = cfg.ServiceName
		stack = append(stack, Tracing(tracingCfg))
	}
	if cfg.MetricsConfig != nil {
		metricsCfg := *cfg.MetricsConfig
		metricsCfg.serviceName = cfg.ServiceName
		if m, err := NewMetrics(metricsCfg); err == nil {
			stack = append(stack, m.Middleware())
		} else {
			cfg.Logger.Warn().Err(err).Msg("http metrics disabled")
		}
	}
	if cfg.LoggerConfig != nil {
		loggerCfg := *cfg.LoggerConfig
		loggerCfg.serviceName = cfg.ServiceName
		stack = append(stack, Logger(loggerCfg))
	}
	if cfg.RequestTimeout > 0 {
		stack = append(stack, Timeout(cfg.RequestTimeout))
	}

	return stack
}

// ListenAndServe listens on the configured address and serves until ctx
// ends. See Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.config.Handler == nil {
		return ErrNoHandler
	}
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("httpserver: listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve accepts connections on lis until ctx ends, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	if s.config.Handler == nil {
		lis.Close()
		return ErrNoHandler
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("addr", lis.Addr().String()).
			Str("service", s.config.ServiceName).
			Msg("http server starting")

		err := s.httpServer.Serve(lis)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.logger.Error().Err(err).Msg("http server failed")
		}
		return err
	case <-ctx.Done():
		s.logger.Info().Err(ctx.Err()).Msg("http server stopping")
	}

	if err := s.shutdown(); err != nil {
		return err
	}
	return <-errCh
}

// shutdown drains in-flight requests. The parent context has already ended,
// so the drain gets a fresh deadline.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("graceful shutdown failed, forcing close")
		if closeErr := s.httpServer.Close(); closeErr != nil {
			s.logger.Error().Err(closeErr).Msg("force close failed")
		}
		return fmt.Errorf("httpserver: shutdown: %w", err)
	}

	s.logger.Info().Msg("http server stopped")
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ServiceName returns the configured service name.
func (s *Server) ServiceName() string {
	return s.config.ServiceName
}
