package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/kroma-labs/hedgebench/endpoint"
	"github.com/kroma-labs/hedgebench/httpserver"
	"github.com/kroma-labs/hedgebench/ratelimit"
	"github.com/kroma-labs/hedgebench/rpc"
)

const (
	// statsPath serves the endpoint's call counters.
	statsPath = "/v1/stats"

	shutdownTimeout = 10 * time.Second
)

var errGRPCNotServing = errors.New("grpc server not serving")

func newServeCmd(bootstrap func(context.Context) (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the simulated endpoint over gRPC and HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			grpcLis, err := net.Listen("tcp", a.cfg.Listen.GRPC)
			if err != nil {
				return err
			}
			httpLis, err := net.Listen("tcp", a.cfg.Listen.HTTP)
			if err != nil {
				grpcLis.Close()
				return err
			}
			return serve(cmd.Context(), a, grpcLis, httpLis)
		},
	}
}

// serve runs the endpoint on both listeners until ctx ends, then drains
// them. It owns both listeners.
func serve(ctx context.Context, a *app, grpcLis, httpLis net.Listener) error {
	cfg := a.cfg

	var (
		opts      []endpoint.Option
		admission *ratelimit.Limiter
	)
	if cfg.Listen.MaxQPS > 0 {
		var err error
		admission, err = ratelimit.New(cfg.Listen.MaxQPS)
		if err != nil {
			grpcLis.Close()
			httpLis.Close()
			return err
		}
		opts = append(opts, endpoint.WithAdmission(admission))
	}
	ep, err := newEndpoint(cfg, a, opts...)
	if err != nil {
		grpcLis.Close()
		httpLis.Close()
		return err
	}

	svc := rpc.Service(ep)
	if d := cfg.Listen.RequestTimeout; d > 0 {
		svc = rpc.CallFunc(func(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return ep.Process(ctx, req)
		})
	}

	grpcServer := rpc.NewGRPCServer(svc, a.logger)
	var grpcServing atomic.Bool

	mux := http.NewServeMux()
	mux.Handle("POST "+rpc.ProcessPath, rpc.NewHTTPHandler(ep))
	mux.Handle(httpserver.MetricsPath, httpserver.MetricsHandler(a.telemetry.Registry))
	mux.HandleFunc("GET "+statsPath, func(w http.ResponseWriter, _ *http.Request) {
		httpserver.WriteSuccess(w, http.StatusOK, ep.Stats(), "")
	})

	probes := []string{httpserver.PingPath, httpserver.LivePath, httpserver.ReadyPath, httpserver.MetricsPath}
	var health *httpserver.HealthHandler
	httpServer := httpserver.New(
		httpserver.WithAddr(httpLis.Addr().String()),
		httpserver.WithServiceName(serviceName),
		httpserver.WithLogger(a.logger),
		httpserver.WithHandler(mux),
		httpserver.WithRequestTimeout(cfg.Listen.RequestTimeout),
		httpserver.WithTracing(httpserver.TracingConfig{TracerProvider: a.telemetry.TracerProvider, SkipPaths: probes}),
		httpserver.WithMetrics(httpserver.MetricsConfig{MeterProvider: a.telemetry.MeterProvider, SkipPaths: probes}),
		httpserver.WithLogging(httpserver.LoggerConfig{Logger: a.logger, SkipPaths: probes}),
		httpserver.WithHealth(&health, version),
	)
	health.AddReadinessCheck("grpc", func(context.Context) error {
		if !grpcServing.Load() {
			return errGRPCNotServing
		}
		return nil
	})
	health.Register(mux)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		grpcServing.Store(true)
		defer grpcServing.Store(false)
		a.logger.Info().Str("addr", grpcLis.Addr().String()).Msg("grpc server started")
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		grpcServing.Store(false)
		stopGRPC(grpcServer)
		return nil
	})
	g.Go(func() error {
		return httpServer.Serve(gctx, httpLis)
	})

	err = g.Wait()
	event := a.logger.Info().Interface("stats", ep.Stats())
	if admission != nil {
		event = event.Interface("admission", admission.Stats())
	}
	event.Msg("endpoint stopped")
	return err
}

// stopGRPC drains in-flight calls, forcing a stop after shutdownTimeout.
func stopGRPC(s *grpc.Server) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		s.Stop()
	}
}
