package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/kroma-labs/hedgebench/bench"
	"github.com/kroma-labs/hedgebench/endpoint"
	"github.com/kroma-labs/hedgebench/hedge"
	"github.com/kroma-labs/hedgebench/internal/config"
	"github.com/kroma-labs/hedgebench/internal/remote"
	"github.com/kroma-labs/hedgebench/latency"
	"github.com/kroma-labs/hedgebench/ratelimit"
	"github.com/kroma-labs/hedgebench/report"
	"github.com/kroma-labs/hedgebench/rpc"
)

func newRunCmd(bootstrap func(context.Context) (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Drive load through the hedging executor and report latency percentiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return runBenchmark(cmd.Context(), a, cmd.OutOrStdout())
		},
	}
}

func runBenchmark(ctx context.Context, a *app, stdout io.Writer) error {
	cfg := a.cfg

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	call, closeTarget, err := dialTarget(ctx, a)
	if err != nil {
		return err
	}
	defer closeTarget()

	if brk, ok := cfg.RPCBreaker(); ok {
		brk.OnStateChange = func(name string, from, to gobreaker.State) {
			a.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		}
		call = rpc.WithBreaker(call, brk)
	}

	limiter, err := ratelimit.New(cfg.TargetQPS)
	if err != nil {
		return err
	}

	execOpts := []hedge.Option{
		hedge.WithLogger(a.logger),
		hedge.WithMeterProvider(a.telemetry.MeterProvider),
		hedge.WithTracerProvider(a.telemetry.TracerProvider),
	}
	if window, p, ok := cfg.AdaptiveDelay(); ok {
		execOpts = append(execOpts, hedge.WithAdaptiveDelay(window, p))
	}
	exec := hedge.NewExecutor(execOpts...)

	driver, err := bench.NewDriver(cfg.Bench(), limiter, exec, policy, call,
		bench.WithLogger(a.logger),
		bench.WithMeterProvider(a.telemetry.MeterProvider),
	)
	if err != nil {
		return err
	}

	a.logger.Info().
		Str("transport", cfg.Transport).
		Int("max_attempts", policy.MaxAttempts).
		Dur("hedging_delay", policy.HedgingDelay).
		Float64("adaptive_percentile", cfg.AdaptivePercentile).
		Str("hedgeable", policy.HedgeableFailures.String()).
		Float64("target_qps", limiter.Rate()).
		Bool("compare", cfg.Compare).
		Msg("starting benchmark")

	runID := uuid.NewString()
	var doc report.Document
	var runErr error
	if cfg.Compare {
		var cmp bench.Comparison
		cmp, runErr = driver.Compare(ctx)
		doc = report.FromComparison(runID, cmp)
	} else {
		var summary bench.Summary
		summary, runErr = driver.Run(ctx)
		doc = report.Document{
			RunID:       runID,
			GeneratedAt: time.Now().UTC(),
			Results:     []report.Result{report.FromSummary("hedged", summary)},
		}
	}

	// An aborted run still reports what it recorded.
	if err := writeReports(cfg.Output, doc, stdout); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// dialTarget returns the call attempts go through and a func releasing it.
func dialTarget(ctx context.Context, a *app) (rpc.CallFunc, func(), error) {
	cfg := a.cfg
	nop := func() {}

	if cfg.Transport == config.TransportInProcess {
		ep, err := newEndpoint(cfg, a)
		if err != nil {
			return nil, nop, err
		}
		return ep.Process, nop, nil
	}

	if cfg.ReadyURL != "" {
		prober := remote.Prober{Logger: a.logger}
		if err := prober.WaitReady(ctx, cfg.ReadyURL, cfg.ReadyTimeout); err != nil {
			return nil, nop, err
		}
	}

	switch cfg.Transport {
	case config.TransportGRPC:
		client, err := rpc.DialGRPC(cfg.Target)
		if err != nil {
			return nil, nop, err
		}
		return client.Process, func() { _ = client.Close() }, nil
	case config.TransportHTTP:
		// Every worker may hold MaxAttempts connections at once.
		conns := cfg.Concurrency * cfg.MaxAttempts
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.MaxIdleConns = conns
		transport.MaxIdleConnsPerHost = conns
		client := rpc.NewHTTPClient(cfg.Target, &http.Client{Transport: transport})
		return client.Process, transport.CloseIdleConnections, nil
	default:
		return nil, nop, fmt.Errorf("%w: unknown transport %q", config.ErrInvalid, cfg.Transport)
	}
}

// newEndpoint builds the simulated endpoint shared by the in-process
// transport and the serve command.
func newEndpoint(cfg config.Config, a *app, opts ...endpoint.Option) (*endpoint.Endpoint, error) {
	mean, err := cfg.MeanDelay()
	if err != nil {
		return nil, err
	}

	var modelOpts []latency.Option
	if cfg.Seed != 0 {
		modelOpts = append(modelOpts, latency.WithSeed(cfg.Seed))
	}
	model, err := latency.NewExponential(mean, modelOpts...)
	if err != nil {
		return nil, err
	}

	opts = append([]endpoint.Option{
		endpoint.WithFaults(cfg.EndpointFaults()),
		endpoint.WithLogger(a.logger),
	}, opts...)
	return endpoint.New(model, opts...), nil
}

func writeReports(out config.OutputConfig, doc report.Document, stdout io.Writer) error {
	if err := report.WriteText(stdout, doc); err != nil {
		return err
	}
	if out.JSON != "" {
		if err := writeFile(out.JSON, func(w io.Writer) error { return report.WriteJSON(w, doc) }); err != nil {
			return err
		}
	}
	if out.Text != "" {
		if err := writeFile(out.Text, func(w io.Writer) error { return report.WriteText(w, doc) }); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
