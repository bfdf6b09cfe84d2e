// Package bench drives load through a hedged call and summarizes what it saw.
//
// A Driver paces logical requests with a rate limiter, runs each one through
// a hedge.Executor, and records measured outcomes into a Collector. Warmup
// iterations run the same way but are not recorded.
//
// Example:
//
//	limiter, _ := ratelimit.New(50)
//	driver, err := bench.NewDriver(bench.DefaultConfig(), limiter,
//	    hedge.NewExecutor(), policy, ep.Process)
//	if err != nil {
//	    return err
//	}
//	summary, err := driver.Run(ctx)
package bench

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/kroma-labs/hedgebench/hedge"
	"github.com/kroma-labs/hedgebench/rpc"
)

// ErrInvalidConfig is returned when a Driver is built from an unusable
// configuration.
var ErrInvalidConfig = errors.New("bench: invalid config")

// Config holds the load shape of one benchmark run.
type Config struct {
	// TargetQPS is the rate at which logical requests start.
	//
	// Default: 50
	TargetQPS float64

	// WarmupIterations run before measurement and are not recorded.
	//
	// Default: 100
	WarmupIterations int

	// MeasurementIterations are recorded into the summary.
	//
	// Default: 500
	MeasurementIterations int

	// Concurrency is the number of workers issuing logical requests. It must
	// cover TargetQPS times the expected request latency, or the workers
	// rather than the limiter bound the rate.
	//
	// Default: 32
	Concurrency int

	// Input is sent as the request payload.
	//
	// Default: "test-input"
	Input string
}

// DefaultConfig returns the load shape of the reference benchmark: 50
// requests per second, 100 warmup and 500 measured iterations.
func DefaultConfig() Config {
	return Config{
		TargetQPS:             50,
		WarmupIterations:      100,
		MeasurementIterations: 500,
		Concurrency:           32,
		Input:                 "test-input",
	}
}

// Validate reports whether the configuration can be run.
func (c Config) Validate() error {
	if !(c.TargetQPS > 0) || math.IsInf(c.TargetQPS, 0) {
		return fmt.Errorf("%w: target qps must be positive, got %v", ErrInvalidConfig, c.TargetQPS)
	}
	if c.WarmupIterations < 0 {
		return fmt.Errorf("%w: warmup iterations must not be negative, got %d", ErrInvalidConfig, c.WarmupIterations)
	}
	if c.MeasurementIterations < 1 {
		return fmt.Errorf("%w: measurement iterations must be at least 1, got %d",
			ErrInvalidConfig, c.MeasurementIterations)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalidConfig, c.Concurrency)
	}
	return nil
}

// Acquirer hands out permits to start a logical request.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

// Driver runs benchmark iterations. A Driver may be run more than once; each
// Run starts from an empty Collector.
type Driver struct {
	cfg           Config
	limiter       Acquirer
	exec          *hedge.Executor
	policy        hedge.Policy
	call          rpc.CallFunc
	logger        zerolog.Logger
	meterProvider metric.MeterProvider
	label         string
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger for run lifecycle output.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithMeterProvider sets the MeterProvider handed to each run's Collector.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(d *Driver) {
		d.meterProvider = mp
	}
}

// WithLabel names the run in log output.
func WithLabel(label string) Option {
	return func(d *Driver) {
		d.label = label
	}
}

// NewDriver creates a driver. exec may be nil, in which case a default
// executor is used. Configuration and policy are validated here so a bad
// setup aborts before any load is sent.
func NewDriver(
	cfg Config,
	limiter Acquirer,
	exec *hedge.Executor,
	policy hedge.Policy,
	call rpc.CallFunc,
	opts ...Option,
) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if limiter == nil {
		return nil, fmt.Errorf("%w: rate limiter is required", ErrInvalidConfig)
	}
	if call == nil {
		return nil, fmt.Errorf("%w: call is required", ErrInvalidConfig)
	}
	if exec == nil {
		exec = hedge.NewExecutor()
	}

	d := &Driver{
		cfg:           cfg,
		limiter:       limiter,
		exec:          exec,
		policy:        policy,
		call:          call,
		logger:        zerolog.Nop(),
		meterProvider: otel.GetMeterProvider(),
		label:         "hedged",
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Policy returns the hedging policy the driver runs with.
func (d *Driver) Policy() hedge.Policy {
	return d.policy
}

// Run executes the warmup and measurement iterations and returns the summary
// of the measured ones.
//
// Failed requests are counted, never fatal. Run only stops early when ctx
// ends; the summary of whatever was measured is returned with the error.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	collector := NewCollector(WithCollectorMeterProvider(d.meterProvider))

	warmup := int64(d.cfg.WarmupIterations)
	total := warmup + int64(d.cfg.MeasurementIterations)
	workers := min(int64(d.cfg.Concurrency), total)

	d.logger.Info().
		Str("run", d.label).
		Float64("target_qps", d.cfg.TargetQPS).
		Int64("warmup", warmup).
		Int("measurement", d.cfg.MeasurementIterations).
		Int("max_attempts", d.policy.MaxAttempts).
		Dur("hedging_delay", d.policy.HedgingDelay).
		Str("hedgeable", d.policy.HedgeableFailures.String()).
		Msg("benchmark run started")

	var (
		next      atomic.Int64
		startOnce sync.Once
	)
	g, gctx := errgroup.WithContext(ctx)
	for range workers {
		g.Go(func() error {
			for {
				i := next.Add(1) - 1
				if i >= total {
					return nil
				}
				if err := d.limiter.Acquire(gctx); err != nil {
					return err
				}

				measured := i >= warmup
				if measured {
					startOnce.Do(collector.Start)
				}
				if i == warmup && warmup > 0 {
					d.logger.Debug().Str("run", d.label).Msg("warmup complete")
				}

				out := d.exec.Run(gctx, &rpc.Request{Input: d.cfg.Input}, d.policy, d.call)
				// Requests cut short by an aborted run are not measurements.
				if gctx.Err() != nil && out.Failed() {
					return gctx.Err()
				}
				if measured {
					collector.Record(gctx, out)
				}
			}
		})
	}

	err := g.Wait()
	summary := collector.Summarize()
	if err != nil {
		d.logger.Warn().Err(err).Str("run", d.label).Int64("recorded", summary.Count).Msg("benchmark run aborted")
		return summary, fmt.Errorf("bench: run aborted: %w", err)
	}

	d.logger.Info().
		Str("run", d.label).
		Int64("count", summary.Count).
		Int64("errors", summary.ErrorCount).
		Float64("throughput", summary.ThroughputPerSecond).
		Dur("p50", summary.P50).
		Dur("p95", summary.P95).
		Dur("p99", summary.P99).
		Dur("elapsed", summary.Elapsed).
		Msg("benchmark run finished")

	return summary, nil
}

// Comparison holds a single-attempt baseline next to the hedged run.
type Comparison struct {
	Baseline Summary
	Hedged   Summary
}

// P99Reduction returns how much lower the hedged P99 is than the baseline's,
// as a fraction of the baseline. Negative values mean hedging made it worse.
func (c Comparison) P99Reduction() float64 {
	if c.Baseline.P99 == 0 {
		return 0
	}
	return 1 - float64(c.Hedged.P99)/float64(c.Baseline.P99)
}

// Compare runs the same load twice: first with a single attempt per request,
// then with the driver's policy.
func (d *Driver) Compare(ctx context.Context) (Comparison, error) {
	var cmp Comparison

	baseline := *d
	baseline.policy.MaxAttempts = 1
	baseline.label = "baseline"

	start := time.Now()
	summary, err := baseline.Run(ctx)
	cmp.Baseline = summary
	if err != nil {
		return cmp, err
	}

	summary, err = d.Run(ctx)
	cmp.Hedged = summary
	if err != nil {
		return cmp, err
	}

	d.logger.Info().
		Dur("baseline_p99", cmp.Baseline.P99).
		Dur("hedged_p99", cmp.Hedged.P99).
		Float64("p99_reduction", cmp.P99Reduction()).
		Dur("elapsed", time.Since(start)).
		Msg("comparison finished")

	return cmp, nil
}
