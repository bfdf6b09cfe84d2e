package bench

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kroma-labs/hedgebench/hedge"
	"github.com/kroma-labs/hedgebench/rpc"
)

// scope is the instrumentation scope name for OpenTelemetry.
const scope = "github.com/kroma-labs/hedgebench/bench"

// Summary aggregates the logical requests recorded in one measurement window.
type Summary struct {
	// Count is the number of recorded logical requests, failed ones included.
	Count int64

	// ErrorCount is the number of recorded requests that failed.
	ErrorCount int64

	// ThroughputPerSecond is Count divided by the window length.
	ThroughputPerSecond float64

	// Latency percentiles use the nearest-rank method over every recorded
	// request, failed ones included.
	P50  time.Duration
	P95  time.Duration
	P99  time.Duration
	Mean time.Duration
	Min  time.Duration
	Max  time.Duration

	// Elapsed is the measurement window length.
	Elapsed time.Duration

	// AttemptsTotal counts attempts launched across all requests.
	AttemptsTotal int64

	// CancelledAttempts counts attempts cut short by a decided request.
	CancelledAttempts int64

	// HedgeWins counts requests decided by an attempt other than the first.
	HedgeWins int64

	// ErrorsByCategory breaks ErrorCount down by failure category.
	ErrorsByCategory map[rpc.Category]int64
}

// ErrorRate returns ErrorCount / Count, or 0 for an empty summary.
func (s Summary) ErrorRate() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(s.Count)
}

// Collector accumulates logical request outcomes. It is safe for concurrent
// use.
type Collector struct {
	mu    sync.Mutex
	now   func() time.Time
	start time.Time
	last  time.Time

	samples    []time.Duration
	errors     int64
	attempts   int64
	cancelled  int64
	hedgeWins  int64
	byCategory map[rpc.Category]int64

	requestDuration metric.Float64Histogram
	requests        metric.Int64Counter
}

// CollectorOption configures a Collector.
type CollectorOption func(*collectorConfig)

type collectorConfig struct {
	now           func() time.Time
	meterProvider metric.MeterProvider
}

// WithClock replaces time.Now for window bookkeeping.
func WithClock(now func() time.Time) CollectorOption {
	return func(cfg *collectorConfig) {
		cfg.now = now
	}
}

// WithCollectorMeterProvider sets a custom OpenTelemetry MeterProvider.
// If not called, the global provider from otel.GetMeterProvider() is used.
func WithCollectorMeterProvider(mp metric.MeterProvider) CollectorOption {
	return func(cfg *collectorConfig) {
		cfg.meterProvider = mp
	}
}

// NewCollector creates an empty collector.
func NewCollector(opts ...CollectorOption) *Collector {
	cfg := collectorConfig{
		now:           time.Now,
		meterProvider: otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Collector{
		now:        cfg.now,
		byCategory: make(map[rpc.Category]int64),
	}

	meter := cfg.meterProvider.Meter(scope)
	c.requestDuration, _ = meter.Float64Histogram(
		"bench.request.duration",
		metric.WithDescription("Measured logical request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.4, 0.8, 1.6, 3.2, 6.4,
		),
	)
	c.requests, _ = meter.Int64Counter(
		"bench.requests",
		metric.WithDescription("Measured logical requests by category"),
		metric.WithUnit("{request}"),
	)

	return c
}

// Start opens the measurement window. Only the first call has an effect.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.start.IsZero() {
		c.start = c.now()
	}
}

// Record adds one logical request. The window closes at the last Record.
// Recording without Start opens the window at the request's launch.
func (c *Collector) Record(ctx context.Context, out hedge.Outcome) {
	now := c.now()

	c.mu.Lock()
	if c.start.IsZero() {
		c.start = now.Add(-out.TotalLatency)
	}
	if now.After(c.last) {
		c.last = now
	}
	c.samples = append(c.samples, out.TotalLatency)
	c.attempts += int64(out.Launched)
	c.cancelled += int64(out.CancelledAttempts())
	if out.Hedged() {
		c.hedgeWins++
	}
	if out.Failed() {
		c.errors++
		c.byCategory[out.Category]++
	}
	c.mu.Unlock()

	attrs := metric.WithAttributes(attribute.String("rpc.category", out.Category.String()))
	if c.requestDuration != nil {
		c.requestDuration.Record(ctx, out.TotalLatency.Seconds(), attrs)
	}
	if c.requests != nil {
		c.requests.Add(ctx, 1, attrs)
	}
}

// Summarize computes the summary of everything recorded so far.
func (c *Collector) Summarize() Summary {
	c.mu.Lock()
	samples := make([]time.Duration, len(c.samples))
	copy(samples, c.samples)
	s := Summary{
		Count:             int64(len(c.samples)),
		ErrorCount:        c.errors,
		AttemptsTotal:     c.attempts,
		CancelledAttempts: c.cancelled,
		HedgeWins:         c.hedgeWins,
		ErrorsByCategory:  make(map[rpc.Category]int64, len(c.byCategory)),
	}
	for k, v := range c.byCategory {
		s.ErrorsByCategory[k] = v
	}
	if !c.start.IsZero() && c.last.After(c.start) {
		s.Elapsed = c.last.Sub(c.start)
	}
	c.mu.Unlock()

	if len(samples) == 0 {
		return s
	}

	sort.Slice(samples, func(i, j int) bool {
		return samples[i] < samples[j]
	})

	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	s.Mean = sum / time.Duration(len(samples))
	s.Min = samples[0]
	s.Max = samples[len(samples)-1]
	s.P50 = Percentile(samples, 0.50)
	s.P95 = Percentile(samples, 0.95)
	s.P99 = Percentile(samples, 0.99)

	if s.Elapsed > 0 {
		s.ThroughputPerSecond = float64(s.Count) / s.Elapsed.Seconds()
	}
	return s
}

// Percentile returns the nearest-rank percentile of an ascending sample set:
// the value at rank ceil(p*n), 1-based. p is clamped to (0, 1]; an empty set
// yields 0.
func Percentile(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	// The epsilon keeps products such as 0.29*100 from rounding up a rank.
	rank := int(math.Ceil(p*float64(n) - 1e-9))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}
