package hedge

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the metric instruments for hedged execution.
type metrics struct {
	// attempts counts finished or cancelled attempts by outcome.
	attempts metric.Int64Counter

	// cancelled counts attempts cut short by the executor.
	cancelled metric.Int64Counter

	// wins counts logical requests by winning attempt index.
	wins metric.Int64Counter

	// launched records how many attempts each logical request issued.
	launched metric.Int64Histogram

	// requestDuration measures logical request latency from the first launch.
	requestDuration metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	m.attempts, err = meter.Int64Counter(
		"hedge.attempts",
		metric.WithDescription("Number of hedge attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.cancelled, err = meter.Int64Counter(
		"hedge.cancelled",
		metric.WithDescription("Number of attempts cancelled before completing"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.wins, err = meter.Int64Counter(
		"hedge.wins",
		metric.WithDescription("Number of logical requests won, by attempt index"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.launched, err = meter.Int64Histogram(
		"hedge.launched",
		metric.WithDescription("Attempts launched per logical request"),
		metric.WithUnit("{attempt}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5, 8),
	)
	if err != nil {
		return nil, err
	}

	m.requestDuration, err = meter.Float64Histogram(
		"hedge.request.duration",
		metric.WithDescription("Logical request latency from the first attempt in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.4, 0.8, 1.6, 3.2, 6.4,
		),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metrics) recordAttempt(ctx context.Context, a Attempt) {
	if m == nil || m.attempts == nil {
		return
	}
	outcome := a.Category.String()
	if a.Cancelled {
		outcome = "CANCELLED_BY_HEDGE"
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("hedge.outcome", outcome)))

	if a.Cancelled && m.cancelled != nil {
		m.cancelled.Add(ctx, 1)
	}
}

func (m *metrics) recordOutcome(ctx context.Context, out Outcome) {
	if m == nil {
		return
	}
	category := attribute.String("rpc.category", out.Category.String())

	if m.wins != nil && out.WinningAttempt > 0 {
		m.wins.Add(ctx, 1, metric.WithAttributes(
			attribute.String("hedge.attempt", strconv.Itoa(out.WinningAttempt)),
			category,
		))
	}
	if m.launched != nil {
		m.launched.Record(ctx, int64(out.Launched))
	}
	if m.requestDuration != nil {
		m.requestDuration.Record(ctx, out.TotalLatency.Seconds(), metric.WithAttributes(category))
	}
}
