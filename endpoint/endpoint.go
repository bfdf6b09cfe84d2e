// Package endpoint implements the simulated service under test.
//
// Every call sleeps for a delay drawn from a latency model and then answers
// with a description of the input and the delay. The wait honors
// cancellation: when a hedged sibling wins, the loser's context is cancelled
// and the endpoint gives the call up at once.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kroma-labs/hedgebench/latency"
	"github.com/kroma-labs/hedgebench/rpc"
)

// Faults injects server-side failures after the processing delay has elapsed.
// Rates are probabilities in [0, 1]; their sum must not exceed 1.
type Faults struct {
	// UnavailableRate is the share of calls that fail with Unavailable.
	UnavailableRate float64

	// InternalRate is the share of calls that fail with Internal.
	InternalRate float64
}

// Validate reports whether the rates form a valid distribution.
func (f Faults) Validate() error {
	if f.UnavailableRate < 0 || f.UnavailableRate > 1 {
		return fmt.Errorf("endpoint: unavailable rate must be in [0, 1], got %v", f.UnavailableRate)
	}
	if f.InternalRate < 0 || f.InternalRate > 1 {
		return fmt.Errorf("endpoint: internal rate must be in [0, 1], got %v", f.InternalRate)
	}
	if f.UnavailableRate+f.InternalRate > 1 {
		return fmt.Errorf("endpoint: fault rates sum to %v, must not exceed 1",
			f.UnavailableRate+f.InternalRate)
	}
	return nil
}

func (f Faults) enabled() bool {
	return f.UnavailableRate > 0 || f.InternalRate > 0
}

// Admitter decides whether a call may start now. *ratelimit.Limiter
// satisfies it.
type Admitter interface {
	TryAcquire() error
}

// Stats is a snapshot of the calls an Endpoint has finished.
type Stats struct {
	Served      int64 `json:"served"`
	Interrupted int64 `json:"interrupted"`
	TimedOut    int64 `json:"timed_out"`
	Failed      int64 `json:"failed"`
	Shed        int64 `json:"shed"`
}

// Endpoint is the simulated service. It is safe for concurrent use and calls
// never serialize on each other.
type Endpoint struct {
	model     latency.Sampler
	faults    Faults
	admission Admitter
	logger    zerolog.Logger

	served      atomic.Int64
	interrupted atomic.Int64
	timedOut    atomic.Int64
	failed      atomic.Int64
	shed        atomic.Int64
}

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithFaults enables fault injection. Invalid rates are ignored.
func WithFaults(f Faults) Option {
	return func(e *Endpoint) {
		if f.Validate() == nil {
			e.faults = f
		}
	}
}

// WithAdmission sheds calls the admitter refuses. Shed calls fail at once
// with Unavailable, so a hedging caller may retry them elsewhere.
func WithAdmission(a Admitter) Option {
	return func(e *Endpoint) {
		e.admission = a
	}
}

// WithLogger sets the logger used for per-call debug output.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Endpoint) {
		e.logger = logger
	}
}

// New creates an endpoint whose delays are drawn from model.
//
// Example:
//
//	model, _ := latency.NewExponential(200 * time.Millisecond)
//	ep := endpoint.New(model)
//	resp, err := ep.Process(ctx, &rpc.Request{Input: "test-input"})
func New(model latency.Sampler, opts ...Option) *Endpoint {
	e := &Endpoint{
		model:  model,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Process serves one call. It implements rpc.Service.
//
// The call waits for a sampled delay. If ctx is cancelled first the call
// fails with category Interrupted; if its deadline passes first the call
// fails with DeadlineExceeded. Either error carries the context's cause.
func (e *Endpoint) Process(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
	if req == nil {
		return nil, &rpc.Error{Category: rpc.InvalidArgument, Err: rpc.ErrNilRequest}
	}

	if e.admission != nil {
		if err := e.admission.TryAcquire(); err != nil {
			e.shed.Add(1)
			return nil, &rpc.Error{Category: rpc.Unavailable, Message: "over capacity", Err: err}
		}
	}

	delay := e.model.Sample()
	if delay < 0 {
		delay = 0
	}

	if err := sleep(ctx, delay); err != nil {
		e.logger.Debug().
			Dur("delay", delay).
			Err(err).
			Msg("processing interrupted")
		// A deadline is a slow call another attempt may still beat. A
		// cancelled caller has stopped waiting.
		if errors.Is(err, context.DeadlineExceeded) {
			e.timedOut.Add(1)
			return nil, &rpc.Error{
				Category: rpc.DeadlineExceeded,
				Message:  "processing timed out",
				Err:      context.Cause(ctx),
			}
		}
		e.interrupted.Add(1)
		return nil, &rpc.Error{
			Category: rpc.Interrupted,
			Message:  "processing interrupted",
			Err:      context.Cause(ctx),
		}
	}

	if err := e.injectFault(); err != nil {
		e.failed.Add(1)
		return nil, err
	}

	e.served.Add(1)
	e.logger.Debug().
		Str("input", req.Input).
		Dur("delay", delay).
		Msg("request processed")

	return &rpc.Response{Output: Format(req.Input, delay)}, nil
}

// Stats returns the counts of finished calls.
func (e *Endpoint) Stats() Stats {
	return Stats{
		Served:      e.served.Load(),
		Interrupted: e.interrupted.Load(),
		TimedOut:    e.timedOut.Load(),
		Failed:      e.failed.Load(),
		Shed:        e.shed.Load(),
	}
}

// Format renders a successful response, e.g.
// "Processed: test-input (delayed: 187.42ms)".
func Format(input string, delay time.Duration) string {
	ms := float64(delay) / float64(time.Millisecond)
	return fmt.Sprintf("Processed: %s (delayed: %.2fms)", input, ms)
}

func (e *Endpoint) injectFault() error {
	if !e.faults.enabled() {
		return nil
	}
	roll := rand.Float64()
	switch {
	case roll < e.faults.UnavailableRate:
		return rpc.Errorf(rpc.Unavailable, "injected unavailable fault")
	case roll < e.faults.UnavailableRate+e.faults.InternalRate:
		return rpc.Errorf(rpc.Internal, "injected internal fault")
	default:
		return nil
	}
}

// sleep waits for d or until ctx ends, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d == 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
