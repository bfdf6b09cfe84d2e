// Package hedge runs one logical request as a race of redundant attempts.
//
// Hedged requests cut tail latency by sending a duplicate call when the first
// has not answered within a delay. The first attempt to succeed, or to fail
// with a category the policy does not consider hedgeable, decides the
// request; every other attempt is cancelled.
//
// Example:
//
//	exec := hedge.NewExecutor(hedge.WithLogger(logger))
//	out := exec.Run(ctx, &rpc.Request{Input: "test-input"}, hedge.Policy{
//	    MaxAttempts:       3,
//	    HedgingDelay:      50 * time.Millisecond,
//	    HedgeableFailures: hedge.DefaultHedgeableFailures(),
//	}, client.Process)
//	if out.Failed() {
//	    return out.Err
//	}
//
// Latency is always measured from the launch of the first attempt, so a
// request rescued by attempt 2 still pays for the time attempt 1 was stuck.
package hedge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/hedgebench/rpc"
)

// scope is the instrumentation scope name for OpenTelemetry.
const scope = "github.com/kroma-labs/hedgebench/hedge"

// ErrAttemptsExhausted wraps the last failure when every attempt failed with
// a hedgeable category and no budget was left.
var ErrAttemptsExhausted = errors.New("hedge: all attempts failed")

// Attempt is the outcome of one call issued for a logical request.
type Attempt struct {
	// Index is the 1-based launch order.
	Index int

	// Launched is the offset from the first attempt's launch.
	Launched time.Duration

	// Latency is measured from this attempt's own launch.
	Latency time.Duration

	Response *rpc.Response
	Category rpc.Category
	Err      error

	// Cancelled is set for attempts still pending when the request was
	// decided. Their result is discarded.
	Cancelled bool
}

// Outcome is the result of one logical request.
type Outcome struct {
	// WinningAttempt is the index of the deciding attempt, or 0 when no
	// attempt decided the request (budget exhausted or caller gave up).
	WinningAttempt int

	// TotalLatency runs from the first attempt's launch to the completion
	// that decided the request.
	TotalLatency time.Duration

	Response *rpc.Response
	Category rpc.Category
	Err      error

	// Launched is the number of attempts issued.
	Launched int

	// Attempts holds every launched attempt in index order.
	Attempts []Attempt
}

// Failed reports whether the logical request failed.
func (o Outcome) Failed() bool {
	return o.Category != rpc.OK
}

// Hedged reports whether an attempt other than the first decided the request.
func (o Outcome) Hedged() bool {
	return o.WinningAttempt > 1
}

// CancelledAttempts returns how many attempts were cut short.
func (o Outcome) CancelledAttempts() int {
	n := 0
	for _, a := range o.Attempts {
		if a.Cancelled {
			n++
		}
	}
	return n
}

// Executor runs hedged requests. It holds no per-request state and is safe
// for concurrent use.
type Executor struct {
	logger    zerolog.Logger
	tracer    trace.Tracer
	metrics   *metrics
	hook      func(Attempt)
	tieWindow time.Duration
	adaptive  *adaptiveDelay
}

type executorConfig struct {
	logger         zerolog.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	hook           func(Attempt)
	tieWindow      time.Duration
	adaptive       *adaptiveDelay
}

// Option configures an Executor.
type Option func(*executorConfig)

// WithLogger sets the logger for per-request debug output.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *executorConfig) {
		cfg.logger = logger
	}
}

// WithMeterProvider sets a custom OpenTelemetry MeterProvider.
// If not called, the global provider from otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *executorConfig) {
		cfg.meterProvider = mp
	}
}

// WithTracerProvider sets a custom OpenTelemetry TracerProvider.
// If not called, the global provider from otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *executorConfig) {
		cfg.tracerProvider = tp
	}
}

// WithAttemptHook registers fn to be called once per launched attempt after
// the request is decided, in index order, on the goroutine that called Run.
func WithAttemptHook(fn func(Attempt)) Option {
	return func(cfg *executorConfig) {
		cfg.hook = fn
	}
}

// DefaultTieWindow is how close two completions must be to count as a tie.
const DefaultTieWindow = time.Millisecond

// WithTieWindow treats completions within d of each other as simultaneous,
// in which case the lowest attempt index wins. Once a deciding result is in
// hand, the executor waits up to d for lower-indexed siblings still pending.
// Zero limits ties to identical completion times.
//
// Default: DefaultTieWindow
func WithTieWindow(d time.Duration) Option {
	return func(cfg *executorConfig) {
		if d >= 0 {
			cfg.tieWindow = d
		}
	}
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...Option) *Executor {
	cfg := executorConfig{
		logger:         zerolog.Nop(),
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
		tieWindow:      DefaultTieWindow,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	m, _ := newMetrics(cfg.meterProvider.Meter(scope))

	return &Executor{
		logger:    cfg.logger,
		tracer:    cfg.tracerProvider.Tracer(scope),
		metrics:   m,
		hook:      cfg.hook,
		tieWindow: cfg.tieWindow,
		adaptive:  cfg.adaptive,
	}
}

// Run executes one logical request under policy.
//
// Run never returns an error of its own: failures are reported in the
// Outcome. A policy that does not validate is clamped (MaxAttempts to at
// least 1, HedgingDelay to at least 0). When ctx ends before the request is
// decided, pending attempts are cancelled and the outcome carries ctx's
// category. Under WithAdaptiveDelay the hedging delay comes from the latency
// window once it is warm.
func (e *Executor) Run(ctx context.Context, req *rpc.Request, policy Policy, call rpc.CallFunc) Outcome {
	policy = e.adaptive.delay(policy.normalized())

	ctx, span := e.tracer.Start(ctx, "hedge.run", trace.WithAttributes(
		attribute.Int("hedge.max_attempts", policy.MaxAttempts),
		attribute.Int64("hedge.delay_ms", policy.HedgingDelay.Milliseconds()),
	))
	defer span.End()

	var out Outcome
	if policy.MaxAttempts == 1 {
		out = e.runSingle(ctx, req, call)
	} else {
		out = e.runHedged(ctx, span, req, policy, call)
	}

	e.adaptive.observe(out)
	e.finish(ctx, span, out)
	return out
}

// Wrap returns a CallFunc that hedges every call through call.
func (e *Executor) Wrap(policy Policy, call rpc.CallFunc) rpc.CallFunc {
	return func(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
		out := e.Run(ctx, req, policy, call)
		return out.Response, out.Err
	}
}

// runSingle issues one attempt on the caller's goroutine and reports its raw
// result.
func (e *Executor) runSingle(ctx context.Context, req *rpc.Request, call rpc.CallFunc) Outcome {
	start := time.Now()
	resp, err := invoke(withAttemptIndex(ctx, 1), req, call)
	latency := time.Since(start)

	a := Attempt{
		Index:    1,
		Latency:  latency,
		Response: resp,
		Category: rpc.CategoryOf(err),
		Err:      err,
	}
	return Outcome{
		WinningAttempt: 1,
		TotalLatency:   latency,
		Response:       resp,
		Category:       a.Category,
		Err:            err,
		Launched:       1,
		Attempts:       []Attempt{a},
	}
}

func (e *Executor) runHedged(
	ctx context.Context,
	span trace.Span,
	req *rpc.Request,
	policy Policy,
	call rpc.CallFunc,
) Outcome {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{
		ctx:       runCtx,
		span:      span,
		req:       req,
		call:      call,
		policy:    policy,
		tieWindow: e.tieWindow,
		results:   make(chan result, policy.MaxAttempts),
		attempts:  make([]Attempt, 0, policy.MaxAttempts),
		starts:    make([]time.Time, 0, policy.MaxAttempts),
		done:      make([]bool, 0, policy.MaxAttempts),
	}

	r.start = time.Now()
	if policy.HedgingDelay == 0 {
		for range policy.MaxAttempts {
			r.launch()
		}
	} else {
		r.launch()
	}

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	arm := func() {
		if policy.HedgingDelay == 0 || r.exhausted() {
			timerC = nil
			return
		}
		if timer == nil {
			timer = time.NewTimer(policy.HedgingDelay)
		} else {
			timer.Reset(policy.HedgingDelay)
		}
		timerC = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	arm()

	for {
		select {
		case <-ctx.Done():
			return r.abandon(ctx.Err())

		case <-timerC:
			r.launch()
			arm()

		case first := <-r.results:
			if err := ctx.Err(); err != nil {
				return r.abandon(err)
			}

			batch := r.gather(first)
			if winner, ok := r.pickWinner(batch); ok {
				cancel()
				return r.settle(winner)
			}

			// Every completion in the batch was hedgeable. Replace each one
			// so a dead attempt never holds back the budget.
			for range batch {
				if !r.exhausted() {
					r.launch()
				}
			}
			arm()

			if r.pending == 0 {
				return r.giveUp(batch[len(batch)-1])
			}
		}
	}
}

// finish reports the decided request to hooks, metrics, traces and logs.
func (e *Executor) finish(ctx context.Context, span trace.Span, out Outcome) {
	for _, a := range out.Attempts {
		e.metrics.recordAttempt(ctx, a)
		span.AddEvent("attempt.finished", trace.WithAttributes(
			attribute.Int("hedge.attempt", a.Index),
			attribute.String("rpc.category", a.Category.String()),
			attribute.Bool("hedge.cancelled", a.Cancelled),
			attribute.Int64("hedge.latency_us", a.Latency.Microseconds()),
		))
		if e.hook != nil {
			e.hook(a)
		}
	}
	e.metrics.recordOutcome(ctx, out)

	span.SetAttributes(
		attribute.Int("hedge.winning_attempt", out.WinningAttempt),
		attribute.Int("hedge.launched", out.Launched),
		attribute.String("rpc.category", out.Category.String()),
	)
	if out.Failed() {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Category.String())
	}

	e.logger.Debug().
		Int("winning_attempt", out.WinningAttempt).
		Int("launched", out.Launched).
		Int("cancelled", out.CancelledAttempts()).
		Str("category", out.Category.String()).
		Dur("latency", out.TotalLatency).
		Msg("hedged request decided")
}

// result is what an attempt goroutine reports back.
type result struct {
	index    int
	resp     *rpc.Response
	err      error
	category rpc.Category
	finished time.Time
}

// run is the state of one hedged request. It is owned by the goroutine
// executing runHedged; attempt goroutines only see the immutable fields
// captured at launch and the results channel.
type run struct {
	ctx       context.Context
	span      trace.Span
	req       *rpc.Request
	call      rpc.CallFunc
	policy    Policy
	tieWindow time.Duration

	start    time.Time
	results  chan result
	attempts []Attempt
	starts   []time.Time
	done     []bool
	pending  int
}

func (r *run) exhausted() bool {
	return len(r.attempts) >= r.policy.MaxAttempts
}

func (r *run) launch() {
	index := len(r.attempts) + 1
	launchedAt := time.Now()
	if index == 1 {
		launchedAt = r.start
	}

	r.attempts = append(r.attempts, Attempt{Index: index, Launched: launchedAt.Sub(r.start)})
	r.starts = append(r.starts, launchedAt)
	r.done = append(r.done, false)
	r.pending++
	r.span.AddEvent("attempt.launched", trace.WithAttributes(attribute.Int("hedge.attempt", index)))

	ctx, req, call, results := withAttemptIndex(r.ctx, index), r.req, r.call, r.results
	go func() {
		resp, err := invoke(ctx, req, call)
		results <- result{
			index:    index,
			resp:     resp,
			err:      err,
			category: rpc.CategoryOf(err),
			finished: time.Now(),
		}
	}()
}

// complete stores res on its attempt.
func (r *run) complete(res result) result {
	i := res.index - 1
	r.attempts[i].Latency = res.finished.Sub(r.starts[i])
	r.attempts[i].Response = res.resp
	r.attempts[i].Category = res.category
	r.attempts[i].Err = res.err
	r.done[i] = true
	r.pending--
	return res
}

// decisive reports whether res ends the request.
func (r *run) decisive(res result) bool {
	return !r.policy.Hedgeable(res.category)
}

// gather collects first plus every result that is already available, and,
// with a tie window, the results of lower-indexed attempts that arrive
// within it. The batch is ordered
// by completion time, then attempt index.
func (r *run) gather(first result) []result {
	batch := []result{r.complete(first)}

drain:
	for r.pending > 0 {
		select {
		case res := <-r.results:
			batch = append(batch, r.complete(res))
		default:
			break drain
		}
	}

	best, ok := r.lowestDecisive(batch)
	if r.tieWindow > 0 && ok && r.pendingBelow(best) {
		timer := time.NewTimer(r.tieWindow)
		defer timer.Stop()
	wait:
		for r.pendingBelow(best) {
			select {
			case res := <-r.results:
				batch = append(batch, r.complete(res))
				if r.decisive(res) && res.index < best {
					best = res.index
				}
			case <-timer.C:
				break wait
			}
		}
	}

	sort.SliceStable(batch, func(i, j int) bool {
		if !batch[i].finished.Equal(batch[j].finished) {
			return batch[i].finished.Before(batch[j].finished)
		}
		return batch[i].index < batch[j].index
	})
	return batch
}

// lowestDecisive returns the smallest attempt index in batch that ends the
// request.
func (r *run) lowestDecisive(batch []result) (int, bool) {
	best, found := 0, false
	for _, res := range batch {
		if r.decisive(res) && (!found || res.index < best) {
			best, found = res.index, true
		}
	}
	return best, found
}

// pendingBelow reports whether an attempt with an index below index has not
// reported yet.
func (r *run) pendingBelow(index int) bool {
	for i := 0; i < index-1 && i < len(r.done); i++ {
		if !r.done[i] {
			return true
		}
	}
	return false
}

// pickWinner returns the earliest decisive result. Decisive results that
// completed within the tie window of it are ties, won by the lowest index.
func (r *run) pickWinner(batch []result) (result, bool) {
	var (
		winner   result
		earliest time.Time
		found    bool
	)
	for _, res := range batch {
		if !r.decisive(res) {
			continue
		}
		if !found {
			winner, earliest, found = res, res.finished, true
			continue
		}
		if res.finished.Sub(earliest) <= r.tieWindow && res.index < winner.index {
			winner = res
		}
	}
	return winner, found
}

// cancelPending marks every attempt without a result as cancelled.
func (r *run) cancelPending() {
	now := time.Now()
	for i := range r.attempts {
		if r.done[i] {
			continue
		}
		r.attempts[i].Cancelled = true
		r.attempts[i].Category = rpc.Cancelled
		r.attempts[i].Latency = now.Sub(r.starts[i])
	}
}

func (r *run) settle(winner result) Outcome {
	r.cancelPending()
	return Outcome{
		WinningAttempt: winner.index,
		TotalLatency:   winner.finished.Sub(r.start),
		Response:       winner.resp,
		Category:       winner.category,
		Err:            winner.err,
		Launched:       len(r.attempts),
		Attempts:       r.attempts,
	}
}

func (r *run) giveUp(last result) Outcome {
	return Outcome{
		TotalLatency: last.finished.Sub(r.start),
		Category:     last.category,
		Err:          fmt.Errorf("%w: %w", ErrAttemptsExhausted, last.err),
		Launched:     len(r.attempts),
		Attempts:     r.attempts,
	}
}

func (r *run) abandon(cause error) Outcome {
	r.cancelPending()
	return Outcome{
		TotalLatency: time.Since(r.start),
		Category:     rpc.CategoryOf(cause),
		Err:          cause,
		Launched:     len(r.attempts),
		Attempts:     r.attempts,
	}
}

// invoke calls call and normalizes its contract: a panic becomes Internal,
// and a nil response without an error is treated as Internal too.
func invoke(ctx context.Context, req *rpc.Request, call rpc.CallFunc) (resp *rpc.Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			resp = nil
			err = rpc.Errorf(rpc.Internal, "call panicked: %v", rec)
		}
	}()

	resp, err = call(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, rpc.Errorf(rpc.Internal, "call returned neither response nor error")
	}
	return resp, nil
}

type attemptKey struct{}

func withAttemptIndex(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, attemptKey{}, index)
}

// AttemptIndex returns the 1-based index of the attempt a call belongs to.
// It is set on the context passed to every CallFunc the executor invokes.
func AttemptIndex(ctx context.Context) (int, bool) {
	index, ok := ctx.Value(attemptKey{}).(int)
	return index, ok
}
