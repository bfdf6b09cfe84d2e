package hedge

import (
	"math"
	"slices"
	"sync"
	"time"
)

// LatencyWindow keeps the most recent call latencies in a ring buffer. An
// Executor configured WithAdaptiveDelay reads its hedging delay from a
// percentile of the window instead of the policy.
//
// The window is safe for concurrent use.
type LatencyWindow struct {
	mu         sync.Mutex
	samples    []time.Duration
	head       int
	count      int
	minSamples int
}

// NewLatencyWindow creates a window holding up to size samples that reports
// percentiles once it holds minSamples.
//
// Defaults: size 100, minSamples 10.
func NewLatencyWindow(size, minSamples int) *LatencyWindow {
	if size <= 0 {
		size = 100
	}
	if minSamples <= 0 {
		minSamples = 10
	}
	return &LatencyWindow{
		samples:    make([]time.Duration, size),
		minSamples: min(minSamples, size),
	}
}

// Observe adds d, evicting the oldest sample when full.
func (w *LatencyWindow) Observe(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.head] = d
	w.head = (w.head + 1) % len(w.samples)
	if w.count < len(w.samples) {
		w.count++
	}
}

// Percentile returns the nearest-rank p-quantile of the window, or false
// while fewer than minSamples have been observed.
func (w *LatencyWindow) Percentile(p float64) (time.Duration, bool) {
	w.mu.Lock()
	if w.count < w.minSamples {
		w.mu.Unlock()
		return 0, false
	}
	sorted := slices.Clone(w.samples[:w.count])
	w.mu.Unlock()

	slices.Sort(sorted)
	rank := int(math.Ceil(p*float64(len(sorted)) - 1e-9))
	rank = max(1, min(rank, len(sorted)))
	return sorted[rank-1], true
}

// Len returns the number of samples held.
func (w *LatencyWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

type adaptiveDelay struct {
	window     *LatencyWindow
	percentile float64
}

// WithAdaptiveDelay derives the hedging delay of every hedged run from the
// percentile of window. The policy's HedgingDelay applies until the window
// is warm. Every successful attempt that decides a request feeds the window,
// single-attempt runs included, so a baseline run primes it.
//
// Example:
//
//	exec := hedge.NewExecutor(hedge.WithAdaptiveDelay(hedge.NewLatencyWindow(200, 20), 0.95))
func WithAdaptiveDelay(window *LatencyWindow, percentile float64) Option {
	return func(cfg *executorConfig) {
		if window == nil || percentile <= 0 || percentile > 1 {
			return
		}
		cfg.adaptive = &adaptiveDelay{window: window, percentile: percentile}
	}
}

func (a *adaptiveDelay) delay(policy Policy) Policy {
	if a == nil || policy.MaxAttempts == 1 {
		return policy
	}
	if d, ok := a.window.Percentile(a.percentile); ok {
		policy.HedgingDelay = d
	}
	return policy
}

func (a *adaptiveDelay) observe(out Outcome) {
	if a == nil || out.Failed() || out.WinningAttempt == 0 {
		return
	}
	a.window.Observe(out.Attempts[out.WinningAttempt-1].Latency)
}
