// Package latency provides the delay distributions used by the simulated
// endpoint.
//
// The default model is exponential: most calls are fast, a long tail is slow.
// That tail is what hedging exists to cut.
package latency

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// ErrInvalidMean is returned when a distribution is configured with a
// non-positive or non-finite mean.
var ErrInvalidMean = errors.New("latency: mean must be positive")

// Sampler draws one processing delay. Implementations must be safe for
// concurrent use.
type Sampler interface {
	Sample() time.Duration
}

// Exponential samples delays from an exponential distribution with a fixed
// mean.
type Exponential struct {
	mean time.Duration

	// rng is nil when the process-wide generator is used; it is already
	// safe for concurrent use and needs no lock.
	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures an Exponential.
type Option func(*Exponential)

// WithSource draws uniforms from src instead of the process-wide generator.
// Access to src is serialized.
func WithSource(src rand.Source) Option {
	return func(e *Exponential) {
		e.rng = rand.New(src)
	}
}

// WithSeed makes the sample sequence reproducible.
func WithSeed(seed uint64) Option {
	return WithSource(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// NewExponential creates an exponential model with the given mean.
//
// Example:
//
//	model, err := latency.NewExponential(200 * time.Millisecond)
//	if err != nil {
//	    return err
//	}
//	delay := model.Sample()
func NewExponential(mean time.Duration, opts ...Option) (*Exponential, error) {
	if mean <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidMean, mean)
	}

	e := &Exponential{mean: mean}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// MeanFromMillis converts a fractional millisecond mean, as found in
// configuration, into a duration.
func MeanFromMillis(ms float64) (time.Duration, error) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms <= 0 {
		return 0, fmt.Errorf("%w: got %vms", ErrInvalidMean, ms)
	}
	d := time.Duration(ms * float64(time.Millisecond))
	if d <= 0 {
		return 0, fmt.Errorf("%w: %vms rounds to zero", ErrInvalidMean, ms)
	}
	return d, nil
}

// Mean returns the configured mean.
func (e *Exponential) Mean() time.Duration {
	return e.mean
}

// Sample returns -mean * ln(U) for U uniform on (0, 1].
//
// Zero is excluded from U so the logarithm is always finite; U == 1 yields a
// zero delay, which is valid.
func (e *Exponential) Sample() time.Duration {
	u := 1 - e.uniform()
	return time.Duration(-float64(e.mean) * math.Log(u))
}

func (e *Exponential) uniform() float64 {
	if e.rng == nil {
		return rand.Float64()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Float64()
}

// Fixed is a constant delay. It makes tests and smoke runs deterministic.
type Fixed time.Duration

// Sample returns the constant delay.
func (f Fixed) Sample() time.Duration {
	return time.Duration(f)
}

// SamplerFunc adapts a function into a Sampler.
type SamplerFunc func() time.Duration

// Sample calls f.
func (f SamplerFunc) Sample() time.Duration {
	return f()
}
