package rpc

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerConfig configures the circuit breaker placed in front of a CallFunc.
//
// Concepts:
//   - Closed: calls pass through and failures are counted.
//   - Open: calls are rejected immediately as Unavailable.
//   - Half-Open: up to MaxRequests probe calls test recovery.
//
// Only Internal and Unknown failures count towards tripping. Interruptions,
// cancellations and hedgeable failures are the normal texture of a hedged
// benchmark and must not open the circuit.
type BreakerConfig struct {
	// Name identifies the breaker in state change callbacks.
	// Default: "hedgebench"
	Name string

	// MaxRequests is the number of probe calls allowed while half-open.
	// Default: 1
	MaxRequests uint32

	// Interval is the cyclic period after which closed-state counts reset.
	// Zero never resets.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	// Default: 5s
	Timeout time.Duration

	// ConsecutiveFailures trips the breaker.
	// Default: 5
	ConsecutiveFailures uint32

	// OnStateChange is invoked on every transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig returns a breaker that opens after five consecutive
// server faults and probes again after five seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "hedgebench",
		MaxRequests:         1,
		Timeout:             5 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// WithBreaker wraps call in a circuit breaker. Rejected calls fail with
// category Unavailable so a hedging policy can treat them as transient.
func WithBreaker(call CallFunc, cfg BreakerConfig) CallFunc {
	defaults := DefaultBreakerConfig()
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = defaults.MaxRequests
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = defaults.ConsecutiveFailures
	}

	threshold := cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful:  countsAsHealthy,
		OnStateChange: cfg.OnStateChange,
	})

	return func(ctx context.Context, req *Request) (*Response, error) {
		resp, err := cb.Execute(func() (*Response, error) {
			return call(ctx, req)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &Error{Category: Unavailable, Message: "circuit breaker rejected call", Err: err}
		}
		return resp, err
	}
}

func countsAsHealthy(err error) bool {
	switch CategoryOf(err) {
	case Internal, Unknown:
		return false
	default:
		return true
	}
}
