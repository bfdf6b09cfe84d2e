// Package ratelimit paces call initiation to a target rate.
//
// The limiter is a token bucket holding at most one token, so calls are
// released evenly at 1/rate intervals and never in bursts.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/time/rate"
)

var (
	// ErrInvalidRate is returned when the permit rate is not a positive,
	// finite number.
	ErrInvalidRate = errors.New("ratelimit: rate must be positive")

	// ErrRateLimited is returned by TryAcquire when no permit is available.
	ErrRateLimited = errors.New("ratelimit: rate limit exceeded")
)

// Stats provides visibility into limiter state.
type Stats struct {
	// Limit is the permit rate per second.
	Limit float64
	// Burst is the bucket capacity.
	Burst int
	// TokensAvailable is the current number of tokens.
	TokensAvailable float64
}

// Limiter hands out permits at a fixed rate. It is safe for concurrent use.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a limiter issuing perSecond permits per second.
//
// Example:
//
//	limiter, err := ratelimit.New(50)
//	if err != nil {
//	    return err
//	}
//	if err := limiter.Acquire(ctx); err != nil {
//	    return err // ctx ended while waiting
//	}
func New(perSecond float64) (*Limiter, error) {
	if !(perSecond > 0) || math.IsInf(perSecond, 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidRate, perSecond)
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}, nil
}

// Acquire blocks until a permit is available or ctx ends. It returns ctx's
// error when cancelled, and an error without waiting if the deadline would
// pass before the permit arrives.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ratelimit: %w", err)
	}
	return nil
}

// TryAcquire takes a permit only if one is available right now.
func (l *Limiter) TryAcquire() error {
	if !l.limiter.Allow() {
		return ErrRateLimited
	}
	return nil
}

// Rate returns the permit rate per second.
func (l *Limiter) Rate() float64 {
	return float64(l.limiter.Limit())
}

// Stats returns a snapshot of the limiter.
func (l *Limiter) Stats() Stats {
	return Stats{
		Limit:           float64(l.limiter.Limit()),
		Burst:           l.limiter.Burst(),
		TokensAvailable: l.limiter.Tokens(),
	}
}
