package hedge

import (
	"errors"
	"fmt"
	"time"

	"github.com/kroma-labs/hedgebench/rpc"
)

// ErrInvalidPolicy is returned by Policy.Validate.
var ErrInvalidPolicy = errors.New("hedge: invalid policy")

// Policy configures hedging for one logical request.
//
// Example:
//
//	policy := hedge.Policy{
//	    MaxAttempts:       3,
//	    HedgingDelay:      50 * time.Millisecond,
//	    HedgeableFailures: hedge.DefaultHedgeableFailures(),
//	}
//
// Recommendations:
//   - HedgingDelay near the P95 of the target keeps extra load low
//   - HedgingDelay of zero fans out every attempt at once
//   - Only hedge idempotent calls
type Policy struct {
	// MaxAttempts bounds the attempts issued for one logical request,
	// including the first. 1 disables hedging.
	//
	// Default: 1
	MaxAttempts int

	// HedgingDelay is how long the executor waits after a launch before it
	// launches the next attempt while earlier ones are still pending.
	//
	// Default: 0 (full fan-out when MaxAttempts > 1)
	HedgingDelay time.Duration

	// HedgeableFailures are the categories that do not end the request.
	// An attempt failing with one of them leaves the remaining budget in
	// play; any other failure is returned at once.
	//
	// Default: {UNAVAILABLE, DEADLINE_EXCEEDED}
	HedgeableFailures rpc.CategorySet
}

// DefaultHedgeableFailures returns {UNAVAILABLE, DEADLINE_EXCEEDED}.
func DefaultHedgeableFailures() rpc.CategorySet {
	return rpc.NewCategorySet(rpc.Unavailable, rpc.DeadlineExceeded)
}

// DefaultPolicy returns a policy that issues a single attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       1,
		HedgingDelay:      0,
		HedgeableFailures: DefaultHedgeableFailures(),
	}
}

// Validate reports whether the policy is usable.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidPolicy, p.MaxAttempts)
	}
	if p.HedgingDelay < 0 {
		return fmt.Errorf("%w: hedging delay must not be negative, got %s", ErrInvalidPolicy, p.HedgingDelay)
	}
	if p.HedgeableFailures.Contains(rpc.OK) {
		return fmt.Errorf("%w: OK is not a failure category", ErrInvalidPolicy)
	}
	return nil
}

// Hedgeable reports whether a failure with category c leaves the remaining
// attempt budget in play.
func (p Policy) Hedgeable(c rpc.Category) bool {
	return c != rpc.OK && p.HedgeableFailures.Contains(c)
}

// normalized clamps an unvalidated policy into a runnable one.
func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.HedgingDelay < 0 {
		p.HedgingDelay = 0
	}
	return p
}
