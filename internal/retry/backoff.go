package retry

import (
	"math"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Exponential multiplies the delay by Factor each attempt, with the first
// retry unconditional (zero delay). Delay(2) = Initial, Delay(3) = Initial *
// Factor, and so on, capped at Max.
type Exponential struct {
	Initial time.Duration
	Factor  float64
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy with an immediate
// first retry.
func NewExponential(initial time.Duration, factor float64, maxDelay time.Duration) *Exponential {
	if factor <= 1 {
		factor = 2
	}
	return &Exponential{Initial: initial, Factor: factor, Max: maxDelay}
}

// Delay returns zero for the first attempt, then Initial * Factor^(attempt-2),
// capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := time.Duration(float64(e.Initial) * math.Pow(e.Factor, float64(attempt-2)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}
