// Package backoff provides the retry delay curve used for broker
// reconnection.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Exponential returns base doubled per attempt, capped at max. Attempt is
// 1-based; values below 1 are treated as the first attempt.
func Exponential(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 1 {
		return base
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > max || d < 0 {
		return max
	}
	return d
}

// ExponentialJitter is Exponential with +/- 20% jitter to avoid thundering
// reconnects.
func ExponentialJitter(base, max time.Duration, attempt int) time.Duration {
	d := Exponential(base, max, attempt)
	j := time.Duration(float64(d) * 0.2)
	if j <= 0 {
		return d
	}
	return d - j + time.Duration(rand.Int63n(int64(2*j)))
}
