// Package clock provides the cycle timing the scheduler runs on.
package clock

import (
	"time"
)

// Clock supplies the cycle period, the share of each cycle that may be spent
// working and the current time. The scheduler reads it once per cycle.
type Clock interface {
	// CyclePeriod returns the length of one scheduling cycle.
	CyclePeriod() time.Duration
	// Throttle returns the active share of a cycle in [0, 1].
	Throttle() float32
	// Now returns the current time.
	Now() time.Time
}

// Fixed is a Clock with a constant period and throttle.
type Fixed struct {
	Period     time.Duration
	Throttling float32
}

// NewFixed returns a new fixed clock.
func NewFixed(period time.Duration, throttle float32) *Fixed {
	return &Fixed{
		Period:     period,
		Throttling: clampThrottle(throttle, 0, 1),
	}
}

// CyclePeriod returns the configured period.
func (f *Fixed) CyclePeriod() time.Duration {
	return f.Period
}

// Throttle returns the configured throttle.
func (f *Fixed) Throttle() float32 {
	return f.Throttling
}

// Now returns the current time.
func (f *Fixed) Now() time.Time {
	return time.Now()
}

func clampThrottle(t, minT, maxT float32) float32 {
	switch {
	case t != t: //nolint:gocritic // NaN check.
		return maxT
	case t < minT:
		return minT
	case t > maxT:
		return maxT
	default:
		return t
	}
}
