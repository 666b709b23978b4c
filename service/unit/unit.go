package unit

import (
	"time"
)

// NeutralPriority is the priority of units without a meaningful value rate.
const NeutralPriority float32 = 0.5

// Continuous is a unit of recurring work that is time-sliced by the scheduler.
type Continuous interface {
	// ID returns a unique and stable identifier.
	ID() string

	// Priority returns the current priority in [0, 1].
	Priority() float32
	// SetPriority sets the priority. Only the scheduler calls it.
	SetPriority(p float32)

	// Sleeping reports whether the unit should be skipped at the given time.
	Sleeping(now time.Time) bool
	// Singleton reports whether at most one step may be in flight at a time.
	Singleton() bool

	// Value returns the cumulative value produced.
	Value() float64
	// TimeUsed returns the cumulative time spent in Step.
	TimeUsed() time.Duration
	// AddTimeUsed records time spent in Step. Only the scheduler calls it.
	AddTimeUsed(d time.Duration)

	// Step does a bounded amount of work and returns when a natural unit of
	// work is done or the deadline fired.
	Step(deadline Deadline) error
}

// Deadline reports whether the time for the current step is up.
type Deadline func() bool

// DeadlineAt returns a Deadline that fires once now() reaches at.
func DeadlineAt(now func() time.Time, at time.Time) Deadline {
	return func() bool {
		return !now().Before(at)
	}
}

// Never is a Deadline that never fires.
func Never() bool {
	return false
}
