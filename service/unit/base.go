package unit

import (
	"math"
	"sync/atomic"
	"time"
)

// Base implements the bookkeeping of Continuous except Step.
// It is meant to be embedded and is safe for concurrent use.
type Base struct {
	id        string
	singleton bool

	priority   atomic.Uint32 // float32 bits
	value      atomic.Uint64 // float64 bits
	timeUsed   atomic.Int64
	sleepUntil atomic.Int64 // unix nanoseconds
}

// NewBase returns a new Base with neutral priority.
func NewBase(id string, singleton bool) *Base {
	b := &Base{
		id:        id,
		singleton: singleton,
	}
	b.priority.Store(math.Float32bits(NeutralPriority))
	return b
}

// ID returns the unit ID.
func (b *Base) ID() string {
	return b.id
}

// Singleton reports whether at most one step may be in flight at a time.
func (b *Base) Singleton() bool {
	return b.singleton
}

// Priority returns the current priority.
func (b *Base) Priority() float32 {
	return math.Float32frombits(b.priority.Load())
}

// SetPriority sets the priority. Values are clamped to [0, 1] and non-finite
// values are replaced by NeutralPriority.
func (b *Base) SetPriority(p float32) {
	switch {
	case math.IsNaN(float64(p)) || math.IsInf(float64(p), 0):
		p = NeutralPriority
	case p < 0:
		p = 0
	case p > 1:
		p = 1
	}
	b.priority.Store(math.Float32bits(p))
}

// Value returns the cumulative value produced.
func (b *Base) Value() float64 {
	return math.Float64frombits(b.value.Load())
}

// AddValue adds produced value. Negative and non-finite values are ignored.
func (b *Base) AddValue(v float64) {
	if !(v > 0) || math.IsInf(v, 0) {
		return
	}
	for {
		old := b.value.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if b.value.CompareAndSwap(old, next) {
			return
		}
	}
}

// TimeUsed returns the cumulative time spent in Step.
func (b *Base) TimeUsed() time.Duration {
	return time.Duration(b.timeUsed.Load())
}

// AddTimeUsed records time spent in Step.
func (b *Base) AddTimeUsed(d time.Duration) {
	if d > 0 {
		b.timeUsed.Add(int64(d))
	}
}

// ResetStats sets value and time used back to zero.
func (b *Base) ResetStats() {
	b.value.Store(0)
	b.timeUsed.Store(0)
}

// Sleeping reports whether the unit sleeps at the given time.
func (b *Base) Sleeping(now time.Time) bool {
	return now.UnixNano() < b.sleepUntil.Load()
}

// SleepUntil excludes the unit from scheduling until the given time.
func (b *Base) SleepUntil(t time.Time) {
	b.sleepUntil.Store(t.UnixNano())
}

// SleepFor excludes the unit from scheduling for the given duration.
func (b *Base) SleepFor(d time.Duration) {
	b.SleepUntil(time.Now().Add(d))
}

// Wake ends any sleep.
func (b *Base) Wake() {
	b.sleepUntil.Store(0)
}
