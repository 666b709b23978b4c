package bag

import (
	"math"
	"sync/atomic"
)

// Deleted is the tombstone priority. An item with this priority is removed
// from the bag whenever it is encountered.
var Deleted = float32(math.NaN())

// IsDeleted returns whether the given priority is the tombstone.
func IsDeleted(priority float32) bool {
	return priority != priority //nolint:gocritic // NaN check
}

// Prioritized is anything with a mutable priority.
type Prioritized interface {
	Priority() float32
	SetPriority(priority float32)
}

// Item is a value that can be stored in a PriorityBag.
// Items are compared by identity, so they are usually pointers.
type Item[K comparable] interface {
	comparable
	Prioritized
	Key() K
}

// Entry is a generic Item holding an arbitrary value.
type Entry[K comparable, T any] struct {
	key      K
	Value    T
	priority atomic.Uint32
}

// NewEntry returns a new entry.
func NewEntry[K comparable, T any](key K, value T, priority float32) *Entry[K, T] {
	e := &Entry[K, T]{
		key:   key,
		Value: value,
	}
	e.SetPriority(priority)
	return e
}

// Key returns the key of the entry.
func (e *Entry[K, T]) Key() K {
	return e.key
}

// Priority returns the current priority of the entry.
func (e *Entry[K, T]) Priority() float32 {
	return math.Float32frombits(e.priority.Load())
}

// SetPriority sets the priority of the entry.
func (e *Entry[K, T]) SetPriority(priority float32) {
	e.priority.Store(math.Float32bits(priority))
}

// Delete marks the entry as deleted.
func (e *Entry[K, T]) Delete() {
	e.SetPriority(Deleted)
}

// clampPriority limits p to [0, 1], keeping the tombstone.
func clampPriority(p float32) float32 {
	switch {
	case IsDeleted(p):
		return p
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

func finite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}
