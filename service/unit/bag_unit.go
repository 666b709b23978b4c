package unit

import (
	"sync"
	"time"

	"github.com/safing/attention/base/bag"
	"github.com/safing/attention/base/rng"
)

var fastPool = sync.Pool{
	New: func() any {
		return rng.NewFast()
	},
}

// VisitFunc processes a sampled item and returns the value produced and what
// to do with the item.
type VisitFunc[V any] func(item V) (value float64, result bag.VisitResult)

// BagUnit is a continuous unit that works through the items of a PriorityBag.
// Every step samples items biased towards high priority and visits them until
// the deadline fires, the visitor stops or the bag runs empty.
type BagUnit[K comparable, V bag.Item[K]] struct {
	*Base

	bag     *bag.PriorityBag[K, V]
	visit   VisitFunc[V]
	refresh func(V)
}

// NewBagUnit returns a new BagUnit working on the given bag.
func NewBagUnit[K comparable, V bag.Item[K]](id string, singleton bool, b *bag.PriorityBag[K, V], visit VisitFunc[V]) *BagUnit[K, V] {
	return &BagUnit[K, V]{
		Base:  NewBase(id, singleton),
		bag:   b,
		visit: visit,
	}
}

// SetRefresh sets a function that is applied to every item in a housekeeping
// pass at the start of each step, eg. to decay priorities.
// Must be called before the unit is registered.
func (u *BagUnit[K, V]) SetRefresh(fn func(V)) {
	u.refresh = fn
}

// Bag returns the bag of the unit.
func (u *BagUnit[K, V]) Bag() *bag.PriorityBag[K, V] {
	return u.bag
}

// Sleeping reports whether the unit sleeps or has nothing to work on.
func (u *BagUnit[K, V]) Sleeping(now time.Time) bool {
	return u.bag.Size() == 0 || u.Base.Sleeping(now)
}

// Step samples and visits items until the deadline fires.
func (u *BagUnit[K, V]) Step(deadline Deadline) error {
	if u.refresh != nil {
		u.bag.Commit(u.refresh)
	}
	if deadline() {
		return nil
	}

	r, _ := fastPool.Get().(*rng.Fast)
	if r == nil {
		r = rng.NewFast()
	}
	defer fastPool.Put(r)

	// A panicking visitor fails the step, which produces no value.
	var produced float64
	u.bag.Sample(r, func(item V) bag.VisitResult {
		if deadline() {
			return bag.Stop
		}
		value, result := u.visit(item)
		produced += value
		if result == bag.Continue && deadline() {
			return bag.Stop
		}
		return result
	})
	u.AddValue(produced)
	return nil
}
