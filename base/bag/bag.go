package bag

import (
	"cmp"
	"iter"
	"slices"
	"sync"
)

// orderEpsilon is the tolerated priority inversion between neighbors before
// housekeeping re-sorts the backing slice.
const orderEpsilon = 1e-6

// VisitResult tells Sample how to proceed after visiting an item.
type VisitResult uint8

// Visit results.
const (
	// Continue keeps the item and draws the next one.
	Continue VisitResult = iota
	// Remove removes the item and draws the next one.
	Remove
	// Stop keeps the item and ends sampling.
	Stop
)

// Option configures a PriorityBag.
type Option func(*bagOptions)

type bagOptions struct {
	sampler Sampler
}

// WithSampler sets the sampler used to draw items. The sampler must not be
// shared between bags.
func WithSampler(s Sampler) Option {
	return func(o *bagOptions) {
		o.sampler = s
	}
}

// PriorityBag is a bounded, key-deduplicated collection ordered by priority.
// It is safe for concurrent use.
type PriorityBag[K comparable, V Item[K]] struct {
	lock sync.Mutex

	capacity int
	index    map[K]V
	// items is sorted by descending priority, except between mutations and
	// the next housekeeping pass.
	items []V

	mass     float32
	pressure float32

	merge   MergePolicy
	sampler Sampler
	// dirty is set when items changed since the sampler was rebuilt.
	dirty bool

	onRemove func(V)
}

// New returns a new bag with the given capacity and merge policy.
// A nil merge policy defaults to MergeMax.
func New[K comparable, V Item[K]](capacity int, merge MergePolicy, opts ...Option) *PriorityBag[K, V] {
	o := &bagOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.sampler == nil {
		o.sampler = NewHistogramSampler(0)
	}
	if merge == nil {
		merge = MergeMax
	}

	return &PriorityBag[K, V]{
		capacity: max(capacity, 0),
		index:    make(map[K]V, max(capacity, 0)),
		items:    make([]V, 0, max(capacity, 0)),
		merge:    merge,
		sampler:  o.sampler,
	}
}

// SetRemoveHook sets a function that is called with every item leaving the
// bag, except through Clear. It is called without holding the bag lock.
func (b *PriorityBag[K, V]) SetRemoveHook(fn func(V)) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.onRemove = fn
}

// Put inserts incoming into the bag, merging it into an existing item with
// the same key. It returns the item now held by the bag for this key, or
// false if incoming was rejected or the merge deleted the existing item.
// Priority that could not be accommodated is reported to sink, which may be nil.
func (b *PriorityBag[K, V]) Put(incoming V, sink OverflowSink) (V, bool) {
	b.lock.Lock()
	result, ok, overflow, removed := b.putLocked(incoming)
	hook := b.onRemove
	b.lock.Unlock()

	reportOverflow(sink, overflow)
	callHook(hook, removed)
	return result, ok
}

func (b *PriorityBag[K, V]) putLocked(incoming V) (result V, ok bool, overflow float32, removed []V) {
	p := incoming.Priority()

	// Nothing can be held.
	if b.capacity == 0 {
		return result, false, p, nil
	}
	// A deleted item is never inserted.
	if IsDeleted(p) {
		return result, false, 0, nil
	}

	if finite(p) {
		b.pressure += p
	}

	key := incoming.Key()
	existing, found := b.index[key]
	// Purge a deleted item, incoming takes its place.
	if found && existing != incoming && IsDeleted(existing.Priority()) {
		b.removeLocked(existing, Deleted)
		removed = append(removed, existing)
		found = false
	}
	if found {
		// Degenerate self-reinsert.
		if existing == incoming {
			b.relieve(p)
			return existing, true, 0, nil
		}

		before := existing.Priority()
		overflow = b.merge.Merge(existing, incoming)
		incoming.SetPriority(Deleted)
		after := existing.Priority()

		if IsDeleted(after) {
			b.removeLocked(existing, before)
			return result, false, overflow, []V{existing}
		}
		if finite(before) && finite(after) {
			b.mass += after - before
		}
		b.dirty = true
		return existing, true, overflow, nil
	}

	if len(b.items) >= b.capacity {
		// Reclaim space from tombstones and oversize.
		removed = append(removed, b.commitLocked(nil)...)
	}
	if len(b.items) >= b.capacity {
		last := b.items[len(b.items)-1]
		if !(p > last.Priority()) {
			incoming.SetPriority(Deleted)
			return result, false, p, removed
		}
		b.removeAt(len(b.items)-1, last.Priority())
		removed = append(removed, last)
	}

	b.insertLocked(incoming, p)
	return incoming, true, 0, removed
}

// insertLocked inserts v after all items with a priority of at least p.
func (b *PriorityBag[K, V]) insertLocked(v V, p float32) {
	pos, _ := slices.BinarySearchFunc(b.items, p, func(item V, target float32) int {
		if item.Priority() < target {
			return 1
		}
		return -1
	})
	b.items = slices.Insert(b.items, pos, v)
	b.index[v.Key()] = v
	if finite(p) {
		b.mass += p
	}
	b.dirty = true
}

// removeLocked removes v, whose priority was p before any change.
func (b *PriorityBag[K, V]) removeLocked(v V, p float32) bool {
	idx := slices.Index(b.items, v)
	if idx < 0 {
		if b.index[v.Key()] == v {
			delete(b.index, v.Key())
		}
		return false
	}
	b.removeAt(idx, p)
	return true
}

func (b *PriorityBag[K, V]) removeAt(idx int, p float32) {
	v := b.items[idx]
	if b.index[v.Key()] == v {
		delete(b.index, v.Key())
	}
	// Ranks shift by at most one, so the sampler stays usable.
	b.items = slices.Delete(b.items, idx, idx+1)
	switch {
	case len(b.items) == 0:
		b.mass = 0
	case finite(p):
		b.mass = max(b.mass-p, 0)
	}
}

// Commit runs housekeeping: it calls refresh on every item (if not nil),
// purges deleted items, restores priority order, recomputes the exact mass,
// trims the bag to its capacity and rebuilds the sampler. Refresh is called
// while the bag is locked and must not call into the bag.
// Returns the resulting size.
func (b *PriorityBag[K, V]) Commit(refresh func(V)) int {
	b.lock.Lock()
	removed := b.commitLocked(refresh)
	size := len(b.items)
	hook := b.onRemove
	b.lock.Unlock()

	callHook(hook, removed)
	return size
}

type rankedItem[V any] struct {
	item     V
	priority float32
}

func (b *PriorityBag[K, V]) commitLocked(refresh func(V)) (removed []V) {
	var (
		mass    float64
		ordered = true
		prev    float32
		kept    = b.items[:0]
	)
	for _, v := range b.items {
		if refresh != nil {
			refresh(v)
		}
		p := v.Priority()
		if IsDeleted(p) {
			if b.index[v.Key()] == v {
				delete(b.index, v.Key())
			}
			removed = append(removed, v)
			continue
		}
		if len(kept) > 0 && p > prev+orderEpsilon {
			ordered = false
		}
		prev = p
		if finite(p) {
			mass += float64(p)
		}
		kept = append(kept, v)
	}
	// Release references held by the tail.
	clear(b.items[len(kept):])
	b.items = kept

	if !ordered {
		b.sortLocked()
	}

	// Trim weakest first.
	for len(b.items) > b.capacity {
		last := b.items[len(b.items)-1]
		if p := last.Priority(); finite(p) {
			mass -= float64(p)
		}
		delete(b.index, last.Key())
		var zero V
		b.items[len(b.items)-1] = zero
		b.items = b.items[:len(b.items)-1]
		removed = append(removed, last)
	}

	b.sampler.Reset(len(b.items))
	for rank, v := range b.items {
		b.sampler.Add(rank, v.Priority())
	}
	b.mass = float32(max(mass, 0))
	b.dirty = false

	return removed
}

// sortLocked stable-sorts items by descending priority, using a snapshot
// of the priorities so concurrent priority changes cannot break the sort.
func (b *PriorityBag[K, V]) sortLocked() {
	ranked := make([]rankedItem[V], len(b.items))
	for i, v := range b.items {
		ranked[i] = rankedItem[V]{item: v, priority: v.Priority()}
	}
	slices.SortStableFunc(ranked, func(x, y rankedItem[V]) int {
		return cmp.Compare(y.priority, x.priority)
	})
	for i, r := range ranked {
		b.items[i] = r.item
	}
}

// Sample repeatedly draws items biased towards high priority and passes them
// to visitor, until the visitor returns Stop or the bag is empty. The
// visitor is called without holding the bag lock.
// Callers must bound the number of draws themselves, see SampleN.
func (b *PriorityBag[K, V]) Sample(r Rand, visitor func(V) VisitResult) {
	for {
		v, ok := b.draw(r)
		if !ok {
			return
		}

		switch visitor(v) {
		case Continue:
		case Remove:
			b.removeItem(v)
		case Stop:
			return
		}
	}
}

// SampleN is like Sample, but visits at most n items.
func (b *PriorityBag[K, V]) SampleN(r Rand, n int, visitor func(V) VisitResult) {
	if n <= 0 {
		return
	}
	b.Sample(r, func(v V) VisitResult {
		n--
		result := visitor(v)
		if result == Continue && n <= 0 {
			return Stop
		}
		if result == Remove && n <= 0 {
			b.removeItem(v)
			return Stop
		}
		return result
	})
}

// draw picks a live item, purging deleted items it encounters.
func (b *PriorityBag[K, V]) draw(r Rand) (v V, ok bool) {
	var removed []V
	b.lock.Lock()
	for len(b.items) > 0 {
		if b.dirty {
			removed = append(removed, b.commitLocked(nil)...)
			if len(b.items) == 0 {
				break
			}
		}

		idx, picked := b.sampler.Pick(r)
		if !picked {
			idx = r.IntN(len(b.items))
		}
		idx = min(max(idx, 0), len(b.items)-1)

		candidate := b.items[idx]
		if p := candidate.Priority(); IsDeleted(p) {
			b.removeAt(idx, p)
			removed = append(removed, candidate)
			continue
		}
		v = candidate
		ok = true
		break
	}
	hook := b.onRemove
	b.lock.Unlock()

	callHook(hook, removed)
	return v, ok
}

// removeItem removes v if it is still held by the bag.
func (b *PriorityBag[K, V]) removeItem(v V) {
	b.lock.Lock()
	held := b.index[v.Key()] == v && b.removeLocked(v, v.Priority())
	hook := b.onRemove
	b.lock.Unlock()

	if held && hook != nil {
		hook(v)
	}
}

// Get returns the item with the given key.
func (b *PriorityBag[K, V]) Get(key K) (V, bool) {
	b.lock.Lock()
	defer b.lock.Unlock()

	v, ok := b.index[key]
	return v, ok
}

// Remove removes and returns the item with the given key.
func (b *PriorityBag[K, V]) Remove(key K) (V, bool) {
	b.lock.Lock()
	v, ok := b.index[key]
	if ok {
		b.removeLocked(v, v.Priority())
	}
	hook := b.onRemove
	b.lock.Unlock()

	if ok && hook != nil {
		hook(v)
	}
	return v, ok
}

// SetCapacity changes the capacity. Shrinking evicts the weakest items.
func (b *PriorityBag[K, V]) SetCapacity(capacity int) {
	b.lock.Lock()
	b.capacity = max(capacity, 0)
	var removed []V
	if len(b.items) > b.capacity {
		removed = append(removed, b.commitLocked(nil)...)
	}
	hook := b.onRemove
	b.lock.Unlock()

	callHook(hook, removed)
}

// Capacity returns the capacity.
func (b *PriorityBag[K, V]) Capacity() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.capacity
}

// Size returns the number of held items, including deleted items that were
// not purged yet.
func (b *PriorityBag[K, V]) Size() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return len(b.items)
}

// Mass returns the summed priority of all items. It is exact after Commit
// and approximate in between.
func (b *PriorityBag[K, V]) Mass() float32 {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.mass
}

// Pressure returns the accumulated priority demand.
func (b *PriorityBag[K, V]) Pressure() float32 {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.pressure
}

// Pressurize adds amount to the pressure.
func (b *PriorityBag[K, V]) Pressurize(amount float32) {
	if !finite(amount) {
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	b.pressure = max(b.pressure+amount, 0)
}

// relieve reduces the pressure by amount.
func (b *PriorityBag[K, V]) relieve(amount float32) {
	if finite(amount) {
		b.pressure = max(b.pressure-amount, 0)
	}
}

// DepressurizePct relieves the given fraction of the pressure, after
// bounding the pressure by the current mass. Returns the relieved amount.
func (b *PriorityBag[K, V]) DepressurizePct(pct float32) float32 {
	if !finite(pct) {
		return 0
	}
	pct = min(max(pct, 0), 1)

	b.lock.Lock()
	defer b.lock.Unlock()

	b.pressure = min(b.pressure, b.mass)
	relieved := b.pressure * pct
	b.pressure -= relieved
	return relieved
}

// Depressurize resets the pressure to zero and returns the previous value.
func (b *PriorityBag[K, V]) Depressurize() float32 {
	b.lock.Lock()
	defer b.lock.Unlock()

	relieved := b.pressure
	b.pressure = 0
	return relieved
}

// Clear removes all items and zeroes mass and pressure.
// The remove hook is not called.
func (b *PriorityBag[K, V]) Clear() {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.index = make(map[K]V, b.capacity)
	clear(b.items)
	b.items = b.items[:0]
	b.mass = 0
	b.pressure = 0
	b.sampler.Reset(0)
	b.dirty = false
}

// snapshot returns a copy of the backing slice.
func (b *PriorityBag[K, V]) snapshot() []V {
	b.lock.Lock()
	defer b.lock.Unlock()

	return slices.Clone(b.items)
}

// ForEach calls fn for every item that is not deleted, in approximately
// descending priority. It works on a snapshot and may observe stale items.
func (b *PriorityBag[K, V]) ForEach(fn func(V)) {
	for v := range b.All() {
		fn(v)
	}
}

// All returns an iterator over a snapshot of the bag, skipping deleted
// items, in approximately descending priority.
func (b *PriorityBag[K, V]) All() iter.Seq[V] {
	return func(yield func(V) bool) {
		for _, v := range b.snapshot() {
			if IsDeleted(v.Priority()) {
				continue
			}
			if !yield(v) {
				return
			}
		}
	}
}

// Max returns the highest priority in the bag.
func (b *PriorityBag[K, V]) Max() (float32, bool) {
	return b.extreme(func(p, current float32) bool { return p > current })
}

// Min returns the lowest priority in the bag.
func (b *PriorityBag[K, V]) Min() (float32, bool) {
	return b.extreme(func(p, current float32) bool { return p < current })
}

func (b *PriorityBag[K, V]) extreme(better func(a, b float32) bool) (result float32, found bool) {
	b.lock.Lock()
	defer b.lock.Unlock()

	for _, v := range b.items {
		p := v.Priority()
		if IsDeleted(p) {
			continue
		}
		if !found || better(p, result) {
			result = p
			found = true
		}
	}
	return result, found
}

func callHook[V any](hook func(V), removed []V) {
	if hook == nil {
		return
	}
	for _, v := range removed {
		hook(v)
	}
}
