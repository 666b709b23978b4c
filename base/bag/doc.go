// Package bag provides PriorityBag, a bounded, key-deduplicated collection
// ordered by priority.
//
// Inserting a key that is already present merges the incoming item into the
// existing one using a MergePolicy. When the bag is full, the weakest item is
// evicted in favor of a stronger one, or the incoming item is rejected. Items
// are drawn with a bias towards high priority using a Sampler, by default a
// HistogramSampler over priority ranks.
//
// Priorities are expected in [0, 1]. NaN marks an item as deleted: it is
// purged whenever it is encountered and never counted into the mass of the
// bag.
package bag
