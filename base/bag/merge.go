package bag

// MergePolicy merges an incoming item into the existing item with the same
// key. It returns the part of the incoming priority that could not be
// absorbed. Setting the existing priority to Deleted removes it from the bag.
type MergePolicy interface {
	Merge(existing, incoming Prioritized) (overflow float32)
}

// MergeFunc is a function implementing MergePolicy.
type MergeFunc func(existing, incoming Prioritized) (overflow float32)

// Merge calls f.
func (f MergeFunc) Merge(existing, incoming Prioritized) float32 {
	return f(existing, incoming)
}

var (
	// MergeMax keeps the higher of both priorities.
	MergeMax MergePolicy = MergeFunc(func(existing, incoming Prioritized) float32 {
		if in := incoming.Priority(); in > existing.Priority() {
			existing.SetPriority(in)
		}
		return 0
	})

	// MergePlus adds both priorities, saturating at 1. The excess is returned
	// as overflow.
	MergePlus MergePolicy = MergeFunc(func(existing, incoming Prioritized) float32 {
		sum := existing.Priority() + incoming.Priority()
		if sum > 1 {
			existing.SetPriority(1)
			return sum - 1
		}
		existing.SetPriority(sum)
		return 0
	})

	// MergeReplace replaces the existing priority with the incoming one.
	MergeReplace MergePolicy = MergeFunc(func(existing, incoming Prioritized) float32 {
		existing.SetPriority(incoming.Priority())
		return 0
	})

	// MergeAvg sets the mean of both priorities.
	MergeAvg MergePolicy = MergeFunc(func(existing, incoming Prioritized) float32 {
		existing.SetPriority((existing.Priority() + incoming.Priority()) / 2)
		return 0
	})

	// MergeOr combines both priorities as probabilities: 1-(1-a)(1-b).
	MergeOr MergePolicy = MergeFunc(func(existing, incoming Prioritized) float32 {
		a, b := existing.Priority(), incoming.Priority()
		existing.SetPriority(clampPriority(1 - (1-a)*(1-b)))
		return 0
	})
)
