package bag

import (
	"sort"
)

// massEpsilon is the accumulated priority below which a sampler considers
// itself degenerate and the bag falls back to uniform sampling.
const massEpsilon = 1e-6

// Rand is the source of randomness used for sampling.
// *rng.Fast and *rand.Rand from math/rand/v2 implement it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// Sampler draws priority-biased ranks. Ranks are indexes into the bag's
// backing slice, which is sorted by descending priority.
//
// The bag rebuilds the sampler during housekeeping by calling Reset followed
// by Add for every rank in ascending order. Samplers are only accessed while
// the bag is locked.
type Sampler interface {
	// Reset prepares a rebuild for size ranks.
	Reset(size int)
	// Add feeds the priority at rank.
	Add(rank int, priority float32)
	// Pick draws a rank. It returns false if the sampler holds no usable
	// weight, in which case the caller should sample uniformly.
	Pick(r Rand) (rank int, ok bool)
}

// DefaultHistogramBins is the bin count used by NewHistogramSampler(0).
const DefaultHistogramBins = 32

// HistogramSampler approximates weighted sampling with a fixed number of
// bins over the rank range. A draw selects a bin proportional to its summed
// priority and then a uniform rank within that bin.
type HistogramSampler struct {
	maxBins    int
	size       int
	bins       int
	weights    []float64
	cumulative []float64
	built      bool
}

// NewHistogramSampler returns a histogram sampler with at most bins bins.
// Zero or less selects DefaultHistogramBins.
func NewHistogramSampler(bins int) *HistogramSampler {
	if bins <= 0 {
		bins = DefaultHistogramBins
	}
	return &HistogramSampler{
		maxBins:    bins,
		weights:    make([]float64, 0, bins),
		cumulative: make([]float64, 0, bins),
	}
}

// Reset prepares a rebuild for size ranks.
func (hs *HistogramSampler) Reset(size int) {
	hs.size = size
	hs.bins = min(size, hs.maxBins)
	hs.weights = hs.weights[:hs.bins]
	clear(hs.weights)
	hs.built = false
}

// binOf returns the bin holding rank.
func (hs *HistogramSampler) binOf(rank int) int {
	return rank * hs.bins / hs.size
}

// binStart returns the first rank of bin.
func (hs *HistogramSampler) binStart(bin int) int {
	return (bin*hs.size + hs.bins - 1) / hs.bins
}

// Add feeds the priority at rank.
func (hs *HistogramSampler) Add(rank int, priority float32) {
	if rank < 0 || rank >= hs.size || !finite(priority) || priority <= 0 {
		return
	}
	hs.weights[hs.binOf(rank)] += float64(priority)
	hs.built = false
}

func (hs *HistogramSampler) build() {
	hs.cumulative = hs.cumulative[:hs.bins]
	var sum float64
	for i, w := range hs.weights {
		sum += w
		hs.cumulative[i] = sum
	}
	hs.built = true
}

// Mass returns the summed priority fed since the last Reset.
func (hs *HistogramSampler) Mass() float64 {
	if !hs.built {
		hs.build()
	}
	if hs.bins == 0 {
		return 0
	}
	return hs.cumulative[hs.bins-1]
}

// Pick draws a rank.
func (hs *HistogramSampler) Pick(r Rand) (int, bool) {
	total := hs.Mass()
	if total < massEpsilon {
		return 0, false
	}

	// Find the first bin whose cumulative weight exceeds the target.
	target := r.Float64() * total
	bin := sort.Search(hs.bins, func(i int) bool {
		return hs.cumulative[i] > target
	})
	if bin >= hs.bins {
		bin = hs.bins - 1
	}

	start := hs.binStart(bin)
	end := min(hs.binStart(bin+1), hs.size)
	if end <= start {
		return start, true
	}
	return start + r.IntN(end-start), true
}

// WeightedSampler draws ranks exactly proportional to their priority.
// Draws are O(n).
type WeightedSampler struct {
	priorities []float32
	total      float64
}

// NewWeightedSampler returns a new exact weighted sampler.
func NewWeightedSampler() *WeightedSampler {
	return &WeightedSampler{}
}

// Reset prepares a rebuild for size ranks.
func (ws *WeightedSampler) Reset(size int) {
	if cap(ws.priorities) < size {
		ws.priorities = make([]float32, size)
	}
	ws.priorities = ws.priorities[:size]
	clear(ws.priorities)
	ws.total = 0
}

// Add feeds the priority at rank.
func (ws *WeightedSampler) Add(rank int, priority float32) {
	if rank < 0 || rank >= len(ws.priorities) || !finite(priority) || priority <= 0 {
		return
	}
	ws.total += float64(priority - ws.priorities[rank])
	ws.priorities[rank] = priority
}

// Pick draws a rank.
func (ws *WeightedSampler) Pick(r Rand) (int, bool) {
	if ws.total < massEpsilon {
		return 0, false
	}

	target := r.Float64() * ws.total
	last := -1
	for rank, p := range ws.priorities {
		if p <= 0 {
			continue
		}
		last = rank
		target -= float64(p)
		if target < 0 {
			return rank, true
		}
	}
	// Rounding left a remainder.
	return last, last >= 0
}
