package bag

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safing/attention/base/rng"
)

func feed(s Sampler, priorities []float32) {
	s.Reset(len(priorities))
	for rank, p := range priorities {
		s.Add(rank, p)
	}
}

func TestHistogramBins(t *testing.T) {
	t.Parallel()

	hs := NewHistogramSampler(4)
	feed(hs, []float32{0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2, 0.1, 0.05})
	assert.Equal(t, 4, hs.bins)
	assert.InDelta(t, 4.55, hs.Mass(), 1e-6)

	// Every rank belongs to exactly one bin and bins are contiguous.
	for bin := range hs.bins {
		start, end := hs.binStart(bin), hs.binStart(bin+1)
		require.Less(t, start, end)
		for rank := start; rank < end; rank++ {
			assert.Equal(t, bin, hs.binOf(rank))
		}
	}
	assert.Equal(t, 10, hs.binStart(hs.bins))

	// Fewer ranks than bins.
	feed(hs, []float32{1, 0})
	assert.Equal(t, 2, hs.bins)
	r := testRand(1)
	for range 100 {
		rank, ok := hs.Pick(r)
		require.True(t, ok)
		assert.Equal(t, 0, rank, "zero priority rank must never be drawn")
	}

	// Degenerate input.
	feed(hs, []float32{0, 0, Deleted, float32(math.Inf(1))})
	_, ok := hs.Pick(r)
	assert.False(t, ok)
	feed(hs, nil)
	_, ok = hs.Pick(r)
	assert.False(t, ok)
}

func TestWeightedSampler(t *testing.T) {
	t.Parallel()

	ws := NewWeightedSampler()
	feed(ws, []float32{0, 0.5, 0, 0.5})
	counts := make([]int, 4)
	r := testRand(2)
	for range 10_000 {
		rank, ok := ws.Pick(r)
		require.True(t, ok)
		counts[rank]++
	}
	assert.Zero(t, counts[0])
	assert.Zero(t, counts[2])
	assert.InDelta(t, 5_000, counts[1], 300)

	feed(ws, []float32{0, 0})
	_, ok := ws.Pick(r)
	assert.False(t, ok)
}

// TestSamplerEquivalence checks that the histogram approximation draws ranks
// with the same distribution as exact weighted sampling, within the
// resolution of its bins.
func TestSamplerEquivalence(t *testing.T) {
	t.Parallel()

	const (
		size    = 200
		draws   = 200_000
		buckets = 10
	)
	priorities := make([]float32, size)
	for i := range priorities {
		priorities[i] = float32(math.Exp(-float64(i) / 40))
	}

	// Expected share per decile of ranks.
	var total float64
	for _, p := range priorities {
		total += float64(p)
	}
	expected := make([]float64, buckets)
	for i, p := range priorities {
		expected[i*buckets/size] += float64(p) / total
	}

	for _, s := range []Sampler{NewHistogramSampler(0), NewWeightedSampler()} {
		feed(s, priorities)
		observed := make([]float64, buckets)
		r := rng.NewFastWithSeed(99)
		for range draws {
			rank, ok := s.Pick(r)
			require.True(t, ok)
			require.True(t, rank >= 0 && rank < size)
			observed[rank*buckets/size] += 1.0 / draws
		}
		for i := range buckets {
			assert.InDelta(t, expected[i], observed[i], 0.02, "%T decile %d", s, i)
		}
	}
}
