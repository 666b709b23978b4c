package rng

import (
	"math"
	"time"

	"github.com/valyala/fastrand"

	"github.com/safing/attention/base/log"
)

// Fast is a non-cryptographic pseudo random number generator.
// It is not safe for concurrent use; give each goroutine its own.
type Fast struct {
	r fastrand.RNG
}

// NewFast returns a Fast generator seeded from the CSPRNG.
// If the CSPRNG fails, the current time is used as seed.
func NewFast() *Fast {
	seed, err := Seed32()
	if err != nil {
		log.Warningf("rng: failed to seed fast generator, falling back to time: %s", err)
		seed = uint32(time.Now().UnixNano()) | 1
	}
	return NewFastWithSeed(seed)
}

// NewFastWithSeed returns a Fast generator with a fixed seed.
// Equal seeds produce equal sequences.
func NewFastWithSeed(seed uint32) *Fast {
	f := &Fast{}
	f.r.Seed(seed)
	return f
}

// Uint32 returns a pseudo random uint32.
func (f *Fast) Uint32() uint32 {
	return f.r.Uint32()
}

// Float64 returns a pseudo random number in [0, 1).
func (f *Fast) Float64() float64 {
	// 53 bits of precision from two draws.
	hi := uint64(f.r.Uint32()) << 21
	lo := uint64(f.r.Uint32()) >> 11
	return float64(hi|lo) / (1 << 53)
}

// IntN returns a pseudo random number in [0, n). It panics if n <= 0.
func (f *Fast) IntN(n int) int {
	if n <= 0 {
		panic("rng: invalid argument to IntN")
	}
	if uint64(n) <= math.MaxUint32 {
		return int(f.r.Uint32n(uint32(n)))
	}
	return int((uint64(f.r.Uint32())<<32 | uint64(f.r.Uint32())) % uint64(n))
}

// Shuffle pseudo-randomizes the order of n elements using swap.
func (f *Fast) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		swap(i, f.IntN(i+1))
	}
}
