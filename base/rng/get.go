package rng

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"time"
)

const (
	reseedAfter      = 10 * time.Minute
	reseedAfterBytes = 1048576 // one megabyte
)

var (
	// Reader provides a global instance to read from the RNG.
	Reader io.Reader = reader{}

	rngBytesRead uint64
	rngLastFeed  = time.Now()
)

// reader provides an io.Reader interface.
type reader struct{}

// checkEntropy ensures the generator is ready and reseeds it when due.
// rngLock must be held.
func checkEntropy() error {
	if err := initGenerator(); err != nil {
		return err
	}
	if rngBytesRead > reseedAfterBytes || time.Since(rngLastFeed) > reseedAfter {
		if err := reseedFromOS(rng); err != nil {
			return err
		}
		rngBytesRead = 0
		rngLastFeed = time.Now()
	}
	return nil
}

// Read reads random bytes into the supplied byte slice.
func Read(b []byte) (n int, err error) {
	rngLock.Lock()
	defer rngLock.Unlock()

	if err := checkEntropy(); err != nil {
		return 0, err
	}

	rngBytesRead += uint64(len(b))
	return copy(b, rng.PseudoRandomData(uint(len(b)))), nil
}

// Read implements the io.Reader interface.
func (r reader) Read(b []byte) (n int, err error) {
	return Read(b)
}

// Bytes allocates a new byte slice of given length and fills it with random data.
func Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Number returns a random number from 0 to (incl.) max.
func Number(max uint64) (uint64, error) {
	if max == math.MaxUint64 {
		return Uint64()
	}
	secureLimit := math.MaxUint64 - (math.MaxUint64 % (max + 1))
	max++

	for {
		candidate, err := Uint64()
		if err != nil {
			return 0, err
		}
		if candidate < secureLimit {
			return candidate % max, nil
		}
	}
}

// Uint64 returns a random uint64.
func Uint64() (uint64, error) {
	randomBytes, err := Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(randomBytes), nil
}

// ErrNoSeed is returned when no seed could be produced.
var ErrNoSeed = errors.New("failed to produce seed")

// Seed32 returns a random non-zero seed for fast generators.
func Seed32() (uint32, error) {
	for range 8 {
		n, err := Uint64()
		if err != nil {
			return 0, err
		}
		if seed := uint32(n); seed != 0 {
			return seed, nil
		}
	}
	return 0, ErrNoSeed
}
