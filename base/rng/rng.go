package rng

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/aead/serpent"
	"github.com/seehuhn/fortuna"
)

const seedEntropyBytes = 32

var (
	rng     *fortuna.Generator
	rngLock sync.Mutex

	// Possible values: "aes", "serpent".
	rngCipher = "aes"
)

func newCipher(key []byte) (cipher.Block, error) {
	switch rngCipher {
	case "aes":
		return aes.NewCipher(key)
	case "serpent":
		return serpent.NewCipher(key)
	default:
		return nil, fmt.Errorf("unknown or unsupported cipher: %s", rngCipher)
	}
}

// SetCipher selects the block cipher of the CSPRNG and reinitializes it.
func SetCipher(name string) error {
	rngLock.Lock()
	defer rngLock.Unlock()

	previous := rngCipher
	rngCipher = name
	if _, err := newCipher(make([]byte, 32)); err != nil {
		rngCipher = previous
		return err
	}

	rng = nil
	return initGenerator()
}

// initGenerator creates and seeds the generator. rngLock must be held.
func initGenerator() error {
	if rng != nil {
		return nil
	}

	gen := fortuna.NewGenerator(newCipher)
	if err := reseedFromOS(gen); err != nil {
		return err
	}
	rng = gen
	return nil
}

func reseedFromOS(gen *fortuna.Generator) error {
	osEntropy := make([]byte, seedEntropyBytes)
	if _, err := rand.Read(osEntropy); err != nil {
		return fmt.Errorf("could not read entropy from os: %w", err)
	}
	gen.Reseed(osEntropy)
	return nil
}
