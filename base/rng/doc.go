// Package rng provides random numbers for the scheduler.
//
// Seeds come from a fortuna CSPRNG (github.com/seehuhn/fortuna), reseeded
// from `crypto/rand`. Hot paths use Fast, a cheap non-cryptographic
// generator (github.com/valyala/fastrand) seeded from the CSPRNG.
package rng
