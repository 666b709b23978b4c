package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safing/attention/base/bag"
	"github.com/safing/attention/service/clock"
	"github.com/safing/attention/service/scheduler"
)

func TestDemo(t *testing.T) {
	t.Parallel()

	s := scheduler.New(&scheduler.Config{Workers: 2})
	d, err := newDemo(s)
	require.NoError(t, err)
	require.NoError(t, s.Start(clock.NewFixed(10*time.Millisecond, 0.5)))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, d.run(ctx))
	require.NoError(t, s.Stop())

	assert.Positive(t, d.seeds.Load())
	assert.Positive(t, d.crawler.Value(), "pages crawled")
	assert.Positive(t, d.primes.Value(), "primes found")
	assert.Positive(t, d.removed.Load())
	assert.Positive(t, s.Stats().TasksExecuted)

	// Registering twice fails.
	_, err = newDemo(s)
	require.ErrorIs(t, err, scheduler.ErrAlreadyRegistered)
}

func TestIsPrime(t *testing.T) {
	t.Parallel()

	var primes []uint64
	for n := range uint64(30) {
		if isPrime(n) {
			primes = append(primes, n)
		}
	}
	assert.Equal(t, []uint64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29}, primes)
}

func TestDemoSeen(t *testing.T) {
	t.Parallel()

	s := scheduler.New(nil)
	d, err := newDemo(s)
	require.NoError(t, err)

	p := bag.NewEntry("page-1", 0, 1)
	value, result := d.crawl(p)
	assert.InDelta(t, 1, value, 0)
	assert.Equal(t, bag.Remove, result)
	assert.Positive(t, d.frontier.Size(), "links queued")

	// Crawled pages produce nothing.
	value, result = d.crawl(bag.NewEntry("page-1", 0, 1))
	assert.InDelta(t, 0, value, 0)
	assert.Equal(t, bag.Remove, result)
}
