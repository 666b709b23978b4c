package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tannerryan/ring"

	"github.com/safing/attention/base/bag"
	"github.com/safing/attention/base/rng"
	"github.com/safing/attention/service/scheduler"
	"github.com/safing/attention/service/unit"
)

const (
	frontierCapacity = 4096
	maxCrawlDepth    = 8
	// Number of distinct simulated pages links can point to.
	pageSpace = 1 << 16

	seenFalsePositiveRate = 0.001
	seedInterval     = 50 * time.Millisecond
	reportInterval   = 10 * time.Second

	// Fraction of priority a link passes on to the pages it points to.
	linkDecay = 0.7
	// Per step aging of pages waiting in the frontier.
	ageDecay = 0.995
)

type page = bag.Entry[string, int]

// workloadScheduler is what the demo needs from the scheduler.
type workloadScheduler interface {
	Register(u unit.Continuous) error
	Submit(t scheduler.Task)
}

// demo is a synthetic workload: a crawler working through a frontier of
// simulated pages, a prime search with diminishing returns and a unit that
// mostly sleeps.
type demo struct {
	sched workloadScheduler

	frontier *bag.PriorityBag[string, *page]
	overflow bag.Overflow
	crawler  *unit.BagUnit[string, *page]
	primes   *unit.Func
	napper   *unit.Func

	seenLock sync.Mutex
	seen     *ring.Ring

	nextCandidate uint64
	seeds         atomic.Uint64
	removed       atomic.Uint64
}

func newDemo(s workloadScheduler) (*demo, error) {
	seen, err := ring.Init(pageSpace, seenFalsePositiveRate)
	if err != nil {
		return nil, fmt.Errorf("create seen filter: %w", err)
	}

	d := &demo{
		seen:          seen,
		sched:         s,
		frontier:      bag.New[string, *page](frontierCapacity, bag.MergePlus, bag.WithSampler(bag.NewHistogramSampler(64))),
		nextCandidate: 2,
	}
	d.frontier.SetRemoveHook(func(*page) {
		d.removed.Add(1)
	})

	d.crawler = unit.NewBagUnit("demo/crawler", false, d.frontier, d.crawl)
	d.crawler.SetRefresh(func(p *page) {
		p.SetPriority(p.Priority() * ageDecay)
	})
	d.primes = unit.NewFunc("demo/primes", true, d.searchPrimes)
	d.napper = unit.NewFunc("demo/napper", false, func(unit.Deadline) (float64, error) {
		d.napper.SleepFor(time.Second)
		return 0.01, nil
	})

	for _, u := range []unit.Continuous{d.crawler, d.primes, d.napper} {
		if err := s.Register(u); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// run seeds the frontier through the scheduler input queue until ctx is
// canceled.
func (d *demo) run(ctx context.Context) error {
	seedTicker := time.NewTicker(seedInterval)
	defer seedTicker.Stop()
	reportTicker := time.NewTicker(reportInterval)
	defer reportTicker.Stop()

	r := rng.NewFast()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-seedTicker.C:
			id := d.seeds.Add(1)
			priority := float32(0.5 + r.Float64()/2)
			d.sched.Submit(func() {
				d.seed(id, priority)
			})
		case <-reportTicker.C:
			slog.Info(
				"demo workload",
				"seeds", d.seeds.Load(),
				"frontier", d.frontier.Size(),
				"pressure", d.frontier.Pressure(),
				"overflow", d.overflow.Total(),
				"removed", d.removed.Load(),
				"primes", d.primes.Value(),
			)
		}
	}
}

func (d *demo) seed(id uint64, priority float32) {
	d.frontier.Put(bag.NewEntry("site-"+strconv.FormatUint(id, 10), 0, priority), &d.overflow)
}

// crawl simulates fetching a page and queues the pages it links to.
// Only pages that were not crawled before produce value.
func (d *demo) crawl(p *page) (float64, bag.VisitResult) {
	if d.markSeen(p.Key()) {
		return 0, bag.Remove
	}

	h := fnv.New64a()
	for i := range 64 {
		_, _ = fmt.Fprintf(h, "%s#%d", p.Key(), i)
	}
	sum := h.Sum64()

	if p.Value < maxCrawlDepth {
		links := int(sum%4) + 1
		for i := range links {
			target := (sum >> (8 * i)) % pageSpace
			child := bag.NewEntry("page-"+strconv.FormatUint(target, 10), p.Value+1, p.Priority()*linkDecay)
			d.frontier.Put(child, &d.overflow)
		}
	}
	return 1, bag.Remove
}

// markSeen records the page as crawled and reports whether it was crawled
// before.
func (d *demo) markSeen(key string) bool {
	d.seenLock.Lock()
	defer d.seenLock.Unlock()

	if d.seen.Test([]byte(key)) {
		return true
	}
	d.seen.Add([]byte(key))
	return false
}

// searchPrimes tests candidates by trial division until the deadline fires.
// Larger candidates take longer, so the value rate falls over time.
func (d *demo) searchPrimes(deadline unit.Deadline) (float64, error) {
	var found float64
	for !deadline() {
		if isPrime(d.nextCandidate) {
			found++
		}
		d.nextCandidate++
	}
	return found, nil
}

func isPrime(n uint64) bool {
	if n < 2 {
		return false
	}
	for i := uint64(2); i*i <= n; i++ {
		if n%i == 0 {
			return false
		}
	}
	return true
}
