package scheduler

import (
	"math"
	"time"

	"github.com/safing/attention/base/rng"
)

// planItem is the budget of one unit within the current epoch.
type planItem struct {
	entry     *entry
	budget    time.Duration
	remaining time.Duration
}

// plan is the private, shuffled view of the registered units of a worker.
type plan struct {
	items    []planItem
	pos      int
	epochEnd time.Time
	version  uint64

	// shift holds the budget carried over to the next epoch.
	// It is negative for units that overran their budget.
	shift map[*entry]time.Duration
}

func newPlan() *plan {
	return &plan{
		shift: make(map[*entry]time.Duration),
	}
}

// due reports whether the plan must be rebuilt.
func (p *plan) due(now time.Time, registryVersion uint64) bool {
	return !now.Before(p.epochEnd) || p.version != registryVersion
}

// rebuild budgets the given units for a new epoch.
// Each unit gets a share of epochBudget proportional to its priority, with
// minShare as the priority floor of awake units. Leftover budget and overruns
// of the previous epoch are carried forward additively, where credit is
// capped at one base budget and the result is never negative.
func (p *plan) rebuild(entries []*entry, version uint64, now time.Time, epoch, epochBudget time.Duration, minShare float64, r *rng.Fast) {
	// Collect what is carried forward from the previous epoch.
	clear(p.shift)
	for _, item := range p.items {
		p.shift[item.entry] = item.remaining
	}

	weights := make([]float64, len(entries))
	var total float64
	for i, e := range entries {
		if e.unit.Sleeping(now) {
			continue
		}
		w := float64(e.unit.Priority())
		if math.IsNaN(w) || math.IsInf(w, 0) {
			w = 0.5
		}
		weights[i] = max(w, minShare)
		total += weights[i]
	}

	p.items = p.items[:0]
	for i, e := range entries {
		var base time.Duration
		if total > 0 {
			base = time.Duration(float64(epochBudget) * weights[i] / total)
		}
		remaining := base + min(p.shift[e], base)
		p.items = append(p.items, planItem{
			entry:     e,
			budget:    base,
			remaining: max(remaining, 0),
		})
	}

	r.Shuffle(len(p.items), func(i, j int) {
		p.items[i], p.items[j] = p.items[j], p.items[i]
	})
	p.pos = 0
	p.version = version
	p.epochEnd = now.Add(epoch)
	clear(p.shift)
}

// next returns the next item in round-robin order.
func (p *plan) next() *planItem {
	if len(p.items) == 0 {
		return nil
	}
	if p.pos >= len(p.items) {
		p.pos = 0
	}
	item := &p.items[p.pos]
	p.pos++
	return item
}
