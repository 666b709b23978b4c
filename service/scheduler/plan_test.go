package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safing/attention/base/rng"
	"github.com/safing/attention/service/unit"
)

func testEntry(id string, priority float32) *entry {
	u := unit.NewFunc(id, false, func(unit.Deadline) (float64, error) { return 0, nil })
	u.SetPriority(priority)
	return &entry{unit: u}
}

func findItem(t *testing.T, p *plan, e *entry) *planItem {
	t.Helper()

	for i := range p.items {
		if p.items[i].entry == e {
			return &p.items[i]
		}
	}
	require.FailNow(t, "entry not in plan")
	return nil
}

func TestPlanBudgets(t *testing.T) {
	t.Parallel()

	r := rng.NewFastWithSeed(1)
	now := time.Now()

	high := testEntry("high", 0.6)
	low := testEntry("low", 0.2)
	sleepy := testEntry("sleepy", 1)
	sleepy.unit.(*unit.Func).SleepUntil(now.Add(time.Hour))

	p := newPlan()
	assert.True(t, p.due(now, 0), "empty plan is due")

	p.rebuild([]*entry{high, low, sleepy}, 7, now, time.Second, 100*time.Millisecond, 0, r)
	require.Len(t, p.items, 3)
	assert.InDelta(t, 75*time.Millisecond, findItem(t, p, high).remaining, float64(time.Microsecond))
	assert.InDelta(t, 25*time.Millisecond, findItem(t, p, low).remaining, float64(time.Microsecond))
	assert.Zero(t, findItem(t, p, sleepy).remaining)

	// The plan is valid until the epoch ends or the registry changes.
	assert.False(t, p.due(now.Add(500*time.Millisecond), 7))
	assert.True(t, p.due(now.Add(time.Second), 7))
	assert.True(t, p.due(now, 8))
}

func TestPlanMinShare(t *testing.T) {
	t.Parallel()

	zero := testEntry("zero", 0)
	high := testEntry("high", 0.9)

	p := newPlan()
	p.rebuild([]*entry{zero, high}, 1, time.Now(), time.Second, 100*time.Millisecond, 0.1, rng.NewFastWithSeed(2))
	assert.InDelta(t, 10*time.Millisecond, findItem(t, p, zero).remaining, float64(time.Microsecond))
	assert.InDelta(t, 90*time.Millisecond, findItem(t, p, high).remaining, float64(time.Microsecond))

	// Without a floor, zero priority units get nothing.
	p.rebuild([]*entry{zero, high}, 1, time.Now(), time.Second, 100*time.Millisecond, 0, rng.NewFastWithSeed(2))
	assert.Zero(t, findItem(t, p, zero).remaining)
}

func TestPlanShift(t *testing.T) {
	t.Parallel()

	debtor := testEntry("debtor", 0.5)
	saver := testEntry("saver", 0.5)
	spender := testEntry("spender", 0.5)
	entries := []*entry{debtor, saver, spender}
	now := time.Now()

	p := newPlan()
	p.rebuild(entries, 1, now, time.Second, 90*time.Millisecond, 0, rng.NewFastWithSeed(3))
	base := findItem(t, p, debtor).budget
	assert.InDelta(t, 30*time.Millisecond, base, float64(time.Microsecond))

	// Overran by a lot, did not run at all, used a bit less than planned.
	findItem(t, p, debtor).remaining = -100 * time.Millisecond
	findItem(t, p, spender).remaining = 5 * time.Millisecond

	p.rebuild(entries, 1, now.Add(time.Second), time.Second, 90*time.Millisecond, 0, rng.NewFastWithSeed(3))

	// Debt is applied additively and clamped to zero.
	assert.Zero(t, findItem(t, p, debtor).remaining)
	// Credit is capped at one base budget.
	assert.InDelta(t, 2*base, findItem(t, p, saver).remaining, float64(time.Microsecond))
	assert.InDelta(t, base+5*time.Millisecond, findItem(t, p, spender).remaining, float64(time.Microsecond))
}

func TestPlanRoundRobin(t *testing.T) {
	t.Parallel()

	p := newPlan()
	assert.Nil(t, p.next())

	entries := []*entry{testEntry("a", 0.5), testEntry("b", 0.5), testEntry("c", 0.5)}
	p.rebuild(entries, 1, time.Now(), time.Second, time.Second, 0, rng.NewFastWithSeed(4))

	seen := make(map[string]int)
	for range 9 {
		seen[p.next().entry.unit.ID()]++
	}
	assert.Equal(t, map[string]int{"a": 3, "b": 3, "c": 3}, seen)
}
