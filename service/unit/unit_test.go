package unit

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safing/attention/base/bag"
)

var (
	_ Continuous = &Func{}
	_ Continuous = &BagUnit[string, *bag.Entry[string, int]]{}
)

func TestBase(t *testing.T) {
	t.Parallel()

	b := NewBase("base", true)
	assert.Equal(t, "base", b.ID())
	assert.True(t, b.Singleton())
	assert.Equal(t, NeutralPriority, b.Priority())

	// Priorities are sanitized.
	b.SetPriority(0.25)
	assert.InDelta(t, 0.25, b.Priority(), 1e-9)
	b.SetPriority(2)
	assert.InDelta(t, 1, b.Priority(), 1e-9)
	b.SetPriority(-1)
	assert.InDelta(t, 0, b.Priority(), 1e-9)
	b.SetPriority(float32(math.NaN()))
	assert.Equal(t, NeutralPriority, b.Priority())
	b.SetPriority(float32(math.Inf(1)))
	assert.Equal(t, NeutralPriority, b.Priority())

	// Value ignores garbage.
	b.AddValue(1.5)
	b.AddValue(-3)
	b.AddValue(math.NaN())
	b.AddValue(math.Inf(1))
	assert.InDelta(t, 1.5, b.Value(), 1e-9)

	b.AddTimeUsed(time.Second)
	b.AddTimeUsed(-time.Second)
	assert.Equal(t, time.Second, b.TimeUsed())

	b.ResetStats()
	assert.Zero(t, b.Value())
	assert.Zero(t, b.TimeUsed())
}

func TestBaseConcurrentValue(t *testing.T) {
	t.Parallel()

	b := NewBase("concurrent", false)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				b.AddValue(1)
			}
		}()
	}
	wg.Wait()
	assert.InDelta(t, 8000, b.Value(), 1e-9)
}

func TestSleeping(t *testing.T) {
	t.Parallel()

	b := NewBase("sleepy", false)
	now := time.Now()
	assert.False(t, b.Sleeping(now))

	b.SleepUntil(now.Add(time.Minute))
	assert.True(t, b.Sleeping(now))
	assert.False(t, b.Sleeping(now.Add(2*time.Minute)))

	b.Wake()
	assert.False(t, b.Sleeping(now))
}

func TestDeadline(t *testing.T) {
	t.Parallel()

	current := time.Unix(100, 0)
	now := func() time.Time { return current }

	d := DeadlineAt(now, time.Unix(101, 0))
	assert.False(t, d())
	current = time.Unix(101, 0)
	assert.True(t, d())
	assert.False(t, Never())
}

func TestFunc(t *testing.T) {
	t.Parallel()

	calls := 0
	f := NewFunc("func", false, func(deadline Deadline) (float64, error) {
		calls++
		if calls == 2 {
			return 5, errors.New("failed")
		}
		return 2, nil
	})

	require.NoError(t, f.Step(Never))
	// A failed step does not count its value.
	require.Error(t, f.Step(Never))
	assert.InDelta(t, 2, f.Value(), 1e-9)
	assert.Equal(t, 2, calls)
}

func newTestBag(t *testing.T, priorities ...float32) *bag.PriorityBag[string, *bag.Entry[string, int]] {
	t.Helper()

	b := bag.New[string, *bag.Entry[string, int]](len(priorities)+1, bag.MergeMax)
	for i, p := range priorities {
		_, ok := b.Put(bag.NewEntry(fmt.Sprintf("item-%d", i), i, p), nil)
		require.True(t, ok)
	}
	return b
}

func TestBagUnit(t *testing.T) {
	t.Parallel()

	b := newTestBag(t, 0.9, 0.1)
	visits := make(map[string]int)
	u := NewBagUnit("bag", true, b, func(item *bag.Entry[string, int]) (float64, bag.VisitResult) {
		visits[item.Key()]++
		return 0.01, bag.Continue
	})

	// Stop after a fixed amount of visits.
	steps := 0
	require.NoError(t, u.Step(func() bool {
		steps++
		return steps > 1000
	}))

	total := visits["item-0"] + visits["item-1"]
	assert.Positive(t, total)
	assert.Greater(t, visits["item-0"], visits["item-1"])
	assert.InDelta(t, float64(total)*0.01, u.Value(), 1e-6)
}

func TestBagUnitPanic(t *testing.T) {
	t.Parallel()

	b := newTestBag(t, 0.5, 0.6, 0.7)
	visits := 0
	u := NewBagUnit("panic", false, b, func(item *bag.Entry[string, int]) (float64, bag.VisitResult) {
		visits++
		if visits == 2 {
			panic("visit failed")
		}
		return 1, bag.Continue
	})

	assert.Panics(t, func() {
		_ = u.Step(Never)
	})
	assert.Equal(t, 2, visits)
	assert.Zero(t, u.Value())
}

func TestBagUnitRemoveAndSleep(t *testing.T) {
	t.Parallel()

	b := newTestBag(t, 0.5, 0.6, 0.7)
	u := NewBagUnit("drain", false, b, func(item *bag.Entry[string, int]) (float64, bag.VisitResult) {
		return 1, bag.Remove
	})
	assert.False(t, u.Sleeping(time.Now()))

	require.NoError(t, u.Step(Never))
	assert.Zero(t, b.Size())
	assert.InDelta(t, 3, u.Value(), 1e-9)

	// An empty bag leaves nothing to do.
	assert.True(t, u.Sleeping(time.Now()))
}

func TestBagUnitRefreshAndExpired(t *testing.T) {
	t.Parallel()

	b := newTestBag(t, 0.5, 0.8)
	u := NewBagUnit("decay", false, b, func(item *bag.Entry[string, int]) (float64, bag.VisitResult) {
		t.Error("should not visit with an expired deadline")
		return 0, bag.Stop
	})
	u.SetRefresh(func(item *bag.Entry[string, int]) {
		item.SetPriority(item.Priority() / 2)
	})

	require.NoError(t, u.Step(func() bool { return true }))
	assert.InDelta(t, 0.65, b.Mass(), 1e-4)
	assert.Same(t, b, u.Bag())
}
