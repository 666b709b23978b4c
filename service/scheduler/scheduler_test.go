package scheduler

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safing/attention/service/clock"
	"github.com/safing/attention/service/mgr"
	"github.com/safing/attention/service/unit"
)

// busyUnit spins until its deadline and produces one value per second used.
func busyUnit(id string, singleton bool) *unit.Func {
	return unit.NewFunc(id, singleton, func(deadline unit.Deadline) (float64, error) {
		started := time.Now()
		for !deadline() {
			runtime.Gosched()
		}
		return time.Since(started).Seconds(), nil
	})
}

func TestFairness(t *testing.T) {
	t.Parallel()

	s := New(&Config{
		Workers:      2,
		Epoch:        100 * time.Millisecond,
		IdleFraction: 0,
	})
	units := make([]*unit.Func, 4)
	for i := range units {
		units[i] = busyUnit(fmt.Sprintf("unit-%d", i), false)
		require.NoError(t, s.Register(units[i]))
	}

	require.NoError(t, s.Start(clock.NewFixed(10*time.Millisecond, 1)))
	time.Sleep(500 * time.Millisecond)
	require.NoError(t, s.Stop())

	var total time.Duration
	for _, u := range units {
		total += u.TimeUsed()
	}
	require.Positive(t, total)

	share := total / time.Duration(len(units))
	for _, u := range units {
		assert.InEpsilon(t, float64(share), float64(u.TimeUsed()), 0.2, "unit %s", u.ID())
	}
}

func TestSingletonExclusivity(t *testing.T) {
	t.Parallel()

	var (
		inFlight    atomic.Int32
		maxInFlight atomic.Int32
	)
	u := unit.NewFunc("singleton", true, func(deadline unit.Deadline) (float64, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			current := maxInFlight.Load()
			if n <= current || maxInFlight.CompareAndSwap(current, n) {
				break
			}
		}

		// Block past the deadline.
		for !deadline() {
			time.Sleep(100 * time.Microsecond)
		}
		time.Sleep(2 * time.Millisecond)
		return 1, nil
	})

	s := New(&Config{Workers: 4, IdleFraction: 0})
	require.NoError(t, s.Register(u))
	require.NoError(t, s.Start(clock.NewFixed(5*time.Millisecond, 1)))
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Positive(t, s.Stats().Steps)
	assert.EqualValues(t, 1, maxInFlight.Load())
}

func TestNoLostWork(t *testing.T) {
	t.Parallel()

	const (
		producers   = 8
		perProducer = 500
	)

	s := New(&Config{
		Workers:       2,
		QueueCapacity: 8,
	})
	require.NoError(t, s.Start(clock.NewFixed(5*time.Millisecond, 0.5)))

	var (
		executed atomic.Int64
		wg       sync.WaitGroup
	)
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perProducer {
				s.Submit(func() {
					executed.Add(1)
				})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, s.Stop())

	assert.EqualValues(t, producers*perProducer, executed.Load())
	st := s.Stats()
	assert.EqualValues(t, producers*perProducer, st.TasksExecuted)
	assert.EqualValues(t, producers*perProducer, st.TasksQueued+st.TasksDirect)
	assert.Zero(t, st.QueueLen)
}

func TestZeroThrottle(t *testing.T) {
	t.Parallel()

	s := New(&Config{Workers: 2, IdleFraction: 1})
	require.NoError(t, s.Start(clock.NewFixed(5*time.Millisecond, 0)))
	defer func() {
		assert.NoError(t, s.Stop())
	}()

	var executed atomic.Int32
	s.Submit(func() {
		executed.Add(1)
	})
	assert.Eventually(t, func() bool {
		return executed.Load() == 1
	}, time.Second, time.Millisecond, "queued tasks run without any throttle")
	assert.EqualValues(t, 1, s.Stats().TasksQueued)
}

func TestSubmitWhileStopped(t *testing.T) {
	t.Parallel()

	s := New(nil)
	ran := false
	s.Submit(func() { ran = true })
	assert.True(t, ran, "stopped scheduler executes directly")
	assert.EqualValues(t, 1, s.Stats().TasksDirect)

	// Panics are contained.
	s.Submit(func() { panic("task failed") })
	assert.EqualValues(t, 1, s.Stats().TaskPanics)
	assert.EqualValues(t, 2, s.Stats().TasksExecuted)
	s.Submit(nil)
}

type nanUnit struct {
	*unit.Base
}

func (n *nanUnit) Value() float64              { return math.NaN() }
func (n *nanUnit) Step(_ unit.Deadline) error { return nil }

func TestPrioritize(t *testing.T) {
	t.Parallel()

	s := New(nil)
	a := busyUnit("a", false)
	b := busyUnit("b", false)
	c := busyUnit("c", false)
	d := busyUnit("d", false)
	for _, u := range []*unit.Func{a, b, c, d} {
		require.NoError(t, s.Register(u))
	}

	a.AddValue(10)
	a.AddTimeUsed(time.Second)
	b.AddValue(5)
	b.AddTimeUsed(time.Second)
	// c has no time used yet and d sleeps.
	d.AddValue(100)
	d.AddTimeUsed(time.Second)
	d.SleepFor(time.Hour)

	s.Prioritize()
	assert.InDelta(t, 1, a.Priority(), 1e-6)
	assert.InDelta(t, 0.5, b.Priority(), 1e-6)
	assert.InDelta(t, 0, c.Priority(), 1e-6)
	assert.InDelta(t, 0, d.Priority(), 1e-6)
	assert.EqualValues(t, 1, s.Stats().Prioritizations)
}

func TestPrioritizeNeutral(t *testing.T) {
	t.Parallel()

	s := New(nil)
	a := busyUnit("a", false)
	b := busyUnit("b", false)
	n := &nanUnit{Base: unit.NewBase("nan", false)}
	for _, u := range []unit.Continuous{a, b, n} {
		require.NoError(t, s.Register(u))
	}

	// Equal rates within measurement noise.
	a.AddValue(1)
	a.AddTimeUsed(time.Second)
	b.AddValue(1.01)
	b.AddTimeUsed(time.Second)
	n.AddTimeUsed(time.Second)
	n.SetPriority(0.9)

	s.Prioritize()
	// The NaN value rate counts as zero and spreads the range.
	assert.InDelta(t, 0, n.Priority(), 1e-6)
	assert.False(t, math.IsNaN(float64(n.Priority())))

	require.NoError(t, s.Unregister("nan"))
	s.Prioritize()
	assert.InDelta(t, unit.NeutralPriority, a.Priority(), 1e-6)
	assert.InDelta(t, unit.NeutralPriority, b.Priority(), 1e-6)
}

func TestPrioritizeSpreadBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		high     float64
		wantLow  float32
		wantHigh float32
	}{
		{name: "4% spread is noise", high: 104, wantLow: unit.NeutralPriority, wantHigh: unit.NeutralPriority},
		{name: "6% spread is significant", high: 106, wantLow: 0, wantHigh: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := New(nil)
			low := busyUnit("low", false)
			high := busyUnit("high", false)
			require.NoError(t, s.Register(low))
			require.NoError(t, s.Register(high))
			low.AddValue(100)
			low.AddTimeUsed(time.Second)
			high.AddValue(tt.high)
			high.AddTimeUsed(time.Second)

			s.Prioritize()
			assert.InDelta(t, tt.wantLow, low.Priority(), 1e-6)
			assert.InDelta(t, tt.wantHigh, high.Priority(), 1e-6)
		})
	}
}

func TestStepFailures(t *testing.T) {
	t.Parallel()

	failing := unit.NewFunc("failing", false, func(unit.Deadline) (float64, error) {
		return 3, errors.New("broken")
	})
	panicking := unit.NewFunc("panicking", false, func(unit.Deadline) (float64, error) {
		panic("boom")
	})
	healthy := busyUnit("healthy", false)

	s := New(&Config{Workers: 2, MinShare: 0.2})
	for _, u := range []*unit.Func{failing, panicking, healthy} {
		require.NoError(t, s.Register(u))
	}
	require.NoError(t, s.Start(clock.NewFixed(5*time.Millisecond, 1)))
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, s.Stop())

	st := s.Stats()
	assert.Positive(t, st.StepErrors)
	assert.Positive(t, st.StepPanics)
	assert.Positive(t, healthy.TimeUsed(), "healthy unit keeps running")

	infos := make(map[string]UnitInfo)
	for _, info := range s.Units() {
		infos[info.ID] = info
	}
	assert.Positive(t, infos["failing"].Errors)
	assert.Positive(t, infos["panicking"].Panics)
	assert.Zero(t, infos["healthy"].Errors)

	// Failed steps produce no value, so failing units lose priority.
	assert.Zero(t, failing.Value())
	assert.Zero(t, panicking.Value())
	s.Prioritize()
	assert.InDelta(t, 0, failing.Priority(), 1e-6)
	assert.InDelta(t, 0, panicking.Priority(), 1e-6)
	assert.InDelta(t, 1, healthy.Priority(), 1e-6)
}

func TestFailureLogLimit(t *testing.T) {
	t.Parallel()

	s := New(nil)
	require.NoError(t, s.Register(busyUnit("a", false)))
	require.NoError(t, s.Register(busyUnit("b", false)))
	a, ok := s.reg.get("a")
	require.True(t, ok)
	b, ok := s.reg.get("b")
	require.True(t, ok)

	// Units are limited independently.
	assert.True(t, a.logLimit.TryDo(func() {}))
	assert.True(t, b.logLimit.TryDo(func() {}))
	assert.False(t, a.logLimit.TryDo(func() {}))
}

func TestLifecycle(t *testing.T) {
	t.Parallel()

	s := New(&Config{Workers: 1})
	assert.Equal(t, StateStopped, s.State())
	require.ErrorIs(t, s.Start(nil), ErrNoClock)

	u := busyUnit("u", false)
	require.NoError(t, s.Register(u))
	require.ErrorIs(t, s.Register(busyUnit("u", false)), ErrAlreadyRegistered)
	require.ErrorIs(t, s.Unregister("unknown"), ErrUnknownUnit)

	c := clock.NewFixed(5*time.Millisecond, 1)
	require.NoError(t, s.Start(c))
	require.ErrorIs(t, s.Start(c), ErrAlreadyStarted)
	assert.Eventually(t, func() bool {
		return s.State() == StateRunning
	}, time.Second, time.Millisecond)

	require.NoError(t, s.Stop())
	assert.Equal(t, StateStopped, s.State())
	require.NoError(t, s.Stop(), "stopping twice is a no-op")

	// Restart.
	used := u.TimeUsed()
	require.NoError(t, s.Start(c))
	assert.Eventually(t, func() bool {
		return u.TimeUsed() > used
	}, time.Second, time.Millisecond)
	require.NoError(t, s.Unregister("u"))
	require.NoError(t, s.Stop())
	assert.Zero(t, s.Stats().Units)
}

func TestPrint(t *testing.T) {
	t.Parallel()

	s := New(&Config{Workers: 3})
	require.NoError(t, s.Register(busyUnit("alpha", true)))
	sleepy := busyUnit("beta", false)
	sleepy.SleepFor(time.Hour)
	require.NoError(t, s.Register(sleepy))

	var buf bytes.Buffer
	require.NoError(t, s.Print(&buf))
	out := buf.String()
	assert.Contains(t, out, "scheduler stopped: workers=3")
	assert.Contains(t, out, "UNIT")
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "-s-")
	assert.Contains(t, out, "z--")

	infos := s.Units()
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].ID)
}

func TestModule(t *testing.T) { //nolint:paralleltest // Uses global config.
	m, err := NewModule(clock.NewFixed(5*time.Millisecond, 1))
	require.NoError(t, err)
	require.NoError(t, m.Register(busyUnit("module-unit", false)))

	_, err = NewModule(nil)
	require.ErrorIs(t, err, ErrNoClock)

	g := mgr.NewGroup(m)
	require.NoError(t, g.Start())
	assert.Equal(t, defaultQueueCapacity, m.Config().QueueCapacity)

	done := make(chan struct{})
	m.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task was not executed")
	}

	require.NoError(t, g.Stop())
	assert.Equal(t, StateStopped, m.State())

	states := g.GetStates()
	require.Len(t, states, 1)
	assert.Equal(t, "Scheduler", states[0].Name)
	require.Len(t, states[0].States, 1)
	assert.Equal(t, "scheduler:stopped", states[0].States[0].ID)
}
