package mgr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerGo(t *testing.T) {
	t.Parallel()

	m := New("GoTest")

	var runs atomic.Int32
	m.Go("restarting", func(w *WorkerCtx) error {
		if runs.Add(1) == 1 {
			return errors.New("first run fails")
		}
		return nil
	})
	assert.Equal(t, 1, m.WorkerCount(), "worker should be counted immediately")

	// The failed worker is restarted after a backoff.
	require.True(t, m.WaitForWorkers(5*time.Second))
	assert.EqualValues(t, 2, runs.Load())
}

func TestManagerGoCancel(t *testing.T) {
	t.Parallel()

	m := New("CancelTest")
	m.Go("waiting", func(w *WorkerCtx) error {
		<-w.Done()
		return w.Ctx().Err()
	})

	m.Cancel()
	assert.True(t, m.IsDone())
	require.True(t, m.WaitForWorkers(time.Second))

	// After a reset, the manager can be used again.
	m.Reset()
	assert.False(t, m.IsDone())
	err := m.Do("after reset", func(w *WorkerCtx) error {
		assert.False(t, w.IsDone())
		return nil
	})
	assert.NoError(t, err)
}

func TestManagerDoPanic(t *testing.T) {
	t.Parallel()

	m := New("PanicTest")
	err := m.Do("panicking", func(w *WorkerCtx) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Zero(t, m.WorkerCount())
}

func TestWorkerCtx(t *testing.T) {
	t.Parallel()

	m := New("CtxTest")
	err := m.Do("ctx", func(w *WorkerCtx) error {
		assert.Equal(t, "ctx", w.Name())
		assert.Nil(t, w.WorkerMgr())

		ctx := w.AddToCtx(context.Background())
		assert.Same(t, w, WorkerFromCtx(ctx))
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, WorkerFromCtx(context.Background()))
}

func TestPanicLocation(t *testing.T) {
	t.Parallel()

	stack := "goroutine 1 [running]:\n" +
		"panic({0x1, 0x2})\n" +
		"\t/usr/lib/go/src/runtime/panic.go:770 +0x132\n" +
		"github.com/safing/attention/service/unit.(*Func).Run(...)\n" +
		"\t/src/service/unit/unit.go:42 +0x1d\n"
	assert.Equal(t, "/src/service/unit/unit.go:42", PanicLocation(stack))
	assert.Empty(t, PanicLocation("no panic here"))
}

type testModule struct {
	mgr    *Manager
	states *StateMgr

	name     string
	startErr error
	record   func(string)
}

func newTestModule(name string, record func(string)) *testModule {
	m := New(name)
	return &testModule{
		mgr:    m,
		states: NewStateMgr(m),
		name:   name,
		record: record,
	}
}

func (tm *testModule) Manager() *Manager { return tm.mgr }
func (tm *testModule) States() *StateMgr { return tm.states }

func (tm *testModule) Start() error {
	if tm.startErr != nil {
		return tm.startErr
	}
	tm.record("start " + tm.name)
	return nil
}

func (tm *testModule) Stop() error {
	tm.record("stop " + tm.name)
	return nil
}

func TestGroup(t *testing.T) {
	t.Parallel()

	var (
		lock  sync.Mutex
		order []string
	)
	record := func(s string) {
		lock.Lock()
		defer lock.Unlock()
		order = append(order, s)
	}

	a := newTestModule("a", record)
	b := newTestModule("b", record)
	var nilModule *testModule
	g := NewGroup(a, nilModule, b)
	assert.Len(t, g.Modules(), 2)

	require.NoError(t, g.Start())
	assert.True(t, g.Ready())
	require.NoError(t, g.Start(), "starting twice is a no-op")

	a.states.Add(State{ID: "x", Name: "X"})
	states := g.GetStates()
	require.Len(t, states, 2)
	assert.Len(t, states[0].States, 1)

	require.NoError(t, g.Stop())
	assert.False(t, g.Ready())
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, order)
}

func TestGroupStartFailure(t *testing.T) {
	t.Parallel()

	var (
		lock  sync.Mutex
		order []string
	)
	record := func(s string) {
		lock.Lock()
		defer lock.Unlock()
		order = append(order, s)
	}

	a := newTestModule("a", record)
	b := newTestModule("b", record)
	b.startErr = errors.New("broken")
	g := NewGroup(a, b)

	err := g.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, b.startErr)
	assert.False(t, g.Ready())

	// Started modules are stopped again in reverse order.
	assert.Equal(t, []string{"start a", "stop b", "stop a"}, order)

	// The group is off again and can be retried.
	b.startErr = nil
	require.NoError(t, g.Start())
	require.NoError(t, g.Stop())
}

func TestEventMgr(t *testing.T) {
	t.Parallel()

	// Without a manager, callbacks run synchronously.
	em := NewEventMgr[int]("sync", nil)
	var sum int
	em.AddCallback("sum", func(_ *WorkerCtx, v int) (bool, error) {
		sum += v
		return v >= 10, nil
	})
	sub := em.Subscribe("sub", 10)

	em.Submit(1)
	em.Submit(10)
	em.Submit(100)
	assert.Equal(t, 11, sum, "callback should be canceled after returning true")
	assert.Len(t, sub.Events(), 3)

	sub.Cancel()
	assert.True(t, sub.Done())
	em.Submit(1000)
	assert.Len(t, sub.Events(), 3)

	// With a manager, callbacks run in workers.
	m := New("EventTest")
	em = NewEventMgr[int]("async", m)
	var got atomic.Int64
	em.AddCallback("store", func(w *WorkerCtx, v int) (bool, error) {
		assert.NotNil(t, w)
		got.Store(int64(v))
		return false, nil
	})
	em.Submit(42)
	require.True(t, m.WaitForWorkers(time.Second))
	assert.EqualValues(t, 42, got.Load())
}

func TestStateMgr(t *testing.T) {
	t.Parallel()

	sm := NewStateMgr(New("StateTest"))
	sub := sm.Subscribe("test", 10)

	sm.Add(State{ID: "a", Name: "A"})
	sm.Add(State{ID: "b", Name: "B"})
	sm.Add(State{ID: "a", Name: "A2", Type: StateTypeWarning})

	update := sm.Export()
	assert.Equal(t, "StateTest", update.Name)
	require.Len(t, update.States, 2)
	assert.Equal(t, "A2", update.States[0].Name)
	assert.False(t, update.States[0].Time.IsZero())
	assert.True(t, sm.Has("b"))

	sm.Remove("b")
	sm.Remove("unknown")
	assert.False(t, sm.Has("b"))
	assert.Len(t, sm.Export().States, 1)

	sm.Clear()
	assert.Empty(t, sm.Export().States)

	// add, add, replace, remove, clear
	assert.Len(t, sub.Events(), 5)
}
