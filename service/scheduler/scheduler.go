package scheduler

import (
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tevino/abool"

	"github.com/safing/attention/base/utils"
	"github.com/safing/attention/service/clock"
	"github.com/safing/attention/service/mgr"
	"github.com/safing/attention/service/unit"
)

const (
	// rangeEpsilon is the smallest absolute value rate spread that is normalized.
	rangeEpsilon = 1e-9
	// minRelativeSpread is the smallest value rate spread, relative to the
	// highest rate, that is normalized. Smaller differences are measurement
	// noise and all units get the neutral priority.
	minRelativeSpread = 0.05

	stopTimeout = time.Minute
)

var (
	// ErrAlreadyStarted is returned when starting a scheduler that is not stopped.
	ErrAlreadyStarted = errors.New("scheduler already started")

	// ErrNoClock is returned when starting a scheduler without a clock.
	ErrNoClock = errors.New("no clock given")
)

// State is the lifecycle state of a scheduler.
type State int32

// Scheduler States.
const (
	StateStopped State = iota
	StateStarted
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarted:
		return "started"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Scheduler runs one-shot tasks from its input queue and time-slices the
// registered continuous units by their value rate.
// Must be created using New().
type Scheduler struct {
	cfg    Config
	mgr    *mgr.Manager
	states *mgr.StateMgr

	reg   *registry
	queue *InputQueue
	clock atomic.Pointer[clockBox]

	// lifecycleLock serializes Start and Stop.
	lifecycleLock sync.Mutex
	// submitLock orders submissions against the final queue drain.
	submitLock sync.RWMutex
	state      atomic.Int32
	stopping   abool.AtomicBool

	activeWorkers atomic.Int32
	prioritizer   *utils.CallLimiter
	prioritizeMgr *mgr.WorkerMgr

	stats   stats
	metrics *schedulerMetrics
}

type clockBox struct {
	clock.Clock
}

// New returns a new stopped scheduler.
func New(cfg *Config) *Scheduler {
	if cfg == nil {
		cfg = &Config{}
	}

	m := mgr.New("Scheduler")
	s := &Scheduler{
		cfg:         cfg.withDefaults(),
		mgr:         m,
		states:      mgr.NewStateMgr(m),
		reg:         newRegistry(),
		prioritizer: utils.NewCallLimiter(0),
	}
	s.queue = NewInputQueue(s.cfg.QueueCapacity)
	return s
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// reconfigure replaces the configuration. It has no effect while running.
func (s *Scheduler) reconfigure(cfg Config) {
	s.lifecycleLock.Lock()
	defer s.lifecycleLock.Unlock()

	if s.State() != StateStopped {
		return
	}

	s.cfg = cfg.withDefaults()
	if s.queue.Cap() != s.cfg.QueueCapacity && s.queue.Len() == 0 {
		s.submitLock.Lock()
		s.queue = NewInputQueue(s.cfg.QueueCapacity)
		s.submitLock.Unlock()
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Register adds a continuous unit. Units may be registered at any time.
func (s *Scheduler) Register(u unit.Continuous) error {
	if u == nil {
		return errors.New("no unit given")
	}
	if err := s.reg.add(u); err != nil {
		return fmt.Errorf("failed to register %s: %w", u.ID(), err)
	}
	s.mgr.Debug("unit registered", "unit", u.ID())
	return nil
}

// Unregister removes the continuous unit with the given ID.
// A step that is in flight is not interrupted.
func (s *Scheduler) Unregister(id string) error {
	if err := s.reg.remove(id); err != nil {
		return fmt.Errorf("failed to unregister %s: %w", id, err)
	}
	s.mgr.Debug("unit unregistered", "unit", id)
	return nil
}

// Start starts the workers using the given clock.
func (s *Scheduler) Start(c clock.Clock) error {
	if c == nil {
		return ErrNoClock
	}

	s.lifecycleLock.Lock()
	defer s.lifecycleLock.Unlock()

	if s.State() != StateStopped {
		return ErrAlreadyStarted
	}

	// Recover from a previously canceled manager.
	if s.mgr.IsDone() && s.mgr.WorkerCount() == 0 {
		s.mgr.Reset()
	}

	s.clock.Store(&clockBox{c})
	s.stopping.UnSet()
	s.metrics = s.registerMetrics()

	s.submitLock.Lock()
	s.state.Store(int32(StateStarted))
	s.submitLock.Unlock()

	// Start with fresh priorities.
	s.Prioritize()
	s.prioritizeMgr = s.mgr.NewWorkerMgr("prioritize", func(_ *mgr.WorkerCtx) error {
		s.Prioritize()
		return nil
	}, nil).Repeat(s.cfg.PrioritizeInterval)

	s.activeWorkers.Add(int32(s.cfg.Workers))
	for i := range s.cfg.Workers {
		w := newWorker(i, s, c)
		s.mgr.Go(fmt.Sprintf("worker %d", i), w.run)
	}

	s.states.Remove("scheduler:stopped")
	s.mgr.Info(
		"scheduler started",
		"workers", s.cfg.Workers,
		"queueCapacity", s.cfg.QueueCapacity,
		"epoch", s.cfg.Epoch,
	)
	return nil
}

// Stop stops the workers and executes all queued tasks.
// Steps that are in flight run to completion.
func (s *Scheduler) Stop() error {
	s.lifecycleLock.Lock()
	defer s.lifecycleLock.Unlock()

	if s.State() == StateStopped {
		return nil
	}

	// From now on, submissions are executed directly.
	s.submitLock.Lock()
	s.state.Store(int32(StateStopped))
	s.submitLock.Unlock()

	s.stopping.Set()
	if s.prioritizeMgr != nil {
		s.prioritizeMgr.Stop()
		s.prioritizeMgr = nil
	}

	var err error
	if !s.waitForWorkers(stopTimeout) {
		err = fmt.Errorf("%w: %d workers still active", mgr.ErrWorkersTimedOut, s.activeWorkers.Load())
	}

	// Execute everything that is left in the queue.
	var buf []Task
	for {
		buf = s.queue.Drain(buf[:0], s.queue.Cap())
		if len(buf) == 0 {
			break
		}
		for _, t := range buf {
			s.execute(t)
		}
	}

	s.unregisterMetrics()
	s.states.Add(mgr.State{
		ID:   "scheduler:stopped",
		Name: "Scheduler Stopped",
		Type: mgr.StateTypeHint,
	})
	s.mgr.Info("scheduler stopped")
	return err
}

func (s *Scheduler) waitForWorkers(maxWait time.Duration) bool {
	deadline := time.Now().Add(maxWait)
	for s.activeWorkers.Load() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
	return true
}

// Submit queues a task. If the queue is full or the scheduler is stopped,
// the task is executed directly in the calling goroutine.
func (s *Scheduler) Submit(t Task) {
	if t == nil {
		return
	}

	s.submitLock.RLock()
	if s.State() != StateStopped && s.queue.Offer(t) {
		s.submitLock.RUnlock()
		s.stats.tasksQueued.Add(1)
		return
	}
	s.submitLock.RUnlock()

	s.stats.tasksDirect.Add(1)
	s.execute(t)
}

// execute runs a task and recovers from panics.
func (s *Scheduler) execute(t Task) {
	defer func() {
		s.stats.tasksExecuted.Add(1)
		if x := recover(); x != nil {
			s.stats.taskPanics.Add(1)
			s.mgr.Error(
				"task panicked",
				"panic", x,
				"file", mgr.PanicLocation(string(debug.Stack())),
			)
		}
	}()

	t()
}

// runStep steps the unit and recovers from panics.
// Failures are counted and logged, but never stop the worker.
func (s *Scheduler) runStep(wc *mgr.WorkerCtx, e *entry, deadline unit.Deadline) {
	defer func() {
		if x := recover(); x != nil {
			e.panics.Add(1)
			s.stats.stepPanics.Add(1)
			wc.Error(
				"unit step panicked",
				"unit", e.unit.ID(),
				"panic", x,
				"file", mgr.PanicLocation(string(debug.Stack())),
			)
		}
	}()

	e.steps.Add(1)
	s.stats.steps.Add(1)
	if err := e.unit.Step(deadline); err != nil {
		e.errors.Add(1)
		s.stats.stepErrors.Add(1)
		// Failing units fail on every step, keep the log readable.
		e.logLimit.TryDo(func() {
			wc.Warn(
				"unit step failed",
				"unit", e.unit.ID(),
				"err", err,
				"errors", e.errors.Load(),
			)
		})
	}
}

func (s *Scheduler) now() time.Time {
	if box := s.clock.Load(); box != nil {
		return box.Now()
	}
	return time.Now()
}

// Prioritize recomputes the priority of all units from their value rate.
// Concurrent calls are bundled.
func (s *Scheduler) Prioritize() {
	s.prioritizer.Do(s.prioritize)
}

func (s *Scheduler) prioritize() {
	entries := s.reg.snapshot()
	now := s.now()

	rates := make([]float64, len(entries))
	sleeping := make([]bool, len(entries))
	minRate, maxRate := math.Inf(1), math.Inf(-1)
	for i, e := range entries {
		if e.unit.Sleeping(now) {
			sleeping[i] = true
			continue
		}
		rates[i] = valueRate(e.unit)
		minRate = min(minRate, rates[i])
		maxRate = max(maxRate, rates[i])
	}

	spread := maxRate - minRate
	normalize := spread > rangeEpsilon &&
		spread > minRelativeSpread*math.Abs(maxRate) &&
		!math.IsInf(spread, 0) && !math.IsNaN(spread)

	for i, e := range entries {
		switch {
		case sleeping[i]:
			e.unit.SetPriority(0)
		case normalize:
			e.unit.SetPriority(float32((rates[i] - minRate) / spread))
		default:
			e.unit.SetPriority(unit.NeutralPriority)
		}
	}

	s.stats.prioritizations.Add(1)
}

// valueRate returns the value produced per second of time used.
func valueRate(u unit.Continuous) float64 {
	used := u.TimeUsed()
	if used <= 0 {
		return 0
	}
	rate := u.Value() / used.Seconds()
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0
	}
	return rate
}
