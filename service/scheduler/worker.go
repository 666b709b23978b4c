package scheduler

import (
	"time"

	"github.com/tevino/abool"

	"github.com/safing/attention/base/rng"
	"github.com/safing/attention/service/clock"
	"github.com/safing/attention/service/mgr"
	"github.com/safing/attention/service/unit"
)

const (
	// minCyclePeriod guards against a clock that reports no period at all.
	minCyclePeriod = 100 * time.Microsecond
	// idleStep is the longest a worker sleeps before checking the queue again.
	idleStep = time.Millisecond
)

// worker is one scheduling loop. All fields are private to the worker.
type worker struct {
	id    int
	s     *Scheduler
	clock clock.Clock

	// buf holds tasks drained from the input queue.
	buf  []Task
	plan *plan
	rand *rng.Fast

	exited abool.AtomicBool
}

func newWorker(id int, s *Scheduler, c clock.Clock) *worker {
	return &worker{
		id:    id,
		s:     s,
		clock: c,
		plan:  newPlan(),
		rand:  rng.NewFast(),
	}
}

// run alternates work, play and idle phases until the scheduler stops.
func (w *worker) run(wc *mgr.WorkerCtx) error {
	// A worker that already exited, eg. after a panic, is not restarted.
	if w.exited.IsSet() {
		return nil
	}
	defer func() {
		// Never lose drained tasks.
		w.flush()
		if w.exited.SetToIf(false, true) {
			w.s.activeWorkers.Add(-1)
		}
	}()

	w.s.state.CompareAndSwap(int32(StateStarted), int32(StateRunning))

	for !w.s.stopping.IsSet() && !wc.IsDone() {
		w.cycle(wc)
	}
	return nil
}

func (w *worker) cycle(wc *mgr.WorkerCtx) {
	clk := w.clock
	start := clk.Now()

	period := max(clk.CyclePeriod(), minCyclePeriod)
	throttle := sanitizeThrottle(clk.Throttle())
	activeEnd := start.Add(time.Duration(float64(period) * throttle))
	cycleEnd := start.Add(period)

	w.work(throttle, activeEnd)
	w.play(wc, throttle, activeEnd)
	w.idle(cycleEnd)

	w.s.stats.cycles.Add(1)
}

// work drains the input queue in batches until the queue is safe again or
// the active part of the cycle is over. At least one batch is drained per
// cycle, so that queued tasks progress even at zero throttle.
func (w *worker) work(throttle float64, end time.Time) {
	clk := w.clock
	granularity := float64(w.s.cfg.Workers + 1)

	for first := true; first || clk.Now().Before(end); first = false {
		available := w.s.queue.Len()
		if available == 0 {
			return
		}

		// High throttle means many workers are busy, so take a smaller share.
		batch := lerp(throttle, float64(available), float64(available)/granularity)
		w.buf = w.s.queue.Drain(w.buf[:0], max(int(batch), 1))
		w.flush()

		if w.s.queue.Safe() {
			return
		}
	}
}

// flush executes all tasks in the private buffer.
func (w *worker) flush() {
	for i, t := range w.buf {
		w.s.execute(t)
		w.buf[i] = nil
	}
	w.buf = w.buf[:0]
}

// play steps continuous units until the active part of the cycle is over or
// no unit can be stepped.
func (w *worker) play(wc *mgr.WorkerCtx, throttle float64, end time.Time) {
	clk := w.clock

	var skipped int
	for !w.s.stopping.IsSet() {
		now := clk.Now()
		if !now.Before(end) {
			return
		}

		if version := w.s.reg.version.Load(); w.plan.due(now, version) {
			epochBudget := time.Duration(float64(w.s.cfg.Epoch) * throttle)
			w.plan.rebuild(w.s.reg.snapshot(), version, now, w.s.cfg.Epoch, epochBudget, w.s.cfg.MinShare, w.rand)
			w.s.stats.replans.Add(1)
			skipped = 0
		}

		item := w.plan.next()
		if item == nil {
			return
		}

		if w.step(wc, item, end) {
			skipped = 0
			continue
		}

		// Go idle after a full round without any step.
		skipped++
		if skipped >= len(w.plan.items) {
			return
		}
	}
}

// step runs one step of the planned unit, if it is eligible.
func (w *worker) step(wc *mgr.WorkerCtx, item *planItem, end time.Time) bool {
	if item.remaining <= 0 {
		return false
	}

	clk := w.clock
	e := item.entry
	now := clk.Now()
	if e.unit.Sleeping(now) {
		return false
	}
	if e.unit.Singleton() {
		if !e.busy.SetToIf(false, true) {
			return false
		}
		defer e.busy.UnSet()
	}

	stepEnd := now.Add(item.remaining)
	if end.Before(stepEnd) {
		stepEnd = end
	}

	w.s.runStep(wc, e, unit.DeadlineAt(clk.Now, stepEnd))

	elapsed := max(clk.Now().Sub(now), 0)
	item.remaining -= elapsed
	e.unit.AddTimeUsed(elapsed)
	w.s.observeStep(elapsed)
	return true
}

// idle sleeps for the configured share of the rest of the cycle, waking up
// early if tasks pile up.
func (w *worker) idle(cycleEnd time.Time) {
	clk := w.clock
	now := clk.Now()
	rest := cycleEnd.Sub(now)
	if rest <= 0 || w.s.cfg.IdleFraction <= 0 {
		return
	}

	idleEnd := now.Add(time.Duration(float64(rest) * w.s.cfg.IdleFraction))
	for now.Before(idleEnd) {
		if !w.s.queue.Safe() || w.s.stopping.IsSet() {
			return
		}
		time.Sleep(min(idleStep, idleEnd.Sub(now)))
		now = clk.Now()
	}
}

func lerp(t, a, b float64) float64 {
	return a + t*(b-a)
}

func sanitizeThrottle(t float32) float64 {
	switch {
	case t != t: //nolint:gocritic // NaN check.
		return 1
	case t < 0:
		return 0
	case t > 1:
		return 1
	default:
		return float64(t)
	}
}
