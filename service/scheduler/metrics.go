package scheduler

import (
	"errors"
	"time"

	"github.com/safing/attention/base/metrics"
)

// schedulerMetrics holds the metrics registered by a running scheduler.
type schedulerMetrics struct {
	registered   []metrics.Metric
	stepDuration *metrics.Histogram
}

// registerMetrics registers the scheduler metrics.
// Only one running scheduler can expose metrics at a time, others run without.
func (s *Scheduler) registerMetrics() *schedulerMetrics {
	sm := &schedulerMetrics{}

	handle := func(m metrics.Metric, err error) bool {
		switch {
		case err == nil:
			sm.registered = append(sm.registered, m)
			return true
		case errors.Is(err, metrics.ErrAlreadyRegistered):
			s.mgr.Debug("scheduler metrics are exposed by another scheduler")
		default:
			s.mgr.Warn("failed to register metric", "err", err)
		}
		return false
	}

	counters := []struct {
		id   string
		name string
		fn   func() uint64
	}{
		{"scheduler/tasks/executed/total", "Executed Tasks", s.stats.tasksExecuted.Load},
		{"scheduler/tasks/direct/total", "Directly Executed Tasks", s.stats.tasksDirect.Load},
		{"scheduler/tasks/panics/total", "Panicked Tasks", s.stats.taskPanics.Load},
		{"scheduler/steps/total", "Unit Steps", s.stats.steps.Load},
		{"scheduler/steps/errors/total", "Failed Unit Steps", s.stats.stepErrors.Load},
		{"scheduler/cycles/total", "Worker Cycles", s.stats.cycles.Load},
	}
	for _, c := range counters {
		m, err := metrics.NewFetchingCounter(c.id, nil, c.fn, &metrics.Options{Name: c.name})
		if !handle(m, err) {
			s.unregister(sm)
			return nil
		}
	}

	gauges := []struct {
		id   string
		name string
		fn   func() float64
	}{
		{"scheduler/queue/length", "Input Queue Length", func() float64 { return float64(s.queue.Len()) }},
		{"scheduler/units", "Registered Units", func() float64 { return float64(s.reg.size()) }},
	}
	for _, g := range gauges {
		m, err := metrics.NewGauge(g.id, nil, g.fn, &metrics.Options{Name: g.name})
		if !handle(m, err) {
			s.unregister(sm)
			return nil
		}
	}

	h, err := metrics.NewHistogram("scheduler/steps/duration/seconds", nil, &metrics.Options{Name: "Unit Step Duration"})
	if !handle(h, err) {
		s.unregister(sm)
		return nil
	}
	sm.stepDuration = h

	return sm
}

func (s *Scheduler) unregister(sm *schedulerMetrics) {
	for _, m := range sm.registered {
		metrics.Unregister(m)
	}
}

func (s *Scheduler) unregisterMetrics() {
	if s.metrics != nil {
		s.unregister(s.metrics)
		s.metrics = nil
	}
}

func (s *Scheduler) observeStep(d time.Duration) {
	if sm := s.metrics; sm != nil {
		sm.stepDuration.Update(d.Seconds())
	}
}
