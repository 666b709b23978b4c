package scheduler

import (
	"sync/atomic"
)

type stats struct {
	tasksQueued   atomic.Uint64
	tasksDirect   atomic.Uint64
	tasksExecuted atomic.Uint64
	taskPanics    atomic.Uint64

	steps      atomic.Uint64
	stepErrors atomic.Uint64
	stepPanics atomic.Uint64

	cycles          atomic.Uint64
	replans         atomic.Uint64
	prioritizations atomic.Uint64
}

// Stats is a snapshot of the scheduler counters.
// Counters are read one by one and may be slightly out of sync.
type Stats struct {
	State   string `json:"state"`
	Workers int    `json:"workers"`
	Units   int    `json:"units"`

	QueueLen int `json:"queueLen"`
	QueueCap int `json:"queueCap"`

	TasksQueued   uint64 `json:"tasksQueued"`
	TasksDirect   uint64 `json:"tasksDirect"`
	TasksExecuted uint64 `json:"tasksExecuted"`
	TaskPanics    uint64 `json:"taskPanics"`

	Steps      uint64 `json:"steps"`
	StepErrors uint64 `json:"stepErrors"`
	StepPanics uint64 `json:"stepPanics"`

	Cycles          uint64 `json:"cycles"`
	Replans         uint64 `json:"replans"`
	Prioritizations uint64 `json:"prioritizations"`
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.submitLock.RLock()
	queueLen, queueCap := s.queue.Len(), s.queue.Cap()
	s.submitLock.RUnlock()

	return Stats{
		State:   s.State().String(),
		Workers: s.cfg.Workers,
		Units:   s.reg.size(),

		QueueLen: queueLen,
		QueueCap: queueCap,

		TasksQueued:   s.stats.tasksQueued.Load(),
		TasksDirect:   s.stats.tasksDirect.Load(),
		TasksExecuted: s.stats.tasksExecuted.Load(),
		TaskPanics:    s.stats.taskPanics.Load(),

		Steps:      s.stats.steps.Load(),
		StepErrors: s.stats.stepErrors.Load(),
		StepPanics: s.stats.stepPanics.Load(),

		Cycles:          s.stats.cycles.Load(),
		Replans:         s.stats.replans.Load(),
		Prioritizations: s.stats.prioritizations.Load(),
	}
}
