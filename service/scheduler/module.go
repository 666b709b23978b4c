package scheduler

import (
	"fmt"

	"github.com/safing/attention/service/clock"
	"github.com/safing/attention/service/mgr"
)

// Module runs a scheduler as part of a module group.
// It is configured from the config registry.
type Module struct {
	*Scheduler

	clock clock.Clock
}

// NewModule registers the scheduler options and returns a new scheduler
// module driven by the given clock.
func NewModule(c clock.Clock) (*Module, error) {
	if c == nil {
		return nil, ErrNoClock
	}
	if err := registerConfig(); err != nil {
		return nil, fmt.Errorf("failed to register config: %w", err)
	}

	cfg := configFromOptions()
	return &Module{
		Scheduler: New(&cfg),
		clock:     c,
	}, nil
}

// Manager returns the module manager.
func (m *Module) Manager() *mgr.Manager {
	return m.mgr
}

// States returns the module state manager.
func (m *Module) States() *mgr.StateMgr {
	return m.states
}

// Start applies the current configuration and starts the scheduler.
func (m *Module) Start() error {
	m.reconfigure(configFromOptions())
	return m.Scheduler.Start(m.clock)
}

// Stop stops the scheduler.
func (m *Module) Stop() error {
	return m.Scheduler.Stop()
}
