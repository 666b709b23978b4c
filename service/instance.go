package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofrs/uuid"

	"github.com/safing/attention/service/clock"
	"github.com/safing/attention/service/diag"
	"github.com/safing/attention/service/mgr"
	"github.com/safing/attention/service/scheduler"
)

// Instance is an instance of the attention service.
type Instance struct {
	*mgr.Group

	id      uuid.UUID
	version string

	clock     clock.Clock
	scheduler *scheduler.Module
	diag      *diag.Diag
}

// New returns a new service instance.
func New(version string, svcCfg *ServiceConfig) (*Instance, error) {
	if svcCfg == nil {
		svcCfg = &ServiceConfig{}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("generate instance id: %w", err)
	}
	instance := &Instance{
		id:      id,
		version: version,
	}

	// Use the host clock, unless a fixed throttle is configured.
	var modules []mgr.Module
	if svcCfg.FixedThrottle > 0 {
		instance.clock = clock.NewFixed(svcCfg.FixedPeriod, svcCfg.FixedThrottle)
	} else {
		host, err := clock.NewHost()
		if err != nil {
			return nil, fmt.Errorf("create clock module: %w", err)
		}
		instance.clock = host
		modules = append(modules, host)
	}

	instance.scheduler, err = scheduler.NewModule(instance.clock)
	if err != nil {
		return nil, fmt.Errorf("create scheduler module: %w", err)
	}
	instance.diag, err = diag.New(instance.scheduler, instance.clock)
	if err != nil {
		return nil, fmt.Errorf("create diag module: %w", err)
	}
	instance.diag.HandleFunc("/debug", instance.handleDebug)

	// Add all modules to instance group.
	modules = append(modules, instance.scheduler, instance.diag)
	instance.Group = mgr.NewGroup(modules...)
	instance.AddStatesCallback("log state changes", logStateUpdate)

	return instance, nil
}

// logStateUpdate logs the states of a module whenever they change.
func logStateUpdate(_ *mgr.WorkerCtx, update mgr.StateUpdate) (cancel bool, err error) {
	if len(update.States) == 0 {
		slog.Debug("module states cleared", "module", update.Name)
		return false, nil
	}
	for _, state := range update.States {
		level := slog.LevelInfo
		switch state.Type {
		case mgr.StateTypeWarning:
			level = slog.LevelWarn
		case mgr.StateTypeError:
			level = slog.LevelError
		}
		slog.Log(context.Background(), level, "module state", "module", update.Name, "state", state.ID, "name", state.Name, "message", state.Message)
	}
	return false, nil
}

// ID returns the random ID of this instance.
func (i *Instance) ID() string {
	return i.id.String()
}

// Version returns the version.
func (i *Instance) Version() string {
	return i.version
}

// Clock returns the clock driving the scheduler.
func (i *Instance) Clock() clock.Clock {
	return i.clock
}

// Scheduler returns the scheduler module.
func (i *Instance) Scheduler() *scheduler.Module {
	return i.scheduler
}

// Diag returns the diagnostics module.
func (i *Instance) Diag() *diag.Diag {
	return i.diag
}
