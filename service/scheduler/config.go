package scheduler

import (
	"errors"
	"runtime"
	"time"

	"github.com/safing/attention/base/config"
)

const (
	defaultQueueCapacity      = 1024
	defaultEpoch              = 100 * time.Millisecond
	defaultPrioritizeInterval = 100 * time.Millisecond
	defaultIdleFraction       = 1.0
	defaultMinShare           = 0.05

	maxWorkers = 256
)

// Configuration Keys.
const (
	CfgWorkersKey            = "scheduler/workers"
	CfgQueueCapacityKey      = "scheduler/queueCapacity"
	CfgEpochKey              = "scheduler/epochMillis"
	CfgPrioritizeIntervalKey = "scheduler/prioritizeMillis"
	CfgIdleFractionKey       = "scheduler/idleFraction"
	CfgMinShareKey           = "scheduler/minShare"
)

var errOutOfRange = errors.New("value out of range")

// Config holds scheduler configuration.
type Config struct {
	// Workers defines the number of worker loops.
	// The default is the number of usable CPUs.
	Workers int

	// QueueCapacity defines how many tasks the input queue holds before
	// submissions are executed synchronously by the submitter.
	// The default value is 1024.
	QueueCapacity int

	// Epoch defines how often the workers re-plan the unit time budgets.
	// The default value is 100ms.
	Epoch time.Duration

	// PrioritizeInterval defines how often unit priorities are recomputed.
	// The default value is 100ms.
	PrioritizeInterval time.Duration

	// IdleFraction defines the share (0-1) of the inactive part of a cycle
	// that a worker actually sleeps.
	// The default value is 1 (100%).
	IdleFraction float64

	// MinShare defines the priority floor (0-1) used when budgeting, so that
	// units with zero priority still get some time.
	// The default value is 0.05 (5%).
	MinShare float64
}

// withDefaults returns a copy of the config with defaults filled in and
// values forced into their valid ranges.
func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	c.Workers = min(c.Workers, maxWorkers)
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if c.Epoch <= 0 {
		c.Epoch = defaultEpoch
	}
	if c.PrioritizeInterval <= 0 {
		c.PrioritizeInterval = defaultPrioritizeInterval
	}

	// Zero is a valid value for the fractions, so only fix invalid ones.
	if !(c.IdleFraction >= 0 && c.IdleFraction <= 1) {
		c.IdleFraction = defaultIdleFraction
	}
	if !(c.MinShare >= 0 && c.MinShare <= 1) {
		c.MinShare = defaultMinShare
	}
	return c
}

func registerConfig() error {
	options := []*config.Option{
		{
			Name:            "Workers",
			Key:             CfgWorkersKey,
			Description:     "Number of worker loops. Zero uses the number of CPUs.",
			OptType:         config.OptTypeInt,
			RequiresRestart: true,
			DefaultValue:    0,
			ValidationFunc:  intRange(0, maxWorkers),
		},
		{
			Name:            "Queue Capacity",
			Key:             CfgQueueCapacityKey,
			Description:     "Number of tasks the input queue holds before tasks are executed directly by the submitter.",
			OptType:         config.OptTypeInt,
			RequiresRestart: true,
			DefaultValue:    defaultQueueCapacity,
			ValidationFunc:  intRange(1, 1<<20),
		},
		{
			Name:            "Epoch",
			Key:             CfgEpochKey,
			Description:     "Milliseconds between re-planning the time budgets of continuous units.",
			OptType:         config.OptTypeInt,
			RequiresRestart: true,
			DefaultValue:    defaultEpoch.Milliseconds(),
			ValidationFunc:  intRange(1, 60000),
			Annotations: config.Annotations{
				config.UnitAnnotation: "ms",
			},
		},
		{
			Name:            "Prioritize Interval",
			Key:             CfgPrioritizeIntervalKey,
			Description:     "Milliseconds between recomputing unit priorities from their value rate.",
			OptType:         config.OptTypeInt,
			RequiresRestart: true,
			DefaultValue:    defaultPrioritizeInterval.Milliseconds(),
			ValidationFunc:  intRange(1, 60000),
			Annotations: config.Annotations{
				config.UnitAnnotation: "ms",
			},
		},
		{
			Name:            "Idle Fraction",
			Key:             CfgIdleFractionKey,
			Description:     "Share of the inactive part of a cycle that workers sleep.",
			OptType:         config.OptTypeFloat,
			RequiresRestart: true,
			DefaultValue:    defaultIdleFraction,
			ValidationFunc:  floatRange(0, 1),
		},
		{
			Name:            "Minimum Share",
			Key:             CfgMinShareKey,
			Description:     "Priority floor used for time budgets, so that no unit starves.",
			OptType:         config.OptTypeFloat,
			RequiresRestart: true,
			DefaultValue:    defaultMinShare,
			ValidationFunc:  floatRange(0, 1),
		},
	}

	for _, opt := range options {
		if err := config.Register(opt); err != nil {
			return err
		}
	}
	return nil
}

// configFromOptions returns the configuration as currently set in the
// config registry.
func configFromOptions() Config {
	return Config{
		Workers:            int(config.GetAsInt(CfgWorkersKey, 0)()),
		QueueCapacity:      int(config.GetAsInt(CfgQueueCapacityKey, defaultQueueCapacity)()),
		Epoch:              time.Duration(config.GetAsInt(CfgEpochKey, defaultEpoch.Milliseconds())()) * time.Millisecond,
		PrioritizeInterval: time.Duration(config.GetAsInt(CfgPrioritizeIntervalKey, defaultPrioritizeInterval.Milliseconds())()) * time.Millisecond,
		IdleFraction:       config.GetAsFloat(CfgIdleFractionKey, defaultIdleFraction)(),
		MinShare:           config.GetAsFloat(CfgMinShareKey, defaultMinShare)(),
	}
}

func intRange(minV, maxV int64) func(value interface{}) error {
	return func(value interface{}) error {
		if v, ok := value.(int64); ok && (v < minV || v > maxV) {
			return errOutOfRange
		}
		return nil
	}
}

func floatRange(minV, maxV float64) func(value interface{}) error {
	return func(value interface{}) error {
		if v, ok := value.(float64); ok && (v < minV || v > maxV) {
			return errOutOfRange
		}
		return nil
	}
}
