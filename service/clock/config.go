package clock

import (
	"errors"
	"time"

	"github.com/safing/attention/base/config"
)

// Configuration Keys.
const (
	CfgPeriodKey      = "clock/periodMillis"
	CfgMinThrottleKey = "clock/minThrottle"
	CfgMaxThrottleKey = "clock/maxThrottle"
	CfgAdaptiveKey    = "clock/adaptive"

	defaultPeriodMillis = 20
	defaultMinThrottle  = 0.2
	defaultMaxThrottle  = 1.0
)

var (
	errInvalidPeriod   = errors.New("period must be between 1ms and 10s")
	errInvalidThrottle = errors.New("throttle must be between 0 and 1")
)

func validateThrottle(value interface{}) error {
	if v, ok := value.(float64); ok && (v < 0 || v > 1) {
		return errInvalidThrottle
	}
	return nil
}

func registerConfig() error {
	err := config.Register(&config.Option{
		Name:         "Cycle Period",
		Key:          CfgPeriodKey,
		Description:  "Length of one scheduling cycle in milliseconds.",
		OptType:      config.OptTypeInt,
		DefaultValue: defaultPeriodMillis,
		Annotations: config.Annotations{
			config.UnitAnnotation: "ms",
		},
		ValidationFunc: func(value interface{}) error {
			if v, ok := value.(int64); ok && (v < 1 || v > 10000) {
				return errInvalidPeriod
			}
			return nil
		},
	})
	if err != nil {
		return err
	}

	err = config.Register(&config.Option{
		Name:           "Minimum Throttle",
		Key:            CfgMinThrottleKey,
		Description:    "Lowest share of a cycle that is spent working, even when the host is busy.",
		OptType:        config.OptTypeFloat,
		DefaultValue:   defaultMinThrottle,
		ValidationFunc: validateThrottle,
	})
	if err != nil {
		return err
	}

	err = config.Register(&config.Option{
		Name:           "Maximum Throttle",
		Key:            CfgMaxThrottleKey,
		Description:    "Highest share of a cycle that is spent working.",
		OptType:        config.OptTypeFloat,
		DefaultValue:   defaultMaxThrottle,
		ValidationFunc: validateThrottle,
	})
	if err != nil {
		return err
	}

	return config.Register(&config.Option{
		Name:         "Adaptive Throttle",
		Key:          CfgAdaptiveKey,
		Description:  "Follow the CPU headroom of the host. If disabled, the maximum throttle is always used.",
		OptType:      config.OptTypeBool,
		DefaultValue: true,
	})
}

// hostConfig holds the option getters of a Host clock.
// The getters are not safe for concurrent use.
type hostConfig struct {
	period      config.IntOption
	minThrottle config.FloatOption
	maxThrottle config.FloatOption
	adaptive    config.BoolOption
}

func newHostConfig() *hostConfig {
	return &hostConfig{
		period:      config.GetAsInt(CfgPeriodKey, defaultPeriodMillis),
		minThrottle: config.GetAsFloat(CfgMinThrottleKey, defaultMinThrottle),
		maxThrottle: config.GetAsFloat(CfgMaxThrottleKey, defaultMaxThrottle),
		adaptive:    config.GetAsBool(CfgAdaptiveKey, true),
	}
}

// bounds returns the configured throttle bounds, swapped if given in the
// wrong order.
func (hc *hostConfig) bounds() (minT, maxT float32) {
	minT, maxT = float32(hc.minThrottle()), float32(hc.maxThrottle())
	if minT > maxT {
		minT, maxT = maxT, minT
	}
	return minT, maxT
}

func (hc *hostConfig) cyclePeriod() time.Duration {
	return time.Duration(hc.period()) * time.Millisecond
}
