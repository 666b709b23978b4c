package clock

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/cpu"

	"github.com/safing/attention/base/config"
	"github.com/safing/attention/base/metrics"
	"github.com/safing/attention/service/mgr"
)

const (
	sampleInterval = time.Second

	// smoothing is the weight of a new load sample.
	smoothing = 0.5
)

// Host is a Clock module whose throttle follows the CPU headroom of the host,
// bounded by the configured minimum and maximum throttle.
type Host struct {
	mgr    *mgr.Manager
	states *mgr.StateMgr

	period   atomic.Int64
	throttle atomic.Uint32 // float32 bits

	// cpuLoad returns the host CPU usage in percent since the last call.
	cpuLoad func() (float64, error)
	reload  chan struct{}
	gauge   *metrics.Gauge
}

// NewHost returns a new host clock module and registers its options.
func NewHost() (*Host, error) {
	if err := registerConfig(); err != nil {
		return nil, fmt.Errorf("failed to register config: %w", err)
	}

	m := mgr.New("Clock")
	h := &Host{
		mgr:     m,
		states:  mgr.NewStateMgr(m),
		cpuLoad: hostCPULoad,
		reload:  make(chan struct{}, 1),
	}

	hc := newHostConfig()
	h.period.Store(int64(hc.cyclePeriod()))
	_, maxT := hc.bounds()
	h.setThrottle(maxT)

	// The event manager has no manager, so the callback runs synchronously.
	config.EventConfigChange.AddCallback("reload clock config", func(_ *mgr.WorkerCtx, _ struct{}) (bool, error) {
		select {
		case h.reload <- struct{}{}:
		default:
		}
		return false, nil
	})

	return h, nil
}

func hostCPULoad() (float64, error) {
	percent, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percent) == 0 {
		return 0, errors.New("no cpu stats")
	}
	return percent[0], nil
}

// Manager returns the module manager.
func (h *Host) Manager() *mgr.Manager {
	return h.mgr
}

// States returns the module state manager.
func (h *Host) States() *mgr.StateMgr {
	return h.states
}

// Start starts sampling the host load.
func (h *Host) Start() error {
	gauge, err := metrics.NewGauge("clock/throttle", nil, func() float64 {
		return float64(h.Throttle())
	}, &metrics.Options{
		Name: "Clock Throttle",
	})
	switch {
	case err == nil:
		h.gauge = gauge
	case errors.Is(err, metrics.ErrAlreadyRegistered):
		h.mgr.Warn("throttle metric already registered by another clock")
	default:
		return fmt.Errorf("failed to register metric: %w", err)
	}

	h.mgr.Go("host load sampler", h.sampler)
	return nil
}

// Stop stops sampling.
func (h *Host) Stop() error {
	if h.gauge != nil {
		metrics.Unregister(h.gauge)
		h.gauge = nil
	}
	return nil
}

// CyclePeriod returns the configured cycle period.
func (h *Host) CyclePeriod() time.Duration {
	return time.Duration(h.period.Load())
}

// Throttle returns the current throttle.
func (h *Host) Throttle() float32 {
	return math.Float32frombits(h.throttle.Load())
}

// Now returns the current time.
func (h *Host) Now() time.Time {
	return time.Now()
}

func (h *Host) setThrottle(t float32) {
	h.throttle.Store(math.Float32bits(t))
}

func (h *Host) sampler(w *mgr.WorkerCtx) error {
	hc := newHostConfig()

	// Sampling pauses completely while adaptive throttling is disabled.
	ticker := mgr.NewSleepyTicker(sampleInterval, 0)
	defer ticker.Stop()
	h.applyConfig(hc, ticker)

	for {
		select {
		case <-w.Done():
			return nil
		case <-h.reload:
			h.applyConfig(hc, ticker)
			continue
		case <-ticker.Wait():
		}

		if ticker.Sleeping() {
			continue
		}
		if err := h.sample(hc); err != nil {
			h.states.Add(mgr.State{
				ID:      "clock:sample-failed",
				Name:    "Host Load Unavailable",
				Message: err.Error(),
				Type:    mgr.StateTypeWarning,
			})
			continue
		}
		h.states.Remove("clock:sample-failed")
	}
}

// applyConfig applies the current configuration.
func (h *Host) applyConfig(hc *hostConfig, ticker *mgr.SleepyTicker) {
	h.period.Store(int64(hc.cyclePeriod()))

	minT, maxT := hc.bounds()
	adaptive := hc.adaptive()
	ticker.SetSleep(!adaptive)
	if !adaptive {
		h.setThrottle(maxT)
	} else {
		h.setThrottle(clampThrottle(h.Throttle(), minT, maxT))
	}

	h.mgr.Debug(
		"clock config applied",
		"period", h.CyclePeriod(),
		"minThrottle", minT,
		"maxThrottle", maxT,
		"adaptive", adaptive,
	)
}

// sample updates the throttle from the current host load.
func (h *Host) sample(hc *hostConfig) error {
	load, err := h.cpuLoad()
	if err != nil {
		return fmt.Errorf("failed to get cpu load: %w", err)
	}
	if math.IsNaN(load) || math.IsInf(load, 0) {
		return fmt.Errorf("invalid cpu load %f", load)
	}

	headroom := float32(1 - min(max(load, 0), 100)/100)
	smoothed := h.Throttle()*(1-smoothing) + headroom*smoothing

	minT, maxT := hc.bounds()
	h.setThrottle(clampThrottle(smoothed, minT, maxT))
	return nil
}
