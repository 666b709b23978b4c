package metrics

import (
	"fmt"

	vm "github.com/VictoriaMetrics/metrics"
)

// Gauge is a gauge metric that reads its value via a function call.
type Gauge struct {
	*metricBase
	*vm.Gauge
}

// NewGauge registers a new gauge metric.
func NewGauge(id string, labels map[string]string, fn func() float64, opts *Options) (*Gauge, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: no value function provided", ErrInvalidOptions)
	}
	if opts == nil {
		opts = &Options{}
	}

	base, err := newMetricBase(id, labels, *opts)
	if err != nil {
		return nil, err
	}

	m := &Gauge{
		metricBase: base,
	}
	m.Gauge = m.set.NewGauge(m.LabeledID(), fn)

	if err := register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// CurrentValue returns the current gauge value.
func (g *Gauge) CurrentValue() float64 {
	return g.Get()
}
