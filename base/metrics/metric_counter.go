package metrics

import (
	vm "github.com/VictoriaMetrics/metrics"
)

// Counter is a counter metric.
type Counter struct {
	*metricBase
	*vm.Counter
}

// NewCounter registers a new counter metric.
func NewCounter(id string, labels map[string]string, opts *Options) (*Counter, error) {
	if opts == nil {
		opts = &Options{}
	}

	base, err := newMetricBase(id, labels, *opts)
	if err != nil {
		return nil, err
	}

	m := &Counter{
		metricBase: base,
	}
	m.Counter = m.set.NewCounter(m.LabeledID())

	if err := register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// CurrentValue returns the current counter value.
func (c *Counter) CurrentValue() uint64 {
	return c.Get()
}

// FloatCounter is a counter metric that accepts float increments.
type FloatCounter struct {
	*metricBase
	*vm.FloatCounter
}

// NewFloatCounter registers a new float counter metric.
func NewFloatCounter(id string, labels map[string]string, opts *Options) (*FloatCounter, error) {
	if opts == nil {
		opts = &Options{}
	}

	base, err := newMetricBase(id, labels, *opts)
	if err != nil {
		return nil, err
	}

	m := &FloatCounter{
		metricBase: base,
	}
	m.FloatCounter = m.set.NewFloatCounter(m.LabeledID())

	if err := register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// CurrentValue returns the current counter value.
func (c *FloatCounter) CurrentValue() float64 {
	return c.Get()
}
