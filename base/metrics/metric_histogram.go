package metrics

import (
	vm "github.com/VictoriaMetrics/metrics"
)

// Histogram is a histogram metric with VictoriaMetrics' log-scale buckets.
type Histogram struct {
	*metricBase
	*vm.Histogram
}

// NewHistogram registers a new histogram metric.
func NewHistogram(id string, labels map[string]string, opts *Options) (*Histogram, error) {
	if opts == nil {
		opts = &Options{}
	}

	base, err := newMetricBase(id, labels, *opts)
	if err != nil {
		return nil, err
	}

	m := &Histogram{
		metricBase: base,
	}
	m.Histogram = m.set.NewHistogram(m.LabeledID())

	if err := register(m); err != nil {
		return nil, err
	}
	return m, nil
}
