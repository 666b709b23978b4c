package metrics

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

var (
	registry     []Metric
	registryLock sync.RWMutex

	firstMetricRegistered bool
	metricNamespace       string
	globalLabels          = make(map[string]string)

	// ErrAlreadyStarted is returned when an operation is only valid before the
	// first metric is registered, and is called after.
	ErrAlreadyStarted = errors.New("can only be changed before first metric is registered")

	// ErrAlreadyRegistered is returned when a metric with the same ID is
	// registered again.
	ErrAlreadyRegistered = errors.New("metric already registered")

	// ErrAlreadySet is returned when a value is already set and cannot be changed.
	ErrAlreadySet = errors.New("already set")

	// ErrInvalidOptions is returned when invalid options where provided.
	ErrInvalidOptions = errors.New("invalid options")
)

func register(m Metric) error {
	registryLock.Lock()
	defer registryLock.Unlock()

	for _, registeredMetric := range registry {
		if m.LabeledID() == registeredMetric.LabeledID() {
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, m.LabeledID())
		}
		if m.Opts().InternalID != "" &&
			m.Opts().InternalID == registeredMetric.Opts().InternalID {
			return fmt.Errorf("%w with this internal ID", ErrAlreadyRegistered)
		}
	}

	registry = append(registry, m)
	sort.Sort(byLabeledID(registry))
	firstMetricRegistered = true

	return nil
}

// Unregister removes the metric from the registry.
func Unregister(m Metric) {
	registryLock.Lock()
	defer registryLock.Unlock()

	for i, registeredMetric := range registry {
		if registeredMetric == m {
			registry = append(registry[:i], registry[i+1:]...)
			return
		}
	}
}

// SetNamespace sets the namespace for all metrics. It is prefixed to all
// metric IDs.
// It must be set before any metric is registered.
func SetNamespace(namespace string) error {
	registryLock.Lock()
	defer registryLock.Unlock()
	if firstMetricRegistered {
		return ErrAlreadyStarted
	}
	if metricNamespace != "" {
		return ErrAlreadySet
	}
	if !prometheusFormat.MatchString(namespace) {
		return fmt.Errorf("metric namespace %q must match %s", namespace, PrometheusFormatRequirement)
	}

	metricNamespace = namespace
	return nil
}

// AddGlobalLabel adds a global label to all metrics.
// Global labels must be added before any metric is registered.
func AddGlobalLabel(name, value string) error {
	registryLock.Lock()
	defer registryLock.Unlock()
	if firstMetricRegistered {
		return ErrAlreadyStarted
	}

	if !prometheusFormat.MatchString(name) {
		return fmt.Errorf("metric label name %q must match %s", name, PrometheusFormatRequirement)
	}

	globalLabels[name] = value
	return nil
}

// WriteMetrics writes all registered metrics in the prometheus text format.
func WriteMetrics(w io.Writer) {
	registryLock.RLock()
	defer registryLock.RUnlock()

	for _, metric := range registry {
		metric.WritePrometheus(w)
	}
}

type byLabeledID []Metric

func (r byLabeledID) Len() int           { return len(r) }
func (r byLabeledID) Less(i, j int) bool { return r[i].LabeledID() < r[j].LabeledID() }
func (r byLabeledID) Swap(i, j int)      { r[i], r[j] = r[j], r[i] }
