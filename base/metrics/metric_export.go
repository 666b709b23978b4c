package metrics

// UIntMetric is an interface for special functions of uint metrics.
type UIntMetric interface {
	CurrentValue() uint64
}

// FloatMetric is an interface for special functions of float metrics.
type FloatMetric interface {
	CurrentValue() float64
}

// ExportValues exports the values of all supported metrics, keyed by their
// labeled ID or, if set, by their internal ID.
func ExportValues(internalOnly bool) map[string]any {
	registryLock.RLock()
	defer registryLock.RUnlock()

	export := make(map[string]any, len(registry))
	for _, metric := range registry {
		v := getCurrentValue(metric)
		if v == nil {
			continue
		}

		var id string
		switch {
		case metric.Opts().InternalID != "":
			id = metric.Opts().InternalID
		case internalOnly:
			continue
		default:
			id = metric.LabeledID()
		}

		export[id] = v
	}

	return export
}

func getCurrentValue(metric Metric) any {
	if m, ok := metric.(UIntMetric); ok {
		return m.CurrentValue()
	}
	if m, ok := metric.(FloatMetric); ok {
		return m.CurrentValue()
	}
	return nil
}
