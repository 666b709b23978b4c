package metrics

import (
	"sync"

	"github.com/safing/attention/base/log"
)

func registerLogMetrics() error {
	logCounters := []struct {
		id   string
		name string
		fn   func() uint64
	}{
		{"logs/warning/total", "Total Warning Log Lines", log.TotalWarningLogLines},
		{"logs/error/total", "Total Error Log Lines", log.TotalErrorLogLines},
		{"logs/critical/total", "Total Critical Log Lines", log.TotalCriticalLogLines},
	}
	for _, c := range logCounters {
		if _, err := NewFetchingCounter(c.id, nil, c.fn, &Options{Name: c.name}); err != nil {
			return err
		}
	}
	return nil
}

var (
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// RegisterDefaultMetrics registers the process, host and log metrics.
// Subsequent calls return the result of the first call.
func RegisterDefaultMetrics() error {
	defaultMetricsOnce.Do(func() {
		for _, fn := range []func() error{
			registerRuntimeMetric,
			registerHostMetrics,
			registerLogMetrics,
		} {
			if err := fn(); err != nil {
				defaultMetricsErr = err
				return
			}
		}
	})
	return defaultMetricsErr
}
