package metrics

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	vm "github.com/VictoriaMetrics/metrics"

	"github.com/safing/attention/base/log"
)

func registerRuntimeMetric() error {
	runtimeBase, err := newMetricBase("_runtime", nil, Options{
		Name: "Golang Runtime",
	})
	if err != nil {
		return err
	}

	return register(&runtimeMetrics{
		metricBase: runtimeBase,
	})
}

type runtimeMetrics struct {
	*metricBase
}

func (r *runtimeMetrics) WritePrometheus(w io.Writer) {
	// If there nothing to change, just write directly to w.
	if metricNamespace == "" && len(globalLabels) == 0 {
		vm.WriteProcessMetrics(w)
		return
	}

	buf := new(bytes.Buffer)
	vm.WriteProcessMetrics(buf)

	// Render global labels once.
	labels := make([]string, 0, len(globalLabels))
	for labelKey, labelValue := range globalLabels {
		labels = append(labels, fmt.Sprintf("%s=%q", labelKey, labelValue))
	}
	sort.Strings(labels)
	renderedLabels := strings.Join(labels, ",")

	// Add namespace and labels per line.
	scanner := bufio.NewScanner(buf)
	scanner.Split(bufio.ScanLines)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			fmt.Fprintln(w, line)
			continue
		}
		if metricNamespace != "" {
			line = metricNamespace + "_" + line
		}
		if renderedLabels == "" {
			fmt.Fprintln(w, line)
			continue
		}

		// Merge into existing labels or add a label set.
		if insertAt := strings.Index(line, "{") + 1; insertAt > 0 {
			fmt.Fprintf(w, "%s%s,%s\n", line[:insertAt], renderedLabels, line[insertAt:])
			continue
		}
		if insertAt := strings.Index(line, " "); insertAt >= 0 {
			fmt.Fprintf(w, "%s{%s}%s\n", line[:insertAt], renderedLabels, line[insertAt:])
		}
	}

	if scanner.Err() != nil {
		log.Warningf("metrics: failed to scan go process metrics: %s", scanner.Err())
	}
}
