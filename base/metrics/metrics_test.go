package metrics

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterAndGauge(t *testing.T) {
	c, err := NewCounter("test/units/steps", map[string]string{"unit": "a"}, &Options{InternalID: "test.steps"})
	require.NoError(t, err)
	defer Unregister(c)
	c.Add(3)
	c.Inc()
	assert.Equal(t, uint64(4), c.CurrentValue())

	_, err = NewCounter("test/units/steps", map[string]string{"unit": "a"}, nil)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	g, err := NewGauge("test/bag/mass", nil, func() float64 { return 2.5 }, nil)
	require.NoError(t, err)
	defer Unregister(g)
	assert.InDelta(t, 2.5, g.CurrentValue(), 1e-9)

	fc, err := NewFloatCounter("test/bag/overflow", nil, nil)
	require.NoError(t, err)
	defer Unregister(fc)
	fc.Add(0.25)
	fc.Add(0.5)

	buf := new(bytes.Buffer)
	WriteMetrics(buf)
	out := buf.String()
	assert.Contains(t, out, `test_units_steps{unit="a"} 4`)
	assert.Contains(t, out, `test_bag_mass 2.5`)
	assert.Contains(t, out, `test_bag_overflow 0.75`)

	values := ExportValues(true)
	assert.Equal(t, uint64(4), values["test.steps"])
	assert.NotContains(t, values, "test_bag_mass")
	values = ExportValues(false)
	assert.Contains(t, values, "test_bag_mass")

	// Namespace and labels are frozen after the first registration.
	assert.ErrorIs(t, SetNamespace("attention"), ErrAlreadyStarted)
	assert.ErrorIs(t, AddGlobalLabel("instance", "x"), ErrAlreadyStarted)
}

func TestInvalidMetrics(t *testing.T) {
	t.Parallel()

	_, err := NewCounter("test/9-bad-name", nil, nil)
	assert.Error(t, err)
	_, err = NewCounter("test/ok", map[string]string{"bad-label": "x"}, nil)
	assert.Error(t, err)
	_, err = NewGauge("test/gauge/nofn", nil, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidOptions)
	_, err = NewFetchingCounter("test/fetch/nofn", nil, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestHistogram(t *testing.T) {
	h, err := NewHistogram("test/step/seconds", nil, nil)
	require.NoError(t, err)
	defer Unregister(h)

	h.Update(0.001)
	h.UpdateDuration(time.Now().Add(-10 * time.Millisecond))

	buf := new(bytes.Buffer)
	WriteMetrics(buf)
	assert.Contains(t, buf.String(), "test_step_seconds_count 2")
}

func TestDefaultMetrics(t *testing.T) {
	require.NoError(t, RegisterDefaultMetrics())
	require.NoError(t, RegisterDefaultMetrics())

	buf := new(bytes.Buffer)
	WriteMetrics(buf)
	out := buf.String()
	assert.Contains(t, out, "logs_warning_total")
	assert.Contains(t, out, "go_goroutines")
	assert.Contains(t, out, "host_mem_used")
}
