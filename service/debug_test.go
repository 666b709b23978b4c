package service

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safing/attention/base/config"
	"github.com/safing/attention/service/diag"
	"github.com/safing/attention/service/mgr"
	"github.com/safing/attention/service/unit"
)

func TestDebug(t *testing.T) { //nolint:paralleltest // Uses global config.
	// Do not bind a real port.
	i, err := New("v0.0.0-test", &ServiceConfig{FixedThrottle: 0.5, FixedPeriod: 10 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, config.SetConfigOption(diag.CfgListenKey, ""))
	defer func() {
		require.NoError(t, config.SetConfigOption(diag.CfgListenKey, nil))
	}()

	u := unit.NewFunc("debug-unit", false, func(deadline unit.Deadline) (float64, error) {
		for !deadline() {
			time.Sleep(100 * time.Microsecond)
		}
		return 1, nil
	})
	require.NoError(t, i.Scheduler().Register(u))

	require.NoError(t, i.Start())
	defer func() {
		require.NoError(t, i.Stop())
	}()
	assert.Eventually(t, func() bool {
		return u.TimeUsed() > 0
	}, time.Second, time.Millisecond)

	var buf bytes.Buffer
	require.NoError(t, i.WriteDebugInfo(&buf))
	out := buf.String()
	assert.Contains(t, out, "attention v0.0.0-test")
	assert.Contains(t, out, i.ID())
	assert.Contains(t, out, "Scheduler: ")
	assert.Contains(t, out, "debug-unit")
	assert.Contains(t, out, "===== GOROUTINES")
	assert.Contains(t, out, "github.com/safing/attention/service")

	srv := httptest.NewServer(i.Diag().Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/debug") //nolint:noctx
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "debug-unit")
}

type lockedBuffer struct {
	lock sync.Mutex
	buf  bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.lock.Lock()
	defer lb.lock.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.lock.Lock()
	defer lb.lock.Unlock()
	return lb.buf.String()
}

func TestStateLogging(t *testing.T) { //nolint:paralleltest // Replaces the default logger.
	logs := &lockedBuffer{}
	defaultLogger := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(defaultLogger)

	i, err := New("v0.0.0-test", &ServiceConfig{FixedThrottle: 0.5, FixedPeriod: 10 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, config.SetConfigOption(diag.CfgListenKey, ""))
	defer func() {
		require.NoError(t, config.SetConfigOption(diag.CfgListenKey, nil))
	}()
	require.NoError(t, i.Start())
	defer func() {
		require.NoError(t, i.Stop())
	}()

	i.Scheduler().States().Add(mgr.State{
		ID:      "test:overloaded",
		Name:    "Overloaded",
		Message: "too much work",
		Type:    mgr.StateTypeWarning,
	})
	assert.Eventually(t, func() bool {
		out := logs.String()
		return strings.Contains(out, "level=WARN") && strings.Contains(out, "state=test:overloaded")
	}, time.Second, time.Millisecond)
}

func TestServiceConfig(t *testing.T) {
	t.Parallel()

	sc := &ServiceConfig{
		DataDir:       "/tmp/attention-test",
		FixedThrottle: 0.3,
	}
	require.NoError(t, sc.Init())
	assert.Equal(t, "/tmp/attention-test/config.json", sc.ConfigFile)
	assert.Equal(t, "/tmp/attention-test/logs", sc.LogDir)
	assert.Equal(t, 20*time.Millisecond, sc.FixedPeriod)

	require.Error(t, (&ServiceConfig{DataDir: "/tmp", LogLevel: "loud"}).Init())
	require.Error(t, (&ServiceConfig{DataDir: "/tmp", FixedThrottle: 2}).Init())
}
