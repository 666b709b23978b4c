package diag

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safing/attention/base/config"
	"github.com/safing/attention/service/clock"
	"github.com/safing/attention/service/mgr"
	"github.com/safing/attention/service/scheduler"
	"github.com/safing/attention/service/unit"
)

func newTestDiag(t *testing.T) (*Diag, *scheduler.Scheduler) {
	t.Helper()

	s := scheduler.New(&scheduler.Config{Workers: 2})
	u := unit.NewFunc("test-unit", true, func(unit.Deadline) (float64, error) {
		return 1, nil
	})
	require.NoError(t, s.Register(u))

	d, err := New(s, clock.NewFixed(20*time.Millisecond, 0.5))
	require.NoError(t, err)
	return d, s
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, string) {
	t.Helper()

	resp, err := http.Get(srv.URL + path) //nolint:noctx
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestEndpoints(t *testing.T) { //nolint:paralleltest // Uses global config.
	d, _ := newTestDiag(t)
	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	t.Run("units", func(t *testing.T) {
		resp, body := get(t, srv, "/units")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, "scheduler stopped: workers=2")
		assert.Contains(t, body, "test-unit")
	})

	t.Run("units.json", func(t *testing.T) {
		resp, body := get(t, srv, "/units.json")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		var infos []scheduler.UnitInfo
		require.NoError(t, json.Unmarshal([]byte(body), &infos))
		require.Len(t, infos, 1)
		assert.Equal(t, "test-unit", infos[0].ID)
		assert.True(t, infos[0].Singleton)
	})

	t.Run("units.json match", func(t *testing.T) {
		_, body := get(t, srv, "/units.json?match=test-*")
		var infos []scheduler.UnitInfo
		require.NoError(t, json.Unmarshal([]byte(body), &infos))
		assert.Len(t, infos, 1)

		_, body = get(t, srv, "/units.json?match=demo/*")
		require.NoError(t, json.Unmarshal([]byte(body), &infos))
		assert.Empty(t, infos)

		resp, _ := get(t, srv, "/units.json?match=[")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("status", func(t *testing.T) {
		_, body := get(t, srv, "/status")
		var st Status
		require.NoError(t, json.Unmarshal([]byte(body), &st))
		assert.Equal(t, "stopped", st.Scheduler.State)
		assert.Equal(t, 1, st.Scheduler.Units)
		require.NotNil(t, st.Clock)
		assert.Equal(t, 20*time.Millisecond, st.Clock.CyclePeriod)
		assert.InDelta(t, 0.5, st.Clock.Throttle, 1e-6)
	})

	t.Run("config", func(t *testing.T) {
		_, body := get(t, srv, "/config")
		var opts []map[string]any
		require.NoError(t, json.Unmarshal([]byte(body), &opts))

		var found bool
		for _, opt := range opts {
			if opt["Key"] == CfgListenKey {
				found = true
				assert.Equal(t, defaultListenAddress, opt["DefaultValue"])
			}
		}
		assert.True(t, found, "listen option exported")
	})

	t.Run("metrics", func(t *testing.T) {
		resp, _ := get(t, srv, "/metrics")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp, body := get(t, srv, "/metrics.json")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, json.Valid([]byte(body)))
	})

	t.Run("prioritize", func(t *testing.T) {
		resp, _ := get(t, srv, "/prioritize")
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

		resp, err := http.Post(srv.URL+"/prioritize", "", nil) //nolint:noctx
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("set config", func(t *testing.T) {
		listen := config.GetAsString(CfgListenKey, "")

		resp, body := send(t, srv, http.MethodPut, "/config/"+CfgListenKey, `"127.0.0.1:9999"`)
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
		var opt map[string]any
		require.NoError(t, json.Unmarshal([]byte(body), &opt))
		assert.Equal(t, "127.0.0.1:9999", opt["Value"])
		assert.Equal(t, map[string]any{config.RestartPendingAnnotation: true}, opt["Annotations"])
		assert.Equal(t, "127.0.0.1:9999", listen())

		resp, _ = send(t, srv, http.MethodPost, "/config/"+CfgListenKey, `"no-port"`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp, _ = send(t, srv, http.MethodPut, "/config/"+CfgListenKey, `null`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp, _ = send(t, srv, http.MethodPut, "/config/unknown/option", `1`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "127.0.0.1:9999", listen())

		resp, _ = send(t, srv, http.MethodDelete, "/config/"+CfgListenKey, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, defaultListenAddress, listen())
	})

	t.Run("unknown", func(t *testing.T) {
		resp, _ := get(t, srv, "/unknown")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func send(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, string) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestStream(t *testing.T) { //nolint:paralleltest // Uses global config.
	d, _ := newTestDiag(t)
	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/units/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()

	// The first snapshot is sent right away.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var snap Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	require.Len(t, snap.Units, 1)
	assert.Equal(t, "test-unit", snap.Units[0].ID)
	assert.Equal(t, "stopped", snap.Status.Scheduler.State)

	// Then one per interval.
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, 2, d.mgr.WorkerCount())

	// Stopping the manager closes the stream.
	d.mgr.Cancel()
	assert.True(t, d.mgr.WaitForWorkers(5*time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	_ = conn.Close()
}

func TestModule(t *testing.T) { //nolint:paralleltest // Uses global config.
	d, _ := newTestDiag(t)
	require.NoError(t, config.SetConfigOption(CfgListenKey, "127.0.0.1:0"))
	defer func() {
		require.NoError(t, config.SetConfigOption(CfgListenKey, nil))
	}()
	require.Error(t, config.SetConfigOption(CfgListenKey, "no-port"))

	g := mgr.NewGroup(d)
	require.NoError(t, g.Start())
	addr := d.Addr()
	require.NotNil(t, addr)

	resp, err := http.Get("http://" + addr.String() + "/units") //nolint:noctx
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, g.Stop())
	assert.Nil(t, d.Addr())

	// Disabled.
	require.NoError(t, config.SetConfigOption(CfgListenKey, ""))
	require.NoError(t, g.Start())
	assert.Nil(t, d.Addr())
	require.NoError(t, g.Stop())
}
