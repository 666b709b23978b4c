package diag

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/gobwas/glob"
	"github.com/gorilla/mux"

	"github.com/safing/attention/base/config"
	"github.com/safing/attention/base/metrics"
	"github.com/safing/attention/service/scheduler"
)

const maxConfigBody = 64 << 10

// Status is the combined scheduler and clock status.
type Status struct {
	Scheduler scheduler.Stats `json:"scheduler"`
	Clock     *ClockStatus    `json:"clock,omitempty"`
}

// ClockStatus is the current state of the clock.
type ClockStatus struct {
	CyclePeriod time.Duration `json:"cyclePeriod"`
	Throttle    float32       `json:"throttle"`
}

func (d *Diag) newRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(d.logRequests)

	r.HandleFunc("/metrics", handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/metrics.json", handleMetricsJSON).Methods(http.MethodGet)
	r.HandleFunc("/status", d.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/units", d.handleUnits).Methods(http.MethodGet)
	r.HandleFunc("/units.json", d.handleUnitsJSON).Methods(http.MethodGet)
	r.HandleFunc("/units/stream", d.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/config", handleConfig).Methods(http.MethodGet)
	r.HandleFunc("/config/{key:.+}", d.handleSetConfig).Methods(http.MethodPut, http.MethodPost)
	r.HandleFunc("/config/{key:.+}", d.handleResetConfig).Methods(http.MethodDelete)
	r.HandleFunc("/prioritize", d.handlePrioritize).Methods(http.MethodPost)
	return r
}

func (d *Diag) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		d.mgr.Debug(
			"request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"time", time.Since(started),
		)
	})
}

func handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	metrics.WriteMetrics(w)
}

func handleMetricsJSON(w http.ResponseWriter, _ *http.Request) {
	values := metrics.ExportValues(false)
	// JSON has no representation for NaN and Inf.
	for id, v := range values {
		if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			delete(values, id)
		}
	}
	writeJSON(w, values)
}

func (d *Diag) status() Status {
	st := Status{
		Scheduler: d.sched.Stats(),
	}
	if d.clock != nil {
		st.Clock = &ClockStatus{
			CyclePeriod: d.clock.CyclePeriod(),
			Throttle:    d.clock.Throttle(),
		}
	}
	return st
}

func (d *Diag) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, d.status())
}

func (d *Diag) handleUnits(w http.ResponseWriter, _ *http.Request) {
	// Render first, so that errors can still be reported.
	var buf bytes.Buffer
	if err := d.sched.Print(&buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (d *Diag) handleUnitsJSON(w http.ResponseWriter, r *http.Request) {
	match, err := unitMatcher(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, filterUnits(d.sched.Units(), match))
}

// unitMatcher returns the unit ID glob from the "match" query parameter.
// It returns nil if no pattern was given.
func unitMatcher(r *http.Request) (glob.Glob, error) {
	pattern := r.URL.Query().Get("match")
	if pattern == "" {
		return nil, nil //nolint:nilnil
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid match pattern %q: %w", pattern, err)
	}
	return g, nil
}

func filterUnits(infos []scheduler.UnitInfo, match glob.Glob) []scheduler.UnitInfo {
	if match == nil {
		return infos
	}
	filtered := infos[:0]
	for _, info := range infos {
		if match.Match(info.ID) {
			filtered = append(filtered, info)
		}
	}
	return filtered
}

func (d *Diag) handlePrioritize(w http.ResponseWriter, _ *http.Request) {
	d.sched.Prioritize()
	writeJSON(w, d.sched.Units())
}

// handleConfig exports all options including their active values.
func handleConfig(w http.ResponseWriter, _ *http.Request) {
	opts := config.ExportOptions()
	exported := make([]json.RawMessage, 0, len(opts))
	for _, opt := range opts {
		data, err := opt.Export()
		if err != nil {
			http.Error(w, "failed to export "+opt.Key+": "+err.Error(), http.StatusInternalServerError)
			return
		}
		exported = append(exported, data)
	}
	writeJSON(w, exported)
}

// handleSetConfig sets the option to the JSON value in the request body.
func (d *Diag) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var value any
	if err := json.NewDecoder(io.LimitReader(r.Body, maxConfigBody)).Decode(&value); err != nil {
		http.Error(w, "invalid value: "+err.Error(), http.StatusBadRequest)
		return
	}
	if value == nil {
		http.Error(w, "no value given, use DELETE to reset", http.StatusBadRequest)
		return
	}
	d.setConfig(w, mux.Vars(r)["key"], value)
}

// handleResetConfig resets the option to its default.
func (d *Diag) handleResetConfig(w http.ResponseWriter, r *http.Request) {
	d.setConfig(w, mux.Vars(r)["key"], nil)
}

func (d *Diag) setConfig(w http.ResponseWriter, key string, value any) {
	opt, err := config.GetOption(key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err := config.SetConfigOption(key, value); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if opt.AnnotationEquals(config.RestartPendingAnnotation, true) {
		d.mgr.Info("option changed, restart to apply", "key", key)
	} else {
		d.mgr.Debug("option changed", "key", key)
	}

	data, err := opt.Export()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
