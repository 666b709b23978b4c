// Package diag serves the scheduler diagnostics over HTTP.
package diag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/gorilla/mux"

	"github.com/safing/attention/base/config"
	"github.com/safing/attention/service/clock"
	"github.com/safing/attention/service/mgr"
	"github.com/safing/attention/service/scheduler"
)

const shutdownTimeout = 5 * time.Second

// Scheduler is the part of the scheduler that is exposed.
type Scheduler interface {
	Stats() scheduler.Stats
	Units() []scheduler.UnitInfo
	Print(w io.Writer) error
	Prioritize()
}

// Diag is the diagnostics module.
type Diag struct {
	mgr    *mgr.Manager
	states *mgr.StateMgr

	sched  Scheduler
	clock  clock.Clock
	router *mux.Router

	snapshots gcache.Cache

	listenAddress config.StringOption

	serverLock sync.Mutex
	server     *http.Server
	listener   net.Listener
}

// New returns a new diagnostics module and registers its options.
// The clock is optional.
func New(s Scheduler, c clock.Clock) (*Diag, error) {
	if s == nil {
		return nil, errors.New("no scheduler given")
	}
	if err := registerConfig(); err != nil {
		return nil, fmt.Errorf("failed to register config: %w", err)
	}

	m := mgr.New("Diag")
	d := &Diag{
		mgr:           m,
		states:        mgr.NewStateMgr(m),
		sched:         s,
		clock:         c,
		listenAddress: config.GetAsString(CfgListenKey, defaultListenAddress),
	}
	d.snapshots = gcache.New(1).LRU().
		Expiration(snapshotTTL).
		LoaderFunc(func(interface{}) (interface{}, error) {
			return d.buildSnapshot(), nil
		}).
		Build()
	d.router = d.newRouter()
	return d, nil
}

// Manager returns the module manager.
func (d *Diag) Manager() *mgr.Manager {
	return d.mgr
}

// States returns the module state manager.
func (d *Diag) States() *mgr.StateMgr {
	return d.states
}

// Handler returns the HTTP handler with all diagnostics endpoints.
func (d *Diag) Handler() http.Handler {
	return d.router
}

// HandleFunc registers an additional endpoint. It must be called before
// the module is started.
func (d *Diag) HandleFunc(path string, handleFunc func(http.ResponseWriter, *http.Request)) *mux.Route {
	return d.router.HandleFunc(path, handleFunc)
}

// Addr returns the address the server listens on, or nil if it is not running.
func (d *Diag) Addr() net.Addr {
	d.serverLock.Lock()
	defer d.serverLock.Unlock()

	if d.listener == nil {
		return nil
	}
	return d.listener.Addr()
}

// Start starts the HTTP server, if a listen address is configured.
func (d *Diag) Start() error {
	d.serverLock.Lock()
	defer d.serverLock.Unlock()

	address := d.listenAddress()
	if address == "" {
		d.mgr.Info("diagnostics server disabled")
		return nil
	}

	// Listen here, so that errors surface when starting.
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	d.listener = ln
	d.server = &http.Server{
		Handler:           d.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return d.mgr.Ctx()
		},
	}
	d.states.Clear()

	d.mgr.Go("http server", func(wc *mgr.WorkerCtx) error {
		return d.serve(wc, d.server, ln)
	})
	return nil
}

func (d *Diag) serve(wc *mgr.WorkerCtx, server *http.Server, ln net.Listener) error {
	wc.Info("listening", "address", ln.Addr().String())

	err := server.Serve(ln)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	// The listener is gone, so a restart would not help.
	wc.Error("http server failed", "err", err)
	d.states.Add(mgr.State{
		ID:      "diag:server-failed",
		Name:    "Diagnostics Server Failed",
		Message: err.Error(),
		Type:    mgr.StateTypeError,
	})
	return nil
}

// Stop shuts the HTTP server down.
func (d *Diag) Stop() error {
	d.serverLock.Lock()
	defer d.serverLock.Unlock()

	if d.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := d.server.Shutdown(ctx)

	d.server = nil
	d.listener = nil
	return err
}
