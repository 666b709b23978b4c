package diag

import (
	"net/http"
	"slices"
	"time"

	"github.com/gobwas/glob"
	"github.com/gorilla/websocket"
	"github.com/tevino/abool"

	"github.com/safing/attention/service/mgr"
	"github.com/safing/attention/service/scheduler"
)

const (
	streamInterval = time.Second
	writeTimeout   = 5 * time.Second

	snapshotKey = "units"
	snapshotTTL = streamInterval / 4
)

// Snapshot is one message of the unit stream.
type Snapshot struct {
	Time   time.Time            `json:"time"`
	Status Status               `json:"status"`
	Units  []scheduler.UnitInfo `json:"units"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
}

// stream pushes a snapshot of all units to a websocket client every second.
type stream struct {
	d     *Diag
	conn  *websocket.Conn
	match glob.Glob

	shutdownSignal chan struct{}
	shuttingDown   *abool.AtomicBool
}

func (d *Diag) handleStream(w http.ResponseWriter, r *http.Request) {
	match, err := unitMatcher(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied to the client.
		d.mgr.Warn("failed to upgrade stream", "remote", r.RemoteAddr, "err", err)
		return
	}

	s := &stream{
		d:              d,
		conn:           conn,
		match:          match,
		shutdownSignal: make(chan struct{}),
		shuttingDown:   abool.New(),
	}
	d.mgr.Go("unit stream reader", s.reader)
	d.mgr.Go("unit stream writer", s.writer)
	d.mgr.Debug("unit stream opened", "remote", r.RemoteAddr)
}

// snapshot returns the current snapshot, shared between all streams.
func (d *Diag) snapshot() Snapshot {
	v, err := d.snapshots.Get(snapshotKey)
	if err == nil {
		if snap, ok := v.(Snapshot); ok {
			return snap
		}
	}
	return d.buildSnapshot()
}

func (d *Diag) buildSnapshot() Snapshot {
	return Snapshot{
		Time:   time.Now(),
		Status: d.status(),
		Units:  d.sched.Units(),
	}
}

// reader discards incoming messages and notices when the client leaves.
func (s *stream) reader(_ *mgr.WorkerCtx) error {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return s.shutdown(err)
		}
	}
}

func (s *stream) writer(wc *mgr.WorkerCtx) error {
	defer func() {
		_ = s.shutdown(nil)
	}()

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	for {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		snap := s.d.snapshot()
		snap.Units = filterUnits(slices.Clone(snap.Units), s.match)
		if err := s.conn.WriteJSON(snap); err != nil {
			return s.shutdown(err)
		}

		select {
		case <-ticker.C:
		case <-wc.Done():
			_ = s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second),
			)
			return nil
		case <-s.shutdownSignal:
			return nil
		}
	}
}

func (s *stream) shutdown(err error) error {
	if !s.shuttingDown.SetToIf(false, true) {
		return nil
	}

	if err != nil {
		if websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseAbnormalClosure,
		) {
			s.d.mgr.Debug("unit stream closed", "remote", s.conn.RemoteAddr())
		} else {
			s.d.mgr.Warn("unit stream failed", "remote", s.conn.RemoteAddr(), "err", err)
		}
	}

	close(s.shutdownSignal)
	_ = s.conn.Close()
	return nil
}
