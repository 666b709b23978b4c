package scheduler

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tevino/abool"

	"github.com/safing/attention/base/utils"
	"github.com/safing/attention/service/unit"
)

// failureLogPause is the minimum pause between failure logs of a unit.
const failureLogPause = time.Second

var (
	// ErrAlreadyRegistered is returned when a unit with the same ID is already registered.
	ErrAlreadyRegistered = errors.New("unit already registered")

	// ErrUnknownUnit is returned when a unit ID is not registered.
	ErrUnknownUnit = errors.New("unit not registered")
)

// entry holds the scheduling state of a registered unit.
type entry struct {
	unit unit.Continuous

	// busy is held while a singleton unit is stepped.
	busy abool.AtomicBool

	steps  atomic.Uint64
	errors atomic.Uint64
	panics atomic.Uint64

	// logLimit limits failure logs of this unit.
	logLimit *utils.CallLimiter
}

// registry holds the registered units. It is shared by all workers.
type registry struct {
	lock    sync.RWMutex
	entries []*entry
	byID    map[string]*entry
	// version changes with every registration change.
	version atomic.Uint64
}

func newRegistry() *registry {
	return &registry{
		byID: make(map[string]*entry),
	}
}

func (r *registry) add(u unit.Continuous) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.byID[u.ID()]; ok {
		return ErrAlreadyRegistered
	}

	e := &entry{
		unit:     u,
		logLimit: utils.NewCallLimiter(failureLogPause),
	}
	r.entries = append(r.entries, e)
	r.byID[u.ID()] = e
	r.version.Add(1)
	return nil
}

func (r *registry) remove(id string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return ErrUnknownUnit
	}

	delete(r.byID, id)
	r.entries = slices.DeleteFunc(r.entries, func(existing *entry) bool {
		return existing == e
	})
	r.version.Add(1)
	return nil
}

func (r *registry) get(id string) (*entry, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	e, ok := r.byID[id]
	return e, ok
}

// snapshot returns a copy of the entry list.
func (r *registry) snapshot() []*entry {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return slices.Clone(r.entries)
}

func (r *registry) size() int {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return len(r.entries)
}
