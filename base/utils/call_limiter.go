package utils

import (
	"sync"
	"sync/atomic"
	"time"
)

// CallLimiter bundles concurrent calls and optionally limits how fast a function is called.
type CallLimiter struct {
	pause time.Duration

	slot     atomic.Int64
	slotWait sync.RWMutex

	executing atomic.Bool
	lastExec  atomic.Int64 // unix nanoseconds
}

// NewCallLimiter returns a new call limiter.
// Set minPause to zero to disable the minimum pause between calls.
func NewCallLimiter(minPause time.Duration) *CallLimiter {
	return &CallLimiter{
		pause: minPause,
	}
}

// Do executes the given function.
// All concurrent calls to Do are bundled and return when f() finishes.
// Waits until the minimum pause is over before executing f() again.
func (l *CallLimiter) Do(f func()) {
	slot := l.slot.Load()

	if l.executing.CompareAndSwap(false, true) {
		// Make others wait.
		l.slotWait.Lock()
		defer l.slotWait.Unlock()

		l.waitAndExec(f)
		return
	}

	// Wait for the running slot to finish.
	for l.slot.Load() == slot {
		time.Sleep(100 * time.Microsecond)
		l.slotWait.RLock()
		l.slotWait.RUnlock() //nolint:staticcheck
	}
}

// TryDo executes the given function if no other call is executing and the
// minimum pause since the last execution is over. It never waits.
// Returns whether f was executed.
func (l *CallLimiter) TryDo(f func()) bool {
	if l.pause > 0 && time.Since(time.Unix(0, l.lastExec.Load())) < l.pause {
		return false
	}
	if !l.executing.CompareAndSwap(false, true) {
		return false
	}

	l.slotWait.Lock()
	defer l.slotWait.Unlock()

	l.waitAndExec(f)
	return true
}

// LastExec returns when the function was last executed.
// Returns the zero time if it was never executed.
func (l *CallLimiter) LastExec() time.Time {
	nanos := l.lastExec.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func (l *CallLimiter) waitAndExec(f func()) {
	defer func() {
		l.lastExec.Store(time.Now().UnixNano())
		// Enable next execution first.
		l.executing.Store(false)
		// Move to next slot afterwards to prevent wait loops.
		l.slot.Add(1)
	}()

	// Wait for the minimum duration between executions.
	if l.pause > 0 {
		if lastExec := l.lastExec.Load(); lastExec != 0 {
			sinceLastExec := time.Since(time.Unix(0, lastExec))
			if sinceLastExec < l.pause {
				time.Sleep(l.pause - sinceLastExec)
			}
		}
	}

	f()
}
