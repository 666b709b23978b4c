package mgr

import (
	"sync"
	"time"
)

// SleepyTicker is wrapper over time.Ticker that slows down or pauses while
// in sleep mode.
type SleepyTicker struct {
	lock sync.Mutex

	ticker         *time.Ticker
	normalDuration time.Duration
	sleepDuration  time.Duration
	sleepMode      bool

	sleepChannel chan time.Time
}

// NewSleepyTicker returns a new SleepyTicker. This is a wrapper of the standard time.Ticker. Check https://pkg.go.dev/time#Ticker.
// If sleepDuration is set to 0 ticker will not tick during sleep.
func NewSleepyTicker(normalDuration time.Duration, sleepDuration time.Duration) *SleepyTicker {
	return &SleepyTicker{
		ticker:         time.NewTicker(normalDuration),
		normalDuration: normalDuration,
		sleepDuration:  sleepDuration,
	}
}

// Wait returns the channel to wait on for the next tick.
// In sleep mode without a sleep duration, the returned channel is closed when
// sleep mode ends, so callers must check the mode again after it fires.
func (st *SleepyTicker) Wait() <-chan time.Time {
	st.lock.Lock()
	defer st.lock.Unlock()

	if st.sleepMode && st.sleepDuration == 0 {
		return st.sleepChannel
	}
	return st.ticker.C
}

// Stop turns off a ticker. After Stop, no more ticks will be sent. Stop does not close the channel, to prevent a concurrent goroutine reading from the channel from seeing an erroneous "tick".
func (st *SleepyTicker) Stop() {
	st.ticker.Stop()
}

// SetNormal changes the tick interval used outside of sleep mode.
func (st *SleepyTicker) SetNormal(normalDuration time.Duration) {
	st.lock.Lock()
	defer st.lock.Unlock()

	if normalDuration <= 0 || normalDuration == st.normalDuration {
		return
	}
	st.normalDuration = normalDuration
	if !st.sleepMode {
		st.ticker.Reset(normalDuration)
	}
}

// Sleeping returns whether the ticker is in sleep mode.
func (st *SleepyTicker) Sleeping() bool {
	st.lock.Lock()
	defer st.lock.Unlock()

	return st.sleepMode
}

// SetSleep sets the sleep mode of the ticker. If enabled is true, the ticker will tick with sleepDuration. If enabled is false, the ticker will tick with normalDuration.
func (st *SleepyTicker) SetSleep(enabled bool) {
	st.lock.Lock()
	defer st.lock.Unlock()

	if st.sleepMode == enabled {
		return
	}
	st.sleepMode = enabled

	switch {
	case enabled && st.sleepDuration > 0:
		st.ticker.Reset(st.sleepDuration)
	case enabled:
		// Next call to Wait will wait until SetSleep is called with enabled == false.
		st.sleepChannel = make(chan time.Time)
	default:
		st.ticker.Reset(st.normalDuration)
		if st.sleepChannel != nil {
			// Wake up everyone waiting on the sleep channel.
			close(st.sleepChannel)
			st.sleepChannel = nil
		}
	}
}
