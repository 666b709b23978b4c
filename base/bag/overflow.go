package bag

import "sync"

// OverflowSink receives priority that a bag could not accommodate.
type OverflowSink interface {
	Overflow(amount float32)
}

// Overflow is a concurrency safe OverflowSink that sums up all overflow.
type Overflow struct {
	lock  sync.Mutex
	total float64
}

// Overflow adds amount to the total. Non-finite amounts are ignored.
func (o *Overflow) Overflow(amount float32) {
	if !finite(amount) {
		return
	}

	o.lock.Lock()
	defer o.lock.Unlock()

	o.total += float64(amount)
}

// Total returns the accumulated overflow.
func (o *Overflow) Total() float64 {
	o.lock.Lock()
	defer o.lock.Unlock()

	return o.total
}

// Reset returns the accumulated overflow and resets it to zero.
func (o *Overflow) Reset() float64 {
	o.lock.Lock()
	defer o.lock.Unlock()

	total := o.total
	o.total = 0
	return total
}

func reportOverflow(sink OverflowSink, amount float32) {
	if sink == nil || amount == 0 || !finite(amount) {
		return
	}
	sink.Overflow(amount)
}
