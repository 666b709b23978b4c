package scheduler

// Task is a one-shot piece of work.
type Task func()

// safeFreeRatio is the share of free queue capacity above which the queue is
// considered safe, ie. workers may stop draining it.
const safeFreeRatio = 0.999

// InputQueue is a bounded multi-producer multi-consumer task queue.
type InputQueue struct {
	tasks chan Task
}

// NewInputQueue returns a new queue with the given capacity.
func NewInputQueue(capacity int) *InputQueue {
	return &InputQueue{
		tasks: make(chan Task, max(capacity, 1)),
	}
}

// Offer adds the task to the queue without blocking.
// Returns false if the queue is full.
func (q *InputQueue) Offer(t Task) bool {
	select {
	case q.tasks <- t:
		return true
	default:
		return false
	}
}

// Len returns the number of queued tasks.
func (q *InputQueue) Len() int {
	return len(q.tasks)
}

// Cap returns the queue capacity.
func (q *InputQueue) Cap() int {
	return cap(q.tasks)
}

// Safe reports whether the queue is (nearly) empty.
func (q *InputQueue) Safe() bool {
	free := q.Cap() - q.Len()
	return float64(free) >= safeFreeRatio*float64(q.Cap())
}

// Drain moves up to n queued tasks into buf and returns it.
// It never blocks.
func (q *InputQueue) Drain(buf []Task, n int) []Task {
	for range n {
		select {
		case t := <-q.tasks:
			buf = append(buf, t)
		default:
			return buf
		}
	}
	return buf
}
