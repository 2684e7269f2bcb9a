package monitor

import (
	"sync"
)

// EventQueue is a thread-safe FIFO whose Push never blocks. The buffer doubles
// when it reaches 70% full, up to maxCapacity; beyond that the oldest item is
// overwritten and counted as dropped.
type EventQueue[T any] struct {
	mu          sync.Mutex
	cond        *sync.Cond
	buf         []T
	head        int // read position
	tail        int // write position
	count       int
	capacity    int
	maxCapacity int
	closed      bool

	// Stats
	pushed   int64
	received int64
	dropped  int64
	resizes  int
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Count    int   `json:"count"`
	Capacity int   `json:"capacity"`
	Pushed   int64 `json:"pushed"`
	Received int64 `json:"received"`
	Dropped  int64 `json:"dropped"`
	Resizes  int   `json:"resizes"`
}

// NewEventQueue creates a queue with the given initial and maximum capacity.
func NewEventQueue[T any](initialCapacity, maxCapacity int) *EventQueue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if maxCapacity < initialCapacity {
		maxCapacity = initialCapacity
	}
	q := &EventQueue[T]{
		buf:         make([]T, initialCapacity),
		capacity:    initialCapacity,
		maxCapacity: maxCapacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item. Returns false if the queue is closed.
func (q *EventQueue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := max((q.capacity*70)/100, 1)
	if q.count+1 >= threshold && q.capacity < q.maxCapacity {
		q.grow()
	}

	if q.count == q.capacity {
		// Full at max capacity: overwrite the oldest item
		q.head = (q.head + 1) % q.capacity
		q.count--
		q.dropped++
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity
	q.count++
	q.pushed++

	q.cond.Signal()
	return true
}

// Receive removes and returns the oldest item, blocking until one is
// available. Returns false once the queue is closed and empty.
func (q *EventQueue[T]) Receive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	return q.pop()
}

// TryReceive removes and returns the oldest item without blocking.
func (q *EventQueue[T]) TryReceive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pop()
}

// pop must be called with the lock held.
func (q *EventQueue[T]) pop() (T, bool) {
	var zero T
	if q.count == 0 {
		return zero, false
	}

	item := q.buf[q.head]
	q.buf[q.head] = zero // Clear reference for GC
	q.head = (q.head + 1) % q.capacity
	q.count--
	q.received++
	return item, true
}

// Close wakes blocked receivers. Remaining items can still be received.
func (q *EventQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *EventQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue statistics.
func (q *EventQueue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Count:    q.count,
		Capacity: q.capacity,
		Pushed:   q.pushed,
		Received: q.received,
		Dropped:  q.dropped,
		Resizes:  q.resizes,
	}
}

// grow doubles the capacity, capped at maxCapacity. Must be called with lock held.
func (q *EventQueue[T]) grow() {
	newCapacity := min(q.capacity*2, q.maxCapacity)
	newBuf := make([]T, newCapacity)

	if q.count > 0 {
		if q.head < q.tail {
			copy(newBuf, q.buf[q.head:q.tail])
		} else {
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.tail])
		}
	}

	q.buf = newBuf
	q.head = 0
	q.tail = q.count
	q.capacity = newCapacity
	q.resizes++
}
