package hub

import (
	"sync"

	"github.com/JoshJarabek7/messenger-backend/internal/event"
)

type PushResult int

const (
	PushOk PushResult = iota
	// PushDroppedOldest means the new event was queued after evicting
	// the oldest non-durable queued event to make room.
	PushDroppedOldest
	// PushDroppedNewest means the queue was full of durable events, so
	// the new non-durable event was discarded instead of queued.
	PushDroppedNewest
	// PushOverflow means a durable event arrived at a full queue. The
	// event was not queued and the connection must be torn down.
	PushOverflow
	PushClosed
)

// Queue is the bounded outbound ring owned by one connection. Producers
// (the dispatcher) never block on it: a full queue evicts its oldest
// non-durable entry, discards a non-durable arrival when only durable
// events are queued, or reports overflow for a durable arrival. Durable
// events are never silently lost once queued.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf      []event.Event
	head     int
	count    int
	capacity int
	closed   bool

	killReason string
}

func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}

	q := &Queue{
		buf:      make([]event.Event, capacity),
		capacity: capacity,
	}
	q.cond = sync.NewCond(&q.mu)

	return q
}

func (q *Queue) Push(ev event.Event) PushResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return PushClosed
	}

	result := PushOk

	if q.count == q.capacity {
		if ev.Durable {
			return PushOverflow
		}

		if !q.evictOldestDroppable() {
			return PushDroppedNewest
		}
		result = PushDroppedOldest
	}

	q.buf[(q.head+q.count)%q.capacity] = ev
	q.count++
	q.cond.Signal()

	return result
}

// evictOldestDroppable removes the oldest non-durable entry, shifting
// later entries down to keep delivery order. Reports false when every
// queued entry is durable.
func (q *Queue) evictOldestDroppable() bool {
	for i := 0; i < q.count; i++ {
		if q.buf[(q.head+i)%q.capacity].Durable {
			continue
		}

		for j := i; j < q.count-1; j++ {
			q.buf[(q.head+j)%q.capacity] = q.buf[(q.head+j+1)%q.capacity]
		}
		q.buf[(q.head+q.count-1)%q.capacity] = event.Event{}
		q.count--

		return true
	}

	return false
}

// Pop blocks until an event is available or the queue is done. After
// Close, remaining events are still drained; after Kill, or once a
// closed queue is empty, Pop returns false.
func (q *Queue) Pop() (event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.count == 0 {
		return event.Event{}, false
	}

	ev := q.buf[q.head]
	q.buf[q.head] = event.Event{}
	q.head = (q.head + 1) % q.capacity
	q.count--

	return ev, true
}

// Close stops accepting events but lets the consumer drain the backlog.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Kill discards the backlog and stops the queue immediately, recording
// why so the connection's close path can report it.
func (q *Queue) Kill(reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.killReason == "" {
		q.killReason = reason
	}
	q.closed = true
	q.count = 0
	q.head = 0
	clear(q.buf)
	q.cond.Broadcast()
}

// KillReason returns the reason recorded by the first Kill, or empty if
// the queue was closed gracefully or is still open.
func (q *Queue) KillReason() string {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.killReason
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.count
}
