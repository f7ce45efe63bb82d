package realtime

import (
	"sync"
	"time"
)

// QueuedEvent is an event buffered while the connection is down, waiting to
// be replayed on reconnect.
type QueuedEvent struct {
	Name       string
	Payload    []byte
	EnqueuedAt time.Time
	Retries    int
	MaxRetries int
}

// eventQueue is a bounded FIFO buffer. At capacity the oldest entry is
// evicted to make room: dropping stale data beats unbounded growth, and the
// eviction is an observable event, never an error.
type eventQueue struct {
	mu        sync.Mutex
	items     []QueuedEvent
	capacity  int
	evictions uint64
	onEvict   func(ev QueuedEvent, size int)
}

func newEventQueue(capacity int, onEvict func(ev QueuedEvent, size int)) *eventQueue {
	if capacity <= 0 {
		capacity = 100
	}
	return &eventQueue{
		capacity: capacity,
		onEvict:  onEvict,
	}
}

// Push appends an event, evicting the oldest entry when full.
func (q *eventQueue) Push(ev QueuedEvent) {
	var evicted *QueuedEvent

	q.mu.Lock()
	if len(q.items) >= q.capacity {
		old := q.items[0]
		q.items = q.items[1:]
		q.evictions++
		evicted = &old
	}
	q.items = append(q.items, ev)
	size := len(q.items)
	q.mu.Unlock()

	// Callback outside the lock: it may log or dispatch.
	if evicted != nil && q.onEvict != nil {
		q.onEvict(*evicted, size)
	}
}

// DrainAll removes and returns every queued event in FIFO order.
func (q *eventQueue) DrainAll() []QueuedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Evictions returns the lifetime eviction count.
func (q *eventQueue) Evictions() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evictions
}
