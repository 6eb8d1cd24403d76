package realtime

import (
	"sync"

	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

// DefaultQueueCapacity is the per-session outbound queue size.
const DefaultQueueCapacity = 64

// outboundQueue is a bounded FIFO of telemetry events for one session.
// When full, push evicts the oldest event so the newest reading is always kept.
//
// All methods are safe for concurrent use.
type outboundQueue struct {
	mu       sync.Mutex
	items    []vitals.TelemetryEvent
	head     int
	size     int
	closed   bool
	notifyCh chan struct{}
}

func newOutboundQueue(capacity int) *outboundQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &outboundQueue{
		items:    make([]vitals.TelemetryEvent, capacity),
		notifyCh: make(chan struct{}, 1),
	}
}

// push appends event. It reports whether the event was accepted and whether
// an older event was evicted to make room. A closed queue accepts nothing.
func (q *outboundQueue) push(event vitals.TelemetryEvent) (accepted, evicted bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, false
	}
	capacity := len(q.items)
	if q.size == capacity {
		q.items[q.head] = vitals.TelemetryEvent{}
		q.head = (q.head + 1) % capacity
		q.size--
		evicted = true
	}
	q.items[(q.head+q.size)%capacity] = event
	q.size++
	q.mu.Unlock()

	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
	return true, evicted
}

// pop removes the oldest event.
func (q *outboundQueue) pop() (vitals.TelemetryEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return vitals.TelemetryEvent{}, false
	}
	event := q.items[q.head]
	q.items[q.head] = vitals.TelemetryEvent{}
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return event, true
}

// close rejects further pushes and discards anything still queued,
// returning the number of discarded events.
func (q *outboundQueue) close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := q.size
	q.closed = true
	for i := range q.items {
		q.items[i] = vitals.TelemetryEvent{}
	}
	q.head, q.size = 0, 0
	return dropped
}

func (q *outboundQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *outboundQueue) capacity() int {
	return len(q.items)
}

// ready is signalled after a push. A single signal may cover several events.
func (q *outboundQueue) ready() <-chan struct{} {
	return q.notifyCh
}
