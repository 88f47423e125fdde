package queue

import (
	"sync"

	"github.com/engagekit/rewardpipe/internal/domain"
)

// DefaultCapacity bounds the offline queue. A page-session queue is a
// best-effort buffer, not a durable log, so the oldest entries are
// evicted first once the bound is exceeded.
const DefaultCapacity = 100

// Queue holds fingerprinted occurrences that could not be forwarded
// because no submission capability was available (or the capability
// reported a failure). Bounded FIFO with oldest-first eviction.
type Queue struct {
	mu       sync.Mutex
	entries  []domain.Occurrence
	capacity int
}

// New creates a Queue. capacity <= 0 selects DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{capacity: capacity}
}

// Enqueue appends an entry at the tail, evicting the oldest entry when
// the queue is full. It reports whether an eviction occurred.
func (q *Queue) Enqueue(entry domain.Occurrence) (evicted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.capacity {
		q.entries = q.entries[1:]
		evicted = true
	}
	q.entries = append(q.entries, entry)
	return evicted
}

// DrainAll returns every queued entry in enqueue order (oldest first)
// and empties the queue atomically. Draining is the only removal path;
// entries that fail resubmission are re-enqueued at the tail by the
// caller so a persistently-failing entry does not block newer ones.
func (q *Queue) DrainAll() []domain.Occurrence {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.entries
	q.entries = nil
	return entries
}

// Len reports the current number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
