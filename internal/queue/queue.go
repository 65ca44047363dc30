// Package queue implements the per-destination bounded buffer and its
// background dispatcher. Producers enqueue without blocking; a single worker
// drains batches and hands them to the destination.
package queue

import (
	"sync"
	"time"

	"github.com/wayneeseguin/relay/pkg/types"
)

// Entry is one queued event plus its enqueue bookkeeping. An entry is owned
// exclusively by one destination's queue.
type Entry struct {
	Event      *types.LogEvent
	EnqueuedAt time.Time
	Size       int
}

// Result reports the outcome of an Enqueue call.
type Result struct {
	// Dropped is the entry evicted to admit the new one (drop-oldest only).
	Dropped *Entry
	// Rejected is true when the incoming entry was not admitted
	// (drop-newest at capacity).
	Rejected bool
	// Backpressure is true when occupancy after the enqueue is at or above
	// the backpressure threshold.
	Backpressure bool
	// Depth is the occupancy after the enqueue.
	Depth int
}

// Queue is a fixed-capacity ring buffer with a configurable full-queue
// policy. All operations are O(1) and hold the lock only for the minimal
// exclusive region; no I/O ever happens under the lock.
type Queue struct {
	mu          sync.Mutex
	buf         []Entry
	head        int
	count       int
	capacity    int
	bpThreshold int
	policy      types.DropPolicy
	wake        chan struct{}
}

// New creates a queue. bpThreshold marks the near-capacity boundary and must
// be below capacity; callers validate that at configuration time.
func New(capacity, bpThreshold int, policy types.DropPolicy) *Queue {
	return &Queue{
		buf:         make([]Entry, capacity),
		capacity:    capacity,
		bpThreshold: bpThreshold,
		policy:      policy,
		wake:        make(chan struct{}, 1),
	}
}

// Enqueue admits an entry without ever blocking the caller. At capacity the
// configured policy decides whether the oldest queued entry is evicted or
// the new one rejected.
func (q *Queue) Enqueue(e Entry) Result {
	var res Result

	q.mu.Lock()
	if q.count == q.capacity {
		if q.policy == types.DropNewest {
			q.mu.Unlock()
			res.Rejected = true
			res.Depth = q.capacity
			res.Backpressure = true
			return res
		}
		evicted := q.buf[q.head]
		q.buf[q.head] = Entry{}
		q.head = (q.head + 1) % q.capacity
		q.count--
		res.Dropped = &evicted
	}
	q.buf[(q.head+q.count)%q.capacity] = e
	q.count++
	res.Depth = q.count
	q.mu.Unlock()

	res.Backpressure = res.Depth >= q.bpThreshold

	// Nudge the dispatcher; a pending signal is enough.
	select {
	case q.wake <- struct{}{}:
	default:
	}

	return res
}

// Drain removes and returns up to max entries in enqueue order.
func (q *Queue) Drain(max int) []Entry {
	q.mu.Lock()
	n := q.count
	if n > max {
		n = max
	}
	if n == 0 {
		q.mu.Unlock()
		return nil
	}
	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		out[i] = q.buf[q.head]
		q.buf[q.head] = Entry{}
		q.head = (q.head + 1) % q.capacity
	}
	q.count -= n
	q.mu.Unlock()
	return out
}

// Len returns the current occupancy.
func (q *Queue) Len() int {
	q.mu.Lock()
	n := q.count
	q.mu.Unlock()
	return n
}

// Capacity returns the fixed capacity.
func (q *Queue) Capacity() int { return q.capacity }

// Wake returns the channel signaled on every enqueue.
func (q *Queue) Wake() <-chan struct{} { return q.wake }
