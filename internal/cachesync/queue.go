package cachesync

import (
	"fmt"
	"sync"

	"ex-scribe/pkg/scribe"
)

// EditQueue is a FIFO of pending edits shared by many producers and drained by
// one logical consumer.
type EditQueue struct {
	mu       sync.Mutex
	items    []scribe.PendingEdit
	capacity int
}

// NewEditQueue creates an empty queue. A capacity of zero means unbounded.
func NewEditQueue(capacity int) *EditQueue {
	if capacity < 0 {
		capacity = 0
	}

	return &EditQueue{capacity: capacity}
}

// Push appends one pending edit to the tail without waiting on the consumer.
//
// A full queue reports ErrQueuePush and leaves already queued edits untouched.
func (q *EditQueue) Push(pending scribe.PendingEdit) error {
	if err := pending.Validate(); err != nil {
		return fmt.Errorf("edit queue push: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && len(q.items) >= q.capacity {
		return fmt.Errorf("edit queue push %s for %s: capacity %d reached: %w",
			pending.Edit, pending.AgentID, q.capacity, scribe.ErrQueuePush)
	}
	q.items = append(q.items, pending)

	return nil
}

// DrainAll removes and returns every queued edit in submission order.
//
// The backing slice is handed to the caller and replaced, so a push racing the
// drain lands either in the returned batch or in the next one.
func (q *EditQueue) DrainAll() []scribe.PendingEdit {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := q.items
	q.items = nil

	return drained
}

// Len returns the number of queued edits.
func (q *EditQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}
