// File: internal/timerqueue/heap.go
// Author: momentics <momentics@gmail.com>
//
// Queue is the timer min-heap (C5): a container/heap keyed by deadline,
// upsertable by port, exposing the dispatcher's exact timer contract
// (update/earliest/pop-if-due, worker-only, no locking).

package timerqueue

import "container/heap"

type entry struct {
	deadlineMs int64
	port       int64
	index      int
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadlineMs < h[j].deadlineMs }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Queue is a min-heap of (deadline, port), keyed by port for upsert.
type Queue struct {
	h        entryHeap
	byPort   map[int64]*entry
}

// New constructs an empty timer queue.
func New() *Queue {
	return &Queue{byPort: make(map[int64]*entry)}
}

// Update inserts or updates the deadline for port. A deadline <= 0 removes
// the entry.
func (q *Queue) Update(port int64, deadlineMs int64) {
	e, exists := q.byPort[port]
	if deadlineMs <= 0 {
		if exists {
			heap.Remove(&q.h, e.index)
			delete(q.byPort, port)
		}
		return
	}
	if exists {
		e.deadlineMs = deadlineMs
		heap.Fix(&q.h, e.index)
		return
	}
	e = &entry{deadlineMs: deadlineMs, port: port}
	heap.Push(&q.h, e)
	q.byPort[port] = e
}

// Earliest returns the soonest deadline and its port, if any.
func (q *Queue) Earliest() (deadlineMs int64, port int64, ok bool) {
	if len(q.h) == 0 {
		return 0, 0, false
	}
	return q.h[0].deadlineMs, q.h[0].port, true
}

// PopIfDue removes and returns the earliest entry's port if its deadline
// is <= now; otherwise reports false without modifying the queue.
func (q *Queue) PopIfDue(nowMs int64) (port int64, ok bool) {
	if len(q.h) == 0 || q.h[0].deadlineMs > nowMs {
		return 0, false
	}
	e := heap.Pop(&q.h).(*entry)
	delete(q.byPort, e.port)
	return e.port, true
}

// Len reports the number of pending timers, for metrics/debug probes.
func (q *Queue) Len() int {
	return len(q.h)
}
