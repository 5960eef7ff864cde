package scheduler

import (
	"container/heap"

	"github.com/google/uuid"

	"github.com/castradar/sponsor-analytics/internal/domain"
)

// queuedExecution is one heap entry. priority is copied out of the
// execution so demotion on re-queue never mutates history.
type queuedExecution struct {
	exec     *domain.JobExecution
	priority domain.JobPriority
	seq      uint64
	index    int
}

// executionHeap is a min-heap ordered by priority value, FIFO on ties
// via a monotonic sequence number.
type executionHeap []*queuedExecution

func (h executionHeap) Len() int { return len(h) }

func (h executionHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h executionHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *executionHeap) Push(x interface{}) {
	entry := x.(*queuedExecution)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *executionHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// queue wraps the heap with sequencing and removal by execution id.
// Callers hold the scheduler lock.
type queue struct {
	heap executionHeap
	seq  uint64
}

func newQueue() *queue {
	q := &queue{}
	heap.Init(&q.heap)
	return q
}

func (q *queue) push(exec *domain.JobExecution, priority domain.JobPriority) {
	q.seq++
	heap.Push(&q.heap, &queuedExecution{exec: exec, priority: priority, seq: q.seq})
}

func (q *queue) pop() (*domain.JobExecution, domain.JobPriority, bool) {
	if q.heap.Len() == 0 {
		return nil, 0, false
	}
	entry := heap.Pop(&q.heap).(*queuedExecution)
	return entry.exec, entry.priority, true
}

func (q *queue) len() int { return q.heap.Len() }

// remove deletes the entry for the execution id, if queued.
func (q *queue) remove(executionID uuid.UUID) bool {
	for _, entry := range q.heap {
		if entry.exec.ID == executionID {
			heap.Remove(&q.heap, entry.index)
			return true
		}
	}
	return false
}
