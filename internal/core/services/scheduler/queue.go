// Package scheduler is the priority queue + worker pool driving the
// daemon's background tasks (spec §4.6). The daemon registers handlers
// for the enforce, resalt and signconf kinds; no key-generate or
// ds-transition task is enqueued or handled. Coalescing is keyed by kind+":"+target so
// duplicate enqueues never pile up; backoff is exponential with a cap;
// shutdown drains in-flight tasks before the pool joins.
package scheduler

import "container/heap"

// Task is one scheduled unit of work.
type Task struct {
	ID      string // kind + ":" + target, used for coalescing
	Target  string
	Kind    string
	DueAt   int64
	Backoff int
	index   int // heap bookkeeping
}

// taskHeap is a container/heap.Interface over *Task ordered by DueAt.
type taskHeap []*Task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].DueAt < h[j].DueAt }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x interface{}) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Queue is a coalescing priority queue of Tasks keyed by due-time.
type Queue struct {
	heap taskHeap
	byID map[string]*Task
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	q := &Queue{byID: make(map[string]*Task)}
	heap.Init(&q.heap)
	return q
}

// Enqueue adds a task, or, if one with the same ID is already pending,
// replaces its due-time with the earlier of the two (§4.6 coalescing).
func (q *Queue) Enqueue(kind, target string, dueAt int64) {
	id := kind + ":" + target
	if existing, ok := q.byID[id]; ok {
		if dueAt < existing.DueAt {
			existing.DueAt = dueAt
			heap.Fix(&q.heap, existing.index)
		}
		return
	}
	t := &Task{ID: id, Target: target, Kind: kind, DueAt: dueAt}
	q.byID[id] = t
	heap.Push(&q.heap, t)
}

// PopDue removes and returns the earliest task if its DueAt is <= now,
// or nil if the queue is empty or its head is not yet due.
func (q *Queue) PopDue(now int64) *Task {
	if q.heap.Len() == 0 {
		return nil
	}
	if q.heap[0].DueAt > now {
		return nil
	}
	t := heap.Pop(&q.heap).(*Task)
	delete(q.byID, t.ID)
	return t
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int { return q.heap.Len() }

// NextDueAt returns the earliest pending due-time, or (0, false) if empty.
func (q *Queue) NextDueAt() (int64, bool) {
	if q.heap.Len() == 0 {
		return 0, false
	}
	return q.heap[0].DueAt, true
}

// Requeue reinserts a task that returned DeferTransient, with exponential
// backoff capped at maxBackoffExp doublings (§4.6, tested by property 7).
func (q *Queue) Requeue(t *Task, now int64, baseSeconds int64, maxBackoffExp int) {
	if t.Backoff < maxBackoffExp {
		t.Backoff++
	}
	delay := baseSeconds << uint(t.Backoff)
	t.DueAt = now + delay
	t.index = -1
	q.byID[t.ID] = t
	heap.Push(&q.heap, t)
}

// Flush advances every pending task of the given kind to due now,
// re-heaping the queue (the scheduler's "advance all tasks of kind K"
// operator command).
func (q *Queue) Flush(kind string, now int64) {
	changed := false
	for _, t := range q.heap {
		if t.Kind == kind && t.DueAt > now {
			t.DueAt = now
			changed = true
		}
	}
	if changed {
		heap.Init(&q.heap)
	}
}
