package scheduler

import (
	"container/heap"
	"time"
)

// event is one pending emission: entity index due at a simulated offset.
type event struct {
	due   time.Duration
	index int
}

// eventQueue is a min-heap ordered by due time, ties broken by entity index.
type eventQueue []event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].due != q[j].due {
		return q[i].due < q[j].due
	}
	return q[i].index < q[j].index
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(event)) }

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	*q = old[:n-1]
	return ev
}

func (q *eventQueue) push(ev event) { heap.Push(q, ev) }

func (q *eventQueue) pop() event { return heap.Pop(q).(event) }
