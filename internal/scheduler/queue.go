package scheduler

import (
	"container/heap"
	"context"
	"time"
)

// taskItem is a queued unit of work awaiting a worker
type taskItem struct {
	future   *Future
	fn       TaskFunc
	ctx      context.Context
	timeout  time.Duration
	priority int
	seq      uint64 // submission order, breaks priority ties FIFO
	index    int    // heap index, -1 once dequeued or removed
}

// taskQueue is a max-heap on priority; equal priorities dequeue in
// submission order.
type taskQueue []*taskItem

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x interface{}) {
	item := x.(*taskItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

func (q *taskQueue) push(item *taskItem) {
	heap.Push(q, item)
}

func (q *taskQueue) pop() *taskItem {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*taskItem)
}

// drain empties the queue and returns the removed items
func (q *taskQueue) drain() []*taskItem {
	items := make([]*taskItem, len(*q))
	copy(items, *q)
	for _, item := range items {
		item.index = -1
	}
	*q = (*q)[:0]
	return items
}
