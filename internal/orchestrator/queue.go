package orchestrator

import (
	"container/heap"
	"math"

	"manas/internal/types"
)

// queueItem wraps a task with its submission sequence for FIFO
// tiebreaking.
type queueItem struct {
	task *types.Task
	seq  uint64
}

// taskQueue is the main dispatch queue. Total order: smaller priority
// rank first, then earlier deadline (absent = +inf), then submission
// order.
type taskQueue struct {
	items []*queueItem
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{}
	heap.Init(q)
	return q
}

func (q *taskQueue) Len() int { return len(q.items) }

func (q *taskQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.task.Priority != b.task.Priority {
		return a.task.Priority < b.task.Priority
	}
	da, db := deadlineOf(a.task), deadlineOf(b.task)
	if da != db {
		return da < db
	}
	return a.seq < b.seq
}

func deadlineOf(t *types.Task) int64 {
	if t.Deadline == 0 {
		return math.MaxInt64
	}
	return t.Deadline
}

func (q *taskQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *taskQueue) Push(x any) { q.items = append(q.items, x.(*queueItem)) }

func (q *taskQueue) Pop() any {
	old := q.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return it
}

// push enqueues a task.
func (q *taskQueue) push(t *types.Task, seq uint64) {
	heap.Push(q, &queueItem{task: t, seq: seq})
}

// peek returns the head without removing it, skipping over tasks that
// went terminal while queued (lazy removal after cancel).
func (q *taskQueue) peek() *types.Task {
	for q.Len() > 0 {
		head := q.items[0].task
		if head.Status.Terminal() {
			heap.Pop(q)
			continue
		}
		return head
	}
	return nil
}

// pop removes and returns the head.
func (q *taskQueue) pop() *types.Task {
	if q.peek() == nil {
		return nil
	}
	return heap.Pop(q).(*queueItem).task
}
