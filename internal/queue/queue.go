package queue

import (
	"context"
	"sync"

	"github.com/ligustah/dlm/internal/task"
)

// Queue is a FIFO of tasks waiting for a download slot.
// A task id is admitted at most once while it is waiting.
// It is safe for many producers and a single consumer.
type Queue struct {
	mu     sync.Mutex
	items  []*task.Task
	queued map[string]struct{}
	notify chan struct{}
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		queued: make(map[string]struct{}),
		notify: make(chan struct{}, 1),
	}
}

// Enqueue appends t and reports whether it was admitted.
// A task that is already waiting is not added twice.
func (q *Queue) Enqueue(t *task.Task) bool {
	q.mu.Lock()
	if _, ok := q.queued[t.ID()]; ok {
		q.mu.Unlock()
		return false
	}
	q.queued[t.ID()] = struct{}{}
	q.items = append(q.items, t)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Dequeue blocks until a task is available or ctx is done.
// It returns false only when ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (*task.Task, bool) {
	for {
		if t, ok := q.pop(); ok {
			return t, true
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-q.notify:
		}
	}
}

func (q *Queue) pop() (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	delete(q.queued, t.ID())

	// Wake the consumer again if more work is waiting.
	if len(q.items) > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return t, true
}

// Remove drops a waiting task and reports whether it was found.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queued[id]; !ok {
		return false
	}
	delete(q.queued, id)
	for i, t := range q.items {
		if t.ID() == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of waiting tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns the ids of waiting tasks in dequeue order.
func (q *Queue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]string, len(q.items))
	for i, t := range q.items {
		ids[i] = t.ID()
	}
	return ids
}
