package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ligustah/dlm/internal/task"
)

func newTask(name string) *task.Task {
	return task.New("https://example.com/"+name, "/tmp/"+name)
}

func TestQueueFIFO(t *testing.T) {
	q := New()
	tasks := []*task.Task{newTask("a"), newTask("b"), newTask("c")}
	for _, tk := range tasks {
		if !q.Enqueue(tk) {
			t.Fatalf("Enqueue(%s) rejected", tk.ID())
		}
	}

	ctx := context.Background()
	for i, want := range tasks {
		got, ok := q.Dequeue(ctx)
		if !ok {
			t.Fatalf("Dequeue %d: queue closed", i)
		}
		if got.ID() != want.ID() {
			t.Errorf("Dequeue %d: got %s, want %s", i, got.ID(), want.ID())
		}
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
}

func TestQueueDedup(t *testing.T) {
	q := New()
	tk := newTask("a")

	if !q.Enqueue(tk) {
		t.Fatal("first Enqueue rejected")
	}
	if q.Enqueue(tk) {
		t.Error("duplicate Enqueue admitted")
	}
	if q.Len() != 1 {
		t.Errorf("expected 1 queued, got %d", q.Len())
	}

	if _, ok := q.Dequeue(context.Background()); !ok {
		t.Fatal("Dequeue failed")
	}
	// Once dequeued the task may be queued again.
	if !q.Enqueue(tk) {
		t.Error("re-Enqueue after Dequeue rejected")
	}
}

func TestQueueDequeueCancelled(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	tk, ok := q.Dequeue(ctx)
	if ok || tk != nil {
		t.Errorf("expected nil,false on cancelled ctx, got %v,%v", tk, ok)
	}
}

func TestQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New()
	tk := newTask("late")

	got := make(chan *task.Task, 1)
	go func() {
		v, _ := q.Dequeue(context.Background())
		got <- v
	}()

	time.Sleep(20 * time.Millisecond)
	q.Enqueue(tk)

	select {
	case v := <-got:
		if v.ID() != tk.ID() {
			t.Errorf("got %s, want %s", v.ID(), tk.ID())
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not wake up")
	}
}

func TestQueueRemove(t *testing.T) {
	q := New()
	a, b, c := newTask("a"), newTask("b"), newTask("c")
	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)

	if !q.Remove(b.ID()) {
		t.Fatal("Remove returned false for queued task")
	}
	if q.Remove(b.ID()) {
		t.Error("second Remove returned true")
	}

	pending := q.Pending()
	if len(pending) != 2 || pending[0] != a.ID() || pending[1] != c.ID() {
		t.Errorf("unexpected pending list %v", pending)
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := New()
	const producers, perProducer = 8, 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(newTask("x"))
			}
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	seen := make(map[string]bool)
	for i := 0; i < producers*perProducer; i++ {
		tk, ok := q.Dequeue(ctx)
		if !ok {
			t.Fatalf("Dequeue %d timed out", i)
		}
		if seen[tk.ID()] {
			t.Fatalf("task %s dequeued twice", tk.ID())
		}
		seen[tk.ID()] = true
	}
}

func TestRegistryListOrder(t *testing.T) {
	r := NewRegistry()
	var tasks []*task.Task
	for _, name := range []string{"a", "b", "c"} {
		tk := newTask(name)
		tasks = append(tasks, tk)
		r.Add(tk)
		time.Sleep(2 * time.Millisecond)
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(list))
	}
	for i := range tasks {
		if list[i].ID() != tasks[i].ID() {
			t.Errorf("position %d: got %s, want %s", i, list[i].ID(), tasks[i].ID())
		}
	}

	r.Delete(tasks[1].ID())
	if _, ok := r.Get(tasks[1].ID()); ok {
		t.Error("deleted task still present")
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 tasks, got %d", r.Len())
	}
}
