package queue

import (
	"sort"
	"sync"

	"github.com/ligustah/dlm/internal/task"
)

// Registry maps task ids to tasks for the lifetime of the manager.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*task.Task
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*task.Task)}
}

// Add registers t, replacing any task with the same id.
func (r *Registry) Add(t *task.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID()] = t
}

// Get returns the task with the given id.
func (r *Registry) Get(id string) (*task.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return t, ok
}

// Delete removes the task with the given id.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}

// List returns all tasks ordered by creation time, then id.
func (r *Registry) List() []*task.Task {
	r.mu.RLock()
	out := make([]*task.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ci, cj := out[i].CreatedAt(), out[j].CreatedAt()
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
