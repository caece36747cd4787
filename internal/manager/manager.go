package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/ligustah/dlm/internal/config"
	"github.com/ligustah/dlm/internal/downloader"
	dlmhttp "github.com/ligustah/dlm/internal/http"
	"github.com/ligustah/dlm/internal/progress"
	"github.com/ligustah/dlm/internal/queue"
	"github.com/ligustah/dlm/internal/storage"
	"github.com/ligustah/dlm/internal/task"
)

// Common errors.
var (
	ErrNotFound     = errors.New("manager: task not found")
	ErrInvalidURL   = errors.New("manager: invalid download request")
	ErrInvalidState = errors.New("manager: operation not allowed in current state")
)

// Options configures the manager.
type Options struct {
	// MaxConcurrent is the number of tasks executing at once.
	// Default: 3
	MaxConcurrent int

	// Logger receives lifecycle logs. Default: slog.Default()
	Logger *slog.Logger
}

// execution is one in-flight run of a task. done is closed once the run
// has returned and released its slot.
type execution struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager accepts download requests and runs them on the engine with at most
// MaxConcurrent tasks in flight.
type Manager struct {
	engine   *downloader.Engine
	store    *storage.Store
	queue    *queue.Queue
	registry *queue.Registry
	limiter  *semaphore.Weighted
	logger   *slog.Logger

	ownsStore bool

	mu      sync.Mutex
	running map[string]*execution
	ctx     context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a manager running tasks on engine and persisting them in store.
func New(engine *downloader.Engine, store *storage.Store, opts Options) *Manager {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 3
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		engine:   engine,
		store:    store,
		queue:    queue.New(),
		registry: queue.NewRegistry(),
		limiter:  semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		logger:   opts.Logger,
		running:  make(map[string]*execution),
	}
}

// Open builds the store, tracker and engine described by cfg and returns a
// manager owning them. Close releases the store.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.Open(ctx, cfg.MetadataURL, cfg.TempDir, logger)
	if err != nil {
		return nil, err
	}

	tracker := progress.NewTracker(progress.Options{
		Window:   cfg.SpeedWindow,
		Interval: cfg.ProgressInterval,
	})

	httpOpts := dlmhttp.DefaultOptions()
	httpOpts.Timeout = cfg.HTTP.Timeout
	httpOpts.ProbeRetries = cfg.HTTP.ProbeRetries
	if cfg.HTTP.UserAgent != "" {
		httpOpts.UserAgent = cfg.HTTP.UserAgent
	}

	engine := downloader.NewEngine(store, tracker, downloader.Options{
		SegmentCount:   cfg.SegmentCount,
		MinSegmentSize: cfg.MinSegmentSize,
		BufferSize:     int(cfg.BufferSize),
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
		HTTPOptions:    httpOpts,
		Logger:         logger,
	})

	m := New(engine, store, Options{
		MaxConcurrent: cfg.MaxConcurrentDownloads,
		Logger:        logger,
	})
	m.ownsStore = true
	return m, nil
}

// Start loads persisted tasks and starts dispatching. Interrupted tasks are
// reconciled with their temp files and come back as paused. Cancelling ctx
// pauses everything in flight.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.ctx != nil {
		m.mu.Unlock()
		return nil
	}
	m.ctx, m.stop = context.WithCancel(ctx)
	m.mu.Unlock()

	if err := m.loadPersisted(ctx); err != nil {
		return err
	}

	m.wg.Add(1)
	go m.dispatch()
	return nil
}

func (m *Manager) loadPersisted(ctx context.Context) error {
	tasks, err := m.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	for _, t := range tasks {
		if _, ok := m.registry.Get(t.ID()); ok {
			continue
		}
		if !t.Status().IsTerminal() {
			if err := m.store.Reconcile(t); err != nil {
				m.logger.Warn("failed to reconcile temp files", "task", t.ID(), "err", err)
			}
			if t.Suspend() {
				m.save(ctx, t)
			}
		}
		m.registry.Add(t)
	}

	m.logger.Info("tasks recovered", "count", len(tasks))
	return nil
}

func (m *Manager) dispatch() {
	defer m.wg.Done()

	for {
		t, ok := m.queue.Dequeue(m.ctx)
		if !ok {
			return
		}
		if t.Status() != task.StatusPending {
			continue
		}
		if err := m.limiter.Acquire(m.ctx, 1); err != nil {
			return
		}
		// It may have been paused or cancelled while waiting for a slot.
		if t.Status() != task.StatusPending {
			m.limiter.Release(1)
			continue
		}

		runCtx, cancel := context.WithCancel(m.ctx)
		exec := &execution{cancel: cancel, done: make(chan struct{})}
		m.mu.Lock()
		prev := m.running[t.ID()]
		if prev == nil {
			m.running[t.ID()] = exec
		}
		m.mu.Unlock()

		// A pause and resume while this copy waited for a slot queued the
		// task again. Only one run per task; retry once the other settles.
		if prev != nil {
			cancel()
			m.limiter.Release(1)
			m.requeueAfter(prev, t)
			continue
		}

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()

			m.execute(runCtx, t)
			cancel()

			m.mu.Lock()
			delete(m.running, t.ID())
			m.mu.Unlock()
			m.limiter.Release(1)
			close(exec.done)
		}()
	}
}

// requeueAfter queues t again once prev has finished, if t is still pending.
func (m *Manager) requeueAfter(prev *execution, t *task.Task) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-prev.done:
		case <-m.ctx.Done():
			return
		}
		if t.Status() == task.StatusPending {
			m.queue.Enqueue(t)
		}
	}()
}

func (m *Manager) execute(ctx context.Context, t *task.Task) {
	if err := m.engine.Execute(ctx, t); err != nil {
		m.logger.Debug("task ended with error", "task", t.ID(), "err", err)
	}
	// Segment writers may have recreated files after Cancel cleaned up.
	if t.Status() == task.StatusCancelled {
		m.discard(t)
	}
}

// Add registers a download of rawURL into destination and queues it.
func (m *Manager) Add(ctx context.Context, rawURL, destination string) (task.Snapshot, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return task.Snapshot{}, fmt.Errorf("%w: unsupported url %q", ErrInvalidURL, rawURL)
	}
	if destination == "" {
		return task.Snapshot{}, fmt.Errorf("%w: empty destination", ErrInvalidURL)
	}

	t := task.New(rawURL, destination)
	m.save(ctx, t)
	m.registry.Add(t)
	m.queue.Enqueue(t)

	m.logger.Info("task added", "task", t.ID(), "url", rawURL, "destination", destination)
	return t.Snapshot(), nil
}

// Pause stops a queued or running task, keeping downloaded bytes. Tasks in
// any other status are left alone.
func (m *Manager) Pause(ctx context.Context, id string) error {
	t, ok := m.registry.Get(id)
	if !ok {
		return ErrNotFound
	}

	if t.Status() == task.StatusPending {
		m.queue.Remove(id)
		if err := t.Transition(task.StatusPaused, ""); err == nil {
			m.save(ctx, t)
			m.logger.Info("task paused", "task", id)
		}
	}

	// The engine turns the cancellation into Paused.
	m.mu.Lock()
	exec := m.running[id]
	m.mu.Unlock()
	if exec != nil && t.Status() != task.StatusMerging {
		exec.cancel()
	}
	return nil
}

// Resume queues a paused task again. It is a no-op for any other status.
func (m *Manager) Resume(ctx context.Context, id string) error {
	t, ok := m.registry.Get(id)
	if !ok {
		return ErrNotFound
	}
	if t.Status() != task.StatusPaused {
		return nil
	}
	if err := t.Transition(task.StatusPending, ""); err != nil {
		return nil
	}
	m.save(ctx, t)
	m.queue.Enqueue(t)

	m.logger.Info("task resumed", "task", id)
	return nil
}

// Cancel stops a task and removes its temp files and metadata. The task stays
// visible through Get until Remove. Completed, failed and merging tasks are
// left alone.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	t, ok := m.registry.Get(id)
	if !ok {
		return ErrNotFound
	}
	if err := t.Transition(task.StatusCancelled, ""); err != nil {
		return nil
	}

	m.queue.Remove(id)
	m.mu.Lock()
	exec := m.running[id]
	m.mu.Unlock()
	if exec != nil {
		exec.cancel()
	}

	m.discard(t)
	m.logger.Info("task cancelled", "task", id)
	return nil
}

// Remove forgets a completed, failed or cancelled task.
func (m *Manager) Remove(ctx context.Context, id string) error {
	t, ok := m.registry.Get(id)
	if !ok {
		return ErrNotFound
	}
	if !t.Status().IsTerminal() {
		return fmt.Errorf("%w: %s task %s", ErrInvalidState, t.Status(), id)
	}

	m.store.Cleanup(id)
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	m.registry.Delete(id)
	return nil
}

// discard deletes everything a cancelled task left behind.
func (m *Manager) discard(t *task.Task) {
	m.store.Cleanup(t.ID())
	if err := os.Remove(storage.PartPath(t.Destination())); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("failed to remove partial file", "task", t.ID(), "err", err)
	}
	if err := m.store.Delete(context.Background(), t.ID()); err != nil {
		m.logger.Warn("failed to delete task metadata", "task", t.ID(), "err", err)
	}
}

// Get returns a snapshot of the task with the given id.
func (m *Manager) Get(id string) (task.Snapshot, bool) {
	t, ok := m.registry.Get(id)
	if !ok {
		return task.Snapshot{}, false
	}
	return t.Snapshot(), true
}

// List returns snapshots of all known tasks, oldest first.
func (m *Manager) List() []task.Snapshot {
	tasks := m.registry.List()
	out := make([]task.Snapshot, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Snapshot())
	}
	return out
}

// ListActive returns snapshots of queued and running tasks.
func (m *Manager) ListActive() []task.Snapshot {
	var out []task.Snapshot
	for _, t := range m.registry.List() {
		if t.Status().IsActive() {
			out = append(out, t.Snapshot())
		}
	}
	return out
}

// Subscribe streams status and progress events of the task with the given
// id. The first event carries the current status. Events are dropped rather
// than block the download, except status events, which displace the oldest
// queued event. Call the returned func to stop; it closes the channel.
func (m *Manager) Subscribe(id string) (<-chan task.Event, func(), error) {
	t, ok := m.registry.Get(id)
	if !ok {
		return nil, nil, ErrNotFound
	}
	events, stop := t.Watch()
	return events, stop, nil
}

// Wait blocks until the task is terminal or paused and its run has returned,
// then returns its final snapshot.
func (m *Manager) Wait(ctx context.Context, id string) (task.Snapshot, error) {
	t, ok := m.registry.Get(id)
	if !ok {
		return task.Snapshot{}, ErrNotFound
	}
	events, stop := t.Watch()
	defer stop()

	for {
		s := t.Snapshot()
		if s.Status.IsTerminal() || s.Status == task.StatusPaused {
			// A paused task may still be finishing its last write.
			done := m.runDone(id)
			if done == nil {
				return s, nil
			}
			select {
			case <-ctx.Done():
				return t.Snapshot(), ctx.Err()
			case <-done:
			}
			continue
		}
		select {
		case <-ctx.Done():
			return t.Snapshot(), ctx.Err()
		case <-events:
		}
	}
}

// runDone returns the done channel of the run of id, or nil if none is in flight.
func (m *Manager) runDone(id string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exec, ok := m.running[id]; ok {
		return exec.done
	}
	return nil
}

// Close pauses everything in flight, waits for it to settle and releases the
// store when the manager owns it.
func (m *Manager) Close() error {
	m.mu.Lock()
	stop := m.stop
	m.mu.Unlock()
	if stop != nil {
		stop()
	}
	m.wg.Wait()

	if m.ownsStore {
		return m.store.Close()
	}
	return nil
}

func (m *Manager) save(ctx context.Context, t *task.Task) {
	if err := m.store.Save(context.WithoutCancel(ctx), t); err != nil {
		m.logger.Warn("failed to persist task", "task", t.ID(), "err", err)
	}
}
