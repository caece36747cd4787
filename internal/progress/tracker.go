package progress

import (
	"context"
	"sync"
	"time"

	"github.com/ligustah/dlm/internal/task"
)

// UnknownETA is returned by ETA when no transfer rate is known yet.
const UnknownETA = task.UnknownETA

// Options configures the progress tracker.
type Options struct {
	// Window is the sliding interval used for speed estimation.
	// Default: 5s
	Window time.Duration

	// Interval is how often Track refreshes a task.
	// Default: 500ms
	Interval time.Duration

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

type sample struct {
	bytes int64
	at    time.Time
}

// window holds the samples of one task. Samples arrive roughly in time
// order, so expired ones are dropped from the front only.
type window struct {
	mu      sync.Mutex
	samples []sample
	head    int
}

func (w *window) add(s sample, cutoff time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, s)
	for w.head < len(w.samples) && w.samples[w.head].at.Before(cutoff) {
		w.head++
	}
	if w.head > 0 && w.head >= len(w.samples)/2 {
		n := copy(w.samples, w.samples[w.head:])
		w.samples = w.samples[:n]
		w.head = 0
	}
}

func (w *window) speed(cutoff time.Time) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	var (
		total         int64
		count         int
		first, latest time.Time
	)
	for _, v := range w.samples[w.head:] {
		if v.at.Before(cutoff) {
			continue
		}
		if count == 0 || v.at.Before(first) {
			first = v.at
		}
		if count == 0 || v.at.After(latest) {
			latest = v.at
		}
		total += v.bytes
		count++
	}
	if count < 2 {
		return 0
	}

	span := latest.Sub(first).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(total) / span
}

// Tracker turns byte-arrival samples into per-task speed and ETA figures.
type Tracker struct {
	opts Options

	mu      sync.RWMutex
	windows map[string]*window
}

// NewTracker creates a new progress tracker.
func NewTracker(opts Options) *Tracker {
	if opts.Window <= 0 {
		opts.Window = 5 * time.Second
	}
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Tracker{
		opts:    opts,
		windows: make(map[string]*window),
	}
}

func (tr *Tracker) windowFor(taskID string, create bool) *window {
	tr.mu.RLock()
	w := tr.windows[taskID]
	tr.mu.RUnlock()
	if w != nil || !create {
		return w
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if w = tr.windows[taskID]; w == nil {
		w = &window{}
		tr.windows[taskID] = w
	}
	return w
}

// Record adds a sample of n bytes that arrived at time at.
func (tr *Tracker) Record(taskID string, n int64, at time.Time) {
	if n <= 0 {
		return
	}
	tr.windowFor(taskID, true).add(sample{bytes: n, at: at}, at.Add(-tr.opts.Window))
}

// Speed returns the transfer rate in bytes per second over the window.
// Fewer than two samples in the window yield 0.
func (tr *Tracker) Speed(taskID string) float64 {
	w := tr.windowFor(taskID, false)
	if w == nil {
		return 0
	}
	return w.speed(tr.opts.Now().Add(-tr.opts.Window))
}

// EstimateETA returns the time needed to move remaining bytes at speed.
func EstimateETA(remaining int64, speed float64) time.Duration {
	if speed <= 0 {
		return UnknownETA
	}
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / speed * float64(time.Second))
}

// ETA returns the estimated time left for t.
func (tr *Tracker) ETA(t *task.Task) time.Duration {
	total := t.TotalBytes()
	if total <= 0 {
		return UnknownETA
	}
	return EstimateETA(total-t.DownloadedBytes(), tr.Speed(t.ID()))
}

// Update recomputes speed and ETA for t and publishes them into the task.
func (tr *Tracker) Update(t *task.Task) {
	speed := tr.Speed(t.ID())
	eta := UnknownETA
	if total := t.TotalBytes(); total > 0 {
		eta = EstimateETA(total-t.DownloadedBytes(), speed)
	}
	t.SetProgress(speed, eta)
}

// Track refreshes t on every tick until ctx is done.
func (tr *Tracker) Track(ctx context.Context, t *task.Task) {
	ticker := time.NewTicker(tr.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			tr.Update(t)
			return
		case <-ticker.C:
			tr.Update(t)
		}
	}
}

// Forget drops all samples for a task.
func (tr *Tracker) Forget(taskID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.windows, taskID)
}
