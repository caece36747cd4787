package task

import (
	"sync"
	"time"
)

// EventKind distinguishes status changes from progress updates.
type EventKind string

const (
	EventStatus   EventKind = "status"
	EventProgress EventKind = "progress"
)

// eventBuffer is the capacity of each watcher channel.
const eventBuffer = 64

// Event reports a change to a task. Status is always the status at the time
// of the event; Previous is only meaningful for EventStatus.
type Event struct {
	Kind   EventKind
	TaskID string
	Time   time.Time

	Previous Status
	Status   Status
	Error    string

	TotalBytes      int64
	DownloadedBytes int64
	Speed           float64
	ETA             time.Duration
}

// Progress returns the completion percentage, or 0 if the size is unknown.
func (e Event) Progress() float64 {
	if e.TotalBytes <= 0 {
		return 0
	}
	return float64(e.DownloadedBytes) / float64(e.TotalBytes) * 100
}

type watcher struct {
	ch chan Event
}

// send never blocks. A slow reader loses progress events; a status event
// evicts the oldest queued event instead of being dropped.
func (w *watcher) send(e Event) {
	select {
	case w.ch <- e:
		return
	default:
	}
	if e.Kind != EventStatus {
		return
	}
	select {
	case <-w.ch:
	default:
	}
	select {
	case w.ch <- e:
	default:
	}
}

// Watch subscribes to changes of t. The first event on the channel is a
// status event carrying the current status. The returned func ends the
// subscription and closes the channel; it is safe to call more than once.
func (t *Task) Watch() (<-chan Event, func()) {
	w := &watcher{ch: make(chan Event, eventBuffer)}

	t.mu.Lock()
	if t.watchers == nil {
		t.watchers = make(map[*watcher]struct{})
	}
	t.watchers[w] = struct{}{}
	w.send(t.eventLocked(EventStatus, t.status))
	t.mu.Unlock()

	var once sync.Once
	return w.ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.watchers, w)
			t.mu.Unlock()
			close(w.ch)
		})
	}
}

// eventLocked builds an event from the current fields. t.mu must be held.
func (t *Task) eventLocked(kind EventKind, previous Status) Event {
	return Event{
		Kind:            kind,
		TaskID:          t.id,
		Time:            time.Now().UTC(),
		Previous:        previous,
		Status:          t.status,
		Error:           t.errMsg,
		TotalBytes:      t.totalBytes,
		DownloadedBytes: t.downloadedLocked(),
		Speed:           t.speed,
		ETA:             t.eta,
	}
}

// emitLocked delivers e to every watcher. t.mu must be held for writing so
// that events reach each watcher in order.
func (t *Task) emitLocked(e Event) {
	for w := range t.watchers {
		w.send(e)
	}
}
