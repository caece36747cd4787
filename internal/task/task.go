package task

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// UnknownETA is reported when no meaningful estimate exists.
// It is distinct from a zero duration, which means "done".
const UnknownETA time.Duration = math.MaxInt64

// ErrInvalidTransition is returned when the state machine forbids a status change.
var ErrInvalidTransition = errors.New("task: invalid status transition")

// Task is a single download. Immutable identity fields are exported through
// getters; everything else is guarded by mu or stored atomically so that the
// engine, the segment fetchers, the progress tracker and status queries can
// touch it concurrently.
type Task struct {
	id          string
	url         string
	destination string
	createdAt   time.Time

	mu          sync.RWMutex
	status      Status
	mode        Mode
	totalBytes  int64
	etag        string
	speed       float64
	eta         time.Duration
	startedAt   time.Time
	completedAt time.Time
	errMsg      string
	failure     FailureKind
	retryCount  int
	segments    []*Segment
	watchers    map[*watcher]struct{}

	// streamed counts bytes written in single-stream mode.
	streamed atomic.Int64
}

// New creates a pending task with a fresh id.
func New(url, destination string) *Task {
	return &Task{
		id:          uuid.NewString(),
		url:         url,
		destination: destination,
		createdAt:   time.Now().UTC(),
		status:      StatusPending,
		eta:         UnknownETA,
	}
}

// Restore rebuilds a task from a persisted snapshot.
func Restore(s Snapshot) *Task {
	t := &Task{
		id:          s.ID,
		url:         s.URL,
		destination: s.Destination,
		createdAt:   s.CreatedAt,
		status:      s.Status,
		mode:        s.Mode,
		totalBytes:  s.TotalBytes,
		etag:        s.ETag,
		speed:       s.Speed,
		eta:         s.ETA,
		startedAt:   s.StartedAt,
		completedAt: s.CompletedAt,
		errMsg:      s.Error,
		failure:     s.Failure,
		retryCount:  s.RetryCount,
	}
	if t.status == "" {
		t.status = StatusPending
	}
	for _, ss := range s.Segments {
		t.segments = append(t.segments, segmentFromSnapshot(ss))
	}
	sort.Slice(t.segments, func(i, j int) bool { return t.segments[i].Index < t.segments[j].Index })
	if len(t.segments) == 0 && s.Mode == ModeSingle {
		t.streamed.Store(s.DownloadedBytes)
	}
	return t
}

// ID returns the task id.
func (t *Task) ID() string { return t.id }

// URL returns the source URL.
func (t *Task) URL() string { return t.url }

// Destination returns the destination path.
func (t *Task) Destination() string { return t.destination }

// CreatedAt returns the creation time.
func (t *Task) CreatedAt() time.Time { return t.createdAt }

// Status returns the current status.
func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Transition moves the task to status to. errMsg is recorded as the task
// error; it is cleared on any transition that does not carry one.
func (t *Task) Transition(to Status, errMsg string) error {
	return t.transition(to, errMsg, FailureNone)
}

// Fail moves the task to Failed with msg, recording what kind of failure it was.
func (t *Task) Fail(kind FailureKind, msg string) error {
	return t.transition(StatusFailed, msg, kind)
}

func (t *Task) transition(to Status, errMsg string, kind FailureKind) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.status, to)
	}
	from := t.status
	t.status = to
	t.errMsg = errMsg
	t.failure = kind

	now := time.Now().UTC()
	switch to {
	case StatusDownloading:
		if t.startedAt.IsZero() {
			t.startedAt = now
		}
	case StatusCompleted:
		t.completedAt = now
		t.eta = 0
		t.speed = 0
	case StatusPaused, StatusFailed, StatusCancelled:
		t.speed = 0
		t.eta = UnknownETA
	}
	t.emitLocked(t.eventLocked(EventStatus, from))
	return nil
}

// Suspend marks a non-terminal task as paused regardless of where it was
// interrupted. It is used when recovering persisted tasks after a restart and
// reports whether the status changed.
func (t *Task) Suspend() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.IsTerminal() || t.status == StatusPaused {
		return false
	}
	from := t.status
	t.status = StatusPaused
	t.speed = 0
	t.eta = UnknownETA
	for _, seg := range t.segments {
		if seg.Status() == SegmentDownloading {
			seg.SetStatus(SegmentPending)
		}
	}
	t.emitLocked(t.eventLocked(EventStatus, from))
	return true
}

// Mode returns the transfer strategy.
func (t *Task) Mode() Mode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mode
}

// SetMode fixes the transfer strategy. Once set, only Reset can clear it.
func (t *Task) SetMode(m Mode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mode == ModeUnknown {
		t.mode = m
	}
}

// TotalBytes returns the source size, or 0 if unknown.
func (t *Task) TotalBytes() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalBytes
}

// SetSource records the probed size and entity tag.
func (t *Task) SetSource(total int64, etag string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalBytes = total
	t.etag = etag
}

// ETag returns the entity tag seen when the source was probed.
func (t *Task) ETag() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.etag
}

// Reset discards the strategy, size and all transfer progress.
func (t *Task) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mode = ModeUnknown
	t.totalBytes = 0
	t.etag = ""
	t.segments = nil
	t.streamed.Store(0)
}

// Segments returns the segments ordered by index.
func (t *Task) Segments() []*Segment {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Segment, len(t.segments))
	copy(out, t.segments)
	return out
}

// SetSegments installs the segment list.
func (t *Task) SetSegments(segs []*Segment) {
	sorted := make([]*Segment, len(segs))
	copy(sorted, segs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	t.mu.Lock()
	defer t.mu.Unlock()
	t.segments = sorted
}

// AddStreamed records n bytes written in single-stream mode.
func (t *Task) AddStreamed(n int64) int64 {
	return t.streamed.Add(n)
}

// ResetStreamed zeroes the single-stream counter.
func (t *Task) ResetStreamed() {
	t.streamed.Store(0)
}

// DownloadedBytes returns the bytes on disk: the sum over segments, or the
// single-stream counter. The value never exceeds a known total.
func (t *Task) DownloadedBytes() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.downloadedLocked()
}

func (t *Task) downloadedLocked() int64 {
	var n int64
	if len(t.segments) > 0 {
		for _, seg := range t.segments {
			n += seg.Downloaded()
		}
	} else {
		n = t.streamed.Load()
	}
	if t.totalBytes > 0 && n > t.totalBytes {
		n = t.totalBytes
	}
	return n
}

// SetProgress publishes the latest speed and ETA to the task and its watchers.
func (t *Task) SetProgress(speed float64, eta time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() || t.status == StatusPaused {
		return
	}
	t.speed = speed
	t.eta = eta
	t.emitLocked(t.eventLocked(EventProgress, t.status))
}

// IncRetry increments the retry counter and returns the new value.
func (t *Task) IncRetry() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retryCount++
	return t.retryCount
}

// Failure returns the kind of failure recorded by Fail.
func (t *Task) Failure() FailureKind {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.failure
}

// Error returns the last error message.
func (t *Task) Error() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.errMsg
}

// Snapshot returns an immutable copy of the task.
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Snapshot{
		ID:              t.id,
		URL:             t.url,
		Destination:     t.destination,
		Status:          t.status,
		Mode:            t.mode,
		TotalBytes:      t.totalBytes,
		DownloadedBytes: t.downloadedLocked(),
		ETag:            t.etag,
		Speed:           t.speed,
		ETA:             t.eta,
		CreatedAt:       t.createdAt,
		StartedAt:       t.startedAt,
		CompletedAt:     t.completedAt,
		Error:           t.errMsg,
		Failure:         t.failure,
		RetryCount:      t.retryCount,
	}
	if len(t.segments) > 0 {
		s.Segments = make([]SegmentSnapshot, len(t.segments))
		for i, seg := range t.segments {
			s.Segments[i] = seg.Snapshot()
		}
	}
	return s
}

// Snapshot is a point-in-time, read-only view of a Task.
type Snapshot struct {
	ID              string
	URL             string
	Destination     string
	Status          Status
	Mode            Mode
	TotalBytes      int64
	DownloadedBytes int64
	ETag            string
	Speed           float64
	ETA             time.Duration
	CreatedAt       time.Time
	StartedAt       time.Time
	CompletedAt     time.Time
	Error           string
	Failure         FailureKind
	RetryCount      int
	Segments        []SegmentSnapshot
}

// Progress returns the completion percentage, or 0 if the size is unknown.
func (s Snapshot) Progress() float64 {
	if s.TotalBytes <= 0 {
		return 0
	}
	return float64(s.DownloadedBytes) / float64(s.TotalBytes) * 100
}

// ETAKnown reports whether ETA holds a real estimate.
func (s Snapshot) ETAKnown() bool {
	return s.ETA != UnknownETA
}
