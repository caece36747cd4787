package task

// Status represents the lifecycle status of a download task.
type Status string

const (
	// StatusPending means the task is queued but not started.
	StatusPending Status = "pending"
	// StatusInitializing means the source is being probed.
	StatusInitializing Status = "initializing"
	// StatusDownloading means bytes are being transferred.
	StatusDownloading Status = "downloading"
	// StatusMerging means segment files are being joined into the destination.
	StatusMerging Status = "merging"
	// StatusCompleted means the destination file is complete.
	StatusCompleted Status = "completed"
	// StatusFailed means the task stopped on a non-retryable error.
	StatusFailed Status = "failed"
	// StatusCancelled means the task was cancelled and its files removed.
	StatusCancelled Status = "cancelled"
	// StatusPaused means the task was interrupted and can be resumed.
	StatusPaused Status = "paused"
)

// transitions lists the statuses reachable from each status.
// Merging can only end in Completed or Failed.
var transitions = map[Status][]Status{
	StatusPending:      {StatusInitializing, StatusPaused, StatusCancelled, StatusFailed},
	StatusInitializing: {StatusDownloading, StatusPaused, StatusCancelled, StatusFailed},
	StatusDownloading:  {StatusMerging, StatusCompleted, StatusPaused, StatusCancelled, StatusFailed},
	StatusMerging:      {StatusCompleted, StatusFailed},
	StatusPaused:       {StatusPending, StatusCancelled},
}

// String returns the string representation of Status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further progress happens without an explicit action.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsRunning reports whether the task is inside the engine.
func (s Status) IsRunning() bool {
	return s == StatusInitializing || s == StatusDownloading || s == StatusMerging
}

// IsActive reports whether the task is queued or running.
func (s Status) IsActive() bool {
	return s == StatusPending || s.IsRunning()
}

// CanTransition reports whether the state machine allows s -> to.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// FailureKind classifies why a task failed.
type FailureKind string

const (
	// FailureNone is the kind of a task that has not failed.
	FailureNone FailureKind = ""
	// FailureSource means the source could not be probed or refused access.
	FailureSource FailureKind = "source"
	// FailureTransfer means a transfer ran out of attempts.
	FailureTransfer FailureKind = "transfer"
	// FailureStorage means a local file could not be written or merged.
	FailureStorage FailureKind = "storage"
)

// Mode is the transfer strategy chosen once while initializing.
type Mode string

const (
	// ModeUnknown means the source has not been probed yet.
	ModeUnknown Mode = ""
	// ModeSingle streams the whole body sequentially.
	ModeSingle Mode = "single"
	// ModeSegmented fetches byte ranges concurrently and merges them.
	ModeSegmented Mode = "segmented"
)

// SegmentStatus represents the state of a single segment.
type SegmentStatus string

const (
	// SegmentPending means the segment has not been started, or was interrupted.
	SegmentPending SegmentStatus = "pending"
	// SegmentDownloading means a fetch is in flight.
	SegmentDownloading SegmentStatus = "downloading"
	// SegmentCompleted means every byte of the range is on disk.
	SegmentCompleted SegmentStatus = "completed"
	// SegmentFailed means the segment exhausted its retries.
	SegmentFailed SegmentStatus = "failed"
)
