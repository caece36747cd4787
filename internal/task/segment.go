package task

import (
	"sync"
	"sync/atomic"
)

// Range is an inclusive byte range, matching the HTTP Range header.
type Range struct {
	Start int64
	End   int64
}

// Size returns the number of bytes covered by the range.
func (r Range) Size() int64 {
	return r.End - r.Start + 1
}

// Partition splits [0, total) into count contiguous ranges.
// The last range absorbs the remainder of the integer division.
// If total is smaller than count, one range per byte is returned.
func Partition(total int64, count int) []Range {
	if total <= 0 {
		return nil
	}
	if count <= 0 {
		count = 1
	}
	if int64(count) > total {
		count = int(total)
	}

	size := total / int64(count)
	ranges := make([]Range, count)
	for i := 0; i < count; i++ {
		start := int64(i) * size
		end := start + size - 1
		if i == count-1 {
			end = total - 1
		}
		ranges[i] = Range{Start: start, End: end}
	}
	return ranges
}

// Segment is a byte range of a task fetched into its own temp file.
// Downloaded always equals the number of bytes flushed to TempPath.
type Segment struct {
	Index    int
	Start    int64
	End      int64
	TempPath string

	downloaded atomic.Int64

	mu     sync.Mutex
	status SegmentStatus
	err    string
}

// NewSegment creates a pending segment.
func NewSegment(index int, r Range, tempPath string) *Segment {
	return &Segment{
		Index:    index,
		Start:    r.Start,
		End:      r.End,
		TempPath: tempPath,
		status:   SegmentPending,
	}
}

// Size returns the number of bytes in the segment.
func (s *Segment) Size() int64 {
	return s.End - s.Start + 1
}

// Downloaded returns the number of bytes already on disk.
func (s *Segment) Downloaded() int64 {
	return s.downloaded.Load()
}

// Remaining returns the number of bytes still to fetch.
func (s *Segment) Remaining() int64 {
	r := s.Size() - s.downloaded.Load()
	if r < 0 {
		return 0
	}
	return r
}

// Advance records n more bytes written and returns the new total.
func (s *Segment) Advance(n int64) int64 {
	return s.downloaded.Add(n)
}

// SetDownloaded overwrites the byte counter, clamped to [0, Size].
func (s *Segment) SetDownloaded(n int64) {
	if n < 0 {
		n = 0
	}
	if n > s.Size() {
		n = s.Size()
	}
	s.downloaded.Store(n)
}

// Status returns the segment status.
func (s *Segment) Status() SegmentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus updates the segment status. Completing the segment or leaving
// the failed state clears the error.
func (s *Segment) SetStatus(status SegmentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == SegmentCompleted || (s.status == SegmentFailed && status != SegmentFailed) {
		s.err = ""
	}
	s.status = status
}

// SetError records the last error without changing the status.
func (s *Segment) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = msg
}

// Fail marks the segment failed with msg.
func (s *Segment) Fail(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = SegmentFailed
	s.err = msg
}

// Error returns the last recorded error message.
func (s *Segment) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Snapshot returns an immutable copy of the segment.
func (s *Segment) Snapshot() SegmentSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SegmentSnapshot{
		Index:      s.Index,
		Start:      s.Start,
		End:        s.End,
		Downloaded: s.downloaded.Load(),
		Status:     s.status,
		TempPath:   s.TempPath,
		Error:      s.err,
	}
}

// SegmentSnapshot is a point-in-time copy of a Segment.
type SegmentSnapshot struct {
	Index      int
	Start      int64
	End        int64
	Downloaded int64
	Status     SegmentStatus
	TempPath   string
	Error      string
}

// Size returns the number of bytes in the segment.
func (s SegmentSnapshot) Size() int64 {
	return s.End - s.Start + 1
}

func segmentFromSnapshot(s SegmentSnapshot) *Segment {
	seg := &Segment{
		Index:    s.Index,
		Start:    s.Start,
		End:      s.End,
		TempPath: s.TempPath,
		status:   s.Status,
		err:      s.Error,
	}
	if seg.status == "" {
		seg.status = SegmentPending
	}
	seg.SetDownloaded(s.Downloaded)
	return seg
}
