package storage

import (
	"time"

	"github.com/ligustah/dlm/internal/task"
)

// record is the persisted form of a task.
type record struct {
	ID              string           `json:"id"`
	URL             string           `json:"url"`
	Destination     string           `json:"destination"`
	Status          task.Status      `json:"status"`
	Mode            task.Mode        `json:"mode,omitempty"`
	TotalBytes      int64            `json:"total_bytes"`
	DownloadedBytes int64            `json:"downloaded_bytes"`
	ETag            string           `json:"etag,omitempty"`
	Speed           float64          `json:"speed"`
	ETA             float64          `json:"eta"` // seconds, -1 when unknown
	CreatedAt       time.Time        `json:"created_at"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	FailureKind     task.FailureKind `json:"failure_kind,omitempty"`
	RetryCount      int              `json:"retry_count"`
	Segments        []segmentRecord  `json:"segments"`
}

type segmentRecord struct {
	Index        int                `json:"index"`
	Start        int64              `json:"start"`
	End          int64              `json:"end"`
	Downloaded   int64              `json:"downloaded"`
	Status       task.SegmentStatus `json:"status"`
	TempFilePath string             `json:"temp_file_path"`
	ErrorMessage string             `json:"error_message,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeVal(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func newRecord(s task.Snapshot) record {
	r := record{
		ID:              s.ID,
		URL:             s.URL,
		Destination:     s.Destination,
		Status:          s.Status,
		Mode:            s.Mode,
		TotalBytes:      s.TotalBytes,
		DownloadedBytes: s.DownloadedBytes,
		ETag:            s.ETag,
		Speed:           s.Speed,
		ETA:             -1,
		CreatedAt:       s.CreatedAt,
		StartedAt:       timePtr(s.StartedAt),
		CompletedAt:     timePtr(s.CompletedAt),
		ErrorMessage:    s.Error,
		FailureKind:     s.Failure,
		RetryCount:      s.RetryCount,
		Segments:        make([]segmentRecord, 0, len(s.Segments)),
	}
	if s.ETAKnown() {
		r.ETA = s.ETA.Seconds()
	}
	for _, seg := range s.Segments {
		r.Segments = append(r.Segments, segmentRecord{
			Index:        seg.Index,
			Start:        seg.Start,
			End:          seg.End,
			Downloaded:   seg.Downloaded,
			Status:       seg.Status,
			TempFilePath: seg.TempPath,
			ErrorMessage: seg.Error,
		})
	}
	return r
}

func (r record) snapshot() task.Snapshot {
	s := task.Snapshot{
		ID:              r.ID,
		URL:             r.URL,
		Destination:     r.Destination,
		Status:          r.Status,
		Mode:            r.Mode,
		TotalBytes:      r.TotalBytes,
		DownloadedBytes: r.DownloadedBytes,
		ETag:            r.ETag,
		Speed:           r.Speed,
		ETA:             task.UnknownETA,
		CreatedAt:       r.CreatedAt,
		StartedAt:       timeVal(r.StartedAt),
		CompletedAt:     timeVal(r.CompletedAt),
		Error:           r.ErrorMessage,
		Failure:         r.FailureKind,
		RetryCount:      r.RetryCount,
	}
	if r.ETA >= 0 {
		s.ETA = time.Duration(r.ETA * float64(time.Second))
	}
	for _, seg := range r.Segments {
		s.Segments = append(s.Segments, task.SegmentSnapshot{
			Index:      seg.Index,
			Start:      seg.Start,
			End:        seg.End,
			Downloaded: seg.Downloaded,
			Status:     seg.Status,
			TempPath:   seg.TempFilePath,
			Error:      seg.ErrorMessage,
		})
	}
	return s
}
