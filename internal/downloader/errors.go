package downloader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	dlmhttp "github.com/ligustah/dlm/internal/http"
	"github.com/ligustah/dlm/internal/task"
)

var (
	// errTaskCancelled stops a transfer whose task was cancelled while bytes
	// were still arriving.
	errTaskCancelled = errors.New("downloader: task cancelled")

	errProbe = errors.New("probe")
	errMerge = errors.New("merge")
)

// SegmentError is returned when a segment exhausts its retries.
//
// Use errors.As to extract it; Err holds the error of the last attempt.
type SegmentError struct {
	Index    int   // Segment index
	Attempts int   // Attempts made, including the last one
	Err      error // Error of the last attempt
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %d failed after %d attempts: %v", e.Index, e.Attempts, e.Err)
}

func (e *SegmentError) Unwrap() error {
	return e.Err
}

// failureKind classifies the error that ended a task.
func failureKind(err error) task.FailureKind {
	var (
		pathErr *fs.PathError
		linkErr *os.LinkError
	)
	switch {
	case errors.Is(err, errProbe), dlmhttp.IsPermanent(err):
		return task.FailureSource
	case errors.Is(err, errMerge), errors.As(err, &pathErr), errors.As(err, &linkErr):
		return task.FailureStorage
	default:
		return task.FailureTransfer
	}
}
