package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	dlmhttp "github.com/ligustah/dlm/internal/http"
	"github.com/ligustah/dlm/internal/progress"
	"github.com/ligustah/dlm/internal/task"
)

// Fetcher downloads individual segments into their temp files.
type Fetcher struct {
	client  *dlmhttp.Client
	tracker *progress.Tracker
	opts    Options
	logger  *slog.Logger
}

// NewFetcher creates a segment fetcher.
func NewFetcher(client *dlmhttp.Client, tracker *progress.Tracker, opts Options) *Fetcher {
	opts = opts.withDefaults()
	return &Fetcher{
		client:  client,
		tracker: tracker,
		opts:    opts,
		logger:  opts.Logger,
	}
}

// Fetch downloads the remaining bytes of seg, retrying transient failures
// with a fixed delay. Every retry resumes from the bytes already on disk.
//
// Cancellation of ctx is returned as is and leaves the segment pending with
// its progress intact. When retries are exhausted the segment is marked
// failed and a *SegmentError is returned.
func (f *Fetcher) Fetch(ctx context.Context, t *task.Task, seg *task.Segment) error {
	attempts := 0
	for {
		if seg.Remaining() == 0 {
			seg.SetStatus(task.SegmentCompleted)
			return nil
		}
		if err := ctx.Err(); err != nil {
			seg.SetStatus(task.SegmentPending)
			return err
		}

		seg.SetStatus(task.SegmentDownloading)
		err := f.fetchOnce(ctx, t, seg)
		if err == nil {
			seg.SetStatus(task.SegmentCompleted)
			f.logger.Debug("segment completed", "task", t.ID(), "segment", seg.Index, "bytes", seg.Size())
			return nil
		}
		if errors.Is(err, errTaskCancelled) {
			seg.SetStatus(task.SegmentPending)
			return err
		}
		if ctx.Err() != nil {
			seg.SetStatus(task.SegmentPending)
			return ctx.Err()
		}

		attempts++
		t.IncRetry()
		seg.SetError(err.Error())

		if attempts >= f.opts.MaxRetries || dlmhttp.IsPermanent(err) {
			seg.Fail(err.Error())
			return &SegmentError{Index: seg.Index, Attempts: attempts, Err: err}
		}

		f.logger.Warn("segment attempt failed, retrying",
			"task", t.ID(), "segment", seg.Index, "attempt", attempts, "delay", f.opts.RetryDelay, "err", err)

		select {
		case <-ctx.Done():
			seg.SetStatus(task.SegmentPending)
			return ctx.Err()
		case <-time.After(f.opts.RetryDelay):
		}
	}
}

// fetchOnce makes a single range request for the rest of seg.
func (f *Fetcher) fetchOnce(ctx context.Context, t *task.Task, seg *task.Segment) error {
	file, err := f.openSegment(seg)
	if err != nil {
		return err
	}
	defer file.Close()

	offset := seg.Downloaded()
	resp, err := f.client.GetRange(ctx, t.URL(), seg.Start+offset, seg.End)
	if err != nil {
		return fmt.Errorf("request segment %d: %w", seg.Index, err)
	}
	defer resp.Body.Close()

	buf := make([]byte, f.opts.BufferSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			// Never write past the end of the segment.
			if rem := seg.Remaining(); int64(n) > rem {
				chunk = buf[:rem]
			}
			if _, err := file.Write(chunk); err != nil {
				return fmt.Errorf("write segment %d: %w", seg.Index, err)
			}
			seg.Advance(int64(len(chunk)))
			f.tracker.Record(t.ID(), int64(len(chunk)), time.Now())

			if t.Status() == task.StatusCancelled {
				return errTaskCancelled
			}
			if seg.Remaining() == 0 {
				return nil
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("read segment %d: %w", seg.Index, rerr)
		}
	}

	return fmt.Errorf("segment %d: %w after %d of %d bytes",
		seg.Index, io.ErrUnexpectedEOF, seg.Downloaded(), seg.Size())
}

// openSegment opens the temp file of seg for appending and makes its length
// match the downloaded counter.
func (f *Fetcher) openSegment(seg *task.Segment) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(seg.TempPath), 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	flag := os.O_CREATE | os.O_WRONLY
	if seg.Downloaded() > 0 {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}

	file, err := os.OpenFile(seg.TempPath, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open segment %d: %w", seg.Index, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat segment %d: %w", seg.Index, err)
	}
	switch size, want := info.Size(), seg.Downloaded(); {
	case size > want:
		if err := file.Truncate(want); err != nil {
			file.Close()
			return nil, fmt.Errorf("truncate segment %d: %w", seg.Index, err)
		}
	case size < want:
		seg.SetDownloaded(size)
	}
	return file, nil
}

// Stream downloads the whole body of t into path, restarting from the first
// byte on every attempt. It returns the number of bytes written.
func (f *Fetcher) Stream(ctx context.Context, t *task.Task, path string) (int64, error) {
	attempts := 0
	for {
		n, err := f.streamOnce(ctx, t, path)
		if err == nil {
			return n, nil
		}
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if errors.Is(err, errTaskCancelled) {
			return n, err
		}

		attempts++
		t.IncRetry()
		if attempts >= f.opts.MaxRetries || dlmhttp.IsPermanent(err) {
			return n, err
		}

		f.logger.Warn("download attempt failed, retrying",
			"task", t.ID(), "attempt", attempts, "delay", f.opts.RetryDelay, "err", err)

		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case <-time.After(f.opts.RetryDelay):
		}
	}
}

func (f *Fetcher) streamOnce(ctx context.Context, t *task.Task, path string) (int64, error) {
	t.ResetStreamed()

	resp, err := f.client.Get(ctx, t.URL())
	if err != nil {
		return 0, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create destination dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create part file: %w", err)
	}
	defer file.Close()

	var written int64
	buf := make([]byte, f.opts.BufferSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write part file: %w", err)
			}
			written += int64(n)
			t.AddStreamed(int64(n))
			f.tracker.Record(t.ID(), int64(n), time.Now())

			if t.Status() == task.StatusCancelled {
				return written, errTaskCancelled
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, fmt.Errorf("read body: %w", rerr)
		}
	}

	if total := t.TotalBytes(); total > 0 && written != total {
		return written, fmt.Errorf("%w: got %d of %d bytes", io.ErrUnexpectedEOF, written, total)
	}
	if err := file.Sync(); err != nil {
		return written, fmt.Errorf("sync part file: %w", err)
	}
	return written, nil
}
