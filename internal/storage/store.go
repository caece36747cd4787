package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// metadata buckets
	_ "gocloud.dev/blob/gcsblob"  // gs:// metadata buckets
	_ "gocloud.dev/blob/memblob"  // mem:// metadata buckets
	_ "gocloud.dev/blob/s3blob"   // s3:// metadata buckets
	"gocloud.dev/gcerrors"

	"github.com/ligustah/dlm/internal/task"
)

// Errors returned by the store.
var (
	ErrNotFound       = errors.New("storage: task metadata not found")
	ErrSegmentMissing = errors.New("storage: segment file missing")
)

const recordSuffix = ".json"

// Store persists task metadata in a blob bucket and owns the on-disk
// layout of segment temp files.
type Store struct {
	bucket  *blob.Bucket
	tempDir string
	logger  *slog.Logger
}

// Open opens the metadata bucket at bucketURL. Local file:// buckets are
// created if missing.
func Open(ctx context.Context, bucketURL, tempDir string, logger *slog.Logger) (*Store, error) {
	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("parse metadata url: %w", err)
	}
	if u.Scheme == "file" {
		if err := os.MkdirAll(filepath.FromSlash(u.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create metadata dir: %w", err)
		}
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open metadata bucket: %w", err)
	}
	return New(bucket, tempDir, logger), nil
}

// New wraps an already opened bucket. The store takes ownership of it.
func New(bucket *blob.Bucket, tempDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		bucket:  bucket,
		tempDir: tempDir,
		logger:  logger,
	}
}

// Close releases the bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}

func recordKey(id string) string {
	return id + recordSuffix
}

// Save writes the metadata record for t.
func (s *Store) Save(ctx context.Context, t *task.Task) error {
	snap := t.Snapshot()
	data, err := json.MarshalIndent(newRecord(snap), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", snap.ID, err)
	}
	opts := &blob.WriterOptions{ContentType: "application/json"}
	if err := s.bucket.WriteAll(ctx, recordKey(snap.ID), data, opts); err != nil {
		return fmt.Errorf("write task %s: %w", snap.ID, err)
	}
	return nil
}

// Load reads one task record.
func (s *Store) Load(ctx context.Context, id string) (*task.Task, error) {
	data, err := s.bucket.ReadAll(ctx, recordKey(id))
	if err != nil {
		if isNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read task %s: %w", id, err)
	}
	return decode(data)
}

func decode(data []byte) (*task.Task, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse task record: %w", err)
	}
	if r.ID == "" {
		return nil, errors.New("parse task record: missing id")
	}
	return task.Restore(r.snapshot()), nil
}

// LoadAll reads every task record in the bucket. Unreadable records are
// logged and skipped.
func (s *Store) LoadAll(ctx context.Context) ([]*task.Task, error) {
	var tasks []*task.Task
	iter := s.bucket.List(nil)
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return tasks, fmt.Errorf("list metadata: %w", err)
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, recordSuffix) {
			continue
		}

		data, err := s.bucket.ReadAll(ctx, obj.Key)
		if err != nil {
			s.logger.Warn("skipping unreadable task record", "key", obj.Key, "err", err)
			continue
		}
		t, err := decode(data)
		if err != nil {
			s.logger.Warn("skipping corrupt task record", "key", obj.Key, "err", err)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Delete removes the metadata record for id. A missing record is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.bucket.Delete(ctx, recordKey(id)); err != nil && !isNotExist(err) {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// TempDir returns the directory holding the segment files of a task.
func (s *Store) TempDir(id string) string {
	return filepath.Join(s.tempDir, id)
}

// SegmentPath returns the temp file path of segment index.
func (s *Store) SegmentPath(id string, index int) string {
	return filepath.Join(s.TempDir(id), fmt.Sprintf("segment_%d.tmp", index))
}

// PartPath returns the file a single-stream download is written to before
// it is renamed onto the destination.
func PartPath(destination string) string {
	return destination + ".part"
}

// Reconcile aligns segment counters with the temp files on disk. The file
// length wins over the recorded counter; files longer than their segment are
// truncated. Single-stream progress is discarded since those transfers
// restart from the beginning.
func (s *Store) Reconcile(t *task.Task) error {
	segs := t.Segments()
	if len(segs) == 0 {
		t.ResetStreamed()
		return nil
	}

	for _, seg := range segs {
		path := seg.TempPath
		if path == "" {
			path = s.SegmentPath(t.ID(), seg.Index)
			seg.TempPath = path
		}

		info, err := os.Stat(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			seg.SetDownloaded(0)
			seg.SetStatus(task.SegmentPending)
			continue
		case err != nil:
			return fmt.Errorf("stat segment %d: %w", seg.Index, err)
		}

		size := info.Size()
		if size > seg.Size() {
			if err := os.Truncate(path, seg.Size()); err != nil {
				return fmt.Errorf("truncate segment %d: %w", seg.Index, err)
			}
			size = seg.Size()
		}
		seg.SetDownloaded(size)

		if seg.Status() == task.SegmentCompleted && size == seg.Size() {
			continue
		}
		seg.SetStatus(task.SegmentPending)
	}
	return nil
}

// Merge concatenates the segment files of t in index order into its
// destination. The output is written to a sibling temp file and renamed so
// a partial merge never appears at the destination path.
func (s *Store) Merge(ctx context.Context, t *task.Task) (err error) {
	dest := t.Destination()
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}

	out, err := os.CreateTemp(dir, filepath.Base(dest)+".*.merging")
	if err != nil {
		return fmt.Errorf("create merge file: %w", err)
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(out.Name())
		}
	}()

	for _, seg := range t.Segments() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := appendSegment(out, seg); err != nil {
			return err
		}
	}

	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync merge file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close merge file: %w", err)
	}
	if err := os.Rename(out.Name(), dest); err != nil {
		return fmt.Errorf("rename merge file: %w", err)
	}
	return nil
}

func appendSegment(out io.Writer, seg *task.Segment) error {
	f, err := os.Open(seg.TempPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: segment %d at %s", ErrSegmentMissing, seg.Index, seg.TempPath)
		}
		return fmt.Errorf("open segment %d: %w", seg.Index, err)
	}
	defer f.Close()

	n, err := io.Copy(out, f)
	if err != nil {
		return fmt.Errorf("copy segment %d: %w", seg.Index, err)
	}
	if n != seg.Size() {
		return fmt.Errorf("segment %d: %d bytes on disk, expected %d", seg.Index, n, seg.Size())
	}
	return nil
}

// Cleanup removes the temp directory of a task. Failures are logged only.
func (s *Store) Cleanup(id string) {
	if err := os.RemoveAll(s.TempDir(id)); err != nil {
		s.logger.Warn("failed to remove temp files", "task", id, "err", err)
	}
}

// isNotExist returns true if the error indicates the object doesn't exist.
func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
