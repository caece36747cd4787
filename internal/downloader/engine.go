package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	dlmhttp "github.com/ligustah/dlm/internal/http"
	"github.com/ligustah/dlm/internal/progress"
	"github.com/ligustah/dlm/internal/storage"
	"github.com/ligustah/dlm/internal/task"
)

// Options configures the download engine.
type Options struct {
	// SegmentCount is the number of segments a ranged download is split into.
	// Default: 8
	SegmentCount int

	// MinSegmentSize is the size a file must exceed to be segmented.
	// Default: 1MiB
	MinSegmentSize int64

	// BufferSize is the read buffer used per transfer.
	// Default: 8KiB
	BufferSize int

	// MaxRetries is the number of attempts per segment before it fails.
	// Default: 3
	MaxRetries int

	// RetryDelay is the fixed wait between attempts.
	// Default: 5s
	RetryDelay time.Duration

	// HTTPOptions configures the HTTP client.
	HTTPOptions dlmhttp.Options

	// Logger receives engine and fetcher logs. Default: slog.Default()
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.SegmentCount <= 0 {
		o.SegmentCount = 8
	}
	if o.MinSegmentSize <= 0 {
		o.MinSegmentSize = 1024 * 1024
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 8 * 1024
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	} else if o.RetryDelay == 0 {
		o.RetryDelay = 5 * time.Second
	}
	if o.HTTPOptions.MaxIdleConnsPerHost == 0 {
		o.HTTPOptions = dlmhttp.DefaultOptions()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Engine runs a single task from probe to completed file.
type Engine struct {
	client  *dlmhttp.Client
	fetcher *Fetcher
	store   *storage.Store
	tracker *progress.Tracker
	opts    Options
	logger  *slog.Logger
}

// NewEngine creates an engine writing segments and metadata through store.
func NewEngine(store *storage.Store, tracker *progress.Tracker, opts Options) *Engine {
	opts = opts.withDefaults()
	client := dlmhttp.NewClient(opts.HTTPOptions)
	return &Engine{
		client:  client,
		fetcher: NewFetcher(client, tracker, opts),
		store:   store,
		tracker: tracker,
		opts:    opts,
		logger:  opts.Logger,
	}
}

// Execute runs t until it completes, fails, is paused through ctx, or is
// cancelled. It returns an error only when the task ends up Failed.
//
// Cancelling ctx pauses the task, keeping all bytes on disk. The merge step
// is not interruptible.
func (e *Engine) Execute(ctx context.Context, t *task.Task) error {
	if err := t.Transition(task.StatusInitializing, ""); err != nil {
		// Paused or cancelled before it got a slot.
		return nil
	}
	e.save(ctx, t)
	defer e.tracker.Forget(t.ID())

	e.logger.Info("download started", "task", t.ID(), "url", t.URL())
	err := e.run(ctx, t)
	return e.finish(ctx, t, err)
}

func (e *Engine) run(ctx context.Context, t *task.Task) error {
	info, err := e.client.Head(ctx, t.URL())
	if err != nil {
		return fmt.Errorf("%w: %w", errProbe, err)
	}

	if t.Mode() != task.ModeUnknown && sourceChanged(t, info) {
		e.logger.Warn("source changed since last attempt, restarting",
			"task", t.ID(), "stored_size", t.TotalBytes(), "size", info.Size)
		t.Reset()
		e.store.Cleanup(t.ID())
	}

	if t.Mode() == task.ModeUnknown {
		t.SetSource(info.Size, info.ETag)
		mode := task.ModeSingle
		if info.AcceptsRanges && info.Size > e.opts.MinSegmentSize {
			mode = task.ModeSegmented
		}
		t.SetMode(mode)
	}

	if err := t.Transition(task.StatusDownloading, ""); err != nil {
		return errTaskCancelled
	}
	e.save(ctx, t)

	if t.Mode() == task.ModeSegmented {
		return e.downloadSegmented(ctx, t)
	}
	return e.downloadSingle(ctx, t)
}

func sourceChanged(t *task.Task, info *dlmhttp.FileInfo) bool {
	if t.TotalBytes() != info.Size {
		return true
	}
	etag := t.ETag()
	return etag != "" && info.ETag != "" && etag != info.ETag
}

// downloadSegmented fans out one fetch per unfinished segment, then merges.
// The first segment to fail cancels its siblings, which stop with their
// flushed bytes kept.
func (e *Engine) downloadSegmented(ctx context.Context, t *task.Task) error {
	if len(t.Segments()) == 0 {
		var segs []*task.Segment
		for i, r := range task.Partition(t.TotalBytes(), e.opts.SegmentCount) {
			segs = append(segs, task.NewSegment(i, r, e.store.SegmentPath(t.ID(), i)))
		}
		t.SetSegments(segs)
		e.save(ctx, t)
	}
	if err := os.MkdirAll(e.store.TempDir(t.ID()), 0o755); err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}

	stop := e.track(ctx, t)
	g, gctx := errgroup.WithContext(ctx)
	for _, seg := range t.Segments() {
		if seg.Status() == task.SegmentCompleted && seg.Remaining() == 0 {
			continue
		}
		seg := seg
		g.Go(func() error {
			return e.fetcher.Fetch(gctx, t, seg)
		})
	}
	err := g.Wait()
	stop()
	if err != nil {
		return err
	}

	if err := t.Transition(task.StatusMerging, ""); err != nil {
		return errTaskCancelled
	}
	e.save(ctx, t)

	if err := e.store.Merge(context.WithoutCancel(ctx), t); err != nil {
		return fmt.Errorf("%w: %w", errMerge, err)
	}
	e.store.Cleanup(t.ID())
	return nil
}

// downloadSingle streams the body into a .part file and renames it into place.
func (e *Engine) downloadSingle(ctx context.Context, t *task.Task) error {
	part := storage.PartPath(t.Destination())

	stop := e.track(ctx, t)
	n, err := e.fetcher.Stream(ctx, t, part)
	stop()
	if err != nil {
		return err
	}

	if t.TotalBytes() == 0 {
		t.SetSource(n, t.ETag())
	}
	if err := os.Rename(part, t.Destination()); err != nil {
		return fmt.Errorf("rename part file: %w", err)
	}
	return nil
}

// track runs the progress tracker for t until the returned func is called.
func (e *Engine) track(ctx context.Context, t *task.Task) func() {
	trackCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.tracker.Track(trackCtx, t)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

// finish maps the outcome of run onto the final task status.
func (e *Engine) finish(ctx context.Context, t *task.Task, err error) error {
	switch {
	case t.Status() == task.StatusCancelled:
		e.logger.Info("download cancelled", "task", t.ID())
		return nil

	case err == nil:
		if terr := t.Transition(task.StatusCompleted, ""); terr != nil {
			return nil
		}
		e.save(ctx, t)
		e.logger.Info("download completed", "task", t.ID(), "bytes", t.TotalBytes())
		return nil

	case ctx.Err() != nil && t.Status() != task.StatusMerging:
		if terr := t.Transition(task.StatusPaused, ""); terr == nil {
			e.save(ctx, t)
			e.logger.Info("download paused", "task", t.ID(), "downloaded", t.DownloadedBytes())
		}
		return nil
	}

	msg := err.Error()
	var segErr *SegmentError
	if errors.As(err, &segErr) {
		msg = segErr.Err.Error()
	}
	kind := failureKind(err)
	if terr := t.Fail(kind, msg); terr != nil {
		return nil
	}
	e.save(ctx, t)
	e.logger.Error("download failed", "task", t.ID(), "kind", kind, "err", err)
	return err
}

// save persists t unless it was cancelled. Failures are logged only.
func (e *Engine) save(ctx context.Context, t *task.Task) {
	if t.Status() == task.StatusCancelled {
		return
	}
	if err := e.store.Save(context.WithoutCancel(ctx), t); err != nil {
		e.logger.Warn("failed to persist task", "task", t.ID(), "err", err)
	}
}
