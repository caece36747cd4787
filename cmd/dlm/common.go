package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/pflag"

	"github.com/ligustah/dlm/internal/config"
	"github.com/ligustah/dlm/internal/manager"
	"github.com/ligustah/dlm/internal/progress"
	"github.com/ligustah/dlm/internal/task"
)

// commonFlags are accepted by every command.
type commonFlags struct {
	configPath  string
	tempDir     string
	metadataURL string
	concurrency int
	segments    int
	logLevel    string
	noProgress  bool
}

func addCommonFlags(fs *pflag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVarP(&c.configPath, "config", "c", "", "Path to a YAML config file")
	fs.StringVar(&c.tempDir, "temp-dir", "", "Directory for segment temp files")
	fs.StringVar(&c.metadataURL, "metadata-url", "", "Bucket URL for task metadata (file://, s3://, gs://, mem://)")
	fs.IntVarP(&c.concurrency, "concurrency", "j", 0, "Maximum concurrent downloads")
	fs.IntVarP(&c.segments, "segments", "s", 0, "Segments per download")
	fs.StringVar(&c.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	fs.BoolVar(&c.noProgress, "no-progress", false, "Do not draw a progress bar")
	return c
}

// load layers defaults, the config file, DLM_ environment variables and
// flags, in that order.
func (c *commonFlags) load() (config.Config, error) {
	cfg := config.Default()
	if c.configPath != "" {
		fileCfg, err := config.LoadFromFile(c.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = fileCfg
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	cfg = cfg.Merge(config.Config{
		MaxConcurrentDownloads: c.concurrency,
		SegmentCount:           c.segments,
		TempDir:                c.tempDir,
		MetadataURL:            c.metadataURL,
	})
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (c *commonFlags) logger() (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(c.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid --log-level: %s", c.logLevel)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// setup loads configuration and a logger, printing errors the way every
// command reports them.
func (c *commonFlags) setup() (config.Config, *slog.Logger, int) {
	logger, err := c.logger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return config.Config{}, nil, ExitInvalidArgs
	}
	cfg, err := c.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return config.Config{}, nil, ExitInvalidArgs
	}
	return cfg, logger, ExitSuccess
}

// startManager opens and starts a manager for cfg.
func startManager(ctx context.Context, cfg config.Config, logger *slog.Logger) (*manager.Manager, int) {
	m, err := manager.Open(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening metadata store: %v\n", err)
		return nil, ExitStorageError
	}
	if err := m.Start(ctx); err != nil {
		m.Close()
		fmt.Fprintf(os.Stderr, "Error loading tasks: %v\n", err)
		return nil, ExitStorageError
	}
	return m, ExitSuccess
}

// pauseOnInterrupt pauses id on SIGINT or SIGTERM. The returned func stops
// listening.
func pauseOnInterrupt(m *manager.Manager, id string) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[dlm] Received interrupt, pausing...")
			if err := m.Pause(context.Background(), id); err != nil {
				fmt.Fprintf(os.Stderr, "Error pausing: %v\n", err)
			}
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// follow waits for id to stop and draws a byte progress bar from its
// events meanwhile.
func follow(ctx context.Context, m *manager.Manager, id string, showProgress bool) (task.Snapshot, error) {
	if !showProgress {
		return m.Wait(ctx, id)
	}

	events, unsubscribe, err := m.Subscribe(id)
	if err != nil {
		return task.Snapshot{}, err
	}
	defer unsubscribe()

	type result struct {
		s   task.Snapshot
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		s, err := m.Wait(ctx, id)
		resCh <- result{s, err}
	}()

	var bar *progressbar.ProgressBar
	update := func(status task.Status, total, downloaded int64) {
		if status == task.StatusPending || status == task.StatusInitializing {
			return
		}
		if bar == nil {
			if total <= 0 {
				total = -1
			}
			bar = progressbar.DefaultBytes(total, shortID(id))
		}
		_ = bar.Set64(downloaded)
	}

	for {
		select {
		case res := <-resCh:
			update(res.s.Status, res.s.TotalBytes, res.s.DownloadedBytes)
			if bar != nil {
				if res.s.Status == task.StatusCompleted {
					_ = bar.Finish()
				}
				fmt.Fprintln(os.Stderr)
			}
			return res.s, res.err
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			update(e.Status, e.TotalBytes, e.DownloadedBytes)
		}
	}
}

// report prints the outcome of a followed task and maps it to an exit code.
func report(s task.Snapshot) int {
	switch s.Status {
	case task.StatusCompleted:
		fmt.Fprintf(os.Stderr, "[dlm] Download complete: %s (%s)\n", s.Destination, progress.FormatBytes(s.TotalBytes))
		return ExitSuccess
	case task.StatusPaused:
		fmt.Fprintf(os.Stderr, "[dlm] Download paused at %s, resume with: dlm resume %s\n",
			progress.FormatBytes(s.DownloadedBytes), s.ID)
		return ExitInterrupted
	case task.StatusCancelled:
		fmt.Fprintf(os.Stderr, "[dlm] Download cancelled: %s\n", s.ID)
		return ExitInterrupted
	default:
		fmt.Fprintf(os.Stderr, "Error: download failed: %s\n", s.Error)
		switch s.Failure {
		case task.FailureSource:
			return ExitSourceNotAccess
		case task.FailureStorage:
			return ExitStorageError
		default:
			return ExitDownloadFailed
		}
	}
}

// lookupError prints err from a manager call on id and returns its exit code.
func lookupError(id string, err error) int {
	if errors.Is(err, manager.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Error: no download with id %s\n", id)
		return ExitNotFound
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return ExitGeneralError
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveID expands a unique id prefix, as printed by list, to a full id.
func resolveID(m *manager.Manager, arg string) (string, error) {
	if _, ok := m.Get(arg); ok {
		return arg, nil
	}
	var match string
	for _, s := range m.List() {
		if strings.HasPrefix(s.ID, arg) {
			if match != "" {
				return "", fmt.Errorf("id prefix %s is ambiguous", arg)
			}
			match = s.ID
		}
	}
	if match == "" {
		return "", manager.ErrNotFound
	}
	return match, nil
}
