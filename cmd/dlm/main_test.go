package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ligustah/dlm/internal/storage"
	"github.com/ligustah/dlm/internal/task"
	"github.com/ligustah/dlm/internal/testutils"
)

func TestRunUsage(t *testing.T) {
	if code := run(nil); code != ExitInvalidArgs {
		t.Errorf("no args: expected %d, got %d", ExitInvalidArgs, code)
	}
	if code := run([]string{"bogus"}); code != ExitInvalidArgs {
		t.Errorf("unknown command: expected %d, got %d", ExitInvalidArgs, code)
	}
	if code := run([]string{"help"}); code != ExitSuccess {
		t.Errorf("help: expected %d, got %d", ExitSuccess, code)
	}
	if code := run([]string{"get", "--help"}); code != ExitSuccess {
		t.Errorf("get --help: expected %d, got %d", ExitSuccess, code)
	}
	if code := run([]string{"get"}); code != ExitInvalidArgs {
		t.Errorf("get without url: expected %d, got %d", ExitInvalidArgs, code)
	}
}

func TestBasenameFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/files/ubuntu.iso", "ubuntu.iso"},
		{"https://example.com/files/archive.tar.gz?token=abc", "archive.tar.gz"},
		{"https://example.com/", "download"},
		{"https://example.com", "download"},
	}

	for _, tt := range tests {
		if got := basenameFromURL(tt.url); got != tt.want {
			t.Errorf("basenameFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

// cliEnv points every command at a private metadata bucket and temp dir.
type cliEnv struct {
	dir         string
	metadataURL string
}

func newCLIEnv(t *testing.T) *cliEnv {
	dir := t.TempDir()
	return &cliEnv{
		dir:         dir,
		metadataURL: "file://" + filepath.ToSlash(filepath.Join(dir, "metadata")),
	}
}

func (e *cliEnv) args(extra ...string) []string {
	return append([]string{
		"--metadata-url", e.metadataURL,
		"--temp-dir", filepath.Join(e.dir, "temp"),
		"--no-progress",
		"--log-level", "error",
	}, extra...)
}

func (e *cliEnv) tasks(t *testing.T) []*task.Task {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, e.metadataURL, filepath.Join(e.dir, "temp"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	tasks, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	return tasks
}

func TestCLIGetListRemove(t *testing.T) {
	data := testutils.GenerateTestData(t, 2*1024*1024)
	server := testutils.StartServer(t, []testutils.TestFile{{Name: "file.bin", Data: data}}, testutils.ServerOptions{})
	env := newCLIEnv(t)
	output := filepath.Join(env.dir, "out", "file.bin")

	if code := runGet(env.args("-o", output, "--segments", "4", server.FileURL("file.bin"))); code != ExitSuccess {
		t.Fatalf("get failed with exit code %d", code)
	}
	testutils.CompareFile(t, output, data)

	tasks := env.tasks(t)
	if len(tasks) != 1 {
		t.Fatalf("expected 1 persisted task, got %d", len(tasks))
	}
	if tasks[0].Status() != task.StatusCompleted {
		t.Errorf("expected completed, got %s", tasks[0].Status())
	}
	id := tasks[0].ID()

	if code := runList(env.args()); code != ExitSuccess {
		t.Errorf("list failed with exit code %d", code)
	}

	if code := runResume(env.args(id)); code != ExitSuccess {
		t.Errorf("resume of completed task: expected %d, got %d", ExitSuccess, code)
	}

	if code := runRemove(env.args(shortID(id))); code != ExitSuccess {
		t.Fatalf("remove failed with exit code %d", code)
	}
	if n := len(env.tasks(t)); n != 0 {
		t.Errorf("expected no persisted tasks after remove, got %d", n)
	}
	testutils.CompareFile(t, output, data)
}

func TestCLIGetDefaultsToURLName(t *testing.T) {
	data := testutils.GenerateTestData(t, 1000)
	server := testutils.StartServer(t, []testutils.TestFile{{Name: "small.bin", Data: data}}, testutils.ServerOptions{})
	env := newCLIEnv(t)

	if code := runGet(env.args("--dir", env.dir, server.FileURL("small.bin"))); code != ExitSuccess {
		t.Fatalf("get failed with exit code %d", code)
	}
	testutils.CompareFile(t, filepath.Join(env.dir, "small.bin"), data)
}

func TestCLIErrors(t *testing.T) {
	server := testutils.StartServer(t, nil, testutils.ServerOptions{})
	env := newCLIEnv(t)

	if code := runGet(env.args("ftp://example.com/file")); code != ExitInvalidArgs {
		t.Errorf("ftp url: expected %d, got %d", ExitInvalidArgs, code)
	}
	if code := runGet(env.args("-o", filepath.Join(env.dir, "missing"), server.FileURL("missing.bin"))); code != ExitSourceNotAccess {
		t.Errorf("missing source: expected %d, got %d", ExitSourceNotAccess, code)
	}
	if code := runResume(env.args("no-such-id")); code != ExitNotFound {
		t.Errorf("resume unknown: expected %d, got %d", ExitNotFound, code)
	}
	if code := runCancel(env.args("no-such-id")); code != ExitNotFound {
		t.Errorf("cancel unknown: expected %d, got %d", ExitNotFound, code)
	}
	if code := runList(env.args("--log-level", "loud")); code != ExitInvalidArgs {
		t.Errorf("bad log level: expected %d, got %d", ExitInvalidArgs, code)
	}
}

func TestCLICancelPaused(t *testing.T) {
	env := newCLIEnv(t)
	ctx := context.Background()

	store, err := storage.Open(ctx, env.metadataURL, filepath.Join(env.dir, "temp"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	tk := task.New("https://example.com/file.bin", filepath.Join(env.dir, "file.bin"))
	if err := tk.Transition(task.StatusPaused, ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := store.Save(ctx, tk); err != nil {
		t.Fatalf("Save: %v", err)
	}
	store.Close()

	if code := runRemove(env.args(tk.ID())); code != ExitGeneralError {
		t.Errorf("remove paused: expected %d, got %d", ExitGeneralError, code)
	}
	if code := runCancel(env.args(tk.ID())); code != ExitSuccess {
		t.Fatalf("cancel failed with exit code %d", code)
	}
	if n := len(env.tasks(t)); n != 0 {
		t.Errorf("expected metadata deleted after cancel, got %d tasks", n)
	}
}

func TestPrintTasks(t *testing.T) {
	snaps := []task.Snapshot{
		{
			ID:              "0123456789abcdef",
			Status:          task.StatusPaused,
			TotalBytes:      2048,
			DownloadedBytes: 1024,
			ETA:             task.UnknownETA,
			Destination:     "/tmp/a.bin",
			CreatedAt:       time.Now(),
		},
		{
			ID:          "fedcba9876543210",
			Status:      task.StatusFailed,
			Error:       "http: server error",
			ETA:         task.UnknownETA,
			Destination: "/tmp/b.bin",
		},
	}

	var buf bytes.Buffer
	printTasks(&buf, snaps)
	out := buf.String()

	for _, want := range []string{"01234567", "paused", "50.0%", "2.0 KiB", "fedcba98", "failed", "http: server error"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestReportExitCodes(t *testing.T) {
	tests := []struct {
		name string
		snap task.Snapshot
		want int
	}{
		{"completed", task.Snapshot{Status: task.StatusCompleted}, ExitSuccess},
		{"paused", task.Snapshot{Status: task.StatusPaused}, ExitInterrupted},
		{"cancelled", task.Snapshot{Status: task.StatusCancelled}, ExitInterrupted},
		{"source", task.Snapshot{Status: task.StatusFailed, Failure: task.FailureSource, Error: "probe: http: server error: 503"}, ExitSourceNotAccess},
		{"storage", task.Snapshot{Status: task.StatusFailed, Failure: task.FailureStorage, Error: "merge: no space left"}, ExitStorageError},
		{"transfer", task.Snapshot{Status: task.StatusFailed, Failure: task.FailureTransfer, Error: "segment 2: not found in cache"}, ExitDownloadFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := report(tt.snap); got != tt.want {
				t.Errorf("report(%s) = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}
