//go:build integration

package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/ligustah/dlm/internal/storage"
	"github.com/ligustah/dlm/internal/task"
	"github.com/ligustah/dlm/internal/testutils"
)

func TestIntegrationMetadataInMinio(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	env := testutils.StartMinio(t, ctx, "dlm-metadata")

	store, err := storage.Open(ctx, env.MetadataURL("tasks/"), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	var ids []string
	for _, name := range []string{"a.bin", "b.bin", "c.bin"} {
		tk := task.New("https://example.com/"+name, "/tmp/"+name)
		tk.SetSource(3000, "etag-"+name)
		tk.SetMode(task.ModeSegmented)
		var segs []*task.Segment
		for i, r := range task.Partition(3000, 3) {
			segs = append(segs, task.NewSegment(i, r, store.SegmentPath(tk.ID(), i)))
		}
		tk.SetSegments(segs)
		if err := store.Save(ctx, tk); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
		ids = append(ids, tk.ID())
	}

	tasks, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(tasks) != len(ids) {
		t.Fatalf("expected %d tasks, got %d", len(ids), len(tasks))
	}
	for _, tk := range tasks {
		if len(tk.Segments()) != 3 {
			t.Errorf("task %s: expected 3 segments, got %d", tk.ID(), len(tk.Segments()))
		}
	}

	if err := store.Delete(ctx, ids[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load(ctx, ids[0]); err == nil {
		t.Error("expected error loading deleted task")
	}
}
