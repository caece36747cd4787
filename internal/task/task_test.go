package task

import (
	"errors"
	"sync"
	"testing"
)

func TestPartitionExactSplit(t *testing.T) {
	const total = 10 * 1000 * 1000
	ranges := Partition(total, 4)
	if len(ranges) != 4 {
		t.Fatalf("expected 4 ranges, got %d", len(ranges))
	}
	for i, r := range ranges {
		if r.Size() != 2500000 {
			t.Errorf("range %d: expected size 2500000, got %d", i, r.Size())
		}
	}
}

func TestPartitionRemainder(t *testing.T) {
	ranges := Partition(10000001, 4)
	want := []int64{2500000, 2500000, 2500000, 2500001}
	for i, r := range ranges {
		if r.Size() != want[i] {
			t.Errorf("range %d: expected size %d, got %d", i, want[i], r.Size())
		}
	}
}

func TestPartitionCoversWholeFile(t *testing.T) {
	tests := []struct {
		total int64
		count int
	}{
		{1, 1},
		{3, 8},
		{1024, 8},
		{1024*1024 + 7, 8},
		{999, 7},
		{10, 0},
	}

	for _, tt := range tests {
		ranges := Partition(tt.total, tt.count)
		if len(ranges) == 0 {
			t.Fatalf("Partition(%d, %d) returned no ranges", tt.total, tt.count)
		}
		var next, sum int64
		for i, r := range ranges {
			if r.Start != next {
				t.Errorf("Partition(%d, %d): range %d starts at %d, want %d", tt.total, tt.count, i, r.Start, next)
			}
			if r.End < r.Start {
				t.Errorf("Partition(%d, %d): range %d is empty", tt.total, tt.count, i)
			}
			next = r.End + 1
			sum += r.Size()
		}
		if next != tt.total || sum != tt.total {
			t.Errorf("Partition(%d, %d) covers [0, %d) with %d bytes", tt.total, tt.count, next, sum)
		}
	}
}

func TestPartitionEmpty(t *testing.T) {
	if ranges := Partition(0, 4); ranges != nil {
		t.Errorf("expected nil for empty source, got %v", ranges)
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []Status
		wantErr bool
	}{
		{"segmented happy path", []Status{StatusInitializing, StatusDownloading, StatusMerging, StatusCompleted}, false},
		{"single stream", []Status{StatusInitializing, StatusDownloading, StatusCompleted}, false},
		{"pause and resume", []Status{StatusInitializing, StatusDownloading, StatusPaused, StatusPending, StatusInitializing}, false},
		{"pause while initializing", []Status{StatusInitializing, StatusPaused}, false},
		{"pause while merging", []Status{StatusInitializing, StatusDownloading, StatusMerging, StatusPaused}, true},
		{"cancel while merging", []Status{StatusInitializing, StatusDownloading, StatusMerging, StatusCancelled}, true},
		{"resurrect completed", []Status{StatusInitializing, StatusDownloading, StatusCompleted, StatusPending}, true},
		{"resurrect failed", []Status{StatusInitializing, StatusFailed, StatusPending}, true},
		{"skip initializing", []Status{StatusDownloading}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := New("https://example.com/file.bin", "/tmp/file.bin")
			var err error
			for _, s := range tt.path {
				if err = tk.Transition(s, ""); err != nil {
					break
				}
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("Transition error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestTransitionTimestampsAndError(t *testing.T) {
	tk := New("https://example.com/file.bin", "/tmp/file.bin")
	if tk.Snapshot().ETAKnown() {
		t.Error("expected unknown ETA on a new task")
	}

	tk.Transition(StatusInitializing, "")
	tk.Transition(StatusDownloading, "")
	started := tk.Snapshot().StartedAt
	if started.IsZero() {
		t.Fatal("expected StartedAt to be set")
	}

	tk.Transition(StatusFailed, "boom")
	s := tk.Snapshot()
	if s.Error != "boom" {
		t.Errorf("expected error 'boom', got %q", s.Error)
	}
	if !s.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to stay zero on failure")
	}
}

func TestSuspend(t *testing.T) {
	tk := New("https://example.com/file.bin", "/tmp/file.bin")
	tk.Transition(StatusInitializing, "")
	tk.Transition(StatusDownloading, "")
	tk.Transition(StatusMerging, "")

	seg := NewSegment(0, Range{Start: 0, End: 9}, "/tmp/seg")
	seg.SetStatus(SegmentDownloading)
	tk.SetSegments([]*Segment{seg})

	if !tk.Suspend() {
		t.Fatal("expected Suspend to change status")
	}
	if tk.Status() != StatusPaused {
		t.Errorf("expected paused, got %s", tk.Status())
	}
	if seg.Status() != SegmentPending {
		t.Errorf("expected interrupted segment to be pending, got %s", seg.Status())
	}

	done := New("https://example.com/a", "/tmp/a")
	done.Transition(StatusCancelled, "")
	if done.Suspend() {
		t.Error("expected Suspend to leave terminal task alone")
	}
}

func TestDownloadedBytesSumsSegments(t *testing.T) {
	tk := New("https://example.com/file.bin", "/tmp/file.bin")
	tk.SetSource(100, "")
	var segs []*Segment
	for i, r := range Partition(100, 4) {
		segs = append(segs, NewSegment(i, r, ""))
	}
	tk.SetSegments(segs)

	var wg sync.WaitGroup
	for _, seg := range segs {
		wg.Add(1)
		go func(s *Segment) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				s.Advance(1)
				_ = tk.Snapshot()
			}
		}(seg)
	}
	wg.Wait()

	if got := tk.DownloadedBytes(); got != 40 {
		t.Errorf("expected 40 downloaded, got %d", got)
	}
	if got := tk.Snapshot().Progress(); got != 40 {
		t.Errorf("expected 40%% progress, got %.1f", got)
	}
}

func TestDownloadedBytesNeverExceedsTotal(t *testing.T) {
	tk := New("https://example.com/file.bin", "/tmp/file.bin")
	tk.SetSource(10, "")
	tk.AddStreamed(25)
	if got := tk.DownloadedBytes(); got != 10 {
		t.Errorf("expected downloaded clamped to 10, got %d", got)
	}
}

func TestSegmentClamp(t *testing.T) {
	seg := NewSegment(0, Range{Start: 100, End: 199}, "")
	seg.SetDownloaded(500)
	if seg.Downloaded() != 100 {
		t.Errorf("expected downloaded clamped to 100, got %d", seg.Downloaded())
	}
	if seg.Remaining() != 0 {
		t.Errorf("expected 0 remaining, got %d", seg.Remaining())
	}
	seg.SetDownloaded(-3)
	if seg.Downloaded() != 0 {
		t.Errorf("expected downloaded clamped to 0, got %d", seg.Downloaded())
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	tk := New("https://example.com/file.bin", "/tmp/file.bin")
	tk.SetSource(1000, "etag-1")
	tk.SetMode(ModeSegmented)
	var segs []*Segment
	for i, r := range Partition(1000, 3) {
		segs = append(segs, NewSegment(i, r, "/tmp/seg"))
	}
	segs[1].Advance(42)
	tk.SetSegments(segs)

	orig := tk.Snapshot()
	restored := Restore(orig).Snapshot()

	if restored.ID != orig.ID || restored.URL != orig.URL || restored.Destination != orig.Destination {
		t.Errorf("identity mismatch: %+v vs %+v", restored, orig)
	}
	if len(restored.Segments) != len(orig.Segments) {
		t.Fatalf("expected %d segments, got %d", len(orig.Segments), len(restored.Segments))
	}
	for i := range orig.Segments {
		if restored.Segments[i] != orig.Segments[i] {
			t.Errorf("segment %d: got %+v, want %+v", i, restored.Segments[i], orig.Segments[i])
		}
	}
	if restored.DownloadedBytes != 42 {
		t.Errorf("expected 42 downloaded, got %d", restored.DownloadedBytes)
	}
}

func TestSetModeIsSticky(t *testing.T) {
	tk := New("https://example.com/file.bin", "/tmp/file.bin")
	tk.SetMode(ModeSingle)
	tk.SetMode(ModeSegmented)
	if tk.Mode() != ModeSingle {
		t.Errorf("expected mode to stay single, got %q", tk.Mode())
	}
	tk.Reset()
	if tk.Mode() != ModeUnknown {
		t.Errorf("expected mode cleared by Reset, got %q", tk.Mode())
	}
}

func TestSegmentErrorClearedOnRecovery(t *testing.T) {
	seg := NewSegment(0, Range{Start: 0, End: 9}, "/tmp/seg")

	seg.SetStatus(SegmentDownloading)
	seg.SetError("connection reset")
	seg.SetStatus(SegmentPending)
	if seg.Error() != "connection reset" {
		t.Errorf("expected error kept between attempts, got %q", seg.Error())
	}

	seg.Fail("server error")
	seg.SetStatus(SegmentFailed)
	if seg.Error() != "server error" {
		t.Errorf("expected error kept while failed, got %q", seg.Error())
	}

	seg.SetStatus(SegmentPending)
	if seg.Error() != "" {
		t.Errorf("expected error cleared when leaving failed, got %q", seg.Error())
	}

	seg.SetError("timeout")
	seg.SetStatus(SegmentCompleted)
	if seg.Error() != "" {
		t.Errorf("expected error cleared on completion, got %q", seg.Error())
	}
}

func TestFailRecordsKind(t *testing.T) {
	tk := New("https://example.com/file.bin", "/tmp/file.bin")
	tk.Transition(StatusInitializing, "")
	if err := tk.Fail(FailureSource, "probe: http: resource not found"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	s := tk.Snapshot()
	if s.Status != StatusFailed || s.Failure != FailureSource {
		t.Errorf("expected failed/source, got %s/%q", s.Status, s.Failure)
	}
	if got := Restore(s).Failure(); got != FailureSource {
		t.Errorf("expected kind to survive Restore, got %q", got)
	}
	if err := tk.Fail(FailureTransfer, "again"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition failing twice, got %v", err)
	}

	other := New("https://example.com/a", "/tmp/a")
	other.Transition(StatusPaused, "")
	if other.Failure() != FailureNone {
		t.Errorf("expected no failure kind, got %q", other.Failure())
	}
}

func TestWatchStatusSequence(t *testing.T) {
	tk := New("https://example.com/file.bin", "/tmp/file.bin")
	events, stop := tk.Watch()
	defer stop()

	tk.Transition(StatusInitializing, "")
	tk.SetSource(100, "")
	tk.Transition(StatusDownloading, "")
	tk.SetProgress(50, 0)
	tk.Transition(StatusMerging, "")
	tk.Transition(StatusCompleted, "")

	want := []struct {
		kind     EventKind
		previous Status
		status   Status
	}{
		{EventStatus, StatusPending, StatusPending},
		{EventStatus, StatusPending, StatusInitializing},
		{EventStatus, StatusInitializing, StatusDownloading},
		{EventProgress, StatusDownloading, StatusDownloading},
		{EventStatus, StatusDownloading, StatusMerging},
		{EventStatus, StatusMerging, StatusCompleted},
	}
	for i, w := range want {
		e := <-events
		if e.Kind != w.kind || e.Previous != w.previous || e.Status != w.status {
			t.Errorf("event %d: got %s %s->%s, want %s %s->%s", i, e.Kind, e.Previous, e.Status, w.kind, w.previous, w.status)
		}
		if e.TaskID != tk.ID() {
			t.Errorf("event %d: wrong task id %q", i, e.TaskID)
		}
		if e.Kind == EventProgress && (e.Speed != 50 || e.TotalBytes != 100) {
			t.Errorf("progress event: got speed %v total %d", e.Speed, e.TotalBytes)
		}
	}
}

func TestWatchSlowReaderKeepsStatus(t *testing.T) {
	tk := New("https://example.com/file.bin", "/tmp/file.bin")
	tk.Transition(StatusInitializing, "")
	tk.Transition(StatusDownloading, "")
	events, stop := tk.Watch()
	defer stop()

	for i := 0; i < 3*eventBuffer; i++ {
		tk.SetProgress(float64(i), 0)
	}
	tk.Transition(StatusPaused, "")

	var last Event
	n := 0
	for len(events) > 0 {
		last = <-events
		n++
	}
	if n > eventBuffer {
		t.Errorf("expected at most %d buffered events, got %d", eventBuffer, n)
	}
	if last.Kind != EventStatus || last.Status != StatusPaused {
		t.Errorf("expected final paused status event, got %s %s", last.Kind, last.Status)
	}
}

func TestWatchStop(t *testing.T) {
	tk := New("https://example.com/file.bin", "/tmp/file.bin")
	events, stop := tk.Watch()
	<-events

	stop()
	stop()
	tk.Transition(StatusInitializing, "")

	if _, ok := <-events; ok {
		t.Error("expected channel closed after stop")
	}
}
