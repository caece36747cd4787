// Package downloader runs individual download tasks.
//
// The Engine drives one task through its lifecycle:
//
//	pending -> initializing -> downloading -> [merging] -> completed
//
// with failed, paused and cancelled as alternate exits. While initializing
// it probes the source with HEAD; a range-capable source larger than
// MinSegmentSize is split into SegmentCount segments, anything else is
// streamed in one request. The choice is stored on the task and kept across
// resumes.
//
// # Segments
//
// Each unfinished segment is fetched by the Fetcher in its own goroutine,
// under an errgroup. A segment retries transient errors MaxRetries times
// with a fixed RetryDelay, resuming from the bytes already in its temp
// file. The first segment to give up cancels the others and fails the
// task with that segment's last error.
//
// # Pause and cancel
//
// Cancelling the context passed to Execute pauses the task; every segment
// keeps the bytes it has flushed. Setting the task to cancelled stops the
// transfer at the next chunk. Merging runs on a detached context and always
// finishes.
//
// # Usage
//
//	engine := downloader.NewEngine(store, tracker, downloader.Options{
//	    SegmentCount: 8,
//	    MaxRetries:   3,
//	    RetryDelay:   5 * time.Second,
//	})
//	err := engine.Execute(ctx, t)
package downloader
