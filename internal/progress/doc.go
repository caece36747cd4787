// Package progress computes transfer speed and ETA for downloads.
//
// Fetchers record (bytes, time) samples as data lands on disk. The Tracker
// keeps a sliding window of samples per task and, on a fixed tick, publishes
// the current speed and estimated time remaining into the task.
//
// # Usage
//
//	tracker := progress.NewTracker(progress.Options{
//	    Window:   5 * time.Second,
//	    Interval: 500 * time.Millisecond,
//	})
//
//	go tracker.Track(ctx, t)
//	defer tracker.Forget(t.ID())
//
//	// In the fetch loop
//	tracker.Record(t.ID(), int64(n), time.Now())
//
// Speed is the sum of bytes in the window divided by the time span the
// samples cover. With fewer than two samples the speed is 0 and the ETA is
// UnknownETA, which callers must tell apart from a zero duration.
package progress
