// Package manager is the front door of the download manager.
//
// A Manager accepts download requests, keeps every task in a registry and
// feeds queued tasks to the downloader engine through a single dispatch
// goroutine. A weighted semaphore caps how many tasks execute at once;
// queued tasks wait for a free slot in FIFO order.
//
// Pause and Cancel act on the per-task context of a running execution, so
// they take effect at the next chunk boundary. On Start, tasks persisted by
// an earlier process are reloaded; anything that was not finished comes back
// paused with its progress reconciled against the temp files on disk.
//
// Subscribe streams a task's status changes and progress updates as they
// happen; Wait is built on the same stream.
//
// # Usage
//
//	m, err := manager.Open(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	if err := m.Start(ctx); err != nil {
//	    return err
//	}
//	s, err := m.Add(ctx, "https://example.com/big.iso", "/tmp/big.iso")
//	...
//	events, stop, err := m.Subscribe(s.ID)
//	...
//	defer stop()
//	for e := range events {
//	    if e.Kind == task.EventStatus && e.Status.IsTerminal() {
//	        break
//	    }
//	    fmt.Printf("%s %.1f%%\n", e.Status, e.Progress())
//	}
//	final, err := m.Wait(ctx, s.ID)
package manager
