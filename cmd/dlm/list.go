package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/ligustah/dlm/internal/progress"
	"github.com/ligustah/dlm/internal/storage"
	"github.com/ligustah/dlm/internal/task"
)

// runList prints the persisted downloads. It reads metadata only and does
// not touch temp files, so it is safe next to a running download.
func runList(args []string) int {
	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	active := fs.BoolP("active", "a", false, "Only show unfinished downloads")
	common := addCommonFlags(fs)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: dlm list [options]

Show known downloads with their progress.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}

	cfg, logger, code := common.setup()
	if code != ExitSuccess {
		return code
	}

	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.MetadataURL, cfg.TempDir, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening metadata store: %v\n", err)
		return ExitStorageError
	}
	defer store.Close()

	tasks, err := store.LoadAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading tasks: %v\n", err)
		return ExitStorageError
	}

	var snaps []task.Snapshot
	for _, t := range tasks {
		if *active && t.Status().IsTerminal() {
			continue
		}
		snaps = append(snaps, t.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.Before(snaps[j].CreatedAt) })

	printTasks(os.Stdout, snaps)
	return ExitSuccess
}

func printTasks(w io.Writer, snaps []task.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tSIZE\tSPEED\tETA\tDESTINATION")
	for _, s := range snaps {
		size := "?"
		pct := "-"
		if s.TotalBytes > 0 {
			size = progress.FormatBytes(s.TotalBytes)
			pct = fmt.Sprintf("%.1f%%", s.Progress())
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(s.ID), s.Status, pct, size,
			progress.FormatSpeed(s.Speed), progress.FormatETA(s.ETA), s.Destination)
		if s.Status == task.StatusFailed && s.Error != "" {
			fmt.Fprintf(tw, "\t  %s\t\t\t\t\t\n", s.Error)
		}
	}
	tw.Flush()
}
