package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/ligustah/dlm/internal/task"
)

// runResume continues a paused download and follows it like get does.
func runResume(args []string) int {
	fs := pflag.NewFlagSet("resume", pflag.ContinueOnError)
	common := addCommonFlags(fs)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: dlm resume [options] <id>

Continue a paused download from the bytes already on disk.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one download id is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, logger, code := common.setup()
	if code != ExitSuccess {
		return code
	}

	ctx := context.Background()
	m, code := startManager(ctx, cfg, logger)
	if code != ExitSuccess {
		return code
	}
	defer m.Close()

	id, err := resolveID(m, fs.Arg(0))
	if err != nil {
		return lookupError(fs.Arg(0), err)
	}

	s, _ := m.Get(id)
	if s.Status != task.StatusPaused {
		fmt.Fprintf(os.Stderr, "[dlm] Download %s is %s, nothing to resume\n", id, s.Status)
		return ExitSuccess
	}
	if err := m.Resume(ctx, id); err != nil {
		return lookupError(id, err)
	}
	fmt.Fprintf(os.Stderr, "[dlm] Resuming %s at %d bytes\n", id, s.DownloadedBytes)

	stop := pauseOnInterrupt(m, id)
	defer stop()

	final, err := follow(ctx, m, id, !common.noProgress)
	if err != nil {
		return lookupError(id, err)
	}
	return report(final)
}
