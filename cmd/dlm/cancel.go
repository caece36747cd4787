package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/ligustah/dlm/internal/manager"
	"github.com/ligustah/dlm/internal/task"
)

// runCancel stops a download and deletes its temp files and metadata.
func runCancel(args []string) int {
	fs := pflag.NewFlagSet("cancel", pflag.ContinueOnError)
	common := addCommonFlags(fs)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: dlm cancel [options] <id>

Stop a download and delete its partial data.

Options:`)
		fs.PrintDefaults()
	}

	return withTask(fs, common, args, func(ctx context.Context, m *manager.Manager, id string) int {
		if err := m.Cancel(ctx, id); err != nil {
			return lookupError(id, err)
		}
		s, _ := m.Get(id)
		if s.Status != task.StatusCancelled {
			fmt.Fprintf(os.Stderr, "[dlm] Download %s is %s and cannot be cancelled\n", id, s.Status)
			return ExitGeneralError
		}
		fmt.Fprintf(os.Stderr, "[dlm] Cancelled: %s\n", id)
		return ExitSuccess
	})
}

// runRemove forgets a finished download. Downloaded files are kept.
func runRemove(args []string) int {
	fs := pflag.NewFlagSet("remove", pflag.ContinueOnError)
	common := addCommonFlags(fs)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: dlm remove [options] <id>

Forget a completed or failed download. The downloaded file is kept.
Paused downloads must be cancelled instead.

Options:`)
		fs.PrintDefaults()
	}

	return withTask(fs, common, args, func(ctx context.Context, m *manager.Manager, id string) int {
		if err := m.Remove(ctx, id); err != nil {
			if errors.Is(err, manager.ErrInvalidState) {
				fmt.Fprintf(os.Stderr, "Error: %v (use 'dlm cancel %s')\n", err, id)
				return ExitGeneralError
			}
			return lookupError(id, err)
		}
		fmt.Fprintf(os.Stderr, "[dlm] Removed: %s\n", id)
		return ExitSuccess
	})
}

// withTask parses a single id argument, starts a manager and runs fn.
func withTask(fs *pflag.FlagSet, common *commonFlags, args []string, fn func(context.Context, *manager.Manager, string) int) int {
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
	return fn(ctx, m, id)
}
