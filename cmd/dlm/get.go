package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/ligustah/dlm/internal/manager"
)

// runGet adds a download and follows it until it completes, fails or is
// interrupted. An interrupted download is paused and can be resumed later.
func runGet(args []string) int {
	fs := pflag.NewFlagSet("get", pflag.ContinueOnError)

	output := fs.StringP("output", "o", "", "Destination file (default: name from URL)")
	dir := fs.StringP("dir", "d", ".", "Directory for the destination when -o is not given")
	common := addCommonFlags(fs)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: dlm get [options] <url>

Download a URL. Range-capable sources larger than the minimum segment size
are fetched in parallel segments. Press Ctrl-C to pause.

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
		fmt.Fprintln(os.Stderr, "Error: exactly one URL is required")
		fs.Usage()
		return ExitInvalidArgs
	}
	rawURL := fs.Arg(0)

	dest := *output
	if dest == "" {
		dest = filepath.Join(*dir, basenameFromURL(rawURL))
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

	s, err := m.Add(ctx, rawURL, dest)
	if err != nil {
		if errors.Is(err, manager.ErrInvalidURL) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	fmt.Fprintf(os.Stderr, "[dlm] Downloading %s -> %s (id %s)\n", rawURL, dest, s.ID)

	stop := pauseOnInterrupt(m, s.ID)
	defer stop()

	final, err := follow(ctx, m, s.ID, !common.noProgress)
	if err != nil {
		return lookupError(s.ID, err)
	}
	return report(final)
}

// basenameFromURL picks a file name from the URL path.
func basenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "download"
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "download"
	}
	return name
}
