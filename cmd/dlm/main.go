package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitGeneralError    = 1
	ExitInvalidArgs     = 2
	ExitSourceNotAccess = 3
	ExitStorageError    = 4
	ExitNotFound        = 5
	ExitDownloadFailed  = 6
	ExitInterrupted     = 7
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "get":
		return runGet(cmdArgs)
	case "list", "ls":
		return runList(cmdArgs)
	case "resume":
		return runResume(cmdArgs)
	case "cancel":
		return runCancel(cmdArgs)
	case "remove", "rm":
		return runRemove(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: dlm <command> [options]

Commands:
  get       Download a URL, splitting it into parallel segments when possible
  list      Show known downloads with their progress
  resume    Continue a paused download
  cancel    Stop a download and delete its partial data
  remove    Forget a finished, failed or cancelled download

Run 'dlm <command> -h' for command-specific help.`)
}
