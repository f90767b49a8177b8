// Command commission-log views and summarizes commissioning trace files.
//
// Trace files are written by commissioner when run with -trace.
//
// Usage:
//
//	commission-log <command> [flags] <file.clog>
//
// Commands:
//
//	view     View the trace in human-readable format
//	stats    Show counts per category, per run and run outcomes
//	export   Export the trace as JSON lines
//
// Examples:
//
//	# View all events
//	commission-log view commissioner.clog
//
//	# View one run's transitions
//	commission-log view -run 0b9f... -category transition commissioner.clog
//
//	# Show statistics
//	commission-log stats commissioner.clog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mash-protocol/commissioner/cmd/commission-log/commands"
)

const usage = `commission-log - commissioning trace viewer

Usage:
  commission-log <command> [flags] <file.clog>

Commands:
  view     View the trace in human-readable format
  stats    Show counts per category, per run and run outcomes
  export   Export the trace as JSON lines

Use "commission-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "stats":
		runStats(args)
	case "export":
		runExport(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `commission-log view - View the trace in human-readable format

Usage:
  commission-log view [flags] <file.clog>

Flags:
`)
		fs.PrintDefaults()
	}

	runID := fs.String("run", "", "Filter by run ID")
	category := fs.String("category", "", "Filter by category (transition, drop, timer, completion, exchange, error)")
	state := fs.String("state", "", "Filter by engine state")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: trace file path required")
		fs.Usage()
		os.Exit(1)
	}

	filter, err := commands.BuildFilter(*runID, *category, *state)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := commands.RunView(fs.Arg(0), filter, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `commission-log stats - Show statistics about the trace

Usage:
  commission-log stats <file.clog>

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: trace file path required")
		fs.Usage()
		os.Exit(1)
	}

	if err := commands.RunStats(fs.Arg(0), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `commission-log export - Export the trace as JSON lines

Usage:
  commission-log export [flags] <file.clog>

Flags:
`)
		fs.PrintDefaults()
	}

	output := fs.String("o", "", "Output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: trace file path required")
		fs.Usage()
		os.Exit(1)
	}

	if err := commands.RunExport(fs.Arg(0), *output); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
