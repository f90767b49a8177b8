package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/mash-protocol/commissioner/pkg/log"
)

// Stats holds aggregate statistics about a trace file.
type Stats struct {
	TotalEvents      int
	EventsByCategory map[log.Category]int
	Runs             map[string]*RunStats
	Dropped          int
	Errors           int
	TimeRange        struct {
		Start time.Time
		End   time.Time
	}
}

// RunStats holds statistics for a single commissioning run.
type RunStats struct {
	FirstSeen   time.Time
	LastSeen    time.Time
	Events      int
	Transitions int
	LastState   string
	NodeID      string
	Outcome     *log.Outcome
	Cause       string
	Elapsed     time.Duration
}

// RunStats analyzes the trace file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByCategory: make(map[log.Category]int),
		Runs:             make(map[string]*RunStats),
	}

	for event, err := range reader.All() {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}

	printStats(w, stats)
	return nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByCategory[event.Category]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	if event.Dropped != nil {
		s.Dropped++
	}
	if event.Error != nil {
		s.Errors++
	}

	if event.RunID == "" {
		return
	}
	run, ok := s.Runs[event.RunID]
	if !ok {
		run = &RunStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
		s.Runs[event.RunID] = run
	}
	run.Events++
	if event.Timestamp.After(run.LastSeen) {
		run.LastSeen = event.Timestamp
	}
	if event.NodeID != "" {
		run.NodeID = event.NodeID
	}
	if t := event.Transition; t != nil {
		run.Transitions++
		run.LastState = t.To
	}
	if c := event.Completion; c != nil {
		outcome := c.Outcome
		run.Outcome = &outcome
		run.Cause = c.Cause
		run.Elapsed = c.Elapsed
	}
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Commissioning Trace Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for c := log.CategoryTransition; c <= log.CategoryError; c++ {
		if count := stats.EventsByCategory[c]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", c.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	outcomes := make(map[string]int)
	for _, r := range stats.Runs {
		if r.Outcome == nil {
			outcomes["INCOMPLETE"]++
			continue
		}
		outcomes[r.Outcome.String()]++
	}

	fmt.Fprintf(w, "Runs: %d\n", len(stats.Runs))
	for _, name := range []string{"SUCCESS", "FAILURE", "SHUTDOWN", "INCOMPLETE"} {
		if n := outcomes[name]; n > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", name+":", n)
		}
	}

	if len(stats.Runs) > 0 {
		type runInfo struct {
			id    string
			stats *RunStats
		}
		runs := make([]runInfo, 0, len(stats.Runs))
		for id, rs := range stats.Runs {
			runs = append(runs, runInfo{id, rs})
		}
		sort.Slice(runs, func(i, j int) bool {
			return runs[i].stats.FirstSeen.Before(runs[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, r := range runs {
			outcome := "INCOMPLETE"
			if r.stats.Outcome != nil {
				outcome = r.stats.Outcome.String()
			}
			fmt.Fprintf(w, "  [%s] %s, %d events, %d transitions\n",
				shortenRunID(r.id), outcome, r.stats.Events, r.stats.Transitions)
			if r.stats.NodeID != "" {
				fmt.Fprintf(w, "           Node: %s\n", r.stats.NodeID)
			}
			if r.stats.Outcome == nil && r.stats.LastState != "" {
				fmt.Fprintf(w, "           Last state: %s\n", r.stats.LastState)
			}
			if r.stats.Cause != "" {
				fmt.Fprintf(w, "           Cause: %s\n", r.stats.Cause)
			}
			if r.stats.Elapsed > 0 {
				fmt.Fprintf(w, "           Elapsed: %s\n", formatDuration(r.stats.Elapsed))
			}
		}
	}

	if stats.Dropped > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Dropped events: %d\n", stats.Dropped)
	}
	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
