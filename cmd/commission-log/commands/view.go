// Package commands implements the commission-log CLI commands.
package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mash-protocol/commissioner/pkg/log"
)

// BuildFilter turns command-line values into a trace filter. Empty values
// match everything.
func BuildFilter(runID, category, state string) (log.Filter, error) {
	filter := log.Filter{RunID: runID, State: strings.ToUpper(state)}
	if category != "" {
		c, err := ParseCategoryFlag(category)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Category = &c
	}
	return filter, nil
}

// ParseCategoryFlag parses a category name, case-insensitively.
func ParseCategoryFlag(s string) (log.Category, error) {
	name := strings.ToUpper(s)
	if name == "DROP" {
		name = "DROPPED"
	}
	c, ok := log.ParseCategory(name)
	if !ok {
		return 0, fmt.Errorf("invalid category: %s (use: transition, drop, timer, completion, exchange, error)", s)
	}
	return c, nil
}

// RunView reads the trace at path and writes matching events to w.
func RunView(path string, filter log.Filter, w io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(w, event)
	}
}

// formatEvent writes one line per event, plus detail lines where useful.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	fmt.Fprintf(w, "%s [run:%s] %-10s %s", ts, shortenRunID(event.RunID), event.Category, summary(event))
	fmt.Fprintln(w)

	if event.NodeID != "" && event.Category == log.CategoryCompletion {
		fmt.Fprintf(w, "  Node: %s\n", event.NodeID)
	}
}

func summary(event log.Event) string {
	switch {
	case event.Transition != nil:
		t := event.Transition
		s := fmt.Sprintf("%s -> %s on %s", t.From, t.To, t.Event)
		if t.Tolerated {
			s += " (tolerated)"
		}
		if t.Reason != "" {
			s += ": " + t.Reason
		}
		return s
	case event.Dropped != nil:
		return fmt.Sprintf("%s in %s (%s)", event.Dropped.Event, event.State, event.Dropped.Reason)
	case event.Timer != nil:
		s := fmt.Sprintf("%s gen=%d", event.Timer.Action, event.Timer.Generation)
		if event.Timer.Action == log.TimerArmed {
			s += " " + formatDuration(event.Timer.Duration)
		}
		return s
	case event.Completion != nil:
		c := event.Completion
		s := fmt.Sprintf("%s after %s", c.Outcome, formatDuration(c.Elapsed))
		if c.Cause != "" {
			s += ": " + c.Cause
		}
		return s
	case event.Exchange != nil:
		x := event.Exchange
		return fmt.Sprintf("%s %s %s (%s)", x.Command, x.Peer, x.Status, formatDuration(x.Duration))
	case event.Error != nil:
		if event.Error.Context != "" {
			return event.Error.Context + ": " + event.Error.Message
		}
		return event.Error.Message
	default:
		return "-"
	}
}

// shortenRunID returns the first 8 characters of the run ID.
func shortenRunID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.String()
	case d < time.Second:
		return d.Round(time.Microsecond).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}
