package log

import (
	"io"
	"path/filepath"
	"testing"
	"time"
)

func createTestTraceFile(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.clog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create test trace: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func readAll(t *testing.T, reader *Reader) []Event {
	t.Helper()
	var events []Event
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		events = append(events, event)
	}
}

func TestReaderIteratesEvents(t *testing.T) {
	now := time.Now()
	path := createTestTraceFile(t, []Event{
		{Timestamp: now, RunID: "run-1", Category: CategoryTransition},
		{Timestamp: now, RunID: "run-1", Category: CategoryTimer},
		{Timestamp: now, RunID: "run-2", Category: CategoryCompletion},
	})

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	events := readAll(t, reader)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[2].Category != CategoryCompletion {
		t.Errorf("last event Category = %v, want %v", events[2].Category, CategoryCompletion)
	}
}

func TestReaderHandlesEmptyFile(t *testing.T) {
	path := createTestTraceFile(t, nil)

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("Next on empty file = %v, want io.EOF", err)
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "missing.clog")); err == nil {
		t.Error("NewReader on missing file should fail")
	}
}

func TestFilteredReader(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	path := createTestTraceFile(t, []Event{
		{Timestamp: base, RunID: "run-1", Category: CategoryTransition, State: "IDLE"},
		{Timestamp: base.Add(time.Second), RunID: "run-1", Category: CategoryDropped, State: "FAILED"},
		{Timestamp: base.Add(2 * time.Second), RunID: "run-2", Category: CategoryTransition, State: "IDLE"},
		{Timestamp: base.Add(3 * time.Second), RunID: "run-2", Category: CategoryError, State: "FAILED"},
	})

	transition := CategoryTransition
	start := base.Add(time.Second)
	end := base.Add(3 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"no filter", Filter{}, 4},
		{"run", Filter{RunID: "run-2"}, 2},
		{"category", Filter{Category: &transition}, 2},
		{"state", Filter{State: "FAILED"}, 2},
		{"time window", Filter{TimeStart: &start, TimeEnd: &end}, 2},
		{"combined", Filter{RunID: "run-1", Category: &transition}, 1},
		{"no match", Filter{RunID: "run-3"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatalf("NewFilteredReader failed: %v", err)
			}
			defer reader.Close()

			if got := len(readAll(t, reader)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestReadFileFiltersAndCollects(t *testing.T) {
	now := time.Now()
	path := createTestTraceFile(t, []Event{
		{Timestamp: now, RunID: "run-1", Category: CategoryTransition},
		{Timestamp: now, RunID: "run-2", Category: CategoryTransition},
		{Timestamp: now, RunID: "run-1", Category: CategoryCompletion},
	})

	events, err := ReadFile(path, Filter{RunID: "run-1"})
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[1].Category != CategoryCompletion {
		t.Errorf("second event Category = %v, want %v", events[1].Category, CategoryCompletion)
	}
}

func TestReaderAllStopsEarly(t *testing.T) {
	now := time.Now()
	path := createTestTraceFile(t, []Event{
		{Timestamp: now, RunID: "run-1"},
		{Timestamp: now, RunID: "run-2"},
		{Timestamp: now, RunID: "run-3"},
	})

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	for event, err := range reader.All() {
		if err != nil {
			t.Fatalf("All yielded error: %v", err)
		}
		if event.RunID == "run-2" {
			break
		}
	}

	next, err := reader.Next()
	if err != nil {
		t.Fatalf("Next after break: %v", err)
	}
	if next.RunID != "run-3" {
		t.Errorf("Next after break = %q, want run-3", next.RunID)
	}
}
