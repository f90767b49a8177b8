// Package timer provides the single-shot timer facility used by the
// commissioning engine.
package timer

import (
	"errors"
	"sync"
	"time"
)

// Timer errors.
var (
	ErrInvalidDuration = errors.New("timer duration must be positive")
	ErrClosed          = errors.New("scheduler closed")
)

// Scheduler runs at most one timer at a time. Starting a timer replaces the
// outstanding one. It implements commissioning.Scheduler.
type Scheduler struct {
	mu sync.Mutex

	timer     *time.Timer
	gen       uint64
	startedAt time.Time
	duration  time.Duration
	closed    bool
}

// New creates an idle scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// StartTimer calls fire on its own goroutine once d has elapsed, unless the
// timer is cancelled or replaced first.
func (s *Scheduler) StartTimer(d time.Duration, fire func()) error {
	if d <= 0 {
		return ErrInvalidDuration
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.stopLocked()

	s.gen++
	gen := s.gen
	s.startedAt = time.Now()
	s.duration = d
	s.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.gen != gen || s.timer == nil {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()

		fire()
	})
	return nil
}

// CancelTimer stops the outstanding timer, if any.
func (s *Scheduler) CancelTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Pending reports whether a timer is outstanding.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Remaining returns the time left on the outstanding timer, or 0.
func (s *Scheduler) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer == nil {
		return 0
	}
	remaining := s.duration - time.Since(s.startedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Close cancels the outstanding timer and rejects new ones.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.closed = true
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	// Bumping the generation also neutralizes a callback that already
	// started and is waiting for the lock.
	s.gen++
}
