package pase

import (
	"errors"
	"sync"
	"time"
)

// DefaultWindowTimeout is how long a commissioning window stays open.
const DefaultWindowTimeout = 180 * time.Second

// WindowState is the state of a commissioning window.
type WindowState uint8

const (
	// WindowClosed refuses new exchanges.
	WindowClosed WindowState = iota

	// WindowOpen accepts one exchange.
	WindowOpen

	// WindowPASEInProgress answers new exchanges with Busy.
	WindowPASEInProgress
)

// String returns the state name.
func (s WindowState) String() string {
	switch s {
	case WindowClosed:
		return "CLOSED"
	case WindowOpen:
		return "OPEN"
	case WindowPASEInProgress:
		return "PASE_IN_PROGRESS"
	default:
		return "UNKNOWN"
	}
}

// Window errors.
var (
	ErrWindowClosed    = errors.New("commissioning window is closed")
	ErrWindowBusy      = errors.New("commissioning already in progress")
	ErrWindowNotInPASE = errors.New("not in PASE state")
)

// Window is the responder's commissioning window. It admits one PASE
// exchange at a time and closes itself after a timeout.
type Window struct {
	mu sync.Mutex

	state    WindowState
	timeout  time.Duration
	timer    *time.Timer
	openedAt time.Time
	attempt  uint64

	onStateChange func(from, to WindowState)
}

// NewWindow creates a closed window. Zero timeout uses DefaultWindowTimeout.
func NewWindow(timeout time.Duration) *Window {
	if timeout <= 0 {
		timeout = DefaultWindowTimeout
	}
	return &Window{timeout: timeout}
}

// State returns the current state.
func (w *Window) State() WindowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Remaining returns the time until the window closes, or 0 when closed.
func (w *Window) Remaining() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.remainingLocked()
}

func (w *Window) remainingLocked() time.Duration {
	if w.state == WindowClosed {
		return 0
	}
	return max(w.timeout-time.Since(w.openedAt), 0)
}

// OnStateChange registers fn for state changes. fn runs without the lock.
func (w *Window) OnStateChange(fn func(from, to WindowState)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onStateChange = fn
}

// Open opens the window, or restarts the timeout if it is already open.
func (w *Window) Open() {
	w.mu.Lock()
	old := w.state
	if w.timer != nil {
		w.timer.Stop()
	}
	if w.state == WindowClosed {
		w.state = WindowOpen
	}
	w.openedAt = time.Now()
	w.timer = time.AfterFunc(w.timeout, w.expire)
	w.unlockAndNotify(old)
}

// Close closes the window.
func (w *Window) Close() {
	w.mu.Lock()
	old := w.state
	w.closeLocked()
	w.unlockAndNotify(old)
}

func (w *Window) closeLocked() {
	w.state = WindowClosed
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// BeginPASE admits an exchange and returns its attempt number.
func (w *Window) BeginPASE() (uint64, error) {
	w.mu.Lock()
	switch w.state {
	case WindowClosed:
		w.mu.Unlock()
		return 0, ErrWindowClosed
	case WindowPASEInProgress:
		w.mu.Unlock()
		return 0, ErrWindowBusy
	case WindowOpen:
	}

	old := w.state
	w.state = WindowPASEInProgress
	w.attempt++
	attempt := w.attempt
	w.unlockAndNotify(old)
	return attempt, nil
}

// EndPASE ends exchange attempt. Success closes the window; failure
// reopens it while time remains.
func (w *Window) EndPASE(attempt uint64, success bool) error {
	w.mu.Lock()
	if w.state != WindowPASEInProgress || w.attempt != attempt {
		w.mu.Unlock()
		return ErrWindowNotInPASE
	}

	old := w.state
	if success || w.remainingLocked() == 0 {
		w.closeLocked()
	} else {
		w.state = WindowOpen
	}
	w.unlockAndNotify(old)
	return nil
}

func (w *Window) expire() {
	w.mu.Lock()
	old := w.state
	if old == WindowClosed {
		w.mu.Unlock()
		return
	}
	w.state = WindowClosed
	w.timer = nil
	w.unlockAndNotify(old)
}

func (w *Window) unlockAndNotify(old WindowState) {
	now := w.state
	fn := w.onStateChange
	w.mu.Unlock()

	if fn != nil && old != now {
		fn(old, now)
	}
}
