package failsafe

import (
	"errors"
	"sync"
	"time"
)

// Fail-safe constants.
const (
	// DefaultExpiry is the expiry used when a zero duration is configured.
	DefaultExpiry = 60 * time.Second

	// DefaultMaxCumulative bounds the total armed time since the first arm.
	DefaultMaxCumulative = 900 * time.Second
)

// Timer errors.
var (
	ErrExceedsMaximum = errors.New("fail-safe exceeds maximum cumulative period")
	ErrNotArmed       = errors.New("fail-safe not armed")
)

// State represents the fail-safe state.
type State uint8

const (
	// StateDisarmed indicates no provisional changes are pending.
	StateDisarmed State = iota

	// StateArmed indicates the fail-safe timer is running.
	StateArmed

	// StateExpired indicates the timer ran out and changes were rolled back.
	StateExpired
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisarmed:
		return "DISARMED"
	case StateArmed:
		return "ARMED"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Config holds fail-safe configuration.
type Config struct {
	// MaxCumulative bounds the armed time since the first arm. Zero means
	// DefaultMaxCumulative.
	MaxCumulative time.Duration
}

// Timer is the commissionee's fail-safe timer.
type Timer struct {
	mu sync.Mutex

	state         State
	maxCumulative time.Duration

	timer *time.Timer
	gen   uint64

	// firstArmed starts the cumulative period; deadline is when the running
	// timer fires.
	firstArmed time.Time
	deadline   time.Time

	breadcrumb uint64

	onStateChange func(oldState, newState State)
	onExpire      func(breadcrumb uint64)
}

// NewTimer creates a disarmed fail-safe timer with default settings.
func NewTimer() *Timer {
	return &Timer{maxCumulative: DefaultMaxCumulative}
}

// NewTimerWithConfig creates a disarmed fail-safe timer.
func NewTimerWithConfig(cfg Config) *Timer {
	t := NewTimer()
	if cfg.MaxCumulative > 0 {
		t.maxCumulative = cfg.MaxCumulative
	}
	return t
}

// State returns the current state.
func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsArmed reports whether the timer is running.
func (t *Timer) IsArmed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateArmed
}

// Breadcrumb returns the breadcrumb written by the last command.
func (t *Timer) Breadcrumb() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.breadcrumb
}

// SetBreadcrumb records the progress marker of a command run under the
// fail-safe. It fails when the fail-safe is not armed.
func (t *Timer) SetBreadcrumb(b uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateArmed {
		return ErrNotArmed
	}
	t.breadcrumb = b
	return nil
}

// Arm starts or extends the fail-safe. A zero expiry expires it at once.
func (t *Timer) Arm(expiry time.Duration, breadcrumb uint64) error {
	t.mu.Lock()

	if expiry <= 0 {
		if t.state != StateArmed {
			t.mu.Unlock()
			return nil
		}
		t.breadcrumb = breadcrumb
		gen := t.gen
		t.mu.Unlock()
		t.expire(gen)
		return nil
	}

	now := time.Now()
	if t.state != StateArmed {
		t.firstArmed = now
	}
	if now.Add(expiry).After(t.firstArmed.Add(t.maxCumulative)) {
		t.mu.Unlock()
		return ErrExceedsMaximum
	}

	oldState := t.state
	t.state = StateArmed
	t.breadcrumb = breadcrumb
	t.deadline = now.Add(expiry)
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(expiry, func() {
		t.expire(gen)
	})

	stateChangeFn := t.onStateChange
	t.mu.Unlock()

	if stateChangeFn != nil && oldState != StateArmed {
		stateChangeFn(oldState, StateArmed)
	}
	return nil
}

// Disarm commits the provisional changes and stops the timer.
func (t *Timer) Disarm() error {
	t.mu.Lock()

	if t.state != StateArmed {
		t.mu.Unlock()
		return ErrNotArmed
	}

	t.stopLocked()
	t.state = StateDisarmed
	t.breadcrumb = 0

	stateChangeFn := t.onStateChange
	t.mu.Unlock()

	if stateChangeFn != nil {
		stateChangeFn(StateArmed, StateDisarmed)
	}
	return nil
}

// Reset returns to DISARMED without running the expiry callback.
func (t *Timer) Reset() {
	t.mu.Lock()

	oldState := t.state
	t.stopLocked()
	t.state = StateDisarmed
	t.breadcrumb = 0
	t.firstArmed = time.Time{}

	stateChangeFn := t.onStateChange
	t.mu.Unlock()

	if stateChangeFn != nil && oldState != StateDisarmed {
		stateChangeFn(oldState, StateDisarmed)
	}
}

// RemainingTime returns the time until expiry, or 0 when not armed.
func (t *Timer) RemainingTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateArmed {
		return 0
	}
	remaining := time.Until(t.deadline)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (t *Timer) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

// expire runs the rollback for timer generation gen. A timer replaced by a
// later Arm or stopped by Disarm does nothing.
func (t *Timer) expire(gen uint64) {
	t.mu.Lock()

	if t.state != StateArmed || t.gen != gen {
		t.mu.Unlock()
		return
	}

	t.stopLocked()
	t.state = StateExpired
	breadcrumb := t.breadcrumb
	t.breadcrumb = 0

	stateChangeFn := t.onStateChange
	expireFn := t.onExpire
	t.mu.Unlock()

	if stateChangeFn != nil {
		stateChangeFn(StateArmed, StateExpired)
	}
	if expireFn != nil {
		expireFn(breadcrumb)
	}
}

// OnStateChange sets a callback for state changes.
func (t *Timer) OnStateChange(fn func(oldState, newState State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStateChange = fn
}

// OnExpire sets the rollback callback. It receives the breadcrumb at
// expiry.
func (t *Timer) OnExpire(fn func(breadcrumb uint64)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExpire = fn
}
