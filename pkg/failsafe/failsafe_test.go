package failsafe

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTimerInitialState(t *testing.T) {
	timer := NewTimer()

	if timer.State() != StateDisarmed {
		t.Errorf("State() = %v, want StateDisarmed", timer.State())
	}
	if timer.IsArmed() {
		t.Error("IsArmed() = true, want false")
	}
	if timer.RemainingTime() != 0 {
		t.Errorf("RemainingTime() = %v, want 0", timer.RemainingTime())
	}
}

func TestTimerArmDisarm(t *testing.T) {
	timer := NewTimer()

	if err := timer.Arm(time.Minute, 1); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}
	if !timer.IsArmed() {
		t.Error("IsArmed() = false, want true")
	}
	if timer.Breadcrumb() != 1 {
		t.Errorf("Breadcrumb() = %d, want 1", timer.Breadcrumb())
	}

	remaining := timer.RemainingTime()
	if remaining < time.Minute-time.Second || remaining > time.Minute {
		t.Errorf("RemainingTime() = %v, expected ~1m", remaining)
	}

	if err := timer.Disarm(); err != nil {
		t.Fatalf("Disarm() error = %v", err)
	}
	if timer.State() != StateDisarmed {
		t.Errorf("State() = %v, want StateDisarmed", timer.State())
	}
	if timer.Breadcrumb() != 0 {
		t.Errorf("Breadcrumb() = %d, want 0 after disarm", timer.Breadcrumb())
	}
	if err := timer.Disarm(); !errors.Is(err, ErrNotArmed) {
		t.Errorf("second Disarm() error = %v, want ErrNotArmed", err)
	}
}

func TestTimerExpiry(t *testing.T) {
	timer := NewTimer()

	var mu sync.Mutex
	var expired bool
	var crumb uint64
	timer.OnExpire(func(b uint64) {
		mu.Lock()
		expired = true
		crumb = b
		mu.Unlock()
	})

	if err := timer.Arm(30*time.Millisecond, 2); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}
	if err := timer.SetBreadcrumb(3); err != nil {
		t.Fatalf("SetBreadcrumb() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if !expired {
		t.Fatal("OnExpire callback was not called")
	}
	if crumb != 3 {
		t.Errorf("expiry breadcrumb = %d, want 3", crumb)
	}
	if timer.State() != StateExpired {
		t.Errorf("State() = %v, want StateExpired", timer.State())
	}
}

func TestTimerRearmExtends(t *testing.T) {
	timer := NewTimer()

	fired := make(chan struct{}, 2)
	timer.OnExpire(func(uint64) { fired <- struct{}{} })

	if err := timer.Arm(40*time.Millisecond, 1); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := timer.Arm(200*time.Millisecond, 1); err != nil {
		t.Fatal(err)
	}

	// The first timer is superseded and must not fire.
	select {
	case <-fired:
		t.Fatal("superseded timer fired")
	case <-time.After(80 * time.Millisecond):
	}
	if !timer.IsArmed() {
		t.Error("IsArmed() = false after re-arm")
	}
	timer.Reset()
}

func TestTimerArmZeroExpires(t *testing.T) {
	timer := NewTimer()

	var expired bool
	timer.OnExpire(func(uint64) { expired = true })

	// Zero on a disarmed timer is a no-op.
	if err := timer.Arm(0, 0); err != nil {
		t.Fatal(err)
	}
	if expired || timer.State() != StateDisarmed {
		t.Fatalf("Arm(0) on disarmed timer changed state to %v", timer.State())
	}

	if err := timer.Arm(time.Minute, 1); err != nil {
		t.Fatal(err)
	}
	if err := timer.Arm(0, 0); err != nil {
		t.Fatal(err)
	}
	if !expired {
		t.Error("Arm(0) did not run the expiry callback")
	}
	if timer.State() != StateExpired {
		t.Errorf("State() = %v, want StateExpired", timer.State())
	}
}

func TestTimerMaxCumulative(t *testing.T) {
	timer := NewTimerWithConfig(Config{MaxCumulative: time.Minute})

	tests := []struct {
		name    string
		expiry  time.Duration
		wantErr error
	}{
		{"WithinLimit", 30 * time.Second, nil},
		{"ExtendWithinLimit", 59 * time.Second, nil},
		{"BeyondLimit", 2 * time.Minute, ErrExceedsMaximum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := timer.Arm(tt.expiry, 0)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Arm(%v) error = %v, want %v", tt.expiry, err, tt.wantErr)
			}
		})
	}
	timer.Reset()

	// A new cumulative period starts after disarming.
	if err := timer.Arm(59*time.Second, 0); err != nil {
		t.Errorf("Arm() after reset error = %v", err)
	}
	timer.Reset()
}

func TestTimerSetBreadcrumbRequiresArmed(t *testing.T) {
	timer := NewTimer()
	if err := timer.SetBreadcrumb(1); !errors.Is(err, ErrNotArmed) {
		t.Errorf("SetBreadcrumb() error = %v, want ErrNotArmed", err)
	}
}

func TestTimerStateChangeCallback(t *testing.T) {
	timer := NewTimer()

	var transitions []struct{ old, new State }
	var mu sync.Mutex

	timer.OnStateChange(func(old, new State) {
		mu.Lock()
		transitions = append(transitions, struct{ old, new State }{old, new})
		mu.Unlock()
	})

	_ = timer.Arm(20*time.Millisecond, 0)
	time.Sleep(60 * time.Millisecond)
	_ = timer.Arm(time.Minute, 0)
	_ = timer.Disarm()

	mu.Lock()
	defer mu.Unlock()

	expected := []struct{ old, new State }{
		{StateDisarmed, StateArmed},
		{StateArmed, StateExpired},
		{StateExpired, StateArmed},
		{StateArmed, StateDisarmed},
	}

	if len(transitions) != len(expected) {
		t.Fatalf("got %d transitions, want %d: %v", len(transitions), len(expected), transitions)
	}
	for i, exp := range expected {
		if transitions[i] != exp {
			t.Errorf("transition[%d] = %v, want %v", i, transitions[i], exp)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisarmed, "DISARMED"},
		{StateArmed, "ARMED"},
		{StateExpired, "EXPIRED"},
		{State(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
