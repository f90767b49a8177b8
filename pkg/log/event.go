package log

import (
	"time"
)

// Event is one record in a commissioning trace.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// RunID identifies the commissioning run (UUID). Empty for events
	// recorded while the engine is idle.
	RunID string `cbor:"2,keyasint,omitempty"`

	// Category classifies the event type.
	Category Category `cbor:"3,keyasint"`

	// State is the engine state when the event was recorded.
	State string `cbor:"4,keyasint,omitempty"`

	// NodeID is the operational node id being assigned (hex), once known.
	NodeID string `cbor:"5,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Transition *TransitionEvent `cbor:"10,keyasint,omitempty"`
	Dropped    *DroppedEvent    `cbor:"11,keyasint,omitempty"`
	Timer      *TimerEvent      `cbor:"12,keyasint,omitempty"`
	Completion *CompletionEvent `cbor:"13,keyasint,omitempty"`
	Exchange   *ExchangeEvent   `cbor:"14,keyasint,omitempty"`
	Error      *ErrorEventData  `cbor:"15,keyasint,omitempty"`
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryTransition indicates a state change.
	CategoryTransition Category = 0
	// CategoryDropped indicates an event the current state did not accept.
	CategoryDropped Category = 1
	// CategoryTimer indicates timer activity.
	CategoryTimer Category = 2
	// CategoryCompletion indicates the end of a run.
	CategoryCompletion Category = 3
	// CategoryExchange indicates a request/response with the commissionee.
	CategoryExchange Category = 4
	// CategoryError indicates an error event.
	CategoryError Category = 5
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransition:
		return "TRANSITION"
	case CategoryDropped:
		return "DROPPED"
	case CategoryTimer:
		return "TIMER"
	case CategoryCompletion:
		return "COMPLETION"
	case CategoryExchange:
		return "EXCHANGE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseCategory returns the category with the given name.
func ParseCategory(s string) (Category, bool) {
	for c := CategoryTransition; c <= CategoryError; c++ {
		if c.String() == s {
			return c, true
		}
	}
	return 0, false
}

// TransitionEvent captures a state change.
type TransitionEvent struct {
	From  string `cbor:"1,keyasint"`
	To    string `cbor:"2,keyasint"`
	Event string `cbor:"3,keyasint"`

	// Tolerated is set when a failure was accepted in place of a success.
	Tolerated bool `cbor:"4,keyasint,omitempty"`

	// Reason carries the failure cause for transitions into Failed.
	Reason string `cbor:"5,keyasint,omitempty"`
}

// DroppedEvent captures an event that caused no transition.
type DroppedEvent struct {
	Event  string     `cbor:"1,keyasint"`
	Reason DropReason `cbor:"2,keyasint"`
}

// DropReason explains why an event was dropped.
type DropReason uint8

const (
	// DropUnhandled means the state has no rule for the event.
	DropUnhandled DropReason = 0
	// DropStaleTimeout means the timeout belonged to a cancelled or
	// replaced timer.
	DropStaleTimeout DropReason = 1
)

// String returns the reason name.
func (r DropReason) String() string {
	switch r {
	case DropUnhandled:
		return "UNHANDLED"
	case DropStaleTimeout:
		return "STALE_TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// TimerEvent captures timer activity.
type TimerEvent struct {
	Action TimerAction `cbor:"1,keyasint"`

	// Duration is the armed deadline (arm only). Stored as nanoseconds.
	Duration time.Duration `cbor:"2,keyasint,omitempty"`

	// Generation identifies the timer instance.
	Generation uint64 `cbor:"3,keyasint"`
}

// TimerAction indicates what happened to the timer.
type TimerAction uint8

const (
	// TimerArmed indicates the timer was started.
	TimerArmed TimerAction = 0
	// TimerCancelled indicates the timer was stopped before firing.
	TimerCancelled TimerAction = 1
	// TimerFired indicates the timer expired and was delivered.
	TimerFired TimerAction = 2
)

// String returns the action name.
func (a TimerAction) String() string {
	switch a {
	case TimerArmed:
		return "ARMED"
	case TimerCancelled:
		return "CANCELLED"
	case TimerFired:
		return "FIRED"
	default:
		return "UNKNOWN"
	}
}

// CompletionEvent captures how a run ended.
type CompletionEvent struct {
	Outcome Outcome `cbor:"1,keyasint"`

	// Cause is the failure cause (failure only).
	Cause string `cbor:"2,keyasint,omitempty"`

	// Elapsed is the run duration. Stored as nanoseconds.
	Elapsed time.Duration `cbor:"3,keyasint,omitempty"`
}

// Outcome is how a run ended.
type Outcome uint8

const (
	// OutcomeSuccess means the run reached CommissioningComplete.
	OutcomeSuccess Outcome = 0
	// OutcomeFailure means the run reached Failed.
	OutcomeFailure Outcome = 1
	// OutcomeShutdown means the run was cancelled by Shutdown.
	OutcomeShutdown Outcome = 2
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeFailure:
		return "FAILURE"
	case OutcomeShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// ExchangeEvent captures a command sent to the commissionee and its result.
type ExchangeEvent struct {
	// Command names the invoked command or read attribute.
	Command string `cbor:"1,keyasint"`

	// Peer is the commissionee address.
	Peer string `cbor:"2,keyasint,omitempty"`

	// Status is the response status ("OK" or an error description).
	Status string `cbor:"3,keyasint,omitempty"`

	// Duration is the round-trip time. Stored as nanoseconds.
	Duration time.Duration `cbor:"4,keyasint,omitempty"`
}

// ErrorEventData captures errors outside a transition.
type ErrorEventData struct {
	// Message is the error message.
	Message string `cbor:"1,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"2,keyasint,omitempty"`
}
