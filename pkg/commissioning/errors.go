package commissioning

import "errors"

// Engine errors.
var (
	// ErrIncorrectState is returned when an operation is not allowed in the
	// current state.
	ErrIncorrectState = errors.New("incorrect state")

	// ErrNotInitialized is returned when Commission is called before Init.
	ErrNotInitialized = errors.New("engine not initialized")

	// ErrRejected is returned when the initial event of a run produced no
	// transition.
	ErrRejected = errors.New("initial event rejected")

	// ErrTimerArmed is returned when arming the timer while it is armed.
	ErrTimerArmed = errors.New("timer already armed")

	// ErrSchedulerUnavailable is returned when no timer facility is
	// configured or it refused to start a timer.
	ErrSchedulerUnavailable = errors.New("timer scheduler unavailable")

	// ErrInvalidIdentity is returned by Init for an unusable identity.
	ErrInvalidIdentity = errors.New("invalid fabric identity")

	// ErrDiscoveryTimeout is the failure cause when commissionable
	// discovery or PASE did not finish before the deadline.
	ErrDiscoveryTimeout = errors.New("commissionable discovery timed out")

	// ErrNilController is returned by GrabCommissionee without a controller.
	ErrNilController = errors.New("nil controller")

	// ErrShutdown resolves a run that was ended by Shutdown.
	ErrShutdown = errors.New("commissioning shut down")
)

// Loop errors.
var (
	// ErrLoopStopped is returned by Do once the loop has stopped.
	ErrLoopStopped = errors.New("event loop stopped")

	// ErrLoopRunning is returned by a second call to Run.
	ErrLoopRunning = errors.New("event loop already running")
)
