package commissioning

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mash-protocol/commissioner/pkg/log"
	"github.com/mash-protocol/commissioner/pkg/payload"
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives trace records for transitions, dropped
	// events, timer activity and run completion. If nil, no trace is kept.
	ProtocolLogger log.Logger

	// Recorder receives counters. If nil, nothing is counted.
	Recorder Recorder

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// Change describes one applied transition.
type Change struct {
	From      State
	To        State
	Event     Event
	Tolerated bool
}

// Engine holds the current state of one commissioning run and applies
// events to it.
//
// The engine is single-threaded: Dispatch, Commission, Shutdown,
// ScheduleTimeout, CancelTimeout and GrabCommissionee must be called from
// one goroutine at a time, normally the goroutine running a Loop.
// Overlapping calls panic.
type Engine struct {
	factory    Factory
	state      State
	completion *Completion

	timerArmed bool
	timerGen   uint64

	busy    atomic.Bool
	dropped atomic.Uint64

	post      func(Event)
	observers []func(Change)

	logger         *slog.Logger
	protocolLogger log.Logger
	recorder       Recorder
	now            func() time.Time
}

// NewEngine creates an engine in Idle. Init must be called before the
// first run.
func NewEngine(config EngineConfig) *Engine {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	protocolLogger := config.ProtocolLogger
	if protocolLogger == nil {
		protocolLogger = log.NoopLogger{}
	}
	recorder := config.Recorder
	if recorder == nil {
		recorder = noopRecorder{}
	}
	now := config.Clock
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		factory:        newFactory(logger),
		state:          Idle{},
		logger:         logger,
		protocolLogger: protocolLogger,
		recorder:       recorder,
		now:            now,
	}
	e.post = e.Dispatch
	return e
}

// setPoster replaces the function timer callbacks use to deliver Timeout.
func (e *Engine) setPoster(post func(Event)) {
	e.post = post
}

// Init stores the collaborators, identity and network credentials used by
// every following run. The state stays Idle.
func (e *Engine) Init(c Collaborators, id Identity, network NetworkCredentials) error {
	if e.state.Kind() != KindIdle {
		return fmt.Errorf("%w: cannot initialize in %s", ErrIncorrectState, e.state.Kind())
	}
	if err := id.Validate(); err != nil {
		return err
	}
	e.factory.configure(c, id, network)
	return nil
}

// OnTransition registers fn to be called after every applied transition.
// Observers run on the dispatching goroutine after the engine has settled,
// so they may call back into the engine.
func (e *Engine) OnTransition(fn func(Change)) {
	e.observers = append(e.observers, fn)
}

// State returns the current state.
func (e *Engine) State() State {
	return e.state
}

// Context returns a copy of the commissioning context.
func (e *Engine) Context() Context {
	return e.factory.ctx
}

// Dropped returns how many events caused no transition.
func (e *Engine) Dropped() uint64 {
	return e.dropped.Load()
}

// Commission starts a run with ev, normally OnboardingPayload or
// ParsedPayload. Exactly one of onSuccess or onFailure is called when the
// run ends, unless it is ended by Shutdown.
func (e *Engine) Commission(ev Event, onSuccess func(), onFailure func(error)) error {
	if !e.factory.initialized {
		return ErrNotInitialized
	}
	if e.state.Kind() != KindIdle {
		return fmt.Errorf("%w: run in progress (%s)", ErrIncorrectState, e.state.Kind())
	}

	e.factory.begin(e.now())
	e.completion = NewCompletion(onSuccess, onFailure)
	e.logger.Info("commissioning started", "run", e.factory.ctx.Run.ID, "event", ev.Kind())

	e.Dispatch(ev)

	if e.state.Kind() == KindIdle {
		e.completion = nil
		e.factory.ctx.Run = Run{}
		return fmt.Errorf("%w: %s", ErrRejected, ev.Kind())
	}
	return nil
}

// CommissionCode starts a run from a QR or manual pairing code.
func (e *Engine) CommissionCode(code string, onSuccess func(), onFailure func(error)) error {
	return e.Commission(OnboardingPayload{Code: code}, onSuccess, onFailure)
}

// CommissionPayload starts a run from an already decoded payload.
func (e *Engine) CommissionPayload(p *payload.Payload, onSuccess func(), onFailure func(error)) error {
	return e.Commission(ParsedPayload{Payload: p}, onSuccess, onFailure)
}

// Shutdown ends any run without invoking its callbacks, closes the sessions
// the engine owns and returns to Idle.
func (e *Engine) Shutdown() {
	e.Dispatch(Shutdown{})
}

// GrabCommissionee hands the operational session of a completed run to c.
// It succeeds at most once per run.
func (e *Engine) GrabCommissionee(c Controller) error {
	if c == nil {
		return ErrNilController
	}
	e.enter()
	defer e.leave()

	run := &e.factory.ctx.Run
	if run.Operational == nil || run.Operational.PeerID.NodeID == 0 || run.Session == nil {
		return fmt.Errorf("%w: no operational session to hand over", ErrIncorrectState)
	}
	if err := c.Adopt(run.Operational, run.Session); err != nil {
		return fmt.Errorf("hand over commissionee: %w", err)
	}
	e.logger.Info("commissionee handed over", "run", run.ID, "node", run.Operational.PeerID.NodeID)
	run.Session = nil
	return nil
}

// Dispatch applies ev to the current state. Events that produce no
// transition are counted and otherwise ignored.
func (e *Engine) Dispatch(ev Event) {
	e.enter()
	notify := e.apply(ev)
	e.leave()
	notify()
}

func (e *Engine) enter() {
	if !e.busy.CompareAndSwap(false, true) {
		panic("commissioning: engine used concurrently or reentrantly")
	}
}

func (e *Engine) leave() {
	e.busy.Store(false)
}

// apply performs the transition and returns the notifications to run once
// the engine is released.
func (e *Engine) apply(ev Event) func() {
	if t, ok := ev.(Timeout); ok {
		if !e.timerArmed || t.gen != e.timerGen {
			e.drop(ev, log.DropStaleTimeout)
			return func() {}
		}
		e.timerArmed = false
		e.traceTimer(log.TimerFired, 0)
	}

	out, ok := Transition(e.state, ev)
	if !ok {
		e.drop(ev, log.DropUnhandled)
		return func() {}
	}

	next := out.Next
	switch out.Timer {
	case TimerKeep:
	case TimerCancel:
		e.CancelTimeout()
	case TimerArm, TimerRearm:
		if out.Timer == TimerRearm {
			e.CancelTimeout()
		}
		if err := e.ScheduleTimeout(e.factory.ctx.Identity.DiscoveryTimeout); err != nil {
			e.logger.Warn("cannot arm discovery deadline", "error", err)
			next = Failed{Cause: fmt.Errorf("arm discovery deadline: %w", err)}
		}
	}

	from := e.state
	run := e.factory.ctx.Run
	next = e.factory.Build(next, ev)
	e.state = next

	change := Change{From: from, To: next, Event: ev, Tolerated: out.Tolerated}
	e.recordTransition(change, run)

	completion := e.completion
	var resolve func()
	switch s := next.(type) {
	case CommissioningComplete:
		e.recordCompletion(run, log.OutcomeSuccess, nil)
		e.completion = nil
		if completion != nil {
			resolve = func() { completion.Succeed() }
		}
	case Failed:
		e.recordCompletion(run, log.OutcomeFailure, s.Cause)
		e.completion = nil
		if completion != nil {
			resolve = func() { completion.Fail(s.Cause) }
		}
	case Idle:
		if !Terminal(from) && from.Kind() != KindIdle {
			e.recordCompletion(run, log.OutcomeShutdown, nil)
		}
		e.completion = nil
		if completion != nil {
			resolve = func() { completion.Discard() }
		}
	default:
	}

	observers := e.observers
	return func() {
		for _, fn := range observers {
			fn(change)
		}
		if resolve != nil {
			resolve()
		}
	}
}

// ScheduleTimeout arms the engine deadline. The Timeout it delivers is
// dropped if the deadline is cancelled or replaced first.
func (e *Engine) ScheduleTimeout(d time.Duration) error {
	if e.timerArmed {
		return ErrTimerArmed
	}
	scheduler := e.factory.ctx.Collaborators.Scheduler
	if scheduler == nil {
		return ErrSchedulerUnavailable
	}

	gen := e.timerGen + 1
	post := e.post
	if err := scheduler.StartTimer(d, func() { post(Timeout{gen: gen}) }); err != nil {
		return fmt.Errorf("%w: %v", ErrSchedulerUnavailable, err)
	}
	e.timerGen = gen
	e.timerArmed = true
	e.traceTimer(log.TimerArmed, d)
	return nil
}

// CancelTimeout cancels the engine deadline if it is armed.
func (e *Engine) CancelTimeout() {
	if !e.timerArmed {
		return
	}
	e.timerArmed = false
	if scheduler := e.factory.ctx.Collaborators.Scheduler; scheduler != nil {
		scheduler.CancelTimer()
	}
	e.traceTimer(log.TimerCancelled, 0)
}

// TimeoutArmed reports whether the engine deadline is armed.
func (e *Engine) TimeoutArmed() bool {
	return e.timerArmed
}

func (e *Engine) drop(ev Event, reason log.DropReason) {
	e.dropped.Add(1)
	e.recorder.Dropped(e.state.Kind(), ev.Kind())
	e.logger.Debug("event dropped", "state", e.state.Kind(), "event", ev.Kind(), "reason", reason)
	e.trace(log.Event{
		Category: log.CategoryDropped,
		Dropped:  &log.DroppedEvent{Event: ev.Kind().String(), Reason: reason},
	})
}

func (e *Engine) recordTransition(c Change, run Run) {
	e.recorder.Transition(c.From.Kind(), c.To.Kind())

	te := &log.TransitionEvent{
		From:      c.From.Kind().String(),
		To:        c.To.Kind().String(),
		Event:     c.Event.Kind().String(),
		Tolerated: c.Tolerated,
	}
	if f, ok := c.To.(Failed); ok {
		te.Reason = f.Cause.Error()
	}

	if c.Tolerated {
		var err error
		if f, ok := c.Event.(Failure); ok {
			err = f.Err
		}
		e.logger.Warn("tolerating failure reported as success", "state", c.From.Kind(), "error", err)
	}
	e.logger.Debug("transition", "from", c.From.Kind(), "to", c.To.Kind(), "event", c.Event.Kind())

	ev := log.Event{Category: log.CategoryTransition, Transition: te}
	if run.Active() {
		ev.RunID = run.ID.String()
	}
	e.trace(ev)
}

func (e *Engine) recordCompletion(run Run, outcome log.Outcome, cause error) {
	ce := &log.CompletionEvent{Outcome: outcome}
	if !run.Started.IsZero() {
		ce.Elapsed = e.now().Sub(run.Started)
	}
	e.recorder.Completed(e.state.Kind(), ce.Elapsed)
	if cause != nil {
		ce.Cause = cause.Error()
		e.logger.Info("commissioning failed", "run", run.ID, "error", cause, "elapsed", ce.Elapsed)
	} else {
		e.logger.Info("commissioning ended", "run", run.ID, "outcome", outcome, "elapsed", ce.Elapsed)
	}

	ev := log.Event{Category: log.CategoryCompletion, Completion: ce}
	if run.Active() {
		ev.RunID = run.ID.String()
	}
	e.trace(ev)
}

func (e *Engine) traceTimer(action log.TimerAction, d time.Duration) {
	e.trace(log.Event{
		Category: log.CategoryTimer,
		Timer:    &log.TimerEvent{Action: action, Duration: d, Generation: e.timerGen},
	})
}

// trace fills the common fields and writes ev to the protocol logger.
func (e *Engine) trace(ev log.Event) {
	ev.Timestamp = e.now()
	if ev.State == "" {
		ev.State = e.state.Kind().String()
	}
	run := &e.factory.ctx.Run
	if ev.RunID == "" && run.Active() {
		ev.RunID = run.ID.String()
	}
	if run.Active() && e.factory.ctx.Identity.NodeID != 0 {
		ev.NodeID = e.factory.ctx.Identity.NodeID.String()
	}
	e.protocolLogger.Log(ev)
}
