// Package commissioning implements the commissioning state machine.
//
// An Engine drives one commissionee through payload parsing, discovery,
// PASE pairing, device attestation, operational credential installation,
// network provisioning and CASE session establishment. The sequencing is a
// pure function, Transition, over the closed State and Event types. The
// Engine stores the current state, owns the single discovery deadline and
// reports the end of each run exactly once through its callbacks.
//
// The package performs no I/O. Work such as discovering the node or sending
// a command is done by an observer (see pkg/commissioner) that reacts to
// each entered state and reports the result back as an Event.
//
// # Threading
//
// The Engine is not safe for concurrent use and panics when it detects
// overlapping calls. Wrap it in a Loop to serialize calls from timers and
// collaborators:
//
//	engine := commissioning.NewEngine(commissioning.EngineConfig{Logger: logger})
//	loop := commissioning.NewLoop(engine)
//	go loop.Run(ctx)
//
//	var err error
//	_ = loop.Do(ctx, func(e *commissioning.Engine) {
//		err = e.CommissionCode(code, onSuccess, onFailure)
//	})
//
// # Leniency
//
// Some commissionees answer ArmFailSafe and CommissioningComplete with an
// echo of the command instead of its response. A Failure in
// InvokingArmFailSafe or InvokingCommissioningComplete is therefore accepted
// as a Success. Such transitions have Outcome.Tolerated set, are logged at
// warn level and are marked in the trace.
package commissioning
