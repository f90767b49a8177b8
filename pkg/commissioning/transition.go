package commissioning

import "errors"

// TimerAction tells the engine what to do with its deadline after a
// transition.
type TimerAction uint8

const (
	// TimerKeep leaves the deadline as it is.
	TimerKeep TimerAction = iota

	// TimerArm arms the discovery deadline. If it cannot be armed the
	// engine enters Failed instead of Next.
	TimerArm

	// TimerRearm cancels the deadline and arms a fresh one.
	TimerRearm

	// TimerCancel cancels the deadline.
	TimerCancel
)

// String returns the action name.
func (a TimerAction) String() string {
	switch a {
	case TimerKeep:
		return "KEEP"
	case TimerArm:
		return "ARM"
	case TimerRearm:
		return "REARM"
	case TimerCancel:
		return "CANCEL"
	default:
		return "UNKNOWN"
	}
}

// Outcome is a recognized transition.
type Outcome struct {
	Next  State
	Timer TimerAction

	// Tolerated is set when a Failure was accepted in place of a Success.
	Tolerated bool
}

// errUnspecifiedFailure is the cause recorded for a Failure without an error.
var errUnspecifiedFailure = errors.New("unspecified failure")

// Transition returns the state that follows s when ev arrives, or false when
// the pair is not recognized. It performs no I/O and touches no timer; the
// engine applies Outcome.Timer.
//
// Phase rules are checked first. Failure and Shutdown are then handled for
// every state the phase rules did not claim.
func Transition(s State, ev Event) (Outcome, bool) {
	if out, ok := phaseTransition(s, ev); ok {
		return out, true
	}
	return globalTransition(s, ev)
}

func to(next State) (Outcome, bool) {
	return Outcome{Next: next}, true
}

func none() (Outcome, bool) {
	return Outcome{}, false
}

// phaseTransition holds the rules specific to each state.
func phaseTransition(s State, ev Event) (Outcome, bool) {
	switch s := s.(type) {
	case Idle:
		switch ev := ev.(type) {
		case OnboardingPayload:
			return to(ParsingOnboardingPayload{Raw: ev.Code})
		case ParsedPayload:
			return Outcome{Next: CommissionableNodeDiscovery{Payload: ev.Payload}, Timer: TimerArm}, true
		default:
			return none()
		}

	case ParsingOnboardingPayload:
		if ev, ok := ev.(ParsedPayload); ok {
			return Outcome{Next: CommissionableNodeDiscovery{Payload: ev.Payload}, Timer: TimerArm}, true
		}

	case CommissionableNodeDiscovery:
		switch ev := ev.(type) {
		case Timeout:
			return to(AbortingCommissionableDiscovery(s))
		case Success:
			node, _ := ev.Artifact.(*NodeRecord)
			return to(InitiatingPase{Payload: s.Payload, Node: node})
		default:
			return none()
		}

	case AbortingCommissionableDiscovery:
		if _, ok := ev.(Success); ok {
			return Outcome{Next: Failed{Cause: ErrDiscoveryTimeout}, Timer: TimerCancel}, true
		}

	case AwaitingCommissionableDiscovery:
		switch ev := ev.(type) {
		case Timeout:
			return to(AbortingCommissionableDiscovery(s))
		case Success:
			node, _ := ev.Artifact.(*NodeRecord)
			return to(InitiatingPase{Payload: s.Payload, Node: node})
		default:
			return none()
		}

	case InitiatingPase:
		switch ev.(type) {
		case Await:
			return Outcome{Next: AwaitingCommissionableDiscovery{Payload: s.Payload}, Timer: TimerRearm}, true
		case Timeout:
			return to(FinishingPase{Node: s.Node})
		case Success:
			return Outcome{Next: PaseComplete{Node: s.Node}, Timer: TimerCancel}, true
		default:
			return none()
		}

	case FinishingPase:
		if _, ok := ev.(Success); ok {
			return Outcome{Next: PaseComplete(s), Timer: TimerCancel}, true
		}

	case PaseComplete:
		if ev, ok := ev.(ArmFailSafe); ok {
			return to(InvokingArmFailSafe{Expiry: ev.Expiry})
		}

	case InvokingArmFailSafe:
		// Some commissionees echo the ArmFailSafe command instead of sending
		// its response, which surfaces here as a Failure.
		switch ev.(type) {
		case Success:
			return to(FailSafeArmed{})
		case Failure:
			return Outcome{Next: FailSafeArmed{}, Tolerated: true}, true
		default:
			return none()
		}

	case FailSafeArmed:
		if ev, ok := ev.(AttestationInformation); ok {
			return to(InvokingAttestationRequest{Attestation: ev.Attestation})
		}

	case InvokingAttestationRequest:
		if ev, ok := ev.(AttestationInformation); ok {
			return to(InvokingDacCertificateChainRequest{Attestation: s.Attestation.Merge(ev.Attestation)})
		}

	case InvokingDacCertificateChainRequest:
		if ev, ok := ev.(AttestationInformation); ok {
			return to(InvokingPaiCertificateChainRequest{Attestation: s.Attestation.Merge(ev.Attestation)})
		}

	case InvokingPaiCertificateChainRequest:
		if ev, ok := ev.(AttestationInformation); ok {
			return to(CapturingAttestationChallenge{Attestation: s.Attestation.Merge(ev.Attestation)})
		}

	case CapturingAttestationChallenge:
		if ev, ok := ev.(AttestationInformation); ok {
			return to(AttestationVerification{Attestation: s.Attestation.Merge(ev.Attestation)})
		}

	case AttestationVerification:
		if ev, ok := ev.(AttestationInformation); ok {
			return to(AttestationVerified{Attestation: s.Attestation.Merge(ev.Attestation)})
		}

	case AttestationVerified:
		if ev, ok := ev.(NocsrInformation); ok {
			return to(InvokingOpCSRRequest{Nocsr: ev.Nocsr})
		}

	case InvokingOpCSRRequest:
		if ev, ok := ev.(NocsrInformation); ok {
			return to(OpCSRResponseReceived{Nocsr: s.Nocsr.Merge(ev.Nocsr)})
		}

	case OpCSRResponseReceived:
		if ev, ok := ev.(NocsrInformation); ok {
			return to(SigningCertificates{Nocsr: s.Nocsr.Merge(ev.Nocsr)})
		}

	case SigningCertificates:
		if ev, ok := ev.(OperationalCredentials); ok {
			return to(CertificatesSigned{Credentials: ev.Credentials})
		}

	case CertificatesSigned:
		if ev, ok := ev.(OperationalCredentials); ok {
			return to(InvokingAddTrustedRootCertificate{Credentials: s.Credentials.Merge(ev.Credentials)})
		}

	case InvokingAddTrustedRootCertificate:
		if ev, ok := ev.(OperationalCredentials); ok {
			return to(InvokingAddNOC{Credentials: s.Credentials.Merge(ev.Credentials)})
		}

	case InvokingAddNOC:
		if _, ok := ev.(OperationalCredentials); ok {
			return to(OpCredsWritten{})
		}

	case OpCredsWritten:
		switch ev.(type) {
		case InitiateNetworkConfiguration:
			return to(ReadingNetworkFeatureMap{})
		case SkipNetworkConfiguration:
			return to(NetworkEnabled{})
		default:
			return none()
		}

	case ReadingNetworkFeatureMap:
		if ev, ok := ev.(NetworkFeatureMap); ok {
			return to(NetworkFeatureMapRead{FeatureMap: ev.FeatureMap})
		}

	case NetworkFeatureMapRead:
		switch ev := ev.(type) {
		case AddOrUpdateWiFiNetwork:
			return to(InvokingAddOrUpdateWiFiNetwork{SSID: ev.SSID})
		case AddOrUpdateThreadNetwork:
			return to(InvokingAddOrUpdateThreadNetwork{Dataset: ev.Dataset})
		default:
			return none()
		}

	case InvokingAddOrUpdateWiFiNetwork:
		if ev, ok := ev.(NetworkID); ok {
			return to(NetworkAdded{NetworkID: ev.ID})
		}

	case InvokingAddOrUpdateThreadNetwork:
		if ev, ok := ev.(NetworkID); ok {
			return to(NetworkAdded{NetworkID: ev.ID})
		}

	case NetworkAdded:
		if ev, ok := ev.(NetworkID); ok {
			id := ev.ID
			if len(id) == 0 {
				id = s.NetworkID
			}
			return to(InvokingConnectNetwork{NetworkID: id})
		}

	case InvokingConnectNetwork:
		if _, ok := ev.(Success); ok {
			return to(NetworkEnabled{})
		}

	case NetworkEnabled:
		if _, ok := ev.(InitiateOperationalDiscovery); ok {
			return to(OperationalDiscovery{})
		}

	case OperationalDiscovery:
		if ev, ok := ev.(OperationalRecord); ok {
			return to(InitiatingCase{Node: ev.Node})
		}

	case InitiatingCase:
		if _, ok := ev.(Success); ok {
			return to(CaseComplete(s))
		}

	case CaseComplete:
		if _, ok := ev.(InvokeCommissioningComplete); ok {
			return to(InvokingCommissioningComplete(s))
		}

	case InvokingCommissioningComplete:
		// Same echo quirk as ArmFailSafe.
		switch ev.(type) {
		case Success:
			return to(CommissioningComplete(s))
		case Failure:
			return Outcome{Next: CommissioningComplete(s), Tolerated: true}, true
		default:
			return none()
		}

	case CommissioningComplete, Failed:
		return none()
	}

	return none()
}

// globalTransition holds the rules that apply to every state.
func globalTransition(s State, ev Event) (Outcome, bool) {
	switch ev := ev.(type) {
	case Shutdown:
		return Outcome{Next: Idle{}, Timer: TimerCancel}, true
	case Failure:
		if s.Kind() == KindIdle || Terminal(s) {
			return none()
		}
		cause := ev.Err
		if cause == nil {
			cause = errUnspecifiedFailure
		}
		return Outcome{Next: Failed{Cause: cause}, Timer: TimerCancel}, true
	default:
		return none()
	}
}
