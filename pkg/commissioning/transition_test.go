package commissioning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState(k StateKind) State {
	switch k {
	case KindIdle:
		return Idle{}
	case KindParsingOnboardingPayload:
		return ParsingOnboardingPayload{Raw: testQRCode}
	case KindCommissionableNodeDiscovery:
		return CommissionableNodeDiscovery{Payload: testPayload()}
	case KindAbortingCommissionableDiscovery:
		return AbortingCommissionableDiscovery{Payload: testPayload()}
	case KindAwaitingCommissionableDiscovery:
		return AwaitingCommissionableDiscovery{Payload: testPayload()}
	case KindInitiatingPase:
		return InitiatingPase{Payload: testPayload(), Node: testNode()}
	case KindFinishingPase:
		return FinishingPase{Node: testNode()}
	case KindPaseComplete:
		return PaseComplete{Node: testNode()}
	case KindInvokingArmFailSafe:
		return InvokingArmFailSafe{Expiry: time.Minute}
	case KindFailSafeArmed:
		return FailSafeArmed{}
	case KindInvokingAttestationRequest:
		return InvokingAttestationRequest{}
	case KindInvokingDacCertificateChainRequest:
		return InvokingDacCertificateChainRequest{}
	case KindInvokingPaiCertificateChainRequest:
		return InvokingPaiCertificateChainRequest{}
	case KindCapturingAttestationChallenge:
		return CapturingAttestationChallenge{}
	case KindAttestationVerification:
		return AttestationVerification{}
	case KindAttestationVerified:
		return AttestationVerified{}
	case KindInvokingOpCSRRequest:
		return InvokingOpCSRRequest{}
	case KindOpCSRResponseReceived:
		return OpCSRResponseReceived{}
	case KindSigningCertificates:
		return SigningCertificates{}
	case KindCertificatesSigned:
		return CertificatesSigned{}
	case KindInvokingAddTrustedRootCertificate:
		return InvokingAddTrustedRootCertificate{}
	case KindInvokingAddNOC:
		return InvokingAddNOC{}
	case KindOpCredsWritten:
		return OpCredsWritten{}
	case KindReadingNetworkFeatureMap:
		return ReadingNetworkFeatureMap{}
	case KindNetworkFeatureMapRead:
		return NetworkFeatureMapRead{FeatureMap: FeatureWiFi | FeatureThread}
	case KindInvokingAddOrUpdateWiFiNetwork:
		return InvokingAddOrUpdateWiFiNetwork{SSID: "lab"}
	case KindInvokingAddOrUpdateThreadNetwork:
		return InvokingAddOrUpdateThreadNetwork{Dataset: []byte{0x0e, 0x08}}
	case KindNetworkAdded:
		return NetworkAdded{NetworkID: []byte("lab")}
	case KindInvokingConnectNetwork:
		return InvokingConnectNetwork{NetworkID: []byte("lab")}
	case KindNetworkEnabled:
		return NetworkEnabled{}
	case KindOperationalDiscovery:
		return OperationalDiscovery{}
	case KindInitiatingCase:
		return InitiatingCase{Node: testOperationalNode()}
	case KindCaseComplete:
		return CaseComplete{Node: testOperationalNode()}
	case KindInvokingCommissioningComplete:
		return InvokingCommissioningComplete{Node: testOperationalNode()}
	case KindCommissioningComplete:
		return CommissioningComplete{Node: testOperationalNode()}
	case KindFailed:
		return Failed{Cause: errTest}
	default:
		panic("unknown state kind " + k.String())
	}
}

func sampleEvent(k EventKind) Event {
	switch k {
	case EventOnboardingPayload:
		return OnboardingPayload{Code: testQRCode}
	case EventParsedPayload:
		return ParsedPayload{Payload: testPayload()}
	case EventSuccess:
		return Success{}
	case EventFailure:
		return Failure{Err: errTest}
	case EventTimeout:
		return Timeout{}
	case EventAwait:
		return Await{}
	case EventArmFailSafe:
		return ArmFailSafe{}
	case EventAttestationInformation:
		return AttestationInformation{}
	case EventNocsrInformation:
		return NocsrInformation{}
	case EventOperationalCredentials:
		return OperationalCredentials{}
	case EventInitiateNetworkConfiguration:
		return InitiateNetworkConfiguration{}
	case EventSkipNetworkConfiguration:
		return SkipNetworkConfiguration{}
	case EventNetworkFeatureMap:
		return NetworkFeatureMap{FeatureMap: FeatureWiFi}
	case EventAddOrUpdateWiFiNetwork:
		return AddOrUpdateWiFiNetwork{SSID: "lab"}
	case EventAddOrUpdateThreadNetwork:
		return AddOrUpdateThreadNetwork{Dataset: []byte{0x0e}}
	case EventNetworkID:
		return NetworkID{ID: []byte("lab")}
	case EventInitiateOperationalDiscovery:
		return InitiateOperationalDiscovery{}
	case EventOperationalRecord:
		return OperationalRecord{Node: testOperationalNode()}
	case EventInvokeCommissioningComplete:
		return InvokeCommissioningComplete{}
	case EventShutdown:
		return Shutdown{}
	default:
		panic("unknown event kind " + k.String())
	}
}

type rule struct {
	next      StateKind
	timer     TimerAction
	tolerated bool
}

// phaseRules lists every state-specific transition.
var phaseRules = map[StateKind]map[EventKind]rule{
	KindIdle: {
		EventOnboardingPayload: {next: KindParsingOnboardingPayload},
		EventParsedPayload:     {next: KindCommissionableNodeDiscovery, timer: TimerArm},
	},
	KindParsingOnboardingPayload: {
		EventParsedPayload: {next: KindCommissionableNodeDiscovery, timer: TimerArm},
	},
	KindCommissionableNodeDiscovery: {
		EventTimeout: {next: KindAbortingCommissionableDiscovery},
		EventSuccess: {next: KindInitiatingPase},
	},
	KindAbortingCommissionableDiscovery: {
		EventSuccess: {next: KindFailed, timer: TimerCancel},
	},
	KindAwaitingCommissionableDiscovery: {
		EventTimeout: {next: KindAbortingCommissionableDiscovery},
		EventSuccess: {next: KindInitiatingPase},
	},
	KindInitiatingPase: {
		EventAwait:   {next: KindAwaitingCommissionableDiscovery, timer: TimerRearm},
		EventTimeout: {next: KindFinishingPase},
		EventSuccess: {next: KindPaseComplete, timer: TimerCancel},
	},
	KindFinishingPase: {
		EventSuccess: {next: KindPaseComplete, timer: TimerCancel},
	},
	KindPaseComplete: {
		EventArmFailSafe: {next: KindInvokingArmFailSafe},
	},
	KindInvokingArmFailSafe: {
		EventSuccess: {next: KindFailSafeArmed},
		EventFailure: {next: KindFailSafeArmed, tolerated: true},
	},
	KindFailSafeArmed: {
		EventAttestationInformation: {next: KindInvokingAttestationRequest},
	},
	KindInvokingAttestationRequest: {
		EventAttestationInformation: {next: KindInvokingDacCertificateChainRequest},
	},
	KindInvokingDacCertificateChainRequest: {
		EventAttestationInformation: {next: KindInvokingPaiCertificateChainRequest},
	},
	KindInvokingPaiCertificateChainRequest: {
		EventAttestationInformation: {next: KindCapturingAttestationChallenge},
	},
	KindCapturingAttestationChallenge: {
		EventAttestationInformation: {next: KindAttestationVerification},
	},
	KindAttestationVerification: {
		EventAttestationInformation: {next: KindAttestationVerified},
	},
	KindAttestationVerified: {
		EventNocsrInformation: {next: KindInvokingOpCSRRequest},
	},
	KindInvokingOpCSRRequest: {
		EventNocsrInformation: {next: KindOpCSRResponseReceived},
	},
	KindOpCSRResponseReceived: {
		EventNocsrInformation: {next: KindSigningCertificates},
	},
	KindSigningCertificates: {
		EventOperationalCredentials: {next: KindCertificatesSigned},
	},
	KindCertificatesSigned: {
		EventOperationalCredentials: {next: KindInvokingAddTrustedRootCertificate},
	},
	KindInvokingAddTrustedRootCertificate: {
		EventOperationalCredentials: {next: KindInvokingAddNOC},
	},
	KindInvokingAddNOC: {
		EventOperationalCredentials: {next: KindOpCredsWritten},
	},
	KindOpCredsWritten: {
		EventInitiateNetworkConfiguration: {next: KindReadingNetworkFeatureMap},
		EventSkipNetworkConfiguration:     {next: KindNetworkEnabled},
	},
	KindReadingNetworkFeatureMap: {
		EventNetworkFeatureMap: {next: KindNetworkFeatureMapRead},
	},
	KindNetworkFeatureMapRead: {
		EventAddOrUpdateWiFiNetwork:   {next: KindInvokingAddOrUpdateWiFiNetwork},
		EventAddOrUpdateThreadNetwork: {next: KindInvokingAddOrUpdateThreadNetwork},
	},
	KindInvokingAddOrUpdateWiFiNetwork: {
		EventNetworkID: {next: KindNetworkAdded},
	},
	KindInvokingAddOrUpdateThreadNetwork: {
		EventNetworkID: {next: KindNetworkAdded},
	},
	KindNetworkAdded: {
		EventNetworkID: {next: KindInvokingConnectNetwork},
	},
	KindInvokingConnectNetwork: {
		EventSuccess: {next: KindNetworkEnabled},
	},
	KindNetworkEnabled: {
		EventInitiateOperationalDiscovery: {next: KindOperationalDiscovery},
	},
	KindOperationalDiscovery: {
		EventOperationalRecord: {next: KindInitiatingCase},
	},
	KindInitiatingCase: {
		EventSuccess: {next: KindCaseComplete},
	},
	KindCaseComplete: {
		EventInvokeCommissioningComplete: {next: KindInvokingCommissioningComplete},
	},
	KindInvokingCommissioningComplete: {
		EventSuccess: {next: KindCommissioningComplete},
		EventFailure: {next: KindCommissioningComplete, tolerated: true},
	},
}

func TestTransitionCoversEveryPair(t *testing.T) {
	for _, sk := range StateKinds() {
		for _, ek := range EventKinds() {
			s := sampleState(sk)
			ev := sampleEvent(ek)

			want, listed := phaseRules[sk][ek]
			switch {
			case listed:
			case ek == EventShutdown:
				want, listed = rule{next: KindIdle, timer: TimerCancel}, true
			case ek == EventFailure && sk != KindIdle && !Terminal(s):
				want, listed = rule{next: KindFailed, timer: TimerCancel}, true
			}

			out, ok := Transition(s, ev)
			name := sk.String() + "+" + ek.String()
			if !listed {
				assert.False(t, ok, "%s should not transition", name)
				continue
			}
			if assert.True(t, ok, "%s should transition", name) {
				assert.Equal(t, want.next, out.Next.Kind(), name)
				assert.Equal(t, want.timer, out.Timer, name)
				assert.Equal(t, want.tolerated, out.Tolerated, name)
			}
		}
	}
}

func TestTransitionCarriesPayloadAndNode(t *testing.T) {
	p := testPayload()
	node := testNode()

	out, ok := Transition(Idle{}, ParsedPayload{Payload: p})
	require.True(t, ok)
	cnd, ok := out.Next.(CommissionableNodeDiscovery)
	require.True(t, ok)
	assert.Same(t, p, cnd.Payload)

	out, ok = Transition(cnd, Success{Artifact: node})
	require.True(t, ok)
	pase, ok := out.Next.(InitiatingPase)
	require.True(t, ok)
	assert.Same(t, p, pase.Payload)
	assert.Same(t, node, pase.Node)

	out, ok = Transition(pase, Await{})
	require.True(t, ok)
	awaiting, ok := out.Next.(AwaitingCommissionableDiscovery)
	require.True(t, ok)
	assert.Same(t, p, awaiting.Payload, "payload survives a retry")

	out, ok = Transition(pase, Timeout{})
	require.True(t, ok)
	finishing, ok := out.Next.(FinishingPase)
	require.True(t, ok)
	assert.Same(t, node, finishing.Node)
}

func TestTransitionMergesAttestation(t *testing.T) {
	var s State = FailSafeArmed{}
	parts := []Attestation{
		{Nonce: []byte{1}},
		{Elements: []byte{2}, Signature: []byte{3}},
		{DAC: []byte{4}},
		{PAI: []byte{5}},
		{Challenge: []byte{6}},
		{Verified: true},
	}
	for _, a := range parts {
		out, ok := Transition(s, AttestationInformation{Attestation: a})
		require.True(t, ok)
		s = out.Next
	}

	verified, ok := s.(AttestationVerified)
	require.True(t, ok)
	assert.Equal(t, Attestation{
		Nonce:     []byte{1},
		Elements:  []byte{2},
		Signature: []byte{3},
		DAC:       []byte{4},
		PAI:       []byte{5},
		Challenge: []byte{6},
		Verified:  true,
	}, verified.Attestation)
}

func TestTransitionMergesCredentials(t *testing.T) {
	var s State = SigningCertificates{}
	for _, c := range []Credentials{
		{RootCert: []byte{1}, NOC: []byte{2}},
		{IPK: []byte{3}},
		{RootInstalled: true},
	} {
		out, ok := Transition(s, OperationalCredentials{Credentials: c})
		require.True(t, ok)
		s = out.Next
	}

	addNOC, ok := s.(InvokingAddNOC)
	require.True(t, ok)
	assert.Equal(t, []byte{1}, addNOC.Credentials.RootCert)
	assert.Equal(t, []byte{2}, addNOC.Credentials.NOC)
	assert.Equal(t, []byte{3}, addNOC.Credentials.IPK)
	assert.True(t, addNOC.Credentials.RootInstalled)
}

func TestTransitionNetworkID(t *testing.T) {
	t.Run("connect uses new id", func(t *testing.T) {
		out, ok := Transition(NetworkAdded{NetworkID: []byte("old")}, NetworkID{ID: []byte("new")})
		require.True(t, ok)
		assert.Equal(t, []byte("new"), out.Next.(InvokingConnectNetwork).NetworkID)
	})

	t.Run("connect keeps added id", func(t *testing.T) {
		out, ok := Transition(NetworkAdded{NetworkID: []byte("lab")}, NetworkID{})
		require.True(t, ok)
		assert.Equal(t, []byte("lab"), out.Next.(InvokingConnectNetwork).NetworkID)
	})
}

func TestTransitionDiscoveryAbortFails(t *testing.T) {
	out, ok := Transition(AbortingCommissionableDiscovery{}, Success{})
	require.True(t, ok)
	failed, ok := out.Next.(Failed)
	require.True(t, ok)
	assert.ErrorIs(t, failed.Cause, ErrDiscoveryTimeout)
}

func TestTransitionFailureCause(t *testing.T) {
	t.Run("keeps error", func(t *testing.T) {
		out, ok := Transition(FailSafeArmed{}, Failure{Err: errTest})
		require.True(t, ok)
		assert.ErrorIs(t, out.Next.(Failed).Cause, errTest)
	})

	t.Run("nil error", func(t *testing.T) {
		out, ok := Transition(FailSafeArmed{}, Failure{})
		require.True(t, ok)
		assert.Error(t, out.Next.(Failed).Cause)
	})
}

func TestTransitionCaseCarriesNode(t *testing.T) {
	node := testOperationalNode()
	var s State = OperationalDiscovery{}
	for _, ev := range []Event{
		OperationalRecord{Node: node},
		Success{},
		InvokeCommissioningComplete{},
		Success{},
	} {
		out, ok := Transition(s, ev)
		require.True(t, ok, "%s + %s", s.Kind(), ev.Kind())
		s = out.Next
	}

	done, ok := s.(CommissioningComplete)
	require.True(t, ok)
	assert.Same(t, node, done.Node)
}
