package commissioning

import (
	"time"

	"github.com/mash-protocol/commissioner/pkg/payload"
)

// StateKind identifies a commissioning phase.
type StateKind uint8

const (
	KindIdle StateKind = iota
	KindParsingOnboardingPayload
	KindCommissionableNodeDiscovery
	KindAbortingCommissionableDiscovery
	KindAwaitingCommissionableDiscovery
	KindInitiatingPase
	KindFinishingPase
	KindPaseComplete
	KindInvokingArmFailSafe
	KindFailSafeArmed
	KindInvokingAttestationRequest
	KindInvokingDacCertificateChainRequest
	KindInvokingPaiCertificateChainRequest
	KindCapturingAttestationChallenge
	KindAttestationVerification
	KindAttestationVerified
	KindInvokingOpCSRRequest
	KindOpCSRResponseReceived
	KindSigningCertificates
	KindCertificatesSigned
	KindInvokingAddTrustedRootCertificate
	KindInvokingAddNOC
	KindOpCredsWritten
	KindReadingNetworkFeatureMap
	KindNetworkFeatureMapRead
	KindInvokingAddOrUpdateWiFiNetwork
	KindInvokingAddOrUpdateThreadNetwork
	KindNetworkAdded
	KindInvokingConnectNetwork
	KindNetworkEnabled
	KindOperationalDiscovery
	KindInitiatingCase
	KindCaseComplete
	KindInvokingCommissioningComplete
	KindCommissioningComplete
	KindFailed
)

var stateKindNames = [...]string{
	KindIdle:                               "IDLE",
	KindParsingOnboardingPayload:           "PARSING_ONBOARDING_PAYLOAD",
	KindCommissionableNodeDiscovery:        "COMMISSIONABLE_NODE_DISCOVERY",
	KindAbortingCommissionableDiscovery:    "ABORTING_COMMISSIONABLE_DISCOVERY",
	KindAwaitingCommissionableDiscovery:    "AWAITING_COMMISSIONABLE_DISCOVERY",
	KindInitiatingPase:                     "INITIATING_PASE",
	KindFinishingPase:                      "FINISHING_PASE",
	KindPaseComplete:                       "PASE_COMPLETE",
	KindInvokingArmFailSafe:                "INVOKING_ARM_FAIL_SAFE",
	KindFailSafeArmed:                      "FAIL_SAFE_ARMED",
	KindInvokingAttestationRequest:         "INVOKING_ATTESTATION_REQUEST",
	KindInvokingDacCertificateChainRequest: "INVOKING_DAC_CERTIFICATE_CHAIN_REQUEST",
	KindInvokingPaiCertificateChainRequest: "INVOKING_PAI_CERTIFICATE_CHAIN_REQUEST",
	KindCapturingAttestationChallenge:      "CAPTURING_ATTESTATION_CHALLENGE",
	KindAttestationVerification:            "ATTESTATION_VERIFICATION",
	KindAttestationVerified:                "ATTESTATION_VERIFIED",
	KindInvokingOpCSRRequest:               "INVOKING_OP_CSR_REQUEST",
	KindOpCSRResponseReceived:              "OP_CSR_RESPONSE_RECEIVED",
	KindSigningCertificates:                "SIGNING_CERTIFICATES",
	KindCertificatesSigned:                 "CERTIFICATES_SIGNED",
	KindInvokingAddTrustedRootCertificate:  "INVOKING_ADD_TRUSTED_ROOT_CERTIFICATE",
	KindInvokingAddNOC:                     "INVOKING_ADD_NOC",
	KindOpCredsWritten:                     "OP_CREDS_WRITTEN",
	KindReadingNetworkFeatureMap:           "READING_NETWORK_FEATURE_MAP",
	KindNetworkFeatureMapRead:              "NETWORK_FEATURE_MAP_READ",
	KindInvokingAddOrUpdateWiFiNetwork:     "INVOKING_ADD_OR_UPDATE_WIFI_NETWORK",
	KindInvokingAddOrUpdateThreadNetwork:   "INVOKING_ADD_OR_UPDATE_THREAD_NETWORK",
	KindNetworkAdded:                       "NETWORK_ADDED",
	KindInvokingConnectNetwork:             "INVOKING_CONNECT_NETWORK",
	KindNetworkEnabled:                     "NETWORK_ENABLED",
	KindOperationalDiscovery:               "OPERATIONAL_DISCOVERY",
	KindInitiatingCase:                     "INITIATING_CASE",
	KindCaseComplete:                       "CASE_COMPLETE",
	KindInvokingCommissioningComplete:      "INVOKING_COMMISSIONING_COMPLETE",
	KindCommissioningComplete:              "COMMISSIONING_COMPLETE",
	KindFailed:                             "FAILED",
}

// String returns the phase name in upper snake case.
func (k StateKind) String() string {
	if int(k) < len(stateKindNames) {
		return stateKindNames[k]
	}
	return "UNKNOWN"
}

// StateKinds returns every phase in declaration order.
func StateKinds() []StateKind {
	kinds := make([]StateKind, len(stateKindNames))
	for i := range kinds {
		kinds[i] = StateKind(i)
	}
	return kinds
}

// State is a commissioning phase and the data that phase carries. The set of
// implementations is closed; switches over State must handle every variant.
//
//sumtype:decl
type State interface {
	Kind() StateKind
	isState()
}

// Terminal reports whether s ends a run.
func Terminal(s State) bool {
	switch s.Kind() {
	case KindCommissioningComplete, KindFailed:
		return true
	default:
		return false
	}
}

// Idle is the resting state before and after a run.
type Idle struct{}

func (Idle) Kind() StateKind { return KindIdle }
func (Idle) isState()        {}

// Discovery phase.

// ParsingOnboardingPayload waits for the raw payload to be decoded.
type ParsingOnboardingPayload struct {
	Raw string
}

func (ParsingOnboardingPayload) Kind() StateKind { return KindParsingOnboardingPayload }
func (ParsingOnboardingPayload) isState()        {}

// CommissionableNodeDiscovery searches for the node named by Payload.
// The discovery deadline is armed on entry.
type CommissionableNodeDiscovery struct {
	Payload *payload.Payload
}

func (CommissionableNodeDiscovery) Kind() StateKind { return KindCommissionableNodeDiscovery }
func (CommissionableNodeDiscovery) isState()        {}

// AbortingCommissionableDiscovery waits for discovery to stop after the
// deadline expired.
type AbortingCommissionableDiscovery struct {
	Payload *payload.Payload
}

func (AbortingCommissionableDiscovery) Kind() StateKind { return KindAbortingCommissionableDiscovery }
func (AbortingCommissionableDiscovery) isState()        {}

// AwaitingCommissionableDiscovery searches again after the node asked the
// commissioner to retry pairing later.
type AwaitingCommissionableDiscovery struct {
	Payload *payload.Payload
}

func (AwaitingCommissionableDiscovery) Kind() StateKind { return KindAwaitingCommissionableDiscovery }
func (AwaitingCommissionableDiscovery) isState()        {}

// Pairing phase.

// InitiatingPase runs the PASE handshake with Node.
type InitiatingPase struct {
	Payload *payload.Payload
	Node    *NodeRecord
}

func (InitiatingPase) Kind() StateKind { return KindInitiatingPase }
func (InitiatingPase) isState()        {}

// FinishingPase waits for an in-flight PASE handshake after the deadline
// expired.
type FinishingPase struct {
	Node *NodeRecord
}

func (FinishingPase) Kind() StateKind { return KindFinishingPase }
func (FinishingPase) isState()        {}

// PaseComplete holds an established PASE session.
type PaseComplete struct {
	Node *NodeRecord
}

func (PaseComplete) Kind() StateKind { return KindPaseComplete }
func (PaseComplete) isState()        {}

// InvokingArmFailSafe arms the commissionee fail-safe for Expiry.
type InvokingArmFailSafe struct {
	Expiry time.Duration
}

func (InvokingArmFailSafe) Kind() StateKind { return KindInvokingArmFailSafe }
func (InvokingArmFailSafe) isState()        {}

// Fail-safe and attestation phase. Each step carries the attestation
// material collected so far.

type FailSafeArmed struct{}

func (FailSafeArmed) Kind() StateKind { return KindFailSafeArmed }
func (FailSafeArmed) isState()        {}

type InvokingAttestationRequest struct {
	Attestation Attestation
}

func (InvokingAttestationRequest) Kind() StateKind { return KindInvokingAttestationRequest }
func (InvokingAttestationRequest) isState()        {}

type InvokingDacCertificateChainRequest struct {
	Attestation Attestation
}

func (InvokingDacCertificateChainRequest) Kind() StateKind { return KindInvokingDacCertificateChainRequest }
func (InvokingDacCertificateChainRequest) isState()        {}

type InvokingPaiCertificateChainRequest struct {
	Attestation Attestation
}

func (InvokingPaiCertificateChainRequest) Kind() StateKind { return KindInvokingPaiCertificateChainRequest }
func (InvokingPaiCertificateChainRequest) isState()        {}

type CapturingAttestationChallenge struct {
	Attestation Attestation
}

func (CapturingAttestationChallenge) Kind() StateKind { return KindCapturingAttestationChallenge }
func (CapturingAttestationChallenge) isState()        {}

type AttestationVerification struct {
	Attestation Attestation
}

func (AttestationVerification) Kind() StateKind { return KindAttestationVerification }
func (AttestationVerification) isState()        {}

type AttestationVerified struct {
	Attestation Attestation
}

func (AttestationVerified) Kind() StateKind { return KindAttestationVerified }
func (AttestationVerified) isState()        {}

// Operational credential phase.

type InvokingOpCSRRequest struct {
	Nocsr Nocsr
}

func (InvokingOpCSRRequest) Kind() StateKind { return KindInvokingOpCSRRequest }
func (InvokingOpCSRRequest) isState()        {}

type OpCSRResponseReceived struct {
	Nocsr Nocsr
}

func (OpCSRResponseReceived) Kind() StateKind { return KindOpCSRResponseReceived }
func (OpCSRResponseReceived) isState()        {}

type SigningCertificates struct {
	Nocsr Nocsr
}

func (SigningCertificates) Kind() StateKind { return KindSigningCertificates }
func (SigningCertificates) isState()        {}

type CertificatesSigned struct {
	Credentials Credentials
}

func (CertificatesSigned) Kind() StateKind { return KindCertificatesSigned }
func (CertificatesSigned) isState()        {}

type InvokingAddTrustedRootCertificate struct {
	Credentials Credentials
}

func (InvokingAddTrustedRootCertificate) Kind() StateKind { return KindInvokingAddTrustedRootCertificate }
func (InvokingAddTrustedRootCertificate) isState()        {}

type InvokingAddNOC struct {
	Credentials Credentials
}

func (InvokingAddNOC) Kind() StateKind { return KindInvokingAddNOC }
func (InvokingAddNOC) isState()        {}

// OpCredsWritten means the commissionee holds its operational credentials.
type OpCredsWritten struct{}

func (OpCredsWritten) Kind() StateKind { return KindOpCredsWritten }
func (OpCredsWritten) isState()        {}

// Network provisioning phase.

type ReadingNetworkFeatureMap struct{}

func (ReadingNetworkFeatureMap) Kind() StateKind { return KindReadingNetworkFeatureMap }
func (ReadingNetworkFeatureMap) isState()        {}

type NetworkFeatureMapRead struct {
	FeatureMap FeatureMap
}

func (NetworkFeatureMapRead) Kind() StateKind { return KindNetworkFeatureMapRead }
func (NetworkFeatureMapRead) isState()        {}

type InvokingAddOrUpdateWiFiNetwork struct {
	SSID string
}

func (InvokingAddOrUpdateWiFiNetwork) Kind() StateKind { return KindInvokingAddOrUpdateWiFiNetwork }
func (InvokingAddOrUpdateWiFiNetwork) isState()        {}

type InvokingAddOrUpdateThreadNetwork struct {
	Dataset []byte
}

func (InvokingAddOrUpdateThreadNetwork) Kind() StateKind { return KindInvokingAddOrUpdateThreadNetwork }
func (InvokingAddOrUpdateThreadNetwork) isState()        {}

type NetworkAdded struct {
	NetworkID []byte
}

func (NetworkAdded) Kind() StateKind { return KindNetworkAdded }
func (NetworkAdded) isState()        {}

type InvokingConnectNetwork struct {
	NetworkID []byte
}

func (InvokingConnectNetwork) Kind() StateKind { return KindInvokingConnectNetwork }
func (InvokingConnectNetwork) isState()        {}

// NetworkEnabled means the commissionee is on the operational network.
type NetworkEnabled struct{}

func (NetworkEnabled) Kind() StateKind { return KindNetworkEnabled }
func (NetworkEnabled) isState()        {}

// Operational session and completion phase.

// OperationalDiscovery resolves the operational address of PeerID.
type OperationalDiscovery struct {
	PeerID PeerID
}

func (OperationalDiscovery) Kind() StateKind { return KindOperationalDiscovery }
func (OperationalDiscovery) isState()        {}

// InitiatingCase runs the CASE handshake with Node.
type InitiatingCase struct {
	Node *OperationalNode
}

func (InitiatingCase) Kind() StateKind { return KindInitiatingCase }
func (InitiatingCase) isState()        {}

// CaseComplete holds an established CASE session.
type CaseComplete struct {
	Node *OperationalNode
}

func (CaseComplete) Kind() StateKind { return KindCaseComplete }
func (CaseComplete) isState()        {}

type InvokingCommissioningComplete struct {
	Node *OperationalNode
}

func (InvokingCommissioningComplete) Kind() StateKind { return KindInvokingCommissioningComplete }
func (InvokingCommissioningComplete) isState()        {}

// CommissioningComplete ends a successful run.
type CommissioningComplete struct {
	Node *OperationalNode
}

func (CommissioningComplete) Kind() StateKind { return KindCommissioningComplete }
func (CommissioningComplete) isState()        {}

// Failed ends an unsuccessful run.
type Failed struct {
	Cause error
}

func (Failed) Kind() StateKind { return KindFailed }
func (Failed) isState()        {}
