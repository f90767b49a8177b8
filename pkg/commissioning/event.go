package commissioning

import (
	"time"

	"github.com/mash-protocol/commissioner/pkg/payload"
)

// EventKind identifies an event variant.
type EventKind uint8

const (
	EventOnboardingPayload EventKind = iota
	EventParsedPayload
	EventSuccess
	EventFailure
	EventTimeout
	EventAwait
	EventArmFailSafe
	EventAttestationInformation
	EventNocsrInformation
	EventOperationalCredentials
	EventInitiateNetworkConfiguration
	EventSkipNetworkConfiguration
	EventNetworkFeatureMap
	EventAddOrUpdateWiFiNetwork
	EventAddOrUpdateThreadNetwork
	EventNetworkID
	EventInitiateOperationalDiscovery
	EventOperationalRecord
	EventInvokeCommissioningComplete
	EventShutdown
)

var eventKindNames = [...]string{
	EventOnboardingPayload:            "ONBOARDING_PAYLOAD",
	EventParsedPayload:                "PARSED_PAYLOAD",
	EventSuccess:                      "SUCCESS",
	EventFailure:                      "FAILURE",
	EventTimeout:                      "TIMEOUT",
	EventAwait:                        "AWAIT",
	EventArmFailSafe:                  "ARM_FAIL_SAFE",
	EventAttestationInformation:       "ATTESTATION_INFORMATION",
	EventNocsrInformation:             "NOCSR_INFORMATION",
	EventOperationalCredentials:       "OPERATIONAL_CREDENTIALS",
	EventInitiateNetworkConfiguration: "INITIATE_NETWORK_CONFIGURATION",
	EventSkipNetworkConfiguration:     "SKIP_NETWORK_CONFIGURATION",
	EventNetworkFeatureMap:            "NETWORK_FEATURE_MAP",
	EventAddOrUpdateWiFiNetwork:       "ADD_OR_UPDATE_WIFI_NETWORK",
	EventAddOrUpdateThreadNetwork:     "ADD_OR_UPDATE_THREAD_NETWORK",
	EventNetworkID:                    "NETWORK_ID",
	EventInitiateOperationalDiscovery: "INITIATE_OPERATIONAL_DISCOVERY",
	EventOperationalRecord:            "OPERATIONAL_RECORD",
	EventInvokeCommissioningComplete:  "INVOKE_COMMISSIONING_COMPLETE",
	EventShutdown:                     "SHUTDOWN",
}

// String returns the event name in upper snake case.
func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "UNKNOWN"
}

// EventKinds returns every event kind in declaration order.
func EventKinds() []EventKind {
	kinds := make([]EventKind, len(eventKindNames))
	for i := range kinds {
		kinds[i] = EventKind(i)
	}
	return kinds
}

// Event is an input that can drive a transition. The set of implementations
// is closed; switches over Event must handle every variant.
//
//sumtype:decl
type Event interface {
	Kind() EventKind
	isEvent()
}

// OnboardingPayload starts a run from a QR or manual pairing code.
type OnboardingPayload struct {
	Code string
}

func (OnboardingPayload) Kind() EventKind { return EventOnboardingPayload }
func (OnboardingPayload) isEvent()        {}

// ParsedPayload delivers a decoded onboarding payload. It may also start a
// run directly when the caller already holds a structured payload.
type ParsedPayload struct {
	Payload *payload.Payload
}

func (ParsedPayload) Kind() EventKind { return EventParsedPayload }
func (ParsedPayload) isEvent()        {}

// Success reports that the delegated operation of the current state
// finished. Artifact carries its result when it has one.
type Success struct {
	Artifact Artifact
}

func (Success) Kind() EventKind { return EventSuccess }
func (Success) isEvent()        {}

// Failure reports that the delegated operation of the current state failed.
type Failure struct {
	Err error
}

func (Failure) Kind() EventKind { return EventFailure }
func (Failure) isEvent()        {}

// Timeout is delivered when the engine deadline expires. Timeouts from a
// cancelled or replaced timer are dropped.
type Timeout struct {
	gen uint64
}

func (Timeout) Kind() EventKind { return EventTimeout }
func (Timeout) isEvent()        {}

// Await reports that the node is busy and pairing should be retried.
type Await struct{}

func (Await) Kind() EventKind { return EventAwait }
func (Await) isEvent()        {}

// ArmFailSafe asks to arm the fail-safe. Zero Expiry uses the configured
// default.
type ArmFailSafe struct {
	Expiry time.Duration
}

func (ArmFailSafe) Kind() EventKind { return EventArmFailSafe }
func (ArmFailSafe) isEvent()        {}

// AttestationInformation carries the next piece of attestation material.
type AttestationInformation struct {
	Attestation Attestation
}

func (AttestationInformation) Kind() EventKind { return EventAttestationInformation }
func (AttestationInformation) isEvent()        {}

// NocsrInformation carries the next piece of the CSR exchange.
type NocsrInformation struct {
	Nocsr Nocsr
}

func (NocsrInformation) Kind() EventKind { return EventNocsrInformation }
func (NocsrInformation) isEvent()        {}

// OperationalCredentials carries issued or installed credentials.
type OperationalCredentials struct {
	Credentials Credentials
}

func (OperationalCredentials) Kind() EventKind { return EventOperationalCredentials }
func (OperationalCredentials) isEvent()        {}

type InitiateNetworkConfiguration struct{}

func (InitiateNetworkConfiguration) Kind() EventKind { return EventInitiateNetworkConfiguration }
func (InitiateNetworkConfiguration) isEvent()        {}

// SkipNetworkConfiguration bypasses the network phase for nodes already on
// the operational network.
type SkipNetworkConfiguration struct{}

func (SkipNetworkConfiguration) Kind() EventKind { return EventSkipNetworkConfiguration }
func (SkipNetworkConfiguration) isEvent()        {}

type NetworkFeatureMap struct {
	FeatureMap FeatureMap
}

func (NetworkFeatureMap) Kind() EventKind { return EventNetworkFeatureMap }
func (NetworkFeatureMap) isEvent()        {}

type AddOrUpdateWiFiNetwork struct {
	SSID       string
	Passphrase string
}

func (AddOrUpdateWiFiNetwork) Kind() EventKind { return EventAddOrUpdateWiFiNetwork }
func (AddOrUpdateWiFiNetwork) isEvent()        {}

type AddOrUpdateThreadNetwork struct {
	Dataset []byte
}

func (AddOrUpdateThreadNetwork) Kind() EventKind { return EventAddOrUpdateThreadNetwork }
func (AddOrUpdateThreadNetwork) isEvent()        {}

// NetworkID carries the network id returned by the commissionee.
type NetworkID struct {
	ID []byte
}

func (NetworkID) Kind() EventKind { return EventNetworkID }
func (NetworkID) isEvent()        {}

type InitiateOperationalDiscovery struct{}

func (InitiateOperationalDiscovery) Kind() EventKind { return EventInitiateOperationalDiscovery }
func (InitiateOperationalDiscovery) isEvent()        {}

// OperationalRecord carries a resolved operational address.
type OperationalRecord struct {
	Node *OperationalNode
}

func (OperationalRecord) Kind() EventKind { return EventOperationalRecord }
func (OperationalRecord) isEvent()        {}

type InvokeCommissioningComplete struct{}

func (InvokeCommissioningComplete) Kind() EventKind { return EventInvokeCommissioningComplete }
func (InvokeCommissioningComplete) isEvent()        {}

// Shutdown cancels any run and returns the engine to Idle.
type Shutdown struct{}

func (Shutdown) Kind() EventKind { return EventShutdown }
func (Shutdown) isEvent()        {}

// Artifact is a result carried by Success.
//
//sumtype:decl
type Artifact interface {
	isArtifact()
}

// Paired carries an established PASE session.
type Paired struct {
	Session PairingSession
}

// Established carries an established CASE session.
type Established struct {
	Session OperationalSession
}

func (*NodeRecord) isArtifact() {}
func (Paired) isArtifact()      {}
func (Established) isArtifact() {}
