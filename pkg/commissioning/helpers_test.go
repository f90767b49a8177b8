package commissioning

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/commissioner/pkg/payload"
)

const testQRCode = "MT:Y.K9042C00KA0648G00"

var errTest = errors.New("test failure")

func testPayload() *payload.Payload {
	return payload.MustParse(testQRCode)
}

func testIdentity() Identity {
	return Identity{
		FabricIndex:        1,
		FabricID:           0xFAB000000000001D,
		CompressedFabricID: 0x87E1B004E235A130,
		NodeID:             0x1122334455667788,
		AdminVendorID:      0xFFF1,
		CaseAdminSubject:   0x0000000000000001,
		DiscoveryTimeout:   5 * time.Second,
	}
}

func testNode() *NodeRecord {
	return &NodeRecord{
		InstanceName:  "B6D7E2A1C3F40912",
		HostName:      "commissionee.local.",
		Addresses:     []net.IP{net.ParseIP("192.168.1.20")},
		Port:          5540,
		Discriminator: 3840,
		VendorID:      0xFFF1,
		ProductID:     0x8000,
	}
}

func testOperationalNode() *OperationalNode {
	return &OperationalNode{
		PeerID:    PeerID{CompressedFabricID: 0x87E1B004E235A130, NodeID: 0x1122334455667788},
		HostName:  "commissionee.local.",
		Addresses: []net.IP{net.ParseIP("192.168.1.20")},
		Port:      5540,
	}
}

// ---------------------------------------------------------------------------
// fakeScheduler
// ---------------------------------------------------------------------------

// fakeScheduler records timers without running them. Tests fire them by hand.
type fakeScheduler struct {
	mu       sync.Mutex
	fires    []func()
	started  []time.Duration
	cancels  int
	startErr error
}

func (s *fakeScheduler) StartTimer(d time.Duration, fire func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = append(s.started, d)
	s.fires = append(s.fires, fire)
	return nil
}

func (s *fakeScheduler) CancelTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
}

// fire runs the most recently started timer callback.
func (s *fakeScheduler) fire(t *testing.T) {
	t.Helper()
	s.fireAt(t, len(s.fires)-1)
}

func (s *fakeScheduler) fireAt(t *testing.T, i int) {
	t.Helper()
	s.mu.Lock()
	require.Less(t, i, len(s.fires), "no timer started")
	require.GreaterOrEqual(t, i, 0, "no timer started")
	fn := s.fires[i]
	s.mu.Unlock()
	fn()
}

// ---------------------------------------------------------------------------
// stubs
// ---------------------------------------------------------------------------

type stubPairingSession struct{ mock.Mock }

func (s *stubPairingSession) AttestationChallenge() []byte {
	ret := s.Called()
	if ret.Get(0) == nil {
		return nil
	}
	return ret.Get(0).([]byte)
}
func (s *stubPairingSession) Close() error { return s.Called().Error(0) }

type stubOperationalSession struct{ mock.Mock }

func (s *stubOperationalSession) PeerNodeID() NodeID { return s.Called().Get(0).(NodeID) }
func (s *stubOperationalSession) Close() error       { return s.Called().Error(0) }

type stubController struct{ mock.Mock }

func (c *stubController) Adopt(node *OperationalNode, session OperationalSession) error {
	return c.Called(node, session).Error(0)
}

type stubRecorder struct{ mock.Mock }

func (r *stubRecorder) Transition(from, to StateKind)            { r.Called(from, to) }
func (r *stubRecorder) Dropped(state StateKind, event EventKind) { r.Called(state, event) }
func (r *stubRecorder) Completed(terminal StateKind, elapsed time.Duration) {
	r.Called(terminal, elapsed)
}

// ---------------------------------------------------------------------------
// engine helpers
// ---------------------------------------------------------------------------

type callbacks struct {
	successes int
	failures  []error
}

func (c *callbacks) onSuccess()          { c.successes++ }
func (c *callbacks) onFailure(err error) { c.failures = append(c.failures, err) }

func newTestEngine(t *testing.T) (*Engine, *fakeScheduler) {
	t.Helper()
	sched := &fakeScheduler{}
	e := NewEngine(EngineConfig{})
	require.NoError(t, e.Init(Collaborators{Scheduler: sched}, testIdentity(), NetworkCredentials{}))
	return e, sched
}

type step struct {
	ev   Event
	want StateKind
}

// happyPath returns the events of a complete run and the state each one
// leads to.
func happyPath(pairing PairingSession, session OperationalSession) []step {
	return []step{
		{OnboardingPayload{Code: testQRCode}, KindParsingOnboardingPayload},
		{ParsedPayload{Payload: testPayload()}, KindCommissionableNodeDiscovery},
		{Success{Artifact: testNode()}, KindInitiatingPase},
		{Success{Artifact: Paired{Session: pairing}}, KindPaseComplete},
		{ArmFailSafe{}, KindInvokingArmFailSafe},
		{Success{}, KindFailSafeArmed},
		{AttestationInformation{Attestation{Nonce: []byte{1}}}, KindInvokingAttestationRequest},
		{AttestationInformation{Attestation{Elements: []byte{2}, Signature: []byte{3}}}, KindInvokingDacCertificateChainRequest},
		{AttestationInformation{Attestation{DAC: []byte{4}}}, KindInvokingPaiCertificateChainRequest},
		{AttestationInformation{Attestation{PAI: []byte{5}}}, KindCapturingAttestationChallenge},
		{AttestationInformation{Attestation{Challenge: []byte{6}}}, KindAttestationVerification},
		{AttestationInformation{Attestation{Verified: true}}, KindAttestationVerified},
		{NocsrInformation{Nocsr{Nonce: []byte{7}}}, KindInvokingOpCSRRequest},
		{NocsrInformation{Nocsr{Elements: []byte{8}, Signature: []byte{9}, CSR: []byte{10}}}, KindOpCSRResponseReceived},
		{NocsrInformation{Nocsr{Verified: true}}, KindSigningCertificates},
		{OperationalCredentials{Credentials{RootCert: []byte{11}, NOC: []byte{12}, IPK: []byte{13}}}, KindCertificatesSigned},
		{OperationalCredentials{Credentials{}}, KindInvokingAddTrustedRootCertificate},
		{OperationalCredentials{Credentials{RootInstalled: true}}, KindInvokingAddNOC},
		{OperationalCredentials{Credentials{NOCInstalled: true}}, KindOpCredsWritten},
		{InitiateNetworkConfiguration{}, KindReadingNetworkFeatureMap},
		{NetworkFeatureMap{FeatureMap: FeatureWiFi}, KindNetworkFeatureMapRead},
		{AddOrUpdateWiFiNetwork{SSID: "lab", Passphrase: "secret"}, KindInvokingAddOrUpdateWiFiNetwork},
		{NetworkID{ID: []byte("lab")}, KindNetworkAdded},
		{NetworkID{}, KindInvokingConnectNetwork},
		{Success{}, KindNetworkEnabled},
		{InitiateOperationalDiscovery{}, KindOperationalDiscovery},
		{OperationalRecord{Node: testOperationalNode()}, KindInitiatingCase},
		{Success{Artifact: Established{Session: session}}, KindCaseComplete},
		{InvokeCommissioningComplete{}, KindInvokingCommissioningComplete},
		{Success{}, KindCommissioningComplete},
	}
}

// driveTo starts a run and dispatches happy path events until the engine
// is in target. Sessions are nil unless the caller's path needs them.
func driveTo(t *testing.T, e *Engine, target StateKind, cb *callbacks, pairing PairingSession, session OperationalSession) {
	t.Helper()
	if target == KindIdle {
		return
	}
	if cb == nil {
		cb = &callbacks{}
	}
	if target == KindFailed {
		require.NoError(t, e.Commission(OnboardingPayload{Code: testQRCode}, cb.onSuccess, cb.onFailure))
		e.Dispatch(Failure{Err: errTest})
		require.Equal(t, KindFailed, e.State().Kind())
		return
	}

	steps := happyPath(pairing, session)
	require.NoError(t, e.Commission(steps[0].ev, cb.onSuccess, cb.onFailure))
	require.Equal(t, steps[0].want, e.State().Kind())
	for _, s := range steps[1:] {
		if e.State().Kind() == target {
			return
		}
		e.Dispatch(s.ev)
		require.Equal(t, s.want, e.State().Kind(), "after %s", s.ev.Kind())
	}
	require.Equal(t, target, e.State().Kind())
}
