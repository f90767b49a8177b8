package commissioner

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/commissioner/pkg/cluster"
	"github.com/mash-protocol/commissioner/pkg/commissioning"
	"github.com/mash-protocol/commissioner/pkg/payload"
)

const (
	testQRCode = "MT:Y.K9042C00KA0648G00"
	testNodeID = commissioning.NodeID(0x1122334455667788)
)

type stubDiscoverer struct{ mock.Mock }

func (m *stubDiscoverer) FindCommissionable(ctx context.Context, p *payload.Payload) (*commissioning.NodeRecord, error) {
	args := m.Called(ctx, p)
	node, _ := args.Get(0).(*commissioning.NodeRecord)
	return node, args.Error(1)
}

func (m *stubDiscoverer) ResolveOperational(ctx context.Context, peer commissioning.PeerID) (*commissioning.OperationalNode, error) {
	args := m.Called(ctx, peer)
	node, _ := args.Get(0).(*commissioning.OperationalNode)
	return node, args.Error(1)
}

type stubPairer struct{ mock.Mock }

func (m *stubPairer) Pair(ctx context.Context, run uuid.UUID, node *commissioning.NodeRecord, passcode uint32) (Pairing, error) {
	args := m.Called(ctx, run, node, passcode)
	p, _ := args.Get(0).(Pairing)
	return p, args.Error(1)
}

type stubDialer struct{ mock.Mock }

func (m *stubDialer) Dial(ctx context.Context, run uuid.UUID, node *commissioning.OperationalNode) (Operational, error) {
	args := m.Called(ctx, run, node)
	op, _ := args.Get(0).(Operational)
	return op, args.Error(1)
}

type stubVerifier struct{ mock.Mock }

func (m *stubVerifier) Verify(ctx context.Context, att commissioning.Attestation, vendorID, productID uint16) error {
	return m.Called(ctx, att, vendorID, productID).Error(0)
}

func (m *stubVerifier) VerifyNocsr(ctx context.Context, att commissioning.Attestation, nocsr commissioning.Nocsr) ([]byte, error) {
	args := m.Called(ctx, att, nocsr)
	csr, _ := args.Get(0).([]byte)
	return csr, args.Error(1)
}

type stubIssuer struct{ mock.Mock }

func (m *stubIssuer) Issue(ctx context.Context, req commissioning.IssueRequest) (commissioning.Credentials, error) {
	args := m.Called(ctx, req)
	creds, _ := args.Get(0).(commissioning.Credentials)
	return creds, args.Error(1)
}

type stubCommissionee struct{ mock.Mock }

func (m *stubCommissionee) ArmFailSafe(ctx context.Context, expiry time.Duration, breadcrumb uint64) error {
	return m.Called(ctx, expiry, breadcrumb).Error(0)
}

func (m *stubCommissionee) AttestationRequest(ctx context.Context, nonce []byte) ([]byte, []byte, error) {
	args := m.Called(ctx, nonce)
	elements, _ := args.Get(0).([]byte)
	signature, _ := args.Get(1).([]byte)
	return elements, signature, args.Error(2)
}

func (m *stubCommissionee) CertificateChainRequest(ctx context.Context, typ cluster.CertificateType) ([]byte, error) {
	args := m.Called(ctx, typ)
	der, _ := args.Get(0).([]byte)
	return der, args.Error(1)
}

func (m *stubCommissionee) CSRRequest(ctx context.Context, nonce []byte) ([]byte, []byte, error) {
	args := m.Called(ctx, nonce)
	elements, _ := args.Get(0).([]byte)
	signature, _ := args.Get(1).([]byte)
	return elements, signature, args.Error(2)
}

func (m *stubCommissionee) AddTrustedRootCertificate(ctx context.Context, root []byte) error {
	return m.Called(ctx, root).Error(0)
}

func (m *stubCommissionee) AddNOC(ctx context.Context, creds commissioning.Credentials) (commissioning.FabricIndex, error) {
	args := m.Called(ctx, creds)
	index, _ := args.Get(0).(commissioning.FabricIndex)
	return index, args.Error(1)
}

func (m *stubCommissionee) ReadNetworkFeatureMap(ctx context.Context) (commissioning.FeatureMap, error) {
	args := m.Called(ctx)
	fm, _ := args.Get(0).(commissioning.FeatureMap)
	return fm, args.Error(1)
}

func (m *stubCommissionee) AddOrUpdateWiFiNetwork(ctx context.Context, ssid, passphrase []byte, breadcrumb uint64) ([]byte, error) {
	args := m.Called(ctx, ssid, passphrase, breadcrumb)
	id, _ := args.Get(0).([]byte)
	return id, args.Error(1)
}

func (m *stubCommissionee) AddOrUpdateThreadNetwork(ctx context.Context, dataset []byte, breadcrumb uint64) ([]byte, error) {
	args := m.Called(ctx, dataset, breadcrumb)
	id, _ := args.Get(0).([]byte)
	return id, args.Error(1)
}

func (m *stubCommissionee) ConnectNetwork(ctx context.Context, networkID []byte, breadcrumb uint64) error {
	return m.Called(ctx, networkID, breadcrumb).Error(0)
}

func (m *stubCommissionee) CommissioningComplete(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type stubController struct{ mock.Mock }

func (m *stubController) Adopt(node *commissioning.OperationalNode, session commissioning.OperationalSession) error {
	return m.Called(node, session).Error(0)
}

type fakePairing struct {
	cm     Commissionee
	closed atomic.Bool
}

func (p *fakePairing) AttestationChallenge() []byte { return []byte("challenge") }
func (p *fakePairing) Commissionee() Commissionee   { return p.cm }
func (p *fakePairing) Close() error {
	p.closed.Store(true)
	return nil
}

type fakeOperational struct {
	cm     Commissionee
	peer   commissioning.NodeID
	closed atomic.Bool
}

func (o *fakeOperational) PeerNodeID() commissioning.NodeID { return o.peer }
func (o *fakeOperational) Commissionee() Commissionee       { return o.cm }
func (o *fakeOperational) Close() error {
	o.closed.Store(true)
	return nil
}

// fixture wires a Commissioner to stubs.
type fixture struct {
	discoverer *stubDiscoverer
	pairer     *stubPairer
	dialer     *stubDialer
	verifier   *stubVerifier
	issuer     *stubIssuer
	device     *stubCommissionee
	pairing    *fakePairing
	op         *fakeOperational

	node        *commissioning.NodeRecord
	operational *commissioning.OperationalNode
}

func newFixture() *fixture {
	device := &stubCommissionee{}
	return &fixture{
		discoverer: &stubDiscoverer{},
		pairer:     &stubPairer{},
		dialer:     &stubDialer{},
		verifier:   &stubVerifier{},
		issuer:     &stubIssuer{},
		device:     device,
		pairing:    &fakePairing{cm: device},
		op:         &fakeOperational{cm: device, peer: testNodeID},
		node: &commissioning.NodeRecord{
			InstanceName:  "ABCDEF0123456789",
			Addresses:     []net.IP{net.ParseIP("192.168.1.20")},
			Port:          5540,
			Discriminator: 3840,
			VendorID:      0xFFF1,
			ProductID:     0x8000,
		},
		operational: &commissioning.OperationalNode{
			PeerID:    commissioning.PeerID{CompressedFabricID: 0x87E1B004E235A130, NodeID: testNodeID},
			Addresses: []net.IP{net.ParseIP("192.168.1.20")},
			Port:      5540,
		},
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Discoverer: f.discoverer,
		Pairer:     f.pairer,
		Dialer:     f.dialer,
		Verifier:   f.verifier,
		Issuer:     f.issuer,
	}
}

func testConfig() Config {
	config := DefaultConfig()
	config.FabricID = 0xFAB000000000001D
	config.CompressedFabricID = 0x87E1B004E235A130
	config.NodeID = testNodeID
	config.AdminVendorID = 0xFFF1
	config.DiscoveryTimeout = 2 * time.Second
	config.RetryDelay = 10 * time.Millisecond
	config.OperationalTimeout = 2 * time.Second
	config.Backoff = BackoffConfig{InitialInterval: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond}
	return config
}

// expectDiscoveryAndPase sets up a node that is found and pairs at once.
func (f *fixture) expectDiscoveryAndPase() {
	f.discoverer.On("FindCommissionable", mock.Anything, mock.Anything).Return(f.node, nil)
	f.pairer.On("Pair", mock.Anything, mock.Anything, f.node, uint32(20202021)).Return(f.pairing, nil)
}

// expectCredentials sets up attestation, CSR and NOC installation.
func (f *fixture) expectCredentials() {
	f.device.On("ArmFailSafe", mock.Anything, commissioning.DefaultFailSafeExpiry, breadcrumbFailSafe).Return(nil)
	f.device.On("AttestationRequest", mock.Anything, mock.Anything).Return([]byte("elements"), []byte("signature"), nil)
	f.device.On("CertificateChainRequest", mock.Anything, cluster.CertificateDAC).Return([]byte("dac"), nil)
	f.device.On("CertificateChainRequest", mock.Anything, cluster.CertificatePAI).Return([]byte("pai"), nil)
	f.verifier.On("Verify", mock.Anything, mock.Anything, uint16(0xFFF1), uint16(0x8000)).Return(nil)
	f.device.On("CSRRequest", mock.Anything, mock.Anything).Return([]byte("csr-elements"), []byte("csr-signature"), nil)
	f.verifier.On("VerifyNocsr", mock.Anything, mock.Anything, mock.Anything).Return([]byte("csr"), nil)
	f.issuer.On("Issue", mock.Anything, mock.MatchedBy(func(req commissioning.IssueRequest) bool {
		return string(req.CSR) == "csr" && req.NodeID == testNodeID
	})).Return(commissioning.Credentials{RootCert: []byte("root"), NOC: []byte("noc"), IPK: []byte("ipk")}, nil)
	f.device.On("AddTrustedRootCertificate", mock.Anything, []byte("root")).Return(nil)
	f.device.On("AddNOC", mock.Anything, mock.Anything).Return(commissioning.FabricIndex(1), nil)
}

// expectOperational sets up operational discovery, CASE and completion.
func (f *fixture) expectOperational() {
	f.discoverer.On("ResolveOperational", mock.Anything, f.operational.PeerID).Return(f.operational, nil)
	f.dialer.On("Dial", mock.Anything, mock.Anything, f.operational).Return(f.op, nil)
	f.device.On("CommissioningComplete", mock.Anything).Return(nil)
}

func startCommissioner(t *testing.T, config Config, deps Deps) *Commissioner {
	t.Helper()
	c, err := New(config, deps)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func waitResult(t *testing.T, results <-chan Result) Result {
	t.Helper()
	select {
	case res, ok := <-results:
		require.True(t, ok, "result channel closed without a result")
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("no commissioning result")
		return Result{}
	}
}
