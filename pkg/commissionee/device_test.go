package commissionee

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/commissioner/pkg/cert"
	"github.com/mash-protocol/commissioner/pkg/cluster"
	"github.com/mash-protocol/commissioner/pkg/commissioning"
	"github.com/mash-protocol/commissioner/pkg/discovery"
	"github.com/mash-protocol/commissioner/pkg/failsafe"
	"github.com/mash-protocol/commissioner/pkg/pase"
)

const (
	testVendorID  = 0xFFF1
	testProductID = 0x8000
)

type stubAdvertiser struct {
	mock.Mock
}

func (a *stubAdvertiser) AdvertiseCommissionable(ctx context.Context, info *discovery.CommissionableInfo) (string, error) {
	args := a.Called(info)
	return args.String(0), args.Error(1)
}

func (a *stubAdvertiser) StopCommissionable() { a.Called() }

func (a *stubAdvertiser) AdvertiseOperational(ctx context.Context, peer commissioning.PeerID, port uint16) error {
	return a.Called(peer, port).Error(0)
}

func (a *stubAdvertiser) StopOperational(peer commissioning.PeerID) { a.Called(peer) }

func (a *stubAdvertiser) StopAll() { a.Called() }

type testEnv struct {
	pki    *cert.DevelopmentPKI
	device *Device
	h      *handler
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	pki, err := cert.NewDevelopmentPKI(testVendorID, testProductID)
	require.NoError(t, err)

	config := Config{
		Passcode:           20202021,
		Discriminator:      3840,
		VendorID:           testVendorID,
		ProductID:          testProductID,
		Attester:           pki.Attester,
		Address:            "127.0.0.1:0",
		OperationalAddress: "127.0.0.1:0",
	}
	if mutate != nil {
		mutate(&config)
	}
	d, err := New(config)
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Stop() })

	return &testEnv{
		pki:    pki,
		device: d,
		h:      &handler{device: d, challenge: []byte("session-challenge")},
	}
}

func requireStatus(t *testing.T, err error, want cluster.Status) {
	t.Helper()
	require.Error(t, err)
	status, ok := cluster.StatusOf(err)
	require.True(t, ok, "not a status error: %v", err)
	assert.Equal(t, want, status)
}

func TestNewDefaults(t *testing.T) {
	pki, err := cert.NewDevelopmentPKI(testVendorID, testProductID)
	require.NoError(t, err)

	_, err = New(Config{})
	assert.ErrorIs(t, err, ErrNoAttester)

	d, err := New(Config{Attester: pki.Attester})
	require.NoError(t, err)
	p := d.Payload()
	assert.NoError(t, p.Validate())
	assert.NotZero(t, p.Passcode)
	assert.Len(t, d.config.Salt, DefaultSaltSize)
	assert.Equal(t, uint32(DefaultIterations), d.config.Iterations)
	assert.Equal(t, commissioning.FeatureWiFi, d.config.FeatureMap)
}

func TestStartOpensWindow(t *testing.T) {
	env := newTestEnv(t, nil)

	assert.Equal(t, pase.WindowOpen, env.device.Window().State())
	assert.NotZero(t, env.device.Port())
	assert.Zero(t, env.device.OperationalPort())
	assert.ErrorIs(t, env.device.Start(context.Background()), ErrAlreadyStarted)
}

func TestStopTwice(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.device.Stop())
	assert.ErrorIs(t, env.device.Stop(), ErrNotStarted)
}

func TestAdvertiserFollowsWindow(t *testing.T) {
	adv := &stubAdvertiser{}
	adv.On("AdvertiseCommissionable", mock.MatchedBy(func(info *discovery.CommissionableInfo) bool {
		return info.Discriminator == 3840 && info.VendorID == testVendorID && info.Port != 0
	})).Return("ABCDEF0123456789", nil)
	adv.On("StopCommissionable").Return()
	adv.On("StopAll").Return()

	env := newTestEnv(t, func(c *Config) { c.Advertiser = adv })
	env.device.Window().Close()
	require.NoError(t, env.device.Stop())

	adv.AssertCalled(t, "AdvertiseCommissionable", mock.Anything)
	adv.AssertCalled(t, "StopCommissionable")
	adv.AssertCalled(t, "StopAll")
}

func TestCommandsRequireFailSafe(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	nonce, err := cert.NewNonce()
	require.NoError(t, err)

	_, err = env.h.SignCSR(ctx, nonce)
	requireStatus(t, err, cluster.StatusFailSafeRequired)

	err = env.h.AddTrustedRootCertificate(ctx, env.pki.PAA.Raw)
	requireStatus(t, err, cluster.StatusFailSafeRequired)

	_, err = env.h.AddNOC(ctx, cluster.AddNOCRequest{NOC: []byte{1}})
	requireStatus(t, err, cluster.StatusFailSafeRequired)

	_, err = env.h.AddOrUpdateWiFiNetwork(ctx, cluster.AddOrUpdateWiFiNetworkRequest{SSID: []byte("home")})
	requireStatus(t, err, cluster.StatusFailSafeRequired)

	err = env.h.ConnectNetwork(ctx, cluster.ConnectNetworkRequest{NetworkID: []byte("home")})
	requireStatus(t, err, cluster.StatusFailSafeRequired)
}

func TestArmFailSafeLimit(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxFailSafe = time.Minute })

	err := env.h.ArmFailSafe(context.Background(), cluster.ArmFailSafeRequest{ExpiryLengthSeconds: 120})
	requireStatus(t, err, cluster.StatusConstraintError)

	require.NoError(t, env.h.ArmFailSafe(context.Background(), cluster.ArmFailSafeRequest{ExpiryLengthSeconds: 30, Breadcrumb: 1}))
	assert.True(t, env.device.FailSafe().IsArmed())
	assert.Equal(t, uint64(1), env.device.FailSafe().Breadcrumb())
}

func TestAttestVerifies(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	nonce, err := cert.NewNonce()
	require.NoError(t, err)
	resp, err := env.h.Attest(ctx, nonce)
	require.NoError(t, err)
	dac, err := env.h.CertificateChain(ctx, cluster.CertificateDAC)
	require.NoError(t, err)
	pai, err := env.h.CertificateChain(ctx, cluster.CertificatePAI)
	require.NoError(t, err)

	verifier := cert.NewAttestationVerifier(env.pki.Pool())
	err = verifier.Verify(ctx, commissioning.Attestation{
		Nonce:     nonce,
		Elements:  resp.Elements,
		Signature: resp.Signature,
		DAC:       dac,
		PAI:       pai,
		Challenge: env.h.challenge,
	}, testVendorID, testProductID)
	assert.NoError(t, err)

	_, err = env.h.Attest(ctx, []byte("short"))
	requireStatus(t, err, cluster.StatusInvalidCommand)

	_, err = env.h.CertificateChain(ctx, cluster.CertificateType(9))
	requireStatus(t, err, cluster.StatusConstraintError)

	op := &handler{device: env.device, operational: true}
	_, err = op.Attest(ctx, nonce)
	requireStatus(t, err, cluster.StatusUnsupportedCommand)
}

func TestNetworkProvisioning(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.h.ArmFailSafe(ctx, cluster.ArmFailSafeRequest{ExpiryLengthSeconds: 60}))

	_, err := env.h.AddOrUpdateWiFiNetwork(ctx, cluster.AddOrUpdateWiFiNetworkRequest{})
	requireStatus(t, err, cluster.StatusConstraintError)

	_, err = env.h.AddOrUpdateThreadNetwork(ctx, cluster.AddOrUpdateThreadNetworkRequest{OperationalDataset: []byte{0x0e}})
	requireStatus(t, err, cluster.StatusUnsupportedCommand)

	id, err := env.h.AddOrUpdateWiFiNetwork(ctx, cluster.AddOrUpdateWiFiNetworkRequest{
		SSID:        []byte("home"),
		Credentials: []byte("secret"),
		Breadcrumb:  2,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("home"), id)
	assert.Equal(t, uint64(2), env.device.FailSafe().Breadcrumb())

	err = env.h.ConnectNetwork(ctx, cluster.ConnectNetworkRequest{NetworkID: []byte("other")})
	requireStatus(t, err, cluster.StatusNetworkNotFound)

	require.NoError(t, env.h.ConnectNetwork(ctx, cluster.ConnectNetworkRequest{NetworkID: id, Breadcrumb: 3}))
	assert.Equal(t, id, env.device.ConnectedNetwork())
}

func TestThreadNetworkID(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.FeatureMap = commissioning.FeatureThread })
	ctx := context.Background()
	require.NoError(t, env.h.ArmFailSafe(ctx, cluster.ArmFailSafeRequest{ExpiryLengthSeconds: 60}))

	dataset := []byte{0x0e, 0x08, 0x00, 0x00}
	id1, err := env.h.AddOrUpdateThreadNetwork(ctx, cluster.AddOrUpdateThreadNetworkRequest{OperationalDataset: dataset})
	require.NoError(t, err)
	id2, err := env.h.AddOrUpdateThreadNetwork(ctx, cluster.AddOrUpdateThreadNetworkRequest{OperationalDataset: dataset})
	require.NoError(t, err)
	assert.Len(t, id1, threadNetworkIDSize)
	assert.Equal(t, id1, id2)
}

// joinFabric drives the credential commands the way a commissioner does.
func joinFabric(t *testing.T, env *testEnv, fabric *cert.Fabric, nodeID uint64) {
	t.Helper()
	ctx := context.Background()

	nonce, err := cert.NewNonce()
	require.NoError(t, err)
	resp, err := env.h.SignCSR(ctx, nonce)
	require.NoError(t, err)

	verifier := cert.NewAttestationVerifier(env.pki.Pool())
	csr, err := verifier.VerifyNocsr(ctx,
		commissioning.Attestation{DAC: env.pki.Attester.DAC.Raw, Challenge: env.h.challenge},
		commissioning.Nocsr{Nonce: nonce, Elements: resp.Elements, Signature: resp.Signature},
	)
	require.NoError(t, err)

	issuer, err := cert.NewIssuer(fabric)
	require.NoError(t, err)
	creds, err := issuer.Issue(ctx, commissioning.IssueRequest{
		CSR:      csr,
		FabricID: commissioning.FabricID(fabric.ID),
		NodeID:   commissioning.NodeID(nodeID),
	})
	require.NoError(t, err)

	require.NoError(t, env.h.AddTrustedRootCertificate(ctx, creds.RootCert))
	index, err := env.h.AddNOC(ctx, cluster.AddNOCRequest{NOC: creds.NOC, IPK: creds.IPK})
	require.NoError(t, err)
	assert.Equal(t, uint8(DefaultFabricIndex), index)
}

func TestAddNOC(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.h.ArmFailSafe(ctx, cluster.ArmFailSafeRequest{ExpiryLengthSeconds: 60}))

	fabric, err := cert.NewFabric(0xFAB000000000001D)
	require.NoError(t, err)

	_, err = env.h.AddNOC(ctx, cluster.AddNOCRequest{NOC: []byte{1}})
	requireStatus(t, err, cluster.StatusMissingRoot)

	joinFabric(t, env, fabric, 0x1122334455667788)

	peer, ok := env.device.PeerID()
	require.True(t, ok)
	compressed, err := fabric.CompressedID()
	require.NoError(t, err)
	assert.Equal(t, commissioning.PeerID{CompressedFabricID: compressed, NodeID: 0x1122334455667788}, peer)
	assert.NotZero(t, env.device.OperationalPort())
}

func TestAddNOCRejectsForeignKey(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.h.ArmFailSafe(ctx, cluster.ArmFailSafeRequest{ExpiryLengthSeconds: 60}))

	fabric, err := cert.NewFabric(1)
	require.NoError(t, err)
	issuer, err := cert.NewIssuer(fabric)
	require.NoError(t, err)
	other, err := issuer.IssueOperational(7)
	require.NoError(t, err)

	nonce, err := cert.NewNonce()
	require.NoError(t, err)
	_, err = env.h.SignCSR(ctx, nonce)
	require.NoError(t, err)
	require.NoError(t, env.h.AddTrustedRootCertificate(ctx, fabric.Certificate.Raw))

	_, err = env.h.AddNOC(ctx, cluster.AddNOCRequest{NOC: other.Certificate.Raw})
	requireStatus(t, err, cluster.StatusInvalidNOC)
}

func TestFailSafeExpiryRollsBack(t *testing.T) {
	adv := &stubAdvertiser{}
	adv.On("AdvertiseCommissionable", mock.Anything).Return("ABCDEF0123456789", nil)
	adv.On("StopCommissionable").Return()
	adv.On("AdvertiseOperational", mock.Anything, mock.Anything).Return(nil)
	adv.On("StopOperational", mock.Anything).Return()
	adv.On("StopAll").Return()

	env := newTestEnv(t, func(c *Config) { c.Advertiser = adv })
	ctx := context.Background()
	require.NoError(t, env.h.ArmFailSafe(ctx, cluster.ArmFailSafeRequest{ExpiryLengthSeconds: 60}))

	fabric, err := cert.NewFabric(2)
	require.NoError(t, err)
	joinFabric(t, env, fabric, 42)
	_, err = env.h.AddOrUpdateWiFiNetwork(ctx, cluster.AddOrUpdateWiFiNetworkRequest{SSID: []byte("home")})
	require.NoError(t, err)
	require.NoError(t, env.h.ConnectNetwork(ctx, cluster.ConnectNetworkRequest{NetworkID: []byte("home")}))

	// A zero expiry expires the fail-safe immediately.
	require.NoError(t, env.h.ArmFailSafe(ctx, cluster.ArmFailSafeRequest{}))

	assert.Equal(t, failsafe.StateExpired, env.device.FailSafe().State())
	_, ok := env.device.PeerID()
	assert.False(t, ok)
	assert.Nil(t, env.device.ConnectedNetwork())
	assert.False(t, env.device.Commissioned())
	assert.Equal(t, pase.WindowOpen, env.device.Window().State())
	adv.AssertCalled(t, "StopOperational", mock.Anything)
}

func TestCommissioningComplete(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	op := &handler{device: env.device, operational: true}

	requireStatus(t, op.CommissioningComplete(ctx), cluster.StatusFailSafeRequired)

	require.NoError(t, env.h.ArmFailSafe(ctx, cluster.ArmFailSafeRequest{ExpiryLengthSeconds: 60}))
	fabric, err := cert.NewFabric(3)
	require.NoError(t, err)
	joinFabric(t, env, fabric, 99)

	requireStatus(t, env.h.CommissioningComplete(ctx), cluster.StatusUnsupportedCommand)
	require.NoError(t, op.CommissioningComplete(ctx))

	assert.True(t, env.device.Commissioned())
	assert.Equal(t, failsafe.StateDisarmed, env.device.FailSafe().State())
	assert.Equal(t, pase.WindowClosed, env.device.Window().State())

	// Commissioned devices refuse a new commissioner and keep their window
	// closed.
	err = env.h.ArmFailSafe(ctx, cluster.ArmFailSafeRequest{ExpiryLengthSeconds: 60})
	requireStatus(t, err, cluster.StatusBusyWithOtherAdmin)
	env.device.OpenWindow()
	assert.Equal(t, pase.WindowClosed, env.device.Window().State())
}
