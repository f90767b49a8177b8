package commissioner

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mash-protocol/commissioner/pkg/cluster"
	"github.com/mash-protocol/commissioner/pkg/commissioning"
	"github.com/mash-protocol/commissioner/pkg/payload"
)

// Discoverer finds commissionable and operational nodes.
// *discovery.MDNSBrowser implements it.
type Discoverer interface {
	// FindCommissionable returns a node advertising the payload's
	// discriminator. It returns discovery.ErrNotFound when the browse
	// ended without a match.
	FindCommissionable(ctx context.Context, p *payload.Payload) (*commissioning.NodeRecord, error)

	// ResolveOperational returns the operational address of peer.
	ResolveOperational(ctx context.Context, peer commissioning.PeerID) (*commissioning.OperationalNode, error)
}

// Commissionee is the command surface of a node being commissioned.
// *cluster.Client implements it.
type Commissionee interface {
	ArmFailSafe(ctx context.Context, expiry time.Duration, breadcrumb uint64) error
	AttestationRequest(ctx context.Context, nonce []byte) (elements, signature []byte, err error)
	CertificateChainRequest(ctx context.Context, typ cluster.CertificateType) ([]byte, error)
	CSRRequest(ctx context.Context, nonce []byte) (elements, signature []byte, err error)
	AddTrustedRootCertificate(ctx context.Context, root []byte) error
	AddNOC(ctx context.Context, creds commissioning.Credentials) (commissioning.FabricIndex, error)
	ReadNetworkFeatureMap(ctx context.Context) (commissioning.FeatureMap, error)
	AddOrUpdateWiFiNetwork(ctx context.Context, ssid, passphrase []byte, breadcrumb uint64) ([]byte, error)
	AddOrUpdateThreadNetwork(ctx context.Context, dataset []byte, breadcrumb uint64) ([]byte, error)
	ConnectNetwork(ctx context.Context, networkID []byte, breadcrumb uint64) error
	CommissioningComplete(ctx context.Context) error
}

// Pairing is a PASE session together with the commands that run over it.
type Pairing interface {
	commissioning.PairingSession
	Commissionee() Commissionee
}

// Pairer establishes PASE with a commissionable node. It returns
// pase.ErrBusy or pase.ErrRefused when the node cannot pair right now.
type Pairer interface {
	Pair(ctx context.Context, run uuid.UUID, node *commissioning.NodeRecord, passcode uint32) (Pairing, error)
}

// Operational is a CASE session together with the commands that run over
// it.
type Operational interface {
	commissioning.OperationalSession
	Commissionee() Commissionee
}

// CaseDialer establishes the operational session with a commissioned node.
type CaseDialer interface {
	Dial(ctx context.Context, run uuid.UUID, node *commissioning.OperationalNode) (Operational, error)
}

// AttestationVerifier checks device attestation material.
// *cert.AttestationVerifier implements it.
type AttestationVerifier interface {
	// Verify checks the DAC chain and the attestation signature. Zero
	// vendorID or productID skips that check.
	Verify(ctx context.Context, att commissioning.Attestation, vendorID, productID uint16) error

	// VerifyNocsr checks the CSR response signature with the DAC key and
	// returns the CSR.
	VerifyNocsr(ctx context.Context, att commissioning.Attestation, nocsr commissioning.Nocsr) ([]byte, error)
}
