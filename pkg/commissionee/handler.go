package commissionee

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"time"

	"github.com/mash-protocol/commissioner/pkg/cert"
	"github.com/mash-protocol/commissioner/pkg/cluster"
	"github.com/mash-protocol/commissioner/pkg/commissioning"
	"github.com/mash-protocol/commissioner/pkg/failsafe"
)

// threadNetworkIDSize is the length of the id derived for a Thread dataset.
const threadNetworkIDSize = 8

// handler answers commands on one channel. challenge is set on the
// commissioning channel only.
type handler struct {
	device      *Device
	challenge   []byte
	operational bool
}

var _ cluster.Handler = (*handler)(nil)

func (h *handler) requireArmed() error {
	if !h.device.failsafe.IsArmed() {
		return cluster.NewStatusError(cluster.StatusFailSafeRequired, "fail-safe not armed")
	}
	return nil
}

func (h *handler) requireChallenge() error {
	if len(h.challenge) == 0 {
		return cluster.NewStatusError(cluster.StatusUnsupportedCommand, "requires a PASE session")
	}
	return nil
}

func (h *handler) ArmFailSafe(_ context.Context, req cluster.ArmFailSafeRequest) error {
	d := h.device
	d.mu.Lock()
	commissioned := d.commissioned
	d.mu.Unlock()
	if commissioned && !h.operational {
		return cluster.NewStatusError(cluster.StatusBusyWithOtherAdmin, "already commissioned")
	}

	expiry := time.Duration(req.ExpiryLengthSeconds) * time.Second
	if err := d.failsafe.Arm(expiry, req.Breadcrumb); err != nil {
		if errors.Is(err, failsafe.ErrExceedsMaximum) {
			return cluster.NewStatusError(cluster.StatusConstraintError, "%v", err)
		}
		return err
	}
	d.logger.Debug("fail-safe armed", "expiry", expiry, "breadcrumb", req.Breadcrumb)
	return nil
}

func (h *handler) Attest(_ context.Context, nonce []byte) (cluster.SignedResponse, error) {
	if err := h.requireChallenge(); err != nil {
		return cluster.SignedResponse{}, err
	}
	if len(nonce) != cert.NonceSize {
		return cluster.SignedResponse{}, cluster.NewStatusError(cluster.StatusInvalidCommand, "nonce is %d bytes", len(nonce))
	}
	elements, signature, err := h.device.config.Attester.Attest(nonce, h.challenge)
	if err != nil {
		return cluster.SignedResponse{}, err
	}
	return cluster.SignedResponse{Elements: elements, Signature: signature}, nil
}

func (h *handler) CertificateChain(_ context.Context, typ cluster.CertificateType) ([]byte, error) {
	a := h.device.config.Attester
	switch typ {
	case cluster.CertificateDAC:
		return a.DAC.Raw, nil
	case cluster.CertificatePAI:
		return a.PAI.Raw, nil
	default:
		return nil, cluster.NewStatusError(cluster.StatusConstraintError, "%s", typ)
	}
}

func (h *handler) SignCSR(_ context.Context, nonce []byte) (cluster.SignedResponse, error) {
	if err := h.requireChallenge(); err != nil {
		return cluster.SignedResponse{}, err
	}
	if err := h.requireArmed(); err != nil {
		return cluster.SignedResponse{}, err
	}
	if len(nonce) != cert.NonceSize {
		return cluster.SignedResponse{}, cluster.NewStatusError(cluster.StatusInvalidCommand, "nonce is %d bytes", len(nonce))
	}

	key, err := cert.GenerateKey()
	if err != nil {
		return cluster.SignedResponse{}, err
	}
	csr, err := cert.CreateCSR(key)
	if err != nil {
		return cluster.SignedResponse{}, err
	}
	elements, signature, err := h.device.config.Attester.SignNocsr(csr, nonce, h.challenge)
	if err != nil {
		return cluster.SignedResponse{}, err
	}

	d := h.device
	d.mu.Lock()
	d.csrKey = key
	d.mu.Unlock()
	return cluster.SignedResponse{Elements: elements, Signature: signature}, nil
}

func (h *handler) AddTrustedRootCertificate(_ context.Context, root []byte) error {
	if err := h.requireArmed(); err != nil {
		return err
	}
	c, err := x509.ParseCertificate(root)
	if err != nil || !c.IsCA {
		return cluster.NewStatusError(cluster.StatusInvalidCommand, "not a root certificate")
	}
	if err := c.CheckSignatureFrom(c); err != nil {
		return cluster.NewStatusError(cluster.StatusInvalidCommand, "root is not self-signed")
	}

	d := h.device
	d.mu.Lock()
	d.root = c
	d.mu.Unlock()
	return nil
}

func (h *handler) AddNOC(_ context.Context, req cluster.AddNOCRequest) (uint8, error) {
	if err := h.requireArmed(); err != nil {
		return 0, err
	}

	d := h.device
	d.mu.Lock()
	root, key := d.root, d.csrKey
	d.mu.Unlock()
	if root == nil {
		return 0, cluster.NewStatusError(cluster.StatusMissingRoot, "no trusted root")
	}
	if key == nil {
		return 0, cluster.NewStatusError(cluster.StatusInvalidNOC, "no pending CSR")
	}

	noc, _, err := cert.ParseNOC(req.NOC, root.Raw, key)
	if err != nil {
		return 0, cluster.NewStatusError(cluster.StatusInvalidNOC, "%v", err)
	}
	nodeID, err := cert.NodeIDFromCertificate(noc)
	if err != nil {
		return 0, cluster.NewStatusError(cluster.StatusInvalidNOC, "%v", err)
	}
	fabricID, err := cert.FabricIDFromCertificate(root)
	if err != nil {
		return 0, cluster.NewStatusError(cluster.StatusInvalidNOC, "%v", err)
	}
	compressed, err := (&cert.Fabric{ID: fabricID, Certificate: root}).CompressedID()
	if err != nil {
		return 0, err
	}

	f := &fabric{
		root: root,
		noc:  noc,
		key:  key,
		peer: commissioning.PeerID{CompressedFabricID: compressed, NodeID: commissioning.NodeID(nodeID)},
	}
	if err := d.installFabric(f); err != nil {
		return 0, err
	}
	d.logger.Debug("NOC installed", "node", f.peer.NodeID, "admin_subject", req.CaseAdminSubject, "admin_vendor", req.AdminVendorID)
	return DefaultFabricIndex, nil
}

func (h *handler) NetworkFeatureMap(context.Context) (uint32, error) {
	return uint32(h.device.config.FeatureMap), nil
}

func (h *handler) AddOrUpdateWiFiNetwork(_ context.Context, req cluster.AddOrUpdateWiFiNetworkRequest) ([]byte, error) {
	if err := h.requireArmed(); err != nil {
		return nil, err
	}
	if !h.device.config.FeatureMap.Has(commissioning.FeatureWiFi) {
		return nil, cluster.NewStatusError(cluster.StatusUnsupportedCommand, "no Wi-Fi interface")
	}
	if len(req.SSID) == 0 || len(req.SSID) > 32 {
		return nil, cluster.NewStatusError(cluster.StatusConstraintError, "SSID is %d bytes", len(req.SSID))
	}
	return h.addNetwork(bytes.Clone(req.SSID), req.Credentials, req.Breadcrumb)
}

func (h *handler) AddOrUpdateThreadNetwork(_ context.Context, req cluster.AddOrUpdateThreadNetworkRequest) ([]byte, error) {
	if err := h.requireArmed(); err != nil {
		return nil, err
	}
	if !h.device.config.FeatureMap.Has(commissioning.FeatureThread) {
		return nil, cluster.NewStatusError(cluster.StatusUnsupportedCommand, "no Thread interface")
	}
	if len(req.OperationalDataset) == 0 {
		return nil, cluster.NewStatusError(cluster.StatusConstraintError, "empty dataset")
	}
	sum := sha256.Sum256(req.OperationalDataset)
	return h.addNetwork(sum[:threadNetworkIDSize], req.OperationalDataset, req.Breadcrumb)
}

func (h *handler) addNetwork(id, credentials []byte, breadcrumb uint64) ([]byte, error) {
	d := h.device
	d.mu.Lock()
	d.networks[string(id)] = bytes.Clone(credentials)
	d.mu.Unlock()
	_ = d.failsafe.SetBreadcrumb(breadcrumb)
	d.logger.Debug("network added", "id", id)
	return id, nil
}

func (h *handler) ConnectNetwork(_ context.Context, req cluster.ConnectNetworkRequest) error {
	if err := h.requireArmed(); err != nil {
		return err
	}
	d := h.device
	d.mu.Lock()
	_, ok := d.networks[string(req.NetworkID)]
	if ok {
		d.connected = bytes.Clone(req.NetworkID)
	}
	d.mu.Unlock()
	if !ok {
		return cluster.NewStatusError(cluster.StatusNetworkNotFound, "%x", req.NetworkID)
	}
	_ = d.failsafe.SetBreadcrumb(req.Breadcrumb)
	d.logger.Debug("network connected", "id", req.NetworkID)
	return nil
}

func (h *handler) CommissioningComplete(context.Context) error {
	if !h.operational {
		return cluster.NewStatusError(cluster.StatusUnsupportedCommand, "requires an operational session")
	}
	d := h.device
	if err := d.failsafe.Disarm(); err != nil {
		return cluster.NewStatusError(cluster.StatusFailSafeRequired, "%v", err)
	}
	d.complete()
	return nil
}
