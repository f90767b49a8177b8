package commissioning

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"time"
)

// NodeID is a 64-bit operational node identifier.
type NodeID uint64

// String returns the node id as 16 upper-case hex digits.
func (n NodeID) String() string {
	return fmt.Sprintf("%016X", uint64(n))
}

// FabricID is a 64-bit fabric identifier.
type FabricID uint64

// String returns the fabric id as 16 upper-case hex digits.
func (f FabricID) String() string {
	return fmt.Sprintf("%016X", uint64(f))
}

// FabricIndex is the commissionee-local index of the fabric being joined.
type FabricIndex uint8

// PeerID names a node on a fabric for operational discovery.
type PeerID struct {
	CompressedFabricID uint64
	NodeID             NodeID
}

// String returns the operational instance name "<fabric>-<node>".
func (p PeerID) String() string {
	return fmt.Sprintf("%016X-%s", p.CompressedFabricID, p.NodeID)
}

// NodeRecord describes a commissionable node found by discovery.
type NodeRecord struct {
	InstanceName  string
	HostName      string
	Addresses     []net.IP
	Port          uint16
	Discriminator uint16
	VendorID      uint16
	ProductID     uint16

	// CommissioningMode is the advertised mode (1 basic, 2 enhanced).
	CommissioningMode uint8
}

// Address returns the first address as host:port, or "" when none is known.
func (r *NodeRecord) Address() string {
	if r == nil || len(r.Addresses) == 0 {
		return ""
	}
	return net.JoinHostPort(r.Addresses[0].String(), strconv.Itoa(int(r.Port)))
}

// OperationalNode is a resolved operational address for a commissioned node.
type OperationalNode struct {
	PeerID    PeerID
	HostName  string
	Addresses []net.IP
	Port      uint16
}

// Address returns the first address as host:port, or "" when none is known.
func (o *OperationalNode) Address() string {
	if o == nil || len(o.Addresses) == 0 {
		return ""
	}
	return net.JoinHostPort(o.Addresses[0].String(), strconv.Itoa(int(o.Port)))
}

// Attestation accumulates device attestation material as it is collected.
type Attestation struct {
	// Nonce is the 32-byte attestation nonce sent with AttestationRequest.
	Nonce []byte

	// Elements and Signature are the AttestationResponse fields.
	Elements  []byte
	Signature []byte

	// DAC and PAI are the DER-encoded certificates.
	DAC []byte
	PAI []byte

	// Challenge is the attestation challenge derived from the PASE session.
	Challenge []byte

	// Verified is set once the chain and signature have been checked.
	Verified bool
}

// Merge returns a copy of a with every non-empty field of b applied on top.
func (a Attestation) Merge(b Attestation) Attestation {
	a.Nonce = pick(a.Nonce, b.Nonce)
	a.Elements = pick(a.Elements, b.Elements)
	a.Signature = pick(a.Signature, b.Signature)
	a.DAC = pick(a.DAC, b.DAC)
	a.PAI = pick(a.PAI, b.PAI)
	a.Challenge = pick(a.Challenge, b.Challenge)
	a.Verified = a.Verified || b.Verified
	return a
}

// Nocsr accumulates the operational CSR exchange.
type Nocsr struct {
	// Nonce is the 32-byte CSR nonce sent with CSRRequest.
	Nonce []byte

	// Elements and Signature are the CSRResponse fields. Signature is made
	// with the DAC key over Elements and the attestation challenge.
	Elements  []byte
	Signature []byte

	// CSR is the DER-encoded PKCS#10 request extracted from Elements.
	CSR []byte

	// Verified is set once the signature has been checked.
	Verified bool
}

// Merge returns a copy of n with every non-empty field of b applied on top.
func (n Nocsr) Merge(b Nocsr) Nocsr {
	n.Nonce = pick(n.Nonce, b.Nonce)
	n.Elements = pick(n.Elements, b.Elements)
	n.Signature = pick(n.Signature, b.Signature)
	n.CSR = pick(n.CSR, b.CSR)
	n.Verified = n.Verified || b.Verified
	return n
}

// Credentials are the operational credentials issued to the commissionee.
type Credentials struct {
	// RootCert is the fabric trusted root (RCAC), DER.
	RootCert []byte

	// NOC is the node operational certificate, DER.
	NOC []byte

	// ICAC is the optional intermediate, DER.
	ICAC []byte

	// IPK is the identity protection key.
	IPK []byte

	// CaseAdminSubject is the node id granted administer privilege.
	CaseAdminSubject uint64

	// AdminVendorID is the commissioner's vendor id.
	AdminVendorID uint16

	// RootInstalled and NOCInstalled track what has been written to the
	// commissionee.
	RootInstalled bool
	NOCInstalled  bool
}

// Merge returns a copy of c with every non-empty field of b applied on top.
func (c Credentials) Merge(b Credentials) Credentials {
	c.RootCert = pick(c.RootCert, b.RootCert)
	c.NOC = pick(c.NOC, b.NOC)
	c.ICAC = pick(c.ICAC, b.ICAC)
	c.IPK = pick(c.IPK, b.IPK)
	if b.CaseAdminSubject != 0 {
		c.CaseAdminSubject = b.CaseAdminSubject
	}
	if b.AdminVendorID != 0 {
		c.AdminVendorID = b.AdminVendorID
	}
	c.RootInstalled = c.RootInstalled || b.RootInstalled
	c.NOCInstalled = c.NOCInstalled || b.NOCInstalled
	return c
}

func pick(cur, next []byte) []byte {
	if len(next) > 0 {
		return bytes.Clone(next)
	}
	return cur
}

// FeatureMap is the network commissioning cluster feature bitmap.
type FeatureMap uint32

const (
	// FeatureWiFi means the commissionee has a Wi-Fi interface.
	FeatureWiFi FeatureMap = 1 << 0

	// FeatureThread means the commissionee has a Thread interface.
	FeatureThread FeatureMap = 1 << 1

	// FeatureEthernet means the commissionee has an Ethernet interface.
	FeatureEthernet FeatureMap = 1 << 2
)

// Has reports whether all bits of f are set.
func (m FeatureMap) Has(f FeatureMap) bool {
	return m&f == f
}

// String returns the features joined by "|".
func (m FeatureMap) String() string {
	s := ""
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if m.Has(FeatureWiFi) {
		add("WIFI")
	}
	if m.Has(FeatureThread) {
		add("THREAD")
	}
	if m.Has(FeatureEthernet) {
		add("ETHERNET")
	}
	if s == "" {
		return "NONE"
	}
	return s
}

// Identity is the fabric identity the commissionee is joined to, plus the
// deadlines used while commissioning it.
type Identity struct {
	FabricIndex        FabricIndex
	FabricID           FabricID
	CompressedFabricID uint64
	NodeID             NodeID

	// AdminVendorID is written with the NOC.
	AdminVendorID uint16

	// CaseAdminSubject is the node id granted administer privilege.
	CaseAdminSubject uint64

	// DiscoveryTimeout bounds discovery and PASE together.
	// Default: 30 seconds.
	DiscoveryTimeout time.Duration

	// FailSafeExpiry is the fail-safe duration requested from the
	// commissionee. Default: 60 seconds.
	FailSafeExpiry time.Duration
}

// Identity defaults.
const (
	DefaultDiscoveryTimeout = 30 * time.Second
	DefaultFailSafeExpiry   = 60 * time.Second
)

// withDefaults fills zero deadlines.
func (i Identity) withDefaults() Identity {
	if i.DiscoveryTimeout <= 0 {
		i.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if i.FailSafeExpiry <= 0 {
		i.FailSafeExpiry = DefaultFailSafeExpiry
	}
	return i
}

// Validate checks that the identity can be used for a run.
func (i Identity) Validate() error {
	if i.FabricID == 0 {
		return fmt.Errorf("%w: fabric id is zero", ErrInvalidIdentity)
	}
	if i.NodeID == 0 {
		return fmt.Errorf("%w: node id is zero", ErrInvalidIdentity)
	}
	if i.FabricIndex == 0 {
		return fmt.Errorf("%w: fabric index is zero", ErrInvalidIdentity)
	}
	return nil
}

// NetworkCredentials are provisioned onto the commissionee during the
// network phase. Empty credentials skip that phase.
type NetworkCredentials struct {
	WiFiSSID       string
	WiFiPassphrase string

	// ThreadDataset is the Thread operational dataset TLVs.
	ThreadDataset []byte
}

// Empty reports whether no network credentials were supplied.
func (c NetworkCredentials) Empty() bool {
	return c.WiFiSSID == "" && len(c.ThreadDataset) == 0
}
