package cert

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mash-protocol/commissioner/pkg/commissioning"
)

// Issuer errors.
var (
	ErrInvalidCSR     = errors.New("invalid certificate signing request")
	ErrFabricMismatch = errors.New("request is for another fabric")
	ErrZeroNodeID     = errors.New("node id must not be zero")
)

// Issuer signs node operational certificates under a fabric root.
type Issuer struct {
	mu       sync.Mutex
	fabric   *Fabric
	validity time.Duration
	now      func() time.Time
}

// NewIssuer creates an issuer for fabric.
func NewIssuer(fabric *Fabric) (*Issuer, error) {
	if fabric == nil || fabric.Certificate == nil {
		return nil, ErrNotFound
	}
	if fabric.PrivateKey == nil {
		return nil, ErrFabricLocked
	}
	return &Issuer{fabric: fabric, validity: NOCValidity, now: time.Now}, nil
}

// Fabric returns the fabric the issuer signs for.
func (i *Issuer) Fabric() *Fabric {
	return i.fabric
}

// Issue verifies req.CSR and returns a NOC for req.NodeID together with the
// fabric root and IPK.
func (i *Issuer) Issue(ctx context.Context, req commissioning.IssueRequest) (commissioning.Credentials, error) {
	if err := ctx.Err(); err != nil {
		return commissioning.Credentials{}, err
	}
	if uint64(req.FabricID) != i.fabric.ID {
		return commissioning.Credentials{}, fmt.Errorf("%w: %s", ErrFabricMismatch, req.FabricID)
	}
	if req.NodeID == 0 {
		return commissioning.Credentials{}, ErrZeroNodeID
	}

	pub, err := parseCSR(req.CSR)
	if err != nil {
		return commissioning.Credentials{}, err
	}

	noc, err := i.sign(pub, uint64(req.NodeID))
	if err != nil {
		return commissioning.Credentials{}, err
	}

	return commissioning.Credentials{
		RootCert:         bytes.Clone(i.fabric.Certificate.Raw),
		NOC:              noc.Raw,
		IPK:              bytes.Clone(i.fabric.IPK),
		CaseAdminSubject: req.CaseAdminSubject,
		AdminVendorID:    req.AdminVendorID,
	}, nil
}

// IssueOperational creates a key and NOC for nodeID. The commissioner uses
// it for its own identity on the fabric.
func (i *Issuer) IssueOperational(nodeID uint64) (*OperationalCert, error) {
	if nodeID == 0 {
		return nil, ErrZeroNodeID
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	noc, err := i.sign(&key.PublicKey, nodeID)
	if err != nil {
		return nil, err
	}
	return &OperationalCert{Certificate: noc, PrivateKey: key, Root: i.fabric.Certificate}, nil
}

func (i *Issuer) sign(pub *ecdsa.PublicKey, nodeID uint64) (*x509.Certificate, error) {
	serial, err := newSerial()
	if err != nil {
		return nil, err
	}
	ski, err := subjectKeyID(pub)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	now := i.now()
	validity := i.validity
	i.mu.Unlock()

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               nodeSubject(nodeID, i.fabric.ID),
		NotBefore:             now.Add(-clockSkew),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
		SubjectKeyId:          ski,
		AuthorityKeyId:        i.fabric.Certificate.SubjectKeyId,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, i.fabric.Certificate, pub, i.fabric.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("create NOC: %w", err)
	}
	return x509.ParseCertificate(der)
}

// parseCSR checks the request signature and returns its P-256 public key.
func parseCSR(der []byte) (*ecdsa.PublicKey, error) {
	if len(der) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidCSR)
	}
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCSR, err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCSR, err)
	}
	pub, ok := csr.PublicKey.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: key is not P-256", ErrInvalidCSR)
	}
	return pub, nil
}

// CreateCSR builds a DER certificate request for key. The subject is left
// to the issuer.
func CreateCSR(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject: pkix.Name{CommonName: "CSR"},
	}, key)
	if err != nil {
		return nil, fmt.Errorf("create CSR: %w", err)
	}
	return der, nil
}

// FabricIDFromCertificate parses the fabric id from a root or NOC subject.
func FabricIDFromCertificate(c *x509.Certificate) (uint64, error) {
	if c == nil || len(c.Subject.OrganizationalUnit) == 0 {
		return 0, ErrInvalidCert
	}
	id, err := strconv.ParseUint(c.Subject.OrganizationalUnit[0], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: fabric id: %w", ErrInvalidCert, err)
	}
	return id, nil
}

func fabricSubject(fabricID uint64) pkix.Name {
	return pkix.Name{
		CommonName:         "RCAC",
		OrganizationalUnit: []string{fmt.Sprintf("%016X", fabricID)},
	}
}

func nodeSubject(nodeID, fabricID uint64) pkix.Name {
	return pkix.Name{
		CommonName:         fmt.Sprintf("%016X", nodeID),
		OrganizationalUnit: []string{fmt.Sprintf("%016X", fabricID)},
	}
}
