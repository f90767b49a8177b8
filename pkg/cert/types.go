package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Certificate validity periods.
const (
	// RootValidity is the validity of a fabric root certificate.
	RootValidity = 20 * 365 * 24 * time.Hour

	// NOCValidity is the validity of a node operational certificate.
	NOCValidity = 365 * 24 * time.Hour

	// AttestationValidity is the validity of development attestation
	// certificates.
	AttestationValidity = 10 * 365 * 24 * time.Hour

	// clockSkew backdates NotBefore so freshly issued certificates verify on
	// peers whose clocks run slightly behind.
	clockSkew = time.Hour
)

// IPKSize is the size of the identity protection key.
const IPKSize = 16

// Errors.
var (
	ErrInvalidCert  = errors.New("invalid certificate")
	ErrInvalidKey   = errors.New("invalid key")
	ErrNoNodeID     = errors.New("certificate carries no node id")
	ErrNotFound     = errors.New("fabric not found")
	ErrFabricLocked = errors.New("fabric has no signing key")
)

var compressedFabricInfo = []byte("CompressedFabric")

// Fabric is the commissioner's trust domain: a self-signed root and the key
// that signs node operational certificates under it.
type Fabric struct {
	// ID is the 64-bit fabric id.
	ID uint64

	// Certificate is the root certificate (RCAC).
	Certificate *x509.Certificate

	// PrivateKey signs NOCs. Nil for a fabric loaded without its key.
	PrivateKey *ecdsa.PrivateKey

	// IPK is the identity protection key handed out with every NOC.
	IPK []byte
}

// NewFabric creates a fabric with a fresh root key and certificate.
func NewFabric(id uint64) (*Fabric, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	serial, err := newSerial()
	if err != nil {
		return nil, err
	}
	ski, err := subjectKeyID(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               fabricSubject(id),
		NotBefore:             now.Add(-clockSkew),
		NotAfter:              now.Add(RootValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
		SubjectKeyId:          ski,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create root certificate: %w", err)
	}
	root, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}

	ipk := make([]byte, IPKSize)
	if _, err := rand.Read(ipk); err != nil {
		return nil, fmt.Errorf("generate IPK: %w", err)
	}

	return &Fabric{ID: id, Certificate: root, PrivateKey: key, IPK: ipk}, nil
}

// Pool returns a pool holding only the fabric root.
func (f *Fabric) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(f.Certificate)
	return pool
}

// CompressedID derives the compressed fabric id used in operational
// instance names. It is HKDF-SHA256 over the root public key, salted with
// the big-endian fabric id.
func (f *Fabric) CompressedID() (uint64, error) {
	pub, ok := f.Certificate.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return 0, ErrInvalidKey
	}
	raw, err := pub.ECDH()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	// Drop the uncompressed point marker.
	ikm := raw.Bytes()[1:]

	var salt [8]byte
	binary.BigEndian.PutUint64(salt[:], f.ID)

	out := make([]byte, 8)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt[:], compressedFabricInfo), out); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(out), nil
}

// OperationalCert is a node operational certificate with its key.
type OperationalCert struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey

	// Root is the fabric root the certificate chains to.
	Root *x509.Certificate
}

// NodeID returns the node id carried in the certificate subject.
func (oc *OperationalCert) NodeID() (uint64, error) {
	return NodeIDFromCertificate(oc.Certificate)
}

// TLSCertificate returns the certificate in the form crypto/tls expects.
func (oc *OperationalCert) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{oc.Certificate.Raw},
		PrivateKey:  oc.PrivateKey,
		Leaf:        oc.Certificate,
	}
}

// NeedsRenewal reports whether the certificate expires within window.
func (oc *OperationalCert) NeedsRenewal(window time.Duration) bool {
	if oc.Certificate == nil {
		return true
	}
	return time.Now().Add(window).After(oc.Certificate.NotAfter)
}

// NodeIDFromCertificate parses the node id from a NOC common name, which
// holds it as 16 hex digits.
func NodeIDFromCertificate(c *x509.Certificate) (uint64, error) {
	if c == nil {
		return 0, ErrInvalidCert
	}
	cn := c.Subject.CommonName
	if len(cn) != 16 {
		return 0, fmt.Errorf("%w: common name %q", ErrNoNodeID, cn)
	}
	id, err := strconv.ParseUint(cn, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNoNodeID, err)
	}
	return id, nil
}

// GenerateKey creates a P-256 key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

func newSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	return serial, nil
}

func subjectKeyID(pub *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(der)
	return sum[:20], nil
}
