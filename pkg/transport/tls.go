package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// Channel protocol identifiers and the default port.
const (
	// ALPNCommissioning is negotiated on the commissioning channel.
	ALPNCommissioning = "commission/1"

	// ALPNOperational is negotiated on the operational channel.
	ALPNOperational = "operational/1"

	// DefaultPort is the default commissionee port.
	DefaultPort = 5540
)

// TLS errors.
var (
	ErrNoCertificate   = errors.New("certificate is required")
	ErrNoRoots         = errors.New("fabric root pool is required")
	ErrPeerMismatch    = errors.New("peer node id mismatch")
	ErrNoPeerCert      = errors.New("no peer certificate")
	ErrWrongTLSVersion = errors.New("not TLS 1.3")
	ErrWrongProtocol   = errors.New("unexpected ALPN protocol")
)

func baseConfig(protocol string) *tls.Config {
	return &tls.Config{
		// TLS 1.3 only - no fallback
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,

		NextProtos: []string{protocol},

		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},

		// No resumption
		SessionTicketsDisabled: true,
	}
}

// NewCommissioningTLSConfig creates the commissioner side of the
// commissioning channel. The commissionee certificate is self-signed and
// not verified; PASE authenticates the peer.
func NewCommissioningTLSConfig() *tls.Config {
	c := baseConfig(ALPNCommissioning)
	c.InsecureSkipVerify = true
	return c
}

// NewCommissioneeTLSConfig creates the commissionee side of the
// commissioning channel.
func NewCommissioneeTLSConfig(cert tls.Certificate) (*tls.Config, error) {
	if len(cert.Certificate) == 0 {
		return nil, ErrNoCertificate
	}
	c := baseConfig(ALPNCommissioning)
	c.Certificates = []tls.Certificate{cert}
	c.ClientAuth = tls.NoClientCert
	return c, nil
}

// OperationalTLSConfig holds the material for an operational channel.
type OperationalTLSConfig struct {
	// Certificate is this endpoint's NOC and key.
	Certificate tls.Certificate

	// Roots holds the fabric trusted roots.
	Roots *x509.CertPool

	// PeerNodeID is the expected peer node id as 16 hex digits. Empty
	// accepts any node on the fabric.
	PeerNodeID string
}

// NewOperationalClientTLSConfig creates the initiator side of an operational
// channel. The peer chain is verified against the fabric roots and its
// subject must name the expected node.
//
// Node certificates carry node ids rather than host names, so the standard
// host name check is replaced by VerifyPeerCertificate.
func NewOperationalClientTLSConfig(cfg OperationalTLSConfig) (*tls.Config, error) {
	if len(cfg.Certificate.Certificate) == 0 {
		return nil, ErrNoCertificate
	}
	if cfg.Roots == nil {
		return nil, ErrNoRoots
	}

	c := baseConfig(ALPNOperational)
	c.Certificates = []tls.Certificate{cfg.Certificate}
	c.InsecureSkipVerify = true
	c.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		return verifyNodeChain(rawCerts, cfg.Roots, cfg.PeerNodeID)
	}
	return c, nil
}

// NewOperationalServerTLSConfig creates the responder side of an operational
// channel. The initiator must present a NOC chained to one of roots.
func NewOperationalServerTLSConfig(cert tls.Certificate, roots *x509.CertPool) (*tls.Config, error) {
	if len(cert.Certificate) == 0 {
		return nil, ErrNoCertificate
	}
	if roots == nil {
		return nil, ErrNoRoots
	}

	c := baseConfig(ALPNOperational)
	c.Certificates = []tls.Certificate{cert}
	c.ClientAuth = tls.RequireAndVerifyClientCert
	c.ClientCAs = roots
	return c, nil
}

func verifyNodeChain(rawCerts [][]byte, roots *x509.CertPool, nodeID string) error {
	if len(rawCerts) == 0 {
		return ErrNoPeerCert
	}
	leaf, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}

	intermediates := x509.NewCertPool()
	for _, raw := range rawCerts[1:] {
		if c, err := x509.ParseCertificate(raw); err == nil {
			intermediates.AddCert(c)
		}
	}

	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   time.Now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	if _, err := leaf.Verify(opts); err != nil {
		return fmt.Errorf("certificate chain verification failed: %w", err)
	}

	if nodeID != "" && leaf.Subject.CommonName != nodeID {
		return fmt.Errorf("%w: expected %s, got %s", ErrPeerMismatch, nodeID, leaf.Subject.CommonName)
	}
	return nil
}

// VerifyConnection checks the negotiated version and protocol.
func VerifyConnection(state tls.ConnectionState, protocol string) error {
	if state.Version != tls.VersionTLS13 {
		return fmt.Errorf("%w: version %x", ErrWrongTLSVersion, state.Version)
	}
	if state.NegotiatedProtocol != protocol {
		return fmt.Errorf("%w: %q, want %q", ErrWrongProtocol, state.NegotiatedProtocol, protocol)
	}
	return nil
}

// SelfSignedCertificate creates an ephemeral P-256 certificate for the
// commissioning channel.
func SelfSignedCertificate(commonName string) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}
