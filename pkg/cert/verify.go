package cert

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// Verification errors.
var (
	ErrCertExpired     = errors.New("certificate has expired")
	ErrCertNotYetValid = errors.New("certificate is not yet valid")
	ErrInvalidChain    = errors.New("invalid certificate chain")
	ErrNotMember       = errors.New("certificate is not from this fabric")
	ErrKeyMismatch     = errors.New("certificate does not match key")
)

// VerifyOperationalCert checks that cert is currently valid and was issued
// by root.
func VerifyOperationalCert(cert, root *x509.Certificate) error {
	if cert == nil {
		return ErrInvalidCert
	}
	if root == nil {
		return fmt.Errorf("%w: root certificate required", ErrInvalidChain)
	}

	now := time.Now()
	if now.Before(cert.NotBefore) {
		return ErrCertNotYetValid
	}
	if now.After(cert.NotAfter) {
		return ErrCertExpired
	}

	roots := x509.NewCertPool()
	roots.AddCert(root)
	if _, err := cert.Verify(x509.VerifyOptions{
		Roots:       roots,
		CurrentTime: now,
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChain, err)
	}
	return nil
}

// VerifyFabricMembership checks that cert names root as its authority and
// carries the same fabric id.
func VerifyFabricMembership(cert, root *x509.Certificate) error {
	if cert == nil || root == nil {
		return ErrInvalidCert
	}
	if len(cert.AuthorityKeyId) == 0 || len(root.SubjectKeyId) == 0 {
		return fmt.Errorf("%w: missing key identifiers", ErrNotMember)
	}
	if !bytes.Equal(cert.AuthorityKeyId, root.SubjectKeyId) {
		return ErrNotMember
	}
	certFabric, err := FabricIDFromCertificate(cert)
	if err != nil {
		return err
	}
	rootFabric, err := FabricIDFromCertificate(root)
	if err != nil {
		return err
	}
	if certFabric != rootFabric {
		return fmt.Errorf("%w: fabric %016X, root %016X", ErrNotMember, certFabric, rootFabric)
	}
	return nil
}

// ParseNOC parses a DER NOC, verifies it against a DER root and checks it
// certifies key. It returns the parsed NOC and root.
func ParseNOC(nocDER, rootDER []byte, key *ecdsa.PrivateKey) (*x509.Certificate, *x509.Certificate, error) {
	root, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: root: %w", ErrInvalidCert, err)
	}
	if !root.IsCA {
		return nil, nil, fmt.Errorf("%w: root is not a CA", ErrInvalidCert)
	}
	noc, err := x509.ParseCertificate(nocDER)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: NOC: %w", ErrInvalidCert, err)
	}
	if err := VerifyOperationalCert(noc, root); err != nil {
		return nil, nil, err
	}
	if err := VerifyFabricMembership(noc, root); err != nil {
		return nil, nil, err
	}
	if _, err := NodeIDFromCertificate(noc); err != nil {
		return nil, nil, err
	}
	if key != nil {
		pub, ok := noc.PublicKey.(*ecdsa.PublicKey)
		if !ok || !pub.Equal(&key.PublicKey) {
			return nil, nil, ErrKeyMismatch
		}
	}
	return noc, root, nil
}

// CertificateInfo is a printable summary of a certificate.
type CertificateInfo struct {
	NodeID     string
	FabricID   string
	CommonName string
	Issuer     string
	NotBefore  time.Time
	NotAfter   time.Time
	IsCA       bool
	SKI        []byte
	AKI        []byte
}

// GetCertificateInfo extracts a summary of cert.
func GetCertificateInfo(cert *x509.Certificate) *CertificateInfo {
	if cert == nil {
		return nil
	}
	info := &CertificateInfo{
		CommonName: cert.Subject.CommonName,
		Issuer:     cert.Issuer.CommonName,
		NotBefore:  cert.NotBefore,
		NotAfter:   cert.NotAfter,
		IsCA:       cert.IsCA,
		SKI:        cert.SubjectKeyId,
		AKI:        cert.AuthorityKeyId,
	}
	if !cert.IsCA {
		if id, err := NodeIDFromCertificate(cert); err == nil {
			info.NodeID = fmt.Sprintf("%016X", id)
		}
	}
	if id, err := FabricIDFromCertificate(cert); err == nil {
		info.FabricID = fmt.Sprintf("%016X", id)
	}
	return info
}
