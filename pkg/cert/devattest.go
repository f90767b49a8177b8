package cert

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"time"
)

// DevelopmentPKI is a throwaway attestation hierarchy for simulated
// commissionees and tests: a PAA, a PAI under it and an Attester holding a
// DAC under the PAI.
type DevelopmentPKI struct {
	PAA      *x509.Certificate
	PAAKey   *ecdsa.PrivateKey
	Attester *Attester
}

// NewDevelopmentPKI creates a PAA, PAI and DAC for vendorID and productID.
func NewDevelopmentPKI(vendorID, productID uint16) (*DevelopmentPKI, error) {
	paaKey, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	paa, err := createAttestationCert(attestationSubject("Development PAA", vendorID, 0), &paaKey.PublicKey, nil, paaKey, 1)
	if err != nil {
		return nil, fmt.Errorf("PAA: %w", err)
	}

	paiKey, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	pai, err := createAttestationCert(attestationSubject("Development PAI", vendorID, productID), &paiKey.PublicKey, paa, paaKey, 0)
	if err != nil {
		return nil, fmt.Errorf("PAI: %w", err)
	}

	dacKey, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	dac, err := createAttestationCert(attestationSubject("Development DAC", vendorID, productID), &dacKey.PublicKey, pai, paiKey, -1)
	if err != nil {
		return nil, fmt.Errorf("DAC: %w", err)
	}

	return &DevelopmentPKI{
		PAA:    paa,
		PAAKey: paaKey,
		Attester: &Attester{
			DAC:                      dac,
			PAI:                      pai,
			Key:                      dacKey,
			CertificationDeclaration: []byte(fmt.Sprintf("CD:%04X:%04X", vendorID, productID)),
		},
	}, nil
}

// Pool returns a pool holding only the PAA.
func (d *DevelopmentPKI) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(d.PAA)
	return pool
}

func attestationSubject(cn string, vendorID, productID uint16) pkix.Name {
	name := pkix.Name{CommonName: cn}
	if vendorID != 0 {
		name.ExtraNames = append(name.ExtraNames, pkix.AttributeTypeAndValue{
			Type: oidVendorID, Value: fmt.Sprintf("%04X", vendorID),
		})
	}
	if productID != 0 {
		name.ExtraNames = append(name.ExtraNames, pkix.AttributeTypeAndValue{
			Type: oidProductID, Value: fmt.Sprintf("%04X", productID),
		})
	}
	return name
}

// createAttestationCert signs a certificate for pub. A nil parent makes it
// self-signed. pathLen < 0 creates a leaf.
func createAttestationCert(subject pkix.Name, pub *ecdsa.PublicKey, parent *x509.Certificate, signer *ecdsa.PrivateKey, pathLen int) (*x509.Certificate, error) {
	serial, err := newSerial()
	if err != nil {
		return nil, err
	}
	ski, err := subjectKeyID(pub)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		NotBefore:             now.Add(-clockSkew),
		NotAfter:              now.Add(AttestationValidity),
		BasicConstraintsValid: true,
		SubjectKeyId:          ski,
	}
	if pathLen >= 0 {
		template.IsCA = true
		template.MaxPathLen = pathLen
		template.MaxPathLenZero = pathLen == 0
		template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	} else {
		template.KeyUsage = x509.KeyUsageDigitalSignature
	}
	if parent == nil {
		parent = template
	}

	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, signer)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}
