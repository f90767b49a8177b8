package cert

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/mash-protocol/commissioner/pkg/commissioning"
)

// Attestation errors.
var (
	ErrAttestationIncomplete = errors.New("attestation material incomplete")
	ErrAttestationChain      = errors.New("attestation chain rejected")
	ErrAttestationSignature  = errors.New("attestation signature invalid")
	ErrNonceMismatch         = errors.New("nonce mismatch")
	ErrVendorMismatch        = errors.New("vendor id mismatch")
	ErrProductMismatch       = errors.New("product id mismatch")
)

// NonceSize is the size of attestation and CSR nonces.
const NonceSize = 32

// Subject attributes carrying the vendor and product id in attestation
// certificates, as 4 upper-case hex digits.
var (
	oidVendorID  = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37244, 2, 1}
	oidProductID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37244, 2, 2}
)

// AttestationElements is the signed payload of an attestation response.
type AttestationElements struct {
	CertificationDeclaration []byte `cbor:"1,keyasint"`
	Nonce                    []byte `cbor:"2,keyasint"`
	Timestamp                uint64 `cbor:"3,keyasint,omitempty"`
}

// NocsrElements is the signed payload of a CSR response.
type NocsrElements struct {
	CSR   []byte `cbor:"1,keyasint"`
	Nonce []byte `cbor:"2,keyasint"`
}

// NewNonce returns NonceSize random bytes.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}

func attestationDigest(elements, challenge []byte) []byte {
	h := sha256.New()
	h.Write(elements)
	h.Write(challenge)
	return h.Sum(nil)
}

// Attester signs attestation and CSR responses with a device attestation
// key. It is the commissionee side of attestation.
type Attester struct {
	DAC *x509.Certificate
	PAI *x509.Certificate
	Key *ecdsa.PrivateKey

	// CertificationDeclaration is echoed in every attestation response.
	CertificationDeclaration []byte
}

// Attest returns the attestation elements for nonce and their signature
// bound to challenge.
func (a *Attester) Attest(nonce, challenge []byte) (elements, signature []byte, err error) {
	elements, err = cbor.Marshal(&AttestationElements{
		CertificationDeclaration: a.CertificationDeclaration,
		Nonce:                    nonce,
		Timestamp:                uint64(time.Now().Unix()),
	})
	if err != nil {
		return nil, nil, err
	}
	signature, err = ecdsa.SignASN1(rand.Reader, a.Key, attestationDigest(elements, challenge))
	if err != nil {
		return nil, nil, err
	}
	return elements, signature, nil
}

// SignNocsr returns the CSR elements for csr and nonce and their signature
// bound to challenge.
func (a *Attester) SignNocsr(csr, nonce, challenge []byte) (elements, signature []byte, err error) {
	elements, err = cbor.Marshal(&NocsrElements{CSR: csr, Nonce: nonce})
	if err != nil {
		return nil, nil, err
	}
	signature, err = ecdsa.SignASN1(rand.Reader, a.Key, attestationDigest(elements, challenge))
	if err != nil {
		return nil, nil, err
	}
	return elements, signature, nil
}

// AttestationVerifier checks device attestation against a set of trusted
// product attestation authorities (PAAs).
type AttestationVerifier struct {
	roots *x509.CertPool
	now   func() time.Time
}

// NewAttestationVerifier creates a verifier trusting roots.
func NewAttestationVerifier(roots *x509.CertPool) *AttestationVerifier {
	return &AttestationVerifier{roots: roots, now: time.Now}
}

// Verify checks that the DAC chains through the PAI to a trusted PAA, that
// the signature covers the elements and the session challenge, and that the
// elements echo the nonce. A non-zero vendorID or productID must match the
// DAC subject.
func (v *AttestationVerifier) Verify(ctx context.Context, att commissioning.Attestation, vendorID, productID uint16) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(att.DAC) == 0 || len(att.PAI) == 0 || len(att.Elements) == 0 ||
		len(att.Signature) == 0 || len(att.Challenge) == 0 || len(att.Nonce) == 0 {
		return ErrAttestationIncomplete
	}

	dac, err := v.verifyChain(att.DAC, att.PAI)
	if err != nil {
		return err
	}
	if err := verifySignature(dac, att.Elements, att.Challenge, att.Signature); err != nil {
		return err
	}

	var elements AttestationElements
	if err := cbor.Unmarshal(att.Elements, &elements); err != nil {
		return fmt.Errorf("%w: elements: %w", ErrAttestationSignature, err)
	}
	if !bytes.Equal(elements.Nonce, att.Nonce) {
		return ErrNonceMismatch
	}

	if vid, ok := subjectID(dac, oidVendorID); ok && vendorID != 0 && vid != vendorID {
		return fmt.Errorf("%w: DAC %04X, payload %04X", ErrVendorMismatch, vid, vendorID)
	}
	if pid, ok := subjectID(dac, oidProductID); ok && productID != 0 && pid != productID {
		return fmt.Errorf("%w: DAC %04X, payload %04X", ErrProductMismatch, pid, productID)
	}
	return nil
}

// VerifyNocsr checks the CSR response against the DAC in att and returns the
// certificate request it carries.
func (v *AttestationVerifier) VerifyNocsr(ctx context.Context, att commissioning.Attestation, nocsr commissioning.Nocsr) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(att.DAC) == 0 || len(att.Challenge) == 0 ||
		len(nocsr.Elements) == 0 || len(nocsr.Signature) == 0 || len(nocsr.Nonce) == 0 {
		return nil, ErrAttestationIncomplete
	}
	dac, err := x509.ParseCertificate(att.DAC)
	if err != nil {
		return nil, fmt.Errorf("%w: DAC: %w", ErrAttestationChain, err)
	}
	if err := verifySignature(dac, nocsr.Elements, att.Challenge, nocsr.Signature); err != nil {
		return nil, err
	}

	var elements NocsrElements
	if err := cbor.Unmarshal(nocsr.Elements, &elements); err != nil {
		return nil, fmt.Errorf("%w: elements: %w", ErrAttestationSignature, err)
	}
	if !bytes.Equal(elements.Nonce, nocsr.Nonce) {
		return nil, ErrNonceMismatch
	}
	if _, err := parseCSR(elements.CSR); err != nil {
		return nil, err
	}
	return elements.CSR, nil
}

func (v *AttestationVerifier) verifyChain(dacDER, paiDER []byte) (*x509.Certificate, error) {
	if v.roots == nil {
		return nil, fmt.Errorf("%w: no trusted roots", ErrAttestationChain)
	}
	dac, err := x509.ParseCertificate(dacDER)
	if err != nil {
		return nil, fmt.Errorf("%w: DAC: %w", ErrAttestationChain, err)
	}
	pai, err := x509.ParseCertificate(paiDER)
	if err != nil {
		return nil, fmt.Errorf("%w: PAI: %w", ErrAttestationChain, err)
	}
	if !pai.IsCA {
		return nil, fmt.Errorf("%w: PAI is not a CA", ErrAttestationChain)
	}

	intermediates := x509.NewCertPool()
	intermediates.AddCert(pai)
	if _, err := dac.Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   v.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAttestationChain, err)
	}
	return dac, nil
}

func verifySignature(dac *x509.Certificate, elements, challenge, signature []byte) error {
	pub, ok := dac.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: DAC key is not ECDSA", ErrAttestationSignature)
	}
	if !ecdsa.VerifyASN1(pub, attestationDigest(elements, challenge), signature) {
		return ErrAttestationSignature
	}
	return nil
}

// subjectID reads a 16-bit id attribute from the certificate subject.
func subjectID(c *x509.Certificate, oid asn1.ObjectIdentifier) (uint16, bool) {
	for _, name := range c.Subject.Names {
		if !name.Type.Equal(oid) {
			continue
		}
		s, ok := name.Value.(string)
		if !ok {
			return 0, false
		}
		id, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return 0, false
		}
		return uint16(id), true
	}
	return 0, false
}
