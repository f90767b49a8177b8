package pase

import (
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// SPAKE2+ constants.
const (
	// SessionKeySize is the size of each derived session key in bytes.
	SessionKeySize = 16

	// ConfirmationSize is the size of the confirmation MAC in bytes.
	ConfirmationSize = 32

	// PBKDF2 parameter bounds accepted from a responder.
	MinIterations = 1000
	MaxIterations = 100000
	MinSaltSize   = 16
	MaxSaltSize   = 32

	// wsSize is the length of each of w0s and w1s.
	wsSize = 40
)

// SPAKE2+ errors.
var (
	ErrInvalidPublicKey   = errors.New("invalid public key")
	ErrConfirmationFailed = errors.New("confirmation failed")
	ErrInvalidVerifier    = errors.New("invalid verifier")
	ErrInvalidParameters  = errors.New("invalid PBKDF parameters")
)

var curve = elliptic.P256()

// M and N are the fixed SPAKE2+ P-256 points from RFC 9383.
var (
	pointM = mustPoint("02886e2f97ace46e55ba9dd7242579f2993b64e16ef3dcab95afd497333d8fa12f")
	pointN = mustPoint("03d8bbd6c639c62937b04d997f38c3770719c629d7014d49a24b4f98baa1292b49")
)

type curvePoint struct {
	x, y *big.Int
}

func (p curvePoint) bytes() []byte {
	return elliptic.Marshal(curve, p.x, p.y)
}

func mustPoint(compressedHex string) curvePoint {
	raw, ok := new(big.Int).SetString(compressedHex, 16)
	if !ok {
		panic("invalid point: " + compressedHex)
	}
	b := make([]byte, 33)
	raw.FillBytes(b)
	x, y := elliptic.UnmarshalCompressed(curve, b)
	if x == nil {
		panic("point not on curve: " + compressedHex)
	}
	return curvePoint{x, y}
}

// negate returns -p.
func negate(x, y *big.Int) (*big.Int, *big.Int) {
	ny := new(big.Int).Neg(y)
	return x, ny.Mod(ny, curve.Params().P)
}

func scalarBytes(k *big.Int) []byte {
	return k.FillBytes(make([]byte, 32))
}

// ValidateParameters checks PBKDF2 parameters received from a responder.
func ValidateParameters(salt []byte, iterations uint32) error {
	if len(salt) < MinSaltSize || len(salt) > MaxSaltSize {
		return fmt.Errorf("%w: salt is %d bytes", ErrInvalidParameters, len(salt))
	}
	if iterations < MinIterations || iterations > MaxIterations {
		return fmt.Errorf("%w: %d iterations", ErrInvalidParameters, iterations)
	}
	return nil
}

// deriveW computes w0 and w1 from the passcode. The passcode is encoded as
// four little-endian bytes and stretched with PBKDF2-HMAC-SHA256.
func deriveW(passcode uint32, salt []byte, iterations uint32) (w0, w1 *big.Int, err error) {
	if err := ValidateParameters(salt, iterations); err != nil {
		return nil, nil, err
	}

	var pw [4]byte
	binary.LittleEndian.PutUint32(pw[:], passcode)
	ws := pbkdf2.Key(pw[:], salt, int(iterations), 2*wsSize, sha256.New)

	n := curve.Params().N
	w0 = new(big.Int).SetBytes(ws[:wsSize])
	w1 = new(big.Int).SetBytes(ws[wsSize:])
	return w0.Mod(w0, n), w1.Mod(w1, n), nil
}

// Verifier is the responder's registration record: w0 and L = w1*G.
// The passcode itself is not needed to respond.
type Verifier struct {
	W0 []byte `cbor:"1,keyasint"`
	L  []byte `cbor:"2,keyasint"`
}

// ComputeVerifier derives the verifier for passcode.
func ComputeVerifier(passcode uint32, salt []byte, iterations uint32) (*Verifier, error) {
	w0, w1, err := deriveW(passcode, salt, iterations)
	if err != nil {
		return nil, err
	}
	lx, ly := curve.ScalarBaseMult(scalarBytes(w1))
	return &Verifier{
		W0: scalarBytes(w0),
		L:  elliptic.Marshal(curve, lx, ly),
	}, nil
}

// SessionKeys are derived from a completed exchange.
type SessionKeys struct {
	I2R                  []byte
	R2I                  []byte
	AttestationChallenge []byte
}

// keySchedule holds the keys split from the transcript hash.
type keySchedule struct {
	confirmA []byte
	confirmB []byte
	session  SessionKeys
}

// transcript hashes the exchange. Each part is prefixed with its length as
// eight little-endian bytes. Prover and verifier identities are empty.
func transcript(context []byte, pA, pB, z, v, w0 []byte) []byte {
	h := sha256.New()
	for _, part := range [][]byte{context, nil, nil, pointM.bytes(), pointN.bytes(), pA, pB, z, v, w0} {
		writeLen(h, part)
	}
	return h.Sum(nil)
}

func writeLen(h hash.Hash, b []byte) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}

func deriveKeys(tt []byte) (keySchedule, error) {
	ka, ke := tt[:16], tt[16:32]

	kc := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ka, nil, []byte("ConfirmationKeys")), kc); err != nil {
		return keySchedule{}, fmt.Errorf("derive confirmation keys: %w", err)
	}

	sk := make([]byte, 3*SessionKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ke, nil, []byte("SessionKeys")), sk); err != nil {
		return keySchedule{}, fmt.Errorf("derive session keys: %w", err)
	}

	return keySchedule{
		confirmA: kc[:16],
		confirmB: kc[16:],
		session: SessionKeys{
			I2R:                  sk[:SessionKeySize],
			R2I:                  sk[SessionKeySize : 2*SessionKeySize],
			AttestationChallenge: sk[2*SessionKeySize:],
		},
	}, nil
}

func confirmation(key, share []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(share)
	return mac.Sum(nil)
}

func parsePoint(b []byte) (*big.Int, *big.Int, error) {
	x, y := elliptic.Unmarshal(curve, b)
	if x == nil {
		return nil, nil, ErrInvalidPublicKey
	}
	return x, y, nil
}

// SPAKE2PlusClient is the prover side, run by the commissioner.
type SPAKE2PlusClient struct {
	context []byte
	w0, w1  *big.Int
	x       *big.Int

	pA, pB []byte
	keys   keySchedule
	done   bool
}

// NewSPAKE2PlusClient creates a prover for passcode. context binds the
// exchange to the preceding parameter messages.
func NewSPAKE2PlusClient(passcode uint32, salt []byte, iterations uint32, context []byte) (*SPAKE2PlusClient, error) {
	w0, w1, err := deriveW(passcode, salt, iterations)
	if err != nil {
		return nil, err
	}
	x, err := rand.Int(rand.Reader, curve.Params().N)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	return &SPAKE2PlusClient{context: context, w0: w0, w1: w1, x: x}, nil
}

// PublicValue returns pA = x*G + w0*M.
func (c *SPAKE2PlusClient) PublicValue() []byte {
	if c.pA != nil {
		return c.pA
	}
	xx, xy := curve.ScalarBaseMult(scalarBytes(c.x))
	mx, my := curve.ScalarMult(pointM.x, pointM.y, scalarBytes(c.w0))
	ax, ay := curve.Add(xx, xy, mx, my)
	c.pA = elliptic.Marshal(curve, ax, ay)
	return c.pA
}

// ProcessServerValue derives the keys from the responder's share pB.
func (c *SPAKE2PlusClient) ProcessServerValue(pB []byte) error {
	bx, by, err := parsePoint(pB)
	if err != nil {
		return err
	}
	pA := c.PublicValue()

	// Y = pB - w0*N
	nx, ny := curve.ScalarMult(pointN.x, pointN.y, scalarBytes(c.w0))
	nx, ny = negate(nx, ny)
	yx, yy := curve.Add(bx, by, nx, ny)

	zx, zy := curve.ScalarMult(yx, yy, scalarBytes(c.x))
	vx, vy := curve.ScalarMult(yx, yy, scalarBytes(c.w1))

	tt := transcript(c.context, pA, pB, elliptic.Marshal(curve, zx, zy), elliptic.Marshal(curve, vx, vy), scalarBytes(c.w0))
	keys, err := deriveKeys(tt)
	if err != nil {
		return err
	}
	c.pB = pB
	c.keys = keys
	c.done = true
	return nil
}

// Confirmation returns cA = HMAC(KcA, pB).
func (c *SPAKE2PlusClient) Confirmation() []byte {
	return confirmation(c.keys.confirmA, c.pB)
}

// VerifyServerConfirmation checks cB = HMAC(KcB, pA).
func (c *SPAKE2PlusClient) VerifyServerConfirmation(cB []byte) error {
	if !c.done || !hmac.Equal(cB, confirmation(c.keys.confirmB, c.pA)) {
		return ErrConfirmationFailed
	}
	return nil
}

// SessionKeys returns the derived keys. Valid after ProcessServerValue.
func (c *SPAKE2PlusClient) SessionKeys() SessionKeys {
	return c.keys.session
}

// SPAKE2PlusServer is the verifier side, run by the commissionee.
type SPAKE2PlusServer struct {
	context []byte
	w0      *big.Int
	l       curvePoint
	y       *big.Int

	pA, pB []byte
	keys   keySchedule
	done   bool
}

// NewSPAKE2PlusServer creates a verifier from a registration record.
func NewSPAKE2PlusServer(v *Verifier, context []byte) (*SPAKE2PlusServer, error) {
	if v == nil || len(v.W0) == 0 {
		return nil, ErrInvalidVerifier
	}
	lx, ly := elliptic.Unmarshal(curve, v.L)
	if lx == nil {
		return nil, fmt.Errorf("%w: invalid L point", ErrInvalidVerifier)
	}
	y, err := rand.Int(rand.Reader, curve.Params().N)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	return &SPAKE2PlusServer{
		context: context,
		w0:      new(big.Int).SetBytes(v.W0),
		l:       curvePoint{lx, ly},
		y:       y,
	}, nil
}

// PublicValue returns pB = y*G + w0*N.
func (s *SPAKE2PlusServer) PublicValue() []byte {
	if s.pB != nil {
		return s.pB
	}
	yx, yy := curve.ScalarBaseMult(scalarBytes(s.y))
	nx, ny := curve.ScalarMult(pointN.x, pointN.y, scalarBytes(s.w0))
	bx, by := curve.Add(yx, yy, nx, ny)
	s.pB = elliptic.Marshal(curve, bx, by)
	return s.pB
}

// ProcessClientValue derives the keys from the initiator's share pA.
func (s *SPAKE2PlusServer) ProcessClientValue(pA []byte) error {
	ax, ay, err := parsePoint(pA)
	if err != nil {
		return err
	}
	pB := s.PublicValue()

	// X = pA - w0*M
	mx, my := curve.ScalarMult(pointM.x, pointM.y, scalarBytes(s.w0))
	mx, my = negate(mx, my)
	xx, xy := curve.Add(ax, ay, mx, my)

	zx, zy := curve.ScalarMult(xx, xy, scalarBytes(s.y))
	vx, vy := curve.ScalarMult(s.l.x, s.l.y, scalarBytes(s.y))

	tt := transcript(s.context, pA, pB, elliptic.Marshal(curve, zx, zy), elliptic.Marshal(curve, vx, vy), scalarBytes(s.w0))
	keys, err := deriveKeys(tt)
	if err != nil {
		return err
	}
	s.pA = pA
	s.keys = keys
	s.done = true
	return nil
}

// Confirmation returns cB = HMAC(KcB, pA).
func (s *SPAKE2PlusServer) Confirmation() []byte {
	return confirmation(s.keys.confirmB, s.pA)
}

// VerifyClientConfirmation checks cA = HMAC(KcA, pB).
func (s *SPAKE2PlusServer) VerifyClientConfirmation(cA []byte) error {
	if !s.done || !hmac.Equal(cA, confirmation(s.keys.confirmA, s.pB)) {
		return ErrConfirmationFailed
	}
	return nil
}

// SessionKeys returns the derived keys. Valid after ProcessClientValue.
func (s *SPAKE2PlusServer) SessionKeys() SessionKeys {
	return s.keys.session
}
