package payload

import (
	"fmt"
	"math/big"
	"strings"
)

// QRPrefix starts every QR code payload.
const QRPrefix = "MT:"

// base38Alphabet is the QR payload alphabet.
const base38Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ-."

// Packed bit layout.
const (
	versionBits       = 3
	vendorBits        = 16
	productBits       = 16
	flowBits          = 2
	capabilitiesBits  = 8
	discriminatorBits = 12
	passcodeBits      = 27
	paddingBits       = 4

	packedBits  = versionBits + vendorBits + productBits + flowBits + capabilitiesBits + discriminatorBits + passcodeBits + paddingBits
	packedBytes = packedBits / 8
)

// ParseQRCode decodes an "MT:" payload.
func ParseQRCode(s string) (*Payload, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, QRPrefix) {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrInvalidPayload, QRPrefix)
	}

	// Anything after '*' is optional TLV data we do not interpret.
	body, _, _ := strings.Cut(s[len(QRPrefix):], "*")

	raw, err := decodeBase38(body)
	if err != nil {
		return nil, err
	}
	if len(raw) < packedBytes {
		return nil, fmt.Errorf("%w: payload is %d bytes, want %d", ErrInvalidPayload, len(raw), packedBytes)
	}

	r := bitReader{v: new(big.Int).SetBytes(reverse(raw[:packedBytes]))}
	p := &Payload{
		Version:       uint8(r.read(versionBits)),
		VendorID:      uint16(r.read(vendorBits)),
		ProductID:     uint16(r.read(productBits)),
		Flow:          CommissioningFlow(r.read(flowBits)),
		Capabilities:  Capabilities(r.read(capabilitiesBits)),
		Discriminator: uint16(r.read(discriminatorBits)),
		Passcode:      uint32(r.read(passcodeBits)),
	}
	if pad := r.read(paddingBits); pad != 0 {
		return nil, fmt.Errorf("%w: non-zero padding", ErrInvalidPayload)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// QRCode encodes the payload as an "MT:" string.
func (p *Payload) QRCode() (string, error) {
	if p.ShortDiscriminator {
		return "", fmt.Errorf("%w: QR code needs the full discriminator", ErrInvalidDiscriminator)
	}
	if err := p.Validate(); err != nil {
		return "", err
	}

	var w bitWriter
	w.write(uint64(p.Version), versionBits)
	w.write(uint64(p.VendorID), vendorBits)
	w.write(uint64(p.ProductID), productBits)
	w.write(uint64(p.Flow), flowBits)
	w.write(uint64(p.Capabilities), capabilitiesBits)
	w.write(uint64(p.Discriminator), discriminatorBits)
	w.write(uint64(p.Passcode), passcodeBits)
	w.write(0, paddingBits)

	raw := make([]byte, packedBytes)
	w.v.FillBytes(raw)
	return QRPrefix + encodeBase38(reverse(raw)), nil
}

// bitReader pulls little-endian bit fields off a packed integer.
type bitReader struct {
	v *big.Int
}

func (r *bitReader) read(bits uint) uint64 {
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), bits), big.NewInt(1))
	field := new(big.Int).And(r.v, mask).Uint64()
	r.v.Rsh(r.v, bits)
	return field
}

// bitWriter appends little-endian bit fields to a packed integer.
type bitWriter struct {
	v     big.Int
	shift uint
}

func (w *bitWriter) write(field uint64, bits uint) {
	w.v.Or(&w.v, new(big.Int).Lsh(new(big.Int).SetUint64(field), w.shift))
	w.shift += bits
}

// reverse returns a reversed copy of b, converting between the little-endian
// wire order and big.Int's big-endian byte order.
func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

// base38 chunking: 3 bytes -> 5 chars, 2 bytes -> 4 chars, 1 byte -> 2 chars.
var base38CharsPerBytes = [4]int{0, 2, 4, 5}

func encodeBase38(data []byte) string {
	var sb strings.Builder
	for i := 0; i < len(data); i += 3 {
		n := min(3, len(data)-i)
		var v uint32
		for k := 0; k < n; k++ {
			v |= uint32(data[i+k]) << (8 * k)
		}
		for k := 0; k < base38CharsPerBytes[n]; k++ {
			sb.WriteByte(base38Alphabet[v%38])
			v /= 38
		}
	}
	return sb.String()
}

func decodeBase38(s string) ([]byte, error) {
	out := make([]byte, 0, len(s)*3/5+1)
	for i := 0; i < len(s); {
		chars := min(5, len(s)-i)
		var n int
		switch chars {
		case 5:
			n = 3
		case 4:
			n = 2
		case 2:
			n = 1
		default:
			return nil, fmt.Errorf("%w: base38 length %d", ErrInvalidPayload, len(s))
		}

		var v uint32
		for k := chars - 1; k >= 0; k-- {
			idx := strings.IndexByte(base38Alphabet, s[i+k])
			if idx < 0 {
				return nil, fmt.Errorf("%w: invalid base38 character %q", ErrInvalidPayload, s[i+k])
			}
			v = v*38 + uint32(idx)
		}
		if v >= uint32(1)<<(8*n) {
			return nil, fmt.Errorf("%w: base38 chunk overflow", ErrInvalidPayload)
		}
		for k := 0; k < n; k++ {
			out = append(out, byte(v>>(8*k)))
		}
		i += chars
	}
	return out, nil
}
