package payload

import (
	"fmt"
	"strconv"
	"strings"
)

// Manual pairing code lengths, check digit included.
const (
	ManualCodeLength     = 11
	LongManualCodeLength = 21
)

// ParseManualCode decodes an 11- or 21-digit manual pairing code. Dashes and
// spaces are ignored.
func ParseManualCode(s string) (*Payload, error) {
	s = strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))

	if len(s) != ManualCodeLength && len(s) != LongManualCodeLength {
		return nil, fmt.Errorf("%w: manual code must be %d or %d digits, got %d",
			ErrInvalidPayload, ManualCodeLength, LongManualCodeLength, len(s))
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("%w: manual code must be numeric", ErrInvalidPayload)
		}
	}
	if !verhoeffValid(s) {
		return nil, ErrChecksum
	}

	chunk1 := atoi(s[0:1])
	chunk2 := atoi(s[1:6])
	chunk3 := atoi(s[6:10])

	if chunk1&(1<<3) != 0 {
		return nil, fmt.Errorf("%w: reserved bit set in first digit", ErrInvalidPayload)
	}
	long := chunk1&(1<<2) != 0
	if long != (len(s) == LongManualCodeLength) {
		return nil, fmt.Errorf("%w: vendor/product flag does not match code length", ErrInvalidPayload)
	}

	short := uint16((chunk1&0x3)<<2 | (chunk2>>14)&0x3)
	p := &Payload{
		Flow:               FlowStandard,
		Capabilities:       CapabilityOnNetwork,
		Discriminator:      short << shortDiscriminatorShift,
		ShortDiscriminator: true,
		Passcode:           uint32(chunk3<<14 | chunk2&0x3FFF),
	}
	if long {
		vid, pid := atoi(s[10:15]), atoi(s[15:20])
		if vid > 0xFFFF || pid > 0xFFFF {
			return nil, fmt.Errorf("%w: vendor or product id out of range", ErrInvalidPayload)
		}
		p.VendorID = uint16(vid)
		p.ProductID = uint16(pid)
		p.Flow = FlowCustom
	}
	if err := ValidatePasscode(p.Passcode); err != nil {
		return nil, err
	}
	return p, nil
}

// ManualCode encodes the payload as a manual pairing code. The long form is
// used when the flow is not standard, as the vendor and product are needed
// to look up the custom flow.
func (p *Payload) ManualCode() (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	long := p.Flow != FlowStandard
	short := uint32(p.Discriminator >> shortDiscriminatorShift)

	var chunk1 uint32
	if long {
		chunk1 = 1 << 2
	}
	chunk1 |= short >> 2
	chunk2 := (short&0x3)<<14 | p.Passcode&0x3FFF
	chunk3 := p.Passcode >> 14

	code := fmt.Sprintf("%01d%05d%04d", chunk1, chunk2, chunk3)
	if long {
		code += fmt.Sprintf("%05d%05d", p.VendorID, p.ProductID)
	}
	return code + string(verhoeffCheck(code)), nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// Verhoeff dihedral group tables.
var (
	verhoeffD = [10][10]uint8{
		{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		{1, 2, 3, 4, 0, 6, 7, 8, 9, 5},
		{2, 3, 4, 0, 1, 7, 8, 9, 5, 6},
		{3, 4, 0, 1, 2, 8, 9, 5, 6, 7},
		{4, 0, 1, 2, 3, 9, 5, 6, 7, 8},
		{5, 9, 8, 7, 6, 0, 4, 3, 2, 1},
		{6, 5, 9, 8, 7, 1, 0, 4, 3, 2},
		{7, 6, 5, 9, 8, 2, 1, 0, 4, 3},
		{8, 7, 6, 5, 9, 3, 2, 1, 0, 4},
		{9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
	}
	verhoeffP = [8][10]uint8{
		{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		{1, 5, 7, 6, 2, 8, 3, 0, 9, 4},
		{5, 8, 0, 3, 7, 9, 6, 1, 4, 2},
		{8, 9, 1, 6, 0, 4, 3, 5, 2, 7},
		{9, 4, 5, 3, 1, 2, 7, 6, 8, 0},
		{4, 2, 8, 6, 5, 7, 0, 3, 9, 1},
		{2, 7, 9, 3, 8, 0, 6, 4, 1, 5},
		{7, 0, 4, 6, 9, 1, 3, 2, 5, 8},
	}
	verhoeffInv = [10]uint8{0, 4, 3, 2, 1, 5, 6, 7, 8, 9}
)

// verhoeffCheck returns the check digit for a string of decimal digits.
func verhoeffCheck(digits string) byte {
	var c uint8
	for i := 0; i < len(digits); i++ {
		d := digits[len(digits)-1-i] - '0'
		c = verhoeffD[c][verhoeffP[(i+1)%8][d]]
	}
	return '0' + verhoeffInv[c]
}

// verhoeffValid reports whether the last digit of s is its check digit.
func verhoeffValid(s string) bool {
	var c uint8
	for i := 0; i < len(s); i++ {
		d := s[len(s)-1-i] - '0'
		c = verhoeffD[c][verhoeffP[i%8][d]]
	}
	return c == 0
}
