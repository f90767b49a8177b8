package payload

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Payload limits.
const (
	// DiscriminatorMax is the largest 12-bit discriminator.
	DiscriminatorMax = 0xFFF

	// PasscodeMax is the largest passcode that fits 27 bits and 8 digits.
	PasscodeMax = 99999998

	// PasscodeMin is the smallest valid passcode.
	PasscodeMin = 1

	// shortDiscriminatorShift extracts the upper 4 bits of a discriminator.
	shortDiscriminatorShift = 8
)

// Payload errors.
var (
	ErrInvalidPayload       = errors.New("invalid onboarding payload")
	ErrInvalidPasscode      = errors.New("invalid passcode")
	ErrInvalidDiscriminator = errors.New("invalid discriminator")
	ErrChecksum             = errors.New("check digit mismatch")
	ErrUnsupportedVersion   = errors.New("unsupported payload version")
)

// CommissioningFlow tells the commissioner what the user must do before the
// node becomes discoverable.
type CommissioningFlow uint8

const (
	// FlowStandard means the node is discoverable after power-on.
	FlowStandard CommissioningFlow = 0

	// FlowUserIntent means a user action (button press) is needed first.
	FlowUserIntent CommissioningFlow = 1

	// FlowCustom means vendor-specific steps are needed first.
	FlowCustom CommissioningFlow = 2
)

// String returns the flow name.
func (f CommissioningFlow) String() string {
	switch f {
	case FlowStandard:
		return "STANDARD"
	case FlowUserIntent:
		return "USER_INTENT"
	case FlowCustom:
		return "CUSTOM"
	default:
		return "UNKNOWN"
	}
}

// Capabilities is the discovery capabilities bitmap.
type Capabilities uint8

const (
	// CapabilitySoftAP means the node hosts a soft access point.
	CapabilitySoftAP Capabilities = 1 << 0

	// CapabilityBLE means the node advertises over Bluetooth LE.
	CapabilityBLE Capabilities = 1 << 1

	// CapabilityOnNetwork means the node is already on an IP network.
	CapabilityOnNetwork Capabilities = 1 << 2
)

// Has reports whether all bits of c are set.
func (b Capabilities) Has(c Capabilities) bool {
	return b&c == c
}

// String returns the set capabilities joined by "|".
func (b Capabilities) String() string {
	var parts []string
	if b.Has(CapabilitySoftAP) {
		parts = append(parts, "SOFTAP")
	}
	if b.Has(CapabilityBLE) {
		parts = append(parts, "BLE")
	}
	if b.Has(CapabilityOnNetwork) {
		parts = append(parts, "ON_NETWORK")
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// Payload is a decoded onboarding payload.
type Payload struct {
	// Version is the payload format version (always 0).
	Version uint8

	// VendorID and ProductID identify the product. Zero when the payload
	// came from a short manual code.
	VendorID  uint16
	ProductID uint16

	// Flow is the commissioning flow.
	Flow CommissioningFlow

	// Capabilities lists how the node can be discovered.
	Capabilities Capabilities

	// Discriminator is the 12-bit value used to pick the node out of
	// discovery results.
	Discriminator uint16

	// ShortDiscriminator is set when only the upper 4 bits of
	// Discriminator are known (manual pairing codes).
	ShortDiscriminator bool

	// Passcode is the setup PIN used for PASE.
	Passcode uint32
}

// Parse decodes either form of onboarding payload.
func Parse(s string) (*Payload, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, QRPrefix) {
		return ParseQRCode(s)
	}
	return ParseManualCode(s)
}

// Validate checks field ranges and rejects trivial passcodes.
func (p *Payload) Validate() error {
	if p.Version != 0 {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, p.Version)
	}
	if p.Discriminator > DiscriminatorMax {
		return fmt.Errorf("%w: %d exceeds 12 bits", ErrInvalidDiscriminator, p.Discriminator)
	}
	return ValidatePasscode(p.Passcode)
}

// MatchesDiscriminator reports whether an advertised 12-bit discriminator
// identifies this payload's node.
func (p *Payload) MatchesDiscriminator(advertised uint16) bool {
	if p.ShortDiscriminator {
		return advertised>>shortDiscriminatorShift == p.Discriminator>>shortDiscriminatorShift
	}
	return advertised == p.Discriminator
}

// String returns a compact description for logging. The passcode is never
// included.
func (p *Payload) String() string {
	if p.ShortDiscriminator {
		return fmt.Sprintf("short-discriminator=%d vendor=0x%04X product=0x%04X",
			p.Discriminator>>shortDiscriminatorShift, p.VendorID, p.ProductID)
	}
	return fmt.Sprintf("discriminator=%d vendor=0x%04X product=0x%04X flow=%s caps=%s",
		p.Discriminator, p.VendorID, p.ProductID, p.Flow, p.Capabilities)
}

// invalidPasscodes cannot be used even though they are in range.
var invalidPasscodes = map[uint32]bool{
	0: true, 11111111: true, 22222222: true, 33333333: true, 44444444: true,
	55555555: true, 66666666: true, 77777777: true, 88888888: true,
	99999999: true, 12345678: true, 87654321: true,
}

// ValidatePasscode checks that a passcode is in range and not trivial.
func ValidatePasscode(passcode uint32) error {
	if passcode < PasscodeMin || passcode > PasscodeMax {
		return fmt.Errorf("%w: %d out of range", ErrInvalidPasscode, passcode)
	}
	if invalidPasscodes[passcode] {
		return fmt.Errorf("%w: %08d is not allowed", ErrInvalidPasscode, passcode)
	}
	return nil
}

// GeneratePasscode returns a random valid passcode.
func GeneratePasscode() (uint32, error) {
	limit := big.NewInt(PasscodeMax)
	for {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return 0, fmt.Errorf("failed to generate passcode: %w", err)
		}
		passcode := uint32(n.Uint64()) + PasscodeMin
		if ValidatePasscode(passcode) == nil {
			return passcode, nil
		}
	}
}

// GenerateDiscriminator returns a random 12-bit discriminator.
func GenerateDiscriminator() (uint16, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(DiscriminatorMax+1))
	if err != nil {
		return 0, fmt.Errorf("failed to generate discriminator: %w", err)
	}
	return uint16(n.Uint64()), nil
}

// MustParse parses s and panics on error.
// Use only in tests or when the payload is known to be valid.
func MustParse(s string) *Payload {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}
