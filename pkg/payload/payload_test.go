package payload

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQRCode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Payload
	}{
		{
			name:  "BLE",
			input: "MT:Y.K9042C00KA0648G00",
			want: Payload{
				VendorID:      0xFFF1,
				ProductID:     0x8000,
				Capabilities:  CapabilityBLE,
				Discriminator: 3840,
				Passcode:      20202021,
			},
		},
		{
			name:  "on network",
			input: "MT:-24J0AFN00KA0648G00",
			want: Payload{
				VendorID:      0xFFF1,
				ProductID:     0x8001,
				Capabilities:  CapabilityOnNetwork,
				Discriminator: 3840,
				Passcode:      20202021,
			},
		},
		{
			name:  "surrounding whitespace",
			input: "  MT:Y.K9042C00KA0648G00\n",
			want: Payload{
				VendorID:      0xFFF1,
				ProductID:     0x8000,
				Capabilities:  CapabilityBLE,
				Discriminator: 3840,
				Passcode:      20202021,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseQRCode(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseQRCodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing prefix", "Y.K9042C00KA0648G00"},
		{"bad character", "MT:Y.K9042C00KA0648G0a"},
		{"truncated", "MT:Y.K9042C00KA"},
		{"bad chunk length", "MT:Y.K9042C00KA0648G0"},
		{"empty", "MT:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQRCode(tt.input)
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestQRCodeRoundTrip(t *testing.T) {
	p := &Payload{
		VendorID:      0xFFF1,
		ProductID:     0x8000,
		Capabilities:  CapabilityBLE,
		Discriminator: 3840,
		Passcode:      20202021,
	}

	code, err := p.QRCode()
	require.NoError(t, err)
	assert.Equal(t, "MT:Y.K9042C00KA0648G00", code)

	for i := 0; i < 20; i++ {
		passcode, err := GeneratePasscode()
		require.NoError(t, err)
		disc, err := GenerateDiscriminator()
		require.NoError(t, err)

		p := &Payload{
			VendorID:      uint16(i * 97),
			ProductID:     uint16(i * 13),
			Flow:          FlowUserIntent,
			Capabilities:  CapabilityOnNetwork | CapabilitySoftAP,
			Discriminator: disc,
			Passcode:      passcode,
		}
		code, err := p.QRCode()
		require.NoError(t, err)

		got, err := ParseQRCode(code)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

func TestQRCodeRejectsShortDiscriminator(t *testing.T) {
	p := &Payload{Discriminator: 0xF00, ShortDiscriminator: true, Passcode: 20202021}
	_, err := p.QRCode()
	assert.ErrorIs(t, err, ErrInvalidDiscriminator)
}

func TestParseManualCode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Payload
	}{
		{
			name:  "short",
			input: "34970112332",
			want: Payload{
				Flow:               FlowStandard,
				Capabilities:       CapabilityOnNetwork,
				Discriminator:      0xF00,
				ShortDiscriminator: true,
				Passcode:           20202021,
			},
		},
		{
			name:  "formatted",
			input: "3497-011-2332",
			want: Payload{
				Flow:               FlowStandard,
				Capabilities:       CapabilityOnNetwork,
				Discriminator:      0xF00,
				ShortDiscriminator: true,
				Passcode:           20202021,
			},
		},
		{
			name:  "long",
			input: "749701123365521327685",
			want: Payload{
				VendorID:           0xFFF1,
				ProductID:          0x8000,
				Flow:               FlowCustom,
				Capabilities:       CapabilityOnNetwork,
				Discriminator:      0xF00,
				ShortDiscriminator: true,
				Passcode:           20202021,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseManualCode(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseManualCodeErrors(t *testing.T) {
	tests := []struct {
		input string
		want  error
	}{
		{"34970112333", ErrChecksum},
		{"3497011233", ErrInvalidPayload},
		{"3497011233a", ErrInvalidPayload},
		{"", ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := ParseManualCode(tt.input)
			if !errors.Is(err, tt.want) {
				t.Errorf("ParseManualCode(%q) error = %v, want %v", tt.input, err, tt.want)
			}
		})
	}
}

func TestParseManualCodeRanges(t *testing.T) {
	withCheck := func(digits string) string {
		return digits + string(verhoeffCheck(digits))
	}

	_, err := ParseManualCode(withCheck("8497011233"))
	assert.ErrorIs(t, err, ErrInvalidPayload, "reserved bit in first digit")

	_, err = ParseManualCode(withCheck("74970112339999932768"))
	assert.ErrorIs(t, err, ErrInvalidPayload, "vendor id above 0xFFFF")

	_, err = ParseManualCode(withCheck("74970112336553599999"))
	assert.ErrorIs(t, err, ErrInvalidPayload, "product id above 0xFFFF")

	p, err := ParseManualCode(withCheck("74970112336553532768"))
	require.NoError(t, err)
	assert.Equal(t, uint16(0xFFFF), p.VendorID)
	assert.Equal(t, uint16(0x8000), p.ProductID)
	assert.Equal(t, uint32(20202021), p.Passcode)
}

func TestManualCode(t *testing.T) {
	p := &Payload{Discriminator: 3840, Passcode: 20202021}
	code, err := p.ManualCode()
	require.NoError(t, err)
	assert.Equal(t, "34970112332", code)

	p = &Payload{Discriminator: 1234, Passcode: 34567890}
	code, err = p.ManualCode()
	require.NoError(t, err)
	assert.Equal(t, "11403421099", code)

	p = &Payload{VendorID: 0xFFF1, ProductID: 0x8000, Flow: FlowCustom, Discriminator: 3840, Passcode: 20202021}
	code, err = p.ManualCode()
	require.NoError(t, err)
	assert.Equal(t, "749701123365521327685", code)
}

func TestParseDetectsForm(t *testing.T) {
	qr, err := Parse("MT:Y.K9042C00KA0648G00")
	require.NoError(t, err)
	assert.False(t, qr.ShortDiscriminator)

	manual, err := Parse("34970112332")
	require.NoError(t, err)
	assert.True(t, manual.ShortDiscriminator)
	assert.Equal(t, qr.Passcode, manual.Passcode)
}

func TestMatchesDiscriminator(t *testing.T) {
	full := &Payload{Discriminator: 3840}
	assert.True(t, full.MatchesDiscriminator(3840))
	assert.False(t, full.MatchesDiscriminator(3841))

	short := &Payload{Discriminator: 0xF00, ShortDiscriminator: true}
	assert.True(t, short.MatchesDiscriminator(3840))
	assert.True(t, short.MatchesDiscriminator(0xFFF))
	assert.False(t, short.MatchesDiscriminator(0xE00))
}

func TestValidatePasscode(t *testing.T) {
	tests := []struct {
		passcode uint32
		wantErr  bool
	}{
		{20202021, false},
		{1, false},
		{99999998, false},
		{0, true},
		{11111111, true},
		{12345678, true},
		{87654321, true},
		{99999999, true},
		{100000000, true},
	}

	for _, tt := range tests {
		err := ValidatePasscode(tt.passcode)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidatePasscode(%d) error = %v, wantErr %v", tt.passcode, err, tt.wantErr)
		}
	}
}

func TestPayloadStringOmitsPasscode(t *testing.T) {
	p := &Payload{Discriminator: 3840, Passcode: 20202021}
	assert.NotContains(t, p.String(), "20202021")
}
