package cert

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyOperationalCert(t *testing.T) {
	issuer := newTestIssuer(t)
	oc, err := issuer.IssueOperational(7)
	require.NoError(t, err)

	other, err := NewFabric(testFabricID)
	require.NoError(t, err)

	assert.NoError(t, VerifyOperationalCert(oc.Certificate, issuer.Fabric().Certificate))
	assert.ErrorIs(t, VerifyOperationalCert(oc.Certificate, other.Certificate), ErrInvalidChain)
	assert.ErrorIs(t, VerifyOperationalCert(oc.Certificate, nil), ErrInvalidChain)
	assert.ErrorIs(t, VerifyOperationalCert(nil, other.Certificate), ErrInvalidCert)
}

func TestVerifyFabricMembership(t *testing.T) {
	issuer := newTestIssuer(t)
	oc, err := issuer.IssueOperational(7)
	require.NoError(t, err)

	other, err := NewFabric(testFabricID)
	require.NoError(t, err)

	assert.NoError(t, VerifyFabricMembership(oc.Certificate, issuer.Fabric().Certificate))
	assert.ErrorIs(t, VerifyFabricMembership(oc.Certificate, other.Certificate), ErrNotMember)
}

func TestParseNOC(t *testing.T) {
	issuer := newTestIssuer(t)
	oc, err := issuer.IssueOperational(7)
	require.NoError(t, err)
	root := issuer.Fabric().Certificate.Raw

	t.Run("valid", func(t *testing.T) {
		noc, parsedRoot, err := ParseNOC(oc.Certificate.Raw, root, oc.PrivateKey)
		require.NoError(t, err)
		assert.Equal(t, oc.Certificate.Raw, noc.Raw)
		assert.True(t, parsedRoot.IsCA)
	})

	t.Run("wrong key", func(t *testing.T) {
		key, err := GenerateKey()
		require.NoError(t, err)
		_, _, err = ParseNOC(oc.Certificate.Raw, root, key)
		assert.ErrorIs(t, err, ErrKeyMismatch)
	})

	t.Run("leaf as root", func(t *testing.T) {
		_, _, err := ParseNOC(oc.Certificate.Raw, oc.Certificate.Raw, nil)
		assert.ErrorIs(t, err, ErrInvalidCert)
	})

	t.Run("garbage", func(t *testing.T) {
		_, _, err := ParseNOC([]byte("x"), root, nil)
		assert.ErrorIs(t, err, ErrInvalidCert)
	})
}

func TestNodeIDFromCertificate(t *testing.T) {
	tests := []struct {
		cn      string
		want    uint64
		wantErr bool
	}{
		{"0000000000001234", 0x1234, false},
		{"FFFFFFFFFFFFFFFF", 0xFFFFFFFFFFFFFFFF, false},
		{"1234", 0, true},
		{"RCAC", 0, true},
		{"000000000000123G", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.cn, func(t *testing.T) {
			id, err := NodeIDFromCertificate(&x509.Certificate{Subject: pkix.Name{CommonName: tt.cn}})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoNodeID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}

	_, err := NodeIDFromCertificate(nil)
	assert.ErrorIs(t, err, ErrInvalidCert)
}

func TestGetCertificateInfo(t *testing.T) {
	issuer := newTestIssuer(t)
	oc, err := issuer.IssueOperational(0x42)
	require.NoError(t, err)

	info := GetCertificateInfo(oc.Certificate)
	assert.Equal(t, "0000000000000042", info.NodeID)
	assert.Equal(t, "0000000000000001", info.FabricID)
	assert.Equal(t, "RCAC", info.Issuer)
	assert.False(t, info.IsCA)

	rootInfo := GetCertificateInfo(issuer.Fabric().Certificate)
	assert.Empty(t, rootInfo.NodeID)
	assert.True(t, rootInfo.IsCA)

	assert.Nil(t, GetCertificateInfo(nil))
}
