package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testFabric is a root CA that issues node certificates named by node id.
type testFabric struct {
	root  *x509.Certificate
	key   *ecdsa.PrivateKey
	roots *x509.CertPool
	next  int64
}

func newTestFabric(t *testing.T) *testFabric {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	root, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(root)
	return &testFabric{root: root, key: key, roots: pool, next: 2}
}

func (f *testFabric) node(t *testing.T, nodeID string) tls.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(f.next),
		Subject:      pkix.Name{CommonName: nodeID},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	f.next++
	der, err := x509.CreateCertificate(rand.Reader, tmpl, f.root, &key.PublicKey, f.key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestCommissioningTLSConfig(t *testing.T) {
	c := NewCommissioningTLSConfig()

	assert.Equal(t, uint16(tls.VersionTLS13), c.MinVersion)
	assert.Equal(t, uint16(tls.VersionTLS13), c.MaxVersion)
	assert.True(t, c.InsecureSkipVerify)
	assert.Equal(t, []string{ALPNCommissioning}, c.NextProtos)
	assert.True(t, c.SessionTicketsDisabled)
}

func TestCommissioneeTLSConfig(t *testing.T) {
	_, err := NewCommissioneeTLSConfig(tls.Certificate{})
	assert.ErrorIs(t, err, ErrNoCertificate)

	cert, err := SelfSignedCertificate("commissionee")
	require.NoError(t, err)
	c, err := NewCommissioneeTLSConfig(cert)
	require.NoError(t, err)
	assert.Equal(t, tls.NoClientCert, c.ClientAuth)
	assert.Equal(t, []string{ALPNCommissioning}, c.NextProtos)
}

func TestOperationalTLSConfigRequiresMaterial(t *testing.T) {
	f := newTestFabric(t)
	cert := f.node(t, "0000000000000001")

	_, err := NewOperationalClientTLSConfig(OperationalTLSConfig{Roots: f.roots})
	assert.ErrorIs(t, err, ErrNoCertificate)
	_, err = NewOperationalClientTLSConfig(OperationalTLSConfig{Certificate: cert})
	assert.ErrorIs(t, err, ErrNoRoots)
	_, err = NewOperationalServerTLSConfig(cert, nil)
	assert.ErrorIs(t, err, ErrNoRoots)

	c, err := NewOperationalServerTLSConfig(cert, f.roots)
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, c.ClientAuth)
	assert.Equal(t, []string{ALPNOperational}, c.NextProtos)
}

func TestVerifyNodeChain(t *testing.T) {
	f := newTestFabric(t)
	other := newTestFabric(t)
	peer := f.node(t, "1122334455667788")

	assert.NoError(t, verifyNodeChain(peer.Certificate, f.roots, "1122334455667788"))
	assert.NoError(t, verifyNodeChain(peer.Certificate, f.roots, ""))
	assert.ErrorIs(t, verifyNodeChain(peer.Certificate, f.roots, "0000000000000002"), ErrPeerMismatch)
	assert.Error(t, verifyNodeChain(peer.Certificate, other.roots, ""))
	assert.ErrorIs(t, verifyNodeChain(nil, f.roots, ""), ErrNoPeerCert)
}

func TestVerifyConnection(t *testing.T) {
	tests := []struct {
		name  string
		state tls.ConnectionState
		want  error
	}{
		{"valid", tls.ConnectionState{Version: tls.VersionTLS13, NegotiatedProtocol: ALPNCommissioning}, nil},
		{"tls 1.2", tls.ConnectionState{Version: tls.VersionTLS12, NegotiatedProtocol: ALPNCommissioning}, ErrWrongTLSVersion},
		{"wrong alpn", tls.ConnectionState{Version: tls.VersionTLS13, NegotiatedProtocol: ALPNOperational}, ErrWrongProtocol},
		{"no alpn", tls.ConnectionState{Version: tls.VersionTLS13}, ErrWrongProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyConnection(tt.state, ALPNCommissioning)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSelfSignedCertificate(t *testing.T) {
	cert, err := SelfSignedCertificate("dev-3840")
	require.NoError(t, err)
	require.Len(t, cert.Certificate, 1)

	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, "dev-3840", parsed.Subject.CommonName)
	assert.True(t, parsed.NotAfter.After(time.Now()))
}

func TestDefaultPort(t *testing.T) {
	assert.Equal(t, 5540, DefaultPort)
}
