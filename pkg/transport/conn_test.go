package transport

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, conf *tls.Config, handler HandlerFunc) *Server {
	t.Helper()

	s, err := NewServer(ServerConfig{
		Address:   "127.0.0.1:0",
		TLSConfig: conf,
		Handler:   handler,
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

// echo replies to every message until the peer goes away.
func echo(ctx context.Context, c *Conn) {
	for {
		msg, err := c.Receive(ctx)
		if err != nil {
			return
		}
		if err := c.Send(msg); err != nil {
			return
		}
	}
}

func TestCommissioningChannelRoundTrip(t *testing.T) {
	cert, err := SelfSignedCertificate("commissionee")
	require.NoError(t, err)
	conf, err := NewCommissioneeTLSConfig(cert)
	require.NoError(t, err)
	s := startServer(t, conf, echo)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, s.Addr().String(), NewCommissioningTLSConfig())
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, ALPNCommissioning, c.TLSState().NegotiatedProtocol)
	require.NoError(t, c.Send([]byte("pbkdf-param-request")))
	got, err := c.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pbkdf-param-request", string(got))
}

func TestOperationalChannelMutualTLS(t *testing.T) {
	f := newTestFabric(t)
	serverConf, err := NewOperationalServerTLSConfig(f.node(t, "1122334455667788"), f.roots)
	require.NoError(t, err)
	s := startServer(t, serverConf, echo)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("expected node", func(t *testing.T) {
		conf, err := NewOperationalClientTLSConfig(OperationalTLSConfig{
			Certificate: f.node(t, "0000000000000001"),
			Roots:       f.roots,
			PeerNodeID:  "1122334455667788",
		})
		require.NoError(t, err)

		c, err := Dial(ctx, s.Addr().String(), conf)
		require.NoError(t, err)
		defer c.Close()
		assert.Equal(t, ALPNOperational, c.TLSState().NegotiatedProtocol)
	})

	t.Run("other node", func(t *testing.T) {
		conf, err := NewOperationalClientTLSConfig(OperationalTLSConfig{
			Certificate: f.node(t, "0000000000000001"),
			Roots:       f.roots,
			PeerNodeID:  "0000000000000009",
		})
		require.NoError(t, err)

		_, err = Dial(ctx, s.Addr().String(), conf)
		assert.ErrorIs(t, err, ErrPeerMismatch)
	})

	t.Run("foreign fabric", func(t *testing.T) {
		other := newTestFabric(t)
		conf, err := NewOperationalClientTLSConfig(OperationalTLSConfig{
			Certificate: other.node(t, "0000000000000001"),
			Roots:       f.roots,
		})
		require.NoError(t, err)

		c, err := Dial(ctx, s.Addr().String(), conf)
		if err == nil {
			// TLS 1.3 reports client certificate rejection on first read.
			_, err = c.Receive(ctx)
			c.Close()
		}
		assert.Error(t, err)
	})
}

func TestCommissioningClientRejectedByOperationalServer(t *testing.T) {
	f := newTestFabric(t)
	serverConf, err := NewOperationalServerTLSConfig(f.node(t, "1122334455667788"), f.roots)
	require.NoError(t, err)
	s := startServer(t, serverConf, echo)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = Dial(ctx, s.Addr().String(), NewCommissioningTLSConfig())
	assert.Error(t, err)
}

func TestReceiveHonoursContext(t *testing.T) {
	cert, err := SelfSignedCertificate("commissionee")
	require.NoError(t, err)
	conf, err := NewCommissioneeTLSConfig(cert)
	require.NoError(t, err)

	// The handler never replies.
	s := startServer(t, conf, func(ctx context.Context, c *Conn) { <-ctx.Done() })

	c, err := Dial(context.Background(), s.Addr().String(), NewCommissioningTLSConfig())
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	cancelled, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = c.Receive(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClosedConn(t *testing.T) {
	cert, err := SelfSignedCertificate("commissionee")
	require.NoError(t, err)
	conf, err := NewCommissioneeTLSConfig(cert)
	require.NoError(t, err)
	s := startServer(t, conf, echo)

	c, err := Dial(context.Background(), s.Addr().String(), NewCommissioningTLSConfig())
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send([]byte("x")), ErrConnectionClosed)
	_, err = c.Receive(context.Background())
	assert.ErrorIs(t, err, ErrConnectionClosed)

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestServerLifecycle(t *testing.T) {
	cert, err := SelfSignedCertificate("commissionee")
	require.NoError(t, err)
	conf, err := NewCommissioneeTLSConfig(cert)
	require.NoError(t, err)

	_, err = NewServer(ServerConfig{TLSConfig: conf})
	assert.ErrorIs(t, err, ErrNoHandler)

	s := startServer(t, conf, echo)
	assert.NotZero(t, s.Port())
	assert.ErrorIs(t, s.Start(context.Background()), ErrServerRunning)

	c, err := Dial(context.Background(), s.Addr().String(), NewCommissioningTLSConfig())
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Send([]byte("ping")))
	_, err = c.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.ConnectionCount())

	require.NoError(t, s.Stop())
	assert.Equal(t, 0, s.ConnectionCount())
	assert.NoError(t, s.Stop())
}
