package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrConnectionClosed is returned by operations on a closed Conn.
var ErrConnectionClosed = errors.New("connection closed")

// DefaultConnectTimeout bounds Dial when ctx carries no deadline.
const DefaultConnectTimeout = 30 * time.Second

// Conn is a framed TLS connection.
type Conn struct {
	conn     *tls.Conn
	framer   *Framer
	tlsState tls.ConnectionState
	closeCh  chan struct{}

	closeOnce sync.Once
	writeMu   sync.Mutex
	readMu    sync.Mutex
}

func newConn(c *tls.Conn) *Conn {
	return &Conn{
		conn:     c,
		framer:   NewFramer(c, MaxMessageSize),
		tlsState: c.ConnectionState(),
		closeCh:  make(chan struct{}),
	}
}

// Dial connects to address, performs the TLS handshake with conf and checks
// the negotiated protocol against conf's first ALPN entry.
func Dial(ctx context.Context, address string, conf *tls.Config) (*Conn, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	raw, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	tlsConn := tls.Client(raw, conf)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}

	if len(conf.NextProtos) > 0 {
		if err := VerifyConnection(tlsConn.ConnectionState(), conf.NextProtos[0]); err != nil {
			tlsConn.Close()
			return nil, fmt.Errorf("connection verification failed: %w", err)
		}
	}
	return newConn(tlsConn), nil
}

// TLSState returns the TLS connection state.
func (c *Conn) TLSState() tls.ConnectionState {
	return c.tlsState
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send writes one message.
func (c *Conn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	return c.framer.WriteFrame(data)
}

// Receive reads one message. It returns ctx.Err() when ctx ends first.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}

	deadline, _ := ctx.Deadline()
	_ = c.conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})

	data, err := c.framer.ReadFrame()
	stop()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		select {
		case <-c.closeCh:
			return nil, ErrConnectionClosed
		default:
		}
		return nil, err
	}
	return data, nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the connection is closed locally.
func (c *Conn) Done() <-chan struct{} {
	return c.closeCh
}
