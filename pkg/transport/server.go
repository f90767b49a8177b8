package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Server errors.
var (
	ErrServerRunning = errors.New("server already running")
	ErrNoHandler     = errors.New("handler is required")
)

// HandlerFunc serves one accepted connection. The connection is closed when
// it returns.
type HandlerFunc func(ctx context.Context, conn *Conn)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address to listen on. Default: ":5540".
	Address string

	// TLSConfig is the server TLS configuration. Its first ALPN entry is
	// enforced on every connection.
	TLSConfig *tls.Config

	// HandshakeTimeout bounds the TLS handshake. Default: 10 seconds.
	HandshakeTimeout time.Duration

	Handler HandlerFunc

	// Logger for connection events. Nil discards.
	Logger *slog.Logger
}

// Server accepts framed TLS connections.
type Server struct {
	config   ServerConfig
	listener net.Listener
	logger   *slog.Logger

	conns   map[*Conn]struct{}
	connsMu sync.Mutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server. Call Start to listen.
func NewServer(config ServerConfig) (*Server, error) {
	if config.TLSConfig == nil {
		return nil, fmt.Errorf("TLS config is required")
	}
	if config.Handler == nil {
		return nil, ErrNoHandler
	}
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Server{
		config: config,
		logger: logger,
		conns:  make(map[*Conn]struct{}),
	}, nil
}

// Start listens and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerRunning
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every open connection, then waits for the
// handlers to return.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()
	s.listener.Close()

	s.connsMu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the bound TCP port, or 0 before Start.
func (s *Server) Port() uint16 {
	if tcp, ok := s.Addr().(*net.TCPAddr); ok {
		return uint16(tcp.Port)
	}
	return 0
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		raw, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(raw)
	}
}

func (s *Server) handleConnection(raw net.Conn) {
	defer s.wg.Done()

	hsCtx, cancel := context.WithTimeout(s.ctx, s.config.HandshakeTimeout)
	tlsConn := tls.Server(raw, s.config.TLSConfig)
	err := tlsConn.HandshakeContext(hsCtx)
	cancel()
	if err != nil {
		raw.Close()
		s.logger.Debug("TLS handshake failed", "remote", raw.RemoteAddr(), "error", err)
		return
	}

	if protos := s.config.TLSConfig.NextProtos; len(protos) > 0 {
		if err := VerifyConnection(tlsConn.ConnectionState(), protos[0]); err != nil {
			tlsConn.Close()
			s.logger.Debug("connection rejected", "remote", raw.RemoteAddr(), "error", err)
			return
		}
	}

	conn := newConn(tlsConn)
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()

	s.logger.Debug("connection accepted", "remote", raw.RemoteAddr())
	s.config.Handler(s.ctx, conn)
	conn.Close()

	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
	s.logger.Debug("connection closed", "remote", raw.RemoteAddr())
}
