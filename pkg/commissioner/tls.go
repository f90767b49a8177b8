package commissioner

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mash-protocol/commissioner/pkg/cert"
	"github.com/mash-protocol/commissioner/pkg/cluster"
	"github.com/mash-protocol/commissioner/pkg/commissioning"
	"github.com/mash-protocol/commissioner/pkg/log"
	"github.com/mash-protocol/commissioner/pkg/pase"
	"github.com/mash-protocol/commissioner/pkg/transport"
)

// ErrNoAddress is returned when a node record carries no address.
var ErrNoAddress = errors.New("node has no address")

// ExchangeConfig configures the command clients created for each session.
type ExchangeConfig struct {
	// Timeout bounds each command. Zero means cluster.DefaultTimeout.
	Timeout time.Duration

	// ProtocolLogger receives an exchange event per command. Nil discards.
	ProtocolLogger log.Logger

	// Recorder receives exchange timings. Nil discards.
	Recorder cluster.ExchangeRecorder

	// Logger for connection diagnostics. Nil discards.
	Logger *slog.Logger
}

func (c ExchangeConfig) client(conn transport.MessageConn, peer string, run uuid.UUID) *cluster.Client {
	return cluster.NewClient(conn, cluster.ClientConfig{
		Peer:     peer,
		RunID:    run.String(),
		Timeout:  c.Timeout,
		Logger:   c.ProtocolLogger,
		Recorder: c.Recorder,
	})
}

func (c ExchangeConfig) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

// TLSPairer connects to commissionable nodes over the commissioning TLS
// channel and runs PASE on it.
type TLSPairer struct {
	config ExchangeConfig
	logger *slog.Logger
}

// NewTLSPairer creates a pairer.
func NewTLSPairer(config ExchangeConfig) *TLSPairer {
	return &TLSPairer{config: config, logger: config.logger()}
}

// Pair tries each address of node in turn and runs PASE on the first one
// that accepts a connection.
func (p *TLSPairer) Pair(ctx context.Context, run uuid.UUID, node *commissioning.NodeRecord, passcode uint32) (Pairing, error) {
	if len(node.Addresses) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAddress, node.InstanceName)
	}

	var lastErr error
	for _, ip := range node.Addresses {
		addr := net.JoinHostPort(ip.String(), strconv.Itoa(int(node.Port)))
		conn, err := transport.Dial(ctx, addr, transport.NewCommissioningTLSConfig())
		if err != nil {
			p.logger.Debug("commissioning dial failed", "address", addr, "error", err)
			lastErr = err
			continue
		}

		session, err := pase.Pair(ctx, conn, passcode)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		p.logger.Debug("PASE established", "address", addr, "session", session.ID())
		return &paseSession{
			session: session,
			client:  p.config.client(conn, node.InstanceName, run),
		}, nil
	}
	return nil, fmt.Errorf("connect to %s: %w", node.InstanceName, lastErr)
}

type paseSession struct {
	session *pase.Session
	client  *cluster.Client
}

func (s *paseSession) AttestationChallenge() []byte { return s.session.AttestationChallenge() }
func (s *paseSession) Commissionee() Commissionee   { return s.client }

func (s *paseSession) Close() error {
	_ = s.client.Close()
	return s.session.Close()
}

// TLSCaseDialer opens operational mutual-TLS sessions with commissioned
// nodes, authenticating with the commissioner's own NOC.
type TLSCaseDialer struct {
	config ExchangeConfig
	logger *slog.Logger
	cert   *cert.OperationalCert
	roots  *x509.CertPool
}

// NewTLSCaseDialer creates a dialer presenting identity and trusting roots.
func NewTLSCaseDialer(identity *cert.OperationalCert, roots *x509.CertPool, config ExchangeConfig) (*TLSCaseDialer, error) {
	if identity == nil || roots == nil {
		return nil, fmt.Errorf("%w: operational identity", ErrMissingDep)
	}
	return &TLSCaseDialer{config: config, logger: config.logger(), cert: identity, roots: roots}, nil
}

// Dial connects to node and checks that the peer certificate names the
// expected node.
func (d *TLSCaseDialer) Dial(ctx context.Context, run uuid.UUID, node *commissioning.OperationalNode) (Operational, error) {
	if len(node.Addresses) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAddress, node.PeerID)
	}
	conf, err := transport.NewOperationalClientTLSConfig(transport.OperationalTLSConfig{
		Certificate: d.cert.TLSCertificate(),
		Roots:       d.roots,
		PeerNodeID:  node.PeerID.NodeID.String(),
	})
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, ip := range node.Addresses {
		addr := net.JoinHostPort(ip.String(), strconv.Itoa(int(node.Port)))
		conn, err := transport.Dial(ctx, addr, conf)
		if err != nil {
			d.logger.Debug("operational dial failed", "address", addr, "error", err)
			lastErr = err
			continue
		}

		peers := conn.TLSState().PeerCertificates
		if len(peers) == 0 {
			_ = conn.Close()
			return nil, transport.ErrNoPeerCert
		}
		nodeID, err := cert.NodeIDFromCertificate(peers[0])
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return &caseSession{
			conn:   conn,
			client: d.config.client(conn, node.PeerID.String(), run),
			peer:   commissioning.NodeID(nodeID),
		}, nil
	}
	return nil, fmt.Errorf("connect to %s: %w", node.PeerID, lastErr)
}

type caseSession struct {
	conn   *transport.Conn
	client *cluster.Client
	peer   commissioning.NodeID
}

func (s *caseSession) PeerNodeID() commissioning.NodeID { return s.peer }
func (s *caseSession) Commissionee() Commissionee       { return s.client }

func (s *caseSession) Close() error {
	_ = s.client.Close()
	return s.conn.Close()
}
