package pase

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mash-protocol/commissioner/pkg/transport"
)

// Exchange errors.
var (
	// ErrBusy means the responder is already pairing with someone else.
	ErrBusy = errors.New("commissionee busy")

	// ErrRefused means the responder's commissioning window is closed.
	ErrRefused = errors.New("commissioning refused")

	// ErrPeerStatus is returned for any other failure status.
	ErrPeerStatus = errors.New("peer reported failure")
)

// RandomSize is the size of the initiator and responder randoms.
const RandomSize = 32

// contextPrefix starts the hash that binds the SPAKE2+ transcript to the
// parameter exchange.
var contextPrefix = []byte("PAKE V1 Commissioning")

// Role is the side of the exchange a Session was established as.
type Role uint8

const (
	RoleInitiator Role = iota
	RoleResponder
)

// Session is an established PASE session over a commissioning channel.
type Session struct {
	conn      transport.MessageConn
	keys      SessionKeys
	sessionID uint16
	role      Role

	closeOnce sync.Once
	closeErr  error
}

// AttestationChallenge returns the challenge derived from the session keys.
func (s *Session) AttestationChallenge() []byte {
	return s.keys.AttestationChallenge
}

// Keys returns the derived session keys.
func (s *Session) Keys() SessionKeys {
	return s.keys
}

// ID returns the session id chosen by the initiator.
func (s *Session) ID() uint16 {
	return s.sessionID
}

// Role returns the local side of the session.
func (s *Session) Role() Role {
	return s.role
}

// Conn returns the channel the session runs on.
func (s *Session) Conn() transport.MessageConn {
	return s.conn
}

// Close closes the underlying channel. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func bindingContext(req, resp []byte) []byte {
	h := sha256.New()
	h.Write(contextPrefix)
	h.Write(req)
	h.Write(resp)
	return h.Sum(nil)
}

func send(conn transport.MessageConn, msg any) ([]byte, error) {
	data, err := EncodeMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if err := conn.Send(data); err != nil {
		return nil, err
	}
	return data, nil
}

func receive(ctx context.Context, conn transport.MessageConn) (any, []byte, error) {
	data, err := conn.Receive(ctx)
	if err != nil {
		return nil, nil, err
	}
	msg, err := DecodeMessage(data)
	if err != nil {
		return nil, nil, err
	}
	return msg, data, nil
}

func sendStatus(conn transport.MessageConn, status Status, message string) {
	_, _ = send(conn, &StatusReport{MsgType: MsgStatusReport, Status: status, Message: message})
}

// statusError maps a failure status from the peer to an error.
func statusError(r *StatusReport) error {
	switch r.Status {
	case StatusBusy:
		return ErrBusy
	case StatusWindowClosed:
		return ErrRefused
	case StatusConfirmationFailed:
		return fmt.Errorf("%w: %w", ErrPeerStatus, ErrConfirmationFailed)
	default:
		if r.Message != "" {
			return fmt.Errorf("%w: %s: %s", ErrPeerStatus, r.Status, r.Message)
		}
		return fmt.Errorf("%w: %s", ErrPeerStatus, r.Status)
	}
}

// expect receives the next message and checks it is a T. A StatusReport in
// its place is turned into the matching error.
func expect[T any](ctx context.Context, conn transport.MessageConn) (*T, []byte, error) {
	msg, raw, err := receive(ctx, conn)
	if err != nil {
		return nil, nil, err
	}
	if m, ok := msg.(*T); ok {
		return m, raw, nil
	}
	if r, ok := msg.(*StatusReport); ok {
		return nil, nil, statusError(r)
	}
	return nil, nil, fmt.Errorf("%w: got type %#x", ErrUnexpectedMessage, MessageType(msg))
}

// Pair runs the initiator side of PASE over conn. On success the returned
// session owns conn. On failure conn is left open for the caller to close.
func Pair(ctx context.Context, conn transport.MessageConn, passcode uint32) (*Session, error) {
	random := make([]byte, RandomSize)
	if _, err := rand.Read(random); err != nil {
		return nil, fmt.Errorf("generate random: %w", err)
	}
	var sid [2]byte
	if _, err := rand.Read(sid[:]); err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	sessionID := uint16(sid[0])<<8 | uint16(sid[1])

	reqRaw, err := send(conn, &PBKDFParamRequest{
		MsgType:         MsgPBKDFParamRequest,
		InitiatorRandom: random,
		SessionID:       sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("send PBKDF param request: %w", err)
	}

	params, respRaw, err := expect[PBKDFParamResponse](ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("PBKDF param response: %w", err)
	}
	if string(params.InitiatorRandom) != string(random) {
		sendStatus(conn, StatusInvalidParameter, "initiator random mismatch")
		return nil, fmt.Errorf("%w: initiator random mismatch", ErrInvalidParameters)
	}

	client, err := NewSPAKE2PlusClient(passcode, params.Salt, params.Iterations, bindingContext(reqRaw, respRaw))
	if err != nil {
		sendStatus(conn, StatusInvalidParameter, err.Error())
		return nil, err
	}

	if _, err := send(conn, &Pake1{MsgType: MsgPake1, PA: client.PublicValue()}); err != nil {
		return nil, fmt.Errorf("send pake1: %w", err)
	}

	pake2, _, err := expect[Pake2](ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("pake2: %w", err)
	}
	if err := client.ProcessServerValue(pake2.PB); err != nil {
		sendStatus(conn, StatusInvalidParameter, err.Error())
		return nil, err
	}
	if err := client.VerifyServerConfirmation(pake2.CB); err != nil {
		sendStatus(conn, StatusConfirmationFailed, "")
		return nil, err
	}

	if _, err := send(conn, &Pake3{MsgType: MsgPake3, CA: client.Confirmation()}); err != nil {
		return nil, fmt.Errorf("send pake3: %w", err)
	}

	report, _, err := expect[StatusReport](ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("status report: %w", err)
	}
	if report.Status != StatusSuccess {
		return nil, statusError(report)
	}

	return &Session{
		conn:      conn,
		keys:      client.SessionKeys(),
		sessionID: sessionID,
		role:      RoleInitiator,
	}, nil
}

// ResponderConfig configures a Responder.
type ResponderConfig struct {
	// Verifier is the registration record for the device passcode.
	Verifier *Verifier

	// Salt and Iterations are the PBKDF2 parameters the verifier was
	// computed with.
	Salt       []byte
	Iterations uint32

	// Window gates exchanges. Nil admits every exchange.
	Window *Window

	// Logger for exchange events. Nil discards.
	Logger *slog.Logger
}

// Responder runs the responder side of PASE.
type Responder struct {
	config ResponderConfig
	logger *slog.Logger
}

// NewResponder creates a responder.
func NewResponder(config ResponderConfig) (*Responder, error) {
	if config.Verifier == nil {
		return nil, ErrInvalidVerifier
	}
	if err := ValidateParameters(config.Salt, config.Iterations); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Responder{config: config, logger: logger}, nil
}

// Respond serves one exchange on conn. When the window is busy or closed
// the initiator is told so and ErrWindowBusy or ErrWindowClosed is returned.
func (r *Responder) Respond(ctx context.Context, conn transport.MessageConn) (*Session, error) {
	req, reqRaw, err := expect[PBKDFParamRequest](ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("PBKDF param request: %w", err)
	}
	if len(req.InitiatorRandom) != RandomSize {
		sendStatus(conn, StatusInvalidParameter, "initiator random size")
		return nil, fmt.Errorf("%w: initiator random is %d bytes", ErrInvalidParameters, len(req.InitiatorRandom))
	}

	var attempt uint64
	if w := r.config.Window; w != nil {
		attempt, err = w.BeginPASE()
		switch {
		case errors.Is(err, ErrWindowBusy):
			sendStatus(conn, StatusBusy, "")
			return nil, err
		case err != nil:
			sendStatus(conn, StatusWindowClosed, "")
			return nil, err
		}
	}

	session, err := r.complete(ctx, conn, req, reqRaw)
	if w := r.config.Window; w != nil {
		_ = w.EndPASE(attempt, err == nil)
	}
	if err != nil {
		r.logger.Debug("PASE failed", "error", err)
		return nil, err
	}
	r.logger.Debug("PASE established", "session", session.sessionID)
	return session, nil
}

func (r *Responder) complete(ctx context.Context, conn transport.MessageConn, req *PBKDFParamRequest, reqRaw []byte) (*Session, error) {
	random := make([]byte, RandomSize)
	if _, err := rand.Read(random); err != nil {
		sendStatus(conn, StatusInternalError, "")
		return nil, fmt.Errorf("generate random: %w", err)
	}

	respRaw, err := send(conn, &PBKDFParamResponse{
		MsgType:         MsgPBKDFParamResponse,
		InitiatorRandom: req.InitiatorRandom,
		ResponderRandom: random,
		SessionID:       req.SessionID,
		Iterations:      r.config.Iterations,
		Salt:            r.config.Salt,
	})
	if err != nil {
		return nil, fmt.Errorf("send PBKDF param response: %w", err)
	}

	server, err := NewSPAKE2PlusServer(r.config.Verifier, bindingContext(reqRaw, respRaw))
	if err != nil {
		sendStatus(conn, StatusInternalError, "")
		return nil, err
	}

	pake1, _, err := expect[Pake1](ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("pake1: %w", err)
	}
	if err := server.ProcessClientValue(pake1.PA); err != nil {
		sendStatus(conn, StatusInvalidParameter, err.Error())
		return nil, err
	}

	if _, err := send(conn, &Pake2{MsgType: MsgPake2, PB: server.PublicValue(), CB: server.Confirmation()}); err != nil {
		return nil, fmt.Errorf("send pake2: %w", err)
	}

	pake3, _, err := expect[Pake3](ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("pake3: %w", err)
	}
	if err := server.VerifyClientConfirmation(pake3.CA); err != nil {
		sendStatus(conn, StatusConfirmationFailed, "")
		return nil, err
	}

	if _, err := send(conn, &StatusReport{MsgType: MsgStatusReport, Status: StatusSuccess}); err != nil {
		return nil, fmt.Errorf("send status report: %w", err)
	}

	return &Session{
		conn:      conn,
		keys:      server.SessionKeys(),
		sessionID: req.SessionID,
		role:      RoleResponder,
	}, nil
}
