package cluster

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/mash-protocol/commissioner/pkg/transport"
)

// Handler implements the commissionee side of each command. Returning an
// error wrapping a *StatusError answers with that status.
type Handler interface {
	ArmFailSafe(ctx context.Context, req ArmFailSafeRequest) error
	Attest(ctx context.Context, nonce []byte) (SignedResponse, error)
	CertificateChain(ctx context.Context, typ CertificateType) ([]byte, error)
	SignCSR(ctx context.Context, nonce []byte) (SignedResponse, error)
	AddTrustedRootCertificate(ctx context.Context, root []byte) error
	AddNOC(ctx context.Context, req AddNOCRequest) (uint8, error)
	NetworkFeatureMap(ctx context.Context) (uint32, error)
	AddOrUpdateWiFiNetwork(ctx context.Context, req AddOrUpdateWiFiNetworkRequest) ([]byte, error)
	AddOrUpdateThreadNetwork(ctx context.Context, req AddOrUpdateThreadNetworkRequest) ([]byte, error)
	ConnectNetwork(ctx context.Context, req ConnectNetworkRequest) error
	CommissioningComplete(ctx context.Context) error
}

// Server answers commissioning commands with a Handler.
type Server struct {
	handler Handler
	logger  *slog.Logger
}

// NewServer creates a server dispatching to handler. A nil logger discards.
func NewServer(handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{handler: handler, logger: logger}
}

// Serve answers requests on conn until ctx is done or conn fails. It
// returns nil when the peer closes the connection or ctx ends.
func (s *Server) Serve(ctx context.Context, conn transport.MessageConn) error {
	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrConnectionClosed) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		req, err := DecodeRequest(data)
		if err != nil {
			s.logger.Debug("dropping malformed request", "error", err)
			if id := peekMessageID(data); id != 0 {
				if err := s.send(conn, &Response{MessageID: id, Status: StatusInvalidCommand, Message: err.Error()}); err != nil {
					return err
				}
			}
			continue
		}

		if err := s.send(conn, s.HandleRequest(ctx, req)); err != nil {
			return err
		}
	}
}

func (s *Server) send(conn transport.MessageConn, resp *Response) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	return conn.Send(data)
}

// HandleRequest dispatches one request.
func (s *Server) HandleRequest(ctx context.Context, req *Request) *Response {
	payload, err := s.dispatch(ctx, req)
	if err != nil {
		s.logger.Debug("command failed", "command", req.Command, "error", err)
		return errorResponse(req.MessageID, err)
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return errorResponse(req.MessageID, err)
	}
	s.logger.Debug("command handled", "command", req.Command)
	return &Response{MessageID: req.MessageID, Status: StatusSuccess, Payload: raw}
}

func (s *Server) dispatch(ctx context.Context, req *Request) (any, error) {
	h := s.handler
	switch req.Command {
	case CmdArmFailSafe:
		var p ArmFailSafeRequest
		if err := decodeRequestPayload(req, &p); err != nil {
			return nil, err
		}
		return nil, h.ArmFailSafe(ctx, p)

	case CmdAttestationRequest:
		var p NonceRequest
		if err := decodeRequestPayload(req, &p); err != nil {
			return nil, err
		}
		resp, err := h.Attest(ctx, p.Nonce)
		if err != nil {
			return nil, err
		}
		return &resp, nil

	case CmdCertificateChainRequest:
		var p CertificateChainRequest
		if err := decodeRequestPayload(req, &p); err != nil {
			return nil, err
		}
		der, err := h.CertificateChain(ctx, p.Type)
		if err != nil {
			return nil, err
		}
		return &CertificateChainResponse{Certificate: der}, nil

	case CmdCSRRequest:
		var p NonceRequest
		if err := decodeRequestPayload(req, &p); err != nil {
			return nil, err
		}
		resp, err := h.SignCSR(ctx, p.Nonce)
		if err != nil {
			return nil, err
		}
		return &resp, nil

	case CmdAddTrustedRootCertificate:
		var p AddTrustedRootCertificateRequest
		if err := decodeRequestPayload(req, &p); err != nil {
			return nil, err
		}
		return nil, h.AddTrustedRootCertificate(ctx, p.RootCertificate)

	case CmdAddNOC:
		var p AddNOCRequest
		if err := decodeRequestPayload(req, &p); err != nil {
			return nil, err
		}
		index, err := h.AddNOC(ctx, p)
		if err != nil {
			return nil, err
		}
		return &AddNOCResponse{FabricIndex: index}, nil

	case CmdReadNetworkFeatureMap:
		fm, err := h.NetworkFeatureMap(ctx)
		if err != nil {
			return nil, err
		}
		return &FeatureMapResponse{FeatureMap: fm}, nil

	case CmdAddOrUpdateWiFiNetwork:
		var p AddOrUpdateWiFiNetworkRequest
		if err := decodeRequestPayload(req, &p); err != nil {
			return nil, err
		}
		id, err := h.AddOrUpdateWiFiNetwork(ctx, p)
		if err != nil {
			return nil, err
		}
		return &NetworkConfigResponse{NetworkID: id}, nil

	case CmdAddOrUpdateThreadNetwork:
		var p AddOrUpdateThreadNetworkRequest
		if err := decodeRequestPayload(req, &p); err != nil {
			return nil, err
		}
		id, err := h.AddOrUpdateThreadNetwork(ctx, p)
		if err != nil {
			return nil, err
		}
		return &NetworkConfigResponse{NetworkID: id}, nil

	case CmdConnectNetwork:
		var p ConnectNetworkRequest
		if err := decodeRequestPayload(req, &p); err != nil {
			return nil, err
		}
		return nil, h.ConnectNetwork(ctx, p)

	case CmdCommissioningComplete:
		return nil, h.CommissioningComplete(ctx)

	default:
		return nil, NewStatusError(StatusUnsupportedCommand, "%s", req.Command)
	}
}

func decodeRequestPayload(req *Request, v any) error {
	if err := decodePayload(req.Payload, v); err != nil {
		return NewStatusError(StatusInvalidCommand, "%v", err)
	}
	return nil
}

func errorResponse(id uint32, err error) *Response {
	status, ok := StatusOf(err)
	if !ok || status == StatusSuccess {
		status = StatusFailure
	}
	msg := err.Error()
	var se *StatusError
	if errors.As(err, &se) && se.Message != "" {
		msg = se.Message
	}
	return &Response{MessageID: id, Status: status, Message: msg}
}

// peekMessageID extracts the message id from a request that failed
// validation so the error can be correlated.
func peekMessageID(data []byte) uint32 {
	var env struct {
		MessageID uint32 `cbor:"1,keyasint"`
	}
	if err := decMode.Unmarshal(data, &env); err != nil {
		return 0
	}
	return env.MessageID
}
