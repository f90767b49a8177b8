package cluster

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Message errors.
var (
	ErrInvalidMessage  = errors.New("invalid message")
	ErrMissingPayload  = errors.New("response carries no payload")
	ErrUnexpectedReply = errors.New("unexpected reply")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cluster: CBOR encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cluster: CBOR decoder mode: %v", err))
	}
}

// Request is a command invocation.
type Request struct {
	MessageID uint32          `cbor:"1,keyasint"`
	Command   Command         `cbor:"2,keyasint"`
	Payload   cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// Validate checks the envelope.
func (r *Request) Validate() error {
	if r.MessageID == 0 {
		return fmt.Errorf("%w: message id 0", ErrInvalidMessage)
	}
	if !r.Command.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidMessage, r.Command)
	}
	return nil
}

// Response answers a Request with the same MessageID.
type Response struct {
	MessageID uint32          `cbor:"1,keyasint"`
	Status    Status          `cbor:"2,keyasint"`
	Payload   cbor.RawMessage `cbor:"3,keyasint,omitempty"`
	Message   string          `cbor:"4,keyasint,omitempty"`
}

// EncodeRequest validates and encodes req.
func EncodeRequest(req *Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return encMode.Marshal(req)
}

// DecodeRequest decodes and validates a request.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := decMode.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// EncodeResponse encodes resp.
func EncodeResponse(resp *Response) ([]byte, error) {
	return encMode.Marshal(resp)
}

// DecodeResponse decodes a response.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := decMode.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if resp.MessageID == 0 {
		return nil, fmt.Errorf("%w: message id 0", ErrInvalidMessage)
	}
	return &resp, nil
}

// encodePayload returns nil for a nil v.
func encodePayload(v any) (cbor.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return encMode.Marshal(v)
}

func decodePayload(raw cbor.RawMessage, v any) error {
	if len(raw) == 0 {
		return ErrMissingPayload
	}
	if err := decMode.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: payload: %w", ErrInvalidMessage, err)
	}
	return nil
}
