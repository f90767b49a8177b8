package pase

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// EncodeMessage encodes a PASE message to CBOR bytes.
func EncodeMessage(msg any) ([]byte, error) {
	return cbor.Marshal(msg)
}

// DecodeMessage decodes CBOR bytes to the PASE message named by its type.
func DecodeMessage(data []byte) (any, error) {
	var header struct {
		MsgType uint8 `cbor:"1,keyasint"`
	}
	if err := cbor.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var msg any
	switch header.MsgType {
	case MsgPBKDFParamRequest:
		msg = &PBKDFParamRequest{}
	case MsgPBKDFParamResponse:
		msg = &PBKDFParamResponse{}
	case MsgPake1:
		msg = &Pake1{}
	case MsgPake2:
		msg = &Pake2{}
	case MsgPake3:
		msg = &Pake3{}
	case MsgStatusReport:
		msg = &StatusReport{}
	default:
		return nil, fmt.Errorf("%w: unknown message type %#x", ErrInvalidMessage, header.MsgType)
	}

	if err := cbor.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return msg, nil
}

// MessageType returns the type of a decoded message, or 0 for unknown values.
func MessageType(msg any) uint8 {
	switch m := msg.(type) {
	case *PBKDFParamRequest:
		return m.MsgType
	case *PBKDFParamResponse:
		return m.MsgType
	case *Pake1:
		return m.MsgType
	case *Pake2:
		return m.MsgType
	case *Pake3:
		return m.MsgType
	case *StatusReport:
		return m.MsgType
	default:
		return 0
	}
}
