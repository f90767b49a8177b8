package pase

import (
	"errors"
	"fmt"
)

// PASE message types.
const (
	MsgPBKDFParamRequest  uint8 = 0x20
	MsgPBKDFParamResponse uint8 = 0x21
	MsgPake1              uint8 = 0x22
	MsgPake2              uint8 = 0x23
	MsgPake3              uint8 = 0x24
	MsgStatusReport       uint8 = 0x40
)

// Status codes carried by StatusReport.
type Status uint8

const (
	StatusSuccess            Status = 0
	StatusBusy               Status = 1
	StatusWindowClosed       Status = 2
	StatusInvalidParameter   Status = 3
	StatusConfirmationFailed Status = 4
	StatusInternalError      Status = 255
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusBusy:
		return "BUSY"
	case StatusWindowClosed:
		return "WINDOW_CLOSED"
	case StatusInvalidParameter:
		return "INVALID_PARAMETER"
	case StatusConfirmationFailed:
		return "CONFIRMATION_FAILED"
	case StatusInternalError:
		return "INTERNAL_ERROR"
	default:
		return fmt.Sprintf("STATUS(%d)", uint8(s))
	}
}

// Message errors.
var (
	ErrInvalidMessage    = errors.New("invalid PASE message")
	ErrUnexpectedMessage = errors.New("unexpected PASE message")
)

// PBKDFParamRequest opens an exchange.
type PBKDFParamRequest struct {
	MsgType         uint8  `cbor:"1,keyasint"`
	InitiatorRandom []byte `cbor:"2,keyasint"`
	SessionID       uint16 `cbor:"3,keyasint"`
	PasscodeID      uint16 `cbor:"4,keyasint"`
}

// PBKDFParamResponse carries the responder's PBKDF2 parameters.
type PBKDFParamResponse struct {
	MsgType         uint8  `cbor:"1,keyasint"`
	InitiatorRandom []byte `cbor:"2,keyasint"`
	ResponderRandom []byte `cbor:"3,keyasint"`
	SessionID       uint16 `cbor:"4,keyasint"`
	Iterations      uint32 `cbor:"5,keyasint"`
	Salt            []byte `cbor:"6,keyasint"`
}

// Pake1 carries the initiator share pA.
type Pake1 struct {
	MsgType uint8  `cbor:"1,keyasint"`
	PA      []byte `cbor:"2,keyasint"`
}

// Pake2 carries the responder share pB and its confirmation cB.
type Pake2 struct {
	MsgType uint8  `cbor:"1,keyasint"`
	PB      []byte `cbor:"2,keyasint"`
	CB      []byte `cbor:"3,keyasint"`
}

// Pake3 carries the initiator confirmation cA.
type Pake3 struct {
	MsgType uint8  `cbor:"1,keyasint"`
	CA      []byte `cbor:"2,keyasint"`
}

// StatusReport ends an exchange, successfully or not.
type StatusReport struct {
	MsgType uint8  `cbor:"1,keyasint"`
	Status  Status `cbor:"2,keyasint"`
	Message string `cbor:"3,keyasint,omitempty"`
}
