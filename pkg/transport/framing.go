package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Frame layout: version (1 byte), reserved (1 byte, zero), payload length
// (2 bytes, big endian), payload.
const (
	// FrameVersion is the only frame version accepted.
	FrameVersion = 1

	// HeaderSize is the size of the frame header in bytes.
	HeaderSize = 4

	// MaxMessageSize is the largest payload a header can describe.
	MaxMessageSize = 0xFFFF
)

// Framing errors.
var (
	ErrMessageTooLarge = errors.New("message too large")
	ErrMessageEmpty    = errors.New("message is empty")
	ErrFrameTruncated  = errors.New("frame truncated")
	ErrFrameVersion    = errors.New("unsupported frame version")
)

// Framer reads and writes commissioning frames on a byte stream. Writes
// may come from several goroutines; reads must be serialized by the caller.
type Framer struct {
	rw  io.ReadWriter
	max int

	wmu sync.Mutex
	hdr [HeaderSize]byte
}

// NewFramer creates a framer limited to maxSize payload bytes. Zero or a
// value above MaxMessageSize means MaxMessageSize.
func NewFramer(rw io.ReadWriter, maxSize int) *Framer {
	if maxSize <= 0 || maxSize > MaxMessageSize {
		maxSize = MaxMessageSize
	}
	return &Framer{rw: rw, max: maxSize}
}

// WriteFrame writes data as one frame.
func (f *Framer) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if len(data) > f.max {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), f.max)
	}

	// One write per frame keeps header and payload in a single TLS record.
	frame := make([]byte, HeaderSize+len(data))
	frame[0] = FrameVersion
	binary.BigEndian.PutUint16(frame[2:], uint16(len(data)))
	copy(frame[HeaderSize:], data)

	f.wmu.Lock()
	defer f.wmu.Unlock()
	if _, err := f.rw.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame and returns its payload. A clean end of stream
// before the header is io.EOF.
func (f *Framer) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(f.rw, f.hdr[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, ErrFrameTruncated
		default:
			return nil, fmt.Errorf("read frame header: %w", err)
		}
	}
	if f.hdr[0] != FrameVersion {
		return nil, fmt.Errorf("%w: %d", ErrFrameVersion, f.hdr[0])
	}

	length := int(binary.BigEndian.Uint16(f.hdr[2:]))
	switch {
	case length == 0:
		return nil, ErrMessageEmpty
	case length > f.max:
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, f.max)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(f.rw, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}
