package transport

import (
	"context"
)

// MessageConn exchanges whole messages with a peer.
// Implemented by Conn and the in-memory Pipe.
type MessageConn interface {
	// Send writes one message.
	Send(data []byte) error

	// Receive reads one message, honouring ctx cancellation.
	Receive(ctx context.Context) ([]byte, error)

	// Close closes the connection.
	Close() error
}

var (
	_ MessageConn = (*Conn)(nil)
	_ MessageConn = (*pipeConn)(nil)
)
