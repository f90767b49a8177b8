package transport

import (
	"context"
	"sync"
)

// pipeConn is one end of an in-memory message channel.
type pipeConn struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected in-memory MessageConns. Closing either end
// closes both. It carries in-process commissioning, as between a
// commissioner and a simulated commissionee in the same binary.
func Pipe() (MessageConn, MessageConn) {
	a, b := make(chan []byte, 8), make(chan []byte, 8)
	done := make(chan struct{})
	once := &sync.Once{}
	return &pipeConn{in: a, out: b, done: done, once: once},
		&pipeConn{in: b, out: a, done: done, once: once}
}

func (p *pipeConn) Send(data []byte) error {
	select {
	case <-p.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case <-p.done:
		return ErrConnectionClosed
	case p.out <- data:
		return nil
	}
}

func (p *pipeConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrConnectionClosed
	case data := <-p.in:
		return data, nil
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
