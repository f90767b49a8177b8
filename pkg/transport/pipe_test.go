package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipe(t *testing.T) {
	a, b := Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, a.Send([]byte("ping")))
	got, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), got)

	require.NoError(t, b.Send([]byte("pong")))
	got, err = a.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), got)

	require.NoError(t, b.Close())
	assert.ErrorIs(t, a.Send([]byte("x")), ErrConnectionClosed)
	_, err = a.Receive(ctx)
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.NoError(t, a.Close())
}

func TestPipeReceiveHonoursContext(t *testing.T) {
	a, _ := Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := a.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
