package ministreaming

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newDetachedSocket returns an outgoing socket with no manager, so Close
// settles its handshake and stops the forwarder.
func newDetachedSocket(t *testing.T, opts *SocketOptions) *I2PSocket {
	t.Helper()
	if opts == nil {
		opts = DefaultSocketOptions()
	}
	sock := newSocket(nil, nil, nil, ConnID{1, 2, 3}, true, opts, zerolog.Nop())
	t.Cleanup(func() { sock.Close() })
	return sock
}

func TestServerSocketHandoff(t *testing.T) {
	ss := newServerSocket(nil)
	sock := newDetachedSocket(t, nil)

	accepted := make(chan *I2PSocket, 1)
	go func() {
		got, err := ss.AcceptSocket(context.Background())
		if err == nil {
			accepted <- got
		}
	}()

	require.True(t, ss.addWaitForAccept(sock, time.Second))
	select {
	case got := <-accepted:
		assert.Same(t, sock, got)
	case <-time.After(time.Second):
		t.Fatal("accept did not return")
	}
}

func TestServerSocketAcceptTimeout(t *testing.T) {
	ss := newServerSocket(nil)
	sock := newDetachedSocket(t, nil)

	start := time.Now()
	ok := ss.addWaitForAccept(sock, 50*time.Millisecond)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestServerSocketCloseWakesAccept(t *testing.T) {
	ss := newServerSocket(nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := ss.Accept()
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, ss.Close())
	require.NoError(t, ss.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrServerSocketClosed)
	case <-time.After(time.Second):
		t.Fatal("accept was not woken by close")
	}

	assert.True(t, ss.IsClosed())
	assert.False(t, ss.addWaitForAccept(newDetachedSocket(t, nil), time.Second))
}

func TestServerSocketAcceptContext(t *testing.T) {
	ss := newServerSocket(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := ss.AcceptSocket(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "i2p", ss.Addr().Network())
}
