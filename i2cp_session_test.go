package ministreaming

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultI2CPSessionConfig(t *testing.T) {
	cfg := DefaultI2CPSessionConfig()
	assert.Equal(t, DefaultI2CPHost, cfg.Host)
	assert.Equal(t, DefaultI2CPPort, cfg.Port)
	assert.Equal(t, ProtocolStreaming, cfg.Protocol)
	assert.Positive(t, cfg.SessionTimeout)
}

func TestNewI2CPSession_NoRouter(t *testing.T) {
	cfg := DefaultI2CPSessionConfig()
	cfg.Port = "1"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := NewI2CPSession(ctx, cfg)
	require.Error(t, err)
	assert.Nil(t, sess)

	var i2pErr *I2PError
	assert.ErrorAs(t, err, &i2pErr)
}

// TestI2CPSession_Echo runs a full connect, write and close cycle between
// two sessions on a live router.
func TestI2CPSession_Echo(t *testing.T) {
	serverSession := RequireI2CPSession(t)
	clientSession := RequireI2CPSession(t)

	cfg := DefaultManagerConfig()
	cfg.AcceptTimeout = 30 * time.Second
	cfg.SocketOptions.ConnectTimeout = 3 * time.Minute

	server, err := NewManager(serverSession, cfg)
	require.NoError(t, err)
	defer server.Destroy()
	client, err := NewManager(clientSession, cfg)
	require.NoError(t, err)
	defer client.Destroy()

	ss := server.ServerSocket()
	done := make(chan error, 1)
	go func() {
		sock, err := ss.AcceptSocket(context.Background())
		if err != nil {
			done <- err
			return
		}
		defer sock.Close()
		_, err = io.Copy(sock, sock)
		done <- err
	}()

	sock, err := client.Connect(server.Destination(), nil)
	require.NoError(t, err)
	_, err = sock.Write([]byte("hello over i2p"))
	require.NoError(t, err)

	buf := make([]byte, len("hello over i2p"))
	require.NoError(t, sock.SetReadDeadline(time.Now().Add(2*time.Minute)))
	_, err = io.ReadFull(sock, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello over i2p", string(buf))
	require.NoError(t, sock.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Minute):
		t.Fatal("server did not see the close")
	}
}
