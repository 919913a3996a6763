package ministreaming

import (
	"context"
	"net"
	"sync"
	"time"
)

// ServerSocket hands inbound connections to the application. A SYN is only
// answered with ACK once Accept has taken its socket.
type ServerSocket struct {
	manager *Manager

	handoff chan *I2PSocket

	closeOnce sync.Once
	closed    chan struct{}
}

var _ net.Listener = (*ServerSocket)(nil)

func newServerSocket(m *Manager) *ServerSocket {
	return &ServerSocket{
		manager: m,
		handoff: make(chan *I2PSocket),
		closed:  make(chan struct{}),
	}
}

// Accept waits for the next inbound connection.
func (ss *ServerSocket) Accept() (net.Conn, error) {
	sock, err := ss.AcceptSocket(context.Background())
	if err != nil {
		return nil, err
	}
	return sock, nil
}

// AcceptSocket waits for the next inbound connection or until ctx ends.
func (ss *ServerSocket) AcceptSocket(ctx context.Context) (*I2PSocket, error) {
	select {
	case <-ss.closed:
		return nil, ErrServerSocketClosed
	default:
	}
	select {
	case sock := <-ss.handoff:
		return sock, nil
	case <-ss.closed:
		return nil, ErrServerSocketClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// addWaitForAccept offers sock to a pending or future Accept and reports
// whether one took it within timeout.
func (ss *ServerSocket) addWaitForAccept(sock *I2PSocket, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ss.handoff <- sock:
		return true
	case <-timer.C:
		return false
	case <-ss.closed:
		return false
	}
}

// Close stops accepting. Blocked Accept calls return ErrServerSocketClosed
// and inbound SYNs are refused from now on.
func (ss *ServerSocket) Close() error {
	ss.closeOnce.Do(func() {
		close(ss.closed)
	})
	return nil
}

// IsClosed reports whether Close ran.
func (ss *ServerSocket) IsClosed() bool {
	select {
	case <-ss.closed:
		return true
	default:
		return false
	}
}

// Manager returns the manager that owns the server socket.
func (ss *ServerSocket) Manager() *Manager {
	return ss.manager
}

// Addr returns the local destination address.
func (ss *ServerSocket) Addr() net.Addr {
	if ss.manager == nil {
		return &I2PAddr{}
	}
	return &I2PAddr{dest: ss.manager.Destination()}
}
