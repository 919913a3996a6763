package ministreaming

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	go_i2cp "github.com/go-i2p/go-i2cp"
	"github.com/rs/zerolog"
)

// I2PSocket is one end of a connection. It implements net.Conn.
//
// Writes are queued in an outbound buffer that a per-socket forwarder
// goroutine packetizes into DATA messages. Reads drain a receive buffer the
// manager fills as DATA arrives. There is no resequencing: data arrives in
// the order the transport delivers it.
type I2PSocket struct {
	manager  *Manager
	local    *go_i2cp.Destination
	peer     *go_i2cp.Destination
	localID  ConnID
	outgoing bool
	opts     *SocketOptions
	hs       *handshake
	log      zerolog.Logger

	mu        sync.Mutex
	readCond  *sync.Cond
	spaceCond *sync.Cond
	recv      *ByteCollector
	send      *ByteCollector

	// sendSignal wakes the forwarder after a write or close.
	sendSignal chan struct{}

	closed       bool // no more reads will be filled
	remoteClosed bool // peer sent CLOSE, reads end once drained
	outputClosed bool // no more writes, forwarder drains and stops
	sendClose    bool // a CLOSE is still owed to the peer
	closed2      bool // forwarder finished
	sendErr      error

	recvOverflowLogged bool
	readDeadline       time.Time
	writeDeadline      time.Time

	forwarderDone chan struct{}
}

var _ net.Conn = (*I2PSocket)(nil)

// newSocket creates a socket and starts its forwarder. The forwarder sends
// nothing until the handshake is established: by the peer's ACK for an
// outgoing socket, by the SYN handler once its ACK went out for an
// incoming one.
func newSocket(m *Manager, local, peer *go_i2cp.Destination, localID ConnID, outgoing bool, opts *SocketOptions, logger zerolog.Logger) *I2PSocket {
	s := &I2PSocket{
		manager:       m,
		local:         local,
		peer:          peer,
		localID:       localID,
		outgoing:      outgoing,
		opts:          opts.Clone(),
		hs:            newHandshake(),
		recv:          NewByteCollector(0),
		send:          NewByteCollector(0),
		sendSignal:    make(chan struct{}, 1),
		sendClose:     true,
		forwarderDone: make(chan struct{}),
	}
	s.readCond = sync.NewCond(&s.mu)
	s.spaceCond = sync.NewCond(&s.mu)
	s.log = logger.With().
		Str("conn", localID.String()).
		Bool("outgoing", outgoing).
		Logger()

	go s.forward()
	return s
}

// InputStream returns the reading side of the socket.
func (s *I2PSocket) InputStream() io.Reader {
	return s
}

// OutputStream returns the writing side of the socket. Closing it
// half-closes the connection.
func (s *I2PSocket) OutputStream() io.WriteCloser {
	return socketWriter{s}
}

type socketWriter struct {
	s *I2PSocket
}

func (w socketWriter) Write(p []byte) (int, error) { return w.s.Write(p) }
func (w socketWriter) Close() error                { return w.s.CloseWrite() }

// ThisDestination returns the local destination.
func (s *I2PSocket) ThisDestination() *go_i2cp.Destination {
	return s.local
}

// PeerDestination returns the remote destination.
func (s *I2PSocket) PeerDestination() *go_i2cp.Destination {
	return s.peer
}

// LocalID returns the connection ID the peer addresses this socket by.
func (s *I2PSocket) LocalID() ConnID {
	return s.localID
}

// RemoteID returns the peer's connection ID once the handshake completed.
func (s *I2PSocket) RemoteID() (ConnID, bool) {
	r := s.hs.peek()
	return r.remoteID, r.state == handshakeEstablished
}

// WaitRemoteID blocks until the handshake resolves or timeout passes.
// A non-positive timeout waits indefinitely.
func (s *I2PSocket) WaitRemoteID(timeout time.Duration) (ConnID, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	r, err := s.hs.wait(ctx)
	if err != nil {
		return ConnID{}, ErrHandshakeTimeout
	}
	if err := r.state.err(); err != nil {
		return ConnID{}, err
	}
	return r.remoteID, nil
}

// err maps a resolved handshake to the error a caller sees.
func (s handshakeState) err() error {
	switch s {
	case handshakeEstablished:
		return nil
	case handshakeRefused:
		return ErrConnectionRefused
	case handshakeUnreachable:
		return ErrNoRouteToHost
	case handshakePending:
		return ErrHandshakeTimeout
	default:
		return ErrSocketClosed
	}
}

// IsOutgoing reports whether this side initiated the connection.
func (s *I2PSocket) IsOutgoing() bool {
	return s.outgoing
}

// Options returns a copy of the socket's options.
func (s *I2PSocket) Options() *SocketOptions {
	return s.opts.Clone()
}

// Read reads received data. It blocks until at least one byte is available
// and returns io.EOF once the socket or the peer closed and the buffer is
// drained.
func (s *I2PSocket) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := earliest(s.readDeadline, s.opts.ReadTimeout)
	for s.recv.Size() == 0 {
		if s.closed || s.remoteClosed {
			return 0, io.EOF
		}
		if expired(deadline) {
			return 0, errReadTimeout
		}
		s.waitLocked(s.readCond, deadline)
	}

	n := copy(p, s.recv.StartToByteArray(len(p)))
	return n, nil
}

// Write queues p for the forwarder. It blocks while the outbound buffer is
// full.
func (s *I2PSocket) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := earliest(s.writeDeadline, s.opts.WriteTimeout)
	written := 0
	for written < len(p) {
		if s.sendErr != nil {
			return written, s.sendErr
		}
		if s.outputClosed {
			return written, ErrSocketClosed
		}
		space := s.opts.BufferSize - s.send.Size()
		if space <= 0 {
			if expired(deadline) {
				return written, errWriteTimeout
			}
			s.waitLocked(s.spaceCond, deadline)
			continue
		}
		n := min(space, len(p)-written)
		s.send.Append(p[written : written+n])
		written += n
		s.signalForwarder()
	}
	return written, nil
}

// CloseWrite half-closes the socket: pending bytes are flushed, then a
// CLOSE is sent. Reading stays possible.
func (s *I2PSocket) CloseWrite() error {
	s.mu.Lock()
	if s.outputClosed {
		s.mu.Unlock()
		return nil
	}
	s.outputClosed = true
	s.spaceCond.Broadcast()
	s.mu.Unlock()

	s.signalForwarder()
	return nil
}

// Close closes the socket. Pending output is flushed and at most one CLOSE
// is sent. Blocked readers see io.EOF. Calling Close again is a no-op.
func (s *I2PSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.outputClosed = true
	s.readCond.Broadcast()
	s.spaceCond.Broadcast()
	s.mu.Unlock()

	s.log.Debug().Msg("socket closed")
	s.signalForwarder()
	// an accepted socket's handshake is settled by the SYN handler
	if s.outgoing {
		s.hs.resolve(handshakeResult{state: handshakeAborted})
	}
	s.maybeRemove()
	return nil
}

// internalClose closes the socket without sending CLOSE. Used when the
// handshake failed or the connection has to be dropped.
func (s *I2PSocket) internalClose() {
	s.mu.Lock()
	s.sendClose = false
	s.send.Clear()
	s.mu.Unlock()
	s.Close()
}

// Closed reports whether Close ran.
func (s *I2PSocket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// queueData appends a DATA payload to the receive buffer.
func (s *I2PSocket) queueData(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.remoteClosed {
		s.log.Debug().Int("bytes", len(payload)).Msg("dropping data for closed socket")
		return
	}
	s.recv.Append(payload)
	if s.recv.Size() > s.opts.BufferSize && !s.recvOverflowLogged {
		s.recvOverflowLogged = true
		s.log.Warn().
			Int("buffered", s.recv.Size()).
			Int("bufferSize", s.opts.BufferSize).
			Msg("receive buffer above configured size, peer is not flow controlled")
	}
	s.readCond.Broadcast()
}

// peerClosed ends the read side after the peer's CLOSE. Writing stays
// possible until the application closes its side.
func (s *I2PSocket) peerClosed() {
	s.mu.Lock()
	s.remoteClosed = true
	s.readCond.Broadcast()
	s.mu.Unlock()

	s.log.Debug().Msg("peer closed its side")
	s.maybeRemove()
}

// maybeRemove drops the socket from its manager once the forwarder is done
// and either side closed the read direction.
func (s *I2PSocket) maybeRemove() {
	s.mu.Lock()
	done := s.closed2 && (s.closed || s.remoteClosed)
	s.mu.Unlock()
	if done && s.manager != nil {
		s.manager.removeSocket(s)
	}
}

func (s *I2PSocket) signalForwarder() {
	select {
	case s.sendSignal <- struct{}{}:
	default:
	}
}

// waitLocked waits on cond until woken or deadline passes. Must be called
// with s.mu held.
func (s *I2PSocket) waitLocked(cond *sync.Cond, deadline time.Time) {
	if deadline.IsZero() {
		cond.Wait()
		return
	}
	timer := time.AfterFunc(time.Until(deadline), func() {
		s.mu.Lock()
		cond.Broadcast()
		s.mu.Unlock()
	})
	cond.Wait()
	timer.Stop()
}

// earliest combines an absolute deadline with a relative timeout.
func earliest(deadline time.Time, timeout time.Duration) time.Time {
	if timeout <= 0 {
		return deadline
	}
	t := time.Now().Add(timeout)
	if deadline.IsZero() || t.Before(deadline) {
		return t
	}
	return deadline
}

func expired(deadline time.Time) bool {
	return !deadline.IsZero() && !time.Now().Before(deadline)
}

// LocalAddr returns the local destination address.
func (s *I2PSocket) LocalAddr() net.Addr {
	return &I2PAddr{dest: s.local, id: s.localID}
}

// RemoteAddr returns the peer destination address.
func (s *I2PSocket) RemoteAddr() net.Addr {
	id, _ := s.RemoteID()
	return &I2PAddr{dest: s.peer, id: id}
}

// SetDeadline sets both the read and write deadlines.
func (s *I2PSocket) SetDeadline(t time.Time) error {
	s.SetReadDeadline(t)
	return s.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline. A zero value disables it.
func (s *I2PSocket) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	s.readDeadline = t
	s.readCond.Broadcast()
	s.mu.Unlock()
	return nil
}

// SetWriteDeadline sets the write deadline. A zero value disables it.
func (s *I2PSocket) SetWriteDeadline(t time.Time) error {
	s.mu.Lock()
	s.writeDeadline = t
	s.spaceCond.Broadcast()
	s.mu.Unlock()
	return nil
}

func (s *I2PSocket) String() string {
	dir := "in"
	if s.outgoing {
		dir = "out"
	}
	remote := "?"
	if id, ok := s.RemoteID(); ok {
		remote = id.String()
	}
	return fmt.Sprintf("I2PSocket[%s local=%s remote=%s]", dir, s.localID, remote)
}

// I2PAddr implements net.Addr for an I2P destination and connection ID.
type I2PAddr struct {
	dest *go_i2cp.Destination
	id   ConnID
}

// Network returns "i2p".
func (a *I2PAddr) Network() string {
	return "i2p"
}

// String returns the base32 address of the destination.
func (a *I2PAddr) String() string {
	if a.dest == nil {
		return "i2p:" + a.id.String()
	}
	return a.dest.Base32()
}

// Destination returns the destination of the address.
func (a *I2PAddr) Destination() *go_i2cp.Destination {
	return a.dest
}
