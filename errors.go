package ministreaming

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionRefused is returned by Connect when the peer answered the
	// SYN with a NACK.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrNoRouteToHost is returned by Connect when the router reported that
	// the SYN could not be delivered to the peer.
	ErrNoRouteToHost = errors.New("no route to host")

	// ErrHandshakeTimeout is returned by Connect when neither ACK nor NACK
	// arrived within the connect timeout. It satisfies net.Error.
	ErrHandshakeTimeout error = &timeoutError{op: "handshake"}

	ErrSocketClosed       = errors.New("socket closed")
	ErrServerSocketClosed = errors.New("server socket closed")
	ErrManagerDestroyed   = errors.New("socket manager destroyed")
	ErrSessionClosed      = errors.New("session closed")

	// ErrIdentityReuseUnsupported is returned when a transport cannot bind
	// a session to a caller-supplied destination.
	ErrIdentityReuseUnsupported = errors.New("transport cannot reuse an existing identity")

	// ErrShortPacket is returned when a message is shorter than the packet
	// header.
	ErrShortPacket = errors.New("packet shorter than header")
)

// I2PError reports a failure of the underlying message session while
// performing a socket operation.
type I2PError struct {
	Op  string
	Err error
}

func (e *I2PError) Error() string {
	if e.Err == nil {
		return "i2p: " + e.Op + " failed"
	}
	return fmt.Sprintf("i2p: %s: %v", e.Op, e.Err)
}

func (e *I2PError) Unwrap() error {
	return e.Err
}

// timeoutError implements net.Error for read, write and handshake timeouts.
type timeoutError struct {
	op string
}

func (e *timeoutError) Error() string   { return e.op + ": i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

var (
	errReadTimeout  error = &timeoutError{op: "read"}
	errWriteTimeout error = &timeoutError{op: "write"}
)
