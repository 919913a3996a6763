package ministreaming

import (
	go_i2cp "github.com/go-i2p/go-i2cp"
)

// MessageSession is the unreliable, unordered message transport a Manager
// multiplexes its sockets over. Messages may be lost, duplicated or
// reordered; SendMessage succeeding only means the message was handed to
// the transport.
type MessageSession interface {
	// Destination returns the local destination of the session.
	Destination() *go_i2cp.Destination

	// SendMessage hands one message to the transport. A non-zero nonce asks
	// for a later MessageStatus callback carrying the same nonce.
	SendMessage(dest *go_i2cp.Destination, payload []byte, nonce uint32) error

	// SetListener registers the receiver of inbound events. It must be
	// called before any message can be delivered.
	SetListener(l SessionListener)

	// Close tears the session down.
	Close() error
}

// SessionListener receives the inbound events of a MessageSession.
// MessageAvailable is called from a single delivery goroutine.
type SessionListener interface {
	MessageAvailable(payload []byte)
	MessageStatus(nonce uint32, delivered bool)
	Disconnected()
}

// DisconnectListener is notified once when the session a Manager runs on is
// lost.
type DisconnectListener interface {
	SessionDisconnected()
}
