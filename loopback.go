package ministreaming

import (
	"context"
	"fmt"
	"sync"

	go_i2cp "github.com/go-i2p/go-i2cp"
)

const loopbackQueueSize = 256

// LoopbackNetwork connects sessions in memory. Messages to an attached
// destination are delivered in order and never lost; messages to an
// unknown destination are dropped and reported as undelivered.
type LoopbackNetwork struct {
	mu       sync.Mutex
	sessions map[string]*LoopbackSession
	crypto   *go_i2cp.Crypto
}

// NewLoopbackNetwork returns an empty network.
func NewLoopbackNetwork() *LoopbackNetwork {
	return &LoopbackNetwork{
		sessions: make(map[string]*LoopbackSession),
		crypto:   go_i2cp.NewCrypto(),
	}
}

// NewSession attaches a session to the network. A nil identity gets a
// freshly generated destination.
func (n *LoopbackNetwork) NewSession(identity *go_i2cp.Destination) (*LoopbackSession, error) {
	dest := identity
	if dest == nil {
		var err error
		if dest, err = go_i2cp.NewDestination(n.crypto); err != nil {
			return nil, fmt.Errorf("generate destination: %w", err)
		}
	}

	s := &LoopbackSession{
		network: n,
		dest:    dest,
		key:     dest.Base64(),
		inbox:   make(chan []byte, loopbackQueueSize),
		done:    make(chan struct{}),
	}

	n.mu.Lock()
	if _, taken := n.sessions[s.key]; taken {
		n.mu.Unlock()
		return nil, fmt.Errorf("destination %s already attached", dest.Base32())
	}
	n.sessions[s.key] = s
	n.mu.Unlock()

	go s.deliver()
	return s, nil
}

// NewDestination generates a destination that is not attached.
func (n *LoopbackNetwork) NewDestination() (*go_i2cp.Destination, error) {
	return go_i2cp.NewDestination(n.crypto)
}

// Transport returns a TransportFunc that attaches sessions to n.
func (n *LoopbackNetwork) Transport() TransportFunc {
	return func(_ context.Context, cfg *TransportConfig) (MessageSession, error) {
		return n.NewSession(cfg.Identity)
	}
}

func (n *LoopbackNetwork) lookup(dest *go_i2cp.Destination) *LoopbackSession {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessions[dest.Base64()]
}

func (n *LoopbackNetwork) detach(s *LoopbackSession) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sessions[s.key] == s {
		delete(n.sessions, s.key)
	}
}

// LoopbackSession is a MessageSession on a LoopbackNetwork.
type LoopbackSession struct {
	network *LoopbackNetwork
	dest    *go_i2cp.Destination
	key     string
	inbox   chan []byte

	mu       sync.RWMutex
	listener SessionListener

	closeOnce sync.Once
	done      chan struct{}
}

var _ MessageSession = (*LoopbackSession)(nil)

// Destination returns the session's destination.
func (s *LoopbackSession) Destination() *go_i2cp.Destination {
	return s.dest
}

// SendMessage delivers a copy of payload to the session attached at dest.
func (s *LoopbackSession) SendMessage(dest *go_i2cp.Destination, payload []byte, nonce uint32) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if dest == nil {
		return fmt.Errorf("send: nil destination")
	}

	target := s.network.lookup(dest)
	if target == nil {
		s.reportStatus(nonce, false)
		return nil
	}

	msg := make([]byte, len(payload))
	copy(msg, payload)

	select {
	case target.inbox <- msg:
		s.reportStatus(nonce, true)
	case <-target.done:
		s.reportStatus(nonce, false)
	case <-s.done:
		return ErrSessionClosed
	}
	return nil
}

// reportStatus reports asynchronously, the way a router does.
func (s *LoopbackSession) reportStatus(nonce uint32, delivered bool) {
	if nonce == 0 {
		return
	}
	go func() {
		if l := s.getListener(); l != nil {
			l.MessageStatus(nonce, delivered)
		}
	}()
}

func (s *LoopbackSession) deliver() {
	for {
		select {
		case msg := <-s.inbox:
			if l := s.getListener(); l != nil {
				l.MessageAvailable(msg)
			}
		case <-s.done:
			return
		}
	}
}

// SetListener registers the receiver of inbound events.
func (s *LoopbackSession) SetListener(l SessionListener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

func (s *LoopbackSession) getListener() SessionListener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listener
}

// Close detaches the session. Messages still queued are dropped.
func (s *LoopbackSession) Close() error {
	s.closeOnce.Do(func() {
		s.network.detach(s)
		close(s.done)
	})
	return nil
}

// Disconnect simulates losing the router: the session closes and its
// listener is told.
func (s *LoopbackSession) Disconnect() {
	s.Close()
	if l := s.getListener(); l != nil {
		l.Disconnected()
	}
}

func (s *LoopbackSession) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
