package ministreaming

import (
	"context"
	"sync"
)

type handshakeState int

const (
	handshakePending handshakeState = iota
	handshakeEstablished
	handshakeRefused
	handshakeUnreachable
	handshakeAborted
)

func (s handshakeState) String() string {
	switch s {
	case handshakePending:
		return "pending"
	case handshakeEstablished:
		return "established"
	case handshakeRefused:
		return "refused"
	case handshakeUnreachable:
		return "unreachable"
	case handshakeAborted:
		return "aborted"
	default:
		return "invalid"
	}
}

// handshakeResult is the outcome of connection setup. remoteID is only
// meaningful when established.
type handshakeResult struct {
	state    handshakeState
	remoteID ConnID
}

// handshake is a one-shot result: the first resolve wins and wakes every
// waiter, later resolves are ignored.
type handshake struct {
	once   sync.Once
	done   chan struct{}
	result handshakeResult
}

func newHandshake() *handshake {
	return &handshake{done: make(chan struct{})}
}

// resolve sets the result and reports whether this call set it.
func (h *handshake) resolve(r handshakeResult) bool {
	won := false
	h.once.Do(func() {
		h.result = r
		close(h.done)
		won = true
	})
	return won
}

// wait blocks until the handshake resolves or ctx ends.
func (h *handshake) wait(ctx context.Context) (handshakeResult, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return handshakeResult{state: handshakePending}, ctx.Err()
	}
}

// peek returns the result without blocking.
func (h *handshake) peek() handshakeResult {
	select {
	case <-h.done:
		return h.result
	default:
		return handshakeResult{state: handshakePending}
	}
}
