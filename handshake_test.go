package ministreaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeFirstResolveWins(t *testing.T) {
	h := newHandshake()
	assert.Equal(t, handshakePending, h.peek().state)

	assert.True(t, h.resolve(handshakeResult{state: handshakeEstablished, remoteID: ConnID{1, 2, 3}}))
	assert.False(t, h.resolve(handshakeResult{state: handshakeRefused}))

	r := h.peek()
	assert.Equal(t, handshakeEstablished, r.state)
	assert.Equal(t, ConnID{1, 2, 3}, r.remoteID)
}

func TestHandshakeWakesAllWaiters(t *testing.T) {
	h := newHandshake()

	var wg sync.WaitGroup
	results := make([]handshakeResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = h.wait(context.Background())
		}(i)
	}

	h.resolve(handshakeResult{state: handshakeUnreachable})
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, handshakeUnreachable, r.state)
	}
}

func TestHandshakeWaitTimeout(t *testing.T) {
	h := newHandshake()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	r, err := h.wait(ctx)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, handshakePending, r.state)
}

func TestHandshakeStateString(t *testing.T) {
	assert.Equal(t, "refused", handshakeRefused.String())
	assert.Equal(t, "invalid", handshakeState(42).String())
}
