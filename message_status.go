package ministreaming

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// deliveryTracker correlates session nonces with the SYNs that carried
// them, so a delivery failure reported by the router can fail the pending
// connect instead of letting it run into the connect timeout.
type deliveryTracker struct {
	mu      sync.Mutex
	pending map[uint32]*pendingDelivery

	nextNonce atomic.Uint32
	delivered atomic.Uint64
	failed    atomic.Uint64

	log zerolog.Logger
}

type pendingDelivery struct {
	sock   *I2PSocket
	sentAt time.Time
}

// DeliveryStats counts transport reports for tracked messages.
type DeliveryStats struct {
	Delivered uint64
	Failed    uint64
	Pending   int
}

func newDeliveryTracker(logger zerolog.Logger) *deliveryTracker {
	return &deliveryTracker{
		pending: make(map[uint32]*pendingDelivery),
		log:     logger,
	}
}

// track registers sock's SYN and returns the nonce to send it with.
// 0 means untracked, so it is never handed out.
func (t *deliveryTracker) track(sock *I2PSocket) uint32 {
	nonce := t.nextNonce.Add(1)
	if nonce == 0 {
		nonce = t.nextNonce.Add(1)
	}

	t.mu.Lock()
	t.pending[nonce] = &pendingDelivery{sock: sock, sentAt: time.Now()}
	t.mu.Unlock()
	return nonce
}

// forget stops tracking nonce, typically once the handshake resolved.
func (t *deliveryTracker) forget(nonce uint32) {
	t.mu.Lock()
	delete(t.pending, nonce)
	t.mu.Unlock()
}

// handleStatus applies a transport report. A failed SYN resolves the
// handshake as unreachable.
func (t *deliveryTracker) handleStatus(nonce uint32, delivered bool) {
	t.mu.Lock()
	info, ok := t.pending[nonce]
	if ok {
		delete(t.pending, nonce)
	}
	t.mu.Unlock()

	if !ok {
		t.log.Trace().Uint32("nonce", nonce).Bool("delivered", delivered).Msg("status for untracked message")
		return
	}

	if delivered {
		t.delivered.Add(1)
		t.log.Debug().
			Uint32("nonce", nonce).
			Dur("deliveryTime", time.Since(info.sentAt)).
			Msg("SYN delivered")
		return
	}

	t.failed.Add(1)
	t.log.Warn().
		Uint32("nonce", nonce).
		Str("conn", info.sock.localID.String()).
		Dur("afterTime", time.Since(info.sentAt)).
		Msg("SYN delivery failed")
	info.sock.hs.resolve(handshakeResult{state: handshakeUnreachable})
}

func (t *deliveryTracker) stats() DeliveryStats {
	t.mu.Lock()
	pending := len(t.pending)
	t.mu.Unlock()
	return DeliveryStats{
		Delivered: t.delivered.Load(),
		Failed:    t.failed.Load(),
		Pending:   pending,
	}
}
