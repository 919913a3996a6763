package ministreaming

import (
	"time"

	go_i2cp "github.com/go-i2p/go-i2cp"
)

// DefaultPingTimeout bounds Ping when no timeout is given.
const DefaultPingTimeout = 30 * time.Second

// Ping sends one CHAFF packet to peer. The peer does not answer chaff, so
// the result only tells whether the session accepted the message within
// timeout, not whether the peer is reachable.
func (m *Manager) Ping(peer *go_i2cp.Destination, timeout time.Duration) bool {
	if peer == nil {
		return false
	}
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}

	result := make(chan error, 1)
	go func() {
		result <- m.sendPacket(peer, &Packet{Type: PacketChaff}, 0)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-result:
		if err != nil {
			m.log.Debug().Err(err).Str("peer", peer.Base32()).Msg("ping failed")
			return false
		}
		return true
	case <-timer.C:
		m.log.Debug().Dur("timeout", timeout).Str("peer", peer.Base32()).Msg("ping timed out")
		return false
	}
}
