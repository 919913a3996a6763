package ministreaming

import (
	"context"
	"time"
)

// maxFlushWaits caps how many flush delays pending bytes may wait while
// writes keep arriving.
const maxFlushWaits = 4

// forward runs the socket's writer goroutine. It waits for the handshake,
// sends queued bytes as DATA packets until the output side closes, then
// sends the CLOSE still owed to the peer.
func (s *I2PSocket) forward() {
	defer s.forwarderExit()

	r, _ := s.hs.wait(context.Background())
	if r.state != handshakeEstablished {
		s.log.Debug().Str("handshake", r.state.String()).Msg("forwarder stopping before data phase")
		return
	}

	for {
		chunk, last := s.nextChunk()
		if len(chunk) > 0 {
			if err := s.sendPacket(dataType(s.outgoing), r.remoteID, chunk); err != nil {
				s.failSend(err)
				return
			}
		}
		if last {
			break
		}
	}

	s.mu.Lock()
	owed := s.sendClose
	s.sendClose = false
	s.mu.Unlock()

	if owed {
		if err := s.sendPacket(closeType(s.outgoing), r.remoteID, nil); err != nil {
			s.log.Warn().Err(err).Msg("failed to send CLOSE")
		}
	}
}

// nextChunk blocks until a packet's worth of data should go out. It flushes
// when the pending bytes fill a packet, when writes went quiet for a flush
// delay, when the oldest byte waited maxFlushWaits delays, or when the
// output side closed. last is true when nothing will follow.
func (s *I2PSocket) nextChunk() (chunk []byte, last bool) {
	var first time.Time
	quiet := false
	for {
		s.mu.Lock()
		pending, done := s.send.Size(), s.outputClosed
		if pending > 0 && first.IsZero() {
			first = time.Now()
		}
		due := pending > 0 && (quiet ||
			pending >= s.opts.MaxPacketSize ||
			time.Since(first) >= maxFlushWaits*s.opts.FlushDelay)
		if done || due {
			chunk = s.send.StartToByteArray(s.opts.MaxPacketSize)
			last = done && s.send.Size() == 0
			s.spaceCond.Broadcast()
			s.mu.Unlock()
			return chunk, last
		}
		s.mu.Unlock()

		if pending == 0 {
			<-s.sendSignal
			continue
		}
		timer := time.NewTimer(s.opts.FlushDelay)
		select {
		case <-s.sendSignal:
			timer.Stop()
		case <-timer.C:
			quiet = true
		}
	}
}

func (s *I2PSocket) sendPacket(t PacketType, id ConnID, payload []byte) error {
	if s.manager == nil {
		return ErrSessionClosed
	}
	return s.manager.sendPacket(s.peer, &Packet{Type: t, ID: id, Payload: payload}, 0)
}

// failSend stops the output side after the session refused a packet.
// Writers see the error from now on.
func (s *I2PSocket) failSend(err error) {
	s.log.Warn().Err(err).Msg("failed to send DATA, output side stopped")

	s.mu.Lock()
	s.sendErr = &I2PError{Op: "send data", Err: err}
	s.outputClosed = true
	s.sendClose = false
	s.send.Clear()
	s.spaceCond.Broadcast()
	s.mu.Unlock()
}

func (s *I2PSocket) forwarderExit() {
	s.mu.Lock()
	s.closed2 = true
	s.mu.Unlock()
	close(s.forwarderDone)
	s.maybeRemove()
}
