package ministreaming

import (
	"fmt"
	"time"

	go_i2cp "github.com/go-i2p/go-i2cp"
	"github.com/rs/zerolog"
)

// MessageAvailable is called by the session for every inbound message and
// routes it by packet type:
//
//	ACK                  out-map, completes a pending connect
//	CLOSE_OUT, CLOSE_IN  out-/in-map, refuses a pending connect or ends reading
//	DATA_OUT, DATA_IN    out-/in-map, queued for reading
//	SYN                  new inbound connection
//	CHAFF                ignored
func (m *Manager) MessageAvailable(payload []byte) {
	var pkt Packet
	if err := pkt.Unmarshal(payload); err != nil {
		m.counters.unknownPackets.Add(1)
		m.journal.record("unparseable", payload)
		m.log.Warn().Err(err).Hex("payload", payload).Msg("dropping unparseable message")
		return
	}

	switch pkt.Type {
	case PacketAck:
		m.handleAck(&pkt)
	case PacketCloseOut:
		m.handleClose(&pkt, true)
	case PacketCloseIn:
		m.handleClose(&pkt, false)
	case PacketDataOut:
		m.handleData(&pkt, true)
	case PacketDataIn:
		m.handleData(&pkt, false)
	case PacketSyn:
		m.mu.Lock()
		if m.destroyed {
			m.mu.Unlock()
			m.log.Debug().Str("remote", pkt.ID.String()).Msg("ignoring SYN, manager destroyed")
			return
		}
		m.synWG.Add(1)
		m.mu.Unlock()
		go m.handleSyn(pkt)
	case PacketChaff:
		m.log.Trace().Int("payloadLen", len(pkt.Payload)).Msg("received chaff")
	default:
		m.handleUnknown(&pkt, payload)
	}
}

func (m *Manager) handleAck(pkt *Packet) {
	sock := m.lookup(true, pkt.ID)
	if sock == nil {
		m.handleOrphan(pkt, true)
		return
	}
	remoteID, ok := connIDFromBytes(pkt.Payload)
	if !ok {
		sock.log.Debug().Int("payloadLen", len(pkt.Payload)).Msg("ignoring ACK without connection id")
		return
	}
	if !sock.hs.resolve(handshakeResult{state: handshakeEstablished, remoteID: remoteID}) {
		sock.log.Debug().Str("remote", remoteID.String()).Msg("ignoring duplicate or late ACK")
	}
}

func (m *Manager) handleClose(pkt *Packet, outgoing bool) {
	sock := m.lookup(outgoing, pkt.ID)
	if sock == nil {
		m.handleOrphan(pkt, outgoing)
		return
	}
	if outgoing && sock.hs.resolve(handshakeResult{state: handshakeRefused}) {
		sock.log.Info().Msg("connection refused by peer")
		m.removeSocket(sock)
		sock.internalClose()
		return
	}
	sock.peerClosed()
}

func (m *Manager) handleData(pkt *Packet, outgoing bool) {
	sock := m.lookup(outgoing, pkt.ID)
	if sock == nil {
		m.handleOrphan(pkt, outgoing)
		return
	}
	sock.queueData(pkt.Payload)
}

// handleOrphan accounts for a packet addressed to an ID that has no live
// socket. Late packets for recently closed connections are expected; any
// other miss means the peer and this manager disagree about a connection.
func (m *Manager) handleOrphan(pkt *Packet, outgoing bool) {
	if closedAt, ok := m.closedIDs.closedAt(outgoing, pkt.ID); ok {
		m.counters.latePackets.Add(1)
		m.log.Debug().
			Stringer("type", pkt.Type).
			Str("conn", pkt.ID.String()).
			Dur("sinceClose", time.Since(closedAt)).
			Msg("packet for recently closed connection")
		return
	}
	m.counters.dispatchErrors.Add(1)
	m.log.Error().
		Stringer("type", pkt.Type).
		Str("conn", pkt.ID.String()).
		Int("payloadLen", len(pkt.Payload)).
		Msg("packet for unknown connection, dropping")
}

// handleUnknown drops a packet with an unrecognized type and tears down
// anything registered under its ID in either direction.
func (m *Manager) handleUnknown(pkt *Packet, raw []byte) {
	m.counters.unknownPackets.Add(1)
	m.journal.record(fmt.Sprintf("type=0x%02x conn=%s", byte(pkt.Type), pkt.ID), raw)

	m.mu.Lock()
	stale := []*I2PSocket{m.outSockets[pkt.ID], m.inSockets[pkt.ID]}
	m.mu.Unlock()

	m.log.Error().
		Uint8("type", byte(pkt.Type)).
		Str("conn", pkt.ID.String()).
		Hex("payload", raw).
		Msg("unknown packet type")

	for _, sock := range stale {
		if sock != nil {
			m.removeSocket(sock)
			sock.internalClose()
		}
	}
}

// handleSyn runs on its own goroutine per SYN. The SYN payload carries the
// initiator's destination, its header ID the initiator's out-ID.
func (m *Manager) handleSyn(pkt Packet) {
	defer m.synWG.Done()
	m.counters.synsReceived.Add(1)

	peer, err := unmarshalDestination(pkt.Payload)
	if err != nil {
		// nobody to answer
		m.counters.unknownPackets.Add(1)
		m.journal.record("bad-syn conn="+pkt.ID.String(), pkt.Payload)
		m.log.Warn().Err(err).Str("remote", pkt.ID.String()).Msg("dropping SYN with unreadable destination")
		return
	}
	log := m.log.With().Str("peer", peer.Base32()).Str("remote", pkt.ID.String()).Logger()

	if err := m.access.Check(peer); err != nil {
		m.counters.synsRejected.Add(1)
		m.refuse(peer, pkt.ID, log)
		return
	}
	ss := m.activeServerSocket()
	if ss == nil {
		m.counters.synsNoConsumer.Add(1)
		log.Info().Msg("refusing SYN, nobody is listening")
		m.refuse(peer, pkt.ID, log)
		return
	}
	if err := m.limiter.Admit(peer); err != nil {
		m.counters.synsRejected.Add(1)
		m.refuse(peer, pkt.ID, log)
		return
	}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		m.limiter.Release()
		m.refuse(peer, pkt.ID, log)
		return
	}
	id, err := m.allocateIDLocked(m.inSockets)
	if err != nil {
		m.mu.Unlock()
		m.limiter.Release()
		log.Error().Err(err).Msg("cannot allocate connection id")
		m.refuse(peer, pkt.ID, log)
		return
	}
	sock := newSocket(m, m.local, peer, id, false, m.cfg.SocketOptions, m.log)
	m.inSockets[id] = sock
	m.closedIDs.forget(false, id)
	m.mu.Unlock()

	if !ss.addWaitForAccept(sock, m.cfg.AcceptTimeout) {
		m.counters.acceptTimeouts.Add(1)
		log.Info().Dur("acceptTimeout", m.cfg.AcceptTimeout).Msg("SYN not accepted in time, refusing")
		m.removeSocket(sock)
		sock.internalClose()
		sock.hs.resolve(handshakeResult{state: handshakeAborted})
		m.refuse(peer, pkt.ID, log)
		return
	}

	if err := m.sendPacket(peer, &Packet{Type: PacketAck, ID: pkt.ID, Payload: id[:]}, 0); err != nil {
		m.counters.ackSendFailures.Add(1)
		log.Warn().Err(err).Msg("failed to send ACK, closing accepted socket")
		m.removeSocket(sock)
		sock.internalClose()
		sock.hs.resolve(handshakeResult{state: handshakeAborted})
		return
	}
	// the forwarder may only talk once the ACK is out
	sock.hs.resolve(handshakeResult{state: handshakeEstablished, remoteID: pkt.ID})
	log.Debug().Str("conn", id.String()).Msg("connection accepted")
}

// refuse answers a SYN with a NACK: a CLOSE addressed to the initiator's
// out-ID.
func (m *Manager) refuse(peer *go_i2cp.Destination, remoteID ConnID, log zerolog.Logger) {
	if err := m.sendPacket(peer, &Packet{Type: PacketCloseOut, ID: remoteID}, 0); err != nil {
		log.Warn().Err(err).Msg("failed to send NACK")
	}
}
