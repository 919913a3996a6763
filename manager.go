package ministreaming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	go_i2cp "github.com/go-i2p/go-i2cp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxIDAttempts bounds the random probing for a free connection ID.
const maxIDAttempts = 64

var errIDSpaceExhausted = errors.New("no free connection id")

// Manager multiplexes sockets over one MessageSession. It runs the
// SYN/ACK/NACK handshake, routes inbound packets to sockets by connection
// ID and owns the lifetime of every socket it creates.
//
// Architecture:
//   - Outgoing sockets live in the out-map, accepted sockets in the in-map,
//     each keyed by the local connection ID
//   - The packet type tells which map a packet addresses
//   - Inbound SYNs are handled on their own goroutine so the delivery
//     goroutine never waits for Accept
type Manager struct {
	id      uuid.UUID
	session MessageSession
	local   *go_i2cp.Destination
	cfg     *ManagerConfig
	log     zerolog.Logger

	mu           sync.Mutex
	drained      *sync.Cond
	outSockets   map[ConnID]*I2PSocket
	inSockets    map[ConnID]*I2PSocket
	serverSocket *ServerSocket
	listeners    []DisconnectListener
	destroyed    bool

	synWG sync.WaitGroup

	access    *accessFilter
	limiter   *connectionLimiter
	tracker   *deliveryTracker
	closedIDs *recentlyClosed
	journal   *packetJournal
	counters  managerCounters
}

// NewManager creates a manager on session and registers itself as the
// session's listener. A nil cfg selects DefaultManagerConfig.
func NewManager(session MessageSession, cfg *ManagerConfig) (*Manager, error) {
	if session == nil {
		return nil, fmt.Errorf("session cannot be nil")
	}
	local := session.Destination()
	if local == nil {
		return nil, fmt.Errorf("session has no local destination")
	}
	cfg = cfg.withDefaults()
	if err := cfg.SocketOptions.Validate(); err != nil {
		return nil, fmt.Errorf("socket options: %w", err)
	}

	base := log.Logger
	if cfg.Logger != nil {
		base = *cfg.Logger
	}
	id := uuid.New()
	logger := base.With().Str("manager", id.String()).Logger()

	m := &Manager{
		id:         id,
		session:    session,
		local:      local,
		cfg:        cfg,
		log:        logger,
		outSockets: make(map[ConnID]*I2PSocket),
		inSockets:  make(map[ConnID]*I2PSocket),
		access:     newAccessFilter(cfg.AccessList, logger),
		limiter:    newConnectionLimiter(cfg.Limits, logger),
		tracker:    newDeliveryTracker(logger),
		closedIDs:  newRecentlyClosed(),
		journal:    newPacketJournal(),
	}
	m.drained = sync.NewCond(&m.mu)

	session.SetListener(m)
	logger.Info().Str("destination", local.Base32()).Msg("socket manager ready")
	return m, nil
}

// ID returns the identifier the manager tags its log lines with.
func (m *Manager) ID() string {
	return m.id.String()
}

// Destination returns the local destination.
func (m *Manager) Destination() *go_i2cp.Destination {
	return m.local
}

// Session returns the underlying message session.
func (m *Manager) Session() MessageSession {
	return m.session
}

// DefaultSocketOptions returns a copy of the options used when Connect is
// given none and for accepted sockets.
func (m *Manager) DefaultSocketOptions() *SocketOptions {
	return m.cfg.SocketOptions.Clone()
}

// AcceptTimeout returns how long an inbound SYN waits for Accept.
func (m *Manager) AcceptTimeout() time.Duration {
	return m.cfg.AcceptTimeout
}

// Connect opens a connection to peer and blocks until the peer accepted,
// refused, or the connect timeout passed. A nil opts uses the manager's
// defaults.
//
// After ErrHandshakeTimeout an ACK that still arrives is dropped and never
// answered, since messages carry no sender. If the peer did accept, its
// socket stays registered on the peer until its application closes it.
func (m *Manager) Connect(peer *go_i2cp.Destination, opts *SocketOptions) (*I2PSocket, error) {
	return m.ConnectContext(context.Background(), peer, opts)
}

// ConnectContext is Connect bounded additionally by ctx.
func (m *Manager) ConnectContext(ctx context.Context, peer *go_i2cp.Destination, opts *SocketOptions) (*I2PSocket, error) {
	if peer == nil {
		return nil, fmt.Errorf("connect: nil destination")
	}
	if opts == nil {
		opts = m.cfg.SocketOptions
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	synPayload, err := marshalDestination(m.local)
	if err != nil {
		return nil, &I2PError{Op: "connect", Err: err}
	}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return nil, ErrManagerDestroyed
	}
	id, err := m.allocateIDLocked(m.outSockets)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("connect: %w", err)
	}
	sock := newSocket(m, m.local, peer, id, true, opts, m.log)
	m.outSockets[id] = sock
	m.closedIDs.forget(true, id)
	m.mu.Unlock()

	sock.log.Debug().Str("peer", peer.Base32()).Msg("sending SYN")

	nonce := m.tracker.track(sock)
	defer m.tracker.forget(nonce)

	if err := m.sendPacket(peer, &Packet{Type: PacketSyn, ID: id, Payload: synPayload}, nonce); err != nil {
		m.abortConnect(sock)
		return nil, &I2PError{Op: "send SYN", Err: err}
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	r, err := sock.hs.wait(waitCtx)
	if err != nil {
		m.abortConnect(sock)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		sock.log.Debug().Dur("timeout", opts.ConnectTimeout).Msg("handshake timed out")
		return nil, ErrHandshakeTimeout
	}
	if r.state != handshakeEstablished {
		m.abortConnect(sock)
		sock.log.Debug().Str("handshake", r.state.String()).Msg("connect failed")
		return nil, r.state.err()
	}

	sock.log.Debug().Str("remote", r.remoteID.String()).Msg("connection established")
	return sock, nil
}

// abortConnect releases a socket whose handshake did not complete.
func (m *Manager) abortConnect(sock *I2PSocket) {
	sock.internalClose()
	m.removeSocket(sock)
}

// allocateIDLocked picks a random ID not live in sockets. Must be called
// with m.mu held, and the ID inserted before it is released.
func (m *Manager) allocateIDLocked(sockets map[ConnID]*I2PSocket) (ConnID, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id, err := randomConnID()
		if err != nil {
			return ConnID{}, err
		}
		if _, taken := sockets[id]; !taken {
			return id, nil
		}
	}
	return ConnID{}, errIDSpaceExhausted
}

// ServerSocket returns the manager's server socket, creating it on first
// use. Until it exists every inbound SYN is refused.
func (m *Manager) ServerSocket() *ServerSocket {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.serverSocket == nil {
		m.serverSocket = newServerSocket(m)
		m.log.Debug().Msg("server socket created")
	}
	return m.serverSocket
}

// activeServerSocket returns the server socket if it exists and is open.
func (m *Manager) activeServerSocket() *ServerSocket {
	m.mu.Lock()
	ss := m.serverSocket
	m.mu.Unlock()
	if ss == nil || ss.IsClosed() {
		return nil
	}
	return ss
}

// sendPacket is the single path by which packets reach the session.
func (m *Manager) sendPacket(dest *go_i2cp.Destination, pkt *Packet, nonce uint32) error {
	if err := m.session.SendMessage(dest, pkt.Marshal(), nonce); err != nil {
		return err
	}
	m.counters.messagesSent.Add(1)
	m.log.Trace().
		Stringer("type", pkt.Type).
		Str("conn", pkt.ID.String()).
		Int("payloadLen", len(pkt.Payload)).
		Msg("sent packet")
	return nil
}

// lookup returns the live socket for id in the map picked by outgoing.
func (m *Manager) lookup(outgoing bool, id ConnID) *I2PSocket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.socketsLocked(outgoing)[id]
}

func (m *Manager) socketsLocked(outgoing bool) map[ConnID]*I2PSocket {
	if outgoing {
		return m.outSockets
	}
	return m.inSockets
}

// removeSocket drops sock from its map. Removing a socket that is no
// longer registered is a no-op.
func (m *Manager) removeSocket(sock *I2PSocket) {
	m.mu.Lock()
	sockets := m.socketsLocked(sock.outgoing)
	if cur, ok := sockets[sock.localID]; !ok || cur != sock {
		m.mu.Unlock()
		return
	}
	delete(sockets, sock.localID)
	m.closedIDs.add(sock.outgoing, sock.localID)
	m.drained.Broadcast()
	m.mu.Unlock()

	if !sock.outgoing {
		m.limiter.Release()
	}
	sock.log.Debug().Msg("socket removed")
}

// ListSockets returns a snapshot of every live socket.
func (m *Manager) ListSockets() []*I2PSocket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() []*I2PSocket {
	out := make([]*I2PSocket, 0, len(m.outSockets)+len(m.inSockets))
	for _, s := range m.outSockets {
		out = append(out, s)
	}
	for _, s := range m.inSockets {
		out = append(out, s)
	}
	return out
}

// Destroy closes every socket, waits for them to finish closing, and then
// closes the session. Calling it again is a no-op.
func (m *Manager) Destroy() error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return nil
	}
	m.destroyed = true
	ss := m.serverSocket
	sockets := m.snapshotLocked()
	m.mu.Unlock()

	m.log.Info().Int("sockets", len(sockets)).Msg("destroying socket manager")

	if ss != nil {
		ss.Close()
	}
	for _, s := range sockets {
		s.Close()
	}

	if !m.waitDrained(m.cfg.DestroyTimeout) {
		leftover := m.ListSockets()
		m.log.Warn().Int("sockets", len(leftover)).Msg("sockets did not finish closing, purging")
		for _, s := range leftover {
			s.internalClose()
			m.removeSocket(s)
		}
	}
	m.synWG.Wait()

	if err := m.session.Close(); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	m.log.Info().Msg("socket manager destroyed")
	return nil
}

// waitDrained blocks until both maps are empty or timeout passes.
func (m *Manager) waitDrained(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		m.mu.Lock()
		m.drained.Broadcast()
		m.mu.Unlock()
	})
	defer timer.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.outSockets)+len(m.inSockets) > 0 {
		if !time.Now().Before(deadline) {
			return false
		}
		m.drained.Wait()
	}
	return true
}

// AddDisconnectListener registers l to be notified when the session is
// lost.
func (m *Manager) AddDisconnectListener(l DisconnectListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// RemoveDisconnectListener unregisters l.
func (m *Manager) RemoveDisconnectListener(l DisconnectListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.listeners {
		if cur == l {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

// Disconnected is called by the session when it is lost. Each registered
// listener is notified once and the list is cleared.
func (m *Manager) Disconnected() {
	m.mu.Lock()
	listeners := m.listeners
	m.listeners = nil
	m.mu.Unlock()

	m.log.Warn().Int("listeners", len(listeners)).Msg("session disconnected")
	for _, l := range listeners {
		l.SessionDisconnected()
	}
}

// MessageStatus is called by the session with the transport's report for
// a tracked message.
func (m *Manager) MessageStatus(nonce uint32, delivered bool) {
	m.tracker.handleStatus(nonce, delivered)
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	return m.counters.snapshot(m.tracker.stats())
}

// RecentUnknownPackets returns a text trail of the latest packets the
// manager could not interpret.
func (m *Manager) RecentUnknownPackets() string {
	return m.journal.String()
}

// SetAccessList replaces the access list applied to inbound SYNs.
func (m *Manager) SetAccessList(cfg *AccessListConfig) {
	m.access.SetConfig(cfg)
}

// ActiveIncoming returns the number of accepted sockets counted against
// the connection limits.
func (m *Manager) ActiveIncoming() int {
	return m.limiter.ActiveStreams()
}
