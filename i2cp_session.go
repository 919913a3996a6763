package ministreaming

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	go_i2cp "github.com/go-i2p/go-i2cp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultI2CPHost = "127.0.0.1"
	DefaultI2CPPort = "7654"

	// ProtocolStreaming is the I2CP protocol number sockets travel under.
	ProtocolStreaming uint8 = 6

	defaultSessionTimeout = 60 * time.Second
)

// I2CPSessionConfig configures a router-backed session.
type I2CPSessionConfig struct {
	Host string
	Port string

	// Protocol is the I2CP protocol number used for sends and accepted on
	// receive.
	Protocol uint8

	// Nickname names the session's tunnels in the router console.
	Nickname string

	// Properties with an "i2cp." prefix are passed to the I2CP client,
	// e.g. i2cp.username, i2cp.password, i2cp.SSL.
	Properties map[string]string

	// SessionTimeout bounds the wait for the router to confirm the session.
	SessionTimeout time.Duration
}

// DefaultI2CPSessionConfig returns a config for a local router.
func DefaultI2CPSessionConfig() *I2CPSessionConfig {
	return &I2CPSessionConfig{
		Host:           DefaultI2CPHost,
		Port:           DefaultI2CPPort,
		Protocol:       ProtocolStreaming,
		Nickname:       "ministreaming",
		SessionTimeout: defaultSessionTimeout,
	}
}

// I2CPSession is a MessageSession on an I2P router reached over I2CP.
type I2CPSession struct {
	client   *go_i2cp.Client
	session  *go_i2cp.Session
	protocol uint8
	log      zerolog.Logger

	statusCh chan go_i2cp.SessionStatus

	mu       sync.RWMutex
	listener SessionListener
	closed   bool

	ioCancel  context.CancelFunc
	closeOnce sync.Once
}

var _ MessageSession = (*I2CPSession)(nil)

// NewI2CPSession connects to the router, creates a session with a fresh
// destination and waits for the router to confirm it.
func NewI2CPSession(ctx context.Context, cfg *I2CPSessionConfig) (*I2CPSession, error) {
	if cfg == nil {
		cfg = DefaultI2CPSessionConfig()
	}
	s := &I2CPSession{
		protocol: cfg.Protocol,
		log:      log.With().Str("router", cfg.Host+":"+cfg.Port).Logger(),
		statusCh: make(chan go_i2cp.SessionStatus, 4),
	}

	s.client = go_i2cp.NewClient(&go_i2cp.ClientCallBacks{
		OnDisconnect: s.handleDisconnect,
	})
	s.client.SetProperty("i2cp.tcp.host", cfg.Host)
	s.client.SetProperty("i2cp.tcp.port", cfg.Port)
	for k, v := range cfg.Properties {
		if strings.HasPrefix(k, "i2cp.") {
			s.client.SetProperty(k, v)
		}
	}

	s.log.Info().Msg("connecting to I2P router")
	if err := s.client.Connect(ctx); err != nil {
		return nil, &I2PError{Op: "connect to router", Err: err}
	}

	// ProcessIO must run before CreateSession so the SessionCreated reply
	// can be received.
	ioCtx, cancel := context.WithCancel(context.Background())
	s.ioCancel = cancel
	go s.processIO(ioCtx)

	s.session = go_i2cp.NewSession(s.client, go_i2cp.SessionCallbacks{
		OnMessage:       s.handleMessage,
		OnStatus:        s.handleStatus,
		OnMessageStatus: s.handleMessageStatus,
	})
	s.session.Config().SetProperty(go_i2cp.SESSION_CONFIG_PROP_I2CP_FAST_RECEIVE, "true")
	if cfg.Nickname != "" {
		s.session.Config().SetProperty(go_i2cp.SESSION_CONFIG_PROP_OUTBOUND_NICKNAME, cfg.Nickname)
	}

	if err := s.client.CreateSession(ctx, s.session); err != nil {
		s.shutdown()
		return nil, &I2PError{Op: "create session", Err: err}
	}
	if err := s.awaitCreated(ctx, cfg.SessionTimeout); err != nil {
		s.shutdown()
		return nil, err
	}

	s.log.Info().Str("destination", s.session.Destination().Base32()).Msg("I2CP session ready")
	return s, nil
}

func (s *I2CPSession) awaitCreated(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultSessionTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case status := <-s.statusCh:
			switch status {
			case go_i2cp.I2CP_SESSION_STATUS_CREATED:
				return nil
			case go_i2cp.I2CP_SESSION_STATUS_REFUSED:
				return &I2PError{Op: "create session", Err: errors.New("refused by router")}
			case go_i2cp.I2CP_SESSION_STATUS_DESTROYED, go_i2cp.I2CP_SESSION_STATUS_INVALID:
				return &I2PError{Op: "create session", Err: fmt.Errorf("router reported status %d", int(status))}
			}
		case <-timer.C:
			return &I2PError{Op: "create session", Err: errors.New("router did not confirm session")}
		case <-ctx.Done():
			return &I2PError{Op: "create session", Err: ctx.Err()}
		}
	}
}

func (s *I2CPSession) processIO(ctx context.Context) {
	for ctx.Err() == nil {
		if err := s.client.ProcessIO(ctx); err != nil {
			if errors.Is(err, go_i2cp.ErrClientClosed) || ctx.Err() != nil {
				return
			}
			s.log.Error().Err(err).Msg("I/O processing error")
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// Destination returns the destination the router assigned.
func (s *I2CPSession) Destination() *go_i2cp.Destination {
	return s.session.Destination()
}

// SendMessage sends payload to dest under the configured protocol.
func (s *I2CPSession) SendMessage(dest *go_i2cp.Destination, payload []byte, nonce uint32) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrSessionClosed
	}
	return s.session.SendMessage(dest, s.protocol, 0, 0, go_i2cp.NewStream(payload), nonce)
}

// SetListener registers the receiver of inbound events.
func (s *I2CPSession) SetListener(l SessionListener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

func (s *I2CPSession) getListener() SessionListener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listener
}

// Close destroys the session and disconnects from the router.
func (s *I2CPSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	var err error
	s.closeOnce.Do(func() {
		if cerr := s.session.Close(); cerr != nil {
			err = fmt.Errorf("close I2CP session: %w", cerr)
		}
		s.shutdown()
	})
	return err
}

func (s *I2CPSession) shutdown() {
	if s.ioCancel != nil {
		s.ioCancel()
	}
	s.client.Close()
}

func (s *I2CPSession) handleMessage(
	_ *go_i2cp.Session,
	srcDest *go_i2cp.Destination,
	protocol uint8,
	srcPort, destPort uint16,
	payload *go_i2cp.Stream,
) {
	if protocol != s.protocol {
		s.log.Debug().Uint8("protocol", protocol).Msg("ignoring message for other protocol")
		return
	}
	if l := s.getListener(); l != nil {
		l.MessageAvailable(payload.Bytes())
	}
}

func (s *I2CPSession) handleStatus(_ *go_i2cp.Session, status go_i2cp.SessionStatus) {
	s.log.Debug().Int("status", int(status)).Msg("I2CP session status")

	select {
	case s.statusCh <- status:
	default:
	}

	if status == go_i2cp.I2CP_SESSION_STATUS_DESTROYED {
		s.notifyDisconnected("session destroyed by router")
	}
}

func (s *I2CPSession) handleMessageStatus(
	_ *go_i2cp.Session,
	messageID uint32,
	status go_i2cp.SessionMessageStatus,
	size, nonce uint32,
) {
	var delivered bool
	switch {
	case go_i2cp.IsMessageStatusSuccess(status):
		delivered = true
	case go_i2cp.IsMessageStatusFailure(status):
		delivered = false
	default:
		// accepted by the router, final report follows
		return
	}
	s.log.Trace().
		Uint32("messageId", messageID).
		Uint32("nonce", nonce).
		Str("status", go_i2cp.GetMessageStatusCategory(status)).
		Msg("message status")
	if l := s.getListener(); l != nil {
		l.MessageStatus(nonce, delivered)
	}
}

func (s *I2CPSession) handleDisconnect(_ *go_i2cp.Client, reason string, _ *interface{}) {
	s.notifyDisconnected(reason)
}

func (s *I2CPSession) notifyDisconnected(reason string) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}
	s.log.Warn().Str("reason", reason).Msg("lost I2CP session")
	if l := s.getListener(); l != nil {
		l.Disconnected()
	}
}
