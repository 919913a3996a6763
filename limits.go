package ministreaming

import (
	"fmt"
	"sync"
	"time"

	go_i2cp "github.com/go-i2p/go-i2cp"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// peerLimiterCacheSize bounds how many peers keep a rate limiter.
const peerLimiterCacheSize = 1024

// ConnectionLimitsConfig configures limits on inbound connections.
// All limit values of 0 mean disabled (unlimited).
type ConnectionLimitsConfig struct {
	// MaxConcurrentStreams caps the number of live incoming sockets.
	// 0 or negative means unlimited.
	MaxConcurrentStreams int

	// MaxConnsPerMinute caps SYNs accepted from a single peer per minute.
	MaxConnsPerMinute int

	// MaxTotalConnsPerMinute caps SYNs accepted from all peers per minute.
	MaxTotalConnsPerMinute int

	// DisableRejectLogging disables log warnings when SYNs are refused
	DisableRejectLogging bool
}

// DefaultConnectionLimitsConfig returns the default (unlimited) configuration.
func DefaultConnectionLimitsConfig() *ConnectionLimitsConfig {
	return &ConnectionLimitsConfig{
		MaxConcurrentStreams: -1,
	}
}

// connectionLimiter enforces ConnectionLimitsConfig for inbound SYNs.
type connectionLimiter struct {
	mu     sync.Mutex
	config *ConnectionLimitsConfig
	log    zerolog.Logger

	active int
	total  *rate.Limiter
	peers  *lru.Cache[string, *rate.Limiter]
}

func newConnectionLimiter(config *ConnectionLimitsConfig, logger zerolog.Logger) *connectionLimiter {
	if config == nil {
		config = DefaultConnectionLimitsConfig()
	}
	// only errors on a non-positive size
	peers, _ := lru.New[string, *rate.Limiter](peerLimiterCacheSize)
	return &connectionLimiter{
		config: config,
		log:    logger,
		total:  perMinuteLimiter(config.MaxTotalConnsPerMinute),
		peers:  peers,
	}
}

// perMinuteLimiter returns nil for a disabled limit.
func perMinuteLimiter(n int) *rate.Limiter {
	if n <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
}

// ActiveStreams returns the number of admitted, still open sockets.
func (cl *connectionLimiter) ActiveStreams() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.active
}

// Admit checks a SYN from peer against every limit and records it when it
// passes. Every admitted SYN must be paired with a Release.
func (cl *connectionLimiter) Admit(peer *go_i2cp.Destination) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	err := cl.admitLocked(peer)
	if err != nil {
		if !cl.config.DisableRejectLogging {
			cl.log.Warn().
				Err(err).
				Str("peer", shortHash(DestinationHash(peer))).
				Msg("incoming connection rejected due to connection limits")
		}
		return err
	}
	cl.active++
	cl.log.Debug().Int("activeStreams", cl.active).Msg("connection admitted")
	return nil
}

// Must be called with cl.mu held.
func (cl *connectionLimiter) admitLocked(peer *go_i2cp.Destination) error {
	if limit := cl.config.MaxConcurrentStreams; limit > 0 && cl.active >= limit {
		return fmt.Errorf("max concurrent streams limit exceeded (%d)", limit)
	}

	var peerLimiter *rate.Limiter
	if cl.config.MaxConnsPerMinute > 0 {
		key := DestinationHash(peer)
		var ok bool
		if peerLimiter, ok = cl.peers.Get(key); !ok {
			peerLimiter = perMinuteLimiter(cl.config.MaxConnsPerMinute)
			cl.peers.Add(key, peerLimiter)
		}
		// check without consuming so a total-limit refusal does not
		// charge the peer
		if peerLimiter.Tokens() < 1 {
			return fmt.Errorf("connections per minute from peer exceeded (%d)", cl.config.MaxConnsPerMinute)
		}
	}
	if cl.total != nil && !cl.total.Allow() {
		return fmt.Errorf("total connections per minute limit exceeded (%d)", cl.config.MaxTotalConnsPerMinute)
	}
	if peerLimiter != nil && !peerLimiter.Allow() {
		return fmt.Errorf("connections per minute from peer exceeded (%d)", cl.config.MaxConnsPerMinute)
	}
	return nil
}

// Release returns a slot taken by Admit.
func (cl *connectionLimiter) Release() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.active > 0 {
		cl.active--
	}
}
